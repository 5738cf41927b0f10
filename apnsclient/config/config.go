package config

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-apns-client/pkg/push"
)

// DefaultTimeout bounds a single Send when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// identifierLength is the length of both the key ID and the team ID issued
// by the Apple developer portal.
const identifierLength = 10

// CacheMode selects how provider tokens are reused.
type CacheMode string

const (
	// CacheNone signs a fresh token for every Send.
	CacheNone CacheMode = "none"
	// CacheMemory reuses a token within the process.
	CacheMemory CacheMode = "memory"
	// CacheRedis shares a token between processes through Redis.
	CacheRedis CacheMode = "redis"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type TokenCacheConfig struct {
	Mode  CacheMode
	TTL   time.Duration
	Redis RedisConfig
}

// Config defines the *single*, authoritative configuration.
// It is read-only once UpdateConfigWithEnvOverrides has returned it.
type Config struct {
	BaseURL string
	Sandbox bool
	Topic   string
	Timeout time.Duration

	KeyID   string
	TeamID  string
	KeyFile string
	// KeyPEM holds inline key material and takes precedence over KeyFile.
	KeyPEM []byte
	// AuthKey is the parsed signing key, set during validation.
	AuthKey *ecdsa.PrivateKey

	TokenCache TokenCacheConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
// Every problem is reported as a *push.ConfigError before any network activity.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("APNS_BASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_BASE_URL", "source", "env")
		cfg.BaseURL = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, err := strconv.ParseBool(val)
		if err != nil {
			return nil, &push.ConfigError{Field: "sandbox", Err: err}
		}
		logger.Debug("Overriding config value", "key", "APNS_SANDBOX", "source", "env")
		cfg.Sandbox = sandbox
	}
	if val := os.Getenv("APNS_KEY_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_FILE", "source", "env")
		cfg.KeyFile = val
	}
	if val := os.Getenv("APNS_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY", "source", "env")
		cfg.KeyPEM = []byte(val)
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_ID", "source", "env")
		cfg.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TEAM_ID", "source", "env")
		cfg.TeamID = val
	}
	if val := os.Getenv("APNS_TOPIC"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TOPIC", "source", "env")
		cfg.Topic = val
	}
	if val := os.Getenv("APNS_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return nil, &push.ConfigError{Field: "timeout", Err: err}
		}
		logger.Debug("Overriding config value", "key", "APNS_TIMEOUT", "source", "env")
		cfg.Timeout = timeout
	}

	// Token cache overrides
	if val := os.Getenv("APNS_TOKEN_CACHE"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TOKEN_CACHE", "source", "env")
		cfg.TokenCache.Mode = CacheMode(val)
	}
	if val := os.Getenv("APNS_TOKEN_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return nil, &push.ConfigError{Field: "token_cache.ttl", Err: err}
		}
		cfg.TokenCache.TTL = ttl
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.TokenCache.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.TokenCache.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.TokenCache.Redis.DB = db
		}
	}

	// 2. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully",
		"base_url", cfg.BaseURL,
		"topic", cfg.Topic,
		"key_id", cfg.KeyID,
		"token_cache", cfg.TokenCache.Mode,
	)
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Topic == "" {
		return &push.ConfigError{Field: "topic", Err: fmt.Errorf("is required (set via YAML or APNS_TOPIC env var)")}
	}
	if len(cfg.KeyID) != identifierLength {
		return &push.ConfigError{Field: "key_id", Err: fmt.Errorf("must be %d characters, got %q", identifierLength, cfg.KeyID)}
	}
	if len(cfg.TeamID) != identifierLength {
		return &push.ConfigError{Field: "team_id", Err: fmt.Errorf("must be %d characters, got %q", identifierLength, cfg.TeamID)}
	}

	authKey, err := loadAuthKey(cfg)
	if err != nil {
		return err
	}
	cfg.AuthKey = authKey

	if cfg.BaseURL == "" {
		cfg.BaseURL = apns2.HostProduction
		if cfg.Sandbox {
			cfg.BaseURL = apns2.HostDevelopment
		}
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return &push.ConfigError{Field: "base_url", Err: err}
	}
	if u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return &push.ConfigError{Field: "base_url", Err: fmt.Errorf("%q is not an absolute http(s) URL", cfg.BaseURL)}
	}

	if cfg.Timeout < 0 {
		return &push.ConfigError{Field: "timeout", Err: fmt.Errorf("must not be negative")}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return validateTokenCache(&cfg.TokenCache)
}

func validateTokenCache(tc *TokenCacheConfig) error {
	switch tc.Mode {
	case "":
		tc.Mode = CacheNone
	case CacheNone, CacheMemory:
	case CacheRedis:
		if tc.Redis.Addr == "" {
			return &push.ConfigError{Field: "token_cache.redis.addr", Err: fmt.Errorf("is required when mode is redis")}
		}
	default:
		return &push.ConfigError{Field: "token_cache.mode", Err: fmt.Errorf("unknown mode %q", tc.Mode)}
	}
	if tc.TTL < 0 || tc.TTL >= time.Hour {
		return &push.ConfigError{Field: "token_cache.ttl", Err: fmt.Errorf("%s must be positive and below 1h", tc.TTL)}
	}
	return nil
}

// loadAuthKey parses the PKCS#8 .p8 key from inline PEM or from KeyFile.
func loadAuthKey(cfg *Config) (*ecdsa.PrivateKey, error) {
	raw := cfg.KeyPEM
	if len(raw) == 0 {
		if cfg.KeyFile == "" {
			return nil, &push.ConfigError{Field: "private_key", Err: fmt.Errorf("set key_file or APNS_KEY")}
		}
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, &push.ConfigError{Field: "key_file", Err: err}
		}
		raw = data
	}
	authKey, err := token.AuthKeyFromBytes(raw)
	if err != nil {
		return nil, &push.ConfigError{Field: "private_key", Err: err}
	}
	return authKey, nil
}
