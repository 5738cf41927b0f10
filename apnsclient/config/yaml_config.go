package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-apns-client/pkg/push"
)

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type YamlTokenCacheConfig struct {
	Mode  string          `yaml:"mode"`
	TTL   string          `yaml:"ttl"`
	Redis YamlRedisConfig `yaml:"redis"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	BaseURL    string               `yaml:"base_url"`
	Sandbox    bool                 `yaml:"sandbox"`
	KeyFile    string               `yaml:"key_file"`
	KeyID      string               `yaml:"key_id"`
	TeamID     string               `yaml:"team_id"`
	Topic      string               `yaml:"topic"`
	Timeout    string               `yaml:"timeout"`
	TokenCache YamlTokenCacheConfig `yaml:"token_cache"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Only duration syntax is checked here; the rest waits for the env overrides.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	timeout, err := parseDuration(baseCfg.Timeout)
	if err != nil {
		return nil, &push.ConfigError{Field: "timeout", Err: err}
	}
	ttl, err := parseDuration(baseCfg.TokenCache.TTL)
	if err != nil {
		return nil, &push.ConfigError{Field: "token_cache.ttl", Err: err}
	}

	cfg := &Config{
		BaseURL: baseCfg.BaseURL,
		Sandbox: baseCfg.Sandbox,
		Topic:   baseCfg.Topic,
		Timeout: timeout,
		KeyID:   baseCfg.KeyID,
		TeamID:  baseCfg.TeamID,
		KeyFile: baseCfg.KeyFile,
		TokenCache: TokenCacheConfig{
			Mode: CacheMode(baseCfg.TokenCache.Mode),
			TTL:  ttl,
			Redis: RedisConfig{
				Addr:     baseCfg.TokenCache.Redis.Addr,
				Password: baseCfg.TokenCache.Redis.Password,
				DB:       baseCfg.TokenCache.Redis.DB,
			},
		},
	}

	logger.Debug("YAML config mapping complete",
		"base_url", cfg.BaseURL,
		"topic", cfg.Topic,
		"token_cache", cfg.TokenCache.Mode,
	)

	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
