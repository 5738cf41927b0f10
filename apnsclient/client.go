// Package apnsclient sends alert notifications to Apple devices through the
// APNs HTTP/2 provider API using token-based authentication.
package apnsclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinywideclouds/go-apns-client/apnsclient/config"
	"github.com/tinywideclouds/go-apns-client/internal/auth"
	"github.com/tinywideclouds/go-apns-client/internal/metrics"
	"github.com/tinywideclouds/go-apns-client/internal/platform/apns"
	"github.com/tinywideclouds/go-apns-client/internal/storage/cache"
	"github.com/tinywideclouds/go-apns-client/pkg/dispatch"
	"github.com/tinywideclouds/go-apns-client/pkg/push"
)

// BearerStore shares provider tokens between processes.
type BearerStore = auth.BearerStore

type options struct {
	transport   http.RoundTripper
	tlsConfig   *tls.Config
	registerer  prometheus.Registerer
	bearerStore BearerStore
}

// Option configures a Client.
type Option func(*options)

// WithTransport sends through rt instead of a fresh HTTP/2 transport per call.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithTLSConfig sets the TLS configuration of the per-call transport.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(o *options) { o.tlsConfig = tlsConfig }
}

// WithMetrics registers delivery metrics on registry.
func WithMetrics(registry prometheus.Registerer) Option {
	return func(o *options) { o.registerer = registry }
}

// WithBearerStore caches provider tokens in store instead of Redis.
// Supplying a store enables token caching whatever the configured mode.
func WithBearerStore(store BearerStore) Option {
	return func(o *options) { o.bearerStore = store }
}

// Client is the entry point for sending notifications.
// It is safe for concurrent use.
type Client struct {
	dispatcher *apns.Dispatcher
	metrics    *metrics.PushMetrics
	redis      *cache.RedisClient
	logger     *slog.Logger
}

var _ dispatch.Sender = (*Client)(nil)

// New assembles a client from a validated configuration, as returned by
// config.UpdateConfigWithEnvOverrides.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("apnsclient: config is required")
	}
	if cfg.AuthKey == nil {
		return nil, &push.ConfigError{Field: "private_key", Err: errors.New("config has not been validated")}
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{logger: logger.With("component", "APNSClient")}

	// 1. Metrics
	if o.registerer != nil {
		m, err := metrics.NewPushMetrics(o.registerer)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}

	// 2. Token issuer (Decorated)
	signer, err := auth.NewIssuer(cfg.AuthKey, cfg.KeyID, cfg.TeamID, logger)
	if err != nil {
		return nil, err
	}
	var issuer dispatch.TokenIssuer = &countingIssuer{next: signer, metrics: c.metrics}

	issuer, err = c.cachingIssuer(cfg, o, issuer, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	// 3. Dispatcher
	var dispatcherOpts []apns.Option
	if o.transport != nil {
		dispatcherOpts = append(dispatcherOpts, apns.WithTransport(o.transport))
	}
	c.dispatcher, err = apns.NewDispatcher(apns.Config{
		BaseURL:   cfg.BaseURL,
		Topic:     cfg.Topic,
		Timeout:   cfg.Timeout,
		TLSConfig: o.tlsConfig,
	}, issuer, logger, dispatcherOpts...)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.logger.Info("APNs client ready", "base_url", cfg.BaseURL, "topic", cfg.Topic, "token_cache", cfg.TokenCache.Mode)
	return c, nil
}

func (c *Client) cachingIssuer(cfg *config.Config, o *options, issuer dispatch.TokenIssuer, logger *slog.Logger) (dispatch.TokenIssuer, error) {
	store := o.bearerStore
	if store == nil {
		switch cfg.TokenCache.Mode {
		case config.CacheMemory:
		case config.CacheRedis:
			redisCfg := cfg.TokenCache.Redis
			c.logger.Info("Connecting token cache to Redis", "addr", redisCfg.Addr)
			rc, err := cache.NewRedisClient(context.Background(), redisCfg.Addr, redisCfg.Password, redisCfg.DB)
			if err != nil {
				return nil, fmt.Errorf("failed to connect token cache: %w", err)
			}
			c.redis = rc
			store = cache.NewBearerStore(rc, cfg.TeamID, cfg.KeyID)
		default:
			return issuer, nil
		}
	}
	return auth.NewCachingIssuer(issuer, store, cfg.TokenCache.TTL, logger)
}

// Send delivers one alert to one device. See apns.Dispatcher.Send for the
// outcome and error contract.
func (c *Client) Send(
	ctx context.Context,
	deviceToken, message string,
	badge *int,
	extra map[string]any,
) (*push.Result, error) {
	start := time.Now()
	result, err := c.dispatcher.Send(ctx, deviceToken, message, badge, extra)
	if result != nil {
		c.metrics.RecordOutcome(result.Outcome.String(), time.Since(start))
	}
	if err != nil {
		c.metrics.RecordError(errorKind(err))
	}
	return result, err
}

// Close releases the Redis connection, if any. The client must not be used afterwards.
func (c *Client) Close() error {
	if c.redis == nil {
		return nil
	}
	err := c.redis.Close()
	c.redis = nil
	return err
}

func errorKind(err error) string {
	var (
		deliveryErr  *push.DeliveryError
		transportErr *push.TransportError
		cryptoErr    *push.CryptoError
	)
	switch {
	case errors.As(err, &deliveryErr):
		return metrics.KindDelivery
	case errors.As(err, &transportErr):
		return metrics.KindTransport
	case errors.As(err, &cryptoErr):
		return metrics.KindCrypto
	default:
		return metrics.KindValidation
	}
}

// countingIssuer counts signed tokens. It sits below the cache so only
// real signatures are counted.
type countingIssuer struct {
	next    dispatch.TokenIssuer
	metrics *metrics.PushMetrics
}

func (i *countingIssuer) Issue(ctx context.Context) (dispatch.Token, error) {
	tok, err := i.next.Issue(ctx)
	if err == nil {
		i.metrics.RecordTokenIssued()
	}
	return tok, err
}
