package apnsclient_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-apns-client/apnsclient"
	"github.com/tinywideclouds/go-apns-client/apnsclient/config"
	"github.com/tinywideclouds/go-apns-client/internal/testkeys"
	"github.com/tinywideclouds/go-apns-client/pkg/dispatch"
	"github.com/tinywideclouds/go-apns-client/pkg/push"
)

const (
	stubURL  = "https://apns.test"
	endpoint = stubURL + "/3/device/abc123"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConfig(t *testing.T, mode config.CacheMode) *config.Config {
	t.Helper()
	key, _ := testkeys.P8(t)
	return &config.Config{
		BaseURL: stubURL,
		Topic:   testkeys.Topic,
		Timeout: 5 * time.Second,
		KeyID:   testkeys.KeyID,
		TeamID:  testkeys.TeamID,
		AuthKey: key,
		TokenCache: config.TokenCacheConfig{
			Mode: mode,
		},
	}
}

// memoryStore is an in-process BearerStore.
type memoryStore struct {
	mu    sync.Mutex
	tok   dispatch.Token
	saves int
}

func (s *memoryStore) Load(context.Context) (dispatch.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok, s.tok.Bearer != "", nil
}

func (s *memoryStore) Save(_ context.Context, tok dispatch.Token, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = tok
	s.saves++
	return nil
}

func (s *memoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = dispatch.Token{}
	return nil
}

// counterValue reads a counter from reg. label is the value of the single
// label, or empty for unlabelled counters.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			value := ""
			if len(m.GetLabel()) > 0 {
				value = m.GetLabel()[0].GetValue()
			}
			if value == label {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestClient_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("Outcomes and errors are recorded", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		statuses := []int{http.StatusOK, http.StatusGone, http.StatusTooManyRequests}
		call := 0
		transport.RegisterResponder(http.MethodPost, endpoint, func(*http.Request) (*http.Response, error) {
			status := statuses[call]
			call++
			return httpmock.NewStringResponse(status, `{"reason":"TooManyRequests"}`), nil
		})
		reg := prometheus.NewRegistry()

		client, err := apnsclient.New(newTestConfig(t, config.CacheNone), newTestLogger(),
			apnsclient.WithTransport(transport), apnsclient.WithMetrics(reg))
		require.NoError(t, err)
		defer client.Close()

		result, err := client.Send(ctx, "abc123", "Hello", push.Badge(1), nil)
		require.NoError(t, err)
		assert.Equal(t, push.OutcomeDelivered, result.Outcome)

		result, err = client.Send(ctx, "abc123", "Hello", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, push.OutcomeInvalidToken, result.Outcome)

		result, err = client.Send(ctx, "abc123", "Hello", nil, nil)
		var deliveryErr *push.DeliveryError
		require.True(t, errors.As(err, &deliveryErr))
		assert.Equal(t, push.OutcomeFailed, result.Outcome)

		_, err = client.Send(ctx, "", "Hello", nil, nil)
		assert.ErrorIs(t, err, push.ErrMissingDeviceToken)

		assert.Equal(t, 3, transport.GetTotalCallCount())
		observed, err := testutil.GatherAndCount(reg, "apns_push_duration_seconds")
		require.NoError(t, err)
		assert.Equal(t, 1, observed)

		assert.Equal(t, 1.0, counterValue(t, reg, "apns_push_outcomes_total", "delivered"))
		assert.Equal(t, 1.0, counterValue(t, reg, "apns_push_outcomes_total", "invalid_token"))
		assert.Equal(t, 1.0, counterValue(t, reg, "apns_push_outcomes_total", "failed"))
		assert.Equal(t, 1.0, counterValue(t, reg, "apns_push_errors_total", "delivery"))
		assert.Equal(t, 1.0, counterValue(t, reg, "apns_push_errors_total", "validation"))
		assert.Equal(t, 3.0, counterValue(t, reg, "apns_token_issued_total", ""), "one signature per send without a cache")
	})

	t.Run("Transport failures are recorded", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(errors.New("connection reset")))
		reg := prometheus.NewRegistry()

		client, err := apnsclient.New(newTestConfig(t, config.CacheNone), newTestLogger(),
			apnsclient.WithTransport(transport), apnsclient.WithMetrics(reg))
		require.NoError(t, err)

		result, err := client.Send(ctx, "abc123", "Hello", nil, nil)

		assert.Nil(t, result)
		var transportErr *push.TransportError
		assert.True(t, errors.As(err, &transportErr))
		assert.Equal(t, 1.0, counterValue(t, reg, "apns_push_errors_total", "transport"))
	})

	t.Run("Works without metrics", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusOK, ""))

		client, err := apnsclient.New(newTestConfig(t, config.CacheNone), newTestLogger(), apnsclient.WithTransport(transport))
		require.NoError(t, err)

		result, err := client.Send(ctx, "abc123", "Hello", nil, map[string]any{"custom": "x"})
		require.NoError(t, err)
		assert.True(t, result.Delivered())
	})
}

func TestClient_TokenCaching(t *testing.T) {
	ctx := context.Background()

	bearers := func(transport *httpmock.MockTransport) *[]string {
		var seen []string
		transport.RegisterResponder(http.MethodPost, endpoint, func(req *http.Request) (*http.Response, error) {
			seen = append(seen, req.Header.Get("authorization"))
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})
		return &seen
	}

	t.Run("Memory cache reuses one token", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		seen := bearers(transport)
		reg := prometheus.NewRegistry()

		client, err := apnsclient.New(newTestConfig(t, config.CacheMemory), newTestLogger(),
			apnsclient.WithTransport(transport), apnsclient.WithMetrics(reg))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err := client.Send(ctx, "abc123", "Hello", nil, nil)
			require.NoError(t, err)
		}

		require.Len(t, *seen, 3)
		assert.Equal(t, (*seen)[0], (*seen)[2])
		assert.Equal(t, 1.0, counterValue(t, reg, "apns_token_issued_total", ""))
	})

	t.Run("Bearer store is shared", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		seen := bearers(transport)
		store := &memoryStore{}

		first, err := apnsclient.New(newTestConfig(t, config.CacheRedis), newTestLogger(),
			apnsclient.WithTransport(transport), apnsclient.WithBearerStore(store))
		require.NoError(t, err)
		second, err := apnsclient.New(newTestConfig(t, config.CacheRedis), newTestLogger(),
			apnsclient.WithTransport(transport), apnsclient.WithBearerStore(store))
		require.NoError(t, err)

		_, err = first.Send(ctx, "abc123", "Hello", nil, nil)
		require.NoError(t, err)
		_, err = second.Send(ctx, "abc123", "Hello", nil, nil)
		require.NoError(t, err)

		require.Len(t, *seen, 2)
		assert.Equal(t, (*seen)[0], (*seen)[1], "second client must reuse the stored token")
		assert.Equal(t, 1, store.saves)
	})

	t.Run("Rejected provider token is dropped", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder(http.MethodPost, endpoint,
			httpmock.NewStringResponder(http.StatusForbidden, `{"reason":"ExpiredProviderToken"}`))
		store := &memoryStore{}

		client, err := apnsclient.New(newTestConfig(t, config.CacheMemory), newTestLogger(),
			apnsclient.WithTransport(transport), apnsclient.WithBearerStore(store))
		require.NoError(t, err)

		_, err = client.Send(ctx, "abc123", "Hello", nil, nil)

		var deliveryErr *push.DeliveryError
		require.True(t, errors.As(err, &deliveryErr))
		_, ok, _ := store.Load(ctx)
		assert.False(t, ok)
	})
}

func TestNew_Errors(t *testing.T) {
	t.Run("Nil config", func(t *testing.T) {
		_, err := apnsclient.New(nil, newTestLogger())
		assert.Error(t, err)
	})

	t.Run("Unvalidated config", func(t *testing.T) {
		cfg := newTestConfig(t, config.CacheNone)
		cfg.AuthKey = nil

		_, err := apnsclient.New(cfg, newTestLogger())
		var cfgErr *push.ConfigError
		assert.True(t, errors.As(err, &cfgErr))
	})

	t.Run("Unreachable Redis fails at startup", func(t *testing.T) {
		cfg := newTestConfig(t, config.CacheRedis)
		cfg.TokenCache.Redis.Addr = "127.0.0.1:1"

		_, err := apnsclient.New(cfg, newTestLogger())
		assert.Error(t, err)
	})

	t.Run("Metrics registered twice", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := apnsclient.New(newTestConfig(t, config.CacheNone), newTestLogger(), apnsclient.WithMetrics(reg))
		require.NoError(t, err)

		_, err = apnsclient.New(newTestConfig(t, config.CacheNone), newTestLogger(), apnsclient.WithMetrics(reg))
		assert.Error(t, err)
	})
}
