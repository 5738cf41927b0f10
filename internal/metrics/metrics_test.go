package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-client/internal/metrics"
)

func TestPushMetrics(t *testing.T) {
	t.Run("Records outcomes, errors and tokens", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m, err := metrics.NewPushMetrics(reg)
		require.NoError(t, err)

		m.RecordOutcome("delivered", 120*time.Millisecond)
		m.RecordOutcome("delivered", 80*time.Millisecond)
		m.RecordOutcome("invalid_token", 50*time.Millisecond)
		m.RecordError(metrics.KindTransport)
		m.RecordTokenIssued()

		assert.Equal(t, 2.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("delivered")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("invalid_token")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(metrics.KindTransport)))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensIssued))
		assert.Equal(t, 1, testutil.CollectAndCount(m.SendDuration))
	})

	t.Run("Double registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := metrics.NewPushMetrics(reg)
		require.NoError(t, err)

		_, err = metrics.NewPushMetrics(reg)
		assert.Error(t, err)
	})

	t.Run("Nil metrics are a no-op", func(t *testing.T) {
		var m *metrics.PushMetrics
		assert.NotPanics(t, func() {
			m.RecordOutcome("delivered", time.Second)
			m.RecordError(metrics.KindCrypto)
			m.RecordTokenIssued()
		})
	})
}
