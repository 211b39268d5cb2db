package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAuth("ok", time.Millisecond)
		m.CacheResult(CacheHit)
		m.ObserveFetch(FetchOK, time.Millisecond)
	})
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAuth("ok", time.Millisecond)
	m.ObserveAuth("ok", time.Millisecond)
	m.ObserveAuth("key_not_found", time.Millisecond)
	m.CacheResult(CacheHit)
	m.ObserveFetch(FetchError, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthRequests.WithLabelValues("key_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JWKSCache.WithLabelValues(CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JWKSFetches.WithLabelValues(FetchError)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
