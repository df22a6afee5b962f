package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRPC("eth_call", "ok", time.Millisecond)
		m.IncrementMetadataFetch("http", "ok")
		m.ObserveScan("range", 1, 1, 0, 0, time.Second)
		m.AddSimilarityMatches(2)
		m.SetCachedAgents(3)
		m.SetBreakerState("rpc", "open")
	})
}

func TestObserveScan(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveScan("range", 2, 2, 0, 1, 150*time.Millisecond)
	m.ObserveScan("range", 3, 0, 3, 0, 50*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("range")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ScanEntities.WithLabelValues("range", "found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScanEntities.WithLabelValues("range", "new")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ScanEntities.WithLabelValues("range", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScanEntities.WithLabelValues("range", "error")))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}

func TestSetBreakerState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetBreakerState("rpc", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("rpc", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("rpc", "closed")))

	m.SetBreakerState("rpc", "half-open")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("rpc", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("rpc", "half-open")))
}
