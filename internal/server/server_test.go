package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agentindex/internal/config"
	"github.com/scrypster/agentindex/internal/metrics"
	"github.com/scrypster/agentindex/internal/server"
	"github.com/scrypster/agentindex/pkg/types"
)

type stubStats struct {
	stats *types.DiscoveryStats
	err   error
}

func (s stubStats) Stats(context.Context) (*types.DiscoveryStats, error) { return s.stats, s.err }

// startTestServer starts a server on a random port and registers cleanup.
func startTestServer(t *testing.T, reg *prometheus.Registry, stats server.StatsSource) string {
	t.Helper()

	cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 0}}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addr, err := server.Start(ctx, cfg, reg, stats)
	require.NoError(t, err)
	return "http://" + addr
}

func TestHealthz(t *testing.T) {
	base := startTestServer(t, prometheus.NewRegistry(), stubStats{stats: &types.DiscoveryStats{TotalCached: 7}})

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body struct {
		Status string               `json:"status"`
		Stats  types.DiscoveryStats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 7, body.Stats.TotalCached)
}

func TestHealthz_Unhealthy(t *testing.T) {
	base := startTestServer(t, prometheus.NewRegistry(), stubStats{err: errors.New("database is closed")})

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp2, err := http.Post(base+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetCachedAgents(3)

	base := startTestServer(t, reg, stubStats{stats: &types.DiscoveryStats{}})

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "agentindex_cached_agents 3")
}
