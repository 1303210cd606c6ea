package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/agents"
	"tradecore/pkg/config"
	"tradecore/pkg/coordinator"
	"tradecore/pkg/embed"
	"tradecore/pkg/logx"
	"tradecore/pkg/memory"
	"tradecore/pkg/metrics"
	"tradecore/pkg/proto"
	"tradecore/pkg/router"
)

func newTestServer(t *testing.T) (*Server, *router.OutputRouter) {
	t.Helper()
	cfg := config.Default()

	svc, err := embed.NewService(&cfg.Embedder)
	require.NoError(t, err)
	memCfg := cfg.Memory
	memCfg.DataDir = t.TempDir()
	store := memory.NewStore(context.Background(), &memCfg, svc.Dimensions())
	t.Cleanup(func() { _ = store.Close() })
	svc.AttachIndex(store)

	log := logx.NewLogger("api-test")
	out := router.NewOutputRouter(&cfg.Router, cfg.Agents, svc, store, log)
	in, err := router.NewInputRouter(&cfg.Router, svc, store, log)
	require.NoError(t, err)
	t.Cleanup(in.Close)

	roster, err := agents.BuildRoster(cfg, agents.Deps{Gates: &cfg.RiskGates})
	require.NoError(t, err)
	coord := coordinator.New(cfg, roster, out, store, nil, metrics.NewRecorder(prometheus.NewRegistry()))

	return New(&cfg.API, coord, in, store), out
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(proto.StateIdle), body["state"])
	assert.Contains(t, body, "weights")
	assert.Contains(t, body, "liveness")
	assert.Contains(t, body, "memory")
}

func TestDecisionsEndpointEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/decisions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
}

func TestMemoryQueryRequiresQ(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/memory/query")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryQueryReturnsSeededRecords(t *testing.T) {
	s, out := newTestServer(t)

	ev := proto.NewEvent("order-executor", proto.KindOutcome, proto.RoleExecution,
		"clean exit into strength on AAPL, plan respected")
	ev.Symbol = "AAPL"
	ev.Significance = 0.9
	ev.Outcome = proto.OutcomeSuccess
	res, err := out.Ingest(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, res.Stored)

	rec := get(t, s, "/memory/query?q=clean+exit+into+strength&k=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int `json:"count"`
		Results []struct {
			Summary string  `json:"summary"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Contains(t, body.Results[0].Summary, "clean exit")
}

func TestLogsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	logx.NewLogger("api-test-feed").Info("seed line for the log endpoint")

	rec := get(t, s, "/logs?component=api-test-feed")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int          `json:"count"`
		Entries []logx.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.GreaterOrEqual(t, body.Count, 1)

	badSince := get(t, s, "/logs?since=not-a-time")
	assert.Equal(t, http.StatusBadRequest, badSince.Code)
}

func TestSessionMetricsUnavailableWithoutPrometheus(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/metrics/session").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/metrics/weights").Code)
}
