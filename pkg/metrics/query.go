package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SessionMetrics is the aggregate a scraping Prometheus holds about the
// pipeline's recent behavior.
type SessionMetrics struct {
	Ticks         int64   `json:"ticks"`
	DegradedTicks int64   `json:"degraded_ticks"`
	Approved      int64   `json:"approved"`
	Rejected      int64   `json:"rejected"`
	AvgConsensus  float64 `json:"avg_consensus"`
	StoredRecords int64   `json:"stored_records"`
}

// QueryService reads pipeline aggregates back from a Prometheus server.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService connects to the Prometheus server at the given URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetSessionMetrics aggregates the pipeline counters as Prometheus sees them.
func (q *QueryService) GetSessionMetrics(ctx context.Context) (*SessionMetrics, error) {
	m := &SessionMetrics{}

	queries := []struct {
		expr string
		into func(float64)
	}{
		{`sum(trade_ticks_total)`, func(v float64) { m.Ticks = int64(v) }},
		{`sum(trade_ticks_total{mode="degraded"})`, func(v float64) { m.DegradedTicks = int64(v) }},
		{`sum(trade_decisions_total{verdict="approved"})`, func(v float64) { m.Approved = int64(v) }},
		{`sum(trade_decisions_total{verdict="rejected"})`, func(v float64) { m.Rejected = int64(v) }},
		{`sum(trade_consensus_sum) / sum(trade_consensus_count)`, func(v float64) { m.AvgConsensus = v }},
		{`sum(trade_memory_admissions_total{result="stored"})`, func(v float64) { m.StoredRecords = int64(v) }},
	}

	for _, query := range queries {
		result, _, err := q.queryAPI.Query(ctx, query.expr, time.Now())
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", query.expr, err)
		}
		if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
			query.into(float64(vector[0].Value))
		}
	}
	return m, nil
}

// AgentWeights reads the per-agent weight gauges from Prometheus.
func (q *QueryService) AgentWeights(ctx context.Context) (map[string]float64, error) {
	result, _, err := q.queryAPI.Query(ctx, `trade_agent_weight`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query agent weights: %w", err)
	}

	weights := make(map[string]float64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if id, ok := sample.Metric["agent_id"]; ok {
				weights[string(id)] = float64(sample.Value)
			}
		}
	}
	return weights, nil
}
