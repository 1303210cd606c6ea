package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"

	"tradecore/pkg/config"
	"tradecore/pkg/embed"
	"tradecore/pkg/memory"
	"tradecore/pkg/proto"
)

// Query is one agent's retrieval request against long-term memory.
type Query struct {
	AgentID string
	Text    string
	K       int

	// Optional narrowing.
	Symbol string
	Kind   proto.EventKind

	// Records labeled failure are excluded unless the agent opts in.
	IncludeFailures bool
}

// RankedRecord is a retrieval hit with its blended relevance score.
type RankedRecord struct {
	memory.ScoredRecord
	Score float64 `json:"score"`
}

// InputRouter answers agent retrieval queries: embed the query text, search
// the store, then re-rank by a blend of similarity, recency, and stored
// importance. Hot queries are served from an in-process cache.
type InputRouter struct {
	cfg      *config.Router
	embedder *embed.Service
	store    *memory.Store
	cache    *ristretto.Cache
	logger   logger

	now func() time.Time
}

// NewInputRouter builds the input router with its retrieval cache.
func NewInputRouter(cfg *config.Router, embedder *embed.Service, store *memory.Store, log logger) (*InputRouter, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.CacheEntries * 10,
		MaxCost:     cfg.CacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}

	return &InputRouter{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		cache:    cache,
		logger:   log,
		now:      time.Now,
	}, nil
}

// Retrieve returns up to q.K records ranked by blended relevance. Querying an
// empty store yields an empty list. Results are cached per (agent, query)
// with a short TTL so repeated lookups within a tick stay cheap.
func (r *InputRouter) Retrieve(ctx context.Context, q Query) ([]RankedRecord, error) {
	if q.K <= 0 {
		return nil, nil
	}

	normalized := r.embedder.Normalize(q.Text)
	if normalized == "" {
		return nil, fmt.Errorf("%w: retrieval query text is empty", proto.ErrValidation)
	}

	key := fmt.Sprintf("%s|%s|%d|%s|%s|%t", q.AgentID, normalized, q.K, q.Symbol, q.Kind, q.IncludeFailures)
	if cached, ok := r.cache.Get(key); ok {
		if hits, ok := cached.([]RankedRecord); ok {
			return hits, nil
		}
	}

	vec, degraded, err := r.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if degraded {
		r.logger.Debug("retrieval for %s using degraded embedding", q.AgentID)
	}

	filters := memory.QueryFilters{Symbol: q.Symbol, Kind: q.Kind}
	if !q.IncludeFailures {
		filters.ExcludeOutcomes = []proto.OutcomeLabel{proto.OutcomeFailure}
	}

	// Overfetch candidates so the blended re-rank can promote older but more
	// important records into the final k.
	candidates, err := r.store.QuerySimilar(ctx, vec, q.K*3, filters)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := r.now().UTC()
	ranked := make([]RankedRecord, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedRecord{ScoredRecord: c, Score: r.blend(c, now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > q.K {
		ranked = ranked[:q.K]
	}

	r.cache.SetWithTTL(key, ranked, 1, r.cfg.CacheTTL())
	return ranked, nil
}

// blend combines similarity, exponential recency decay, and stored importance
// into one relevance score.
func (r *InputRouter) blend(rec memory.ScoredRecord, now time.Time) float64 {
	age := now.Sub(rec.CreatedAt)
	if age < 0 {
		age = 0
	}
	halfLife := r.cfg.RecencyHalfLife()
	recency := math.Exp(-math.Ln2 * age.Seconds() / halfLife.Seconds())

	return r.cfg.SimilarityWeight*float64(rec.Similarity) +
		r.cfg.RecencyWeight*recency +
		r.cfg.ImportanceWeight*rec.Importance
}

// Close releases the retrieval cache.
func (r *InputRouter) Close() {
	r.cache.Close()
}
