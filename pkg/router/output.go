// Package router moves agent traffic in both directions: the output router
// fans emitted events out to subscribers and decides which of them deserve a
// slot in long-term memory; the input router retrieves and re-ranks memories
// for an agent's query.
package router

import (
	"context"
	"sync"

	"tradecore/pkg/config"
	"tradecore/pkg/embed"
	"tradecore/pkg/memory"
	"tradecore/pkg/proto"
)

// Subscriber receives events fanned out by category. Agents implement this;
// delivery failures are retried a bounded number of times and then dropped.
type Subscriber interface {
	GetID() string
	Subscriptions() []proto.RoleCategory
	ConsumeEvent(ctx context.Context, event *proto.Event) error
}

// Importance contribution of the event kind. Realized outcomes are the most
// valuable thing to remember, raw signals the least.
var kindWeights = map[proto.EventKind]float64{
	proto.KindSignal:   0.5,
	proto.KindDecision: 0.8,
	proto.KindOutcome:  1.0,
}

const (
	kindFactor         = 0.35
	significanceFactor = 0.35
	noveltyFactor      = 0.30
)

// IngestResult reports what happened to one ingested event.
type IngestResult struct {
	Importance float64
	Stored     bool
	RecordID   string
	Degraded   bool
	Delivered  int
}

// OutputRouter is the single path by which events become memory records.
// Every event is scored for importance; only those at or above the threshold
// are embedded and persisted. Fan-out to subscribers happens for every valid
// event and is never blocked by an embedding or persistence failure.
type OutputRouter struct {
	cfg      *config.Router
	embedder *embed.Service
	store    *memory.Store
	logger   logger

	// declared significance per registered role, from the agent registry.
	declared map[string]float64

	mu   sync.RWMutex
	subs []Subscriber
}

type logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// NewOutputRouter builds the output router over the shared embedder and store.
// The role registry supplies each agent's declared significance for admission
// scoring.
func NewOutputRouter(cfg *config.Router, roles []config.AgentRole, embedder *embed.Service, store *memory.Store, log logger) *OutputRouter {
	declared := make(map[string]float64, len(roles))
	for _, role := range roles {
		declared[role.ID] = role.Significance
	}
	return &OutputRouter{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		logger:   log,
		declared: declared,
	}
}

// Register adds a subscriber. Registration happens at boot, before traffic.
func (r *OutputRouter) Register(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
}

// Ingest accepts one emitted event: validates it, fans it out to every
// subscriber of the event's category, scores it for importance, and archives
// it to memory when the score clears the admission threshold. Validation
// failures are the only errors returned; memory trouble is logged and
// reported through the result so emission never stalls the pipeline.
func (r *OutputRouter) Ingest(ctx context.Context, event *proto.Event) (*IngestResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	delivered := r.fanOut(ctx, event)
	result := &IngestResult{Delivered: delivered}

	vec, degraded, err := r.embedder.Embed(ctx, event.Summary)
	if err != nil {
		r.logger.Warn("embed failed for event %s, skipping memory admission: %v", event.ID, err)
		return result, nil
	}
	result.Degraded = degraded

	result.Importance = r.score(ctx, event, vec)
	if result.Importance < r.cfg.ImportanceThreshold {
		r.logger.Debug("event %s below admission threshold (%.2f < %.2f)",
			event.ID, result.Importance, r.cfg.ImportanceThreshold)
		return result, nil
	}

	rec := &memory.Record{
		Vector:     vec,
		Summary:    r.embedder.Normalize(event.Summary),
		AgentID:    event.AgentID,
		Kind:       event.Kind,
		Symbol:     event.Symbol,
		Importance: result.Importance,
		Outcome:    event.Outcome,
		CreatedAt:  event.Timestamp,
	}
	id, err := r.store.Insert(ctx, rec)
	if err != nil {
		r.logger.Warn("memory insert failed for event %s: %v", event.ID, err)
		return result, nil
	}

	result.Stored = true
	result.RecordID = id
	r.logger.Debug("event %s archived as record %s (importance %.2f)", event.ID, id, result.Importance)
	return result, nil
}

// score computes admission importance: a weighted blend of the event kind,
// the emitting agent's significance, and novelty against the nearest stored
// neighbors.
func (r *OutputRouter) score(ctx context.Context, event *proto.Event, vec []float32) float64 {
	return kindFactor*kindWeights[event.Kind] +
		significanceFactor*r.significance(event) +
		noveltyFactor*r.novelty(ctx, vec)
}

// significance resolves the emitting agent's registry-declared significance
// and averages it with the event's own when the event carries one. Unknown
// emitters fall back to the event value alone.
func (r *OutputRouter) significance(event *proto.Event) float64 {
	declared, ok := r.declared[event.AgentID]
	if !ok {
		return event.Significance
	}
	if event.Significance == 0 {
		return declared
	}
	return (event.Significance + declared) / 2
}

// novelty is 1 minus the best similarity among the top stored neighbors. An
// empty (or unreachable) store makes everything maximally novel.
func (r *OutputRouter) novelty(ctx context.Context, vec []float32) float64 {
	hits, err := r.store.QuerySimilar(ctx, vec, r.cfg.NoveltyProbeK, memory.QueryFilters{})
	if err != nil {
		r.logger.Warn("novelty probe failed, assuming novel: %v", err)
		return 1.0
	}
	if len(hits) == 0 {
		return 1.0
	}

	best := hits[0].Similarity
	for _, h := range hits[1:] {
		if h.Similarity > best {
			best = h.Similarity
		}
	}
	if best < 0 {
		best = 0
	}
	if best > 1 {
		best = 1
	}
	return 1.0 - float64(best)
}

// fanOut delivers the event concurrently to every subscriber whose
// subscriptions include the event's category, except the originator. Each
// delivery gets bounded immediate retries; a subscriber that keeps failing is
// skipped with a logged warning and never stalls the others.
func (r *OutputRouter) fanOut(ctx context.Context, event *proto.Event) int {
	r.mu.RLock()
	targets := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.GetID() == event.AgentID {
			continue
		}
		for _, cat := range sub.Subscriptions() {
			if cat == event.Category {
				targets = append(targets, sub)
				break
			}
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var countMu sync.Mutex
	delivered := 0

	for _, sub := range targets {
		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			var err error
			for attempt := 0; attempt <= r.cfg.FanoutRetries; attempt++ {
				if ctx.Err() != nil {
					return
				}
				if err = sub.ConsumeEvent(ctx, event); err == nil {
					countMu.Lock()
					delivered++
					countMu.Unlock()
					return
				}
			}
			r.logger.Warn("delivery of event %s to %s failed after %d attempts: %v",
				event.ID, sub.GetID(), r.cfg.FanoutRetries+1, err)
		}(sub)
	}

	// Wait for deliveries only until the caller's deadline. Stragglers keep
	// running in the background; their late deliveries are not counted.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("fan-out of event %s cut off at deadline with deliveries still in flight", event.ID)
	}

	countMu.Lock()
	defer countMu.Unlock()
	return delivered
}
