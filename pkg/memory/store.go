package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecore/pkg/config"
	"tradecore/pkg/embed"
	"tradecore/pkg/logx"
	"tradecore/pkg/proto"
)

// Store pairs the vector index with the metadata table. Inserts are
// serialized (single-writer discipline); reads and similarity queries may
// run concurrently with a write but never observe a half-written record.
type Store struct {
	index      vectorIndex
	metadata   *metadataTable
	dimensions int
	retention  time.Duration
	sweepEvery time.Duration
	logger     *logx.Logger

	// writeMu is the single serialization point for all mutations.
	writeMu sync.Mutex

	degradedMu     sync.RWMutex
	degradedReason string
}

// NewStore opens (or creates) the store under cfg.DataDir. If the underlying
// index or metadata table is unreachable, the store starts in a degraded
// read-only mode instead of failing: mutating calls fail fast with a
// descriptive error and queries return empty results.
func NewStore(ctx context.Context, cfg *config.Memory, dimensions int) *Store {
	s := &Store{
		dimensions: dimensions,
		retention:  cfg.RetentionAge(),
		sweepEvery: cfg.SweepInterval(),
		logger:     logx.NewLogger("memory"),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		s.markDegraded(fmt.Sprintf("create data dir: %v", err))
		return s
	}

	meta, err := openMetadataTable(ctx, filepath.Join(cfg.DataDir, "memory.db"))
	if err != nil {
		s.markDegraded(err.Error())
		return s
	}

	index, err := newChromemIndex(filepath.Join(cfg.DataDir, "vectors"))
	if err != nil {
		_ = meta.close()
		s.markDegraded(err.Error())
		return s
	}

	s.metadata = meta
	s.index = index
	s.logger.Info("memory store opened: %s (%d records, %d dimensions)",
		cfg.DataDir, index.count(), dimensions)
	return s
}

func (s *Store) markDegraded(reason string) {
	s.degradedMu.Lock()
	s.degradedReason = reason
	s.degradedMu.Unlock()
	s.logger.Error("memory store degraded (read-only): %s", reason)
}

// Degraded reports whether the store is in read-only degraded mode, and why.
func (s *Store) Degraded() (bool, string) {
	s.degradedMu.RLock()
	defer s.degradedMu.RUnlock()
	return s.degradedReason != "", s.degradedReason
}

func (s *Store) failIfDegraded() error {
	if degraded, reason := s.Degraded(); degraded {
		return fmt.Errorf("%w: memory store is read-only: %s", proto.ErrDegraded, reason)
	}
	return nil
}

// Dimensions returns the vector size the store accepts.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// Insert persists a record and returns its generated id. The metadata row is
// committed first; if the vector add then fails, the row is removed again so
// the caller never observes a partial record.
func (s *Store) Insert(ctx context.Context, rec *Record) (string, error) {
	if err := s.failIfDegraded(); err != nil {
		return "", err
	}
	if err := rec.Validate(s.dimensions); err != nil {
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored := *rec
	stored.ID = uuid.New().String()
	if stored.Outcome == "" {
		stored.Outcome = proto.OutcomePending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	if err := s.metadata.insert(ctx, &stored); err != nil {
		return "", err
	}

	meta := map[string]string{
		"agent_id": stored.AgentID,
		"kind":     string(stored.Kind),
	}
	if stored.Symbol != "" {
		meta["symbol"] = stored.Symbol
	}

	if err := s.index.add(ctx, stored.ID, stored.Vector, meta, stored.Summary); err != nil {
		// Compensate so no metadata row is orphaned from its vector.
		if delErr := s.metadata.delete(ctx, stored.ID); delErr != nil {
			s.logger.Error("compensating metadata delete failed for %s: %v", stored.ID, delErr)
		}
		return "", err
	}

	s.logger.Debug("inserted record %s (agent=%s kind=%s importance=%.2f)",
		stored.ID, stored.AgentID, stored.Kind, stored.Importance)
	return stored.ID, nil
}

// Get returns the record's metadata by id. The stored vector is not
// rehydrated; callers reach vectors only through similarity queries.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if s.metadata == nil {
		return nil, fmt.Errorf("%w: record %s", proto.ErrNotFound, id)
	}
	return s.metadata.get(ctx, id)
}

// QuerySimilar returns up to k records ranked by cosine similarity to the
// query vector. Records whose metadata is missing are never returned. A
// query over an empty or degraded store returns an empty list, not an error.
func (s *Store) QuerySimilar(ctx context.Context, vector []float32, k int, filters QueryFilters) ([]ScoredRecord, error) {
	if s.index == nil || s.metadata == nil || k <= 0 {
		return nil, nil
	}

	where := map[string]string{}
	if filters.AgentID != "" {
		where["agent_id"] = filters.AgentID
	}
	if filters.Kind != "" {
		where["kind"] = string(filters.Kind)
	}
	if filters.Symbol != "" {
		where["symbol"] = filters.Symbol
	}
	if len(where) == 0 {
		where = nil
	}

	// Overfetch so outcome filtering can still fill k results.
	probe := k
	if len(filters.ExcludeOutcomes) > 0 {
		probe = k*2 + 4
	}

	hits, err := s.index.query(ctx, vector, probe, where)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	metas, err := s.metadata.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	excluded := make(map[proto.OutcomeLabel]bool, len(filters.ExcludeOutcomes))
	for _, o := range filters.ExcludeOutcomes {
		excluded[o] = true
	}

	out := make([]ScoredRecord, 0, k)
	for _, h := range hits {
		rec, ok := metas[h.id]
		if !ok {
			// Orphan vector with no metadata row: unreachable by contract.
			s.logger.Warn("vector %s has no metadata row, skipping", h.id)
			continue
		}
		if excluded[rec.Outcome] {
			continue
		}
		out = append(out, ScoredRecord{Record: *rec, Similarity: h.similarity})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// UpdateOutcome sets a record's outcome label, the only permitted mutation.
// Idempotent: applying the same label twice changes nothing.
func (s *Store) UpdateOutcome(ctx context.Context, id string, label proto.OutcomeLabel) error {
	if err := s.failIfDegraded(); err != nil {
		return err
	}
	if !label.IsValid() {
		return fmt.Errorf("%w: unknown outcome label %q", proto.ErrValidation, label)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	changed, err := s.metadata.updateOutcome(ctx, id, label)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Debug("record %s outcome set to %s", id, label)
	}
	return nil
}

// SweepExpired removes records older than the retention age from both
// artifacts. Returns the number of records removed.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	if err := s.failIfDegraded(); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-s.retention)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ids, err := s.metadata.expiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	removed := 0
	for _, id := range ids {
		if err := s.index.remove(ctx, id); err != nil {
			s.logger.Warn("sweep: vector removal for %s failed: %v", id, err)
			continue
		}
		if err := s.metadata.delete(ctx, id); err != nil {
			s.logger.Warn("sweep: metadata removal for %s failed: %v", id, err)
			continue
		}
		removed++
	}
	s.logger.Info("retention sweep removed %d of %d expired records", removed, len(ids))
	return removed, nil
}

// RunRetentionSweeps runs periodic sweeps until the context is cancelled.
// Intended to run as a goroutine from boot. The first sweep is jittered so
// restarted fleets do not all sweep at once.
func (s *Store) RunRetentionSweeps(ctx context.Context) {
	jitter := time.Duration(rand.Int64N(int64(s.sweepEvery)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Warn("retention sweep failed: %v", err)
			}
		}
	}
}

// QueryByVector adapts the store's similarity query to the embedder's search
// contract (ids and distances only).
func (s *Store) QueryByVector(ctx context.Context, vector []float32, k int, filters map[string]string) ([]embed.Match, error) {
	qf := QueryFilters{
		AgentID: filters["agent_id"],
		Symbol:  filters["symbol"],
	}
	if kind, ok := filters["kind"]; ok {
		qf.Kind = proto.EventKind(kind)
	}

	records, err := s.QuerySimilar(ctx, vector, k, qf)
	if err != nil {
		return nil, err
	}

	matches := make([]embed.Match, len(records))
	for i, rec := range records {
		matches[i] = embed.Match{ID: rec.ID, Distance: 1 - rec.Similarity}
	}
	return matches, nil
}

// Count returns the number of records in the metadata table.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.metadata == nil {
		return 0, nil
	}
	return s.metadata.count(ctx)
}

// Close releases the metadata table. The vector index persists itself on
// every write and needs no close.
func (s *Store) Close() error {
	if s.metadata == nil {
		return nil
	}
	return s.metadata.close()
}
