package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/config"
	"tradecore/pkg/embed"
	"tradecore/pkg/proto"
)

const testDims = 8

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(context.Background(), &config.Memory{
		DataDir:          t.TempDir(),
		RetentionDays:    30,
		SweepIntervalMin: 60,
	}, testDims)
	degraded, reason := store.Degraded()
	require.False(t, degraded, "test store must open cleanly: %s", reason)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testVector(seed float32) []float32 {
	vec := make([]float32, testDims)
	for i := range vec {
		vec[i] = seed + float32(i)*0.01
	}
	return vec
}

func testRecord(agentID, summary string) *Record {
	return &Record{
		Vector:     testVector(0.5),
		Summary:    summary,
		AgentID:    agentID,
		Kind:       proto.KindSignal,
		Symbol:     "AAPL",
		Importance: 0.7,
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("rsi-momentum", "rsi crossed below 30 on aapl")
	id, err := store.Insert(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, rec.Summary, got.Summary)
	assert.Equal(t, rec.AgentID, got.AgentID)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, rec.Importance, got.Importance)
	assert.Equal(t, proto.OutcomePending, got.Outcome)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestInsertRejectsInvalidRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"empty vector", func(r *Record) { r.Vector = nil }},
		{"wrong dimensions", func(r *Record) { r.Vector = []float32{0.1, 0.2} }},
		{"empty summary", func(r *Record) { r.Summary = "  " }},
		{"no agent", func(r *Record) { r.AgentID = "" }},
		{"bad kind", func(r *Record) { r.Kind = "gossip" }},
		{"importance out of range", func(r *Record) { r.Importance = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := testRecord("rsi-momentum", "a valid summary")
			tc.mutate(rec)
			_, err := store.Insert(ctx, rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, proto.ErrValidation)
		})
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected records must not be persisted")
}

func TestGetUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-record")
	require.Error(t, err)
	assert.ErrorIs(t, err, proto.ErrNotFound)
}

func TestQuerySimilarEmptyStore(t *testing.T) {
	store := newTestStore(t)

	got, err := store.QuerySimilar(context.Background(), testVector(0.3), 5, QueryFilters{})
	require.NoError(t, err, "empty store must yield an empty list, not an error")
	assert.Empty(t, got)
}

func TestQuerySimilarRanksByCloseness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := testRecord("rsi-momentum", "near neighbor")
	near.Vector = testVector(0.5)
	nearID, err := store.Insert(ctx, near)
	require.NoError(t, err)

	far := testRecord("vwap-trend", "far neighbor")
	far.Vector = testVector(-3.0)
	_, err = store.Insert(ctx, far)
	require.NoError(t, err)

	got, err := store.QuerySimilar(ctx, testVector(0.5), 2, QueryFilters{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, nearID, got[0].ID)
	assert.Greater(t, got[0].Similarity, got[1].Similarity)
}

func TestQuerySimilarFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testRecord("rsi-momentum", "signal from rsi")
	_, err := store.Insert(ctx, a)
	require.NoError(t, err)

	b := testRecord("vwap-trend", "signal from vwap")
	_, err = store.Insert(ctx, b)
	require.NoError(t, err)

	got, err := store.QuerySimilar(ctx, testVector(0.5), 5, QueryFilters{AgentID: "rsi-momentum"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rsi-momentum", got[0].AgentID)
}

func TestQuerySimilarExcludesOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	failed := testRecord("rsi-momentum", "a losing setup")
	failedID, err := store.Insert(ctx, failed)
	require.NoError(t, err)
	require.NoError(t, store.UpdateOutcome(ctx, failedID, proto.OutcomeFailure))

	won := testRecord("rsi-momentum", "a winning setup")
	wonID, err := store.Insert(ctx, won)
	require.NoError(t, err)

	got, err := store.QuerySimilar(ctx, testVector(0.5), 5, QueryFilters{
		ExcludeOutcomes: []proto.OutcomeLabel{proto.OutcomeFailure},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, wonID, got[0].ID)
}

func TestUpdateOutcomeIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, testRecord("exposure-risk", "sized down into the close"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateOutcome(ctx, id, proto.OutcomeSuccess))
	require.NoError(t, store.UpdateOutcome(ctx, id, proto.OutcomeSuccess))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, proto.OutcomeSuccess, got.Outcome)
}

func TestUpdateOutcomeUnknownRecord(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateOutcome(context.Background(), "no-such-record", proto.OutcomeNeutral)
	require.Error(t, err)
	assert.ErrorIs(t, err, proto.ErrNotFound)
}

// faultyIndex fails every add, simulating a crash between the metadata commit
// and the vector write.
type faultyIndex struct{}

func (f *faultyIndex) add(context.Context, string, []float32, map[string]string, string) error {
	return errors.New("disk full")
}
func (f *faultyIndex) query(context.Context, []float32, int, map[string]string) ([]indexHit, error) {
	return nil, nil
}
func (f *faultyIndex) remove(context.Context, ...string) error { return nil }
func (f *faultyIndex) count() int                              { return 0 }

func TestInsertMidWriteFaultLeavesNoRecord(t *testing.T) {
	store := newTestStore(t)
	store.index = &faultyIndex{}
	ctx := context.Background()

	_, err := store.Insert(ctx, testRecord("order-executor", "partial fill at the offer"))
	require.Error(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a failed vector write must roll back the metadata row")
}

func TestDegradedStoreIsReadOnlyNotFatal(t *testing.T) {
	// Point the data dir at a regular file so it cannot be created.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	store := NewStore(context.Background(), &config.Memory{
		DataDir:          blocker,
		RetentionDays:    30,
		SweepIntervalMin: 60,
	}, testDims)

	degraded, reason := store.Degraded()
	require.True(t, degraded)
	assert.NotEmpty(t, reason)

	_, err := store.Insert(context.Background(), testRecord("rsi-momentum", "should not land"))
	require.Error(t, err)
	assert.ErrorIs(t, err, proto.ErrDegraded)

	got, err := store.QuerySimilar(context.Background(), testVector(0.5), 3, QueryFilters{})
	require.NoError(t, err, "degraded reads return empty, not errors")
	assert.Empty(t, got)
}

func TestSweepExpiredRemovesOldRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testRecord("memory-curator", "stale observation")
	old.CreatedAt = time.Now().UTC().Add(-60 * 24 * time.Hour)
	oldID, err := store.Insert(ctx, old)
	require.NoError(t, err)

	fresh := testRecord("memory-curator", "recent observation")
	freshID, err := store.Insert(ctx, fresh)
	require.NoError(t, err)

	removed, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, oldID)
	assert.ErrorIs(t, err, proto.ErrNotFound)
	_, err = store.Get(ctx, freshID)
	assert.NoError(t, err)
}

func TestQueryByVectorMatchesSearchContract(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, testRecord("rsi-momentum", "divergence into resistance"))
	require.NoError(t, err)

	matches, err := store.QueryByVector(ctx, testVector(0.5), 3, map[string]string{"agent_id": "rsi-momentum"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.InDelta(t, 0.0, matches[0].Distance, 0.05, "self-similar query should be near zero distance")

	var _ embed.Searcher = store
}
