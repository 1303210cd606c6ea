package embed

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default().Embedder
	svc, err := NewService(&cfg)
	require.NoError(t, err)
	return svc
}

func TestHashBackendDeterministic(t *testing.T) {
	backend := NewHashBackend(384)

	a, err := backend.Embed(context.Background(), "rsi crossed 30 on aapl")
	require.NoError(t, err)
	b, err := backend.Embed(context.Background(), "rsi crossed 30 on aapl")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 384)
}

func TestHashBackendDistinctInputs(t *testing.T) {
	backend := NewHashBackend(64)

	a, _ := backend.Embed(context.Background(), "buy signal")
	b, _ := backend.Embed(context.Background(), "sell signal")
	assert.NotEqual(t, a, b)
}

func TestHashBackendUnitNorm(t *testing.T) {
	backend := NewHashBackend(128)
	vec, err := backend.Embed(context.Background(), "volatility spike before open")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestServiceRejectsEmptySummary(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.Embed(context.Background(), "   \n\t ")
	require.Error(t, err)
	assert.ErrorIs(t, err, proto.ErrValidation)
}

func TestServiceEmbedDeterministic(t *testing.T) {
	svc := newTestService(t)

	a, degraded, err := svc.Embed(context.Background(), "VWAP  Trend   reversal on MSFT")
	require.NoError(t, err)
	assert.False(t, degraded)

	// Normalization collapses whitespace and case before embedding.
	b, _, err := svc.Embed(context.Background(), "vwap trend reversal on msft")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, svc.Dimensions())
}

type failingBackend struct{ dims int }

func (f *failingBackend) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}
func (f *failingBackend) Dimensions() int { return f.dims }
func (f *failingBackend) Name() string    { return "failing" }

func TestServiceFallsBackWhenBackendDown(t *testing.T) {
	svc := newTestService(t)
	svc.primary = &failingBackend{dims: 384}

	vec, degraded, err := svc.Embed(context.Background(), "order flow imbalance on NVDA")
	require.NoError(t, err, "a dead backend must degrade, not fail")
	assert.True(t, degraded)
	assert.Len(t, vec, 384)

	// Degraded vectors are still deterministic.
	again, _, err := svc.Embed(context.Background(), "order flow imbalance on NVDA")
	require.NoError(t, err)
	assert.Equal(t, vec, again)
}

func TestNormalizeCapsTokens(t *testing.T) {
	svc := newTestService(t)

	long := strings.Repeat("persistent momentum divergence across sessions ", 300)
	normalized := svc.Normalize(long)
	assert.Less(t, len(normalized), len(long))
	assert.NotEmpty(t, normalized)
}

func TestNormalizeTruncatesOnRuneBoundary(t *testing.T) {
	svc := newTestService(t)

	long := strings.Repeat("日経平均の寄り付きで先物主導の急落 ", 300)
	normalized := svc.Normalize(long)
	assert.Less(t, len(normalized), len(long))
	assert.True(t, utf8.ValidString(normalized), "truncation must never split a rune")
}

func TestSearchWithoutIndexReturnsEmpty(t *testing.T) {
	svc := newTestService(t)

	matches, err := svc.Search(context.Background(), []float32{0.1, 0.2}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

type stubIndex struct{ matches []Match }

func (s *stubIndex) QueryByVector(context.Context, []float32, int, map[string]string) ([]Match, error) {
	return s.matches, nil
}

func TestSearchDelegatesToIndex(t *testing.T) {
	svc := newTestService(t)
	svc.AttachIndex(&stubIndex{matches: []Match{{ID: "rec-1", Distance: 0.12}}})

	matches, err := svc.Search(context.Background(), []float32{0.5}, 3, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "rec-1", matches[0].ID)
}
