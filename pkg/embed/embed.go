// Package embed converts structured trading events into fixed-length vectors
// and fronts nearest-neighbor search over the memory store's index. Live
// backends (ollama, openai) may be unavailable; the service then falls back
// to a degraded deterministic hash embedding rather than blocking decisions.
package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"tradecore/pkg/config"
	"tradecore/pkg/logx"
	"tradecore/pkg/proto"
)

// Backend produces embedding vectors from text.
type Backend interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Name identifies the backend in logs.
	Name() string
}

// Match is one nearest-neighbor search hit.
type Match struct {
	ID       string
	Distance float32
}

// Searcher is the vector index the service searches against. The memory
// store provides the implementation; the service holds no vectors itself.
type Searcher interface {
	QueryByVector(ctx context.Context, vector []float32, k int, filters map[string]string) ([]Match, error)
}

// Service is the embedding front door used by the routers. Embed is
// deterministic for identical input given a fixed backend configuration and
// never fails outright: backend errors degrade to the hash embedder.
type Service struct {
	primary  Backend
	fallback *HashBackend
	index    Searcher
	tokenCap int
	codec    tokenizer.Codec
	logger   *logx.Logger
}

// NewService builds the embedding service for the configured backend. The
// hash backend is always constructed as the degraded fallback and shares the
// configured dimensionality so stored vectors stay comparable.
func NewService(cfg *config.Embedder) (*Service, error) {
	fallback := NewHashBackend(cfg.Dimensions)

	var primary Backend
	switch cfg.Backend {
	case "ollama":
		primary = NewOllamaBackend(cfg.OllamaHost, cfg.OllamaModel, cfg.Dimensions)
	case "openai":
		key := ""
		if cfg.OpenAIKeyEnv != "" {
			key = getenv(cfg.OpenAIKeyEnv)
		}
		if key == "" {
			return nil, proto.NewConfigError("embedder.openai_key_env", "environment variable %q is empty", cfg.OpenAIKeyEnv)
		}
		primary = NewOpenAIBackend(key, cfg.OpenAIModel, cfg.Dimensions)
	case "hash":
		primary = fallback
	default:
		return nil, proto.NewConfigError("embedder.backend", "unknown backend %q", cfg.Backend)
	}

	// GPT-4 tokenization is close enough for budgeting summaries regardless
	// of which embedding backend is active.
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer codec: %w", err)
	}

	return &Service{
		primary:  primary,
		fallback: fallback,
		tokenCap: cfg.SummaryTokenCap,
		codec:    codec,
		logger:   logx.NewLogger("embed"),
	}, nil
}

// AttachIndex wires the vector index that Search delegates to. Done after
// construction because the memory store is built with the service's
// dimensionality.
func (s *Service) AttachIndex(index Searcher) {
	s.index = index
}

// Dimensions returns the fixed output vector size.
func (s *Service) Dimensions() int {
	return s.primary.Dimensions()
}

// Embed converts a normalized, token-capped summary into a vector. A failing
// live backend degrades to the deterministic hash embedding; the degraded
// result is logged and reported via the returned flag, never as an error.
// An empty summary is the one rejected input.
func (s *Service) Embed(ctx context.Context, summary string) ([]float32, bool, error) {
	normalized := s.Normalize(summary)
	if normalized == "" {
		return nil, false, fmt.Errorf("%w: cannot embed empty summary", proto.ErrValidation)
	}

	vec, err := s.primary.Embed(ctx, normalized)
	if err == nil {
		return vec, false, nil
	}

	s.logger.Warn("backend %s failed (%v), using degraded hash embedding", s.primary.Name(), err)
	vec, fallbackErr := s.fallback.Embed(ctx, normalized)
	if fallbackErr != nil {
		// The hash backend is pure computation; this cannot happen outside
		// context cancellation.
		return nil, true, fmt.Errorf("%w: hash fallback: %v", proto.ErrDegraded, fallbackErr)
	}
	return vec, true, nil
}

// Search runs a nearest-neighbor query against the attached index. Searching
// with no index attached or over an empty index returns an empty list, never
// an error.
func (s *Service) Search(ctx context.Context, vector []float32, k int, filters map[string]string) ([]Match, error) {
	if s.index == nil || k <= 0 {
		return nil, nil
	}
	return s.index.QueryByVector(ctx, vector, k, filters)
}

// Normalize produces the canonical text form that gets embedded and stored
// as the record summary: whitespace-collapsed, lowercased, token-capped.
func (s *Service) Normalize(summary string) string {
	text := strings.ToLower(strings.Join(strings.Fields(summary), " "))
	if text == "" {
		return ""
	}

	count, err := s.codec.Count(text)
	if err != nil || count <= s.tokenCap {
		return text
	}

	// Proportional character truncation approximates the token boundary
	// closely enough for a cap, without a second tokenizer pass.
	ratio := float64(s.tokenCap) / float64(count)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) || charLimit <= 0 {
		return text
	}
	// Back up to a rune boundary so the cut never leaves invalid UTF-8.
	for charLimit > 0 && !utf8.RuneStart(text[charLimit]) {
		charLimit--
	}
	if charLimit == 0 {
		return text
	}
	return text[:charLimit]
}

//nolint:gochecknoglobals // test seam for environment lookup
var getenv = defaultGetenv

func defaultGetenv(key string) string {
	return os.Getenv(key)
}
