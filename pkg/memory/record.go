// Package memory provides the durable vector memory store: a chromem vector
// index paired with a SQLite metadata table, keyed by the same record id and
// kept transactionally aligned. It is the sole durable state of the core.
package memory

import (
	"fmt"
	"strings"
	"time"

	"tradecore/pkg/proto"
)

// Record is one persisted unit of experience. The outcome label is the only
// field ever mutated after creation.
type Record struct {
	ID         string             `json:"id"`
	Vector     []float32          `json:"-"`
	Summary    string             `json:"summary"`
	AgentID    string             `json:"agent_id"`
	Kind       proto.EventKind    `json:"kind"`
	Symbol     string             `json:"symbol,omitempty"`
	Importance float64            `json:"importance"`
	Outcome    proto.OutcomeLabel `json:"outcome"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Validate checks a record before insert. Violations fail with a validation
// error; nothing is persisted.
func (r *Record) Validate(dimensions int) error {
	if len(r.Vector) == 0 {
		return fmt.Errorf("%w: record has empty vector", proto.ErrValidation)
	}
	if len(r.Vector) != dimensions {
		return fmt.Errorf("%w: record vector has %d dimensions, store expects %d",
			proto.ErrValidation, len(r.Vector), dimensions)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("%w: record has empty summary", proto.ErrValidation)
	}
	if r.AgentID == "" {
		return fmt.Errorf("%w: record has no originating agent", proto.ErrValidation)
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: record has unknown kind %q", proto.ErrValidation, r.Kind)
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("%w: importance %.3f outside [0,1]", proto.ErrValidation, r.Importance)
	}
	if r.Outcome != "" && !r.Outcome.IsValid() {
		return fmt.Errorf("%w: unknown outcome label %q", proto.ErrValidation, r.Outcome)
	}
	return nil
}

// ScoredRecord is a query hit: a record plus its similarity to the query
// vector (cosine, higher is closer).
type ScoredRecord struct {
	Record
	Similarity float32 `json:"similarity"`
}

// QueryFilters narrows a similarity query. Zero values mean "no filter".
type QueryFilters struct {
	AgentID         string
	Kind            proto.EventKind
	Symbol          string
	ExcludeOutcomes []proto.OutcomeLabel
}
