package proto

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Verdict is the risk-gate result for a synthesized decision.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
	VerdictDeferred Verdict = "deferred"
)

// IsValid checks if the verdict is one of the known verdicts.
func (v Verdict) IsValid() bool {
	return v == VerdictApproved || v == VerdictRejected || v == VerdictDeferred
}

// Decision is the coordinator's synthesized output for one tick. Created once
// per tick that produces a non-trivial consensus; the outcome label is the
// only field mutated after creation.
type Decision struct {
	ID           string       `json:"id"`
	TickID       string       `json:"tick_id"`
	Symbol       string       `json:"symbol"`
	Action       ActionKind   `json:"action"`
	Consensus    float64      `json:"consensus"`
	Risk         float64      `json:"risk"`
	Verdict      Verdict      `json:"verdict"`
	GateFailures []string     `json:"gate_failures,omitempty"`
	SignalIDs    []string     `json:"signal_ids"`
	Contributors []string     `json:"contributors"`
	Outcome      OutcomeLabel `json:"outcome"`
	CreatedAt    time.Time    `json:"created_at"`
	ResolvedAt   *time.Time   `json:"resolved_at,omitempty"`
}

// NewDecision creates a decision with a generated ID, pending outcome, and
// current timestamp.
func NewDecision(tickID, symbol string, action ActionKind) *Decision {
	return &Decision{
		ID:        uuid.New().String(),
		TickID:    tickID,
		Symbol:    symbol,
		Action:    action,
		Outcome:   OutcomePending,
		CreatedAt: time.Now().UTC(),
	}
}

// Summary renders a one-line text form of the decision for memory archival.
func (d *Decision) Summary() string {
	return fmt.Sprintf("decision on %s: action=%s verdict=%s consensus=%.2f risk=%.2f contributors=%d",
		d.Symbol, d.Action, d.Verdict, d.Consensus, d.Risk, len(d.Contributors))
}

// NewTickID generates an identifier for one coordinator tick.
func NewTickID() string {
	return uuid.New().String()
}
