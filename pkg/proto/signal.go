package proto

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind is the trading action a signal proposes or a decision takes.
type ActionKind string

const (
	ActionBuy  ActionKind = "buy"
	ActionSell ActionKind = "sell"
	ActionHold ActionKind = "hold"
	// ActionNone marks a tick that produced no actionable consensus.
	ActionNone ActionKind = "none"
)

// IsValid checks if the action is one of the known actions.
func (a ActionKind) IsValid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold || a == ActionNone
}

// Signal is an agent's typed output for one decision tick. Immutable once
// emitted; the coordinator consumes it within the same tick.
type Signal struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Symbol     string         `json:"symbol"`
	Action     ActionKind     `json:"action"`
	Confidence float64        `json:"confidence"`
	Risk       float64        `json:"risk"`
	Source     SourceKind     `json:"source"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewSignal creates a signal with a generated ID and current timestamp.
func NewSignal(agentID, symbol string, action ActionKind, confidence, risk float64) *Signal {
	return &Signal{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		Symbol:     symbol,
		Action:     action,
		Confidence: confidence,
		Risk:       risk,
		Source:     SourceDerived,
		Timestamp:  time.Now().UTC(),
	}
}

// Validate checks the signal for structural problems.
func (s *Signal) Validate() error {
	if s.AgentID == "" {
		return fmt.Errorf("%w: signal missing agent id", ErrValidation)
	}
	if s.Symbol == "" {
		return fmt.Errorf("%w: signal missing symbol", ErrValidation)
	}
	if !s.Action.IsValid() {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, s.Action)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrValidation, s.Confidence)
	}
	if s.Risk < 0 || s.Risk > 1 {
		return fmt.Errorf("%w: risk %.3f outside [0,1]", ErrValidation, s.Risk)
	}
	return nil
}

// Summary renders a one-line text form of the signal, used as the
// embeddable representation when a signal is archived to memory.
func (s *Signal) Summary() string {
	return fmt.Sprintf("%s signal from %s on %s: action=%s confidence=%.2f risk=%.2f",
		s.Source, s.AgentID, s.Symbol, s.Action, s.Confidence, s.Risk)
}
