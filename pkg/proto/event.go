// Package proto defines the shared types exchanged between agents, the
// routers, the memory store, and the coordinator.
package proto

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoleCategory classifies an agent by the kind of work it does. Routing
// subscriptions and the static role registry are keyed on these categories.
type RoleCategory string

const (
	RoleSignalGeneration RoleCategory = "signal-generation"
	RoleTiming           RoleCategory = "timing"
	RoleRuleValidation   RoleCategory = "rule-validation"
	RoleRisk             RoleCategory = "risk"
	RoleExecution        RoleCategory = "execution"
	RoleMemory           RoleCategory = "memory"
	RoleService          RoleCategory = "service"
	RoleCoordination     RoleCategory = "coordination"
)

// ValidCategories returns all known role categories.
func ValidCategories() []RoleCategory {
	return []RoleCategory{
		RoleSignalGeneration,
		RoleTiming,
		RoleRuleValidation,
		RoleRisk,
		RoleExecution,
		RoleMemory,
		RoleService,
		RoleCoordination,
	}
}

// IsValid checks if the role category is one of the known categories.
func (c RoleCategory) IsValid() bool {
	for _, v := range ValidCategories() {
		if c == v {
			return true
		}
	}
	return false
}

func (c RoleCategory) String() string {
	return string(c)
}

// EventKind identifies what an emitted event represents.
type EventKind string

const (
	KindSignal   EventKind = "signal"
	KindDecision EventKind = "decision"
	KindOutcome  EventKind = "outcome"
)

// IsValid checks if the event kind is one of the known kinds.
func (k EventKind) IsValid() bool {
	return k == KindSignal || k == KindDecision || k == KindOutcome
}

// OutcomeLabel is the realized result of a decision or remembered event.
type OutcomeLabel string

const (
	OutcomeSuccess OutcomeLabel = "success"
	OutcomeFailure OutcomeLabel = "failure"
	OutcomeNeutral OutcomeLabel = "neutral"
	OutcomePending OutcomeLabel = "pending"
)

// IsValid checks if the outcome label is one of the known labels.
func (o OutcomeLabel) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeNeutral || o == OutcomePending
}

// IsTerminal reports whether the label is a final outcome (pending is not).
func (o OutcomeLabel) IsTerminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeNeutral
}

// SourceKind categorizes where a signal's data came from.
type SourceKind string

const (
	SourceLive      SourceKind = "live"
	SourceDerived   SourceKind = "derived"
	SourceSimulated SourceKind = "simulated"
)

// Event is the unit of traffic flowing through the output router: everything
// an agent emits, whether or not it ends up in long-term memory.
type Event struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Kind         EventKind      `json:"kind"`
	Category     RoleCategory   `json:"category"`
	Symbol       string         `json:"symbol,omitempty"`
	Summary      string         `json:"summary"`
	Significance float64        `json:"significance"`
	Outcome      OutcomeLabel   `json:"outcome,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// NewEvent creates an event with a generated ID and current timestamp.
func NewEvent(agentID string, kind EventKind, category RoleCategory, summary string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Kind:      kind,
		Category:  category,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	}
}

// SetPayload sets a payload value, allocating the map on first use.
func (e *Event) SetPayload(key string, value any) {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
}

// GetPayload retrieves a payload value.
func (e *Event) GetPayload(key string) (any, bool) {
	if e.Payload == nil {
		return nil, false
	}
	v, ok := e.Payload[key]
	return v, ok
}

// Validate checks the event for structural problems. Events that fail
// validation are rejected at the router boundary, never persisted.
func (e *Event) Validate() error {
	if e.AgentID == "" {
		return fmt.Errorf("%w: event missing agent id", ErrValidation)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: unknown event kind %q", ErrValidation, e.Kind)
	}
	if strings.TrimSpace(e.Summary) == "" {
		return fmt.Errorf("%w: event summary is empty", ErrValidation)
	}
	if e.Significance < 0 || e.Significance > 1 {
		return fmt.Errorf("%w: significance %.3f outside [0,1]", ErrValidation, e.Significance)
	}
	return nil
}
