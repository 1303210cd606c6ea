package proto

import "time"

// TickState is a phase of the coordinator's per-tick cycle.
type TickState string

const (
	StateIdle            TickState = "IDLE"
	StateCollecting      TickState = "COLLECTING"
	StateScoring         TickState = "SCORING"
	StateGating          TickState = "GATING"
	StateDeciding        TickState = "DECIDING"
	StateAwaitingOutcome TickState = "AWAITING_OUTCOME"
)

func (s TickState) String() string {
	return string(s)
}

// LivenessState is an agent's operational status as tracked by the
// coordinator.
type LivenessState string

const (
	LivenessStarting LivenessState = "starting"
	LivenessActive   LivenessState = "active"
	LivenessDegraded LivenessState = "degraded"
	LivenessStopped  LivenessState = "stopped"
	LivenessErrored  LivenessState = "errored"
)

// IsPollable reports whether the coordinator should solicit signals from an
// agent in this state. Degraded agents keep getting polled so they can
// recover; stopped and errored agents are out of the rotation.
func (s LivenessState) IsPollable() bool {
	return s == LivenessStarting || s == LivenessActive || s == LivenessDegraded
}

// StateChangeNotification announces a liveness transition to observers.
type StateChangeNotification struct {
	AgentID   string        `json:"agent_id"`
	From      LivenessState `json:"from"`
	To        LivenessState `json:"to"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
