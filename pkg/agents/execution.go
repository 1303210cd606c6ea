package agents

import (
	"context"
	"fmt"
	"sync"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
)

// decisionFromEvent pulls the executable fields out of a published decision
// event. Returns false when the event is not an approved decision.
func decisionFromEvent(ev *proto.Event) (decisionID string, consensus, risk float64, ok bool) {
	if ev.Kind != proto.KindDecision {
		return "", 0, 0, false
	}
	verdict, _ := ev.GetPayload("verdict")
	if verdict != string(proto.VerdictApproved) {
		return "", 0, 0, false
	}
	idVal, okID := ev.GetPayload("decision_id")
	id, okStr := idVal.(string)
	if !okID || !okStr || id == "" {
		return "", 0, 0, false
	}
	if c, found := ev.GetPayload("consensus"); found {
		consensus, _ = c.(float64)
	}
	if r, found := ev.GetPayload("risk"); found {
		risk, _ = r.(float64)
	}
	return id, consensus, risk, true
}

// orderExecutorAgent is the live execution seat. With no broker connection
// configured it records the intent and leaves the fill to the paper seat.
type orderExecutorAgent struct {
	BaseAgent

	mu      sync.Mutex
	intents []string
}

func newOrderExecutorAgent(role config.AgentRole) Agent {
	return &orderExecutorAgent{BaseAgent: newBaseAgent(role)}
}

func (a *orderExecutorAgent) ConsumeEvent(ctx context.Context, ev *proto.Event) error {
	if id, _, _, ok := decisionFromEvent(ev); ok {
		a.mu.Lock()
		a.intents = append(a.intents, id)
		a.mu.Unlock()
		a.logger.Info("order intent recorded for decision %s on %s (no broker configured)", id, ev.Symbol)
	}
	return a.BaseAgent.ConsumeEvent(ctx, ev)
}

// Intents returns the decision ids the executor has accepted.
func (a *orderExecutorAgent) Intents() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.intents))
	copy(out, a.intents)
	return out
}

// paperExecutorAgent simulates fills for approved decisions and reports the
// realized outcome back through the event pipeline. The simulated pnl is a
// deterministic function of the decision's consensus and risk so the learning
// loop rewards high-conviction, low-risk decisions.
type paperExecutorAgent struct {
	BaseAgent
	emitter EventEmitter
}

func newPaperExecutorAgent(role config.AgentRole, deps Deps) Agent {
	return &paperExecutorAgent{BaseAgent: newBaseAgent(role), emitter: deps.Emitter}
}

func (a *paperExecutorAgent) ConsumeEvent(ctx context.Context, ev *proto.Event) error {
	if err := a.BaseAgent.ConsumeEvent(ctx, ev); err != nil {
		return err
	}

	decisionID, consensus, risk, ok := decisionFromEvent(ev)
	if !ok || a.emitter == nil {
		return nil
	}

	pnl := (consensus - risk) * 100
	label := proto.OutcomeNeutral
	switch {
	case pnl > 0:
		label = proto.OutcomeSuccess
	case pnl < 0:
		label = proto.OutcomeFailure
	}

	outcome := proto.NewEvent(a.id, proto.KindOutcome, a.category,
		fmt.Sprintf("paper fill for %s on %s: pnl %.2f (%s)", decisionID, ev.Symbol, pnl, label))
	outcome.Symbol = ev.Symbol
	outcome.Significance = 0.8
	outcome.Outcome = label
	outcome.SetPayload("decision_id", decisionID)
	outcome.SetPayload("pnl", pnl)

	if _, err := a.emitter.Ingest(ctx, outcome); err != nil {
		a.logger.Warn("paper outcome for %s not ingested: %v", decisionID, err)
	}
	return nil
}
