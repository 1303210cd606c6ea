package agents

import (
	"context"
	"math"
	"time"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
)

// Regular US equity session in UTC (09:30-16:00 Eastern, standard time).
const (
	sessionOpenUTC  = 14*time.Hour + 30*time.Minute
	sessionCloseUTC = 21 * time.Hour
)

// sessionTimingAgent votes to stay flat outside the regular session.
type sessionTimingAgent struct {
	BaseAgent
}

func newSessionTimingAgent(role config.AgentRole) Agent {
	return &sessionTimingAgent{BaseAgent: newBaseAgent(role)}
}

func (a *sessionTimingAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	t := tick.Time.UTC()
	sinceMidnight := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute
	if sinceMidnight >= sessionOpenUTC && sinceMidnight < sessionCloseUTC {
		return nil, nil
	}

	for sym := range tick.Quotes {
		return proto.NewSignal(a.id, sym, proto.ActionHold, 0.9, 0.1), nil
	}
	return nil, nil
}

// volatilityWindowAgent votes hold when realized volatility spikes past the
// comfortable band.
type volatilityWindowAgent struct {
	BaseAgent
	returns map[string][]float64
	last    map[string]float64
}

const volWindow = 10

func newVolatilityWindowAgent(role config.AgentRole) Agent {
	return &volatilityWindowAgent{
		BaseAgent: newBaseAgent(role),
		returns:   make(map[string][]float64),
		last:      make(map[string]float64),
	}
}

func (a *volatilityWindowAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	for sym, q := range tick.Quotes {
		if prev, ok := a.last[sym]; ok && prev > 0 {
			r := append(a.returns[sym], (q.Price-prev)/prev)
			if len(r) > volWindow {
				r = r[len(r)-volWindow:]
			}
			a.returns[sym] = r
		}
		a.last[sym] = q.Price
	}

	for sym, r := range a.returns {
		if len(r) < volWindow {
			continue
		}
		if stdev(r) > 0.02 {
			return proto.NewSignal(a.id, sym, proto.ActionHold, 0.8, 0.8), nil
		}
	}
	return nil, nil
}

func stdev(samples []float64) float64 {
	var mean float64
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))

	var variance float64
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	return math.Sqrt(variance / float64(len(samples)))
}

// strategyRulesAgent vetoes symbols where the signal generators disagree on
// direction within the current window.
type strategyRulesAgent struct {
	BaseAgent
}

func newStrategyRulesAgent(role config.AgentRole) Agent {
	return &strategyRulesAgent{BaseAgent: newBaseAgent(role)}
}

func (a *strategyRulesAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	cutoff := tick.Time.Add(-time.Minute)
	directions := make(map[string]map[string]bool)
	for _, ev := range a.recentEvents() {
		if ev.Kind != proto.KindSignal || ev.Timestamp.Before(cutoff) {
			continue
		}
		action, ok := ev.GetPayload("action")
		if !ok {
			continue
		}
		dir, ok := action.(string)
		if !ok || (dir != string(proto.ActionBuy) && dir != string(proto.ActionSell)) {
			continue
		}
		if directions[ev.Symbol] == nil {
			directions[ev.Symbol] = make(map[string]bool)
		}
		directions[ev.Symbol][dir] = true
	}

	for sym, dirs := range directions {
		if len(dirs) > 1 {
			return proto.NewSignal(a.id, sym, proto.ActionHold, 0.85, 0.2), nil
		}
	}
	return nil, nil
}

// washSaleWindow is the lookback during which a re-entry after a realized
// loss gets flagged.
const washSaleWindow = 30 * 24 * time.Hour

// taxLotRulesAgent flags symbols with a recent realized loss, where buying
// back would void the loss for tax purposes.
type taxLotRulesAgent struct {
	BaseAgent
}

func newTaxLotRulesAgent(role config.AgentRole) Agent {
	return &taxLotRulesAgent{BaseAgent: newBaseAgent(role)}
}

func (a *taxLotRulesAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	cutoff := tick.Time.Add(-washSaleWindow)
	for _, ev := range a.recentEvents() {
		if ev.Kind != proto.KindOutcome || ev.Outcome != proto.OutcomeFailure {
			continue
		}
		if ev.Symbol == "" || ev.Timestamp.Before(cutoff) {
			continue
		}
		if _, inPlay := tick.Quotes[ev.Symbol]; inPlay {
			return proto.NewSignal(a.id, ev.Symbol, proto.ActionHold, 0.7, 0.3), nil
		}
	}
	return nil, nil
}

// exposureRiskAgent counts open exposure from consumed execution traffic and
// votes hold as the position cap approaches.
type exposureRiskAgent struct {
	BaseAgent
	gates *config.RiskGates
}

func newExposureRiskAgent(role config.AgentRole, deps Deps) Agent {
	return &exposureRiskAgent{BaseAgent: newBaseAgent(role), gates: deps.Gates}
}

func (a *exposureRiskAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	if a.gates == nil {
		return nil, nil
	}

	open := make(map[string]bool)
	for _, ev := range a.recentEvents() {
		switch ev.Kind {
		case proto.KindDecision:
			if ev.Symbol != "" {
				open[ev.Symbol] = true
			}
		case proto.KindOutcome:
			if ev.Outcome.IsTerminal() {
				delete(open, ev.Symbol)
			}
		}
	}

	if len(open) >= a.gates.MaxOpenPositions {
		for sym := range tick.Quotes {
			return proto.NewSignal(a.id, sym, proto.ActionHold, 0.9, 0.9), nil
		}
	}
	return nil, nil
}

// drawdownRiskAgent accumulates realized pnl from outcome traffic and votes
// hold as the daily loss limit approaches.
type drawdownRiskAgent struct {
	BaseAgent
	gates *config.RiskGates
}

func newDrawdownRiskAgent(role config.AgentRole, deps Deps) Agent {
	return &drawdownRiskAgent{BaseAgent: newBaseAgent(role), gates: deps.Gates}
}

func (a *drawdownRiskAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	if a.gates == nil {
		return nil, nil
	}

	dayStart := tick.Time.Truncate(24 * time.Hour)
	var realized float64
	for _, ev := range a.recentEvents() {
		if ev.Kind != proto.KindOutcome || ev.Timestamp.Before(dayStart) {
			continue
		}
		if pnl, ok := ev.GetPayload("pnl"); ok {
			if v, ok := pnl.(float64); ok {
				realized += v
			}
		}
	}

	if realized <= -0.8*a.gates.MaxDailyLossUSD {
		for sym := range tick.Quotes {
			return proto.NewSignal(a.id, sym, proto.ActionHold, 0.95, 0.95), nil
		}
	}
	return nil, nil
}
