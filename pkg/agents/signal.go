package agents

import (
	"context"
	"math"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
	"tradecore/pkg/router"
)

// rsiPeriod is the sample count for the relative strength calculation.
const rsiPeriod = 14

// rsiAgent flags oversold and overbought symbols from a rolling RSI.
type rsiAgent struct {
	BaseAgent
	history map[string][]float64
}

func newRSIAgent(role config.AgentRole) Agent {
	return &rsiAgent{BaseAgent: newBaseAgent(role), history: make(map[string][]float64)}
}

func (a *rsiAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	for sym, q := range tick.Quotes {
		h := append(a.history[sym], q.Price)
		if len(h) > rsiPeriod+1 {
			h = h[len(h)-rsiPeriod-1:]
		}
		a.history[sym] = h
	}

	for sym, h := range a.history {
		if len(h) < rsiPeriod+1 {
			continue
		}
		rsi := relativeStrength(h)
		switch {
		case rsi < 30:
			conf := clamp01(0.5 + (30-rsi)/60)
			return proto.NewSignal(a.id, sym, proto.ActionBuy, conf, 0.4), nil
		case rsi > 70:
			conf := clamp01(0.5 + (rsi-70)/60)
			return proto.NewSignal(a.id, sym, proto.ActionSell, conf, 0.4), nil
		}
	}
	return nil, nil
}

func relativeStrength(prices []float64) float64 {
	var gains, losses float64
	for i := 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		if gains == 0 {
			return 50
		}
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// vwapAgent trades reversion to the session volume-weighted average price.
type vwapAgent struct {
	BaseAgent
	priceVolume map[string]float64
	volume      map[string]float64
}

func newVWAPAgent(role config.AgentRole) Agent {
	return &vwapAgent{
		BaseAgent:   newBaseAgent(role),
		priceVolume: make(map[string]float64),
		volume:      make(map[string]float64),
	}
}

func (a *vwapAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	for sym, q := range tick.Quotes {
		if q.Volume <= 0 {
			continue
		}
		a.priceVolume[sym] += q.Price * q.Volume
		a.volume[sym] += q.Volume
	}

	for sym, q := range tick.Quotes {
		vol := a.volume[sym]
		if vol <= 0 {
			continue
		}
		vwap := a.priceVolume[sym] / vol
		stretch := (q.Price - vwap) / vwap
		switch {
		case stretch > 0.004:
			return proto.NewSignal(a.id, sym, proto.ActionBuy, clamp01(0.5+stretch*50), 0.5), nil
		case stretch < -0.004:
			return proto.NewSignal(a.id, sym, proto.ActionSell, clamp01(0.5-stretch*50), 0.5), nil
		}
	}
	return nil, nil
}

// imbalanceAgent reads one-sided resting liquidity as directional pressure.
type imbalanceAgent struct {
	BaseAgent
}

func newImbalanceAgent(role config.AgentRole) Agent {
	return &imbalanceAgent{BaseAgent: newBaseAgent(role)}
}

func (a *imbalanceAgent) ProduceSignal(_ context.Context, tick TickContext) (*proto.Signal, error) {
	for sym, q := range tick.Quotes {
		total := q.BidVolume + q.AskVolume
		if total <= 0 {
			continue
		}
		imbalance := (q.BidVolume - q.AskVolume) / total
		if math.Abs(imbalance) < 0.3 {
			continue
		}
		action := proto.ActionBuy
		if imbalance < 0 {
			action = proto.ActionSell
		}
		return proto.NewSignal(a.id, sym, action, clamp01(math.Abs(imbalance)), 0.6), nil
	}
	return nil, nil
}

// sentimentAgent leans on remembered outcomes: when memory holds successful
// precedents for a symbol it nudges in the remembered direction.
type sentimentAgent struct {
	BaseAgent
	memory MemoryReader
}

func newSentimentAgent(role config.AgentRole, deps Deps) Agent {
	return &sentimentAgent{BaseAgent: newBaseAgent(role), memory: deps.Memory}
}

func (a *sentimentAgent) ProduceSignal(ctx context.Context, tick TickContext) (*proto.Signal, error) {
	if a.memory == nil {
		return nil, nil
	}

	for sym := range tick.Quotes {
		hits, err := a.memory.Retrieve(ctx, router.Query{
			AgentID: a.id,
			Text:    "news sentiment driving " + sym,
			Symbol:  sym,
			Kind:    proto.KindOutcome,
			K:       3,
		})
		if err != nil {
			a.logger.Debug("memory lookup failed for %s: %v", sym, err)
			continue
		}

		var score float64
		for _, h := range hits {
			if h.Outcome == proto.OutcomeSuccess {
				score += h.Score
			}
		}
		if score > 0.8 {
			return proto.NewSignal(a.id, sym, proto.ActionBuy, clamp01(score/2), 0.5), nil
		}
	}
	return nil, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
