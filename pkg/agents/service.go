package agents

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
)

// defaultSymbols is the synthetic universe when the config names none.
var defaultSymbols = []string{"AAPL", "MSFT", "NVDA", "SPY"}

// marketDataAgent produces the per-tick quote snapshot. Without a live feed
// it synthesizes a deterministic seeded walk so the rest of the pipeline has
// realistic-looking inputs to chew on.
type marketDataAgent struct {
	BaseAgent
	symbols []string
	base    map[string]float64
}

func newMarketDataAgent(role config.AgentRole, deps Deps) Agent {
	symbols := deps.Symbols
	if len(symbols) == 0 {
		symbols = defaultSymbols
	}

	base := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		h := fnv.New32a()
		_, _ = h.Write([]byte(sym))
		base[sym] = 50 + float64(h.Sum32()%400)
	}
	return &marketDataAgent{BaseAgent: newBaseAgent(role), symbols: symbols, base: base}
}

// Quotes synthesizes the snapshot for one tick. Deterministic in (symbol,
// seq) so replays are reproducible.
func (a *marketDataAgent) Quotes(seq int64) map[string]Quote {
	out := make(map[string]Quote, len(a.symbols))
	for _, sym := range a.symbols {
		b := a.base[sym]
		phase := float64(seq) / 7
		price := b * (1 + 0.01*math.Sin(phase) + 0.002*math.Sin(phase*3.7))
		prev := b * (1 + 0.01*math.Sin(phase-1.0/7))
		skew := math.Sin(phase * 1.3)
		out[sym] = Quote{
			Symbol:    sym,
			Price:     price,
			PrevClose: prev,
			Volume:    10000 + 2000*math.Abs(skew),
			BidVolume: 5000 * (1 + 0.5*skew),
			AskVolume: 5000 * (1 - 0.5*skew),
		}
	}
	return out
}

// portfolioLedgerAgent keeps the running position and realized-pnl book from
// execution traffic.
type portfolioLedgerAgent struct {
	BaseAgent

	mu          sync.Mutex
	realizedPnL float64
	fills       int
}

func newPortfolioLedgerAgent(role config.AgentRole) Agent {
	return &portfolioLedgerAgent{BaseAgent: newBaseAgent(role)}
}

func (a *portfolioLedgerAgent) ConsumeEvent(ctx context.Context, ev *proto.Event) error {
	if ev.Kind == proto.KindOutcome {
		if pnl, ok := ev.GetPayload("pnl"); ok {
			if v, ok := pnl.(float64); ok {
				a.mu.Lock()
				a.realizedPnL += v
				a.fills++
				a.mu.Unlock()
			}
		}
	}
	return a.BaseAgent.ConsumeEvent(ctx, ev)
}

// Book returns the realized pnl and fill count.
func (a *portfolioLedgerAgent) Book() (pnl float64, fills int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL, a.fills
}

// curatorEvery is how many ticks pass between curated lesson emissions.
const curatorEvery = 20

// memoryCuratorAgent periodically distills the consumed outcome traffic into
// a single high-significance lesson event, giving the admission scorer a
// consolidated record instead of many near-duplicates.
type memoryCuratorAgent struct {
	BaseAgent
	emitter EventEmitter
}

func newMemoryCuratorAgent(role config.AgentRole, deps Deps) Agent {
	return &memoryCuratorAgent{BaseAgent: newBaseAgent(role), emitter: deps.Emitter}
}

func (a *memoryCuratorAgent) ProduceSignal(ctx context.Context, tick TickContext) (*proto.Signal, error) {
	if a.emitter == nil || tick.Seq == 0 || tick.Seq%curatorEvery != 0 {
		return nil, nil
	}

	var wins, losses int
	for _, ev := range a.recentEvents() {
		if ev.Kind != proto.KindOutcome {
			continue
		}
		switch ev.Outcome {
		case proto.OutcomeSuccess:
			wins++
		case proto.OutcomeFailure:
			losses++
		}
	}
	if wins+losses == 0 {
		return nil, nil
	}

	lesson := proto.NewEvent(a.id, proto.KindOutcome, a.category,
		fmt.Sprintf("window recap: %d wins %d losses over last %d ticks, hit rate %.0f%%",
			wins, losses, curatorEvery, 100*float64(wins)/float64(wins+losses)))
	lesson.Significance = 0.9
	lesson.Outcome = proto.OutcomeNeutral

	if _, err := a.emitter.Ingest(ctx, lesson); err != nil {
		a.logger.Warn("lesson not ingested: %v", err)
	}
	return nil, nil
}
