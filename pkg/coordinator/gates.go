package coordinator

import (
	"time"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
)

// Gate failure reasons, recorded on rejected decisions.
const (
	gateMaxOpenPositions = "max_open_positions"
	gateSymbolExposure   = "symbol_exposure"
	gateMaxDailyLoss     = "max_daily_loss"
)

// positionBook tracks open notional per symbol and the day's realized pnl.
// Gating reads it; decision approval and outcome resolution mutate it.
type positionBook struct {
	gates    *config.RiskGates
	open     map[string]float64
	realized float64
	day      time.Time
}

func newPositionBook(gates *config.RiskGates) *positionBook {
	return &positionBook{gates: gates, open: make(map[string]float64)}
}

// rollover resets the daily loss accumulator when the UTC day changes.
func (p *positionBook) rollover(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(p.day) {
		p.day = day
		p.realized = 0
	}
}

func (p *positionBook) symbolCap(symbol string) float64 {
	if limit, ok := p.gates.SymbolExposureUSD[symbol]; ok {
		return limit
	}
	return p.gates.DefaultExposure
}

// check evaluates the hard constraints against a would-be entry. Every
// violated gate is reported; an empty result means the trade may proceed.
func (p *positionBook) check(symbol string, action proto.ActionKind) []string {
	if action != proto.ActionBuy && action != proto.ActionSell {
		return nil
	}

	var failures []string
	if _, held := p.open[symbol]; !held && len(p.open) >= p.gates.MaxOpenPositions {
		failures = append(failures, gateMaxOpenPositions)
	}
	if p.open[symbol]+p.gates.DefaultExposure > p.symbolCap(symbol) {
		failures = append(failures, gateSymbolExposure)
	}
	if p.realized <= -p.gates.MaxDailyLossUSD {
		failures = append(failures, gateMaxDailyLoss)
	}
	return failures
}

// opened records an approved executable decision's notional.
func (p *positionBook) opened(symbol string) {
	p.open[symbol] += p.gates.DefaultExposure
}

// closed settles a resolved decision: the position unwinds and its realized
// pnl lands in the daily accumulator.
func (p *positionBook) closed(symbol string, pnl float64) {
	if held, ok := p.open[symbol]; ok {
		remaining := held - p.gates.DefaultExposure
		if remaining <= 0 {
			delete(p.open, symbol)
		} else {
			p.open[symbol] = remaining
		}
	}
	p.realized += pnl
}

func (p *positionBook) openPositions() int {
	return len(p.open)
}
