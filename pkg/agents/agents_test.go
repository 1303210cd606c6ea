package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
	"tradecore/pkg/router"
)

func tickAt(seq int64, t time.Time, quotes map[string]Quote) TickContext {
	return TickContext{TickID: proto.NewTickID(), Seq: seq, Time: t, Quotes: quotes}
}

// inSession is a weekday moment inside the regular US equity session (UTC).
var inSession = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

func TestBuildRosterCoversRegistry(t *testing.T) {
	cfg := config.Default()
	roster, err := BuildRoster(cfg, Deps{Gates: &cfg.RiskGates})
	require.NoError(t, err)
	require.Len(t, roster, len(cfg.Agents))

	seen := make(map[string]bool)
	for _, a := range roster {
		seen[a.GetID()] = true
	}
	for _, role := range cfg.Agents {
		assert.True(t, seen[role.ID], "registry role %s must be instantiated", role.ID)
	}

	_, ok := FindQuoteProvider(roster)
	assert.True(t, ok, "the market data seat supplies quote snapshots")
}

func TestUnknownCategoryFailsRosterBuild(t *testing.T) {
	_, err := New(config.AgentRole{ID: "mystery", Category: "astrology"}, Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, proto.ErrValidation)
}

func TestRSIAgentFlagsOversold(t *testing.T) {
	agent := newRSIAgent(config.AgentRole{ID: "rsi-momentum", Category: proto.RoleSignalGeneration})
	ctx := context.Background()

	var sig *proto.Signal
	var err error
	price := 100.0
	for seq := int64(0); seq < 16; seq++ {
		price -= 1.0
		sig, err = agent.ProduceSignal(ctx, tickAt(seq, inSession, map[string]Quote{
			"AAPL": {Symbol: "AAPL", Price: price, Volume: 1000},
		}))
		require.NoError(t, err)
	}

	require.NotNil(t, sig, "a straight decline must read as oversold")
	assert.Equal(t, proto.ActionBuy, sig.Action)
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Greater(t, sig.Confidence, 0.5)
	require.NoError(t, sig.Validate())
}

func TestSessionTimingHoldsAfterHours(t *testing.T) {
	agent := newSessionTimingAgent(config.AgentRole{ID: "session-timing", Category: proto.RoleTiming})
	quotes := map[string]Quote{"SPY": {Symbol: "SPY", Price: 500}}

	afterHours := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	sig, err := agent.ProduceSignal(context.Background(), tickAt(1, afterHours, quotes))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, proto.ActionHold, sig.Action)

	sig, err = agent.ProduceSignal(context.Background(), tickAt(2, inSession, quotes))
	require.NoError(t, err)
	assert.Nil(t, sig, "inside the session the timing seat abstains")
}

func TestStrategyRulesVetoesConflict(t *testing.T) {
	agent := newStrategyRulesAgent(config.AgentRole{ID: "strategy-rules", Category: proto.RoleRuleValidation})
	ctx := context.Background()

	buy := proto.NewEvent("rsi-momentum", proto.KindSignal, proto.RoleSignalGeneration, "long setup on nvda")
	buy.Symbol = "NVDA"
	buy.Significance = 0.5
	buy.SetPayload("action", string(proto.ActionBuy))
	require.NoError(t, agent.ConsumeEvent(ctx, buy))

	sell := proto.NewEvent("vwap-trend", proto.KindSignal, proto.RoleSignalGeneration, "fade setup on nvda")
	sell.Symbol = "NVDA"
	sell.Significance = 0.5
	sell.SetPayload("action", string(proto.ActionSell))
	require.NoError(t, agent.ConsumeEvent(ctx, sell))

	sig, err := agent.ProduceSignal(ctx, tickAt(1, time.Now().UTC(), map[string]Quote{"NVDA": {Symbol: "NVDA"}}))
	require.NoError(t, err)
	require.NotNil(t, sig, "opposed directions on one symbol must draw a veto")
	assert.Equal(t, proto.ActionHold, sig.Action)
	assert.Equal(t, "NVDA", sig.Symbol)
}

func TestExposureRiskHoldsAtPositionCap(t *testing.T) {
	gates := &config.RiskGates{MaxOpenPositions: 2, MaxDailyLossUSD: 1000, DefaultExposure: 10000}
	agent := newExposureRiskAgent(
		config.AgentRole{ID: "exposure-risk", Category: proto.RoleRisk}, Deps{Gates: gates})
	ctx := context.Background()

	for _, sym := range []string{"AAPL", "MSFT"} {
		ev := proto.NewEvent("coordinator", proto.KindDecision, proto.RoleCoordination, "approved entry on "+sym)
		ev.Symbol = sym
		ev.Significance = 0.6
		require.NoError(t, agent.ConsumeEvent(ctx, ev))
	}

	sig, err := agent.ProduceSignal(ctx, tickAt(1, inSession, map[string]Quote{"NVDA": {Symbol: "NVDA"}}))
	require.NoError(t, err)
	require.NotNil(t, sig, "at the position cap the risk seat votes hold")
	assert.Equal(t, proto.ActionHold, sig.Action)
	assert.GreaterOrEqual(t, sig.Risk, 0.9)
}

type captureEmitter struct {
	events []*proto.Event
}

func (c *captureEmitter) Ingest(_ context.Context, ev *proto.Event) (*router.IngestResult, error) {
	c.events = append(c.events, ev)
	return &router.IngestResult{}, nil
}

func approvedDecisionEvent(symbol string, consensus, risk float64) *proto.Event {
	ev := proto.NewEvent("coordinator", proto.KindDecision, proto.RoleCoordination, "approved decision on "+symbol)
	ev.Symbol = symbol
	ev.Significance = 0.7
	ev.SetPayload("decision_id", "dec-123")
	ev.SetPayload("verdict", string(proto.VerdictApproved))
	ev.SetPayload("consensus", consensus)
	ev.SetPayload("risk", risk)
	return ev
}

func TestPaperExecutorReportsOutcome(t *testing.T) {
	emitter := &captureEmitter{}
	agent := newPaperExecutorAgent(
		config.AgentRole{ID: "paper-executor", Category: proto.RoleExecution}, Deps{Emitter: emitter})

	require.NoError(t, agent.ConsumeEvent(context.Background(), approvedDecisionEvent("AAPL", 0.8, 0.3)))

	require.Len(t, emitter.events, 1)
	outcome := emitter.events[0]
	assert.Equal(t, proto.KindOutcome, outcome.Kind)
	assert.Equal(t, proto.OutcomeSuccess, outcome.Outcome)
	id, _ := outcome.GetPayload("decision_id")
	assert.Equal(t, "dec-123", id)
	pnl, _ := outcome.GetPayload("pnl")
	assert.InDelta(t, 50.0, pnl, 1e-9)
}

func TestPaperExecutorIgnoresRejectedDecisions(t *testing.T) {
	emitter := &captureEmitter{}
	agent := newPaperExecutorAgent(
		config.AgentRole{ID: "paper-executor", Category: proto.RoleExecution}, Deps{Emitter: emitter})

	ev := approvedDecisionEvent("AAPL", 0.8, 0.3)
	ev.SetPayload("verdict", string(proto.VerdictRejected))
	require.NoError(t, agent.ConsumeEvent(context.Background(), ev))
	assert.Empty(t, emitter.events)
}

func TestMarketDataDeterministic(t *testing.T) {
	agent := newMarketDataAgent(
		config.AgentRole{ID: "market-data", Category: proto.RoleService}, Deps{})
	provider, ok := agent.(QuoteProvider)
	require.True(t, ok)

	a := provider.Quotes(42)
	b := provider.Quotes(42)
	assert.Equal(t, a, b, "snapshots replay identically for the same tick")
	require.Contains(t, a, "AAPL")
	assert.Positive(t, a["AAPL"].Price)
	assert.Positive(t, a["AAPL"].Volume)
}

func TestPortfolioLedgerTracksRealizedPnL(t *testing.T) {
	agent := newPortfolioLedgerAgent(
		config.AgentRole{ID: "portfolio-ledger", Category: proto.RoleService})
	ledger := agent.(*portfolioLedgerAgent)
	ctx := context.Background()

	for _, pnl := range []float64{40, -15} {
		ev := proto.NewEvent("paper-executor", proto.KindOutcome, proto.RoleExecution, "paper fill")
		ev.Significance = 0.8
		ev.SetPayload("pnl", pnl)
		require.NoError(t, agent.ConsumeEvent(ctx, ev))
	}

	total, fills := ledger.Book()
	assert.InDelta(t, 25.0, total, 1e-9)
	assert.Equal(t, 2, fills)
}
