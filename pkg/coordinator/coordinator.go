// Package coordinator runs the decision tick: poll the roster for signals,
// synthesize a weighted consensus, apply the hard risk gates, publish the
// decision, and learn from reported outcomes by nudging agent weights.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/pkg/agents"
	"tradecore/pkg/config"
	"tradecore/pkg/eventlog"
	"tradecore/pkg/logx"
	"tradecore/pkg/memory"
	"tradecore/pkg/metrics"
	"tradecore/pkg/proto"
	"tradecore/pkg/router"
)

// coordinatorID is the roster id the coordinator itself uses on the event bus.
const coordinatorID = "coordinator"

// pendingDecision is one approved decision waiting for its outcome report.
type pendingDecision struct {
	decision *proto.Decision
	recordID string
	deadline time.Time
}

// Coordinator owns the tick loop and all decision state. One instance per
// process; all exported methods are safe for concurrent use.
type Coordinator struct {
	cfg     *config.Config
	roster  []agents.Agent
	quotes  agents.QuoteProvider
	out     *router.OutputRouter
	store   *memory.Store
	audit   *eventlog.Writer
	rec     *metrics.Recorder
	logger  *logx.Logger
	errCh   chan error
	nowFunc func() time.Time

	mu        sync.Mutex
	state     proto.TickState
	seq       int64
	weights   map[string]float64
	liveness  map[string]proto.LivenessState
	errCounts map[string]int
	// Agents whose last poll has not returned yet; skipped until it does.
	inFlight map[string]bool
	pending  map[string]*pendingDecision
	// Outcomes that arrived before the decision's memory archival finished.
	earlyOutcomes map[string]proto.OutcomeLabel
	recent        []*proto.Decision
	book          *positionBook
	lastDegraded  bool
}

// New assembles the coordinator over an already-built roster.
func New(cfg *config.Config, roster []agents.Agent, out *router.OutputRouter,
	store *memory.Store, audit *eventlog.Writer, rec *metrics.Recorder) *Coordinator {
	c := &Coordinator{
		cfg:           cfg,
		roster:        roster,
		out:           out,
		store:         store,
		audit:         audit,
		rec:           rec,
		logger:        logx.NewLogger("coordinator"),
		errCh:         make(chan error, 1),
		nowFunc:       time.Now,
		state:         proto.StateIdle,
		weights:       make(map[string]float64, len(cfg.Agents)),
		liveness:      make(map[string]proto.LivenessState, len(roster)),
		errCounts:     make(map[string]int),
		inFlight:      make(map[string]bool),
		pending:       make(map[string]*pendingDecision),
		earlyOutcomes: make(map[string]proto.OutcomeLabel),
		book:          newPositionBook(&cfg.RiskGates),
	}

	for _, role := range cfg.Agents {
		c.weights[role.ID] = role.InitialWeight
		if rec != nil {
			rec.SetAgentWeight(role.ID, role.InitialWeight)
		}
	}
	for _, a := range roster {
		c.liveness[a.GetID()] = proto.LivenessStarting
	}
	if qp, ok := agents.FindQuoteProvider(roster); ok {
		c.quotes = qp
	}
	return c
}

// GetID implements the event bus subscriber identity.
func (c *Coordinator) GetID() string { return coordinatorID }

// Subscriptions: the coordinator listens to execution traffic so reported
// outcomes close the loop on pending decisions.
func (c *Coordinator) Subscriptions() []proto.RoleCategory {
	return []proto.RoleCategory{proto.RoleExecution}
}

// ConsumeEvent resolves pending decisions from outcome events carrying a
// decision_id payload.
func (c *Coordinator) ConsumeEvent(ctx context.Context, ev *proto.Event) error {
	if ev.Kind != proto.KindOutcome {
		return nil
	}
	idVal, ok := ev.GetPayload("decision_id")
	if !ok {
		return nil
	}
	decisionID, ok := idVal.(string)
	if !ok || decisionID == "" {
		return nil
	}

	label := ev.Outcome
	if !label.IsTerminal() {
		label = proto.OutcomeNeutral
	}
	var pnl float64
	if v, found := ev.GetPayload("pnl"); found {
		pnl, _ = v.(float64)
	}
	return c.resolve(ctx, decisionID, label, pnl)
}

// ReportOutcome marks a pending decision resolved with a terminal label.
func (c *Coordinator) ReportOutcome(ctx context.Context, decisionID string, label proto.OutcomeLabel) error {
	if !label.IsTerminal() {
		return fmt.Errorf("%w: outcome %q is not terminal", proto.ErrValidation, label)
	}
	return c.resolve(ctx, decisionID, label, 0)
}

// resolve settles one pending decision: label it, update the archived memory
// record, nudge contributor weights, and move it to the recent ring.
func (c *Coordinator) resolve(ctx context.Context, decisionID string, label proto.OutcomeLabel, pnl float64) error {
	c.mu.Lock()
	entry, ok := c.pending[decisionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: no pending decision %s", proto.ErrNotFound, decisionID)
	}
	delete(c.pending, decisionID)

	d := entry.decision
	now := c.nowFunc().UTC()
	d.Outcome = label
	d.ResolvedAt = &now
	c.book.closed(d.Symbol, pnl)
	c.adjustWeightsLocked(d.Contributors, label)
	c.pushRecentLocked(d)
	recordID := entry.recordID
	if recordID == "" {
		// Archival has not finished yet; the tick loop applies the label once
		// the record id is known.
		c.earlyOutcomes[decisionID] = label
	}
	pendingLeft := len(c.pending)
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.ObserveOutcome(string(label))
		c.rec.SetPendingDecisions(pendingLeft)
	}
	if c.audit != nil {
		c.audit.Append("outcome", d)
	}
	c.logger.Info("decision %s resolved %s (pnl %.2f)", decisionID, label, pnl)

	if recordID != "" {
		if err := c.store.UpdateOutcome(ctx, recordID, label); err != nil {
			c.logger.Warn("memory outcome update for %s failed: %v", recordID, err)
		}
	}
	return nil
}

// adjustWeightsLocked applies the bounded learning rule. Success rewards
// every contributor by one step, failure penalizes by one step, neutral
// leaves weights alone. Weights never leave [floor, ceil]. Caller holds mu.
func (c *Coordinator) adjustWeightsLocked(contributors []string, label proto.OutcomeLabel) {
	var delta float64
	switch label {
	case proto.OutcomeSuccess:
		delta = c.cfg.Coordinator.WeightStep
	case proto.OutcomeFailure:
		delta = -c.cfg.Coordinator.WeightStep
	default:
		return
	}

	for _, id := range contributors {
		w, ok := c.weights[id]
		if !ok {
			continue
		}
		w += delta
		if w < c.cfg.Coordinator.WeightFloor {
			w = c.cfg.Coordinator.WeightFloor
		}
		if w > c.cfg.Coordinator.WeightCeil {
			w = c.cfg.Coordinator.WeightCeil
		}
		c.weights[id] = w
		if c.rec != nil {
			c.rec.SetAgentWeight(id, w)
		}
	}
}

func (c *Coordinator) pushRecentLocked(d *proto.Decision) {
	c.recent = append(c.recent, d)
	if over := len(c.recent) - c.cfg.Coordinator.RecentDecisions; over > 0 {
		c.recent = c.recent[over:]
	}
}

// Run drives the tick loop until the context is cancelled. A fatal internal
// error (a panicking tick) stops the loop and is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting: %d agents, tick every %s",
		len(c.roster), c.cfg.Coordinator.TickInterval())

	ticker := time.NewTicker(c.cfg.Coordinator.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case err := <-c.errCh:
			c.shutdown()
			return err
		case <-ticker.C:
			c.safeTick(ctx)
		}
	}
}

// safeTick converts a panicking tick into a supervisor error instead of
// taking the process down mid-loop.
func (c *Coordinator) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case c.errCh <- fmt.Errorf("tick panic: %v", r):
			default:
			}
		}
	}()
	if _, err := c.TickOnce(ctx); err != nil {
		c.logger.Error("tick failed: %v", err)
	}
}

func (c *Coordinator) shutdown() {
	c.logger.Info("coordinator stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, a := range c.roster {
		if err := a.Shutdown(ctx); err != nil {
			c.logger.Warn("agent %s shutdown: %v", a.GetID(), err)
		}
		c.setLiveness(a.GetID(), proto.LivenessStopped, "shutdown")
	}
	c.mu.Lock()
	c.state = proto.StateIdle
	c.mu.Unlock()
}

// setLiveness records a liveness transition, logging and auditing changes.
func (c *Coordinator) setLiveness(agentID string, to proto.LivenessState, reason string) {
	c.mu.Lock()
	from := c.liveness[agentID]
	if from == to {
		c.mu.Unlock()
		return
	}
	c.liveness[agentID] = to
	c.mu.Unlock()

	note := proto.StateChangeNotification{
		AgentID: agentID, From: from, To: to, Reason: reason, Timestamp: c.nowFunc().UTC(),
	}
	c.logger.Info("agent %s liveness %s -> %s (%s)", agentID, from, to, reason)
	if c.audit != nil {
		c.audit.Append("liveness", note)
	}
}

// Snapshot is the read-only operator view of coordinator state.
type Snapshot struct {
	State           proto.TickState                `json:"state"`
	Degraded        bool                           `json:"degraded"`
	TicksRun        int64                          `json:"ticks_run"`
	Weights         map[string]float64             `json:"weights"`
	Liveness        map[string]proto.LivenessState `json:"liveness"`
	OpenPositions   int                            `json:"open_positions"`
	PendingOutcomes int                            `json:"pending_outcomes"`
	RecentDecisions []*proto.Decision              `json:"recent_decisions"`
}

// Snapshot returns a copy of the observable state. Never blocks a tick for
// long; everything is copied under the same mutex the tick uses.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:           c.state,
		Degraded:        c.lastDegraded,
		TicksRun:        c.seq,
		Weights:         make(map[string]float64, len(c.weights)),
		Liveness:        make(map[string]proto.LivenessState, len(c.liveness)),
		OpenPositions:   c.book.openPositions(),
		PendingOutcomes: len(c.pending),
		RecentDecisions: make([]*proto.Decision, len(c.recent)),
	}
	for k, v := range c.weights {
		snap.Weights[k] = v
	}
	for k, v := range c.liveness {
		snap.Liveness[k] = v
	}
	copy(snap.RecentDecisions, c.recent)
	return snap
}

// Weights returns a copy of the current learned weights.
func (c *Coordinator) Weights() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.weights))
	for k, v := range c.weights {
		out[k] = v
	}
	return out
}
