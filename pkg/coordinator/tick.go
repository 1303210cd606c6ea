package coordinator

import (
	"context"
	"time"

	"tradecore/pkg/agents"
	"tradecore/pkg/proto"
)

// TickOnce runs one full decision cycle and returns the synthesized decision,
// if any. Run calls this on every tick; tests call it directly for
// deterministic stepping.
func (c *Coordinator) TickOnce(ctx context.Context) (*proto.Decision, error) {
	start := c.nowFunc()
	tctx, cancel := context.WithTimeout(ctx, c.cfg.Coordinator.TickDeadline())
	defer cancel()

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.state = proto.StateCollecting
	c.book.rollover(start)
	c.mu.Unlock()

	c.expirePending(ctx, start)

	tick := agents.TickContext{TickID: proto.NewTickID(), Seq: seq, Time: start.UTC()}
	if c.quotes != nil {
		tick.Quotes = c.quotes.Quotes(seq)
	}

	signals, activeFraction := c.collect(tctx, tick)
	degraded := activeFraction < c.cfg.Coordinator.MinActiveFraction
	if degraded {
		c.logger.Warn("tick %d degraded: only %.0f%% of the roster responded", seq, activeFraction*100)
	}

	defer func() {
		c.finishTick(degraded, start)
	}()

	c.publishSignals(tctx, tick.TickID, signals)
	if tctx.Err() != nil {
		c.logger.Warn("tick %d abandoned: deadline exceeded before scoring", seq)
		return nil, nil
	}

	c.setState(proto.StateScoring)
	best, ok := pick(synthesize(signals), c.cfg.Coordinator.MinConsensus)
	if ok && degraded && best.Consensus > c.cfg.Coordinator.DegradedCeiling {
		// A thin roster never gets to act with full conviction.
		best.Consensus = c.cfg.Coordinator.DegradedCeiling
	}

	if !ok {
		c.logger.Debug("tick %d: no actionable consensus from %d signals", seq, len(signals))
		return nil, nil
	}

	c.setState(proto.StateGating)
	c.mu.Lock()
	failures := c.book.check(best.Symbol, best.Action)
	c.mu.Unlock()

	c.setState(proto.StateDeciding)
	d := proto.NewDecision(tick.TickID, best.Symbol, best.Action)
	d.Consensus = best.Consensus
	d.Risk = best.Risk
	d.SignalIDs = best.SignalIDs
	d.Contributors = best.Contributors
	if len(failures) > 0 {
		d.Verdict = proto.VerdictRejected
		d.GateFailures = failures
	} else {
		d.Verdict = proto.VerdictApproved
	}

	executable := d.Verdict == proto.VerdictApproved &&
		(d.Action == proto.ActionBuy || d.Action == proto.ActionSell)
	if executable {
		c.mu.Lock()
		c.book.opened(d.Symbol)
		c.pending[d.ID] = &pendingDecision{
			decision: d,
			deadline: start.Add(c.cfg.Coordinator.OutcomeTimeout()),
		}
		c.mu.Unlock()
	} else {
		// Nothing will execute, so the decision is terminal immediately.
		now := c.nowFunc().UTC()
		d.Outcome = proto.OutcomeNeutral
		d.ResolvedAt = &now
		c.mu.Lock()
		c.pushRecentLocked(d)
		c.mu.Unlock()
	}

	c.publish(tctx, d)

	if c.rec != nil {
		c.rec.ObserveDecision(string(d.Verdict), string(d.Action), d.Consensus)
	}
	if c.audit != nil {
		c.audit.Append("decision", d)
	}
	c.logger.Info("tick %d decision %s: %s %s consensus=%.2f verdict=%s",
		seq, d.ID, d.Action, d.Symbol, d.Consensus, d.Verdict)
	return d, nil
}

// publishSignals archives the tick's signal batch and fans each signal out as
// an event, so rule validators and other listeners see the raw signal traffic
// and important signals earn memory slots. Delivery shares the tick deadline.
func (c *Coordinator) publishSignals(ctx context.Context, tickID string, signals []weightedSignal) {
	if len(signals) == 0 {
		return
	}

	batch := make([]*proto.Signal, 0, len(signals))
	for _, ws := range signals {
		batch = append(batch, ws.Signal)
	}
	if c.audit != nil {
		c.audit.Append("signals", batch)
	}

	for _, sig := range batch {
		category := proto.RoleSignalGeneration
		if role, ok := c.cfg.RoleByID(sig.AgentID); ok {
			category = role.Category
		}
		ev := proto.NewEvent(sig.AgentID, proto.KindSignal, category, sig.Summary())
		ev.Symbol = sig.Symbol
		ev.SetPayload("signal_id", sig.ID)
		ev.SetPayload("tick_id", tickID)
		ev.SetPayload("action", string(sig.Action))
		ev.SetPayload("confidence", sig.Confidence)
		ev.SetPayload("risk", sig.Risk)

		if _, err := c.out.Ingest(ctx, ev); err != nil {
			c.logger.Warn("signal %s from %s not published: %v", sig.ID, sig.AgentID, err)
		}
	}
}

// collect polls every pollable agent concurrently, each under its own
// deadline. Timed-out agents are marked degraded and excluded from this
// tick; agents that keep erroring past the threshold drop out of the
// rotation entirely.
func (c *Coordinator) collect(ctx context.Context, tick agents.TickContext) ([]weightedSignal, float64) {
	type pollResult struct {
		id       string
		sig      *proto.Signal
		err      error
		timedOut bool
	}

	c.mu.Lock()
	polled := make([]agents.Agent, 0, len(c.roster))
	for _, a := range c.roster {
		id := a.GetID()
		// Single-flight per agent: a straggler whose previous poll is still
		// running is skipped until that call returns.
		if !c.liveness[id].IsPollable() || c.inFlight[id] {
			continue
		}
		c.inFlight[id] = true
		polled = append(polled, a)
	}
	total := len(c.roster)
	c.mu.Unlock()

	resCh := make(chan pollResult, len(polled))
	for _, a := range polled {
		go func(a agents.Agent) {
			actx, cancel := context.WithTimeout(ctx, c.cfg.Coordinator.AgentTimeout())
			defer cancel()

			done := make(chan pollResult, 1)
			go func() {
				sig, err := a.ProduceSignal(actx, tick)
				c.mu.Lock()
				delete(c.inFlight, a.GetID())
				c.mu.Unlock()
				done <- pollResult{id: a.GetID(), sig: sig, err: err}
			}()

			select {
			case r := <-done:
				resCh <- r
			case <-actx.Done():
				// The straggler's goroutine finishes on its own; its late
				// result is discarded.
				resCh <- pollResult{id: a.GetID(), timedOut: true}
			}
		}(a)
	}

	var signals []weightedSignal
	responded := 0
	for range polled {
		r := <-resCh
		switch {
		case r.timedOut:
			if c.rec != nil {
				c.rec.IncAgentTimeout(r.id)
			}
			c.setLiveness(r.id, proto.LivenessDegraded, "poll timeout")
		case r.err != nil:
			c.mu.Lock()
			c.errCounts[r.id]++
			count := c.errCounts[r.id]
			c.mu.Unlock()
			c.logger.Warn("agent %s poll error (%d): %v", r.id, count, r.err)
			if count >= c.cfg.Coordinator.ErrorThreshold {
				c.setLiveness(r.id, proto.LivenessErrored, "error threshold reached")
			} else {
				c.setLiveness(r.id, proto.LivenessDegraded, "poll error")
			}
		default:
			responded++
			c.mu.Lock()
			c.errCounts[r.id] = 0
			c.mu.Unlock()
			c.setLiveness(r.id, proto.LivenessActive, "poll ok")
			if r.sig == nil {
				continue
			}
			if err := r.sig.Validate(); err != nil {
				c.logger.Warn("agent %s emitted an invalid signal: %v", r.id, err)
				continue
			}
			c.mu.Lock()
			w := c.weights[r.id]
			c.mu.Unlock()
			signals = append(signals, weightedSignal{Signal: r.sig, Weight: w})
		}
	}

	if total == 0 {
		return signals, 0
	}
	return signals, float64(responded) / float64(total)
}

// publish archives the decision and fans it out to the execution seats. An
// outcome can come back synchronously during the fan-out, before the memory
// record id is known; attachRecord reconciles that case.
func (c *Coordinator) publish(ctx context.Context, d *proto.Decision) {
	ev := proto.NewEvent(coordinatorID, proto.KindDecision, proto.RoleCoordination, d.Summary())
	ev.Symbol = d.Symbol
	ev.Significance = d.Consensus
	if d.Outcome.IsTerminal() {
		ev.Outcome = d.Outcome
	}
	ev.SetPayload("decision_id", d.ID)
	ev.SetPayload("verdict", string(d.Verdict))
	ev.SetPayload("action", string(d.Action))
	ev.SetPayload("consensus", d.Consensus)
	ev.SetPayload("risk", d.Risk)

	res, err := c.out.Ingest(ctx, ev)
	if err != nil {
		c.logger.Error("decision %s not published: %v", d.ID, err)
		return
	}
	if c.rec != nil {
		c.rec.ObserveAdmission(res.Stored)
	}
	if res.RecordID != "" {
		c.attachRecord(ctx, d.ID, res.RecordID)
	}
}

// attachRecord links the archived memory record to the pending decision, or
// applies an outcome that arrived before archival finished.
func (c *Coordinator) attachRecord(ctx context.Context, decisionID, recordID string) {
	c.mu.Lock()
	if entry, ok := c.pending[decisionID]; ok {
		entry.recordID = recordID
		c.mu.Unlock()
		return
	}
	label, early := c.earlyOutcomes[decisionID]
	delete(c.earlyOutcomes, decisionID)
	c.mu.Unlock()

	if early {
		if err := c.store.UpdateOutcome(ctx, recordID, label); err != nil {
			c.logger.Warn("late memory outcome update for %s failed: %v", recordID, err)
		}
	}
}

// expirePending times out pending decisions whose outcome never arrived.
// They resolve neutral: nothing was learned, weights stay put.
func (c *Coordinator) expirePending(ctx context.Context, now time.Time) {
	c.mu.Lock()
	var expired []*pendingDecision
	for id, entry := range c.pending {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
			delete(c.pending, id)
		}
	}
	for _, entry := range expired {
		d := entry.decision
		ts := now.UTC()
		d.Outcome = proto.OutcomeNeutral
		d.ResolvedAt = &ts
		c.book.closed(d.Symbol, 0)
		c.pushRecentLocked(d)
	}
	pendingLeft := len(c.pending)
	c.mu.Unlock()

	for _, entry := range expired {
		c.logger.Warn("decision %s outcome timed out, resolved neutral", entry.decision.ID)
		if c.rec != nil {
			c.rec.ObserveOutcome(string(proto.OutcomeNeutral))
		}
		if c.audit != nil {
			c.audit.Append("outcome_timeout", entry.decision)
		}
		if entry.recordID != "" {
			if err := c.store.UpdateOutcome(ctx, entry.recordID, proto.OutcomeNeutral); err != nil {
				c.logger.Warn("memory outcome update for %s failed: %v", entry.recordID, err)
			}
		}
	}
	if len(expired) > 0 && c.rec != nil {
		c.rec.SetPendingDecisions(pendingLeft)
	}
}

func (c *Coordinator) setState(s proto.TickState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// finishTick settles the visible state after a cycle: awaiting outcomes if
// any are pending, otherwise idle.
func (c *Coordinator) finishTick(degraded bool, start time.Time) {
	c.mu.Lock()
	c.lastDegraded = degraded
	if len(c.pending) > 0 {
		c.state = proto.StateAwaitingOutcome
	} else {
		c.state = proto.StateIdle
	}
	pendingLeft := len(c.pending)
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.ObserveTick(degraded, c.nowFunc().Sub(start))
		c.rec.SetPendingDecisions(pendingLeft)
	}
}
