package coordinator

import (
	"math"
	"sort"

	"tradecore/pkg/proto"
)

// weightedSignal pairs a collected signal with its emitter's learned weight.
type weightedSignal struct {
	Signal *proto.Signal
	Weight float64
}

// candidate is one (symbol, action) group's weighted consensus.
type candidate struct {
	Symbol       string
	Action       proto.ActionKind
	Consensus    float64
	Risk         float64
	SignalIDs    []string
	Contributors []string
}

type consensusBucket struct {
	confSum float64
	riskSum float64
	wSum    float64
	ids     []string
	agents  map[string]bool
}

// synthesize groups signals by (symbol, action) and computes each group's
// weight-normalized consensus and risk. Duplicate signal ids are counted
// once; input order never affects the result.
func synthesize(signals []weightedSignal) []candidate {
	seen := make(map[string]bool, len(signals))
	buckets := make(map[string]*consensusBucket)
	for _, ws := range signals {
		sig := ws.Signal
		if sig == nil || seen[sig.ID] || ws.Weight <= 0 {
			continue
		}
		seen[sig.ID] = true

		key := sig.Symbol + "|" + string(sig.Action)
		b := buckets[key]
		if b == nil {
			b = &consensusBucket{agents: make(map[string]bool)}
			buckets[key] = b
		}
		b.confSum += sig.Confidence * ws.Weight
		b.riskSum += sig.Risk * ws.Weight
		b.wSum += ws.Weight
		b.ids = append(b.ids, sig.ID)
		b.agents[sig.AgentID] = true
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]candidate, 0, len(buckets))
	for _, key := range keys {
		b := buckets[key]
		sym, action := splitKey(key)
		c := candidate{
			Symbol:    sym,
			Action:    action,
			Consensus: b.confSum / b.wSum,
			Risk:      b.riskSum / b.wSum,
			SignalIDs: append([]string(nil), b.ids...),
		}
		sort.Strings(c.SignalIDs)
		for agent := range b.agents {
			c.Contributors = append(c.Contributors, agent)
		}
		sort.Strings(c.Contributors)
		out = append(out, c)
	}
	return out
}

const consensusEpsilon = 1e-9

// pick selects the winning candidate: highest consensus, ties broken by
// lower risk. A residual exact tie, or a winner below the consensus floor,
// yields no decision.
func pick(cands []candidate, minConsensus float64) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}

	best := cands[0]
	tied := false
	for _, c := range cands[1:] {
		switch {
		case c.Consensus > best.Consensus+consensusEpsilon:
			best, tied = c, false
		case math.Abs(c.Consensus-best.Consensus) <= consensusEpsilon:
			switch {
			case c.Risk < best.Risk-consensusEpsilon:
				best, tied = c, false
			case math.Abs(c.Risk-best.Risk) <= consensusEpsilon:
				tied = true
			}
		}
	}
	if tied || best.Consensus < minConsensus {
		return candidate{}, false
	}
	return best, true
}

func splitKey(key string) (string, proto.ActionKind) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], proto.ActionKind(key[i+1:])
		}
	}
	return key, proto.ActionNone
}
