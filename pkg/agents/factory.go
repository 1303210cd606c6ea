package agents

import (
	"fmt"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
)

// New builds the agent for one registry role. The set of constructors is
// closed: known role ids get their dedicated implementation, anything else
// falls back to the generic behavior for its category.
func New(role config.AgentRole, deps Deps) (Agent, error) {
	switch role.ID {
	case "rsi-momentum":
		return newRSIAgent(role), nil
	case "vwap-trend":
		return newVWAPAgent(role), nil
	case "orderflow-imbalance":
		return newImbalanceAgent(role), nil
	case "news-sentiment":
		return newSentimentAgent(role, deps), nil
	case "session-timing":
		return newSessionTimingAgent(role), nil
	case "volatility-window":
		return newVolatilityWindowAgent(role), nil
	case "strategy-rules":
		return newStrategyRulesAgent(role), nil
	case "tax-lot-rules":
		return newTaxLotRulesAgent(role), nil
	case "exposure-risk":
		return newExposureRiskAgent(role, deps), nil
	case "drawdown-risk":
		return newDrawdownRiskAgent(role, deps), nil
	case "order-executor":
		return newOrderExecutorAgent(role), nil
	case "paper-executor":
		return newPaperExecutorAgent(role, deps), nil
	case "memory-curator":
		return newMemoryCuratorAgent(role, deps), nil
	case "market-data":
		return newMarketDataAgent(role, deps), nil
	case "portfolio-ledger":
		return newPortfolioLedgerAgent(role), nil
	}

	return newForCategory(role, deps)
}

// newForCategory covers registry entries with ids the closed set does not
// know: they get the representative implementation for their category.
func newForCategory(role config.AgentRole, deps Deps) (Agent, error) {
	switch role.Category {
	case proto.RoleSignalGeneration:
		return newRSIAgent(role), nil
	case proto.RoleTiming:
		return newSessionTimingAgent(role), nil
	case proto.RoleRuleValidation:
		return newStrategyRulesAgent(role), nil
	case proto.RoleRisk:
		return newExposureRiskAgent(role, deps), nil
	case proto.RoleExecution:
		return newPaperExecutorAgent(role, deps), nil
	case proto.RoleMemory:
		return newMemoryCuratorAgent(role, deps), nil
	case proto.RoleService:
		return newMarketDataAgent(role, deps), nil
	default:
		return nil, fmt.Errorf("%w: no constructor for category %q (role %q)",
			proto.ErrValidation, role.Category, role.ID)
	}
}

// BuildRoster instantiates every agent in the registry.
func BuildRoster(cfg *config.Config, deps Deps) ([]Agent, error) {
	roster := make([]Agent, 0, len(cfg.Agents))
	for _, role := range cfg.Agents {
		agent, err := New(role, deps)
		if err != nil {
			return nil, fmt.Errorf("build agent %q: %w", role.ID, err)
		}
		roster = append(roster, agent)
	}
	return roster, nil
}

// FindQuoteProvider returns the first roster member able to supply market
// snapshots, if any.
func FindQuoteProvider(roster []Agent) (QuoteProvider, bool) {
	for _, a := range roster {
		if qp, ok := a.(QuoteProvider); ok {
			return qp, true
		}
	}
	return nil, false
}
