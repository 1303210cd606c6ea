package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"tradecore/pkg/proto"
)

// envVarPattern matches ${VAR} references in the raw config file.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, env-expands, parses, and validates a YAML config file. Any
// failure is returned as a ConfigurationError; the caller must treat it as
// fatal at boot.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, proto.NewConfigError("", "read %s: %v", path, err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, proto.NewConfigError("", "parse %s: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with the full fifteen-role registry and
// conservative tunables. Used as the base for file loading and directly by
// tests.
func Default() *Config {
	return &Config{
		Agents:    DefaultRoles(),
		RiskGates: RiskGates{MaxOpenPositions: 5, MaxDailyLossUSD: 1000, DefaultExposure: 10000},
		Coordinator: Coordinator{
			TickIntervalMS:    5000,
			AgentTimeoutMS:    750,
			TickDeadlineMS:    4000,
			OutcomeTimeoutMS:  300000,
			MinActiveFraction: 0.5,
			MinConsensus:      0.2,
			DegradedCeiling:   0.5,
			WeightStep:        0.05,
			WeightFloor:       0.05,
			WeightCeil:        2.0,
			RecentDecisions:   50,
			ErrorThreshold:    3,
		},
		Memory:   Memory{DataDir: "data", RetentionDays: 90, SweepIntervalMin: 60},
		Embedder: Embedder{Backend: "hash", Dimensions: 384, SummaryTokenCap: 256, OllamaHost: "http://localhost:11434", OllamaModel: "nomic-embed-text", OpenAIKeyEnv: "OPENAI_API_KEY"},
		Router: Router{
			ImportanceThreshold: 0.55,
			NoveltyProbeK:       3,
			FanoutRetries:       1,
			CacheEntries:        4096,
			CacheTTLMS:          5000,
			SimilarityWeight:    0.55,
			RecencyWeight:       0.25,
			ImportanceWeight:    0.20,
			RecencyHalfLifeMin:  240,
		},
		API:      API{ListenAddr: ":8085"},
		EventLog: EventLog{Dir: "logs/events", RotationHours: 24},
	}
}

// DefaultRoles is the static fifteen-role registry the system boots with
// when the config file does not override it.
func DefaultRoles() []AgentRole {
	subAll := []proto.RoleCategory{proto.RoleSignalGeneration, proto.RoleCoordination}
	return []AgentRole{
		// Signal generation.
		{ID: "rsi-momentum", Name: "RSI Momentum", Category: proto.RoleSignalGeneration, InitialWeight: 1.0, Significance: 0.6},
		{ID: "vwap-trend", Name: "VWAP Trend", Category: proto.RoleSignalGeneration, InitialWeight: 1.0, Significance: 0.6},
		{ID: "orderflow-imbalance", Name: "Order Flow Imbalance", Category: proto.RoleSignalGeneration, InitialWeight: 1.0, Significance: 0.7},
		{ID: "news-sentiment", Name: "News Sentiment", Category: proto.RoleSignalGeneration, InitialWeight: 1.0, Significance: 0.5},
		// Timing.
		{ID: "session-timing", Name: "Session Timing", Category: proto.RoleTiming, InitialWeight: 1.0, Significance: 0.4},
		{ID: "volatility-window", Name: "Volatility Window", Category: proto.RoleTiming, InitialWeight: 1.0, Significance: 0.5},
		// Rule validation.
		{ID: "strategy-rules", Name: "Strategy Rules", Category: proto.RoleRuleValidation, InitialWeight: 1.0, Significance: 0.6, Subscribes: []proto.RoleCategory{proto.RoleSignalGeneration}},
		{ID: "tax-lot-rules", Name: "Tax Lot Rules", Category: proto.RoleRuleValidation, InitialWeight: 1.0, Significance: 0.5, Subscribes: []proto.RoleCategory{proto.RoleExecution}},
		// Risk.
		{ID: "exposure-risk", Name: "Exposure Risk", Category: proto.RoleRisk, InitialWeight: 1.0, Significance: 0.9, Subscribes: subAll},
		{ID: "drawdown-risk", Name: "Drawdown Risk", Category: proto.RoleRisk, InitialWeight: 1.0, Significance: 0.9, Subscribes: subAll},
		// Execution.
		{ID: "order-executor", Name: "Order Executor", Category: proto.RoleExecution, InitialWeight: 1.0, Significance: 0.8, Subscribes: []proto.RoleCategory{proto.RoleCoordination}},
		{ID: "paper-executor", Name: "Paper Executor", Category: proto.RoleExecution, InitialWeight: 1.0, Significance: 0.3, Subscribes: []proto.RoleCategory{proto.RoleCoordination}},
		// Memory / learning.
		{ID: "memory-curator", Name: "Memory Curator", Category: proto.RoleMemory, InitialWeight: 1.0, Significance: 0.4, Subscribes: []proto.RoleCategory{proto.RoleCoordination, proto.RoleExecution}},
		// Service / data.
		{ID: "market-data", Name: "Market Data Feed", Category: proto.RoleService, InitialWeight: 1.0, Significance: 0.3},
		{ID: "portfolio-ledger", Name: "Portfolio Ledger", Category: proto.RoleService, InitialWeight: 1.0, Significance: 0.5, Subscribes: []proto.RoleCategory{proto.RoleExecution}},
	}
}
