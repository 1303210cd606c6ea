// Package config provides configuration loading and validation for the
// trading core. Configuration is strictly static: the agent role registry,
// risk-gate thresholds, and tunables are supplied at boot and never mutated
// at runtime. Missing or malformed configuration produces a descriptive
// ConfigurationError and prevents the coordinator from starting.
package config

import (
	"time"

	"tradecore/pkg/proto"
)

// AgentRole is one entry of the static role registry: a named, typed
// participant created at boot.
type AgentRole struct {
	ID            string               `yaml:"id"`
	Name          string               `yaml:"name"`
	Category      proto.RoleCategory   `yaml:"category"`
	InitialWeight float64              `yaml:"initial_weight"`
	Significance  float64              `yaml:"significance"`
	Subscribes    []proto.RoleCategory `yaml:"subscribes,omitempty"`
}

// RiskGates holds the hard, non-negotiable constraints applied during the
// gating phase. Any violated constraint forces verdict rejected.
type RiskGates struct {
	MaxOpenPositions  int                `yaml:"max_open_positions"`
	MaxDailyLossUSD   float64            `yaml:"max_daily_loss_usd"`
	SymbolExposureUSD map[string]float64 `yaml:"symbol_exposure_usd,omitempty"`
	DefaultExposure   float64            `yaml:"default_exposure_usd"`
}

// Coordinator holds per-tick timing and learning tunables. Durations are
// expressed in milliseconds for YAML friendliness.
type Coordinator struct {
	TickIntervalMS    int     `yaml:"tick_interval_ms"`
	AgentTimeoutMS    int     `yaml:"agent_timeout_ms"`
	TickDeadlineMS    int     `yaml:"tick_deadline_ms"`
	OutcomeTimeoutMS  int     `yaml:"outcome_timeout_ms"`
	MinActiveFraction float64 `yaml:"min_active_fraction"`
	MinConsensus      float64 `yaml:"min_consensus"`
	DegradedCeiling   float64 `yaml:"degraded_consensus_ceiling"`
	WeightStep        float64 `yaml:"weight_step"`
	WeightFloor       float64 `yaml:"weight_floor"`
	WeightCeil        float64 `yaml:"weight_ceil"`
	RecentDecisions   int     `yaml:"recent_decisions"`
	ErrorThreshold    int     `yaml:"error_threshold"`
}

func (c *Coordinator) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

func (c *Coordinator) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutMS) * time.Millisecond
}

func (c *Coordinator) TickDeadline() time.Duration {
	return time.Duration(c.TickDeadlineMS) * time.Millisecond
}

func (c *Coordinator) OutcomeTimeout() time.Duration {
	return time.Duration(c.OutcomeTimeoutMS) * time.Millisecond
}

// Memory holds the durable store layout and retention policy.
type Memory struct {
	DataDir          string `yaml:"data_dir"`
	RetentionDays    int    `yaml:"retention_days"`
	SweepIntervalMin int    `yaml:"sweep_interval_min"`
}

func (m *Memory) RetentionAge() time.Duration {
	return time.Duration(m.RetentionDays) * 24 * time.Hour
}

func (m *Memory) SweepInterval() time.Duration {
	return time.Duration(m.SweepIntervalMin) * time.Minute
}

// Embedder backend selection. "hash" is the degraded deterministic backend
// and is always available as the fallback.
type Embedder struct {
	Backend         string `yaml:"backend"` // "ollama", "openai", or "hash"
	Dimensions      int    `yaml:"dimensions"`
	OllamaHost      string `yaml:"ollama_host,omitempty"`
	OllamaModel     string `yaml:"ollama_model,omitempty"`
	OpenAIModel     string `yaml:"openai_model,omitempty"`
	OpenAIKeyEnv    string `yaml:"openai_key_env,omitempty"`
	SummaryTokenCap int    `yaml:"summary_token_cap"`
}

// Router holds memory-admission and retrieval tunables shared by the input
// and output routers.
type Router struct {
	ImportanceThreshold float64 `yaml:"importance_threshold"`
	NoveltyProbeK       int     `yaml:"novelty_probe_k"`
	FanoutRetries       int     `yaml:"fanout_retries"`
	CacheEntries        int64   `yaml:"cache_entries"`
	CacheTTLMS          int     `yaml:"cache_ttl_ms"`
	SimilarityWeight    float64 `yaml:"similarity_weight"`
	RecencyWeight       float64 `yaml:"recency_weight"`
	ImportanceWeight    float64 `yaml:"importance_weight"`
	RecencyHalfLifeMin  int     `yaml:"recency_half_life_min"`
}

func (r *Router) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLMS) * time.Millisecond
}

func (r *Router) RecencyHalfLife() time.Duration {
	return time.Duration(r.RecencyHalfLifeMin) * time.Minute
}

// API holds the read-only operator surface settings.
type API struct {
	ListenAddr    string `yaml:"listen_addr"`
	PrometheusURL string `yaml:"prometheus_url,omitempty"`
}

// EventLog holds the JSONL audit log settings.
type EventLog struct {
	Dir           string `yaml:"dir"`
	RotationHours int    `yaml:"rotation_hours"`
}

// Config is the root configuration for the trading core.
type Config struct {
	Agents      []AgentRole `yaml:"agents"`
	RiskGates   RiskGates   `yaml:"risk_gates"`
	Coordinator Coordinator `yaml:"coordinator"`
	Memory      Memory      `yaml:"memory"`
	Embedder    Embedder    `yaml:"embedder"`
	Router      Router      `yaml:"router"`
	API         API         `yaml:"api"`
	EventLog    EventLog    `yaml:"event_log"`
}

// Validate checks the configuration for structural problems. The first
// problem found is returned as a ConfigurationError naming the offending
// field.
//
//nolint:gocyclo // flat field-by-field validation reads better than helpers
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return proto.NewConfigError("agents", "role registry is empty")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		role := &c.Agents[i]
		if role.ID == "" {
			return proto.NewConfigError("agents", "role %d has no id", i)
		}
		if seen[role.ID] {
			return proto.NewConfigError("agents", "duplicate agent id %q", role.ID)
		}
		seen[role.ID] = true
		if !role.Category.IsValid() {
			return proto.NewConfigError("agents", "agent %q has unknown category %q", role.ID, role.Category)
		}
		if role.InitialWeight < 0 || role.InitialWeight > 2 {
			return proto.NewConfigError("agents", "agent %q initial_weight %.2f outside [0,2]", role.ID, role.InitialWeight)
		}
		if role.Significance < 0 || role.Significance > 1 {
			return proto.NewConfigError("agents", "agent %q significance %.2f outside [0,1]", role.ID, role.Significance)
		}
		for _, sub := range role.Subscribes {
			if !sub.IsValid() {
				return proto.NewConfigError("agents", "agent %q subscribes to unknown category %q", role.ID, sub)
			}
		}
	}

	if c.RiskGates.MaxOpenPositions <= 0 {
		return proto.NewConfigError("risk_gates.max_open_positions", "must be positive, got %d", c.RiskGates.MaxOpenPositions)
	}
	if c.RiskGates.MaxDailyLossUSD <= 0 {
		return proto.NewConfigError("risk_gates.max_daily_loss_usd", "must be positive, got %.2f", c.RiskGates.MaxDailyLossUSD)
	}
	if c.RiskGates.DefaultExposure <= 0 {
		return proto.NewConfigError("risk_gates.default_exposure_usd", "must be positive, got %.2f", c.RiskGates.DefaultExposure)
	}

	co := &c.Coordinator
	if co.TickIntervalMS <= 0 {
		return proto.NewConfigError("coordinator.tick_interval_ms", "must be positive, got %d", co.TickIntervalMS)
	}
	if co.AgentTimeoutMS <= 0 {
		return proto.NewConfigError("coordinator.agent_timeout_ms", "must be positive, got %d", co.AgentTimeoutMS)
	}
	if co.TickDeadlineMS <= co.AgentTimeoutMS {
		return proto.NewConfigError("coordinator.tick_deadline_ms", "must exceed agent_timeout_ms (%d)", co.AgentTimeoutMS)
	}
	if co.OutcomeTimeoutMS <= 0 {
		return proto.NewConfigError("coordinator.outcome_timeout_ms", "must be positive, got %d", co.OutcomeTimeoutMS)
	}
	if co.MinActiveFraction <= 0 || co.MinActiveFraction > 1 {
		return proto.NewConfigError("coordinator.min_active_fraction", "must be in (0,1], got %.2f", co.MinActiveFraction)
	}
	if co.MinConsensus < 0 || co.MinConsensus > 1 {
		return proto.NewConfigError("coordinator.min_consensus", "must be in [0,1], got %.2f", co.MinConsensus)
	}
	if co.DegradedCeiling <= 0 || co.DegradedCeiling > 1 {
		return proto.NewConfigError("coordinator.degraded_consensus_ceiling", "must be in (0,1], got %.2f", co.DegradedCeiling)
	}
	if co.WeightStep <= 0 || co.WeightStep > 0.5 {
		return proto.NewConfigError("coordinator.weight_step", "must be in (0,0.5], got %.3f", co.WeightStep)
	}
	if co.WeightFloor <= 0 {
		return proto.NewConfigError("coordinator.weight_floor", "must be positive so one bad outcome cannot zero a weight, got %.3f", co.WeightFloor)
	}
	if co.WeightCeil <= co.WeightFloor || co.WeightCeil > 2 {
		return proto.NewConfigError("coordinator.weight_ceil", "must be in (weight_floor,2], got %.3f", co.WeightCeil)
	}
	if co.RecentDecisions <= 0 {
		return proto.NewConfigError("coordinator.recent_decisions", "must be positive, got %d", co.RecentDecisions)
	}
	if co.ErrorThreshold <= 0 {
		return proto.NewConfigError("coordinator.error_threshold", "must be positive, got %d", co.ErrorThreshold)
	}

	if c.Memory.DataDir == "" {
		return proto.NewConfigError("memory.data_dir", "must be set")
	}
	if c.Memory.RetentionDays <= 0 {
		return proto.NewConfigError("memory.retention_days", "must be positive, got %d", c.Memory.RetentionDays)
	}
	if c.Memory.SweepIntervalMin <= 0 {
		return proto.NewConfigError("memory.sweep_interval_min", "must be positive, got %d", c.Memory.SweepIntervalMin)
	}

	switch c.Embedder.Backend {
	case "ollama", "openai", "hash":
	default:
		return proto.NewConfigError("embedder.backend", "unknown backend %q (want ollama, openai, or hash)", c.Embedder.Backend)
	}
	if c.Embedder.Dimensions <= 0 {
		return proto.NewConfigError("embedder.dimensions", "must be positive, got %d", c.Embedder.Dimensions)
	}
	if c.Embedder.SummaryTokenCap <= 0 {
		return proto.NewConfigError("embedder.summary_token_cap", "must be positive, got %d", c.Embedder.SummaryTokenCap)
	}

	r := &c.Router
	if r.ImportanceThreshold < 0 || r.ImportanceThreshold > 1 {
		return proto.NewConfigError("router.importance_threshold", "must be in [0,1], got %.2f", r.ImportanceThreshold)
	}
	if r.NoveltyProbeK <= 0 {
		return proto.NewConfigError("router.novelty_probe_k", "must be positive, got %d", r.NoveltyProbeK)
	}
	if r.FanoutRetries < 0 {
		return proto.NewConfigError("router.fanout_retries", "must be non-negative, got %d", r.FanoutRetries)
	}
	if r.CacheEntries <= 0 {
		return proto.NewConfigError("router.cache_entries", "must be positive, got %d", r.CacheEntries)
	}
	if r.CacheTTLMS <= 0 {
		return proto.NewConfigError("router.cache_ttl_ms", "must be positive, got %d", r.CacheTTLMS)
	}
	sum := r.SimilarityWeight + r.RecencyWeight + r.ImportanceWeight
	if sum <= 0 {
		return proto.NewConfigError("router.similarity_weight", "ranking weights sum to %.2f, must be positive", sum)
	}
	if r.RecencyHalfLifeMin <= 0 {
		return proto.NewConfigError("router.recency_half_life_min", "must be positive, got %d", r.RecencyHalfLifeMin)
	}

	if c.API.ListenAddr == "" {
		return proto.NewConfigError("api.listen_addr", "must be set")
	}
	if c.EventLog.Dir == "" {
		return proto.NewConfigError("event_log.dir", "must be set")
	}
	return nil
}

// RoleByID returns the registry entry for an agent id.
func (c *Config) RoleByID(id string) (*AgentRole, bool) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// RolesByCategory returns all registry entries in a category.
func (c *Config) RolesByCategory(cat proto.RoleCategory) []AgentRole {
	var out []AgentRole
	for i := range c.Agents {
		if c.Agents[i].Category == cat {
			out = append(out, c.Agents[i])
		}
	}
	return out
}
