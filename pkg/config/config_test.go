package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/proto"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Agents, 15)
}

func TestDefaultRegistryCoversCategories(t *testing.T) {
	cfg := Default()
	for _, cat := range []proto.RoleCategory{
		proto.RoleSignalGeneration,
		proto.RoleTiming,
		proto.RoleRuleValidation,
		proto.RoleRisk,
		proto.RoleExecution,
		proto.RoleMemory,
		proto.RoleService,
	} {
		assert.NotEmpty(t, cfg.RolesByCategory(cat), "no default agents in category %s", cat)
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "empty registry",
			mutate:    func(c *Config) { c.Agents = nil },
			wantField: "agents",
		},
		{
			name: "duplicate agent id",
			mutate: func(c *Config) {
				c.Agents = append(c.Agents, c.Agents[0])
			},
			wantField: "agents",
		},
		{
			name:      "bad category",
			mutate:    func(c *Config) { c.Agents[0].Category = "janitor" },
			wantField: "agents",
		},
		{
			name:      "weight out of range",
			mutate:    func(c *Config) { c.Agents[0].InitialWeight = 2.5 },
			wantField: "agents",
		},
		{
			name:      "zero tick interval",
			mutate:    func(c *Config) { c.Coordinator.TickIntervalMS = 0 },
			wantField: "coordinator.tick_interval_ms",
		},
		{
			name:      "deadline below agent timeout",
			mutate:    func(c *Config) { c.Coordinator.TickDeadlineMS = 100 },
			wantField: "coordinator.tick_deadline_ms",
		},
		{
			name:      "zero weight floor",
			mutate:    func(c *Config) { c.Coordinator.WeightFloor = 0 },
			wantField: "coordinator.weight_floor",
		},
		{
			name:      "bad embedder backend",
			mutate:    func(c *Config) { c.Embedder.Backend = "markov" },
			wantField: "embedder.backend",
		},
		{
			name:      "no risk positions",
			mutate:    func(c *Config) { c.RiskGates.MaxOpenPositions = 0 },
			wantField: "risk_gates.max_open_positions",
		},
		{
			name:      "missing data dir",
			mutate:    func(c *Config) { c.Memory.DataDir = "" },
			wantField: "memory.data_dir",
		},
		{
			name:      "importance threshold out of range",
			mutate:    func(c *Config) { c.Router.ImportanceThreshold = 1.5 },
			wantField: "router.importance_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *proto.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradecore.yaml")

	content := `
coordinator:
  tick_interval_ms: 1000
  agent_timeout_ms: 200
  tick_deadline_ms: 900
risk_gates:
  max_open_positions: 3
  max_daily_loss_usd: 500
  default_exposure_usd: 2500
api:
  listen_addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Coordinator.TickIntervalMS)
	assert.Equal(t, 3, cfg.RiskGates.MaxOpenPositions)
	assert.Equal(t, ":9090", cfg.API.ListenAddr)
	// Defaults survive partial files.
	assert.Len(t, cfg.Agents, 15)
	assert.Equal(t, "hash", cfg.Embedder.Backend)
}

func TestLoadEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradecore.yaml")
	t.Setenv("TRADECORE_TEST_DIR", filepath.Join(dir, "mem"))

	content := "memory:\n  data_dir: ${TRADECORE_TEST_DIR}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mem"), cfg.Memory.DataDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var cfgErr *proto.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadInvalidConfigIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradecore.yaml")
	content := "coordinator:\n  tick_interval_ms: -5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	var cfgErr *proto.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "coordinator.tick_interval_ms", cfgErr.Field)
}
