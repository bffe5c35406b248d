package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/remote"
	"github.com/BaSui01/agentmesh/toolconn"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Supervisor.Model)
	assert.Equal(t, 30, cfg.Supervisor.MaxIterations)
	assert.Equal(t, 0.6, cfg.Compression.TargetRatio)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Redis.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
supervisor:
  model: gpt-4o-mini
  max_iterations: 10
remote:
  agents:
    - id: search-agent
      display_name: Search Agent
      description: web search specialist
      base_url: http://127.0.0.1:9001
tools:
  servers:
    search:
      url: ws://127.0.0.1:9100/ws
redis:
  enabled: true
  addr: 127.0.0.1:6380
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.Supervisor.Model)
	assert.Equal(t, 10, cfg.Supervisor.MaxIterations)
	// 未覆盖字段保持默认值
	assert.Equal(t, 3, cfg.Supervisor.MaxDecisionRetries)

	require.Len(t, cfg.Remote.Agents, 1)
	assert.Equal(t, "search-agent", cfg.Remote.Agents[0].ID)
	assert.Equal(t, "http://127.0.0.1:9001", cfg.Remote.Agents[0].BaseURL)

	require.Contains(t, cfg.Tools.Servers, "search")
	assert.Equal(t, "ws://127.0.0.1:9100/ws", cfg.Tools.Servers["search"].URL)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "127.0.0.1:6380", cfg.Redis.Addr)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Supervisor.Model)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "supervisor: [not a mapping")

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTMESH_SUPERVISOR_MAX_ITERATIONS", "7")
	t.Setenv("AGENTMESH_SUPERVISOR_MODEL", "gpt-4-turbo")
	t.Setenv("AGENTMESH_SUPERVISOR_DECISION_RETRY_DELAY", "250ms")
	t.Setenv("AGENTMESH_REMOTE_TOTAL_TIMEOUT", "90s")
	t.Setenv("AGENTMESH_REDIS_ENABLED", "true")
	t.Setenv("AGENTMESH_LOG_OUTPUT_PATHS", "stdout,/tmp/agentmesh.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Supervisor.MaxIterations)
	assert.Equal(t, "gpt-4-turbo", cfg.Supervisor.Model)
	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.DecisionRetryDelay)
	assert.Equal(t, 90*time.Second, cfg.Remote.TotalTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"stdout", "/tmp/agentmesh.log"}, cfg.Log.OutputPaths)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "supervisor:\n  model: from-file\n")
	t.Setenv("AGENTMESH_SUPERVISOR_MODEL", "from-env")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Supervisor.Model)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("MESH_SUPERVISOR_MAX_TURNS", "12")

	cfg, err := NewLoader().WithEnvPrefix("MESH").Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Supervisor.MaxTurns)
}

func TestCustomValidatorRejects(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Provider.APIKey == "" {
				return os.ErrInvalid
			}
			return nil
		}).
		Load()
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Supervisor.MaxIterations = 0
	cfg.Compression.TargetRatio = 1.5
	cfg.Remote.Agents = append(cfg.Remote.Agents, remote.AgentDescriptor{})
	cfg.Tools.Servers = map[string]toolconn.ServerSpec{"broken": {}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iterations")
	assert.Contains(t, err.Error(), "target_ratio")
	assert.Contains(t, err.Error(), "missing id")
	assert.Contains(t, err.Error(), "missing base_url")
	assert.Contains(t, err.Error(), "missing url")
}

func TestMustLoadPanicsOnBadFile(t *testing.T) {
	path := writeConfigFile(t, "supervisor: [broken")
	assert.Panics(t, func() { MustLoad(path) })
}

func TestMustLoadReturnsConfig(t *testing.T) {
	cfg := MustLoad("")
	require.NotNil(t, cfg)
	assert.Equal(t, "gpt-4o", cfg.Supervisor.Model)
}
