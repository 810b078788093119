// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/conductor/types"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证服务器默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	// 验证引擎默认值
	assert.Equal(t, 0.7, cfg.Engine.ConfidenceThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Engine.ApprovalReminderAfter)
	assert.Equal(t, 72*time.Hour, cfg.Engine.ApprovalTimeoutAfter)
	assert.Equal(t, 30*time.Second, cfg.Engine.MessageTimeout)

	// 验证 Database 默认值
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)

	// 验证 Redis 默认值
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// 验证 Metrics 默认值
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "conductor", cfg.Metrics.Namespace)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 0.7, cfg.Engine.ConfidenceThreshold)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888

engine:
  confidence_threshold: 0.8
  message_timeout: 45s
  checkpoint_on_step_completion: true

database:
  driver: "sqlite"
  name: "conductor.db"

redis:
  enabled: true
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"

agents:
  - agent_id: "researcher"
    name: "Researcher"
    capabilities: ["research", "summarize"]
  - agent_id: "writer"
    name: "Writer"
    capabilities: ["write"]

definitions:
  - id: "report"
    name: "Report workflow"
    steps:
      - id: "step-1"
        name: "Research"
        capability: "research"
      - id: "step-2"
        name: "Write"
        agent_id: "writer"
        requires_approval: true
        checkpoint_after: true
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 0.8, cfg.Engine.ConfidenceThreshold)
	assert.Equal(t, 45*time.Second, cfg.Engine.MessageTimeout)
	assert.True(t, cfg.Engine.CheckpointOnStepCompletion)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "researcher", cfg.Agents[0].AgentID)
	assert.Equal(t, []string{"research", "summarize"}, cfg.Agents[0].Capabilities)

	require.Len(t, cfg.Definitions, 1)
	def, ok := cfg.DefinitionByID("report")
	require.True(t, ok)
	require.Len(t, def.Steps, 2)
	assert.True(t, def.Steps[1].RequiresApproval)
	assert.True(t, def.Steps[1].CheckpointAfter)

	_, ok = cfg.DefinitionByID("missing")
	assert.False(t, ok)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_SERVER_HTTP_PORT", "7070")
	t.Setenv("CONDUCTOR_ENGINE_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("CONDUCTOR_ENGINE_MESSAGE_TIMEOUT", "10s")
	t.Setenv("CONDUCTOR_DATABASE_DRIVER", "mysql")
	t.Setenv("CONDUCTOR_REDIS_ENABLED", "true")
	t.Setenv("CONDUCTOR_LOG_OUTPUT_PATHS", "stdout, /var/log/conductor.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 0.9, cfg.Engine.ConfidenceThreshold)
	assert.Equal(t, 10*time.Second, cfg.Engine.MessageTimeout)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/conductor.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\n"), 0644))

	t.Setenv("CONDUCTOR_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	// 环境变量优先于 YAML
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.NoError(t, err)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Engine.ConfidenceThreshold = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")
}

func TestConfig_ValidateDefinitions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Definitions = []types.WorkflowDefinition{
		{ID: "bad", Name: "missing steps"},
		{ID: "worse", Name: "unbound step", Steps: []types.StepDefinition{{ID: "s1"}}},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one step")
	assert.Contains(t, err.Error(), "agent_id or capability")
}

// --- DSN 测试 ---

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "conductor", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=conductor sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "conductor"}
	assert.Equal(t, "u:p@tcp(db:3306)/conductor?parseTime=true", my.DSN())

	sq := DatabaseConfig{Driver: "sqlite", Name: "conductor.db"}
	assert.Equal(t, "conductor.db", sq.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, unknown.DSN())
}
