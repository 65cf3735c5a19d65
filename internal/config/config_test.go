package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolq/toolq/internal/logging"
)

// isolate keeps the loader away from any real .toolq.yaml on the machine.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Setenv("PWD", dir)
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	return dir
}

func TestNewManagerDefaults(t *testing.T) {
	isolate(t)

	m, err := NewManager("")
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, ".", cfg.Workspace)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Color)
	assert.Equal(t, "ksuid", cfg.IDStrategy)
	assert.Equal(t, 2*time.Minute, cfg.Approval.Timeout)
	assert.False(t, cfg.Approval.AutoApprove)
	assert.Equal(t, 3, cfg.Diff.ContextLines)
	assert.Equal(t, 30*time.Second, cfg.Listing.CacheTTL)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, m.FileUsed())
}

func TestNewManagerReadsYAML(t *testing.T) {
	dir := isolate(t)

	content := `workspace: /srv/project
log_level: debug
id_strategy: uuidv7
approval:
  timeout: 90s
  auto_approve: true
diff:
  context_lines: 5
listing:
  excludes:
    - "*.generated.go"
    - testdata
server:
  port: 9001
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".toolq.yaml"), []byte(content), 0644))

	m, err := NewManager("")
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, "/srv/project", cfg.Workspace)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "uuidv7", cfg.IDStrategy)
	assert.Equal(t, 90*time.Second, cfg.Approval.Timeout)
	assert.True(t, cfg.Approval.AutoApprove)
	assert.Equal(t, 5, cfg.Diff.ContextLines)
	assert.Equal(t, []string{"*.generated.go", "testdata"}, cfg.Listing.Excludes)
	assert.Equal(t, 9001, cfg.Server.Port)
	// Unset keys stay at defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.True(t, strings.HasSuffix(m.FileUsed(), ".toolq.yaml"))
}

func TestNewManagerEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("TOOLQ_LOG_LEVEL", "warn")
	t.Setenv("TOOLQ_SERVER_PORT", "9090")
	t.Setenv("TOOLQ_APPROVAL_TIMEOUT", "45s")

	m, err := NewManager("")
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Approval.Timeout)
}

func TestNewManagerEnvBeatsFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".toolq.yaml"), []byte("log_level: debug\n"), 0644))
	t.Setenv("TOOLQ_LOG_LEVEL", "error")

	m, err := NewManager("")
	require.NoError(t, err)
	assert.Equal(t, "error", m.Config().LogLevel)
}

func TestNewManagerExplicitPath(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7777\n"), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, m.Config().Server.Port)
	assert.Equal(t, path, m.FileUsed())
}

func TestNewManagerExplicitPathMissing(t *testing.T) {
	dir := isolate(t)

	_, err := NewManager(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestNewManagerMalformedYAML(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".toolq.yaml"), []byte("workspace: [unclosed\n"), 0644))

	_, err := NewManager("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		m, err := NewManager("")
		require.NoError(t, err)
		return m.Config()
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"bad id strategy", func(c *Config) { c.IDStrategy = "snowflake" }, false},
		{"port too low", func(c *Config) { c.Server.Port = 0 }, false},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, false},
		{"negative approval timeout", func(c *Config) { c.Approval.Timeout = -time.Second }, false},
		{"context lines unlimited", func(c *Config) { c.Diff.ContextLines = -1 }, true},
		{"context lines below unlimited", func(c *Config) { c.Diff.ContextLines = -2 }, false},
		{"tracing bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, false},
		{"tracing zipkin", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" }, true},
		{"tracing sample rate out of range", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRate = 1.5 }, false},
		{"disabled tracing skips exporter check", func(c *Config) { c.Tracing.Exporter = "jaeger" }, true},
	}

	isolate(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDump(t *testing.T) {
	isolate(t)

	m, err := NewManager("")
	require.NoError(t, err)

	out, err := m.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "workspace: .")
	assert.Contains(t, out, "log_level: info")
	assert.Contains(t, out, "server:")
	assert.Contains(t, out, "port: 8765")
}

func TestLogLevelValue(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	assert.Equal(t, logging.LevelDebug, cfg.LogLevelValue())
	cfg.LogLevel = "error"
	assert.Equal(t, logging.LevelError, cfg.LogLevelValue())
}
