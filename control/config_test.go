package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8989, cfg.Server.Port)
	assert.Equal(t, 128, cfg.Server.Backlog)
	assert.True(t, cfg.Server.ReuseAddr)
	assert.Equal(t, 9191, cfg.Client.Port)
	assert.Equal(t, 30*time.Second, cfg.Client.ConnectTimeout)
	assert.Equal(t, 1, cfg.Loops.Boss)
	assert.Equal(t, 2048, cfg.Buffer.ReadSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
  backlog: 16
loops:
  workers: 3
  quiet_period: 50ms
log:
  level: debug
`), 0o600))
	t.Setenv("HIOLOAD_SERVER_PORT", "7001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Server.Backlog)
	assert.Equal(t, 3, cfg.Loops.Workers)
	assert.Equal(t, 50*time.Millisecond, cfg.Loops.QuietPeriod)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8989, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"server port", func(c *Config) { c.Server.Port = 70000 }},
		{"client port", func(c *Config) { c.Client.Port = -1 }},
		{"loops", func(c *Config) { c.Loops.Workers = -2 }},
		{"timeout below quiet", func(c *Config) { c.Loops.Timeout = time.Millisecond }},
		{"read size", func(c *Config) { c.Buffer.ReadSize = 0 }},
		{"capacity", func(c *Config) { c.Buffer.MaxCapacity = 16 }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, base().Validate())
}

func TestConfigStoreNotifies(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	store := NewConfigStore(cfg)
	var seen []*Config
	store.OnReload(func(c *Config) { seen = append(seen, c) })

	next := *cfg
	next.Log.Level = "warn"
	store.SetConfig(&next)
	assert.Same(t, &next, store.GetSnapshot())
	require.Len(t, seen, 1)
	assert.Same(t, &next, seen[0])
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"debug": zapcore.DebugLevel, "": zapcore.InfoLevel, " INFO ": zapcore.InfoLevel,
		"warning": zapcore.WarnLevel, "error": zapcore.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, level, err := NewLogger(LogConfig{Level: "warn", Development: true})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, _, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestBindLogLevel(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	store := NewConfigStore(cfg)
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core, logs := observer.New(zapcore.DebugLevel)
	BindLogLevel(store, level, zap.New(core))

	next := *cfg
	next.Log.Level = "error"
	store.SetConfig(&next)
	assert.Equal(t, zapcore.ErrorLevel, level.Level())
	assert.Equal(t, 1, logs.FilterMessage("log level changed").Len())

	bad := next
	bad.Log.Level = "nope"
	store.SetConfig(&bad)
	assert.Equal(t, zapcore.ErrorLevel, level.Level())
	assert.Equal(t, 1, logs.FilterMessage("ignoring log level").Len())
}

func TestWatchReloadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))
	l := NewLoader()
	cfg, err := l.Load(path)
	require.NoError(t, err)
	store := NewConfigStore(cfg)
	l.Watch(store, zap.NewNop())

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	require.Eventually(t, func() bool {
		return store.GetSnapshot().Log.Level == "debug"
	}, 5*time.Second, 20*time.Millisecond)
}
