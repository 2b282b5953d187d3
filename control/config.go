// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Layered configuration (defaults, optional file, HIOLOAD_* environment) and a
// thread-safe snapshot store with reload listeners.

package control

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. HIOLOAD_SERVER_PORT.
const EnvPrefix = "HIOLOAD"

// ServerConfig describes a listening endpoint and its socket options.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Backlog   int    `mapstructure:"backlog"`
	KeepAlive bool   `mapstructure:"keepalive"`
	NoDelay   bool   `mapstructure:"nodelay"`
	ReuseAddr bool   `mapstructure:"reuseaddr"`
}

// ClientConfig describes the remote endpoint of a client.
type ClientConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	KeepAlive      bool          `mapstructure:"keepalive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoopConfig sizes the event loop groups and their shutdown.
type LoopConfig struct {
	Boss        int           `mapstructure:"boss"`
	Workers     int           `mapstructure:"workers"`
	MaxEvents   int           `mapstructure:"max_events"`
	CPUs        []int         `mapstructure:"cpus"`
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// BufferConfig sizes channel read buffers and pool free lists.
type BufferConfig struct {
	ReadSize    int `mapstructure:"read_size"`
	MaxCapacity int `mapstructure:"max_capacity"`
	PoolDepth   int `mapstructure:"pool_depth"`
	MaxPerRead  int `mapstructure:"max_messages_per_read"`
	WriteSpin   int `mapstructure:"write_spin_count"`
}

// LogConfig selects the zap configuration.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// AdminConfig controls the HTTP admin endpoint. Empty Addr disables it.
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the full runtime configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	Loops  LoopConfig   `mapstructure:"loops"`
	Buffer BufferConfig `mapstructure:"buffer"`
	Log    LogConfig    `mapstructure:"log"`
	Admin  AdminConfig  `mapstructure:"admin"`
}

// Loader reads configuration through viper.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults and environment binding applied.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

// Viper exposes the underlying instance.
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load is a shorthand for NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Load reads path (if non-empty and present) and returns the merged config.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8989)
	v.SetDefault("server.backlog", 128)
	v.SetDefault("server.keepalive", true)
	v.SetDefault("server.nodelay", false)
	v.SetDefault("server.reuseaddr", true)

	v.SetDefault("client.host", "127.0.0.1")
	v.SetDefault("client.port", 9191)
	v.SetDefault("client.keepalive", true)
	v.SetDefault("client.connect_timeout", 30*time.Second)

	v.SetDefault("loops.boss", 1)
	v.SetDefault("loops.workers", 0)
	v.SetDefault("loops.max_events", 128)
	v.SetDefault("loops.quiet_period", 100*time.Millisecond)
	v.SetDefault("loops.timeout", 5*time.Second)

	v.SetDefault("buffer.read_size", 2048)
	v.SetDefault("buffer.max_capacity", 1<<20)
	v.SetDefault("buffer.pool_depth", 1024)
	v.SetDefault("buffer.max_messages_per_read", 16)
	v.SetDefault("buffer.write_spin_count", 16)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("admin.addr", "")
}

// Validate checks ranges that would otherwise fail late at bind or run time.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Client.Port < 0 || c.Client.Port > 65535 {
		return fmt.Errorf("invalid client port: %d", c.Client.Port)
	}
	if c.Loops.Boss < 0 || c.Loops.Workers < 0 {
		return errors.New("loop counts must not be negative")
	}
	if c.Loops.QuietPeriod < 0 || c.Loops.Timeout < 0 {
		return errors.New("shutdown durations must not be negative")
	}
	if c.Loops.Timeout < c.Loops.QuietPeriod {
		return fmt.Errorf("loops.timeout %s shorter than loops.quiet_period %s", c.Loops.Timeout, c.Loops.QuietPeriod)
	}
	if c.Buffer.ReadSize <= 0 {
		return fmt.Errorf("invalid buffer.read_size: %d", c.Buffer.ReadSize)
	}
	if c.Buffer.MaxCapacity < c.Buffer.ReadSize {
		return fmt.Errorf("buffer.max_capacity %d below read_size %d", c.Buffer.MaxCapacity, c.Buffer.ReadSize)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ConfigStore holds the current configuration snapshot and notifies
// listeners when it is replaced.
type ConfigStore struct {
	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config)
}

// NewConfigStore initializes a store with cfg.
func NewConfigStore(cfg *Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// GetSnapshot returns the current configuration.
func (cs *ConfigStore) GetSnapshot() *Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// SetConfig replaces the snapshot and dispatches listeners synchronously.
func (cs *ConfigStore) SetConfig(cfg *Config) {
	cs.mu.Lock()
	cs.config = cfg
	ls := append([]func(*Config){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range ls {
		fn(cfg)
	}
}

// OnReload registers a listener called on config changes.
func (cs *ConfigStore) OnReload(fn func(*Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
