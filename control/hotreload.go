// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// File-watch driven configuration reload. viper watches the config file via
// fsnotify; each successful re-read replaces the store snapshot.

package control

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch starts watching the file last loaded by l and pushes every valid
// reload into store. Invalid files are logged and ignored.
func (l *Loader) Watch(store *ConfigStore, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			logger.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name))
		store.SetConfig(cfg)
	})
	l.v.WatchConfig()
}

// BindLogLevel keeps level in sync with log.level of every reloaded config.
func BindLogLevel(store *ConfigStore, level zap.AtomicLevel, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store.OnReload(func(cfg *Config) {
		lvl, err := ParseLevel(cfg.Log.Level)
		if err != nil {
			logger.Warn("ignoring log level", zap.String("level", cfg.Log.Level), zap.Error(err))
			return
		}
		if lvl != level.Level() {
			level.SetLevel(lvl)
			logger.Info("log level changed", zap.Stringer("level", lvl))
		}
	})
}
