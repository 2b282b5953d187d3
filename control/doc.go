// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection layer for
// hioload-nio.
//
// Provides:
//   - viper-backed configuration with defaults, file and HIOLOAD_* overrides
//   - a snapshot ConfigStore with hot reload driven by fsnotify
//   - zap logger construction with a runtime-adjustable level
//   - Prometheus collectors for loops, channels and buffer pools
//   - debug probes and an HTTP admin endpoint
package control
