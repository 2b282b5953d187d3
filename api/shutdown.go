// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"context"
	"time"
)

// GracefulShutdown stops a component after a quiet period without new work,
// bounded by timeout, and waits for termination or ctx.
type GracefulShutdown interface {
	Shutdown(ctx context.Context, quiet, timeout time.Duration) error
}
