package ports

import (
	"context"
	"time"
)

// HealthCheckTimeout bounds a single dependency probe of GET /health.
const HealthCheckTimeout = 2 * time.Second

// HealthChecker probes a backing store of the scheduler or the dispatcher.
type HealthChecker interface {
	Ping(ctx context.Context) error
	// Name is the key reported in the health response ("postgresql", "redis").
	Name() string
}
