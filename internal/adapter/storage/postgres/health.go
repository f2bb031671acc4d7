package postgres

import (
	"context"
	"fmt"

	"sentimatrix-automation/internal/core/ports"
)

// HealthCheck implements ports.HealthChecker for PostgreSQL. Besides
// connectivity it checks that the schedules table is reachable, so a
// database without the schema reports unhealthy.
type HealthCheck struct {
	pool Pool
}

var _ ports.HealthChecker = (*HealthCheck)(nil)

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ports.HealthCheckTimeout)
	defer cancel()
	if _, err := h.pool.Exec(ctx, "SELECT 1 FROM schedules LIMIT 1"); err != nil {
		return fmt.Errorf("postgres health: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
