package database

import (
	"context"
	"time"
)

// HealthStatus is the /health view of the database: connectivity, pool
// pressure and the applied migration version.
type HealthStatus struct {
	Status           string `json:"status"`
	ResponseTime     int64  `json:"response_time_ms"`
	OpenConnections  int    `json:"open_connections"`
	InUse            int    `json:"in_use"`
	Idle             int    `json:"idle"`
	WaitCount        int64  `json:"wait_count"`
	MaxOpenConns     int    `json:"max_open_conns"`
	MigrationVersion int64  `json:"migration_version,omitempty"`
	MigrationDirty   bool   `json:"migration_dirty,omitempty"`
}

// Health pings the database and collects pool statistics. The migration
// version is read best-effort; a failure there does not make the check
// unhealthy.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	db := c.Raw()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := db.Stats()
	hs := &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		MaxOpenConns:    stats.MaxOpenConnections,
	}

	var version int64
	var dirty bool
	err := db.QueryRowContext(ctx,
		`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err == nil {
		hs.MigrationVersion = version
		hs.MigrationDirty = dirty
	}
	return hs, nil
}
