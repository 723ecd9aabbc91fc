//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates all tables, children first.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tables := []string{
		"refund_requests",
		"payments",
		"fee_line_items",
		"fee_demands",
		"application_properties",
		"audit_events",
		"event_outbox",
		"applications",
		"service_versions",
	}

	for _, table := range tables {
		_, _ = env.Pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE")
	}
}
