// Package postgres provides a PostgreSQL implementation of the agent cache.
// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the agents and scan_log tables.
// It is defined in the postgres package so it can reach the unexported db
// field, and exported so the postgres_test package can call it.
func (s *AgentStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE agents, scan_log RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
