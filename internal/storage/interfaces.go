// Package storage provides composable storage interfaces for the agent index.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The SQLite and
// PostgreSQL packages implement all of them.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/agentindex/pkg/types"
)

// AgentStore is the persisted agent cache, keyed by agent id.
type AgentStore interface {
	// Upsert creates or updates an agent from a scan. Tags are unioned with
	// the cached set; relationship, notes and verification are never touched.
	// The created/updated classification is made in the same transaction.
	Upsert(ctx context.Context, u *AgentUpsert) (UpsertResult, error)

	// Get retrieves an agent by id.
	// Returns ErrNotFound if the agent isn't cached.
	Get(ctx context.Context, agentID uint64) (*types.Agent, error)

	// Query returns the agents matching filter, one page at a time.
	Query(ctx context.Context, filter AgentFilter) (*PaginatedResult[types.Agent], error)

	// SetRelationship overwrites the relationship, and notes when non-nil.
	// Returns ErrInvalidInput for an unknown relationship value.
	SetRelationship(ctx context.Context, agentID uint64, rel types.Relationship, notes *string) error

	// SetVerified is the only writer of the verified flag.
	SetVerified(ctx context.Context, agentID uint64, verified bool) error

	// AddTags unions tags into the cached set in a single transaction.
	AddTags(ctx context.Context, agentID uint64, tags []string) error

	// Stats aggregates the cache at call time.
	Stats(ctx context.Context) (*types.DiscoveryStats, error)
}

// ScanLogStore is the append-only scan history.
type ScanLogStore interface {
	// AppendScanLog records one finished scan. ID and CreatedAt are filled
	// in when empty.
	AppendScanLog(ctx context.Context, entry *types.ScanLogEntry) error

	// ScanHistory returns the most recent entries, newest first.
	// limit <= 0 means DefaultHistoryLimit.
	ScanHistory(ctx context.Context, limit int) ([]types.ScanLogEntry, error)

	// LatestScanAt returns the creation time of the newest entry, or nil.
	LatestScanAt(ctx context.Context) (*time.Time, error)
}

// Store composes every storage capability the index needs.
type Store interface {
	AgentStore
	ScanLogStore

	// Close releases the underlying database.
	Close() error
}
