package storage

import (
	"errors"
	"sort"
	"time"

	"github.com/scrypster/agentindex/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// DefaultQueryLimit protects callers from pulling the whole cache by accident.
	DefaultQueryLimit = 50

	// MaxQueryLimit is the largest page a single query may return.
	MaxQueryLimit = 1000

	// DefaultHistoryLimit is the number of scan log entries returned by default.
	DefaultHistoryLimit = 20
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the number of matching items, independent of the page window.
	Total int

	// Limit and Offset describe the page window that was applied.
	Limit  int
	Offset int

	// HasMore indicates whether there are more items after this page.
	HasMore bool
}

// AgentUpsert is a partial agent record produced by a scan. Identity fields
// are always written. Metadata and Reputation are written only when non-nil,
// so a scan that skipped or failed those reads leaves the cached values alone.
type AgentUpsert struct {
	AgentID     uint64
	Owner       string
	Wallet      string
	MetadataURI string

	Metadata   *types.EntityMetadata
	Reputation *types.ReputationSummary

	// Tags are unioned into the cached tag set.
	Tags []string

	// RegisteredAt and RegisteredBlock are kept from the first write that
	// supplies them.
	RegisteredAt    *time.Time
	RegisteredBlock *uint64

	// ObservedAt stamps last_scanned_at and last_seen_at. Zero means now.
	ObservedAt time.Time
}

// UpsertResult reports how an upsert was applied.
type UpsertResult struct {
	// Created is true when no row existed for the agent before the upsert.
	Created bool
}

// Sortable columns for agent queries.
const (
	SortByAgentID    = "agent_id"
	SortByReputation = "reputation_score"
	SortByLastSeen   = "last_seen_at"
	SortByUpdated    = "updated_at"
)

// AgentFilter selects cached agents. All set fields must match.
type AgentFilter struct {
	// MinID and MaxID bound the agent id, inclusive.
	MinID *uint64
	MaxID *uint64

	// Capabilities matches agents sharing at least one capability.
	Capabilities []string

	// MinReputation matches agents with a reputation score at or above this
	// value. Agents without a reputation never match.
	MinReputation *float64

	Relationship types.Relationship

	// SeenWithinHours matches agents observed within the last N hours.
	SeenWithinHours int

	// Tags matches agents sharing at least one tag.
	Tags []string

	VerifiedOnly bool

	// Text is a case-insensitive substring matched against name, type and notes.
	Text string

	// SortBy is one of the SortBy* columns (default: agent_id).
	SortBy string

	// SortOrder is "asc" or "desc" (default: "desc").
	SortOrder string

	// Limit defaults to DefaultQueryLimit and is capped at MaxQueryLimit.
	Limit  int
	Offset int

	// Now anchors SeenWithinHours. Zero means time.Now().
	Now time.Time
}

// Normalize applies defaults and validates the AgentFilter.
func (f *AgentFilter) Normalize() {
	// Whitelist validation for SortBy to prevent SQL injection
	allowedSortFields := map[string]bool{
		SortByAgentID:    true,
		SortByReputation: true,
		SortByLastSeen:   true,
		SortByUpdated:    true,
	}

	if !allowedSortFields[f.SortBy] {
		f.SortBy = SortByAgentID
	}

	if f.SortOrder != "asc" && f.SortOrder != "desc" {
		f.SortOrder = "desc"
	}

	if f.Limit < 1 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Now.IsZero() {
		f.Now = time.Now()
	}
}

// SeenCutoff returns the earliest last_seen_at that satisfies SeenWithinHours.
func (f *AgentFilter) SeenCutoff() time.Time {
	return f.Now.Add(-time.Duration(f.SeenWithinHours) * time.Hour).UTC()
}

// MergeTags returns the sorted, de-duplicated union of existing and add.
// Empty tags are dropped.
func MergeTags(existing, add []string) []string {
	set := make(map[string]struct{}, len(existing)+len(add))
	for _, t := range existing {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	for _, t := range add {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
