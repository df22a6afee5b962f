package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/agentindex/internal/storage"
	"github.com/scrypster/agentindex/pkg/types"
)

// SearchFilters selects cached agents. Set filters are ANDed together.
type SearchFilters struct {
	MinID           *uint64            `json:"min_id,omitempty"`
	MaxID           *uint64            `json:"max_id,omitempty"`
	Capabilities    []string           `json:"capabilities,omitempty"`
	MinReputation   *float64           `json:"min_reputation,omitempty"`
	Relationship    types.Relationship `json:"relationship,omitempty"`
	SeenWithinHours int                `json:"seen_within_hours,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	VerifiedOnly    bool               `json:"verified_only,omitempty"`
	Text            string             `json:"text,omitempty"`
	SortBy          string             `json:"sort_by,omitempty"`
	SortOrder       string             `json:"sort_order,omitempty"`
	Limit           int                `json:"limit,omitempty"`
	Offset          int                `json:"offset,omitempty"`
}

// SearchResult is one page of matching agents. Total counts every match,
// independent of the page. Filters echoes the filters as applied, defaults
// included.
type SearchResult struct {
	Records   []types.Agent `json:"records"`
	Total     int           `json:"total"`
	Filters   SearchFilters `json:"filters"`
	ScannedAt *time.Time    `json:"scanned_at,omitempty"`
}

// SearchEngine answers queries from the cache alone.
type SearchEngine struct {
	store Cache
}

// NewSearchEngine creates a SearchEngine over store.
func NewSearchEngine(store Cache) *SearchEngine {
	return &SearchEngine{store: store}
}

// Search returns the page of cached agents matching f, sorted by agent id
// descending unless f says otherwise. With no filters it returns the first
// DefaultQueryLimit agents.
func (e *SearchEngine) Search(ctx context.Context, f SearchFilters) (*SearchResult, error) {
	if f.Relationship != "" && !f.Relationship.IsValid() {
		return nil, fmt.Errorf("%w: unknown relationship %q", storage.ErrInvalidInput, f.Relationship)
	}

	filter := storage.AgentFilter{
		MinID:           f.MinID,
		MaxID:           f.MaxID,
		Capabilities:    f.Capabilities,
		MinReputation:   f.MinReputation,
		Relationship:    f.Relationship,
		SeenWithinHours: f.SeenWithinHours,
		Tags:            f.Tags,
		VerifiedOnly:    f.VerifiedOnly,
		Text:            f.Text,
		SortBy:          f.SortBy,
		SortOrder:       f.SortOrder,
		Limit:           f.Limit,
		Offset:          f.Offset,
	}
	filter.Normalize()

	page, err := e.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	scannedAt, err := e.store.LatestScanAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	f.SortBy, f.SortOrder = filter.SortBy, filter.SortOrder
	f.Limit, f.Offset = filter.Limit, filter.Offset

	return &SearchResult{
		Records:   page.Items,
		Total:     page.Total,
		Filters:   f,
		ScannedAt: scannedAt,
	}, nil
}

// Stats returns aggregate counts over the cache.
func (e *SearchEngine) Stats(ctx context.Context) (*types.DiscoveryStats, error) {
	return e.store.Stats(ctx)
}

// History returns the most recent scan log entries, newest first.
func (e *SearchEngine) History(ctx context.Context, limit int) ([]types.ScanLogEntry, error) {
	return e.store.ScanHistory(ctx, limit)
}
