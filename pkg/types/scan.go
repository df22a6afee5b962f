package types

import "time"

// ScanType identifies which scan operation produced a log entry.
type ScanType string

const (
	ScanTypeRange   ScanType = "range"
	ScanTypeEvent   ScanType = "event"
	ScanTypeRefresh ScanType = "refresh"
	ScanTypeSingle  ScanType = "single"
)

// ScanLogEntry is an append-only summary written once at the end of every
// scan operation.
type ScanLogEntry struct {
	ID              string    `json:"id"`
	ScanType        ScanType  `json:"scan_type"`
	RangeStart      *uint64   `json:"range_start,omitempty"`
	RangeEnd        *uint64   `json:"range_end,omitempty"`
	EntitiesFound   int       `json:"entities_found"`
	EntitiesNew     int       `json:"entities_new"`
	EntitiesUpdated int       `json:"entities_updated"`
	Errors          int       `json:"errors"`
	DurationMs      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// SimilarityMatch is a scored candidate produced by a similarity scan.
// It is persisted only through AutoTags being merged into the agent's tags.
type SimilarityMatch struct {
	AgentID         uint64             `json:"agent_id"`
	Owner           string             `json:"owner"`
	Wallet          string             `json:"wallet"`
	MetadataURI     string             `json:"metadata_uri"`
	SimilarityScore float64            `json:"similarity_score"`
	Breakdown       map[string]float64 `json:"breakdown"`
	MatchedKeywords []string           `json:"matched_keywords"`
	AutoTags        []string           `json:"auto_tags"`
	Capabilities    []string           `json:"capabilities"`
	MetadataPreview string             `json:"metadata_preview"`
}
