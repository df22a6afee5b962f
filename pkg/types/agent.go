// Package types defines the core domain types shared across the agent index:
// on-chain identities, reputation summaries, resolved metadata documents and
// the cached agent records built from them.
package types

import (
	"math/big"
	"strconv"
	"strings"
	"time"
)

// OnChainIdentity is the result of a single identity read against the
// registry. It is never persisted as-is.
//
// When Exists is false the remaining fields are meaningless: the ID is either
// not registered or could not be read.
type OnChainIdentity struct {
	AgentID     uint64 `json:"agent_id"`
	Owner       string `json:"owner"`
	Wallet      string `json:"wallet"`
	MetadataURI string `json:"metadata_uri"`
	Exists      bool   `json:"exists"`
}

// ReputationSummary is the aggregated rating for an agent as reported by the
// reputation registry.
type ReputationSummary struct {
	Count        uint64   `json:"count"`
	RawValue     *big.Int `json:"raw_value"`
	Decimals     uint8    `json:"decimals"`
	DisplayScore string   `json:"display_score"`
}

// NewReputationSummary builds a summary and derives its display score.
func NewReputationSummary(count uint64, raw *big.Int, decimals uint8) *ReputationSummary {
	if raw == nil {
		raw = new(big.Int)
	}
	return &ReputationSummary{
		Count:        count,
		RawValue:     raw,
		Decimals:     decimals,
		DisplayScore: FormatFixedPoint(raw, decimals),
	}
}

// HasScore reports whether the summary carries a meaningful score.
// A summary with no contributions must not be displayed.
func (r *ReputationSummary) HasScore() bool {
	return r != nil && r.Count > 0
}

// Score returns the display score as a float for filtering and sorting.
func (r *ReputationSummary) Score() float64 {
	if r == nil {
		return 0
	}
	f, err := strconv.ParseFloat(r.DisplayScore, 64)
	if err != nil {
		return 0
	}
	return f
}

// FormatFixedPoint renders raw / 10^decimals with exactly decimals fractional digits.
func FormatFixedPoint(raw *big.Int, decimals uint8) string {
	if raw == nil {
		raw = new(big.Int)
	}
	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)

	digits := abs.String()
	if decimals > 0 {
		width := int(decimals) + 1
		if len(digits) < width {
			digits = strings.Repeat("0", width-len(digits)) + digits
		}
		cut := len(digits) - int(decimals)
		digits = digits[:cut] + "." + digits[cut:]
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// EntityMetadata is the normalized form of an agent's registration document.
type EntityMetadata struct {
	Name           string         `json:"name,omitempty"`
	Type           string         `json:"type,omitempty"`
	Description    string         `json:"description,omitempty"`
	Capabilities   []string       `json:"capabilities"`
	FleetMembers   []string       `json:"fleet_members,omitempty"`
	Contracts      map[string]any `json:"contracts,omitempty"`
	DeclaredWallet string         `json:"declared_wallet,omitempty"`

	// Extra holds every top-level field not mapped above.
	Extra map[string]any `json:"extra,omitempty"`

	// Document is the full parsed document, used for similarity scoring.
	Document map[string]any `json:"-"`

	// Raw is the document body as fetched.
	Raw []byte `json:"-"`
}

// Relationship is a locally assigned classification of an agent.
type Relationship string

const (
	RelationshipUnknown Relationship = "unknown"
	RelationshipAlly    Relationship = "ally"
	RelationshipNeutral Relationship = "neutral"
	RelationshipAvoided Relationship = "avoided"
)

// IsValid reports whether r is one of the known relationships.
func (r Relationship) IsValid() bool {
	switch r {
	case RelationshipUnknown, RelationshipAlly, RelationshipNeutral, RelationshipAvoided:
		return true
	}
	return false
}

// Agent is a cached registry entry: identity, flattened metadata,
// reputation and local-only classification fields. AgentID is the only
// stable identity.
type Agent struct {
	AgentID     uint64 `json:"agent_id"`
	Owner       string `json:"owner"`
	Wallet      string `json:"wallet"`
	MetadataURI string `json:"metadata_uri,omitempty"`

	// Metadata (flattened)
	Name           string         `json:"name,omitempty"`
	Type           string         `json:"type,omitempty"`
	Description    string         `json:"description,omitempty"`
	Capabilities   []string       `json:"capabilities"`
	FleetMembers   []string       `json:"fleet_members,omitempty"`
	Contracts      map[string]any `json:"contracts,omitempty"`
	DeclaredWallet string         `json:"declared_wallet,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`

	// Reputation
	ReputationCount    uint64  `json:"reputation_count"`
	ReputationRaw      string  `json:"reputation_raw,omitempty"`
	ReputationDecimals uint8   `json:"reputation_decimals"`
	ReputationDisplay  string  `json:"reputation_display,omitempty"`
	ReputationScore    float64 `json:"reputation_score"`

	// Local-only
	Relationship Relationship `json:"relationship"`
	Tags         []string     `json:"tags"`
	Notes        string       `json:"notes,omitempty"`
	IsVerified   bool         `json:"is_verified"`

	HasMetadata   bool `json:"has_metadata"`
	HasReputation bool `json:"has_reputation"`

	LastScannedAt   time.Time  `json:"last_scanned_at"`
	RegisteredAt    *time.Time `json:"registered_at,omitempty"`
	RegisteredBlock *uint64    `json:"registered_block,omitempty"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RegistrationEvent is a single registration observed in the registry's
// event log.
type RegistrationEvent struct {
	AgentID             uint64 `json:"agent_id"`
	OwnerAtRegistration string `json:"owner_at_registration"`
	DeclaredURI         string `json:"declared_uri"`
	Checkpoint          uint64 `json:"checkpoint"`
	TxRef               string `json:"tx_ref"`
}

// DiscoveryStats aggregates the current state of the cache.
type DiscoveryStats struct {
	TotalCached         int        `json:"total_cached"`
	Verified            int        `json:"verified"`
	WithReputation      int        `json:"with_reputation"`
	Allied              int        `json:"allied"`
	LastScanAt          *time.Time `json:"last_scan_at,omitempty"`
	RegisteredLast7Days int        `json:"registered_last_7_days"`
}
