package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/agentindex/internal/metrics"
	"github.com/scrypster/agentindex/internal/registry"
	"github.com/scrypster/agentindex/internal/storage"
	"github.com/scrypster/agentindex/pkg/types"
)

const (
	// DefaultMinScore is the lowest overall score kept as a match.
	DefaultMinScore = 0.05

	// DefaultMaxEntities bounds the candidate population of one scan.
	DefaultMaxEntities = 100

	// BatchSize is the number of candidates fetched and scored at once.
	BatchSize = 10

	previewRunes = 500
)

// ErrConflictingRange is returned when both an id range and an event range
// are given.
var ErrConflictingRange = errors.New("similarity: id range and event range are mutually exclusive")

// MetadataFetcher resolves a metadata URI. A nil result means unknown.
type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) *types.EntityMetadata
}

// Store is what auto-tagging writes to.
type Store interface {
	Upsert(ctx context.Context, u *storage.AgentUpsert) (storage.UpsertResult, error)
	AppendScanLog(ctx context.Context, entry *types.ScanLogEntry) error
}

// IDRange is an inclusive agent id range.
type IDRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Options selects the candidates of a scan and what to do with matches.
//
// Candidates come from IDRange or from registrations in the block range
// starting at FromCheckpoint, never both. With neither set, the scan covers
// ids 1 through MaxEntities.
type Options struct {
	IDRange        *IDRange
	FromCheckpoint *uint64
	ToCheckpoint   *uint64

	// MaxEntities caps the candidate count. Zero means DefaultMaxEntities.
	MaxEntities int

	// MinScore is the match threshold. Nil means DefaultMinScore; a zero
	// threshold keeps every scored candidate.
	MinScore *float64

	// AutoTag merges each match's auto-tags into the cache and logs the scan.
	AutoTag bool
}

// Result is the outcome of a scan. Matches are sorted by score descending,
// then agent id ascending.
type Result struct {
	Matches      []types.SimilarityMatch `json:"matches"`
	TotalScanned int                     `json:"total_scanned"`
	TotalMatched int                     `json:"total_matched"`
	Errors       int                     `json:"errors"`
	DurationMs   int64                   `json:"duration_ms"`

	// Range is the id range actually scanned; nil for event scans.
	Range *IDRange `json:"range,omitempty"`

	// Truncated is set when MaxEntities cut the requested candidates short.
	Truncated bool `json:"truncated"`
}

// Scanner finds agents whose metadata resembles Model.
type Scanner struct {
	reader   *registry.Reader
	resolver MetadataFetcher
	store    Store
	metrics  *metrics.Metrics
}

// NewScanner creates a Scanner. store may be nil when auto-tagging is never used.
func NewScanner(reader *registry.Reader, resolver MetadataFetcher, store Store, m *metrics.Metrics) *Scanner {
	return &Scanner{
		reader:   reader,
		resolver: resolver,
		store:    store,
		metrics:  m,
	}
}

type candidate struct {
	identity types.OnChainIdentity
	match    *types.SimilarityMatch
	metadata *types.EntityMetadata
	failed   bool
}

// ScanForMemoryAgents scores each candidate's metadata and returns those at
// or above the threshold. A candidate that cannot be read or scored is left
// out of the result; only conflicting options are an error.
func (s *Scanner) ScanForMemoryAgents(ctx context.Context, opts Options) (*Result, error) {
	if opts.IDRange != nil && opts.FromCheckpoint != nil {
		return nil, ErrConflictingRange
	}
	if opts.MaxEntities <= 0 {
		opts.MaxEntities = DefaultMaxEntities
	}
	minScore := DefaultMinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	start := time.Now()
	res := &Result{Matches: []types.SimilarityMatch{}}

	cs, err := s.candidates(ctx, opts)
	if err != nil {
		log.Printf("Similarity: failed to list candidates: %v", err)
		res.Errors = 1
		res.DurationMs = time.Since(start).Milliseconds()
		return res, nil
	}
	ids := cs.ids
	res.TotalScanned = len(ids)
	res.Truncated = cs.truncated
	if cs.scanType == types.ScanTypeRange {
		res.Range = &IDRange{From: *cs.from, To: *cs.to}
	}
	if cs.truncated {
		log.Printf("Similarity: candidates capped at %d (max entities)", opts.MaxEntities)
	}

	results := make([]candidate, len(ids))
	for batchStart := 0; batchStart < len(ids); batchStart += BatchSize {
		batchEnd := min(batchStart+BatchSize, len(ids))

		var g errgroup.Group
		for i := batchStart; i < batchEnd; i++ {
			g.Go(func() error {
				results[i] = s.evaluate(ctx, ids[i], minScore)
				return nil
			})
		}
		_ = g.Wait()
	}

	var kept []candidate
	for _, c := range results {
		if c.failed {
			res.Errors++
		}
		if c.match != nil {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i].match, kept[j].match
		if a.SimilarityScore != b.SimilarityScore {
			return a.SimilarityScore > b.SimilarityScore
		}
		return a.AgentID < b.AgentID
	})
	for _, c := range kept {
		res.Matches = append(res.Matches, *c.match)
	}
	res.TotalMatched = len(res.Matches)

	if opts.AutoTag && s.store != nil {
		s.autoTag(ctx, kept, cs.scanType, cs.from, cs.to, res, start)
	}

	res.DurationMs = time.Since(start).Milliseconds()
	s.metrics.AddSimilarityMatches(res.TotalMatched)
	log.Printf("Similarity: scanned=%d matched=%d errors=%d", res.TotalScanned, res.TotalMatched, res.Errors)
	return res, nil
}

// candidateSet is the agent ids of one scan and where they came from.
type candidateSet struct {
	ids       []uint64
	scanType  types.ScanType
	from, to  *uint64
	truncated bool
}

// candidates lists the agent ids to score, in ascending order.
func (s *Scanner) candidates(ctx context.Context, opts Options) (candidateSet, error) {
	limit := uint64(opts.MaxEntities)

	if opts.FromCheckpoint != nil {
		from := *opts.FromCheckpoint
		cs := candidateSet{scanType: types.ScanTypeEvent, from: &from, to: opts.ToCheckpoint}
		events, err := s.reader.ScanEvents(ctx, &from, opts.ToCheckpoint)
		if err != nil {
			return cs, err
		}
		seen := make(map[uint64]bool, len(events))
		for _, ev := range events {
			if !seen[ev.AgentID] {
				seen[ev.AgentID] = true
				cs.ids = append(cs.ids, ev.AgentID)
			}
		}
		sort.Slice(cs.ids, func(i, j int) bool { return cs.ids[i] < cs.ids[j] })
		if len(cs.ids) > opts.MaxEntities {
			cs.ids = cs.ids[:opts.MaxEntities]
			cs.truncated = true
		}
		return cs, nil
	}

	r := IDRange{From: 1, To: limit}
	if opts.IDRange != nil {
		r = *opts.IDRange
	}
	cs := candidateSet{scanType: types.ScanTypeRange, from: &r.From, to: &r.To}
	if r.From > r.To {
		return cs, nil
	}
	if r.To-r.From >= limit {
		r.To = r.From + limit - 1
		cs.truncated = true
	}

	cs.ids = make([]uint64, 0, r.To-r.From+1)
	for id := r.From; ; id++ {
		cs.ids = append(cs.ids, id)
		if id == r.To {
			break
		}
	}
	return cs, nil
}

// evaluate reads, fetches and scores one candidate.
func (s *Scanner) evaluate(ctx context.Context, agentID uint64, minScore float64) candidate {
	identity := s.reader.GetIdentity(ctx, agentID)
	c := candidate{identity: identity}
	if !identity.Exists || identity.MetadataURI == "" {
		return c
	}

	md := s.resolver.Fetch(ctx, identity.MetadataURI)
	if md == nil {
		c.failed = true
		return c
	}
	c.metadata = md

	doc := md.Document
	if doc == nil {
		doc = documentFromMetadata(md)
	}
	score := ScoreDocument(doc)
	if score.Overall < minScore {
		return c
	}

	c.match = &types.SimilarityMatch{
		AgentID:         identity.AgentID,
		Owner:           identity.Owner,
		Wallet:          identity.Wallet,
		MetadataURI:     identity.MetadataURI,
		SimilarityScore: score.Overall,
		Breakdown:       score.Breakdown,
		MatchedKeywords: score.MatchedKeywords,
		AutoTags:        score.AutoTags,
		Capabilities:    md.Capabilities,
		MetadataPreview: preview(md, doc),
	}
	return c
}

// autoTag upserts every match with its tags and logs the scan once.
func (s *Scanner) autoTag(ctx context.Context, kept []candidate, scanType types.ScanType, from, to *uint64, res *Result, start time.Time) {
	entry := &types.ScanLogEntry{
		ScanType:      scanType,
		RangeStart:    from,
		RangeEnd:      to,
		EntitiesFound: len(kept),
	}

	now := time.Now()
	for _, c := range kept {
		u := &storage.AgentUpsert{
			AgentID:     c.identity.AgentID,
			Owner:       c.identity.Owner,
			Wallet:      c.identity.Wallet,
			MetadataURI: c.identity.MetadataURI,
			Metadata:    c.metadata,
			Tags:        c.match.AutoTags,
			ObservedAt:  now,
		}
		result, err := s.store.Upsert(ctx, u)
		if err != nil {
			log.Printf("Similarity: failed to tag agent %d: %v", c.identity.AgentID, err)
			res.Errors++
			continue
		}
		if result.Created {
			entry.EntitiesNew++
		} else {
			entry.EntitiesUpdated++
		}
	}

	entry.Errors = res.Errors
	entry.DurationMs = time.Since(start).Milliseconds()
	if err := s.store.AppendScanLog(ctx, entry); err != nil {
		log.Printf("WARNING: Similarity: failed to append scan log: %v", err)
	}
}

func documentFromMetadata(md *types.EntityMetadata) map[string]any {
	doc := make(map[string]any, len(md.Extra)+4)
	for k, v := range md.Extra {
		doc[k] = v
	}
	doc["name"] = md.Name
	doc["type"] = md.Type
	doc["description"] = md.Description
	doc["capabilities"] = md.Capabilities
	return doc
}

func preview(md *types.EntityMetadata, doc map[string]any) string {
	raw := md.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(doc); err != nil {
			return ""
		}
	}
	r := []rune(string(raw))
	if len(r) > previewRunes {
		r = r[:previewRunes]
	}
	return string(r)
}
