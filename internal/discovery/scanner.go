// Package discovery keeps the local agent cache in step with the on-chain
// registry and answers filtered searches over it.
package discovery

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/agentindex/internal/metrics"
	"github.com/scrypster/agentindex/internal/registry"
	"github.com/scrypster/agentindex/internal/storage"
	"github.com/scrypster/agentindex/pkg/types"
)

// DefaultBlocksPerDay is the incremental-scan lookback used when none is
// configured: roughly 24 hours of 2 second blocks.
const DefaultBlocksPerDay = 43200

// MetadataFetcher resolves a metadata URI. A nil result means unknown.
// Refetch must not answer from a cache. metadata.Resolver implements it.
type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) *types.EntityMetadata
	Refetch(ctx context.Context, uri string) *types.EntityMetadata
}

// Cache is the subset of storage the scanners write through.
type Cache interface {
	storage.AgentStore
	storage.ScanLogStore
}

// ScanOptions controls enrichment for a scan.
type ScanOptions struct {
	FetchMetadata   bool
	FetchReputation bool

	// Concurrency is the identity-read and enrichment batch width.
	// Zero means registry.DefaultConcurrency.
	Concurrency int

	// refetch bypasses the metadata document cache.
	refetch bool
}

// DefaultScanOptions enriches everything at the default batch width.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		FetchMetadata:   true,
		FetchReputation: true,
		Concurrency:     registry.DefaultConcurrency,
	}
}

// ScanResult summarises one scan. It mirrors the scan log entry written for it.
type ScanResult struct {
	Scanned    int   `json:"scanned"`
	Found      int   `json:"found"`
	New        int   `json:"new"`
	Updated    int   `json:"updated"`
	Errors     int   `json:"errors"`
	DurationMs int64 `json:"duration_ms"`
}

// ScannerConfig wires a Scanner's collaborators.
type ScannerConfig struct {
	Reader   *registry.Reader
	Resolver MetadataFetcher
	Store    Cache
	Metrics  *metrics.Metrics

	// BlocksPerDay sets the default lookback for ScanNewRegistrations.
	BlocksPerDay uint64
}

// Scanner discovers agents on-chain, enriches them and writes them to the cache.
type Scanner struct {
	reader       *registry.Reader
	resolver     MetadataFetcher
	store        Cache
	metrics      *metrics.Metrics
	blocksPerDay uint64
	now          func() time.Time
}

// NewScanner creates a Scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.BlocksPerDay == 0 {
		cfg.BlocksPerDay = DefaultBlocksPerDay
	}
	return &Scanner{
		reader:       cfg.Reader,
		resolver:     cfg.Resolver,
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		blocksPerDay: cfg.BlocksPerDay,
		now:          time.Now,
	}
}

// registration carries what an event tells us beyond the identity read.
type registration struct {
	block uint64
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeNew
	outcomeUpdated
	outcomeError
)

// ScanAndCacheRange scans ids [from, to], enriches every agent that exists
// and upserts it. Ids that read as missing are skipped and their cache rows,
// if any, are left alone.
func (s *Scanner) ScanAndCacheRange(ctx context.Context, from, to uint64, opts ScanOptions) *ScanResult {
	start := time.Now()
	res := &ScanResult{}

	var identities []types.OnChainIdentity
	if from <= to {
		res.Scanned = int(to - from + 1)
		identities = s.reader.ScanRange(ctx, from, to, opts.Concurrency)
	}

	found := existing(identities)
	res.Found = len(found)
	s.enrichAll(ctx, found, nil, opts, res)

	// Every id reading as missing is indistinguishable from an unreachable
	// registry; a failed head read settles it.
	if res.Found == 0 && res.Scanned > 0 {
		if _, err := s.reader.LatestCheckpoint(ctx); err != nil {
			log.Printf("Scanner: registry unreachable during range scan %d-%d: %v", from, to, err)
			res.Errors = res.Scanned
		}
	}

	s.finish(ctx, types.ScanTypeRange, &from, &to, res, start)
	log.Printf("Scanner: range %d-%d scanned=%d found=%d new=%d updated=%d errors=%d",
		from, to, res.Scanned, res.Found, res.New, res.Updated, res.Errors)
	return res
}

// ScanNewRegistrations scans registration events since fromCheckpoint and
// caches every registered agent. A nil fromCheckpoint looks back one day of
// blocks from the head. Every event gets a fresh identity read since event
// URIs may be stale. A failed event window counts as a single error.
func (s *Scanner) ScanNewRegistrations(ctx context.Context, fromCheckpoint *uint64, opts ScanOptions) *ScanResult {
	start := time.Now()
	res := &ScanResult{}

	head, err := s.reader.LatestCheckpoint(ctx)
	if err != nil {
		log.Printf("Scanner: failed to read head block: %v", err)
		res.Errors = 1
		s.finish(ctx, types.ScanTypeEvent, fromCheckpoint, nil, res, start)
		return res
	}

	from := uint64(0)
	if fromCheckpoint != nil {
		from = *fromCheckpoint
	} else if head > s.blocksPerDay {
		from = head - s.blocksPerDay
	}

	events, err := s.reader.ScanEvents(ctx, &from, &head)
	if err != nil {
		log.Printf("Scanner: event window %d-%d failed: %v", from, head, err)
		res.Errors = 1
		s.finish(ctx, types.ScanTypeEvent, &from, &head, res, start)
		return res
	}

	// First event per agent wins; they arrive in block order.
	regs := make(map[uint64]registration, len(events))
	var ids []uint64
	for _, ev := range events {
		if _, seen := regs[ev.AgentID]; seen {
			continue
		}
		regs[ev.AgentID] = registration{block: ev.Checkpoint}
		ids = append(ids, ev.AgentID)
	}
	res.Scanned = len(ids)

	identities := s.readIdentities(ctx, ids, opts.Concurrency)
	found := existing(identities)
	res.Found = len(found)
	// The event proves the agent exists, so an unreadable identity is an error.
	res.Errors += len(identities) - len(found)

	s.enrichAll(ctx, found, regs, opts, res)

	s.finish(ctx, types.ScanTypeEvent, &from, &head, res, start)
	log.Printf("Scanner: events %d-%d registrations=%d found=%d new=%d updated=%d errors=%d",
		from, head, res.Scanned, res.Found, res.New, res.Updated, res.Errors)
	return res
}

// RefreshAgent re-reads identity, metadata and reputation for one agent
// regardless of cache state and returns the updated row. It returns nil, nil
// when the agent does not exist on-chain; the cache is not touched then.
func (s *Scanner) RefreshAgent(ctx context.Context, agentID uint64) (*types.Agent, error) {
	start := time.Now()
	res := &ScanResult{Scanned: 1}
	defer func() { s.finish(ctx, types.ScanTypeRefresh, &agentID, &agentID, res, start) }()

	identity := s.reader.GetIdentity(ctx, agentID)
	if !identity.Exists {
		return nil, nil
	}
	res.Found = 1

	opts := DefaultScanOptions()
	opts.refetch = true
	o, err := s.enrich(ctx, identity, nil, opts)
	res.tally(o)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, agentID)
}

// ScanAgent scans a single agent with the given options.
func (s *Scanner) ScanAgent(ctx context.Context, agentID uint64, opts ScanOptions) *ScanResult {
	start := time.Now()
	res := &ScanResult{Scanned: 1}

	identity := s.reader.GetIdentity(ctx, agentID)
	if identity.Exists {
		res.Found = 1
		o, _ := s.enrich(ctx, identity, nil, opts)
		res.tally(o)
	}

	s.finish(ctx, types.ScanTypeSingle, &agentID, &agentID, res, start)
	return res
}

// readIdentities reads identities for an arbitrary id list in batches,
// preserving input order.
func (s *Scanner) readIdentities(ctx context.Context, ids []uint64, concurrency int) []types.OnChainIdentity {
	out := make([]types.OnChainIdentity, len(ids))
	forEachBatch(len(ids), concurrency, func(i int) {
		out[i] = s.reader.GetIdentity(ctx, ids[i])
	})
	return out
}

// enrichAll enriches and upserts identities batch by batch and tallies the
// outcomes into res.
func (s *Scanner) enrichAll(ctx context.Context, identities []types.OnChainIdentity, regs map[uint64]registration, opts ScanOptions, res *ScanResult) {
	outcomes := make([]outcome, len(identities))
	forEachBatch(len(identities), opts.Concurrency, func(i int) {
		var reg *registration
		if r, ok := regs[identities[i].AgentID]; ok {
			reg = &r
		}
		outcomes[i], _ = s.enrich(ctx, identities[i], reg, opts)
	})
	for _, o := range outcomes {
		res.tally(o)
	}
}

// enrich builds a partial record from whatever could be read and upserts it.
// Metadata and reputation that could not be read are left out so cached
// values survive.
func (s *Scanner) enrich(ctx context.Context, identity types.OnChainIdentity, reg *registration, opts ScanOptions) (outcome, error) {
	now := s.now()
	u := &storage.AgentUpsert{
		AgentID:     identity.AgentID,
		Owner:       identity.Owner,
		Wallet:      identity.Wallet,
		MetadataURI: identity.MetadataURI,
		ObservedAt:  now,
	}

	if opts.FetchMetadata && identity.MetadataURI != "" {
		if opts.refetch {
			u.Metadata = s.resolver.Refetch(ctx, identity.MetadataURI)
		} else {
			u.Metadata = s.resolver.Fetch(ctx, identity.MetadataURI)
		}
	}
	if opts.FetchReputation {
		u.Reputation = s.reader.GetReputation(ctx, identity.AgentID)
	}
	if reg != nil {
		block := reg.block
		u.RegisteredBlock = &block
		u.RegisteredAt = &now
	}

	result, err := s.store.Upsert(ctx, u)
	if err != nil {
		log.Printf("Scanner: failed to cache agent %d: %v", identity.AgentID, err)
		return outcomeError, err
	}
	if result.Created {
		return outcomeNew, nil
	}
	return outcomeUpdated, nil
}

// finish stamps the duration, appends the scan log entry and reports metrics.
func (s *Scanner) finish(ctx context.Context, scanType types.ScanType, from, to *uint64, res *ScanResult, start time.Time) {
	elapsed := time.Since(start)
	res.DurationMs = elapsed.Milliseconds()

	entry := &types.ScanLogEntry{
		ScanType:        scanType,
		RangeStart:      from,
		RangeEnd:        to,
		EntitiesFound:   res.Found,
		EntitiesNew:     res.New,
		EntitiesUpdated: res.Updated,
		Errors:          res.Errors,
		DurationMs:      res.DurationMs,
	}
	if err := s.store.AppendScanLog(ctx, entry); err != nil {
		log.Printf("WARNING: Scanner: failed to append %s scan log: %v", scanType, err)
	}

	s.metrics.ObserveScan(string(scanType), res.Found, res.New, res.Updated, res.Errors, elapsed)
	if stats, err := s.store.Stats(ctx); err == nil {
		s.metrics.SetCachedAgents(stats.TotalCached)
	}
}

func (r *ScanResult) tally(o outcome) {
	switch o {
	case outcomeNew:
		r.New++
	case outcomeUpdated:
		r.Updated++
	case outcomeError:
		r.Errors++
	}
}

func existing(identities []types.OnChainIdentity) []types.OnChainIdentity {
	out := make([]types.OnChainIdentity, 0, len(identities))
	for _, id := range identities {
		if id.Exists {
			out = append(out, id)
		}
	}
	return out
}

// forEachBatch runs fn for every index in [0, n), width at a time. A batch
// finishes before the next one starts.
func forEachBatch(n, width int, fn func(i int)) {
	if width <= 0 {
		width = registry.DefaultConcurrency
	}
	for start := 0; start < n; start += width {
		end := min(start+width, n)
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				fn(i)
				return nil
			})
		}
		_ = g.Wait()
	}
}
