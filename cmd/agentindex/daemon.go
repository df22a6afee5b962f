package main

import (
	"context"
	"log"
	"time"

	"github.com/scrypster/agentindex/internal/discovery"
)

// syncWindow tracks the block range of successive incremental syncs.
type syncWindow struct {
	next         *uint64
	blocksPerDay uint64
}

// start returns the first block of the next sync given the current head.
// The first sync looks back one day.
func (w *syncWindow) start(head uint64) uint64 {
	if w.next != nil {
		return *w.next
	}
	perDay := w.blocksPerDay
	if perDay == 0 {
		perDay = discovery.DefaultBlocksPerDay
	}
	if head < perDay {
		return 0
	}
	return head - perDay
}

// advance records that every block up to head has been synced.
func (w *syncWindow) advance(head uint64) {
	next := head + 1
	w.next = &next
}

// syncOnce scans registrations since the previous sync and, when enabled,
// scores the same window for similarity.
func (a *app) syncOnce(ctx context.Context) {
	head, err := a.reader.LatestCheckpoint(ctx)
	if err != nil {
		log.Printf("WARNING: Sync skipped, registry unreachable: %v", err)
		return
	}
	from := a.window.start(head)
	if from > head {
		log.Printf("Sync: no new blocks since %d", head)
		return
	}

	res := a.scanner.ScanNewRegistrations(ctx, &from, a.scanOptions())
	log.Printf("Sync: blocks %d-%d found=%d new=%d updated=%d errors=%d",
		from, head, res.Found, res.New, res.Updated, res.Errors)

	if a.cfg.Scan.SimilarityEnabled && res.Found > 0 {
		opts := a.similarityOptions()
		opts.FromCheckpoint = &from
		opts.ToCheckpoint = &head
		if _, err := a.similarity.ScanForMemoryAgents(ctx, opts); err != nil {
			log.Printf("WARNING: Similarity pass failed: %v", err)
		}
	}

	// A failed window is retried on the next tick.
	if res.Errors == 0 || res.Found > 0 {
		a.window.advance(head)
	}
}

// runEvery calls fn immediately and then on every tick until ctx is done.
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
