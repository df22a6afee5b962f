// Command agentindex discovers agents in the on-chain registry, keeps a local
// cache of them and scores them for similarity.
//
// Without a mode flag it runs as a daemon: an incremental registration scan
// every scan interval, followed by a similarity pass over the same window.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/scrypster/agentindex/internal/chain"
	"github.com/scrypster/agentindex/internal/config"
	"github.com/scrypster/agentindex/internal/discovery"
	"github.com/scrypster/agentindex/internal/metadata"
	"github.com/scrypster/agentindex/internal/metrics"
	"github.com/scrypster/agentindex/internal/registry"
	"github.com/scrypster/agentindex/internal/server"
	"github.com/scrypster/agentindex/internal/similarity"
	"github.com/scrypster/agentindex/internal/storage"
	"github.com/scrypster/agentindex/internal/storage/postgres"
	"github.com/scrypster/agentindex/internal/storage/sqlite"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	oneshot    = flag.Bool("oneshot", false, "Run one incremental scan and similarity pass, then exit")
	rangeFlag  = flag.String("range", "", "Scan and cache an agent id range, e.g. 1:500")
	events     = flag.Bool("events", false, "Scan registration events and exit")
	fromBlock  = flag.Int64("from-block", -1, "First block for -events and -similarity (default: one day back)")
	refresh    = flag.Uint64("refresh", 0, "Re-read a single agent and print it")
	similar    = flag.Bool("similarity", false, "Run a similarity scan (uses -range or -from-block) and exit")
	search     = flag.String("search", "", "Search the cache with a JSON filter, e.g. '{\"tags\":[\"memory-core\"]}'")
	history    = flag.Int("history", 0, "Print the N most recent scan log entries")
	statsCmd   = flag.Bool("stats", false, "Print cache statistics")
)

// app holds the constructed components shared by every mode.
type app struct {
	cfg        *config.Config
	registry   *prometheus.Registry
	reader     *registry.Reader
	store      storage.Store
	scanner    *discovery.Scanner
	similarity *similarity.Scanner
	search     *discovery.SearchEngine
	window     syncWindow
	closers    []func() error
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfigFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		log.Printf("Error: %v", err)
		a.close()
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		window:   syncWindow{blocksPerDay: cfg.Chain.BlocksPerDay},
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	client, err := chain.NewClient(chain.ClientConfig{
		URL:                cfg.Chain.RPCURL,
		IdentityRegistry:   cfg.Chain.IdentityRegistry,
		ReputationRegistry: cfg.Chain.ReputationRegistry,
		RequestsPerSecond:  cfg.Chain.RequestsPerSecond,
		Burst:              cfg.Chain.Burst,
		Timeout:            cfg.Chain.Timeout,
		LogChunkSize:       cfg.Chain.LogChunkSize,
		Metrics:            m,
	})
	if err != nil {
		return nil, fmt.Errorf("registry client: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	cache, err := a.metadataCache(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	resolver := metadata.NewResolver(metadata.Config{
		Gateway:           cfg.Metadata.IPFSGateway,
		Timeout:           cfg.Metadata.Timeout,
		RequestsPerSecond: cfg.Metadata.RequestsPerSecond,
		Burst:             cfg.Metadata.Burst,
		Cache:             cache,
		Metrics:           m,
	})

	store, err := openStore(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	reader := registry.NewReader(client)
	a.reader = reader
	a.scanner = discovery.NewScanner(discovery.ScannerConfig{
		Reader:       reader,
		Resolver:     resolver,
		Store:        store,
		Metrics:      m,
		BlocksPerDay: cfg.Chain.BlocksPerDay,
	})
	a.similarity = similarity.NewScanner(reader, resolver, store, m)
	a.search = discovery.NewSearchEngine(store)
	return a, nil
}

// metadataCache picks Redis when configured, otherwise an in-process LRU.
// A zero TTL disables caching.
func (a *app) metadataCache(ctx context.Context) (metadata.Cache, error) {
	mc := a.cfg.Metadata
	if mc.CacheTTL <= 0 {
		return nil, nil
	}
	if mc.RedisURL != "" {
		rc, err := metadata.NewRedisCache(ctx, mc.RedisURL, mc.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("metadata cache: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		log.Printf("Using Redis metadata cache")
		return rc, nil
	}
	return metadata.NewLRUCache(mc.CacheSize, mc.CacheTTL), nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		store, err := postgres.NewAgentStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.NewAgentStore(filepath.Join(cfg.Storage.DataPath, "agentindex.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("Warning: close failed: %v", err)
		}
	}
	a.closers = nil
}

func (a *app) scanOptions() discovery.ScanOptions {
	return discovery.ScanOptions{
		FetchMetadata:   a.cfg.Scan.FetchMetadata,
		FetchReputation: a.cfg.Scan.FetchReputation,
		Concurrency:     a.cfg.Scan.Concurrency,
	}
}

func (a *app) similarityOptions() similarity.Options {
	return similarity.Options{
		MinScore: &a.cfg.Scan.SimilarityMinScore,
		AutoTag:  a.cfg.Scan.AutoTag,
	}
}

// run dispatches to the selected mode.
func (a *app) run(ctx context.Context) error {
	var from *uint64
	if *fromBlock >= 0 {
		b := uint64(*fromBlock)
		from = &b
	}

	switch {
	case *search != "":
		var f discovery.SearchFilters
		if err := json.Unmarshal([]byte(*search), &f); err != nil {
			return fmt.Errorf("invalid -search filter: %w", err)
		}
		res, err := a.search.Search(ctx, f)
		if err != nil {
			return err
		}
		return printJSON(res)

	case *statsCmd:
		stats, err := a.search.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case *history > 0:
		entries, err := a.search.History(ctx, *history)
		if err != nil {
			return err
		}
		return printJSON(entries)

	case *refresh > 0:
		agent, err := a.scanner.RefreshAgent(ctx, *refresh)
		if err != nil {
			return err
		}
		if agent == nil {
			return fmt.Errorf("agent %d does not exist on-chain", *refresh)
		}
		return printJSON(agent)

	case *similar:
		opts := a.similarityOptions()
		if *rangeFlag != "" {
			r, err := parseRange(*rangeFlag)
			if err != nil {
				return err
			}
			opts.IDRange = r
		}
		opts.FromCheckpoint = from
		res, err := a.similarity.ScanForMemoryAgents(ctx, opts)
		if err != nil {
			return err
		}
		return printJSON(res)

	case *rangeFlag != "":
		r, err := parseRange(*rangeFlag)
		if err != nil {
			return err
		}
		return printJSON(a.scanner.ScanAndCacheRange(ctx, r.From, r.To, a.scanOptions()))

	case *events:
		return printJSON(a.scanner.ScanNewRegistrations(ctx, from, a.scanOptions()))

	case *oneshot:
		a.syncOnce(ctx)
		return nil
	}

	return a.daemon(ctx)
}

func parseRange(s string) (*similarity.IDRange, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid range %q, want from:to", s)
	}
	from, err := strconv.ParseUint(lo, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid range start %q: %w", lo, err)
	}
	to, err := strconv.ParseUint(hi, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid range end %q: %w", hi, err)
	}
	if from > to {
		return nil, fmt.Errorf("invalid range %q: start is after end", s)
	}
	return &similarity.IDRange{From: from, To: to}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// daemon serves metrics and syncs on every tick until ctx is cancelled.
func (a *app) daemon(ctx context.Context) error {
	addr, err := server.Start(ctx, a.cfg, a.registry, a.search)
	if err != nil {
		return err
	}
	log.Printf("Metrics listening on http://%s/metrics", addr)
	log.Println("Agent index daemon started, press Ctrl+C to stop")

	runEvery(ctx, a.cfg.Scan.Interval, func() { a.syncOnce(ctx) })

	log.Println("Shutting down gracefully...")
	return nil
}
