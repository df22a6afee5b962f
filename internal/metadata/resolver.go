// Package metadata fetches and normalizes agent registration documents.
package metadata

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/agentindex/internal/breaker"
	"github.com/scrypster/agentindex/internal/metrics"
	"github.com/scrypster/agentindex/pkg/types"
)

const (
	DefaultGateway  = "https://ipfs.io"
	DefaultTimeout  = 10 * time.Second
	DefaultMaxBytes = 1 << 20
)

var errTooLarge = errors.New("metadata document exceeds size limit")

// statusError is a non-2xx gateway response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("metadata host returned status %d", e.code)
}

// Config configures a Resolver.
type Config struct {
	// Gateway serves ipfs:// content. Default: https://ipfs.io
	Gateway string

	// Timeout bounds each fetch. Default: 10s
	Timeout time.Duration

	// MaxBytes caps a document body. Default: 1 MiB
	MaxBytes int64

	// RequestsPerSecond and Burst throttle outbound fetches. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
	Breaker    *breaker.CircuitBreaker
	Cache      Cache
	Metrics    *metrics.Metrics
}

// Resolver turns a metadata URI into EntityMetadata. It never returns an
// error: anything it cannot read resolves to nil.
type Resolver struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *breaker.CircuitBreaker
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	if cfg.Gateway == "" {
		cfg.Gateway = DefaultGateway
	}
	cfg.Gateway = strings.TrimRight(cfg.Gateway, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	r := &Resolver{
		cfg:     cfg,
		client:  cfg.HTTPClient,
		breaker: cfg.Breaker,
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.breaker == nil {
		r.breaker = breaker.New("metadata", cfg.Metrics.SetBreakerState)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return r
}

// ResolveURL maps uri to the URL that is actually fetched. ipfs:// URIs are
// rewritten onto the gateway; http(s) passes through. ok is false for any
// other scheme.
func (r *Resolver) ResolveURL(uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(uri, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		if path == "" {
			return "", false
		}
		return r.cfg.Gateway + "/ipfs/" + path, true
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		if _, err := url.Parse(uri); err != nil {
			return "", false
		}
		return uri, true
	}
	return "", false
}

// Fetch resolves and parses the document at uri, serving it from the
// document cache when possible. Empty URIs return nil without any I/O.
func (r *Resolver) Fetch(ctx context.Context, uri string) *types.EntityMetadata {
	return r.fetch(ctx, uri, true)
}

// Refetch is Fetch without the cache read: the document is always
// downloaded, and a good body replaces the cached one.
func (r *Resolver) Refetch(ctx context.Context, uri string) *types.EntityMetadata {
	return r.fetch(ctx, uri, false)
}

func (r *Resolver) fetch(ctx context.Context, uri string, useCache bool) *types.EntityMetadata {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}

	if strings.HasPrefix(uri, "data:") {
		raw, err := decodeDataURI(uri)
		if err != nil {
			r.cfg.Metrics.IncrementMetadataFetch("data", "invalid")
			return nil
		}
		return r.parse("data", raw)
	}

	target, ok := r.ResolveURL(uri)
	if !ok {
		r.cfg.Metrics.IncrementMetadataFetch("http", "unsupported")
		return nil
	}

	if useCache && r.cfg.Cache != nil {
		if raw, hit := r.cfg.Cache.Get(ctx, target); hit {
			if md := r.parse("cache", raw); md != nil {
				return md
			}
		}
	}

	raw, err := r.download(ctx, target)
	if err != nil {
		outcome := "error"
		if errors.Is(err, breaker.ErrCircuitOpen) {
			outcome = "circuit_open"
		}
		r.cfg.Metrics.IncrementMetadataFetch("http", outcome)
		return nil
	}

	md := r.parse("http", raw)
	if md != nil && r.cfg.Cache != nil {
		r.cfg.Cache.Set(ctx, target, raw)
	}
	return md
}

func (r *Resolver) parse(source string, raw []byte) *types.EntityMetadata {
	md, err := Parse(raw)
	if err != nil {
		r.cfg.Metrics.IncrementMetadataFetch(source, "invalid")
		return nil
	}
	r.cfg.Metrics.IncrementMetadataFetch(source, "ok")
	return md
}

// download GETs target. Transport errors and 5xx responses count against
// the gateway breaker; 4xx and oversize responses do not.
func (r *Resolver) download(ctx context.Context, target string) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var clientErr error
	res, err := r.breaker.Execute(ctx, func() (any, error) {
		body, err := r.get(ctx, target)
		var se *statusError
		if (errors.As(err, &se) && se.code < 500) || errors.Is(err, errTooLarge) {
			clientErr = err
			return nil, nil
		}
		return body, err
	})
	if err != nil {
		return nil, err
	}
	if clientErr != nil {
		return nil, clientErr
	}
	return res.([]byte), nil
}

func (r *Resolver) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}
	if int64(len(body)) > r.cfg.MaxBytes {
		log.Printf("WARNING: metadata: %s exceeds %d bytes", target, r.cfg.MaxBytes)
		return nil, errTooLarge
	}
	return body, nil
}

// decodeDataURI handles data:application/json[;base64],<payload>.
func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}
	params := strings.Split(header, ";")
	if params[0] != "" && !strings.Contains(params[0], "json") {
		return nil, fmt.Errorf("unsupported data URI media type %q", params[0])
	}
	for _, p := range params[1:] {
		if p == "base64" {
			return base64.StdEncoding.DecodeString(payload)
		}
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}
