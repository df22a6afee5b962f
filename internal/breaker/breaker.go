// Package breaker guards remote reads (the RPC node and the metadata gateway)
// with a circuit breaker so a failing endpoint is not hammered.
package breaker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the circuit rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes a CircuitBreaker. Zero values take the defaults.
type Config struct {
	// Name labels the breaker in logs and metrics, e.g. "rpc" or "metadata".
	Name string

	// MaxFailures consecutive failures open the circuit. Default: 5
	MaxFailures uint32

	// Cooldown is how long the circuit stays open before letting calls through again. Default: 30s
	Cooldown time.Duration

	// HalfOpenCalls is the number of calls let through while half-open. Default: 2
	HalfOpenCalls uint32

	// OnStateChange, when set, is told the new state after every transition.
	OnStateChange func(name, state string)
}

// CircuitBreaker opens after MaxFailures consecutive failures, rejects calls
// for Cooldown, then lets HalfOpenCalls calls through to decide whether to close.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker with default thresholds.
func New(name string, onStateChange func(name, state string)) *CircuitBreaker {
	return NewWithConfig(Config{Name: name, OnStateChange: onStateChange})
}

// NewWithConfig creates a breaker from cfg.
func NewWithConfig(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenCalls == 0 {
		cfg.HalfOpenCalls = 2
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenCalls,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("CircuitBreaker %s: %s -> %s", name, from, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to.String())
			}
		},
	})}
}

// Execute runs fn through the breaker. It fails fast on a cancelled ctx
// without touching the breaker.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return res, err
}

// State returns "closed", "open" or "half-open".
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}
