package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/agentindex/internal/breaker"
	"github.com/scrypster/agentindex/internal/metrics"
	"github.com/scrypster/agentindex/pkg/types"
)

// ErrNotConfigured is returned for reads against a contract whose address
// was not configured.
var ErrNotConfigured = errors.New("contract address not configured")

// DefaultLogChunkSize is the widest block window sent in one eth_getLogs call.
const DefaultLogChunkSize = 10000

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the node endpoint. http(s):// and ws(s):// are supported.
	URL string

	IdentityRegistry   string
	ReputationRegistry string

	// RequestsPerSecond and Burst throttle every outgoing call. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int

	// Timeout bounds each individual call. Default: 15s
	Timeout time.Duration

	// LogChunkSize bounds the block span of one eth_getLogs call. Default: 10000
	LogChunkSize uint64

	HTTPClient *http.Client
	Breaker    *breaker.CircuitBreaker
	Metrics    *metrics.Metrics
}

// Client reads the identity and reputation registries over JSON-RPC.
type Client struct {
	cfg       ClientConfig
	transport transport
	limiter   *rate.Limiter
	breaker   *breaker.CircuitBreaker
	metrics   *metrics.Metrics
	nextID    atomic.Uint64
}

// NewClient creates a registry client for the configured endpoint.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.IdentityRegistry == "" {
		return nil, fmt.Errorf("identity registry: %w", ErrNotConfigured)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.LogChunkSize == 0 {
		cfg.LogChunkSize = DefaultLogChunkSize
	}

	t, err := newTransport(cfg.URL, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		transport: t,
		breaker:   cfg.Breaker,
		metrics:   cfg.Metrics,
	}
	if c.breaker == nil {
		c.breaker = breaker.New("rpc", cfg.Metrics.SetBreakerState)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.transport.close()
}

// call performs one JSON-RPC request and decodes its result into out.
// Only transport failures count against the circuit breaker; RPC error
// objects (reverts) are ordinary answers.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := &rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	start := time.Now()
	res, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.transport.roundTrip(ctx, req)
	})
	if err != nil {
		outcome := "transport_error"
		if errors.Is(err, breaker.ErrCircuitOpen) {
			outcome = "circuit_open"
		}
		c.metrics.ObserveRPC(method, outcome, time.Since(start))
		return err
	}

	resp := res.(*rpcResponse)
	if resp.Error != nil {
		c.metrics.ObserveRPC(method, "rpc_error", time.Since(start))
		return resp.Error
	}
	c.metrics.ObserveRPC(method, "ok", time.Since(start))

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

type callMsg struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

func (c *Client) ethCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	var result string
	if err := c.call(ctx, "eth_call", []any{callMsg{To: to, Data: encodeHex(data)}, "latest"}, &result); err != nil {
		return nil, err
	}
	return decodeHex(result)
}

// BlockNumber returns the current head block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseQuantity(result)
}

// OwnerOf returns the owner of agentID. Unminted ids revert.
func (c *Client) OwnerOf(ctx context.Context, agentID uint64) (string, error) {
	out, err := c.ethCall(ctx, c.cfg.IdentityRegistry, packCall(selOwnerOf, uint256Value(agentID)))
	if err != nil {
		return "", fmt.Errorf("ownerOf(%d): %w", agentID, err)
	}
	owner, err := decodeAddress(out)
	if err != nil {
		return "", fmt.Errorf("ownerOf(%d): %w", agentID, err)
	}
	if isZeroAddress(owner) {
		return "", fmt.Errorf("ownerOf(%d): zero owner", agentID)
	}
	return owner, nil
}

// TokenURI returns the registration URI declared for agentID.
func (c *Client) TokenURI(ctx context.Context, agentID uint64) (string, error) {
	out, err := c.ethCall(ctx, c.cfg.IdentityRegistry, packCall(selTokenURI, uint256Value(agentID)))
	if err != nil {
		return "", fmt.Errorf("tokenURI(%d): %w", agentID, err)
	}
	uri, err := decodeString(out, 0)
	if err != nil {
		return "", fmt.Errorf("tokenURI(%d): %w", agentID, err)
	}
	return uri, nil
}

// WalletOf returns the wallet the agent controls.
func (c *Client) WalletOf(ctx context.Context, agentID uint64) (string, error) {
	out, err := c.ethCall(ctx, c.cfg.IdentityRegistry, packCall(selGetAgentWallet, uint256Value(agentID)))
	if err != nil {
		return "", fmt.Errorf("getAgentWallet(%d): %w", agentID, err)
	}
	wallet, err := decodeAddress(out)
	if err != nil {
		return "", fmt.Errorf("getAgentWallet(%d): %w", agentID, err)
	}
	return wallet, nil
}

// ReputationSummary reads the aggregate feedback for agentID across all
// clients and tags.
func (c *Client) ReputationSummary(ctx context.Context, agentID uint64) (*types.ReputationSummary, error) {
	if c.cfg.ReputationRegistry == "" {
		return nil, fmt.Errorf("reputation registry: %w", ErrNotConfigured)
	}

	clients, err := addressArrayValue(nil)
	if err != nil {
		return nil, err
	}
	data := packCall(selGetSummary, uint256Value(agentID), clients, stringValue(""), stringValue(""))

	out, err := c.ethCall(ctx, c.cfg.ReputationRegistry, data)
	if err != nil {
		return nil, fmt.Errorf("getSummary(%d): %w", agentID, err)
	}

	count, err := uintAt(out, 0)
	if err != nil {
		return nil, fmt.Errorf("getSummary(%d): count: %w", agentID, err)
	}
	value, err := int128At(out, 1)
	if err != nil {
		return nil, fmt.Errorf("getSummary(%d): value: %w", agentID, err)
	}
	decimals, err := uintAt(out, 2)
	if err != nil || decimals > 255 {
		return nil, fmt.Errorf("getSummary(%d): invalid decimals", agentID)
	}

	return types.NewReputationSummary(count, value, uint8(decimals)), nil
}

type logFilter struct {
	FromBlock string     `json:"fromBlock"`
	ToBlock   string     `json:"toBlock"`
	Address   string     `json:"address"`
	Topics    [][]string `json:"topics"`
}

type logEntry struct {
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	Removed         bool     `json:"removed"`
}

// Registrations returns every Registered event in [from, to], split into
// LogChunkSize windows. Any window failure fails the whole call.
func (c *Client) Registrations(ctx context.Context, from, to uint64) ([]types.RegistrationEvent, error) {
	if from > to {
		return nil, nil
	}

	var events []types.RegistrationEvent
	for start := from; start <= to; {
		end := start + c.cfg.LogChunkSize - 1
		if end > to || end < start {
			end = to
		}

		filter := logFilter{
			FromBlock: formatQuantity(start),
			ToBlock:   formatQuantity(end),
			Address:   c.cfg.IdentityRegistry,
			Topics:    [][]string{{topicRegistered}},
		}

		var logs []logEntry
		if err := c.call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
			return nil, fmt.Errorf("eth_getLogs [%d, %d]: %w", start, end, err)
		}

		for _, l := range logs {
			if l.Removed {
				continue
			}
			// A log that cannot be decoded fails the window; skipping it could
			// hide a registration.
			ev, err := decodeRegistered(l)
			if err != nil {
				return nil, fmt.Errorf("eth_getLogs [%d, %d]: Registered log in tx %s: %w", start, end, l.TransactionHash, err)
			}
			events = append(events, ev)
		}

		if end == to {
			break
		}
		start = end + 1
	}
	return events, nil
}

func decodeRegistered(l logEntry) (types.RegistrationEvent, error) {
	if len(l.Topics) < 3 {
		return types.RegistrationEvent{}, fmt.Errorf("expected 3 topics, got %d", len(l.Topics))
	}
	agentID, err := topicUint(l.Topics[1])
	if err != nil {
		return types.RegistrationEvent{}, err
	}
	owner, err := topicAddress(l.Topics[2])
	if err != nil {
		return types.RegistrationEvent{}, err
	}
	data, err := decodeHex(l.Data)
	if err != nil {
		return types.RegistrationEvent{}, fmt.Errorf("invalid data: %w", err)
	}
	uri, err := decodeString(data, 0)
	if err != nil {
		return types.RegistrationEvent{}, err
	}
	block, err := parseQuantity(l.BlockNumber)
	if err != nil {
		return types.RegistrationEvent{}, err
	}
	return types.RegistrationEvent{
		AgentID:             agentID,
		OwnerAtRegistration: owner,
		DeclaredURI:         uri,
		Checkpoint:          block,
		TxRef:               l.TransactionHash,
	}, nil
}
