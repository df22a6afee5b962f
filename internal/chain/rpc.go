package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// maxResponseBytes caps a single JSON-RPC response (log windows can be large).
const maxResponseBytes = 32 << 20

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node. A revert of a view call
// (for example ownerOf on an unminted id) surfaces as an RPCError rather
// than a transport failure.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRevert reports whether err is an execution revert from a view call.
func IsRevert(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == 3 || strings.Contains(strings.ToLower(rpcErr.Message), "revert")
}

// transport moves a single request/response pair to the node.
type transport interface {
	roundTrip(ctx context.Context, req *rpcRequest) (*rpcResponse, error)
	close() error
}

func newTransport(endpoint string, httpClient *http.Client) (transport, error) {
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return &wsTransport{url: endpoint}, nil
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		if httpClient == nil {
			httpClient = &http.Client{}
		}
		return &httpTransport{url: endpoint, client: httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported rpc url scheme: %q", endpoint)
	}
}

type httpTransport struct {
	url    string
	client *http.Client
}

func (t *httpTransport) roundTrip(ctx context.Context, req *rpcRequest) (*rpcResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", req.Method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rpc node returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

func (t *httpTransport) close() error { return nil }

// wsTransport keeps one socket open and serializes calls over it. The
// connection is dropped on any error and redialed on the next call.
type wsTransport struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) roundTrip(ctx context.Context, req *rpcRequest) (*rpcResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		conn, _, err := websocket.Dial(ctx, t.url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", t.url, err)
		}
		conn.SetReadLimit(maxResponseBytes)
		t.conn = conn
	}

	if err := wsjson.Write(ctx, t.conn, req); err != nil {
		t.dropLocked()
		return nil, fmt.Errorf("failed to send %s: %w", req.Method, err)
	}

	for {
		var out rpcResponse
		if err := wsjson.Read(ctx, t.conn, &out); err != nil {
			t.dropLocked()
			return nil, fmt.Errorf("failed to read %s response: %w", req.Method, err)
		}
		// Skip stray frames (late replies to cancelled calls, notifications).
		if out.ID == req.ID {
			return &out, nil
		}
	}
}

func (t *wsTransport) dropLocked() {
	if t.conn != nil {
		_ = t.conn.Close(websocket.StatusInternalError, "resetting connection")
		t.conn = nil
	}
}

func (t *wsTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "")
	t.conn = nil
	return err
}
