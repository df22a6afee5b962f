package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agentindex/internal/breaker"
)

const (
	testIdentity   = "0x00000000000000000000000000000000000000aa"
	testReputation = "0x00000000000000000000000000000000000000bb"
	testOwner      = "0x1111111111111111111111111111111111111111"
	testWallet     = "0x2222222222222222222222222222222222222222"
)

// fakeNode answers the subset of JSON-RPC the client uses.
type fakeNode struct {
	mu       sync.Mutex
	head     uint64
	owners   map[uint64]string
	uris     map[uint64]string
	logs     []logEntry
	getLogs  [][2]uint64
	failLogs bool
	status   int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		head:   100,
		owners: map[uint64]string{},
		uris:   map[uint64]string{},
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != 0 {
		w.WriteHeader(n.status)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "eth_blockNumber":
		resp.Result = mustJSON(formatQuantity(n.head))
	case "eth_call":
		resp.Result, resp.Error = n.ethCall(req.Params)
	case "eth_getLogs":
		if n.failLogs {
			resp.Error = &RPCError{Code: -32005, Message: "query returned more than 10000 results"}
			break
		}
		raw, _ := json.Marshal(req.Params[0])
		var f logFilter
		_ = json.Unmarshal(raw, &f)
		from, _ := parseQuantity(f.FromBlock)
		to, _ := parseQuantity(f.ToBlock)
		n.getLogs = append(n.getLogs, [2]uint64{from, to})

		var out []logEntry
		for _, l := range n.logs {
			b, _ := parseQuantity(l.BlockNumber)
			if b >= from && b <= to {
				out = append(out, l)
			}
		}
		if out == nil {
			out = []logEntry{}
		}
		resp.Result = mustJSON(out)
	default:
		resp.Error = &RPCError{Code: -32601, Message: "method not found"}
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) ethCall(params []any) (json.RawMessage, *RPCError) {
	msg := params[0].(map[string]any)
	to := msg["to"].(string)
	data, _ := decodeHex(msg["data"].(string))
	sel := data[:4]
	id, _ := uintAt(data[4:], 0)

	revert := &RPCError{Code: 3, Message: "execution reverted: ERC721NonexistentToken"}

	switch {
	case to == testIdentity && bytesEq(sel, selOwnerOf):
		owner, ok := n.owners[id]
		if !ok {
			return nil, revert
		}
		return mustJSON(encodeHex(addressWord(owner))), nil
	case to == testIdentity && bytesEq(sel, selTokenURI):
		if _, ok := n.owners[id]; !ok {
			return nil, revert
		}
		return mustJSON(encodeHex(encodeStringReturn(n.uris[id]))), nil
	case to == testIdentity && bytesEq(sel, selGetAgentWallet):
		return mustJSON(encodeHex(addressWord(testWallet))), nil
	case to == testReputation && bytesEq(sel, selGetSummary):
		out := append(word(4), signedWord(big.NewInt(-125))...)
		out = append(out, word(2)...)
		return mustJSON(encodeHex(out)), nil
	}
	return nil, &RPCError{Code: -32000, Message: "unexpected call"}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func bytesEq(a, b []byte) bool {
	return hex.EncodeToString(a) == hex.EncodeToString(b)
}

func addressWord(addr string) []byte {
	raw, _ := decodeHex(addr)
	w := make([]byte, 32)
	copy(w[12:], raw)
	return w
}

func signedWord(v *big.Int) []byte {
	if v.Sign() < 0 {
		v = new(big.Int).Add(v, twoTo256)
	}
	w := make([]byte, 32)
	v.FillBytes(w)
	return w
}

func encodeStringReturn(s string) []byte {
	return append(word(32), stringValue(s).data...)
}

func registeredLog(agentID uint64, owner, uri string, block uint64) logEntry {
	return logEntry{
		Topics: []string{
			topicRegistered,
			encodeHex(word(agentID)),
			encodeHex(addressWord(owner)),
		},
		Data:            encodeHex(encodeStringReturn(uri)),
		BlockNumber:     formatQuantity(block),
		TransactionHash: "0xabc",
	}
}

func newTestClient(t *testing.T, node *fakeNode, chunk uint64) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		URL:                srv.URL,
		IdentityRegistry:   testIdentity,
		ReputationRegistry: testReputation,
		Timeout:            2 * time.Second,
		LogChunkSize:       chunk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, "6352211e", hex.EncodeToString(selOwnerOf))
	assert.Equal(t, "c87b56dd", hex.EncodeToString(selTokenURI))
}

func TestPackCall_DynamicOffsets(t *testing.T) {
	clients, err := addressArrayValue(nil)
	require.NoError(t, err)

	data := packCall(selGetSummary, uint256Value(7), clients, stringValue(""), stringValue("x"))
	body := data[4:]

	id, _ := uintAt(body, 0)
	arrOff, _ := uintAt(body, 1)
	tag1Off, _ := uintAt(body, 2)
	tag2Off, _ := uintAt(body, 3)

	assert.Equal(t, uint64(7), id)
	assert.Equal(t, uint64(128), arrOff)
	assert.Equal(t, uint64(160), tag1Off)
	assert.Equal(t, uint64(192), tag2Off)

	tag2, err := decodeString(body, 3)
	require.NoError(t, err)
	assert.Equal(t, "x", tag2)
}

func TestDecodeString_Bounds(t *testing.T) {
	_, err := decodeString([]byte{0x01}, 0)
	assert.Error(t, err)

	bad := append(word(32), word(1000)...)
	_, err = decodeString(bad, 0)
	assert.Error(t, err)

	// Offset near 2^64 must not wrap past the length check.
	hugeOffset := append(word(math.MaxUint64-31), word(0)...)
	hugeOffset = append(hugeOffset, word(0)...)
	assert.NotPanics(t, func() {
		_, err = decodeString(hugeOffset, 0)
	})
	assert.ErrorIs(t, err, errShortData)

	// Same for a length near 2^64 at a valid offset.
	hugeLength := append(word(32), word(math.MaxUint64-1)...)
	hugeLength = append(hugeLength, word(0)...)
	assert.NotPanics(t, func() {
		_, err = decodeString(hugeLength, 0)
	})
	assert.ErrorIs(t, err, errShortData)
}

func TestInt128At_Range(t *testing.T) {
	v, err := int128At(word(5), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int64())

	neg := make([]byte, 32)
	for i := range neg {
		neg[i] = 0xff
	}
	v, err = int128At(neg, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v.Int64())

	tooBig := make([]byte, 32)
	tooBig[15] = 0x80 // 2^128
	_, err = int128At(tooBig, 0)
	assert.Error(t, err)
}

func TestClient_IdentityReads(t *testing.T) {
	node := newFakeNode()
	node.owners[5] = testOwner
	node.uris[5] = "ipfs://bafyexample/agent.json"
	c := newTestClient(t, node, 0)
	ctx := context.Background()

	owner, err := c.OwnerOf(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, testOwner, owner)

	uri, err := c.TokenURI(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://bafyexample/agent.json", uri)

	wallet, err := c.WalletOf(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, testWallet, wallet)

	_, err = c.OwnerOf(ctx, 6)
	require.Error(t, err)
	assert.True(t, IsRevert(err), "unminted id must surface as a revert: %v", err)
}

func TestClient_ReputationSummary(t *testing.T) {
	c := newTestClient(t, newFakeNode(), 0)

	rep, err := c.ReputationSummary(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rep.Count)
	assert.Equal(t, "-1.25", rep.DisplayScore)
	assert.Equal(t, uint8(2), rep.Decimals)
}

func TestClient_ReputationNotConfigured(t *testing.T) {
	srv := httptest.NewServer(newFakeNode())
	defer srv.Close()

	c, err := NewClient(ClientConfig{URL: srv.URL, IdentityRegistry: testIdentity})
	require.NoError(t, err)

	_, err = c.ReputationSummary(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_BlockNumber(t *testing.T) {
	node := newFakeNode()
	node.head = 0x1a2b
	c := newTestClient(t, node, 0)

	head, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1a2b), head)
}

func TestClient_RegistrationsChunked(t *testing.T) {
	node := newFakeNode()
	node.logs = []logEntry{
		registeredLog(1, testOwner, "https://a.example/1.json", 5),
		registeredLog(2, testOwner, "https://a.example/2.json", 25),
		registeredLog(3, testOwner, "", 31),
	}
	c := newTestClient(t, node, 10)

	events, err := c.Registrations(context.Background(), 0, 31)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, uint64(1), events[0].AgentID)
	assert.Equal(t, "https://a.example/1.json", events[0].DeclaredURI)
	assert.Equal(t, testOwner, events[0].OwnerAtRegistration)
	assert.Equal(t, uint64(25), events[1].Checkpoint)
	assert.Equal(t, "", events[2].DeclaredURI)

	assert.Equal(t, [][2]uint64{{0, 9}, {10, 19}, {20, 29}, {30, 31}}, node.getLogs)
}

func TestClient_RegistrationsFailurePropagates(t *testing.T) {
	node := newFakeNode()
	node.failLogs = true
	c := newTestClient(t, node, 0)

	_, err := c.Registrations(context.Background(), 0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eth_getLogs")
}

func TestClient_RegistrationsMalformedLogFailsWindow(t *testing.T) {
	node := newFakeNode()
	bad := registeredLog(2, testOwner, "https://a.example/2.json", 6)
	bad.Data = encodeHex(word(math.MaxUint64 - 31))
	bad.TransactionHash = "0xbad"
	node.logs = []logEntry{
		registeredLog(1, testOwner, "https://a.example/1.json", 5),
		bad,
	}
	c := newTestClient(t, node, 0)

	events, err := c.Registrations(context.Background(), 0, 10)
	require.Error(t, err)
	assert.Nil(t, events, "a partial window must not be returned")
	assert.Contains(t, err.Error(), "eth_getLogs [0, 10]")
	assert.Contains(t, err.Error(), "0xbad")
	assert.ErrorIs(t, err, errShortData)
}

func TestClient_RevertsDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, newFakeNode(), 0)

	for i := 0; i < 10; i++ {
		_, err := c.OwnerOf(context.Background(), 999)
		require.Error(t, err)
	}
	assert.Equal(t, "closed", c.breaker.State())
}

func TestClient_TransportFailuresTripBreaker(t *testing.T) {
	node := newFakeNode()
	node.status = http.StatusBadGateway
	c := newTestClient(t, node, 0)

	for i := 0; i < 5; i++ {
		_, err := c.BlockNumber(context.Background())
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "502"), err.Error())
	}

	_, err := c.BlockNumber(context.Background())
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.Equal(t, "open", c.breaker.State())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{URL: "https://rpc.example"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient(ClientConfig{URL: "ftp://rpc.example", IdentityRegistry: testIdentity})
	assert.Error(t, err)
}
