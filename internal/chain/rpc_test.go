package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestWebSocketTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

		ctx := r.Context()
		for {
			var req rpcRequest
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			// A stray notification ahead of the reply must be skipped.
			_ = wsjson.Write(ctx, conn, rpcResponse{JSONRPC: "2.0", ID: 0, Result: mustJSON("0xdead")})
			_ = wsjson.Write(ctx, conn, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: mustJSON("0x2a")})
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := NewClient(ClientConfig{URL: wsURL, IdentityRegistry: testIdentity, Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	for i := 0; i < 3; i++ {
		head, err := c.BlockNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(42), head)
	}
}

func TestIsRevert(t *testing.T) {
	assert.True(t, IsRevert(&RPCError{Code: 3, Message: "execution reverted"}))
	assert.True(t, IsRevert(&RPCError{Code: -32000, Message: "Execution Reverted: nope"}))
	assert.False(t, IsRevert(&RPCError{Code: -32005, Message: "limit exceeded"}))
	assert.False(t, IsRevert(context.DeadlineExceeded))
}
