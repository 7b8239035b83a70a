package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundMessageKind(t *testing.T) {
	id := int64(1)

	assert.Equal(t, kindResponse, (&inboundMessage{ID: &id}).kind())
	assert.Equal(t, kindServerRequest, (&inboundMessage{ID: &id, Method: "item/fileChange/requestApproval"}).kind())
	assert.Equal(t, kindNotification, (&inboundMessage{Method: "item/started"}).kind())
	assert.Equal(t, kindInvalid, (&inboundMessage{}).kind())
}

func TestParseInbound(t *testing.T) {
	msg, ok := parseInbound([]byte(`{"id":3,"result":{"ok":true}}`))
	require.True(t, ok)
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(3), *msg.ID)

	_, ok = parseInbound([]byte(""))
	assert.False(t, ok)
	_, ok = parseInbound([]byte("codex app-server v1.2.3"))
	assert.False(t, ok)
	_, ok = parseInbound([]byte("{not json"))
	assert.False(t, ok)
}

func TestConnCallRoundTrip(t *testing.T) {
	pr, pw := io.Pipe()
	c := newConn(pw)

	go func() {
		scanner := bufio.NewScanner(pr)
		require.True(t, scanner.Scan())

		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &req))
		assert.Equal(t, "initialize", req.Method)

		id := req.ID
		c.dispatchResponse(&inboundMessage{ID: &id, Result: json.RawMessage(`{"ok":true}`)})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := c.call(ctx, "initialize", map[string]any{"clientInfo": map[string]any{"name": "test"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestConnCallErrorReply(t *testing.T) {
	pr, pw := io.Pipe()
	c := newConn(pw)

	go func() {
		scanner := bufio.NewScanner(pr)
		require.True(t, scanner.Scan())

		var req struct {
			ID int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &req))

		id := req.ID
		c.dispatchResponse(&inboundMessage{ID: &id, Error: &RPCError{Code: -32000, Message: "boom"}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.call(ctx, "turn/start", nil)
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
	assert.Equal(t, "boom", rpcErr.Message)
}

func TestConnCallCanceled(t *testing.T) {
	var sink discardWriter
	c := newConn(sink)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.call(ctx, "thread/start", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not unblock on cancel")
	}
}

func TestConnDrainPendingUnblocksCalls(t *testing.T) {
	var sink discardWriter
	c := newConn(sink)

	done := make(chan error, 1)
	go func() {
		_, err := c.call(context.Background(), "turn/start", nil)
		done <- err
	}()

	// Let the call register before tearing down.
	time.Sleep(50 * time.Millisecond)
	c.drainPending()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection closed")
	case <-time.After(5 * time.Second):
		t.Fatal("call did not unblock on drain")
	}
}

func TestConnDispatchUnsolicitedResponse(t *testing.T) {
	var sink discardWriter
	c := newConn(sink)

	id := int64(42)
	// Must not panic or block.
	c.dispatchResponse(&inboundMessage{ID: &id, Result: json.RawMessage(`{}`)})
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
