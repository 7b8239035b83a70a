package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Standard JSON-RPC error codes used when answering the agent.
const (
	rpcMethodNotFound   = -32601
	rpcApplicationError = -32000
)

// RPCError is a protocol-level failure reported by the agent in response to
// one of our calls.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("codex rpc error %d: %s", e.Code, e.Message)
	}
	return "codex rpc error: " + e.Message
}

// inboundKind classifies a line from the agent by the presence of its
// id and method fields.
type inboundKind int

const (
	kindInvalid inboundKind = iota
	kindResponse
	kindServerRequest
	kindNotification
)

// inboundMessage is a parsed line from the agent's stdout.
type inboundMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// kind reports how the message must be routed: a response correlates with a
// pending call, a server request expects an answer from us, a notification
// is fire-and-forget.
func (m *inboundMessage) kind() inboundKind {
	switch {
	case m.ID != nil && m.Method == "":
		return kindResponse
	case m.ID != nil && m.Method != "":
		return kindServerRequest
	case m.Method != "":
		return kindNotification
	default:
		return kindInvalid
	}
}

// parseInbound parses one stdout line. Blank lines, non-JSON banners, and
// malformed JSON all report ok=false and are skipped by the caller.
func parseInbound(line []byte) (*inboundMessage, bool) {
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}
	var msg inboundMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

type rpcReply struct {
	result json.RawMessage
	err    *RPCError
}

// conn is the outbound half of the line-delimited JSON-RPC exchange with one
// agent subprocess. Writes are serialized through a mutex-protected encoder;
// responses are correlated with pending calls by a monotonic id.
type conn struct {
	mu  sync.Mutex
	enc *json.Encoder

	nextID  atomic.Int64
	pending map[int64]chan rpcReply
	pendMu  sync.Mutex
}

func newConn(w io.Writer) *conn {
	return &conn{
		enc:     json.NewEncoder(w),
		pending: make(map[int64]chan rpcReply),
	}
}

// send serializes and writes one message followed by a newline. Safe for
// concurrent use.
func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(v)
}

// call sends a request and blocks until the matching response arrives, the
// context expires, or the connection is torn down.
func (c *conn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)

	ch := make(chan rpcReply, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	req := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}

	if err := c.send(req); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: connection closed", method)
		}
		if reply.err != nil {
			return nil, reply.err
		}
		return reply.result, nil
	case <-ctx.Done():
		c.removePending(id)
		// The response may have landed just before cancellation.
		select {
		case reply, ok := <-ch:
			if ok && reply.err == nil {
				return reply.result, nil
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// dispatchResponse completes the pending call matching msg.ID. Duplicate or
// unsolicited responses are dropped.
func (c *conn) dispatchResponse(msg *inboundMessage) {
	c.pendMu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.pendMu.Unlock()

	if !ok {
		return
	}
	ch <- rpcReply{result: msg.Result, err: msg.Error}
}

// reply answers a server-initiated request with a result.
func (c *conn) reply(id int64, result any) error {
	resp := struct {
		ID     int64 `json:"id"`
		Result any   `json:"result"`
	}{ID: id, Result: result}
	return c.send(resp)
}

// replyError answers a server-initiated request with a JSON-RPC error.
func (c *conn) replyError(id int64, code int, message string) error {
	resp := struct {
		ID    int64     `json:"id"`
		Error *RPCError `json:"error"`
	}{ID: id, Error: &RPCError{Code: code, Message: message}}
	return c.send(resp)
}

// drainPending closes every pending call channel so blocked callers unblock
// with a connection-closed error. Called once on teardown.
func (c *conn) drainPending() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *conn) removePending(id int64) {
	c.pendMu.Lock()
	delete(c.pending, id)
	c.pendMu.Unlock()
}
