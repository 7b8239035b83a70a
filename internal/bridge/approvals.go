package bridge

import (
	"context"
	"strings"
	"sync"

	"codex-bridge/internal/codex"
	"codex-bridge/internal/protocol"
)

type approvalKey struct {
	runID     string
	requestID string
}

// ApprovalBroker connects approval requests raised by an agent subprocess
// with decisions arriving from clients. Pending entries are keyed by
// (runId, requestId); a second request for the same key supersedes the first,
// resolving it as decline.
type ApprovalBroker struct {
	broadcast  func(protocol.Envelope)
	hasClients func() bool

	mu      sync.Mutex
	pending map[approvalKey]chan codex.ApprovalDecision
}

// NewApprovalBroker creates a broker. broadcast publishes the
// approval.requested event; hasClients short-circuits requests to decline
// when nobody is connected to answer them.
func NewApprovalBroker(broadcast func(protocol.Envelope), hasClients func() bool) *ApprovalBroker {
	return &ApprovalBroker{
		broadcast:  broadcast,
		hasClients: hasClients,
		pending:    make(map[approvalKey]chan codex.ApprovalDecision),
	}
}

// Request registers a pending approval, notifies clients, and blocks until a
// decision arrives or ctx is canceled. Requests that cannot be answered (no
// clients, blank requestId) resolve to decline immediately.
func (b *ApprovalBroker) Request(ctx context.Context, runID string, req codex.ApprovalRequest) (codex.ApprovalDecision, error) {
	if b.hasClients != nil && !b.hasClients() {
		return codex.Declined(), nil
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return codex.Declined(), nil
	}

	key := approvalKey{runID: runID, requestID: requestID}
	ch := make(chan codex.ApprovalDecision, 1)

	b.mu.Lock()
	if existing, ok := b.pending[key]; ok {
		// Superseded request resolves as decline so its caller unblocks.
		select {
		case existing <- codex.Declined():
		default:
		}
	}
	b.pending[key] = ch
	b.mu.Unlock()

	defer b.remove(key, ch)

	b.broadcast(protocol.MustEvent(protocol.EvApprovalRequested, map[string]any{
		"runId":                       runID,
		"requestId":                   requestID,
		"kind":                        req.Kind,
		"threadId":                    req.ThreadID,
		"turnId":                      req.TurnID,
		"itemId":                      req.ItemID,
		"reason":                      req.Reason,
		"proposedExecpolicyAmendment": req.ProposedExecpolicyAmendment,
		"grantRoot":                   req.GrantRoot,
	}))

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return codex.Declined(), ctx.Err()
	}
}

// Respond resolves a pending approval. An empty decision defaults to decline.
// Unknown keys are ignored and reported as false.
func (b *ApprovalBroker) Respond(runID, requestID, decision string) bool {
	key := approvalKey{runID: strings.TrimSpace(runID), requestID: strings.TrimSpace(requestID)}

	b.mu.Lock()
	ch, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}

	if strings.TrimSpace(decision) == "" {
		decision = codex.DecisionDecline
	}
	select {
	case ch <- codex.ApprovalDecision{Decision: decision}:
	default:
	}
	return true
}

// CancelAll declines every pending approval for a run. Called when the run
// tears down so the subprocess is never left waiting.
func (b *ApprovalBroker) CancelAll(runID string) {
	b.mu.Lock()
	var chans []chan codex.ApprovalDecision
	for key, ch := range b.pending {
		if key.runID == runID {
			chans = append(chans, ch)
			delete(b.pending, key)
		}
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- codex.Declined():
		default:
		}
	}
}

// PendingCount reports how many approvals are waiting for a decision.
func (b *ApprovalBroker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// remove clears the entry only if it still maps to ch; a superseding request
// may have replaced it already.
func (b *ApprovalBroker) remove(key approvalKey, ch chan codex.ApprovalDecision) {
	b.mu.Lock()
	if current, ok := b.pending[key]; ok && current == ch {
		delete(b.pending, key)
	}
	b.mu.Unlock()
}
