package codex

// ApprovalRequest is a human-in-the-loop decision the agent blocks on before
// executing a sensitive action.
type ApprovalRequest struct {
	RequestID string `json:"requestId"`
	Kind      string `json:"kind"` // "commandExecution" or "fileChange"
	ThreadID  string `json:"threadId"`
	TurnID    string `json:"turnId"`
	ItemID    string `json:"itemId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	GrantRoot string `json:"grantRoot,omitempty"`

	// ProposedExecpolicyAmendment carries the agent's suggested execpolicy
	// rules for commandExecution approvals.
	ProposedExecpolicyAmendment []string `json:"proposedExecpolicyAmendment,omitempty"`
}

// ApprovalDecision is the human's answer to an ApprovalRequest.
type ApprovalDecision struct {
	Decision            string   `json:"decision"`
	ExecpolicyAmendment []string `json:"execpolicyAmendment,omitempty"`
}

// Decision values understood by the agent.
const (
	DecisionAccept           = "accept"
	DecisionAcceptForSession = "acceptForSession"
	DecisionAcceptAmendment  = "acceptWithExecpolicyAmendment"
	DecisionDecline          = "decline"
	DecisionCancel           = "cancel"
)

// NormalizeDecision maps an arbitrary decision string onto the closed set the
// agent understands, falling back to fallback for anything else.
func NormalizeDecision(decision, fallback string) string {
	switch decision {
	case DecisionAccept, DecisionAcceptForSession, DecisionAcceptAmendment, DecisionDecline, DecisionCancel:
		return decision
	default:
		return fallback
	}
}

// DecisionAccepted reports whether a normalized decision unblocks the action.
func DecisionAccepted(decision string) bool {
	switch decision {
	case DecisionAccept, DecisionAcceptForSession, DecisionAcceptAmendment:
		return true
	default:
		return false
	}
}

// Declined is the decision used for teardown, supersede, and absent answers.
func Declined() ApprovalDecision {
	return ApprovalDecision{Decision: DecisionDecline}
}
