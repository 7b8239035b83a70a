package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the bridge protocol version carried in every envelope.
const Version = 1

// Envelope is the uniform outer shape for all client-facing traffic,
// commands and events alike.
type Envelope struct {
	ProtocolVersion int             `json:"protocolVersion"`
	Type            string          `json:"type"`
	Name            string          `json:"name"`
	ID              string          `json:"id,omitempty"`
	Ts              time.Time       `json:"ts"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// Envelope types.
const (
	TypeCommand = "command"
	TypeEvent   = "event"
)

// Client → server command names.
const (
	CmdChatSend        = "chat.send"
	CmdRunCancel       = "run.cancel"
	CmdApprovalRespond = "approval.respond"
	CmdPlanGet         = "plan.get"
)

// Server → client event names.
const (
	EvBridgeConnected      = "bridge.connected"
	EvBridgeError          = "bridge.error"
	EvChatMessage          = "chat.message"
	EvChatMessageDelta     = "chat.message.delta"
	EvRunStarted           = "run.started"
	EvSessionCreated       = "session.created"
	EvTurnStarted          = "turn.started"
	EvRunCommand           = "run.command"
	EvRunCommandOutput     = "run.command.outputDelta"
	EvRunReasoning         = "run.reasoning"
	EvRunReasoningDelta    = "run.reasoning.delta"
	EvRunReasoningXlated   = "run.reasoning.translated"
	EvDiffUpdated          = "diff.updated"
	EvDiffSummary          = "diff.summary"
	EvRunPlanUpdated       = "run.plan.updated"
	EvApprovalRequested    = "approval.requested"
	EvApprovalResponded    = "approval.responded"
	EvRunCompleted         = "run.completed"
	EvRunCanceled          = "run.canceled"
	EvRunFailed            = "run.failed"
	EvRunRejected          = "run.rejected"
	EvRunCancelRequested   = "run.cancel.requested"
	EvPlanSnapshot         = "plan.snapshot"
	EvDevicePresence       = "device.presence.updated"
	EvDevicePairingRequest = "device.pairing.requested"
)

// NewEvent creates a server-originated event envelope with the current timestamp.
func NewEvent(name string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event data: %w", err)
	}
	return Envelope{
		ProtocolVersion: Version,
		Type:            TypeEvent,
		Name:            name,
		Ts:              time.Now().UTC(),
		Data:            raw,
	}, nil
}

// MustEvent is NewEvent for payloads that cannot fail to marshal
// (maps and plain structs). It panics otherwise.
func MustEvent(name string, data any) Envelope {
	evt, err := NewEvent(name, data)
	if err != nil {
		panic(err)
	}
	return evt
}
