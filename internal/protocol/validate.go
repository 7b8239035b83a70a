package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validCommands is the set of allowed client→server command names.
var validCommands = map[string]bool{
	CmdChatSend:        true,
	CmdRunCancel:       true,
	CmdApprovalRespond: true,
	CmdPlanGet:         true,
}

// ParseCommand validates a raw envelope from a client. Envelopes that are not
// commands at all are returned with a nil error and a nil envelope so the
// caller can ignore them silently (the wire protocol tolerates strays).
func ParseCommand(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if !strings.EqualFold(env.Type, TypeCommand) {
		return nil, nil
	}

	if env.Name == "" {
		return nil, fmt.Errorf("missing 'name' field")
	}
	if !validCommands[env.Name] {
		return nil, fmt.Errorf("unknown command: %s", env.Name)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("missing 'data' field")
	}

	return &env, nil
}

// DecodeData unmarshals a command envelope's data into the payload struct
// for its command name.
func DecodeData(env *Envelope, out any) error {
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("invalid data for %s: %w", env.Name, err)
	}
	return nil
}
