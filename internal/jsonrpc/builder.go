package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/swyddfa/lsp-devtools/api"
)

// Version is the only JSON-RPC version emitted.
const Version = "2.0"

// NewNotification creates a notification with params encoded as JSON.
func NewNotification(method string, params any) (*api.JSONRPCMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", method, err)
	}
	return &api.JSONRPCMessage{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewMessageText creates the message/text notification for a captured message.
func NewMessageText(m *api.CapturedMessage) (*api.JSONRPCMessage, error) {
	return NewNotification(api.MessageTextMethod, api.NewMessageText(m))
}

// Marshal encodes a JSONRPCMessage to JSON bytes.
func Marshal(msg *api.JSONRPCMessage) ([]byte, error) {
	return json.Marshal(msg)
}
