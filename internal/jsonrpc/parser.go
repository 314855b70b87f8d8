package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/swyddfa/lsp-devtools/api"
)

// ParseError reports a framed body that is not a JSON-RPC object. It only
// affects the one message; the stream it came from is still usable.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid JSON-RPC message: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes a raw JSON body into a JSONRPCMessage, keeping track of which
// fields were present. The jsonrpc version is recorded but not enforced.
func Parse(data []byte) (*api.JSONRPCMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &ParseError{Err: err}
	}
	if fields == nil {
		return nil, &ParseError{Err: fmt.Errorf("body is not a JSON object")}
	}

	msg := &api.JSONRPCMessage{
		ID:     fields["id"],
		Params: fields["params"],
		Result: fields["result"],
		Error:  fields["error"],
	}

	if v, ok := fields["jsonrpc"]; ok {
		_ = json.Unmarshal(v, &msg.JSONRPC)
	}
	if v, ok := fields["method"]; ok {
		if err := json.Unmarshal(v, &msg.Method); err != nil {
			return nil, &ParseError{Err: fmt.Errorf("method is not a string: %w", err)}
		}
		msg.SetMethodPresent()
	}

	return msg, nil
}

// Classify returns the kind of msg.
func Classify(msg *api.JSONRPCMessage) api.MessageType {
	return msg.Type()
}
