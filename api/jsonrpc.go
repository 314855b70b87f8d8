package api

import "encoding/json"

// JSONRPCMessage represents a JSON-RPC 2.0 envelope (request, response, or notification).
//
// ID, Params, Result and Error are kept as raw JSON so that field presence
// survives decoding: a field sent as JSON null is non-nil and holds "null".
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`

	hasMethod bool
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MessageType is the kind of a JSON-RPC message as seen on the wire.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeNotification MessageType = "notification"
	MessageTypeResult       MessageType = "result"
	MessageTypeError        MessageType = "error"

	// MessageTypeResponse is only valid in filter configuration, where it
	// stands for both results and errors.
	MessageTypeResponse MessageType = "response"
)

// HasID reports whether the id field was present, including as null.
func (m *JSONRPCMessage) HasID() bool { return m.ID != nil }

// HasMethod reports whether the method field was present.
func (m *JSONRPCMessage) HasMethod() bool { return m.hasMethod || m.Method != "" }

// HasError reports whether the error field was present.
func (m *JSONRPCMessage) HasError() bool { return m.Error != nil }

// SetMethodPresent records that the method field was present on the wire even
// when its value was the empty string.
func (m *JSONRPCMessage) SetMethodPresent() { m.hasMethod = true }

// IsRequest returns true if this message is a request (has method and ID).
func (m *JSONRPCMessage) IsRequest() bool {
	return m.HasID() && !m.HasError() && m.HasMethod()
}

// IsNotification returns true if this message is a notification (no ID).
func (m *JSONRPCMessage) IsNotification() bool {
	return !m.HasID()
}

// IsResponse returns true if this message is a result or an error.
func (m *JSONRPCMessage) IsResponse() bool {
	return m.HasID() && (m.HasError() || !m.HasMethod())
}

// Type classifies the message: id+error is an error, id+method a request,
// a bare id a result and anything without an id a notification.
func (m *JSONRPCMessage) Type() MessageType {
	switch {
	case !m.HasID():
		return MessageTypeNotification
	case m.HasError():
		return MessageTypeError
	case m.HasMethod():
		return MessageTypeRequest
	default:
		return MessageTypeResult
	}
}

// IDKey returns the id as compact JSON text, suitable as a map key.
// Numeric and string ids with the same digits produce different keys.
func (m *JSONRPCMessage) IDKey() string {
	return compactKey(m.ID)
}

func compactKey(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
