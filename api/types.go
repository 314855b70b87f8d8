package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies which side of an LSP session produced a message.
type Source string

const (
	SourceClient Source = "client" // editor → server
	SourceServer Source = "server" // server → editor
)

// Opposite returns the other side of the session.
func (s Source) Opposite() Source {
	if s == SourceClient {
		return SourceServer
	}
	return SourceClient
}

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceClient, SourceServer:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown message source %q", s)
}

// CapturedMessage is a message observed by the agent, tagged with where and
// when it was seen.
type CapturedMessage struct {
	Source    Source          `json:"source"`
	Session   string          `json:"session"`
	Timestamp time.Time       `json:"timestamp"`
	Body      json.RawMessage `json:"body"`

	// Message is the decoded envelope. It is nil when Body is not valid JSON-RPC.
	Message *JSONRPCMessage `json:"-"`
}

// MessageTextMethod is the notification the agent publishes for every
// captured message.
const MessageTextMethod = "message/text"

// MessageText is the params object of a message/text notification.
type MessageText struct {
	Text      string `json:"text"`
	Source    Source `json:"source"`
	Session   string `json:"session"`
	Timestamp string `json:"timestamp"`
}

// TimestampLayout is the wire format of MessageText.Timestamp.
const TimestampLayout = time.RFC3339Nano

// NewMessageText converts a captured message into its published form.
func NewMessageText(m *CapturedMessage) *MessageText {
	return &MessageText{
		Text:      string(m.Body),
		Source:    m.Source,
		Session:   m.Session,
		Timestamp: m.Timestamp.UTC().Format(TimestampLayout),
	}
}
