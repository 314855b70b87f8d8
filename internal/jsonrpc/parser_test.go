package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/swyddfa/lsp-devtools/api"
)

func TestParse_ValidRequest(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"method":"textDocument/hover","params":{"position":{"line":1,"character":2}}}`)
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Method != "textDocument/hover" {
		t.Errorf("expected method textDocument/hover, got %q", msg.Method)
	}
	if !msg.IsRequest() {
		t.Error("expected IsRequest() to be true")
	}
	if msg.IsNotification() {
		t.Error("expected IsNotification() to be false")
	}
}

func TestParse_Notification(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","method":"initialized","params":{}}`)
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.IsNotification() {
		t.Error("expected IsNotification() to be true")
	}
	if msg.IsRequest() {
		t.Error("expected IsRequest() to be false")
	}
}

func TestParse_Response(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"result":{"capabilities":{}}}`)
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.IsResponse() {
		t.Error("expected IsResponse() to be true")
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	for _, data := range []string{`not json`, `[1,2]`, `null`, `{"method":3}`} {
		_, err := Parse([]byte(data))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("%s: expected ParseError, got %v", data, err)
		}
	}
}

func TestParse_VersionNotEnforced(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"1.0","id":1,"method":"test"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.JSONRPC != "1.0" {
		t.Errorf("expected version to be kept, got %q", msg.JSONRPC)
	}
}

func TestParse_NullFieldsArePresent(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":null,"result":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if !msg.HasID() {
		t.Error("expected null id to count as present")
	}
	if string(msg.Result) != "null" {
		t.Errorf("expected raw null result, got %q", msg.Result)
	}
	if Classify(msg) != api.MessageTypeResult {
		t.Errorf("expected result, got %s", Classify(msg))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		body string
		want api.MessageType
	}{
		{`{"id":1,"method":"initialize","params":{}}`, api.MessageTypeRequest},
		{`{"id":1,"result":{}}`, api.MessageTypeResult},
		{`{"id":1,"error":{}}`, api.MessageTypeError},
		{`{"method":"textDocument/didOpen","params":{}}`, api.MessageTypeNotification},
		{`{"id":1,"method":"","params":{}}`, api.MessageTypeRequest},
		{`{"id":1,"method":"x","error":{}}`, api.MessageTypeError},
		{`{}`, api.MessageTypeNotification},
	}

	for _, tt := range tests {
		msg, err := Parse([]byte(tt.body))
		if err != nil {
			t.Fatalf("%s: %v", tt.body, err)
		}
		if got := Classify(msg); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.body, tt.want, got)
		}
	}
}

func TestNewMessageText(t *testing.T) {
	captured := &api.CapturedMessage{
		Source:  api.SourceServer,
		Session: "abc",
		Body:    json.RawMessage(`{"id":1,"result":null}`),
	}
	msg, err := NewMessageText(captured)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Method != api.MessageTextMethod || msg.HasID() {
		t.Fatalf("expected message/text notification, got %+v", msg)
	}

	var params api.MessageText
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params.Text != `{"id":1,"result":null}` || params.Source != api.SourceServer || params.Session != "abc" {
		t.Errorf("unexpected params %+v", params)
	}
}
