package policy

import (
	"encoding/json"

	"github.com/swyddfa/lsp-devtools/api"
)

// EvalInput is the document a policy sees as `input`.
type EvalInput struct {
	Source  api.Source      `json:"source"`
	Session string          `json:"session"`
	Type    api.MessageType `json:"type"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// NewEvalInput builds the policy input for a classified message. method is
// the resolved method, which for responses comes from the matching request.
func NewEvalInput(m *api.CapturedMessage, method string) *EvalInput {
	in := &EvalInput{
		Source:  m.Source,
		Session: m.Session,
		Method:  method,
	}
	if msg := m.Message; msg != nil {
		in.Type = msg.Type()
		in.ID = msg.ID
		in.Params = msg.Params
		in.Result = msg.Result
		in.Error = msg.Error
	}
	return in
}

// EvalResult is the output of a policy evaluation.
type EvalResult struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}
