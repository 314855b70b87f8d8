package filter

import (
	"time"

	"github.com/swyddfa/lsp-devtools/api"
)

// FilterContext carries all metadata through the filter chain for a single message.
type FilterContext struct {
	// Captured is the message under consideration.
	Captured *api.CapturedMessage

	// Message is the parsed JSON-RPC envelope (set by CorrelateFilter).
	Message *api.JSONRPCMessage

	// Type is the classified message kind.
	Type api.MessageType

	// Method is the message method. For results and errors this is the
	// method of the request they answer, or "" if it is not known.
	Method string

	// Rendered is the formatted text, valid when Formatted is true.
	Rendered  string
	Formatted bool

	// Reason explains a rejection.
	Reason string

	// StartTime records when the message entered the pipeline.
	StartTime time.Time

	// Halted indicates the message was rejected and the pipeline should stop.
	Halted bool
}

// NewFilterContext creates a new FilterContext for a captured message.
func NewFilterContext(m *api.CapturedMessage) *FilterContext {
	return &FilterContext{
		Captured:  m,
		Message:   m.Message,
		StartTime: time.Now(),
	}
}

// Reject stops the pipeline for this message.
func (fc *FilterContext) Reject(reason string) {
	fc.Halted = true
	fc.Reason = reason
}

// Decision is the outcome of running a message through a chain.
type Decision struct {
	Accept bool

	// Rendered holds the formatted message when Formatted is true.
	Rendered  string
	Formatted bool

	Type   api.MessageType
	Method string
	Reason string
}

func (fc *FilterContext) decision() Decision {
	return Decision{
		Accept:    !fc.Halted,
		Rendered:  fc.Rendered,
		Formatted: fc.Formatted,
		Type:      fc.Type,
		Method:    fc.Method,
		Reason:    fc.Reason,
	}
}
