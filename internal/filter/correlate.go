package filter

import (
	"context"
	"sync"

	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

// CorrelateFilter parses and classifies the message and resolves the method
// of responses from the requests seen earlier. It must run first so that
// every request is tracked, even ones later filters reject.
type CorrelateFilter struct {
	tracker *jsonrpc.Tracker

	mu      sync.Mutex
	session string
}

func NewCorrelateFilter(tracker *jsonrpc.Tracker) *CorrelateFilter {
	if tracker == nil {
		tracker = jsonrpc.NewTracker()
	}
	return &CorrelateFilter{tracker: tracker}
}

func (f *CorrelateFilter) Name() string { return "correlate" }

func (f *CorrelateFilter) Process(_ context.Context, fc *FilterContext) error {
	if fc.Message == nil {
		msg, err := jsonrpc.Parse(fc.Captured.Body)
		if err != nil {
			return err
		}
		fc.Message = msg
		fc.Captured.Message = msg
	}

	f.mu.Lock()
	if s := fc.Captured.Session; s != f.session {
		if f.session != "" {
			f.tracker.Reset()
		}
		f.session = s
	}
	f.mu.Unlock()

	fc.Type = fc.Message.Type()
	fc.Method = f.tracker.Resolve(fc.Captured.Source, fc.Message)
	return nil
}
