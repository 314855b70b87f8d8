package filter

import (
	"context"

	"github.com/swyddfa/lsp-devtools/api"
)

// SourceBoth accepts messages from either side.
const SourceBoth = "both"

// SourceFilter rejects messages that were not sent by source.
type SourceFilter struct {
	source api.Source
}

func NewSourceFilter(source api.Source) *SourceFilter {
	return &SourceFilter{source: source}
}

func (f *SourceFilter) Name() string { return "source" }

func (f *SourceFilter) Process(_ context.Context, fc *FilterContext) error {
	if fc.Captured.Source != f.source {
		fc.Reject("source is " + string(fc.Captured.Source))
	}
	return nil
}
