package filter

import (
	"context"

	"github.com/swyddfa/lsp-devtools/internal/format"
)

// FormatFilter renders the message. A message the template cannot render is
// rejected.
type FormatFilter struct {
	tmpl *format.Template
}

func NewFormatFilter(tmpl *format.Template) *FormatFilter {
	return &FormatFilter{tmpl: tmpl}
}

func (f *FormatFilter) Name() string { return "format" }

func (f *FormatFilter) Process(_ context.Context, fc *FilterContext) error {
	text, err := f.tmpl.Render(fc.Captured.Body)
	if err != nil {
		fc.Reject(err.Error())
		return nil
	}
	fc.Rendered = text
	fc.Formatted = true
	return nil
}
