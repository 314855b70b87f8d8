// Package sink holds the destinations for recorded messages: text files,
// SQLite databases, the console, Prometheus metrics and a live HTTP feed.
package sink

import (
	"context"
	"errors"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/format"
)

// Entry is a message the record chain accepted.
type Entry struct {
	Message *api.CapturedMessage

	// Text is the rendered form of the message, valid when Formatted is true.
	// Sinks that print text fall back to their own default template otherwise.
	Text      string
	Formatted bool
}

// Sink receives accepted messages.
type Sink interface {
	Write(ctx context.Context, e *Entry) error
	Close() error
}

// Multi writes every entry to each of its sinks in turn.
type Multi []Sink

func (m Multi) Write(ctx context.Context, e *Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// text returns the entry's rendered text, rendering the body with fallback
// when the chain did not format it.
func text(e *Entry, fallback *format.Template) (string, error) {
	if e.Formatted {
		return e.Text, nil
	}
	return fallback.Render(e.Message.Body)
}
