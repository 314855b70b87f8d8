package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/format"
)

var defaultConsoleTemplate = format.MustParse("{.|json}")

// ConsoleSink prints messages as "HH:MM:SS source text" lines. Client
// messages are red and server messages blue when the output is a terminal.
type ConsoleSink struct {
	mu     sync.Mutex
	w      io.Writer
	styles map[api.Source]lipgloss.Style
}

// NewConsoleSink writes to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	r := lipgloss.NewRenderer(w)
	if !isTerminal(w) {
		r.SetColorProfile(termenv.Ascii)
	}
	return &ConsoleSink{
		w: w,
		styles: map[api.Source]lipgloss.Style{
			api.SourceClient: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
			api.SourceServer: r.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *ConsoleSink) Write(_ context.Context, e *Entry) error {
	body, err := text(e, defaultConsoleTemplate)
	if err != nil {
		return err
	}

	m := e.Message
	src := s.styles[m.Source].Render(string(m.Source))

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintf(s.w, "%s %s %s\n", m.Timestamp.Local().Format("15:04:05"), src, body)
	return err
}

func (s *ConsoleSink) Close() error { return nil }
