package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/swyddfa/lsp-devtools/internal/format"
)

var defaultFileTemplate = format.MustParse("{.|json-compact}")

// FileSink appends one line per message to a file.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewFileSink opens path for appending, creating it and its parent
// directory if needed.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}
	return &FileSink{file: f, writer: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Write(_ context.Context, e *Entry) error {
	line, err := text(e, defaultFileTemplate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}
	if _, err := s.writer.WriteString(line); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	err := s.file.Close()
	s.file = nil
	return err
}
