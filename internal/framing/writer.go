package framing

import (
	"io"
	"strconv"
	"sync"
)

// Encode frames body with a single Content-Length header.
func Encode(body []byte) []byte {
	out := make([]byte, 0, len(body)+32)
	out = append(out, ContentLengthHeader...)
	out = append(out, ": "...)
	out = strconv.AppendInt(out, int64(len(body)), 10)
	out = append(out, "\r\n\r\n"...)
	return append(out, body...)
}

// Writer writes framed messages. It is safe for concurrent use; each message
// is written with a single Write call.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMessage frames and writes body.
func (w *Writer) WriteMessage(body []byte) error {
	return w.write(Encode(body))
}

// WriteRaw writes a message exactly as it was read.
func (w *Writer) WriteRaw(m *RawMessage) error {
	return w.write(m.Bytes())
}

func (w *Writer) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(data)
	return err
}
