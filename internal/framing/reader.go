// Package framing implements the Content-Length framing used by the
// Language Server Protocol base protocol.
package framing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ContentLengthHeader is the only header the framing depends on.
const ContentLengthHeader = "Content-Length"

const maxHeaderBytes = 64 * 1024

// Header is a single header line, kept as it appeared on the wire.
type Header struct {
	Name  string
	Value string
}

// RawMessage is one framed message: its headers in arrival order and the body.
type RawMessage struct {
	Headers []Header
	Body    []byte

	raw []byte
}

// Bytes returns the exact bytes the message was read from. Messages built in
// memory are serialised with a single Content-Length header.
func (m *RawMessage) Bytes() []byte {
	if m.raw != nil {
		return m.raw
	}
	return Encode(m.Body)
}

// Header returns the value of the named header, matching case-insensitively.
func (m *RawMessage) Header(name string) (string, bool) {
	for i := len(m.Headers) - 1; i >= 0; i-- {
		if strings.EqualFold(m.Headers[i].Name, name) {
			return m.Headers[i].Value, true
		}
	}
	return "", false
}

// Reader splits a byte stream into framed messages.
type Reader struct {
	br *bufio.Reader

	// MaxContentLength rejects bodies larger than this many bytes when > 0.
	MaxContentLength int

	err error
}

// NewReader creates a Reader. Data may arrive in chunks of any size.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next reads the next message. It returns io.EOF when the stream ends cleanly
// between messages and a *FramingError for anything else that goes wrong.
func (r *Reader) Next() (*RawMessage, error) {
	if r.err != nil {
		return nil, r.err
	}
	msg, err := r.next()
	if err != nil {
		r.err = err
		return nil, err
	}
	return msg, nil
}

func (r *Reader) next() (*RawMessage, error) {
	var (
		raw     bytes.Buffer
		headers []Header
		length  = -1
	)

	for {
		line, err := r.br.ReadBytes('\n')
		raw.Write(line)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if raw.Len() == 0 {
					return nil, io.EOF
				}
				return nil, framingErr("stream ended inside headers", io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("reading header: %w", err)
		}
		if raw.Len() > maxHeaderBytes {
			return nil, framingErr("header block too large", nil)
		}

		text := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
		if text == "" {
			break
		}

		name, value, ok := strings.Cut(text, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, framingErr(fmt.Sprintf("malformed header line %q", text), nil)
		}
		value = strings.TrimSpace(value)
		headers = append(headers, Header{Name: name, Value: value})

		if strings.EqualFold(name, ContentLengthHeader) {
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, framingErr(fmt.Sprintf("invalid Content-Length %q", value), err)
			}
			if n < 0 {
				return nil, framingErr(fmt.Sprintf("negative Content-Length %d", n), nil)
			}
			length = n
		}
	}

	if length < 0 {
		return nil, framingErr("missing Content-Length header", nil)
	}
	if r.MaxContentLength > 0 && length > r.MaxContentLength {
		return nil, framingErr(fmt.Sprintf("Content-Length %d exceeds limit %d", length, r.MaxContentLength), nil)
	}

	headerLen := raw.Len()
	body := make([]byte, length)
	if _, err := io.ReadFull(r.br, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, framingErr("stream ended inside body", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("reading body: %w", err)
	}
	raw.Write(body)

	all := raw.Bytes()
	return &RawMessage{
		Headers: headers,
		Body:    all[headerLen:],
		raw:     all,
	}, nil
}
