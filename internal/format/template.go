// Package format renders captured JSON-RPC bodies through user supplied
// templates such as "{.method} {.params.position|position}".
//
// A template is literal text interleaved with values of the form
// {.<accessor>} or {.<accessor>|<formatter>}. The accessor is a dot separated
// path into the message; a path segment may carry a bracket selector:
//
//	items[]        every element, joined with "\n"
//	items[2]       one element, negative indices count from the end
//	items[1:3]     a slice, either bound optional
//	items[0:2#, ]  a slice joined with ", "
//	items[\n- ]    every element joined with "\n- "
//
// Templates are compiled once and are safe for concurrent use.
package format

import (
	"fmt"
	"strings"
)

type segment struct {
	literal string
	value   *value
}

// Template is a compiled format string.
type Template struct {
	pattern  string
	segments []segment
}

// Parse compiles pattern. Unknown formatter names and malformed accessors are
// reported here rather than when rendering.
func Parse(pattern string) (*Template, error) {
	t := &Template{pattern: pattern}

	rest := pattern
	for {
		start := strings.Index(rest, "{.")
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			break
		}
		end += start

		if start > 0 {
			t.segments = append(t.segments, segment{literal: rest[:start]})
		}
		v, err := parseValue(rest[start+2 : end])
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", rest[start:end+1], err)
		}
		t.segments = append(t.segments, segment{value: v})
		rest = rest[end+1:]
	}
	if rest != "" {
		t.segments = append(t.segments, segment{literal: rest})
	}

	return t, nil
}

// MustParse is like Parse but panics on error. It is intended for constant
// patterns.
func MustParse(pattern string) *Template {
	t, err := Parse(pattern)
	if err != nil {
		panic(err)
	}
	return t
}

// Pattern returns the source the template was compiled from.
func (t *Template) Pattern() string { return t.pattern }

// Empty reports whether the template has no content.
func (t *Template) Empty() bool { return t == nil || t.pattern == "" }

// Render formats a JSON message body. It returns a *RenderError when the
// message does not have the shape the template expects.
func (t *Template) Render(body []byte) (string, error) {
	var sb strings.Builder
	for _, seg := range t.segments {
		if seg.value == nil {
			sb.WriteString(seg.literal)
			continue
		}
		s, err := seg.value.render(body)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// RenderError reports a message that could not be formatted.
type RenderError struct {
	Accessor string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering {.%s}: %v", e.Accessor, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
