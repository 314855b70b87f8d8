package format

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

var (
	errMissingField = errors.New("field not found")
	errNotObject    = errors.New("value is not an object")
	errNotArray     = errors.New("value is not an array")
	errOutOfRange   = errors.New("index out of range")
)

const defaultSeparator = "\n"

type selectorKind int

const (
	selectNone selectorKind = iota
	selectAll
	selectIndex
	selectSlice
)

type selector struct {
	kind       selectorKind
	index            int
	start, end, step *int
	sep              string
}

type step struct {
	field string
	sel   selector
}

type value struct {
	accessor  string
	steps     []step
	formatter Formatter
}

func parseValue(src string) (*value, error) {
	accessor, fmtName := src, ""
	if i := indexOutsideBrackets(src, '|'); i >= 0 {
		accessor, fmtName = src[:i], strings.TrimSpace(src[i+1:])
	}

	v := &value{accessor: accessor, formatter: String}
	if fmtName != "" {
		f, err := Lookup(fmtName)
		if err != nil {
			return nil, err
		}
		v.formatter = f
	}

	for _, part := range splitOutsideBrackets(accessor, '.') {
		if part == "" {
			continue
		}
		st, err := parseStep(part)
		if err != nil {
			return nil, err
		}
		v.steps = append(v.steps, st)
	}
	return v, nil
}

func parseStep(part string) (step, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return step{field: part}, nil
	}
	if !strings.HasSuffix(part, "]") {
		return step{}, fmt.Errorf("unterminated selector in %q", part)
	}
	sel := parseSelector(part[open+1 : len(part)-1])
	if sel.step != nil && *sel.step == 0 {
		return step{}, fmt.Errorf("slice step cannot be zero in %q", part)
	}
	return step{field: part[:open], sel: sel}, nil
}

// parseSelector interprets the text between brackets. Anything that is not an
// index or slice is taken to be a separator.
func parseSelector(text string) selector {
	if text == "" {
		return selector{kind: selectAll, sep: defaultSeparator}
	}

	if idx, sep, ok := strings.Cut(text, "#"); ok {
		sel, isIndex := parseIndex(idx)
		if !isIndex {
			sel = selector{kind: selectAll}
		}
		sel.sep = unescape(sep)
		return sel
	}

	if sel, ok := parseIndex(text); ok {
		sel.sep = defaultSeparator
		return sel
	}
	return selector{kind: selectAll, sep: unescape(text)}
}

func parseIndex(s string) (selector, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return selector{kind: selectIndex, index: n}, true
	}

	bounds := strings.Split(s, ":")
	if len(bounds) < 2 || len(bounds) > 3 {
		return selector{}, false
	}
	sel := selector{kind: selectSlice}
	dsts := []**int{&sel.start, &sel.end, &sel.step}
	for i, b := range bounds {
		text := strings.TrimSpace(b)
		if text == "" {
			continue
		}
		n, err := strconv.Atoi(text)
		if err != nil {
			return selector{}, false
		}
		*dsts[i] = &n
	}
	return sel, true
}

func unescape(sep string) string {
	if sep == "" {
		return defaultSeparator
	}
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t").Replace(sep)
}

func (v *value) render(body []byte) (string, error) {
	root := gjson.ParseBytes(body)
	s, err := v.walk(root, v.steps)
	if err != nil {
		return "", &RenderError{Accessor: v.accessor, Err: err}
	}
	return s, nil
}

func (v *value) walk(cur gjson.Result, steps []step) (string, error) {
	for i, st := range steps {
		if st.field != "" {
			next, err := field(cur, st.field)
			if err != nil {
				return "", err
			}
			cur = next
		}

		switch st.sel.kind {
		case selectNone:
			continue
		case selectIndex:
			items, err := elements(cur)
			if err != nil {
				return "", err
			}
			n := st.sel.index
			if n < 0 {
				n += len(items)
			}
			if n < 0 || n >= len(items) {
				return "", fmt.Errorf("%w: %d of %d", errOutOfRange, st.sel.index, len(items))
			}
			cur = items[n]
			continue
		}

		items, err := elements(cur)
		if err != nil {
			return "", err
		}
		if st.sel.kind == selectSlice {
			items = slice(items, st.sel.start, st.sel.end, st.sel.step)
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			s, err := v.walk(item, steps[i+1:])
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, st.sel.sep), nil
	}

	return v.formatter(cur)
}

func field(cur gjson.Result, name string) (gjson.Result, error) {
	if !cur.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: cannot read %q", errNotObject, name)
	}
	var (
		out   gjson.Result
		found bool
	)
	cur.ForEach(func(key, val gjson.Result) bool {
		if key.Str == name {
			out, found = val, true
			return false
		}
		return true
	})
	if !found {
		return gjson.Result{}, fmt.Errorf("%w: %q", errMissingField, name)
	}
	return out, nil
}

func elements(cur gjson.Result) ([]gjson.Result, error) {
	if !cur.IsArray() {
		return nil, errNotArray
	}
	return cur.Array(), nil
}

// slice follows the usual half-open semantics with negative bounds counted
// from the end and out of range bounds clamped. A negative step walks
// backwards from the end.
func slice(items []gjson.Result, start, end, step *int) []gjson.Result {
	n := len(items)
	by := 1
	if step != nil {
		by = *step
	}

	// Bounds for a negative step clamp to [-1, n-1], -1 meaning before the
	// first element.
	lowest, highest := 0, n
	if by < 0 {
		lowest, highest = -1, n-1
	}
	clamp := func(p *int, def int) int {
		if p == nil {
			return def
		}
		i := *p
		if i < 0 {
			i += n
		}
		return max(lowest, min(i, highest))
	}

	var out []gjson.Result
	if by > 0 {
		for i := clamp(start, 0); i < clamp(end, n); i += by {
			out = append(out, items[i])
		}
		return out
	}
	for i := clamp(start, n-1); i > clamp(end, -1); i += by {
		out = append(out, items[i])
	}
	return out
}

func indexOutsideBrackets(s string, c byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case c:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitOutsideBrackets(s string, c byte) []string {
	var parts []string
	for {
		i := indexOutsideBrackets(s, c)
		if i < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:i])
		s = s[i+1:]
	}
}

func compact(raw string) string {
	return string(pretty.Ugly([]byte(raw)))
}
