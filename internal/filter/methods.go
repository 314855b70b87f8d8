package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MethodSet matches method names exactly or against doublestar patterns such
// as "textDocument/*" or "$/**".
type MethodSet struct {
	exact    map[string]struct{}
	patterns []string
}

// NewMethodSet validates patterns and builds a set.
func NewMethodSet(methods []string) (*MethodSet, error) {
	s := &MethodSet{exact: make(map[string]struct{})}
	for _, m := range methods {
		if !strings.ContainsAny(m, "*?[{") {
			s.exact[m] = struct{}{}
			continue
		}
		if !doublestar.ValidatePattern(m) {
			return nil, fmt.Errorf("invalid method pattern %q", m)
		}
		s.patterns = append(s.patterns, m)
	}
	return s, nil
}

// Len returns the number of entries.
func (s *MethodSet) Len() int { return len(s.exact) + len(s.patterns) }

// Match reports whether method is in the set.
func (s *MethodSet) Match(method string) bool {
	if _, ok := s.exact[method]; ok {
		return true
	}
	for _, p := range s.patterns {
		if ok, _ := doublestar.Match(p, method); ok {
			return true
		}
	}
	return false
}

// MethodFilter keeps (include) or drops (exclude) messages by resolved method.
type MethodFilter struct {
	methods *MethodSet
	include bool
}

func NewIncludeMethodFilter(methods *MethodSet) *MethodFilter {
	return &MethodFilter{methods: methods, include: true}
}

func NewExcludeMethodFilter(methods *MethodSet) *MethodFilter {
	return &MethodFilter{methods: methods}
}

func (f *MethodFilter) Name() string {
	if f.include {
		return "include-methods"
	}
	return "exclude-methods"
}

func (f *MethodFilter) Process(_ context.Context, fc *FilterContext) error {
	if f.methods.Match(fc.Method) != f.include {
		fc.Reject(f.Name() + ": " + fc.Method)
	}
	return nil
}
