package filter

import (
	"context"
	"fmt"

	"github.com/swyddfa/lsp-devtools/api"
)

// TypeSet is a set of message types. "response" is expanded into "result"
// and "error" when the set is built.
type TypeSet map[api.MessageType]struct{}

// NewTypeSet validates and expands names.
func NewTypeSet(names []string) (TypeSet, error) {
	set := make(TypeSet)
	for _, name := range names {
		switch t := api.MessageType(name); t {
		case api.MessageTypeResponse:
			set[api.MessageTypeResult] = struct{}{}
			set[api.MessageTypeError] = struct{}{}
		case api.MessageTypeRequest, api.MessageTypeNotification, api.MessageTypeResult, api.MessageTypeError:
			set[t] = struct{}{}
		default:
			return nil, fmt.Errorf("unknown message type %q", name)
		}
	}
	return set, nil
}

// Has reports whether t is in the set.
func (s TypeSet) Has(t api.MessageType) bool {
	_, ok := s[t]
	return ok
}

// TypeFilter keeps (include) or drops (exclude) messages by type.
type TypeFilter struct {
	types   TypeSet
	include bool
}

func NewIncludeTypeFilter(types TypeSet) *TypeFilter {
	return &TypeFilter{types: types, include: true}
}

func NewExcludeTypeFilter(types TypeSet) *TypeFilter {
	return &TypeFilter{types: types}
}

func (f *TypeFilter) Name() string {
	if f.include {
		return "include-types"
	}
	return "exclude-types"
}

func (f *TypeFilter) Process(_ context.Context, fc *FilterContext) error {
	if f.types.Has(fc.Type) != f.include {
		fc.Reject(f.Name() + ": " + string(fc.Type))
	}
	return nil
}
