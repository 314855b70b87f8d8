package filter

import (
	"fmt"
	"log/slog"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/format"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
	"github.com/swyddfa/lsp-devtools/internal/policy"
)

// Config selects which messages are recorded. Exclusions always win over
// inclusions; empty include lists accept everything.
type Config struct {
	Source         string   `yaml:"source"`
	IncludeTypes   []string `yaml:"include_message_types"`
	ExcludeTypes   []string `yaml:"exclude_message_types"`
	IncludeMethods []string `yaml:"include_methods"`
	ExcludeMethods []string `yaml:"exclude_methods"`
	Format         string   `yaml:"format"`
}

// ChainConfig holds what is needed to build a chain.
type ChainConfig struct {
	Filter  Config
	Engine  policy.Engine
	Tracker *jsonrpc.Tracker
	Logger  *slog.Logger
}

// Build constructs the record chain:
//
//	correlate → source → include-types → exclude-types →
//	include-methods → exclude-methods → policy → format
//
// Steps without configuration are left out, except correlate.
func Build(cfg ChainConfig) (*Chain, error) {
	fcfg := cfg.Filter
	filters := []Filter{NewCorrelateFilter(cfg.Tracker)}

	switch fcfg.Source {
	case "", SourceBoth:
	default:
		src, err := api.ParseSource(fcfg.Source)
		if err != nil {
			return nil, err
		}
		filters = append(filters, NewSourceFilter(src))
	}

	if len(fcfg.IncludeTypes) > 0 {
		types, err := NewTypeSet(fcfg.IncludeTypes)
		if err != nil {
			return nil, err
		}
		filters = append(filters, NewIncludeTypeFilter(types))
	}
	if len(fcfg.ExcludeTypes) > 0 {
		types, err := NewTypeSet(fcfg.ExcludeTypes)
		if err != nil {
			return nil, err
		}
		filters = append(filters, NewExcludeTypeFilter(types))
	}

	if len(fcfg.IncludeMethods) > 0 {
		methods, err := NewMethodSet(fcfg.IncludeMethods)
		if err != nil {
			return nil, err
		}
		filters = append(filters, NewIncludeMethodFilter(methods))
	}
	if len(fcfg.ExcludeMethods) > 0 {
		methods, err := NewMethodSet(fcfg.ExcludeMethods)
		if err != nil {
			return nil, err
		}
		filters = append(filters, NewExcludeMethodFilter(methods))
	}

	if cfg.Engine != nil {
		filters = append(filters, NewPolicyFilter(cfg.Engine))
	}

	if fcfg.Format != "" {
		tmpl, err := format.Parse(fcfg.Format)
		if err != nil {
			return nil, fmt.Errorf("invalid format: %w", err)
		}
		filters = append(filters, NewFormatFilter(tmpl))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return NewChain(logger, filters...), nil
}
