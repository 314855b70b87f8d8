package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/swyddfa/lsp-devtools/api"
)

// Chain executes a sequence of filters in order.
type Chain struct {
	filters []Filter
	logger  *slog.Logger
}

// NewChain creates a new filter chain.
func NewChain(logger *slog.Logger, filters ...Filter) *Chain {
	return &Chain{
		filters: filters,
		logger:  logger,
	}
}

// Process runs the filters in sequence on the given context, stopping at the
// first one that rejects the message.
func (c *Chain) Process(ctx context.Context, fc *FilterContext) error {
	for _, f := range c.filters {
		if err := f.Process(ctx, fc); err != nil {
			return fmt.Errorf("filter %q: %w", f.Name(), err)
		}
		c.logger.Debug("filter executed",
			"filter", f.Name(),
			"source", fc.Captured.Source,
			"method", fc.Method,
			"halted", fc.Halted,
		)
		if fc.Halted {
			return nil
		}
	}
	return nil
}

// Evaluate runs a captured message through the chain. Errors reject the
// message and are only logged at debug level.
func (c *Chain) Evaluate(ctx context.Context, m *api.CapturedMessage) Decision {
	fc := NewFilterContext(m)
	if err := c.Process(ctx, fc); err != nil {
		c.logger.Debug("skipping message", "source", m.Source, "method", fc.Method, "error", err)
		fc.Reject(err.Error())
	}
	return fc.decision()
}

// AddFilter appends a filter to the chain.
func (c *Chain) AddFilter(f Filter) {
	c.filters = append(c.filters, f)
}
