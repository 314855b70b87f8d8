// Package filter decides which captured messages are recorded and how they
// are rendered.
package filter

import "context"

// Filter is a single step in the message selection pipeline.
type Filter interface {
	// Name returns the filter name for logging.
	Name() string

	// Process inspects the filter context and may reject the message by
	// calling fc.Reject. Returning an error aborts the chain and rejects
	// the message.
	Process(ctx context.Context, fc *FilterContext) error
}
