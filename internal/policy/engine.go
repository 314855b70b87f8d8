package policy

import "context"

// Engine decides whether a captured message should be recorded.
type Engine interface {
	// Evaluate checks a message against the loaded policy.
	Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error)

	// Reload reloads the policy from its source.
	Reload(ctx context.Context) error
}
