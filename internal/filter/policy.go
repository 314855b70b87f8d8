package filter

import (
	"context"

	"github.com/swyddfa/lsp-devtools/internal/policy"
)

// PolicyFilter evaluates the message against a policy engine.
type PolicyFilter struct {
	engine policy.Engine
}

func NewPolicyFilter(engine policy.Engine) *PolicyFilter {
	return &PolicyFilter{engine: engine}
}

func (f *PolicyFilter) Name() string { return "policy" }

func (f *PolicyFilter) Process(ctx context.Context, fc *FilterContext) error {
	result, err := f.engine.Evaluate(ctx, policy.NewEvalInput(fc.Captured, fc.Method))
	if err != nil {
		return err
	}
	if !result.Allow {
		fc.Reject("policy: " + result.Reason)
	}
	return nil
}
