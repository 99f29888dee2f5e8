package policy

import (
	"context"
)

// Evaluator evaluates policy text against an artifact's provenance.
type Evaluator interface {
	Evaluate(ctx context.Context, input *Input) (*Result, error)
}
