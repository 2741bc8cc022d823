package orchestrator

import (
	"context"

	"github.com/biomerkin-io/resilience-workflow/degrade"
)

// Unit is one executable pipeline stage. Implementations receive the input
// assembled by the caller and return their structured output.
type Unit interface {
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// DegradationProvider is implemented by units that ship their own fallback
// strategy. The orchestrator registers it at RegisterUnit time.
type DegradationProvider interface {
	DegradationStrategy() degrade.Strategy
}

// DependencyDeclarer is implemented by units that extend the workflow
// dependency graph with their own upstream requirements.
type DependencyDeclarer interface {
	Dependencies() []string
	Critical() bool
}

// UnitFunc adapts a plain function to the Unit interface.
type UnitFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

func (f UnitFunc) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f(ctx, input)
}
