// Package pipeline provides the shared types, error taxonomy and stage
// contract of the video compression pipeline.
package pipeline

import (
	"context"
)

// Stage is a single-step transformation from In to Out.
type Stage[In, Out any] interface {
	// Execute transforms input. It must observe ctx cancellation.
	Execute(ctx context.Context, input In) (Out, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc[In, Out any] func(ctx context.Context, input In) (Out, error)

// Execute implements Stage.
func (f StageFunc[In, Out]) Execute(ctx context.Context, input In) (Out, error) {
	return f(ctx, input)
}
