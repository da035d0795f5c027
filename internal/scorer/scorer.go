// Package scorer defines the contract between the inference pipeline and the
// readiness model.
package scorer

import (
	"context"

	"github.com/mrkhmath/mathgraph-backend/internal/subgraph"
)

// Step is one position of the assembled input sequence: a concept subgraph
// plus the difficulty level of the assessment at that position.
type Step struct {
	Graph *subgraph.Subgraph
	DOK   int
}

// Scorer runs the readiness model in evaluation mode over an ordered sequence
// of steps. Implementations always return exactly one raw score (logit) per
// step, in step order; callers read the final element. Output shape is
// normalized here, at the boundary, never deeper in the pipeline.
type Scorer interface {
	Score(ctx context.Context, steps []Step) ([]float64, error)
}
