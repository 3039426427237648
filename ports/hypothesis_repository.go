package ports

import (
	"context"

	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
)

// HypothesisRepository persists registry records. The registry stays the
// source of truth; the repository mirrors it for restarts.
type HypothesisRepository interface {
	// SaveHypothesis inserts or replaces a hypothesis
	SaveHypothesis(ctx context.Context, h hypothesis.Hypothesis) error

	// DeleteHypothesis removes a hypothesis; deleting a missing id is not an error
	DeleteHypothesis(ctx context.Context, id core.HypothesisID) error

	// ListHypotheses returns every stored hypothesis in creation order
	ListHypotheses(ctx context.Context) ([]hypothesis.Hypothesis, error)
}
