package llm

import (
	"context"
	"fmt"
)

// Gateway is the interface the agent loop talks to. One concrete
// implementation exists today ([Client]); the seam leaves room for
// additional backends without touching the loop.
type Gateway interface {
	// Complete sends the conversation to the model and returns the
	// normalized response. A *GatewayError means both the primary and
	// the fallback endpoint failed.
	Complete(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// ListModels returns the merged upstream model listing.
	ListModels(ctx context.Context) ([]Model, error)
}

// GatewayError reports that the primary and fallback endpoints both
// failed. Status and Message preserve the primary failure for
// diagnostics; Hint carries a human-oriented suggestion when the failure
// is plausibly a credential or model-name problem.
type GatewayError struct {
	Status  int    // HTTP status of the primary failure, 0 for transport errors
	Message string // upstream error message, best-effort parsed
	Hint    string // non-empty for 401/403/404-class failures
}

func (e *GatewayError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("model gateway failed (status %d): %s — %s", e.Status, e.Message, e.Hint)
	}
	if e.Status != 0 {
		return fmt.Sprintf("model gateway failed (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("model gateway failed: %s", e.Message)
}
