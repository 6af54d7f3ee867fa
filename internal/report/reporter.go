package report

import (
	"context"
	"io"
)

// Reporter renders an evaluation in a specific output format.
type Reporter interface {
	// Format returns the format name (e.g., "text", "json").
	Format() string

	// Generate writes the rendered evaluation to w.
	Generate(ctx context.Context, eval *Evaluation, w io.Writer) error
}
