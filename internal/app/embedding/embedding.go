// Package embedding generates vector embeddings for catalog records. The
// OpenAI-backed provider is the production implementation; a cached wrapper
// keeps recomputation off the hot path.
package embedding

import (
	"context"
	"fmt"
)

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the dimensionality of produced vectors.
	Dimension() int
	// Model returns the model identifier used by this provider.
	Model() string
}

// ProviderError wraps an upstream embedding failure. Handlers translate it
// into a 502 so callers can tell provider outages from local errors.
type ProviderError struct {
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider (%s): %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
