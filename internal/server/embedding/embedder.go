// Package embedding is the client boundary for the embedding service. All
// calls are best effort: the diary saga swallows embedding failures, since
// degraded search quality is preferable to blocking writes.
package embedding

import "context"

// Embedder computes vector embeddings for passages and queries. An empty
// vector means "no embedding available".
type Embedder interface {
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Noop is the Embedder used when no embedding service is configured.
type Noop struct{}

func (Noop) EmbedPassage(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (Noop) EmbedQuery(ctx context.Context, text string) ([]float32, error)   { return nil, nil }
