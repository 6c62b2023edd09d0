package port

import (
	"context"

	"kb/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per text, in input order. Vectors must have
	// model.Dimension entries. Implementations honour ctx cancellation.
	Embed(ctx context.Context, texts []string, model domain.EmbeddingModel) ([][]float32, error)
}

// TokenEmbedder is implemented by embedders that can return token-level
// output. Row 0 of each matrix is the CLS position.
type TokenEmbedder interface {
	EmbedTokens(ctx context.Context, texts []string, model domain.EmbeddingModel) ([][][]float32, error)
}

// ProgressEvent reports embedder-side progress such as model loading or
// batch completion.
type ProgressEvent struct {
	Stage   string
	Done    int
	Total   int
	Model   string
	Message string
}

// ProgressReporter is implemented by embedders that publish progress.
// Receivers may ignore the channel; senders never block on it.
type ProgressReporter interface {
	Progress() <-chan ProgressEvent
}

// EmbeddingCache memoizes vectors by key. It is best effort: a miss is
// never an error.
type EmbeddingCache interface {
	Get(key string) ([]float32, bool)
	Set(key string, vector []float32)
	Invalidate(key string)
}
