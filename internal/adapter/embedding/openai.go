package embedding

import (
	"context"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"kb/internal/domain"
	"kb/internal/port"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client   *openai.Client
	timeout  time.Duration
	progress chan port.ProgressEvent
}

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKeyEnv string
	BaseURL   string
	Timeout   time.Duration
}

// NewOpenAIEmbedder creates an embedder reading its API key from the
// configured environment variable.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAIEmbedder{
		client:   openai.NewClientWithConfig(clientCfg),
		timeout:  cfg.Timeout,
		progress: make(chan port.ProgressEvent, 16),
	}, nil
}

// Embed sends texts in a single request and returns vectors in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, model domain.EmbeddingModel) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(model.Name),
		Dimensions: model.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	e.publish(port.ProgressEvent{
		Stage:   "embed",
		Done:    len(texts),
		Total:   len(texts),
		Model:   model.Name,
		Message: fmt.Sprintf("%d prompt tokens", resp.Usage.PromptTokens),
	})
	return vectors, nil
}

// Progress streams per-request completion events. Events are dropped when
// nobody reads them.
func (e *OpenAIEmbedder) Progress() <-chan port.ProgressEvent {
	return e.progress
}

func (e *OpenAIEmbedder) publish(ev port.ProgressEvent) {
	select {
	case e.progress <- ev:
	default:
	}
}

var (
	_ port.Embedder         = (*OpenAIEmbedder)(nil)
	_ port.ProgressReporter = (*OpenAIEmbedder)(nil)
)
