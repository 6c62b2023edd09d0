package usecase

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"kb/internal/adapter/analyzer"
	"kb/internal/adapter/cache"
	"kb/internal/adapter/events"
	"kb/internal/domain"
	"kb/internal/logging"
	"kb/internal/port"
)

const (
	DefaultBatchSize             = 16
	DefaultMaxConcurrentRequests = 4
)

// VectorizerConfig tunes batching and embedder concurrency.
type VectorizerConfig struct {
	BatchSize             int
	MaxConcurrentRequests int64
}

// Vectorizer turns texts into embedding vectors through the cache and the
// embedder. One Vectorizer is shared by every namespace so the concurrency
// bound is process wide.
type Vectorizer struct {
	embedder  port.Embedder
	cache     port.EmbeddingCache
	events    port.EventPublisher
	logger    *zap.Logger
	tokenizer *analyzer.Tokenizer
	batchSize int
	sem       *semaphore.Weighted
}

// NewVectorizer creates a Vectorizer. cache and publisher may be nil.
func NewVectorizer(
	embedder port.Embedder,
	embCache port.EmbeddingCache,
	publisher port.EventPublisher,
	logger *zap.Logger,
	cfg VectorizerConfig,
) *Vectorizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Vectorizer{
		embedder:  embedder,
		cache:     embCache,
		events:    publisher,
		logger:    logging.OrNop(logger),
		tokenizer: analyzer.NewTokenizer(),
		batchSize: cfg.BatchSize,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentRequests),
	}
}

// Vectorize returns one vector per text in input order. Either every vector
// is returned or none is.
func (v *Vectorizer) Vectorize(ctx context.Context, texts []string, model domain.EmbeddingModel) ([][]float32, error) {
	const op = "vectorize"
	start := time.Now()

	if err := domain.ValidateModel(model); err != nil {
		return nil, domain.InvalidInput(op, "embedding model: %v", err)
	}
	if err := domain.FromContext(op, ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	// Group positions by text so duplicates are embedded once.
	positions := make(map[string][]int)
	var pending []string
	hits := 0
	for i, text := range texts {
		if vec, ok := v.lookup(model, text); ok {
			out[i] = vec
			hits++
			continue
		}
		if _, seen := positions[text]; !seen {
			pending = append(pending, text)
			if model.MaxTokens > 0 {
				if n := v.tokenizer.CountTokens(text); n > model.MaxTokens {
					v.logger.Warn("text exceeds model token limit and may be truncated by the embedder",
						zap.String("model", model.Name),
						zap.Int("tokens", n),
						zap.Int("max_tokens", model.MaxTokens))
				}
			}
		}
		positions[text] = append(positions[text], i)
	}

	embedded, err := v.embedAll(ctx, pending, model)
	if err != nil {
		v.events.Publish(domain.Event{
			Type:     domain.EventVectorizeFailed,
			Model:    model.Name,
			Count:    len(texts),
			Duration: time.Since(start),
			Err:      err,
		})
		return nil, err
	}

	for j, text := range pending {
		vec := embedded[j]
		if v.cache != nil {
			v.cache.Set(cache.Key(model.Name, text), vec)
		}
		for _, i := range positions[text] {
			out[i] = vec
		}
	}

	v.events.Publish(domain.Event{
		Type:        domain.EventVectorizeCompleted,
		Model:       model.Name,
		Count:       len(texts),
		CacheHits:   hits,
		CacheMisses: len(texts) - hits,
		Duration:    time.Since(start),
	})
	v.logger.Debug("vectorized texts",
		zap.String("model", model.Name),
		zap.Int("texts", len(texts)),
		zap.Int("cache_hits", hits),
		zap.Int("embedded", len(pending)))

	return out, nil
}

func (v *Vectorizer) lookup(model domain.EmbeddingModel, text string) ([]float32, bool) {
	if v.cache == nil {
		return nil, false
	}
	vec, ok := v.cache.Get(cache.Key(model.Name, text))
	if !ok || len(vec) != model.Dimension {
		return nil, false
	}
	return vec, true
}

// embedAll embeds texts in batches. Batches run concurrently up to the
// semaphore bound; the first failure cancels the rest.
func (v *Vectorizer) embedAll(ctx context.Context, texts []string, model domain.EmbeddingModel) ([][]float32, error) {
	const op = "vectorize"
	result := make([][]float32, len(texts))
	if len(texts) == 0 {
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(texts); lo += v.batchSize {
		lo := lo
		hi := min(lo+v.batchSize, len(texts))
		g.Go(func() error {
			if err := v.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer v.sem.Release(1)

			vecs, err := v.embedBatch(gctx, texts[lo:hi], model)
			if err != nil {
				return err
			}
			copy(result[lo:hi], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.Cancelled(op, ctxErr)
		}
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, domain.VectorizationFailed(op, err, "embedder %s", model.Name).
			WithDetail("model", model.Name)
	}
	return result, nil
}

func (v *Vectorizer) embedBatch(ctx context.Context, batch []string, model domain.EmbeddingModel) ([][]float32, error) {
	const op = "vectorize"

	var vecs [][]float32
	te, tokenLevel := v.embedder.(port.TokenEmbedder)
	if tokenLevel && (model.Pooling == domain.PoolingMean || model.Pooling == domain.PoolingCLS) {
		rows, err := te.EmbedTokens(ctx, batch, model)
		if err != nil {
			return nil, err
		}
		if len(rows) != len(batch) {
			return nil, domain.VectorizationFailed(op, nil, "embedder returned %d outputs for %d texts", len(rows), len(batch))
		}
		vecs = make([][]float32, len(rows))
		for i, tokens := range rows {
			vecs[i] = pool(tokens, model.Pooling)
		}
	} else {
		var err error
		vecs, err = v.embedder.Embed(ctx, batch, model)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, domain.VectorizationFailed(op, nil, "embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}
	}

	for i, vec := range vecs {
		if len(vec) != model.Dimension {
			return nil, domain.VectorizationFailed(op, nil, "vector has dimension %d, model %s expects %d", len(vec), model.Name, model.Dimension).
				WithDetail("expected", model.Dimension).
				WithDetail("actual", len(vec))
		}
		if model.Normalize {
			vecs[i] = normalize(vec)
		}
	}
	return vecs, nil
}

// pool collapses token rows into one vector. Row 0 is the CLS position;
// mean pooling averages the remaining rows and falls back to row 0 when
// there are none.
func pool(rows [][]float32, p domain.Pooling) []float32 {
	if len(rows) == 0 {
		return nil
	}
	if p == domain.PoolingCLS || len(rows) == 1 {
		return append([]float32(nil), rows[0]...)
	}
	tokens := rows[1:]
	out := make([]float32, len(tokens[0]))
	for _, row := range tokens {
		if len(row) != len(out) {
			return nil
		}
		for i, x := range row {
			out[i] += x
		}
	}
	n := float32(len(tokens))
	for i := range out {
		out[i] /= n
	}
	return out
}

// normalize returns a unit-length copy of vec. Zero vectors are returned
// unchanged.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = x / norm
	}
	return out
}
