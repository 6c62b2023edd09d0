package embedding

import (
	"context"
	"hash/fnv"

	"kb/internal/adapter/analyzer"
	"kb/internal/domain"
	"kb/internal/port"
)

// HashEmbedder is a deterministic local embedder based on feature hashing of
// word tokens. Texts sharing vocabulary get high cosine similarity, which is
// enough for offline use and reproducible tests.
type HashEmbedder struct {
	tokenizer *analyzer.Tokenizer
}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{tokenizer: analyzer.NewTokenizer()}
}

// Embed returns the bag-of-words hash vector of each text.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string, model domain.EmbeddingModel) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, model.Dimension)
		for _, tok := range e.tokenizer.Tokenize(text) {
			idx, sign := e.bucket(tok, model.Dimension)
			vec[idx] += sign
		}
		out[i] = vec
	}
	return out, nil
}

// EmbedTokens returns one row per token, preceded by a CLS row holding the
// whole-text vector. Mean pooling over the token rows and the CLS row point
// in the same direction.
func (e *HashEmbedder) EmbedTokens(ctx context.Context, texts []string, model domain.EmbeddingModel) ([][][]float32, error) {
	out := make([][][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tokens := e.tokenizer.Tokenize(text)
		rows := make([][]float32, 1, len(tokens)+1)
		rows[0] = make([]float32, model.Dimension)
		for _, tok := range tokens {
			idx, sign := e.bucket(tok, model.Dimension)
			row := make([]float32, model.Dimension)
			row[idx] = sign
			rows[0][idx] += sign
			rows = append(rows, row)
		}
		out[i] = rows
	}
	return out, nil
}

func (e *HashEmbedder) bucket(token string, dim int) (int, float32) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(dim)), sign
}

var (
	_ port.Embedder      = (*HashEmbedder)(nil)
	_ port.TokenEmbedder = (*HashEmbedder)(nil)
)
