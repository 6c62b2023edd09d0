package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kb/internal/adapter/memstore"
	"kb/internal/domain"
	"kb/internal/logging"
	"kb/internal/port"
)

// VectorIndex owns the chunks and vectors of one namespace. The embedding
// model is fixed for the life of the index; switching models means building
// a new index with Rebuild.
type VectorIndex struct {
	namespace  string
	model      domain.EmbeddingModel
	store      *memstore.VectorStore
	splitter   port.TextSplitter
	vectorizer *Vectorizer
	logger     *zap.Logger
}

// NewVectorIndex creates an empty index for namespace.
func NewVectorIndex(
	namespace string,
	model domain.EmbeddingModel,
	splitter port.TextSplitter,
	vectorizer *Vectorizer,
	logger *zap.Logger,
) *VectorIndex {
	return &VectorIndex{
		namespace:  namespace,
		model:      model,
		store:      memstore.NewVectorStore(namespace, model.Dimension),
		splitter:   splitter,
		vectorizer: vectorizer,
		logger:     logging.OrNop(logger),
	}
}

// Model returns the embedding model every stored vector was built with.
func (ix *VectorIndex) Model() domain.EmbeddingModel {
	return ix.model
}

// Add splits content, vectorizes the pieces and stores them as the chunk
// set of documentID, replacing any previous version of the document.
// Splitting and vectorizing happen before the store is touched, so a
// failure leaves the index unchanged.
func (ix *VectorIndex) Add(
	ctx context.Context,
	documentID, content string,
	metadata map[string]any,
	opts domain.ChunkingOptions,
) ([]domain.DocumentChunk, error) {
	const op = "add document"

	source, extra, err := domain.SplitMetadata(metadata)
	if err != nil {
		return nil, domain.InvalidInput(op, "%v", err).WithDetail("document", documentID)
	}

	pieces, err := ix.splitter.Split(content, opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, domain.InvalidInput(op, "document %q has no text to index", documentID)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vectors, err := ix.vectorizer.Vectorize(ctx, texts, ix.model)
	if err != nil {
		return nil, err
	}

	chunks := make([]domain.DocumentChunk, len(pieces))
	for i, p := range pieces {
		meta := domain.ChunkMetadata{
			Source:     source,
			ChunkIndex: i,
			StartChar:  p.Start,
			EndChar:    p.End,
			Extra:      extra,
		}
		chunks[i] = domain.DocumentChunk{
			ID:         chunkID(documentID, i),
			DocumentID: documentID,
			Content:    p.Text,
			Metadata:   meta.Clone(),
			Embedding:  vectors[i],
		}
	}

	if err := ix.store.Replace(documentID, chunks); err != nil {
		ix.logger.Error("index rejected chunks",
			zap.String("namespace", ix.namespace),
			zap.String("document_id", documentID),
			zap.String("op", op),
			zap.Error(err))
		return nil, err
	}
	return chunks, nil
}

// Remove deletes every chunk of documentID.
func (ix *VectorIndex) Remove(documentID string) bool {
	return ix.store.Remove(documentID)
}

// Search ranks stored chunks against query.
func (ix *VectorIndex) Search(query []float32, topK int, threshold float64, filters map[string]any) ([]domain.RetrievalResult, error) {
	results, err := ix.store.Search(query, topK, threshold, filters)
	if err != nil {
		ix.logger.Error("index search failed",
			zap.String("namespace", ix.namespace),
			zap.String("op", "search"),
			zap.Error(err))
		return nil, err
	}
	return results, nil
}

func (ix *VectorIndex) Stats() domain.IndexStats {
	return ix.store.Stats()
}

// Chunks returns every stored chunk in insertion order.
func (ix *VectorIndex) Chunks() []domain.DocumentChunk {
	return ix.store.Chunks()
}

// Rebuild re-vectorizes every stored chunk with model and returns a new
// index holding the result. The receiver is not modified.
func (ix *VectorIndex) Rebuild(ctx context.Context, model domain.EmbeddingModel) (*VectorIndex, error) {
	next := NewVectorIndex(ix.namespace, model, ix.splitter, ix.vectorizer, ix.logger)

	chunks := ix.store.Chunks()
	if len(chunks) == 0 {
		return next, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.vectorizer.Vectorize(ctx, texts, model)
	if err != nil {
		return nil, err
	}

	var order []string
	byDoc := make(map[string][]domain.DocumentChunk)
	for i, c := range chunks {
		c.Embedding = vectors[i]
		if _, seen := byDoc[c.DocumentID]; !seen {
			order = append(order, c.DocumentID)
		}
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	for _, docID := range order {
		if err := next.store.Replace(docID, byDoc[docID]); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func chunkID(documentID string, index int) string {
	return fmt.Sprintf("%s#%d", documentID, index)
}
