package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kb/internal/domain"
)

// ProgressFunc is called after each document of a batch.
type ProgressFunc func(processed, total int, documentID string)

type batchOptions struct {
	progress ProgressFunc
	chunking *domain.ChunkingOptions
}

// BatchOption configures AddDocuments.
type BatchOption func(*batchOptions)

// WithProgress reports progress after every document.
func WithProgress(fn ProgressFunc) BatchOption {
	return func(o *batchOptions) { o.progress = fn }
}

// WithChunking overrides the namespace chunk settings for the whole batch.
func WithChunking(opts domain.ChunkingOptions) BatchOption {
	return func(o *batchOptions) { o.chunking = &opts }
}

// AddDocuments indexes documents one after another. A failing document is
// recorded in its result and does not stop the batch. Once ctx is done the
// remaining documents are reported as cancelled without being processed.
func (s *RetrievalService) AddDocuments(
	ctx context.Context,
	namespaceID string,
	docs []domain.Document,
	opts ...BatchOption,
) domain.BatchProcessResult {
	var o batchOptions
	for _, opt := range opts {
		opt(&o)
	}

	out := domain.BatchProcessResult{
		TotalDocuments: len(docs),
		Results:        make([]domain.AddDocumentResult, 0, len(docs)),
	}

	for i, doc := range docs {
		var res domain.AddDocumentResult
		if err := domain.FromContext("add documents", ctx); err != nil {
			if doc.ID == "" {
				doc.ID = uuid.NewString()
			}
			res = domain.AddDocumentResult{DocumentID: doc.ID, Error: err.Error()}
		} else {
			res, _ = s.AddDocument(ctx, namespaceID, doc, o.chunking)
		}

		out.Results = append(out.Results, res)
		if res.Success {
			out.SuccessCount++
		} else {
			out.FailureCount++
		}
		if o.progress != nil {
			o.progress(i+1, len(docs), res.DocumentID)
		}
	}

	s.logger.Info("batch processed",
		zap.String("namespace", namespaceID),
		zap.Int("total", out.TotalDocuments),
		zap.Int("succeeded", out.SuccessCount),
		zap.Int("failed", out.FailureCount))
	return out
}
