package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kb/internal/adapter/analyzer"
	"kb/internal/adapter/events"
	"kb/internal/adapter/memstore"
	"kb/internal/domain"
	"kb/internal/logging"
	"kb/internal/port"
)

// ServiceConfig holds engine-wide settings.
type ServiceConfig struct {
	// Defaults apply to namespaces created without an explicit config.
	Defaults domain.KnowledgeBaseConfig
	// Models is the catalog namespace configs refer to by name.
	Models []domain.EmbeddingModel
	// AutoCreateNamespaces lets AddDocument create unknown namespaces
	// with Defaults.
	AutoCreateNamespaces bool
	// MaxDocumentChars rejects longer documents; 0 disables the check.
	MaxDocumentChars int
}

// CreateKnowledgeBaseRequest describes a new namespace. Config fields left
// nil take the service defaults.
type CreateKnowledgeBaseRequest struct {
	ID          string
	Name        string
	Description string
	Config      domain.KnowledgeBaseConfigPatch
}

// RetrievalService is the engine facade: it owns the namespace store and
// one VectorIndex per namespace.
type RetrievalService struct {
	cfg         ServiceConfig
	models      map[string]domain.EmbeddingModel
	namespaces  *memstore.NamespaceStore
	vectorizer  *Vectorizer
	splitter    port.TextSplitter
	texts       port.DocumentTextProvider
	highlighter *analyzer.Highlighter
	events      port.EventPublisher
	logger      *zap.Logger

	mu      sync.RWMutex
	entries map[string]*namespaceEntry
	deleted map[string]bool
}

// namespaceEntry holds the runtime state of one namespace. Adds hold gate
// shared; re-indexing holds it exclusively while it swaps the index.
type namespaceEntry struct {
	gate sync.RWMutex

	mu    sync.Mutex
	index *VectorIndex
	state domain.NamespaceState
}

func (e *namespaceEntry) current() (*VectorIndex, domain.NamespaceState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index, e.state
}

// NewRetrievalService wires the engine. texts, publisher and logger may be
// nil; documents given by path then fail with InvalidInput.
func NewRetrievalService(
	cfg ServiceConfig,
	namespaces *memstore.NamespaceStore,
	vectorizer *Vectorizer,
	splitter port.TextSplitter,
	texts port.DocumentTextProvider,
	publisher port.EventPublisher,
	logger *zap.Logger,
) (*RetrievalService, error) {
	models := make(map[string]domain.EmbeddingModel, len(cfg.Models))
	for _, m := range cfg.Models {
		if err := domain.ValidateModel(m); err != nil {
			return nil, fmt.Errorf("invalid model %q: %w", m.Name, err)
		}
		models[m.Name] = m
	}
	if err := domain.ValidateConfig(cfg.Defaults); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	if _, ok := models[cfg.Defaults.EmbeddingModel]; !ok {
		return nil, fmt.Errorf("default embedding model %q is not in the model catalog", cfg.Defaults.EmbeddingModel)
	}
	if publisher == nil {
		publisher = events.Discard{}
	}

	s := &RetrievalService{
		cfg:         cfg,
		models:      models,
		namespaces:  namespaces,
		vectorizer:  vectorizer,
		splitter:    splitter,
		texts:       texts,
		highlighter: analyzer.NewHighlighter(),
		events:      publisher,
		logger:      logging.OrNop(logger),
		entries:     make(map[string]*namespaceEntry),
		deleted:     make(map[string]bool),
	}
	for _, ns := range namespaces.List() {
		s.entries[ns.ID] = &namespaceEntry{state: domain.StateCreated}
	}
	return s, nil
}

// CreateKnowledgeBase creates a namespace.
func (s *RetrievalService) CreateKnowledgeBase(req CreateKnowledgeBaseRequest) (domain.Namespace, error) {
	const op = "create knowledge base"

	cfg := req.Config.Apply(s.cfg.Defaults)
	if _, err := s.model(op, cfg.EmbeddingModel); err != nil {
		return domain.Namespace{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.namespaces.Create(domain.Namespace{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Config:      cfg,
	})
	if err != nil {
		return domain.Namespace{}, err
	}
	s.entries[ns.ID] = &namespaceEntry{state: domain.StateCreated}
	delete(s.deleted, ns.ID)

	s.events.Publish(domain.Event{Type: domain.EventNamespaceCreated, Namespace: ns.ID, Model: cfg.EmbeddingModel})
	s.logger.Info("knowledge base created",
		zap.String("namespace", ns.ID),
		zap.String("model", cfg.EmbeddingModel),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Int("chunk_overlap", cfg.ChunkOverlap))
	return ns, nil
}

// AddDocument indexes one document. The result is populated even when an
// error is returned.
func (s *RetrievalService) AddDocument(
	ctx context.Context,
	namespaceID string,
	doc domain.Document,
	opts *domain.ChunkingOptions,
) (domain.AddDocumentResult, error) {
	const op = "add document"
	start := time.Now()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	result := domain.AddDocumentResult{DocumentID: doc.ID}

	chunks, err := s.addDocument(ctx, op, namespaceID, doc, opts)
	if err != nil {
		result.Error = err.Error()
		s.events.Publish(domain.Event{
			Type:       domain.EventDocumentFailed,
			Namespace:  namespaceID,
			DocumentID: doc.ID,
			Duration:   time.Since(start),
			Err:        err,
		})
		s.logFailure(op, namespaceID, doc.ID, err)
		return result, err
	}

	result.Success = true
	result.ChunksCreated = len(chunks)
	s.events.Publish(domain.Event{
		Type:       domain.EventDocumentAdded,
		Namespace:  namespaceID,
		DocumentID: doc.ID,
		Count:      len(chunks),
		Duration:   time.Since(start),
	})
	s.logger.Debug("document indexed",
		zap.String("namespace", namespaceID),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)))
	return result, nil
}

func (s *RetrievalService) addDocument(
	ctx context.Context,
	op, namespaceID string,
	doc domain.Document,
	opts *domain.ChunkingOptions,
) ([]domain.DocumentChunk, error) {
	if err := domain.FromContext(op, ctx); err != nil {
		return nil, err
	}
	if _, ok := s.namespaces.Get(namespaceID); !ok && !s.cfg.AutoCreateNamespaces {
		return nil, domain.NamespaceNotFound(op, namespaceID)
	}

	// Everything about the document is checked before a namespace can be
	// auto-created.
	text, err := s.documentText(ctx, op, doc)
	if err != nil {
		return nil, err
	}
	if opts != nil {
		if err := domain.ValidateChunking(opts.ChunkSize, opts.ChunkOverlap); err != nil {
			return nil, domain.InvalidInput(op, "chunking options: %v", err)
		}
	}
	metadata := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	if _, ok := metadata[domain.MetaSource]; !ok {
		metadata[domain.MetaSource] = firstNonEmpty(doc.Path, doc.Name, doc.ID)
	}
	if _, _, err := domain.SplitMetadata(metadata); err != nil {
		return nil, domain.InvalidInput(op, "%v", err).WithDetail("document", doc.ID)
	}

	ns, entry, err := s.ensureNamespace(op, namespaceID)
	if err != nil {
		return nil, err
	}
	chunking := domain.ChunkingOptions{ChunkSize: ns.Config.ChunkSize, ChunkOverlap: ns.Config.ChunkOverlap}
	if opts != nil {
		chunking = *opts
	}

	entry.gate.RLock()
	defer entry.gate.RUnlock()

	index, err := s.indexFor(op, ns, entry)
	if err != nil {
		return nil, err
	}
	chunks, err := index.Add(ctx, doc.ID, text, metadata, chunking)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	if entry.state == domain.StateCreated {
		entry.state = domain.StateVectorized
	}
	entry.mu.Unlock()
	return chunks, nil
}

func (s *RetrievalService) documentText(ctx context.Context, op string, doc domain.Document) (string, error) {
	text := doc.Text
	if text == "" && doc.Path != "" {
		if s.texts == nil {
			return "", domain.InvalidInput(op, "document %q has a path but no text provider is configured", doc.ID)
		}
		var err error
		text, err = s.texts.GetText(ctx, doc.Path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", domain.Cancelled(op, ctxErr)
			}
			return "", domain.InvalidInput(op, "read document %q: %v", doc.Path, err)
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.InvalidInput(op, "document %q has no text", doc.ID)
	}
	if s.cfg.MaxDocumentChars > 0 {
		if n := utf8.RuneCountInString(text); n > s.cfg.MaxDocumentChars {
			return "", domain.InvalidInput(op, "document %q has %d characters, limit is %d", doc.ID, n, s.cfg.MaxDocumentChars).
				WithDetail("limit", s.cfg.MaxDocumentChars)
		}
	}
	return text, nil
}

// indexFor returns the namespace index, creating it with the configured
// model on first use. Callers hold entry.gate.
func (s *RetrievalService) indexFor(op string, ns domain.Namespace, entry *namespaceEntry) (*VectorIndex, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.index != nil {
		return entry.index, nil
	}
	model, err := s.model(op, ns.Config.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	entry.index = NewVectorIndex(ns.ID, model, s.splitter, s.vectorizer, s.logger)
	return entry.index, nil
}

// SearchDocuments returns the chunks most similar to query. A namespace
// with nothing indexed yields an empty result without embedding the query.
func (s *RetrievalService) SearchDocuments(
	ctx context.Context,
	namespaceID, query string,
	opts domain.SearchOptions,
) ([]domain.RetrievalResult, error) {
	const op = "search documents"
	start := time.Now()

	ns, ok := s.namespaces.Get(namespaceID)
	if !ok {
		return nil, domain.NamespaceNotFound(op, namespaceID)
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.InvalidInput(op, "query is empty")
	}
	topK := ns.Config.MaxResults
	if opts.TopK < 0 {
		return nil, domain.InvalidInput(op, "topK must not be negative, got %d", opts.TopK)
	}
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	threshold := ns.Config.SimilarityThreshold
	if opts.SimilarityThreshold != nil {
		threshold = *opts.SimilarityThreshold
		if threshold < -1 || threshold > 1 {
			return nil, domain.InvalidInput(op, "similarity threshold must be in [-1, 1], got %g", threshold)
		}
	}
	if err := domain.FromContext(op, ctx); err != nil {
		return nil, err
	}

	entry := s.entry(namespaceID)
	if entry == nil {
		return []domain.RetrievalResult{}, nil
	}
	index, _ := entry.current()
	if index == nil || index.Stats().ChunkCount == 0 {
		return []domain.RetrievalResult{}, nil
	}

	vectors, err := s.vectorizer.Vectorize(ctx, []string{query}, index.Model())
	if err != nil {
		s.logFailure(op, namespaceID, "", err)
		return nil, err
	}
	results, err := index.Search(vectors[0], topK, threshold, opts.Filters)
	if err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Chunk.Embedding = nil
		if opts.IncludeMetadata {
			results[i].Chunk.Metadata = results[i].Chunk.Metadata.Clone()
		} else {
			results[i].Chunk.Metadata = domain.ChunkMetadata{}
		}
		if opts.HighlightMatches {
			results[i].Highlights = s.highlighter.FindHighlights(query, results[i].Chunk.Content)
		}
	}

	s.events.Publish(domain.Event{
		Type:      domain.EventSearchCompleted,
		Namespace: namespaceID,
		Model:     index.Model().Name,
		Count:     len(results),
		Duration:  time.Since(start),
	})
	return results, nil
}

// RemoveDocument deletes a document's chunks and reports whether it existed.
func (s *RetrievalService) RemoveDocument(ctx context.Context, namespaceID, documentID string) (bool, error) {
	const op = "remove document"
	if err := domain.FromContext(op, ctx); err != nil {
		return false, err
	}
	if _, ok := s.namespaces.Get(namespaceID); !ok {
		return false, domain.NamespaceNotFound(op, namespaceID)
	}
	if documentID == "" {
		return false, domain.InvalidInput(op, "document id is empty")
	}

	entry := s.entry(namespaceID)
	if entry == nil {
		return false, nil
	}
	entry.gate.RLock()
	defer entry.gate.RUnlock()

	index, _ := entry.current()
	if index == nil || !index.Remove(documentID) {
		return false, nil
	}
	s.events.Publish(domain.Event{Type: domain.EventDocumentRemoved, Namespace: namespaceID, DocumentID: documentID})
	s.logger.Debug("document removed", zap.String("namespace", namespaceID), zap.String("document_id", documentID))
	return true, nil
}

// DeleteKnowledgeBase drops a namespace and its index. It reports false for
// an unknown id.
func (s *RetrievalService) DeleteKnowledgeBase(namespaceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.namespaces.Delete(namespaceID)
	if err != nil || !ok {
		return false, err
	}
	delete(s.entries, namespaceID)
	s.deleted[namespaceID] = true

	s.events.Publish(domain.Event{Type: domain.EventNamespaceDeleted, Namespace: namespaceID})
	s.logger.Info("knowledge base deleted", zap.String("namespace", namespaceID))
	return true, nil
}

// GetStats reports the document and chunk counts of a namespace.
func (s *RetrievalService) GetStats(namespaceID string) (domain.IndexStats, error) {
	if _, ok := s.namespaces.Get(namespaceID); !ok {
		return domain.IndexStats{}, domain.NamespaceNotFound("get stats", namespaceID)
	}
	entry := s.entry(namespaceID)
	if entry == nil {
		return domain.IndexStats{}, nil
	}
	index, _ := entry.current()
	if index == nil {
		return domain.IndexStats{}, nil
	}
	return index.Stats(), nil
}

// ListNamespaces returns every namespace sorted by id.
func (s *RetrievalService) ListNamespaces() []domain.Namespace {
	return s.namespaces.List()
}

// GetNamespace returns one namespace.
func (s *RetrievalService) GetNamespace(namespaceID string) (domain.Namespace, bool) {
	return s.namespaces.Get(namespaceID)
}

// State reports where a namespace is in its lifecycle.
func (s *RetrievalService) State(namespaceID string) domain.NamespaceState {
	s.mu.RLock()
	entry, ok := s.entries[namespaceID]
	deleted := s.deleted[namespaceID]
	s.mu.RUnlock()

	if !ok {
		if deleted {
			return domain.StateDeleted
		}
		return domain.StateUninitialized
	}
	_, state := entry.current()
	return state
}

// UpdateKnowledgeBaseConfig applies patch to a namespace config. It reports
// false for an unknown id. Changing the embedding model of a namespace that
// already holds vectors marks it Stale: searches keep using the old model
// until ReindexKnowledgeBase runs.
func (s *RetrievalService) UpdateKnowledgeBaseConfig(namespaceID string, patch domain.KnowledgeBaseConfigPatch) (bool, error) {
	const op = "update knowledge base config"

	if patch.EmbeddingModel != nil {
		if _, err := s.model(op, *patch.EmbeddingModel); err != nil {
			return false, err
		}
	}

	before, ok := s.namespaces.Get(namespaceID)
	if !ok {
		return false, nil
	}
	updated, err := s.namespaces.UpdateConfig(namespaceID, patch)
	if err != nil || !updated {
		return updated, err
	}

	after, _ := s.namespaces.Get(namespaceID)
	if before.Config.EmbeddingModel != after.Config.EmbeddingModel {
		if entry := s.entry(namespaceID); entry != nil {
			entry.gate.Lock()
			entry.mu.Lock()
			switch {
			case entry.index == nil:
			case entry.index.Stats().ChunkCount == 0:
				entry.index = nil
				entry.state = domain.StateCreated
			case entry.index.Model().Name != after.Config.EmbeddingModel:
				entry.state = domain.StateStale
			default:
				entry.state = domain.StateVectorized
			}
			entry.mu.Unlock()
			entry.gate.Unlock()
		}
		s.logger.Info("embedding model changed",
			zap.String("namespace", namespaceID),
			zap.String("from", before.Config.EmbeddingModel),
			zap.String("to", after.Config.EmbeddingModel),
			zap.String("state", string(s.State(namespaceID))))
	}
	return true, nil
}

// ReindexKnowledgeBase re-vectorizes every chunk of a namespace with its
// configured model and swaps the new index in. On failure the old index
// stays in place.
func (s *RetrievalService) ReindexKnowledgeBase(ctx context.Context, namespaceID string) (domain.IndexStats, error) {
	const op = "reindex knowledge base"
	start := time.Now()

	ns, ok := s.namespaces.Get(namespaceID)
	if !ok {
		return domain.IndexStats{}, domain.NamespaceNotFound(op, namespaceID)
	}
	model, err := s.model(op, ns.Config.EmbeddingModel)
	if err != nil {
		return domain.IndexStats{}, err
	}
	entry := s.entry(namespaceID)
	if entry == nil {
		return domain.IndexStats{}, domain.NamespaceNotFound(op, namespaceID)
	}

	entry.gate.Lock()
	defer entry.gate.Unlock()

	old, _ := entry.current()
	if old == nil {
		return domain.IndexStats{}, nil
	}
	next, err := old.Rebuild(ctx, model)
	if err != nil {
		s.logFailure(op, namespaceID, "", err)
		return domain.IndexStats{}, err
	}

	stats := next.Stats()
	entry.mu.Lock()
	entry.index = next
	if stats.ChunkCount > 0 {
		entry.state = domain.StateVectorized
	}
	entry.mu.Unlock()

	s.events.Publish(domain.Event{
		Type:      domain.EventNamespaceReindexed,
		Namespace: namespaceID,
		Model:     model.Name,
		Count:     stats.ChunkCount,
		Duration:  time.Since(start),
	})
	s.logger.Info("knowledge base reindexed",
		zap.String("namespace", namespaceID),
		zap.String("model", model.Name),
		zap.Int("chunks", stats.ChunkCount))
	return stats, nil
}

// ensureNamespace returns the namespace, creating it with defaults when
// auto-creation is enabled.
func (s *RetrievalService) ensureNamespace(op, namespaceID string) (domain.Namespace, *namespaceEntry, error) {
	if ns, ok := s.namespaces.Get(namespaceID); ok {
		if entry := s.entry(namespaceID); entry != nil {
			return ns, entry, nil
		}
	}
	if !s.cfg.AutoCreateNamespaces {
		return domain.Namespace{}, nil, domain.NamespaceNotFound(op, namespaceID)
	}

	_, err := s.CreateKnowledgeBase(CreateKnowledgeBaseRequest{ID: namespaceID})
	if err != nil && !errors.Is(err, domain.ErrNamespaceAlreadyExists) {
		return domain.Namespace{}, nil, err
	}
	ns, ok := s.namespaces.Get(namespaceID)
	entry := s.entry(namespaceID)
	if !ok || entry == nil {
		return domain.Namespace{}, nil, domain.NamespaceNotFound(op, namespaceID)
	}
	return ns, entry, nil
}

func (s *RetrievalService) entry(namespaceID string) *namespaceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[namespaceID]
}

func (s *RetrievalService) model(op, name string) (domain.EmbeddingModel, error) {
	m, ok := s.models[name]
	if !ok {
		return domain.EmbeddingModel{}, domain.InvalidInput(op, "unknown embedding model %q", name).WithDetail("model", name)
	}
	return m, nil
}

func (s *RetrievalService) logFailure(op, namespaceID, documentID string, err error) {
	fields := []zap.Field{
		zap.String("namespace", namespaceID),
		zap.String("op", op),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err),
	}
	if documentID != "" {
		fields = append(fields, zap.String("document_id", documentID))
	}
	switch domain.KindOf(err) {
	case domain.KindStorage, domain.KindVectorizationFailed:
		s.logger.Error("operation failed", fields...)
	case domain.KindCancelled:
		s.logger.Info("operation cancelled", fields...)
	default:
		s.logger.Warn("operation rejected", fields...)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
