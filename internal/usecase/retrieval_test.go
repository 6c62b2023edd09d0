package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/adapter/cache"
	"kb/internal/adapter/chunker"
	"kb/internal/adapter/embedding"
	"kb/internal/adapter/events"
	"kb/internal/adapter/memstore"
	"kb/internal/domain"
	"kb/internal/port"
)

const parisText = "Paris is the capital of France. Paris has many museums."

var testModels = []domain.EmbeddingModel{
	{Name: "hash-384", Dimension: 384, Pooling: domain.PoolingNone, Normalize: true},
	{Name: "hash-64", Dimension: 64, Pooling: domain.PoolingMean, Normalize: true},
	{Name: "fake", Dimension: 4, Pooling: domain.PoolingNone},
}

func testDefaults() domain.KnowledgeBaseConfig {
	return domain.KnowledgeBaseConfig{
		ChunkSize:           50,
		ChunkOverlap:        10,
		EmbeddingModel:      "hash-384",
		SimilarityThreshold: 0.3,
		MaxResults:          10,
	}
}

// countingEmbedder wraps the hash embedder and counts Embed calls.
type countingEmbedder struct {
	inner *embedding.HashEmbedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string, model domain.EmbeddingModel) ([][]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, texts, model)
}

type mapTextProvider map[string]string

func (m mapTextProvider) GetText(_ context.Context, path string) (string, error) {
	text, ok := m[path]
	if !ok {
		return "", errors.New("no such file")
	}
	return text, nil
}

type serviceOpts struct {
	embedder   port.Embedder
	autoCreate bool
	maxChars   int
	texts      port.DocumentTextProvider
	bus        *events.Bus
}

func newTestService(t *testing.T, o serviceOpts) *RetrievalService {
	t.Helper()
	if o.embedder == nil {
		o.embedder = &countingEmbedder{inner: embedding.NewHashEmbedder()}
	}
	namespaces, err := memstore.NewNamespaceStore(nil, nil, nil)
	require.NoError(t, err)
	var publisher port.EventPublisher
	if o.bus != nil {
		publisher = o.bus
	}
	vectorizer := NewVectorizer(o.embedder, cache.NewMemoryCache(time.Hour), publisher, nil, VectorizerConfig{})
	svc, err := NewRetrievalService(ServiceConfig{
		Defaults:             testDefaults(),
		Models:               testModels,
		AutoCreateNamespaces: o.autoCreate,
		MaxDocumentChars:     o.maxChars,
	}, namespaces, vectorizer, chunker.NewRecursiveSplitter(), o.texts, publisher, nil)
	require.NoError(t, err)
	return svc
}

func mustCreate(t *testing.T, svc *RetrievalService, id string) {
	t.Helper()
	_, err := svc.CreateKnowledgeBase(CreateKnowledgeBaseRequest{ID: id})
	require.NoError(t, err)
}

func TestScenarioParis(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	res, err := svc.AddDocument(ctx, "kb1", domain.Document{ID: "d1", Text: parisText},
		&domain.ChunkingOptions{ChunkSize: 50, ChunkOverlap: 10})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "d1", res.DocumentID)
	assert.GreaterOrEqual(t, res.ChunksCreated, 2)

	results, err := svc.SearchDocuments(ctx, "kb1", "capital of France", domain.SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Chunk.Content, "capital of France")
	assert.Greater(t, results[0].Score, 0.3)
	assert.Equal(t, domain.StateVectorized, svc.State("kb1"))
}

func TestSearchEmptyNamespaceSkipsEmbedder(t *testing.T) {
	emb := &countingEmbedder{inner: embedding.NewHashEmbedder()}
	svc := newTestService(t, serviceOpts{embedder: emb})
	mustCreate(t, svc, "empty")

	results, err := svc.SearchDocuments(context.Background(), "empty", "anything at all", domain.SearchOptions{})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), emb.calls.Load())
	assert.Equal(t, domain.StateCreated, svc.State("empty"))
}

func TestCreateKnowledgeBaseTwice(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	mustCreate(t, svc, "kb1")

	_, err := svc.CreateKnowledgeBase(CreateKnowledgeBaseRequest{ID: "kb1"})
	assert.ErrorIs(t, err, domain.ErrNamespaceAlreadyExists)
}

func TestCreateKnowledgeBaseValidation(t *testing.T) {
	svc := newTestService(t, serviceOpts{})

	_, err := svc.CreateKnowledgeBase(CreateKnowledgeBaseRequest{ID: "bad id!"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	unknown := "no-such-model"
	_, err = svc.CreateKnowledgeBase(CreateKnowledgeBaseRequest{
		ID:     "kb1",
		Config: domain.KnowledgeBaseConfigPatch{EmbeddingModel: &unknown},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	size := 200
	ns, err := svc.CreateKnowledgeBase(CreateKnowledgeBaseRequest{
		ID:     "kb2",
		Name:   "Second",
		Config: domain.KnowledgeBaseConfigPatch{ChunkSize: &size},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, ns.Config.ChunkSize)
	assert.Equal(t, testDefaults().ChunkOverlap, ns.Config.ChunkOverlap)
	assert.Equal(t, domain.StateUninitialized, svc.State("kb1"))
}

func TestAddRemoveRoundTrip(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	_, err := svc.AddDocument(ctx, "kb1", domain.Document{ID: "base", Text: "Rivers carry sediment to the sea."}, nil)
	require.NoError(t, err)
	before, err := svc.GetStats("kb1")
	require.NoError(t, err)

	_, err = svc.AddDocument(ctx, "kb1", domain.Document{ID: "d1", Text: parisText}, nil)
	require.NoError(t, err)
	during, err := svc.GetStats("kb1")
	require.NoError(t, err)
	assert.Equal(t, before.DocumentCount+1, during.DocumentCount)
	assert.Greater(t, during.ChunkCount, before.ChunkCount)

	removed, err := svc.RemoveDocument(ctx, "kb1", "d1")
	require.NoError(t, err)
	assert.True(t, removed)
	after, err := svc.GetStats("kb1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	removed, err = svc.RemoveDocument(ctx, "kb1", "d1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAddDocumentReplacesExistingID(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	_, err := svc.AddDocument(ctx, "kb1", domain.Document{ID: "d1", Text: parisText}, nil)
	require.NoError(t, err)
	_, err = svc.AddDocument(ctx, "kb1", domain.Document{ID: "d1", Text: "Short text."}, nil)
	require.NoError(t, err)

	stats, err := svc.GetStats("kb1")
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{DocumentCount: 1, ChunkCount: 1}, stats)
}

func TestAddDocumentUnknownNamespace(t *testing.T) {
	svc := newTestService(t, serviceOpts{})

	res, err := svc.AddDocument(context.Background(), "nope", domain.Document{ID: "d1", Text: parisText}, nil)
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)
	assert.False(t, res.Success)
	assert.Equal(t, "d1", res.DocumentID)
	assert.NotEmpty(t, res.Error)
}

func TestAddDocumentAutoCreatesNamespace(t *testing.T) {
	svc := newTestService(t, serviceOpts{autoCreate: true})

	res, err := svc.AddDocument(context.Background(), "auto", domain.Document{Text: parisText}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.DocumentID, "missing ids are generated")

	ns, ok := svc.GetNamespace("auto")
	require.True(t, ok)
	assert.Equal(t, testDefaults(), ns.Config)
}

func TestAddDocumentInvalidDoesNotAutoCreate(t *testing.T) {
	svc := newTestService(t, serviceOpts{autoCreate: true, maxChars: 100})
	ctx := context.Background()

	tests := []struct {
		name string
		doc  domain.Document
		opts *domain.ChunkingOptions
	}{
		{"empty text", domain.Document{ID: "a"}, nil},
		{"oversized", domain.Document{ID: "b", Text: strings.Repeat("x", 101)}, nil},
		{"bad chunking", domain.Document{ID: "c", Text: parisText}, &domain.ChunkingOptions{ChunkSize: 10, ChunkOverlap: 10}},
		{"reserved metadata", domain.Document{ID: "d", Text: parisText, Metadata: map[string]any{domain.MetaChunkIndex: 3}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.AddDocument(ctx, "auto", tt.doc, tt.opts)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.False(t, res.Success)

			_, ok := svc.GetNamespace("auto")
			assert.False(t, ok, "namespace must not be created for a rejected document")
			assert.Equal(t, domain.StateUninitialized, svc.State("auto"))
		})
	}
}

func TestAddDocumentRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t, serviceOpts{maxChars: 20})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	tests := []struct {
		name string
		doc  domain.Document
		opts *domain.ChunkingOptions
	}{
		{"empty text", domain.Document{ID: "a", Text: ""}, nil},
		{"whitespace", domain.Document{ID: "b", Text: " \n\t "}, nil},
		{"oversized", domain.Document{ID: "c", Text: strings.Repeat("x", 21)}, nil},
		{"overlap too large", domain.Document{ID: "d", Text: "short"}, &domain.ChunkingOptions{ChunkSize: 5, ChunkOverlap: 5}},
		{"zero chunk size", domain.Document{ID: "e", Text: "short"}, &domain.ChunkingOptions{ChunkSize: 0}},
		{"positional metadata", domain.Document{ID: "f", Text: "short", Metadata: map[string]any{"chunkIndex": 3}}, nil},
		{"non-string source", domain.Document{ID: "g", Text: "short", Metadata: map[string]any{"source": 42}}, nil},
		{"path without provider", domain.Document{ID: "h", Path: "/docs/a.txt"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.AddDocument(ctx, "kb1", tt.doc, tt.opts)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
		})
	}

	stats, err := svc.GetStats("kb1")
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{}, stats, "nothing indexed")
	assert.Equal(t, domain.StateCreated, svc.State("kb1"))
}

func TestAddDocumentFromPath(t *testing.T) {
	svc := newTestService(t, serviceOpts{texts: mapTextProvider{"/docs/paris.txt": parisText}})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	res, err := svc.AddDocument(ctx, "kb1", domain.Document{ID: "p", Path: "/docs/paris.txt"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	results, err := svc.SearchDocuments(ctx, "kb1", "capital of France", domain.SearchOptions{TopK: 1, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/docs/paris.txt", results[0].Chunk.Metadata.Source)

	_, err = svc.AddDocument(ctx, "kb1", domain.Document{ID: "q", Path: "/docs/missing.txt"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearchOptions(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	_, err := svc.AddDocument(ctx, "kb1", domain.Document{
		ID:       "fr",
		Text:     parisText,
		Metadata: map[string]any{"lang": "en", "country": "France"},
	}, nil)
	require.NoError(t, err)
	_, err = svc.AddDocument(ctx, "kb1", domain.Document{
		ID:       "de",
		Text:     "Berlin is the capital of Germany.",
		Metadata: map[string]any{"lang": "en", "country": "Germany"},
	}, nil)
	require.NoError(t, err)

	lenient := -1.0
	all, err := svc.SearchDocuments(ctx, "kb1", "capital", domain.SearchOptions{SimilarityThreshold: &lenient})
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
	for _, r := range all {
		assert.Nil(t, r.Chunk.Embedding)
		assert.Empty(t, r.Chunk.Metadata.Source, "metadata omitted unless requested")
	}

	filtered, err := svc.SearchDocuments(ctx, "kb1", "capital", domain.SearchOptions{
		SimilarityThreshold: &lenient,
		Filters:             map[string]any{"country": "Germany"},
		IncludeMetadata:     true,
		HighlightMatches:    true,
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "de", filtered[0].Chunk.DocumentID)
	assert.Equal(t, "Germany", filtered[0].Chunk.Metadata.Extra["country"])
	require.Len(t, filtered[0].Highlights, 1)
	h := filtered[0].Highlights[0]
	assert.Equal(t, "capital", filtered[0].Chunk.Content[h.StartIndex:h.EndIndex])

	strict := 1.0
	none, err := svc.SearchDocuments(ctx, "kb1", "volcano", domain.SearchOptions{SimilarityThreshold: &strict})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchErrors(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	_, err := svc.SearchDocuments(ctx, "missing", "query", domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)

	_, err = svc.SearchDocuments(ctx, "kb1", "   ", domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.SearchDocuments(ctx, "kb1", "query", domain.SearchOptions{TopK: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	bad := 2.0
	_, err = svc.SearchDocuments(ctx, "kb1", "query", domain.SearchOptions{SimilarityThreshold: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.GetStats("missing")
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)

	_, err = svc.RemoveDocument(ctx, "missing", "d1")
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)
}

func TestVectorizationFailureLeavesIndexUnchanged(t *testing.T) {
	emb := &fakeEmbedder{}
	svc := newTestService(t, serviceOpts{embedder: emb})
	ctx := context.Background()
	model := "fake"
	_, err := svc.CreateKnowledgeBase(CreateKnowledgeBaseRequest{
		ID:     "kb1",
		Config: domain.KnowledgeBaseConfigPatch{EmbeddingModel: &model},
	})
	require.NoError(t, err)

	_, err = svc.AddDocument(ctx, "kb1", domain.Document{ID: "ok", Text: "first document"}, nil)
	require.NoError(t, err)

	emb.dimDelta = 2
	res, err := svc.AddDocument(ctx, "kb1", domain.Document{ID: "bad", Text: "second document"}, nil)
	assert.ErrorIs(t, err, domain.ErrVectorizationFailed)
	assert.False(t, res.Success)

	stats, err := svc.GetStats("kb1")
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{DocumentCount: 1, ChunkCount: 1}, stats)
}

func TestAddDocumentsIsolatesFailures(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	mustCreate(t, svc, "kb1")

	docs := []domain.Document{
		{ID: "a", Text: parisText},
		{ID: "b", Text: ""},
		{ID: "c", Text: "Rome is the capital of Italy."},
	}
	var progress []string
	out := svc.AddDocuments(context.Background(), "kb1", docs, WithProgress(func(processed, total int, id string) {
		progress = append(progress, fmt.Sprintf("%d/%d:%s", processed, total, id))
	}))

	assert.Equal(t, 3, out.TotalDocuments)
	assert.Equal(t, 2, out.SuccessCount)
	assert.Equal(t, 1, out.FailureCount)
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.NotEmpty(t, out.Results[1].Error)
	assert.True(t, out.Results[2].Success)
	assert.Equal(t, []string{"1/3:a", "2/3:b", "3/3:c"}, progress)
}

func TestAddDocumentsCancelled(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	mustCreate(t, svc, "kb1")

	ctx, cancel := context.WithCancel(context.Background())
	docs := []domain.Document{
		{ID: "a", Text: parisText},
		{ID: "b", Text: "Second."},
		{ID: "c", Text: "Third."},
	}
	out := svc.AddDocuments(ctx, "kb1", docs, WithProgress(func(processed, _ int, _ string) {
		if processed == 1 {
			cancel()
		}
	}))

	assert.Equal(t, 1, out.SuccessCount)
	assert.Equal(t, 2, out.FailureCount)
	assert.Contains(t, out.Results[1].Error, string(domain.KindCancelled))
	assert.Equal(t, "c", out.Results[2].DocumentID)
}

func TestAddDocumentsWithChunking(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	mustCreate(t, svc, "kb1")

	out := svc.AddDocuments(context.Background(), "kb1",
		[]domain.Document{{ID: "a", Text: parisText}},
		WithChunking(domain.ChunkingOptions{ChunkSize: 1000, ChunkOverlap: 0}))
	require.Equal(t, 1, out.SuccessCount)
	assert.Equal(t, 1, out.Results[0].ChunksCreated)
}

func TestModelChangeMarksStaleUntilReindex(t *testing.T) {
	bus := events.NewBus()
	var reindexed atomic.Int32
	bus.Subscribe(func(ev domain.Event) {
		if ev.Type == domain.EventNamespaceReindexed {
			reindexed.Add(1)
		}
	})
	svc := newTestService(t, serviceOpts{bus: bus})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	_, err := svc.AddDocument(ctx, "kb1", domain.Document{ID: "d1", Text: parisText}, nil)
	require.NoError(t, err)
	before, err := svc.GetStats("kb1")
	require.NoError(t, err)

	next := "hash-64"
	ok, err := svc.UpdateKnowledgeBaseConfig("kb1", domain.KnowledgeBaseConfigPatch{EmbeddingModel: &next})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StateStale, svc.State("kb1"))

	results, err := svc.SearchDocuments(ctx, "kb1", "capital of France", domain.SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1, "stale namespace still answers with its old vectors")

	stats, err := svc.ReindexKnowledgeBase(ctx, "kb1")
	require.NoError(t, err)
	assert.Equal(t, before, stats)
	assert.Equal(t, domain.StateVectorized, svc.State("kb1"))
	assert.Equal(t, int32(1), reindexed.Load())

	index, _ := svc.entry("kb1").current()
	assert.Equal(t, "hash-64", index.Model().Name)

	results, err = svc.SearchDocuments(ctx, "kb1", "capital of France", domain.SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Chunk.Content, "capital of France")
}

func TestModelChangeOnEmptyIndexResetsToCreated(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")

	_, err := svc.AddDocument(ctx, "kb1", domain.Document{ID: "d1", Text: parisText}, nil)
	require.NoError(t, err)
	removed, err := svc.RemoveDocument(ctx, "kb1", "d1")
	require.NoError(t, err)
	require.True(t, removed)

	next := "hash-64"
	ok, err := svc.UpdateKnowledgeBaseConfig("kb1", domain.KnowledgeBaseConfigPatch{EmbeddingModel: &next})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StateCreated, svc.State("kb1"))

	_, err = svc.AddDocument(ctx, "kb1", domain.Document{ID: "d2", Text: parisText}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateVectorized, svc.State("kb1"))
	index, _ := svc.entry("kb1").current()
	assert.Equal(t, "hash-64", index.Model().Name)
}

func TestUpdateConfigValidation(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	mustCreate(t, svc, "kb1")

	unknown := "missing-model"
	_, err := svc.UpdateKnowledgeBaseConfig("kb1", domain.KnowledgeBaseConfigPatch{EmbeddingModel: &unknown})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	size := 20
	ok, err := svc.UpdateKnowledgeBaseConfig("missing", domain.KnowledgeBaseConfigPatch{ChunkSize: &size})
	require.NoError(t, err)
	assert.False(t, ok)

	next := "hash-64"
	ok, err = svc.UpdateKnowledgeBaseConfig("kb1", domain.KnowledgeBaseConfigPatch{EmbeddingModel: &next})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StateCreated, svc.State("kb1"), "nothing indexed yet, so nothing is stale")
}

func TestDeleteKnowledgeBase(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")
	_, err := svc.AddDocument(ctx, "kb1", domain.Document{ID: "d1", Text: parisText}, nil)
	require.NoError(t, err)

	ok, err := svc.DeleteKnowledgeBase("kb1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StateDeleted, svc.State("kb1"))
	assert.Empty(t, svc.ListNamespaces())

	_, err = svc.SearchDocuments(ctx, "kb1", "capital", domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)

	ok, err = svc.DeleteKnowledgeBase("kb1")
	require.NoError(t, err)
	assert.False(t, ok)

	mustCreate(t, svc, "kb1")
	stats, err := svc.GetStats("kb1")
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{}, stats, "recreated namespace starts empty")
}

func TestConcurrentAddAndSearch(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	ctx := context.Background()
	mustCreate(t, svc, "kb1")
	mustCreate(t, svc, "kb2")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			ns := []string{"kb1", "kb2"}[i%2]
			_, err := svc.AddDocument(ctx, ns, domain.Document{
				ID:   fmt.Sprintf("doc%d", i),
				Text: fmt.Sprintf("Document %d talks about the capital of France and its museums.", i),
			}, nil)
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := svc.SearchDocuments(ctx, "kb1", "capital of France", domain.SearchOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s1, err := svc.GetStats("kb1")
	require.NoError(t, err)
	s2, err := svc.GetStats("kb2")
	require.NoError(t, err)
	assert.Equal(t, 5, s1.DocumentCount)
	assert.Equal(t, 5, s2.DocumentCount)
}

func TestListNamespacesSorted(t *testing.T) {
	svc := newTestService(t, serviceOpts{})
	for _, id := range []string{"b", "c", "a"} {
		mustCreate(t, svc, id)
	}
	var ids []string
	for _, ns := range svc.ListNamespaces() {
		ids = append(ids, ns.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
