package domain

import "time"

// Pooling selects how token-level embeddings collapse into one vector.
type Pooling string

const (
	PoolingNone Pooling = "none"
	PoolingMean Pooling = "mean"
	PoolingCLS  Pooling = "cls"
)

// EmbeddingModel describes the vectors a model produces.
type EmbeddingModel struct {
	Name      string  `json:"name" yaml:"name" validate:"required"`
	Dimension int     `json:"dimension" yaml:"dimension" validate:"gt=0"`
	MaxTokens int     `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	Pooling   Pooling `json:"pooling" yaml:"pooling" validate:"omitempty,oneof=none mean cls"`
	Normalize bool    `json:"normalize" yaml:"normalize"`
}

// KnowledgeBaseConfig holds the per-namespace chunking and retrieval settings.
type KnowledgeBaseConfig struct {
	ChunkSize           int     `json:"chunk_size" yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap        int     `json:"chunk_overlap" yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	EmbeddingModel      string  `json:"embedding_model" yaml:"embedding_model" validate:"required"`
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" validate:"gte=-1,lte=1"`
	MaxResults          int     `json:"max_results" yaml:"max_results" validate:"gt=0"`
}

// KnowledgeBaseConfigPatch is a partial update; nil fields are left alone.
type KnowledgeBaseConfigPatch struct {
	ChunkSize           *int
	ChunkOverlap        *int
	EmbeddingModel      *string
	SimilarityThreshold *float64
	MaxResults          *int
}

// Apply returns cfg with the non-nil fields of p applied.
func (p KnowledgeBaseConfigPatch) Apply(cfg KnowledgeBaseConfig) KnowledgeBaseConfig {
	if p.ChunkSize != nil {
		cfg.ChunkSize = *p.ChunkSize
	}
	if p.ChunkOverlap != nil {
		cfg.ChunkOverlap = *p.ChunkOverlap
	}
	if p.EmbeddingModel != nil {
		cfg.EmbeddingModel = *p.EmbeddingModel
	}
	if p.SimilarityThreshold != nil {
		cfg.SimilarityThreshold = *p.SimilarityThreshold
	}
	if p.MaxResults != nil {
		cfg.MaxResults = *p.MaxResults
	}
	return cfg
}

// Namespace is an isolated knowledge base.
type Namespace struct {
	ID          string              `json:"id" validate:"nsid"`
	Name        string              `json:"name,omitempty"`
	Description string              `json:"description,omitempty"`
	Config      KnowledgeBaseConfig `json:"config"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// NamespaceState tracks where a namespace is in its lifecycle.
type NamespaceState string

const (
	StateUninitialized NamespaceState = "uninitialized"
	StateCreated       NamespaceState = "created"
	StateVectorized    NamespaceState = "vectorized"
	StateStale         NamespaceState = "stale"
	StateDeleted       NamespaceState = "deleted"
)

// Document is the caller's input to ingestion. Either Text or Path is set;
// Path is resolved through a DocumentTextProvider.
type Document struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Path     string         `json:"path,omitempty"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChunkingOptions overrides the namespace chunk settings for one document.
type ChunkingOptions struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// DocumentChunk is an immutable slice of a document's text.
type DocumentChunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Content    string        `json:"content"`
	Metadata   ChunkMetadata `json:"metadata"`
	Embedding  []float32     `json:"embedding,omitempty"`
}

// VectorRecord is a stored vector and the chunk it belongs to.
type VectorRecord struct {
	ChunkID     string
	DocumentID  string
	NamespaceID string
	Vector      []float32
	Metadata    ChunkMetadata
}

// HighlightMatch is a span of chunk content that matched a query term.
type HighlightMatch struct {
	Text       string  `json:"text"`
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
	Score      float64 `json:"score"`
}

// RetrievalResult is one ranked search hit.
type RetrievalResult struct {
	Chunk      DocumentChunk    `json:"chunk"`
	Score      float64          `json:"score"`
	Highlights []HighlightMatch `json:"highlights,omitempty"`
}

// SearchOptions tunes a single search. Nil/zero values fall back to the
// namespace configuration.
type SearchOptions struct {
	TopK                int
	SimilarityThreshold *float64
	IncludeMetadata     bool
	HighlightMatches    bool
	Filters             map[string]any
}

// AddDocumentResult reports the outcome of ingesting one document.
type AddDocumentResult struct {
	Success       bool   `json:"success"`
	DocumentID    string `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
	Error         string `json:"error,omitempty"`
}

// BatchProcessResult aggregates the results of AddDocuments.
type BatchProcessResult struct {
	TotalDocuments int                 `json:"total_documents"`
	SuccessCount   int                 `json:"success_count"`
	FailureCount   int                 `json:"failure_count"`
	Results        []AddDocumentResult `json:"results"`
}

// IndexStats summarises a namespace's index.
type IndexStats struct {
	DocumentCount int `json:"document_count"`
	ChunkCount    int `json:"chunk_count"`
}
