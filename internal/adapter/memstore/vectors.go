package memstore

import (
	"math"
	"sort"
	"sync"

	"kb/internal/domain"
)

// VectorStore holds the chunks and vectors of one namespace. All vectors
// share one dimension. Reads share the lock; writes are exclusive so a
// document's chunk set appears or disappears as a unit.
type VectorStore struct {
	mu        sync.RWMutex
	namespace string
	dimension int
	records   map[string]record
	order     []string // chunk ids in insertion order
	docChunks map[string][]string
}

// record is a stored vector plus the chunk text it was built from.
type record struct {
	domain.VectorRecord
	content string
}

func (r record) chunk() domain.DocumentChunk {
	return domain.DocumentChunk{
		ID:         r.ChunkID,
		DocumentID: r.DocumentID,
		Content:    r.content,
		Metadata:   r.Metadata,
		Embedding:  r.Vector,
	}
}

func NewVectorStore(namespace string, dimension int) *VectorStore {
	return &VectorStore{
		namespace: namespace,
		dimension: dimension,
		records:   make(map[string]record),
		docChunks: make(map[string][]string),
	}
}

// Dimension returns the vector length every record must have.
func (s *VectorStore) Dimension() int {
	return s.dimension
}

// Replace stores chunks as the complete chunk set of documentID, dropping
// whatever the document had before. Every chunk must carry an embedding of
// the store's dimension; otherwise nothing changes.
func (s *VectorStore) Replace(documentID string, chunks []domain.DocumentChunk) error {
	const op = "index chunks"
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return domain.StorageError(op, nil, "chunk %s has dimension %d, index expects %d", c.ID, len(c.Embedding), s.dimension).
				WithDetail("document", documentID)
		}
		if c.DocumentID != documentID {
			return domain.StorageError(op, nil, "chunk %s belongs to document %q, not %q", c.ID, c.DocumentID, documentID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(documentID)
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		s.records[c.ID] = record{
			VectorRecord: domain.VectorRecord{
				ChunkID:     c.ID,
				DocumentID:  c.DocumentID,
				NamespaceID: s.namespace,
				Vector:      c.Embedding,
				Metadata:    c.Metadata,
			},
			content: c.Content,
		}
		s.order = append(s.order, c.ID)
		ids = append(ids, c.ID)
	}
	s.docChunks[documentID] = ids
	return nil
}

// Remove deletes every chunk of documentID and reports whether any existed.
func (s *VectorStore) Remove(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(documentID)
}

func (s *VectorStore) removeLocked(documentID string) bool {
	ids, ok := s.docChunks[documentID]
	if !ok {
		return false
	}
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		delete(s.records, id)
		gone[id] = struct{}{}
	}
	delete(s.docChunks, documentID)

	kept := s.order[:0]
	for _, id := range s.order {
		if _, drop := gone[id]; !drop {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return true
}

// Search scores every stored vector against query by cosine similarity,
// keeps scores >= threshold whose metadata matches filters, and returns at
// most topK results by descending score. Equal scores keep insertion order.
func (s *VectorStore) Search(query []float32, topK int, threshold float64, filters map[string]any) ([]domain.RetrievalResult, error) {
	if len(query) != s.dimension {
		return nil, domain.StorageError("search index", nil, "query has dimension %d, index expects %d", len(query), s.dimension).
			WithDetail("expected", s.dimension).
			WithDetail("actual", len(query))
	}
	if topK <= 0 {
		return []domain.RetrievalResult{}, nil
	}

	s.mu.RLock()
	results := make([]domain.RetrievalResult, 0)
	for _, id := range s.order {
		r := s.records[id]
		score := CosineSimilarity(query, r.Vector)
		if score < threshold {
			continue
		}
		c := r.chunk()
		if len(filters) > 0 && !c.MatchesFilters(filters) {
			continue
		}
		results = append(results, domain.RetrievalResult{Chunk: c, Score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Stats counts distinct documents and chunks.
func (s *VectorStore) Stats() domain.IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexStats{DocumentCount: len(s.docChunks), ChunkCount: len(s.order)}
}

// Chunks returns a snapshot of every chunk in insertion order.
func (s *VectorStore) Chunks() []domain.DocumentChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DocumentChunk, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].chunk())
	}
	return out
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|), or 0 if either vector is
// zero. a and b must have the same length.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
