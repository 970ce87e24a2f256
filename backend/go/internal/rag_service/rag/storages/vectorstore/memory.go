package vectorstore

import (
	"context"
	"sort"
	"sync"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
)

type memoryIndex struct {
	schema schema.IndexSchema
	chunks []*schema.Chunk
	byID   map[string]int
}

// MemoryStore is a thread-safe, brute-force cosine implementation of the VectorStore interface.
type MemoryStore struct {
	mu      sync.RWMutex
	indices map[string]*memoryIndex
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indices: make(map[string]*memoryIndex)}
}

// CreateIndex registers an empty index. Creating an existing index is an input error.
func (s *MemoryStore) CreateIndex(ctx context.Context, sc schema.IndexSchema) error {
	if sc.Dimension <= 0 {
		return apperr.New(apperr.KindInput, "index %s: dimension must be positive", sc.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[sc.Name]; ok {
		return apperr.New(apperr.KindInput, "index %s already exists", sc.Name)
	}
	s.indices[sc.Name] = &memoryIndex{schema: sc, byID: make(map[string]int)}
	return nil
}

// Upsert adds chunks to the index, replacing chunks with the same ID.
func (s *MemoryStore) Upsert(ctx context.Context, index string, chunks []*schema.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[index]
	if !ok {
		return apperr.New(apperr.KindIndexNotFound, "index %s not found", index)
	}
	for _, c := range chunks {
		if len(c.Embedding) != idx.schema.Dimension {
			return apperr.New(apperr.KindEmbedding, "chunk %s has dimension %d, index %s expects %d",
				c.ID, len(c.Embedding), index, idx.schema.Dimension)
		}
	}
	for _, c := range chunks {
		stored := *c
		stored.IndexName = index
		stored.Embedding = append([]float32(nil), c.Embedding...)
		if i, ok := idx.byID[c.ID]; ok {
			idx.chunks[i] = &stored
			continue
		}
		idx.byID[c.ID] = len(idx.chunks)
		idx.chunks = append(idx.chunks, &stored)
	}
	return nil
}

// Query ranks every chunk of the index by cosine similarity. Ties keep ordinal order.
func (s *MemoryStore) Query(ctx context.Context, index string, vec []float32, k int) ([]schema.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[index]
	if !ok {
		return nil, apperr.New(apperr.KindIndexNotFound, "index %s not found", index)
	}
	if len(vec) != idx.schema.Dimension {
		return nil, apperr.New(apperr.KindRetrieval, "query has dimension %d, index %s expects %d",
			len(vec), index, idx.schema.Dimension)
	}
	if k <= 0 {
		return []schema.ScoredChunk{}, nil
	}

	hits := make([]schema.ScoredChunk, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		hit := schema.ScoredChunk{Chunk: *c, Score: cosine(vec, c.Embedding)}
		hit.Embedding = nil
		hits = append(hits, hit)
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Exists reports whether the index has been created.
func (s *MemoryStore) Exists(ctx context.Context, index string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indices[index]
	return ok, nil
}

// Drop removes the index. Dropping an unknown index is a no-op.
func (s *MemoryStore) Drop(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indices, index)
	return nil
}

// Schema returns the schema the index was created with.
func (s *MemoryStore) Schema(index string) (schema.IndexSchema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[index]
	if !ok {
		return schema.IndexSchema{}, false
	}
	return idx.schema, true
}

// sortHits orders by score descending, then ordinal ascending.
func sortHits(hits []schema.ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
}

// compile-time check to ensure MemoryStore implements the VectorStore interface
var _ interfaces.VectorStore = (*MemoryStore)(nil)
