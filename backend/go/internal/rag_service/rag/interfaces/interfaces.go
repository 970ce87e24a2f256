package interfaces

import (
	"context"

	"ragcompare/backend/go/internal/rag_service/rag/schema"
)

// Loader extracts the page texts of an uploaded document.
type Loader interface {
	Load(ctx context.Context, doc *schema.Document) ([]schema.Page, error)
}

// Splitter cuts loaded pages into chunks. The same pages always yield the same chunks.
type Splitter interface {
	Split(ctx context.Context, doc *schema.Document, pages []schema.Page) ([]*schema.Chunk, error)
}

// VectorStore is the interface for storing and querying chunk vectors.
type VectorStore interface {
	// CreateIndex creates an empty index described by s.
	CreateIndex(ctx context.Context, s schema.IndexSchema) error
	// Upsert writes chunks, which must carry embeddings, into an existing index.
	Upsert(ctx context.Context, index string, chunks []*schema.Chunk) error
	// Query returns at most k chunks ordered by similarity to vec, closest first.
	Query(ctx context.Context, index string, vec []float32, k int) ([]schema.ScoredChunk, error)
	// Exists reports whether the index has been created.
	Exists(ctx context.Context, index string) (bool, error)
	// Drop removes the index and its chunks.
	Drop(ctx context.Context, index string) error
}

// EmbeddingModel is the interface for a text embedding model.
type EmbeddingModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IDGenerator produces time-ordered, collision-resistant index names.
type IDGenerator interface {
	NewID() string
}
