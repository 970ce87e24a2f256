package pipeline

import (
	"context"
	"fmt"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
	"ragcompare/backend/go/pkg/logger"
	"ragcompare/backend/go/pkg/util"
)

// Retriever returns the chunks of an index closest to a query.
type Retriever struct {
	embedder    interfaces.EmbeddingModel
	vectorStore interfaces.VectorStore
	cache       *util.LRUCache[string, []float32] // query text -> vector, nil when disabled
	log         *logger.Logger
}

// NewRetriever creates a new Retriever. cacheSize > 0 keeps that many query vectors.
func NewRetriever(
	embedder interfaces.EmbeddingModel,
	vectorStore interfaces.VectorStore,
	cacheSize int,
	log *logger.Logger,
) (*Retriever, error) {
	r := &Retriever{embedder: embedder, vectorStore: vectorStore, log: log}
	if cacheSize > 0 {
		cache, err := util.NewWithConfig(util.CacheConfig[string, []float32]{Capacity: cacheSize})
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// Retrieve returns at most k chunks of index ranked by similarity to query, closest first.
// The result is deterministic for an unchanged index. k <= 0 yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query, index string, k int) ([]schema.ScoredChunk, error) {
	log := r.log.WithField("index", index)
	if k <= 0 {
		ok, err := r.vectorStore.Exists(ctx, index)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.New(apperr.KindIndexNotFound, "index %s not found", index)
		}
		return []schema.ScoredChunk{}, nil
	}

	vec, err := r.queryVector(ctx, query)
	if err != nil {
		log.Error(fmt.Sprintf("Failed to embed query: %v", err))
		return nil, err
	}

	hits, err := r.vectorStore.Query(ctx, index, vec, k)
	if err != nil {
		log.Error(fmt.Sprintf("Failed to query vector store: %v", err))
		return nil, err
	}
	log.Debug(fmt.Sprintf("Retrieved %d chunks (k=%d)", len(hits), k))
	return hits, nil
}

func (r *Retriever) queryVector(ctx context.Context, query string) ([]float32, error) {
	if r.cache != nil {
		if vec, ok := r.cache.Get(query); ok {
			return vec, nil
		}
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, embeddingErr(err, "embed query")
	}
	if len(vec) == 0 {
		return nil, apperr.New(apperr.KindEmbedding, "embedding model returned an empty query vector")
	}
	if r.cache != nil {
		r.cache.Put(query, vec, 1)
	}
	return vec, nil
}
