package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/embedding"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/loaders"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
	"ragcompare/backend/go/pkg/logger"
)

const (
	// upsertBatch is the number of chunks written per store call.
	upsertBatch = 64
	// upsertWorkers bounds concurrent store writes for one document.
	upsertWorkers = 4
)

// IndexResult summarizes a finished indexing run.
type IndexResult struct {
	Index     string `json:"index"`
	Chunks    int    `json:"chunks"`
	Pages     int    `json:"pages"`
	Dimension int    `json:"dimension"`
}

// IndexingPipeline orchestrates the process of loading, splitting, embedding, and storing a document.
type IndexingPipeline struct {
	splitter    interfaces.Splitter
	embedder    interfaces.EmbeddingModel
	vectorStore interfaces.VectorStore
	batchSize   int
	log         *logger.Logger
}

// NewIndexingPipeline creates a new IndexingPipeline. batchSize bounds the texts per embedding call.
func NewIndexingPipeline(
	splitter interfaces.Splitter,
	embedder interfaces.EmbeddingModel,
	vectorStore interfaces.VectorStore,
	batchSize int,
	log *logger.Logger,
) *IndexingPipeline {
	return &IndexingPipeline{
		splitter:    splitter,
		embedder:    embedder,
		vectorStore: vectorStore,
		batchSize:   batchSize,
		log:         log,
	}
}

// Embed writes doc into a new index named indexName. The index must not exist yet;
// indices are never updated in place. On a failed write the partial index is dropped.
func (p *IndexingPipeline) Embed(ctx context.Context, doc *schema.Document, indexName string) (*IndexResult, error) {
	if indexName == "" {
		return nil, apperr.New(apperr.KindInput, "index name must not be empty")
	}
	log := p.log.WithField("index", indexName)
	log.Info(fmt.Sprintf("Starting indexing for document %s (%s)", doc.Name, doc.ContentType))

	// 1. Load the pages
	pages, err := loaders.Load(ctx, doc)
	if err != nil {
		log.Warn(fmt.Sprintf("Failed to load document: %v", err))
		return nil, err
	}

	// 2. Split pages into chunks
	chunks, err := p.splitter.Split(ctx, doc, pages)
	if err != nil {
		log.Error(fmt.Sprintf("Failed to split document: %v", err))
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.KindInput, "document has no extractable text")
	}
	for _, c := range chunks {
		c.IndexName = indexName
		c.ID = schema.ChunkID(indexName, c.Ordinal)
	}
	log.Info(fmt.Sprintf("Split %d pages into %d chunks", len(pages), len(chunks)))

	// 3. Embed the chunks
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedding.Batched(ctx, p.embedder, texts, p.batchSize)
	if err != nil {
		log.Error(fmt.Sprintf("Failed to embed chunks: %v", err))
		return nil, embeddingErr(err, "embed %d chunks", len(chunks))
	}
	dim, err := checkVectors(vectors, len(chunks))
	if err != nil {
		return nil, err
	}
	for i, c := range chunks {
		c.Embedding = vectors[i]
	}

	// 4. Create the index
	exists, err := p.vectorStore.Exists(ctx, indexName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(apperr.KindInput, "index %s already exists", indexName)
	}
	if err := p.vectorStore.CreateIndex(ctx, schema.IndexSchema{
		Name:      indexName,
		Dimension: dim,
		Metric:    schema.MetricCosine,
	}); err != nil {
		log.Error(fmt.Sprintf("Failed to create index: %v", err))
		return nil, err
	}

	// 5. Store the chunks concurrently
	if err := p.store(ctx, indexName, chunks); err != nil {
		log.Error(fmt.Sprintf("Failed to store chunks: %v", err))
		if dropErr := p.vectorStore.Drop(context.WithoutCancel(ctx), indexName); dropErr != nil {
			log.Warn(fmt.Sprintf("Failed to drop partial index: %v", dropErr))
		}
		return nil, err
	}

	log.Info(fmt.Sprintf("Successfully indexed %d chunks (dim=%d)", len(chunks), dim))
	return &IndexResult{Index: indexName, Chunks: len(chunks), Pages: len(pages), Dimension: dim}, nil
}

func (p *IndexingPipeline) store(ctx context.Context, index string, chunks []*schema.Chunk) error {
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(upsertWorkers)
	for start := 0; start < len(chunks); start += upsertBatch {
		batch := chunks[start:min(start+upsertBatch, len(chunks))]
		eg.Go(func() error {
			return p.vectorStore.Upsert(gCtx, index, batch)
		})
	}
	return eg.Wait()
}

// checkVectors verifies one non-empty vector per chunk, all of the same dimension.
func checkVectors(vectors [][]float32, want int) (int, error) {
	if len(vectors) != want {
		return 0, apperr.New(apperr.KindEmbedding, "embedding model returned %d vectors for %d chunks", len(vectors), want)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, apperr.New(apperr.KindEmbedding, "embedding model returned empty vectors")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, apperr.New(apperr.KindEmbedding, "vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return dim, nil
}

// embeddingErr classifies an embedding failure unless it is a cancellation or already classified.
func embeddingErr(err error, format string, args ...any) error {
	if errors.Is(err, context.Canceled) || apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Wrap(apperr.KindEmbedding, err, format, args...)
}
