package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/embedding"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
	"ragcompare/backend/go/internal/rag_service/rag/splitters"
	"ragcompare/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragcompare/backend/go/pkg/logger"
)

const sampleText = "Redis stores the chunk vectors in hashes.\n" +
	"The retriever embeds the question and runs a nearest neighbour search.\n" +
	"Each answer is assembled from the closest passages and the recent dialogue.\f" +
	"Page two covers the comparison runner which fans out one query.\n" +
	"Every configured model answers independently and failures stay in their own slot."

type countingEmbedder struct {
	inner interfaces.EmbeddingModel
	calls atomic.Int32
	fail  error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.inner.EmbedBatch(ctx, texts)
}

type fixture struct {
	store    *vectorstore.MemoryStore
	embedder *countingEmbedder
	indexer  *IndexingPipeline
	retr     *Retriever
}

func newFixture(t *testing.T, chunkSize, overlap int) *fixture {
	t.Helper()
	hashing, err := embedding.NewHashingModel(256)
	require.NoError(t, err)
	splitter, err := splitters.NewFixedSizeSplitter(chunkSize, overlap)
	require.NoError(t, err)

	f := &fixture{store: vectorstore.NewMemoryStore(), embedder: &countingEmbedder{inner: hashing}}
	f.indexer = NewIndexingPipeline(splitter, f.embedder, f.store, 4, logger.Discard())
	f.retr, err = NewRetriever(f.embedder, f.store, 16, logger.Discard())
	require.NoError(t, err)
	return f
}

func textDoc(text string) *schema.Document {
	return &schema.Document{ID: "doc-1", Name: "sample.txt", Data: []byte(text), ContentType: "text/plain"}
}

func TestEmbedThenSelfRetrieval(t *testing.T) {
	f := newFixture(t, 80, 10)
	ctx := context.Background()

	res, err := f.indexer.Embed(ctx, textDoc(sampleText), "idx-1")
	require.NoError(t, err)
	assert.Equal(t, "idx-1", res.Index)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 256, res.Dimension)
	require.Greater(t, res.Chunks, 2)

	all, err := f.retr.Retrieve(ctx, "anything", "idx-1", res.Chunks)
	require.NoError(t, err)
	require.Len(t, all, res.Chunks)

	for _, c := range all {
		hits, err := f.retr.Retrieve(ctx, c.Text, "idx-1", 3)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, c.ID, hits[0].ID, "query %q", c.Text)
		assert.Equal(t, fmt.Sprintf("idx-1:%d", hits[0].Ordinal), hits[0].ID)
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	f := newFixture(t, 60, 20)
	ctx := context.Background()
	_, err := f.indexer.Embed(ctx, textDoc(sampleText), "idx")
	require.NoError(t, err)

	first, err := f.retr.Retrieve(ctx, "who answers the question", "idx", 4)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.retr.Retrieve(ctx, "who answers the question", "idx", 4)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieveEdgeCases(t *testing.T) {
	f := newFixture(t, 100, 10)
	ctx := context.Background()
	_, err := f.indexer.Embed(ctx, textDoc(sampleText), "idx")
	require.NoError(t, err)

	hits, err := f.retr.Retrieve(ctx, "redis", "idx", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = f.retr.Retrieve(ctx, "redis", "missing", 3)
	assert.True(t, errors.Is(err, apperr.ErrIndexNotFound))
	_, err = f.retr.Retrieve(ctx, "redis", "missing", 0)
	assert.True(t, errors.Is(err, apperr.ErrIndexNotFound))

	hits, err = f.retr.Retrieve(ctx, "redis", "idx", 1000)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hits), 1000)
}

func TestRetrieverCachesQueryVectors(t *testing.T) {
	f := newFixture(t, 100, 10)
	ctx := context.Background()
	_, err := f.indexer.Embed(ctx, textDoc(sampleText), "idx")
	require.NoError(t, err)

	before := f.embedder.calls.Load()
	for i := 0; i < 3; i++ {
		_, err := f.retr.Retrieve(ctx, "same question", "idx", 2)
		require.NoError(t, err)
	}
	assert.Equal(t, before+1, f.embedder.calls.Load())
}

func TestEmbedRejectsExistingIndex(t *testing.T) {
	f := newFixture(t, 100, 10)
	ctx := context.Background()
	_, err := f.indexer.Embed(ctx, textDoc(sampleText), "idx")
	require.NoError(t, err)

	_, err = f.indexer.Embed(ctx, textDoc("other text"), "idx")
	assert.True(t, errors.Is(err, apperr.ErrInput), "%v", err)
}

func TestEmbedInputErrors(t *testing.T) {
	f := newFixture(t, 100, 10)
	ctx := context.Background()

	_, err := f.indexer.Embed(ctx, textDoc(""), "a")
	assert.True(t, errors.Is(err, apperr.ErrInput))

	_, err = f.indexer.Embed(ctx, &schema.Document{Data: []byte("x"), ContentType: "image/png"}, "b")
	assert.True(t, errors.Is(err, apperr.ErrInput))

	_, err = f.indexer.Embed(ctx, textDoc("text"), "")
	assert.True(t, errors.Is(err, apperr.ErrInput))

	ok, _ := f.store.Exists(ctx, "a")
	assert.False(t, ok)
}

func TestEmbedSkipsPunctuationOnlyPages(t *testing.T) {
	f := newFixture(t, 80, 10)
	ctx := context.Background()

	_, err := f.indexer.Embed(ctx, textDoc("* * *\n---\n..."), "punct")
	assert.True(t, errors.Is(err, apperr.ErrInput))

	text := "Redis stores the chunk vectors in hashes.\f* * * --- * * *\fThe comparison runner fans out one query."
	res, err := f.indexer.Embed(ctx, textDoc(text), "mixed")
	require.NoError(t, err)
	require.Equal(t, 2, res.Chunks)

	all, err := f.retr.Retrieve(ctx, "anything", "mixed", res.Chunks)
	require.NoError(t, err)
	for _, c := range all {
		assert.NotEqual(t, "* * * --- * * *", c.Text)
		hits, err := f.retr.Retrieve(ctx, c.Text, "mixed", 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, c.ID, hits[0].ID)
	}
}

func TestEmbedModelUnreachable(t *testing.T) {
	f := newFixture(t, 100, 10)
	f.embedder.fail = errors.New("dial tcp: connection refused")

	_, err := f.indexer.Embed(context.Background(), textDoc(sampleText), "idx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
	assert.Contains(t, err.Error(), "connection refused")

	ok, _ := f.store.Exists(context.Background(), "idx")
	assert.False(t, ok, "no index is created when embedding fails")
}

type failingUpsertStore struct {
	*vectorstore.MemoryStore
	dropped []string
}

func (s *failingUpsertStore) Upsert(context.Context, string, []*schema.Chunk) error {
	return apperr.New(apperr.KindRetrieval, "connection reset")
}

func (s *failingUpsertStore) Drop(ctx context.Context, index string) error {
	s.dropped = append(s.dropped, index)
	return s.MemoryStore.Drop(ctx, index)
}

func TestEmbedDropsPartialIndex(t *testing.T) {
	hashing, err := embedding.NewHashingModel(32)
	require.NoError(t, err)
	splitter, err := splitters.NewFixedSizeSplitter(50, 5)
	require.NoError(t, err)
	store := &failingUpsertStore{MemoryStore: vectorstore.NewMemoryStore()}
	p := NewIndexingPipeline(splitter, hashing, store, 0, logger.Discard())

	_, err = p.Embed(context.Background(), textDoc(strings.Repeat("word ", 100)), "idx")
	assert.True(t, errors.Is(err, apperr.ErrRetrieval))
	assert.Equal(t, []string{"idx"}, store.dropped)
}

func TestCheckVectors(t *testing.T) {
	_, err := checkVectors([][]float32{{1}}, 2)
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
	_, err = checkVectors([][]float32{{}}, 1)
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
	_, err = checkVectors([][]float32{{1, 2}, {1}}, 2)
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
	dim, err := checkVectors([][]float32{{1, 2}, {3, 4}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, dim)
}
