package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/config"
	"ragcompare/backend/go/internal/embedding"
	"ragcompare/backend/go/internal/llm"
	"ragcompare/backend/go/internal/models"
	"ragcompare/backend/go/internal/rag_service/comparison"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
	"ragcompare/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragcompare/backend/go/pkg/logger"
)

const manual = "The warranty covers parts and labour for two years.\fReturns are accepted within thirty days of delivery."

// cannedLLM answers every prompt with the same text.
type cannedLLM struct{ answer string }

func (m cannedLLM) Generate(context.Context, string) (string, error) { return m.answer, nil }

func (m cannedLLM) Stream(context.Context, string) (llm.Stream, error) {
	return &sliceStream{frags: []string{m.answer[:1], m.answer[1:]}}, nil
}

type sliceStream struct {
	frags []string
	i     int
}

func (s *sliceStream) Recv() (string, error) {
	if s.i == len(s.frags) {
		return "", io.EOF
	}
	s.i++
	return s.frags[s.i-1], nil
}

func (s *sliceStream) Close() error { return nil }

func newTestService(t *testing.T, mutate func(cfg *config.AppConfig)) (*Service, *vectorstore.MemoryStore) {
	t.Helper()
	cfg := config.Default()
	cfg.App.Topic = "the manual"
	cfg.Index.VectorStore = "memory"
	cfg.Index.IDStrategy = "uuidv7"
	cfg.Chunking = config.ChunkingConfig{ChunkSize: 40, ChunkOverlap: 5}
	if mutate != nil {
		mutate(cfg)
	}

	emb, err := embedding.NewHashingModel(64)
	require.NoError(t, err)
	store := vectorstore.NewMemoryStore()
	components := &Components{
		Store:    store,
		Embedder: emb,
		Model:    cannedLLM{answer: "primary"},
		ModelFactory: func(mc models.ModelConfig) (llm.LLM, error) {
			return cannedLLM{answer: mc.Name}, nil
		},
		Checks: map[string]Check{"store": func(context.Context) error { return nil }},
	}
	svc, err := New(cfg, components, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, store
}

func upload(t *testing.T, svc *Service, id string) string {
	t.Helper()
	res, err := svc.Upload(context.Background(), id, "manual.txt", []byte(manual), schema.ContentTypeText)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Positive(t, res.Chunks)
	return res.Index
}

func TestCreateSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	info := svc.CreateSession(true, "")
	assert.NotEmpty(t, info.ID)
	assert.True(t, info.Authenticated)
	assert.Equal(t, "Hello ! Ask me anything about the manual", info.Greeting)
	assert.Nil(t, info.Document)

	got, err := svc.Session(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, 1, svc.SessionCount())
}

func TestAuthorizeOwner(t *testing.T) {
	svc, _ := newTestService(t, nil)
	owned := svc.CreateSession(true, "42").ID
	open := svc.CreateSession(true, "").ID

	assert.NoError(t, svc.Authorize(owned, "42"))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(svc.Authorize(owned, "")))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(svc.Authorize(owned, "7")))
	assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(svc.Authorize(owned, "7")))

	assert.NoError(t, svc.Authorize(open, ""))
	assert.NoError(t, svc.Authorize(open, "anyone"))
	assert.Equal(t, apperr.KindSessionNotFound, apperr.KindOf(svc.Authorize("missing", "42")))
}

func TestUnknownSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Ask(context.Background(), "missing", "hello?")
	require.Error(t, err)
	assert.Equal(t, apperr.KindSessionNotFound, apperr.KindOf(err))
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))

	assert.Equal(t, apperr.KindSessionNotFound, apperr.KindOf(svc.EndSession("missing")))
}

func TestUploadThenAsk(t *testing.T) {
	svc, _ := newTestService(t, nil)
	id := svc.CreateSession(true, "").ID

	_, err := svc.Ask(context.Background(), id, "how long is the warranty?")
	assert.Equal(t, apperr.KindNotInitialized, apperr.KindOf(err))

	index := upload(t, svc, id)
	info, err := svc.Session(id)
	require.NoError(t, err)
	require.NotNil(t, info.Document)
	assert.Equal(t, index, info.Document.Index)

	ans, err := svc.Ask(context.Background(), id, "how long is the warranty?")
	require.NoError(t, err)
	assert.Equal(t, "primary", ans.Text)
	assert.NotEmpty(t, ans.Sources)

	stream, err := svc.AskStream(context.Background(), id, "and returns?")
	require.NoError(t, err)
	var text string
	for frag, err := range stream.All() {
		require.NoError(t, err)
		text += frag
	}
	assert.Equal(t, "primary", text)

	history, err := svc.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	require.NoError(t, svc.Reset(id))
	history, err = svc.History(id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUploadTooLarge(t *testing.T) {
	svc, _ := newTestService(t, func(cfg *config.AppConfig) { cfg.Server.MaxUploadBytes = 8 })
	id := svc.CreateSession(true, "").ID
	_, err := svc.Upload(context.Background(), id, "manual.txt", []byte(manual), schema.ContentTypeText)
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
}

func TestSessionRequiresAuthentication(t *testing.T) {
	svc, _ := newTestService(t, nil)
	id := svc.CreateSession(false, "").ID
	_, err := svc.Compare(context.Background(), id, "hi", nil)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	_, err = svc.Upload(context.Background(), id, "manual.txt", []byte(manual), schema.ContentTypeText)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	_, err = svc.Ask(context.Background(), id, "hi")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestCompareLive(t *testing.T) {
	svc, _ := newTestService(t, nil)
	id := svc.CreateSession(true, "").ID

	// Without a document only the plain configurations can answer.
	results, err := svc.Compare(context.Background(), id, "what is covered?", nil)
	require.NoError(t, err)
	require.Len(t, results, len(comparison.DefaultConfigs))
	for _, mc := range comparison.DefaultConfigs {
		res := results[mc.Name]
		if mc.UsesRAG {
			assert.Equal(t, string(apperr.KindNotInitialized), res.ErrorKind, mc.Name)
			continue
		}
		assert.Equal(t, mc.Name, res.Answer)
	}

	upload(t, svc, id)
	results, err = svc.Compare(context.Background(), id, "what is covered?", []string{"Base Model + RAG", "Base Model"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for name, res := range results {
		assert.True(t, res.OK(), name)
		assert.Equal(t, name, res.Answer)
	}

	_, err = svc.Compare(context.Background(), id, "q", []string{"GPT-9"})
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
}

func TestCompareSimulated(t *testing.T) {
	svc, _ := newTestService(t, func(cfg *config.AppConfig) { cfg.Comparison.Mode = comparison.ModeSimulated })
	id := svc.CreateSession(true, "").ID

	results, err := svc.Compare(context.Background(), id, "q", nil)
	require.NoError(t, err)
	for name, res := range results {
		assert.Equal(t, string(apperr.KindNotInitialized), res.ErrorKind, name)
	}

	upload(t, svc, id)
	results, err = svc.Compare(context.Background(), id, "what is covered?", nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for name, res := range results {
		assert.Equal(t, "primary", res.Answer, name)
		assert.Len(t, res.Conversation, 2, name)
	}
}

func TestEndSessionDropsIndex(t *testing.T) {
	svc, store := newTestService(t, nil)
	id := svc.CreateSession(true, "").ID
	index := upload(t, svc, id)

	require.NoError(t, svc.EndSession(id))
	ok, err := store.Exists(context.Background(), index)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Session(id)
	assert.Equal(t, apperr.KindSessionNotFound, apperr.KindOf(err))
}

func TestEvictedSessionDropsIndex(t *testing.T) {
	svc, store := newTestService(t, func(cfg *config.AppConfig) { cfg.Server.MaxSessions = 1 })
	first := svc.CreateSession(true, "").ID
	index := upload(t, svc, first)

	second := svc.CreateSession(true, "").ID
	assert.Equal(t, 1, svc.SessionCount())
	_, err := svc.Session(second)
	require.NoError(t, err)
	_, err = svc.Session(first)
	assert.Equal(t, apperr.KindSessionNotFound, apperr.KindOf(err))

	ok, err := store.Exists(context.Background(), index)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunStopsWithContext(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHealth(t *testing.T) {
	svc, _ := newTestService(t, nil)
	status, ok := svc.Health(context.Background())
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"store": "ok"}, status)

	svc.components.Checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	status, ok = svc.Health(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "connection refused", status["redis"])
}

func TestNewComponentsInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Index.VectorStore = "memory"
	cfg.Embedding = config.EmbeddingConfig{Provider: "hashing", Dimension: 32}
	cfg.InferenceServer.Type = "ollama"
	cfg.InferenceServer.URL = "http://127.0.0.1:11434"

	c, err := NewComponents(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &vectorstore.MemoryStore{}, c.Store)
	assert.NotNil(t, c.Embedder)
	assert.NotNil(t, c.Model)
	assert.Empty(t, c.Checks)
	assert.NoError(t, c.Close())
}

func TestNewComponentsRejectsBadEmbedding(t *testing.T) {
	cfg := config.Default()
	cfg.Index.VectorStore = "memory"
	cfg.Embedding = config.EmbeddingConfig{Provider: "carrier-pigeon"}
	_, err := NewComponents(context.Background(), cfg, logger.Discard())
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
}
