package chat

import (
	"context"
	"fmt"
	"sync"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/llm"
	"ragcompare/backend/go/internal/models"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/pipeline"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
	"ragcompare/backend/go/pkg/logger"
)

// Indexer embeds a document into a new index.
type Indexer interface {
	Embed(ctx context.Context, doc *schema.Document, indexName string) (*pipeline.IndexResult, error)
}

// IndexDropper removes indices a session no longer needs.
type IndexDropper interface {
	Drop(ctx context.Context, index string) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Indexer   Indexer
	Retriever Retriever
	Dropper   IndexDropper
	IDs       interfaces.IDGenerator
	Model     llm.LLM
	Options   Options // Index is set per upload
	Log       *logger.Logger
}

// Session is one user's conversation context: at most one embedded document and the
// engine answering about it. It replaces shared global UI state and is owned by
// the caller, created per session and closed when the session ends. Operations
// on a session are serialized.
type Session struct {
	ID            string
	Authenticated bool
	// Owner is the token subject that created the session, empty when auth is off.
	Owner string

	deps *Deps
	log  *logger.Logger

	mu       sync.Mutex
	engine   *Engine
	document *pipeline.IndexResult
	closed   bool
}

// NewSession creates a session without a document.
func NewSession(id string, authenticated bool, deps *Deps) *Session {
	return &Session{
		ID:            id,
		Authenticated: authenticated,
		deps:          deps,
		log:           deps.Log.WithRequest(models.RequestInfo{SessionID: id}),
	}
}

func (s *Session) gate() error {
	if !s.Authenticated {
		return apperr.New(apperr.KindUnauthenticated, "session %s is not authenticated", s.ID)
	}
	if s.closed {
		return apperr.New(apperr.KindNotInitialized, "session %s has ended", s.ID)
	}
	return nil
}

// Initialize embeds doc into a freshly named index and replaces the session's engine.
// The index of a previous upload is dropped after the new one is ready.
func (s *Session) Initialize(ctx context.Context, doc *schema.Document) (*Engine, *pipeline.IndexResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate(); err != nil {
		return nil, nil, err
	}

	index := s.deps.IDs.NewID()
	if doc.ID == "" {
		doc.ID = index
	}
	res, err := s.deps.Indexer.Embed(ctx, doc, index)
	if err != nil {
		return nil, nil, err
	}

	previous := s.engine
	opts := s.deps.Options
	opts.Index = res.Index
	opts.UseRetrieval = true
	s.engine = NewEngine(s.deps.Model, s.deps.Retriever, nil, opts, s.log.WithField("index", res.Index))
	s.document = res

	if previous != nil {
		s.dropIndex(ctx, previous.Index())
	}
	s.log.Info(fmt.Sprintf("Session initialized with index %s (%d chunks)", res.Index, res.Chunks))
	return s.engine, res, nil
}

// Engine returns the typed handle created by Initialize, if any.
func (s *Session) Engine() (*Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate() != nil || s.engine == nil {
		return nil, false
	}
	return s.engine, true
}

// Document describes the embedded document, if any.
func (s *Session) Document() (*pipeline.IndexResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document, s.document != nil
}

func (s *Session) requireEngine() (*Engine, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	if s.engine == nil {
		return nil, apperr.New(apperr.KindNotInitialized, "upload a document before asking questions")
	}
	return s.engine, nil
}

// Ask answers query with the session's engine.
func (s *Session) Ask(ctx context.Context, query string) (*Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.Ask(ctx, query)
}

// AskStream opens a streamed answer. The session lock is not held while the
// caller consumes the stream.
func (s *Session) AskStream(ctx context.Context, query string) (*AnswerStream, error) {
	s.mu.Lock()
	e, err := s.requireEngine()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.AskStream(ctx, query)
}

// History returns the conversation, oldest first. A session without a document has none.
func (s *Session) History() ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate(); err != nil {
		return nil, err
	}
	if s.engine == nil {
		return []models.Turn{}, nil
	}
	return s.engine.History(), nil
}

// Reset clears the conversation but keeps the embedded document.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate(); err != nil {
		return err
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	return nil
}

// Close drops the session's index. Further operations fail. Close is idempotent.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.engine != nil {
		s.dropIndex(ctx, s.engine.Index())
	}
	s.engine = nil
	s.document = nil
}

func (s *Session) dropIndex(ctx context.Context, index string) {
	if s.deps.Dropper == nil || index == "" {
		return
	}
	if err := s.deps.Dropper.Drop(context.WithoutCancel(ctx), index); err != nil {
		s.log.Warn(fmt.Sprintf("Failed to drop index %s: %v", index, err))
	}
}
