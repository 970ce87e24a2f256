package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/config"
	"ragcompare/backend/go/internal/llm"
	"ragcompare/backend/go/internal/models"
	"ragcompare/backend/go/internal/rag_service/chat"
	"ragcompare/backend/go/internal/rag_service/comparison"
	"ragcompare/backend/go/internal/rag_service/rag/idgen"
	"ragcompare/backend/go/internal/rag_service/rag/pipeline"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
	"ragcompare/backend/go/internal/rag_service/rag/splitters"
	"ragcompare/backend/go/pkg/logger"
	"ragcompare/backend/go/pkg/util"
)

// ModelFactory creates the language model client for one comparison configuration.
type ModelFactory func(cfg models.ModelConfig) (llm.LLM, error)

// SessionInfo is the public view of a session.
type SessionInfo struct {
	ID            string                `json:"session_id"`
	Authenticated bool                  `json:"authenticated"`
	Greeting      string                `json:"greeting"`
	Document      *pipeline.IndexResult `json:"document,omitempty"`
}

type sessionEntry struct {
	session *chat.Session
	engines *comparison.EngineSet
}

// Service holds the live sessions and the collaborators they share.
type Service struct {
	cfg        *config.AppConfig
	components *Components
	deps       *chat.Deps
	registry   *comparison.Registry
	newModel   ModelFactory
	sessions   *util.LRUCache[string, *sessionEntry]
	log        *logger.Logger
}

// New assembles the pipeline over components. Sessions beyond server.max_sessions or idle
// longer than server.session_ttl are closed and their indices dropped.
func New(cfg *config.AppConfig, components *Components, log *logger.Logger) (*Service, error) {
	splitter, err := splitters.NewFixedSizeSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "chunking")
	}
	ids, err := idgen.New(cfg.Index.IDStrategy, cfg.Index.NodeID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "index id strategy")
	}
	retriever, err := pipeline.NewRetriever(components.Embedder, components.Store, cfg.Retrieval.QueryCacheSize, log)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "retrieval query cache")
	}
	registry, err := comparison.NewRegistry(cfg.Comparison.Models)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		components: components,
		registry:   registry,
		log:        log,
		deps: &chat.Deps{
			Indexer:   pipeline.NewIndexingPipeline(splitter, components.Embedder, components.Store, cfg.Embedding.BatchSize, log),
			Retriever: retriever,
			Dropper:   components.Store,
			IDs:       ids,
			Model:     components.Model,
			Options: chat.Options{
				TopK:   cfg.Retrieval.TopK,
				Prompt: chat.PromptBuilder{System: cfg.Chat.SystemPrompt, HistoryTurns: cfg.Chat.HistoryTurns},
			},
			Log: log,
		},
	}
	s.newModel = components.ModelFactory
	if s.newModel == nil {
		s.newModel = func(mc models.ModelConfig) (llm.LLM, error) {
			return llm.NewClient(cfg.InferenceServer, llm.Target{Endpoint: mc.Endpoint, Model: mc.ModelName})
		}
	}

	s.sessions, err = util.NewWithConfig(util.CacheConfig[string, *sessionEntry]{
		Capacity: cfg.Server.MaxSessions,
		TTL:      cfg.Server.SessionTimeout(),
		OnEvict:  s.onEvict,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "session store")
	}
	return s, nil
}

func (s *Service) onEvict(id string, e *sessionEntry, reason util.EvictReason) {
	s.log.WithField("session_id", id).WithField("reason", int(reason)).Info("Closing session")
	e.session.Close(context.Background())
}

// Run purges idle sessions every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.PurgeExpired(); n > 0 {
				s.log.Info(fmt.Sprintf("Purged %d idle sessions", n))
			}
		}
	}
}

// Greeting is the first assistant message shown to a new session.
func (s *Service) Greeting() string {
	return fmt.Sprintf("Hello ! Ask me anything about %s", s.cfg.App.Topic)
}

func (s *Service) entry(id string) (*sessionEntry, error) {
	e, ok := s.sessions.Get(id)
	if !ok {
		return nil, apperr.New(apperr.KindSessionNotFound, "session %s not found", id)
	}
	return e, nil
}

func (s *Service) info(e *sessionEntry) *SessionInfo {
	doc, _ := e.session.Document()
	return &SessionInfo{
		ID:            e.session.ID,
		Authenticated: e.session.Authenticated,
		Greeting:      s.Greeting(),
		Document:      doc,
	}
}

// CreateSession starts a session. authenticated is the login collaborator's verdict and
// owner the subject it vouched for; a session with an owner only serves that subject.
func (s *Service) CreateSession(authenticated bool, owner string) *SessionInfo {
	id := uuid.NewString()
	sess := chat.NewSession(id, authenticated, s.deps)
	sess.Owner = owner
	e := &sessionEntry{session: sess}
	e.engines = comparison.NewEngineSet(s.builder(sess))
	s.sessions.Put(id, e, 1)
	s.log.WithField("session_id", id).Info(fmt.Sprintf("Session created (authenticated=%t)", authenticated))
	return s.info(e)
}

// Authorize checks that subject may act on session id.
func (s *Service) Authorize(id, subject string) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if owner := e.session.Owner; owner != "" && subject != owner {
		if subject == "" {
			return apperr.New(apperr.KindUnauthenticated, "session %s requires its owner's token", id)
		}
		return apperr.New(apperr.KindUnauthenticated, "session %s belongs to another subject", id)
	}
	return nil
}

// Session describes an existing session.
func (s *Service) Session(id string) (*SessionInfo, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return s.info(e), nil
}

// Upload embeds a document into a new index for the session.
func (s *Service) Upload(ctx context.Context, id, name string, data []byte, contentType string) (*pipeline.IndexResult, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	if limit := s.cfg.Server.MaxUploadBytes; limit > 0 && int64(len(data)) > limit {
		return nil, apperr.New(apperr.KindInput, "document is %d bytes, the limit is %d", len(data), limit)
	}
	_, res, err := e.session.Initialize(ctx, &schema.Document{Name: name, Data: data, ContentType: contentType})
	if err != nil {
		return nil, err
	}
	e.engines.Reset()
	return res, nil
}

// Ask answers a question in the session's conversation.
func (s *Service) Ask(ctx context.Context, id, query string) (*chat.Answer, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return e.session.Ask(ctx, query)
}

// AskStream opens a streamed answer. The caller must Close it.
func (s *Service) AskStream(ctx context.Context, id, query string) (*chat.AnswerStream, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return e.session.AskStream(ctx, query)
}

// History returns the session's conversation, oldest first.
func (s *Service) History(id string) ([]models.Turn, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return e.session.History()
}

// Reset clears the session's conversation and the comparison engines' memories.
func (s *Service) Reset(id string) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if err := e.session.Reset(); err != nil {
		return err
	}
	e.engines.Reset()
	return nil
}

// Models lists the comparison catalog.
func (s *Service) Models() []models.ModelConfig {
	return s.registry.ListConfigs()
}

// Compare fans query out to the named configurations, or all of them.
func (s *Service) Compare(ctx context.Context, id, query string, names []string) (map[string]comparison.Result, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	if !e.session.Authenticated {
		return nil, apperr.New(apperr.KindUnauthenticated, "session %s is not authenticated", id)
	}
	configs, err := s.registry.Select(names)
	if err != nil {
		return nil, err
	}

	var runner comparison.Runner
	switch s.cfg.Comparison.Mode {
	case comparison.ModeSimulated:
		if engine, ok := e.session.Engine(); ok {
			runner = comparison.NewSimulatedRunner(engine)
		} else {
			runner = comparison.NewSimulatedRunner(nil)
		}
	default:
		runner = comparison.NewLiveRunner(e.engines, s.log.WithField("session_id", id))
	}

	started := time.Now()
	results := runner.Run(ctx, query, configs)
	s.log.WithField("session_id", id).Info(fmt.Sprintf("Compared %d models in %s", len(configs), time.Since(started)))
	return results, nil
}

// builder creates a comparison engine with its own backend and memory. Configurations
// that use retrieval read the session's current index.
func (s *Service) builder(sess *chat.Session) comparison.Builder {
	return func(mc models.ModelConfig) (comparison.Asker, error) {
		model, err := s.newModel(mc)
		if err != nil {
			return nil, err
		}
		opts := s.deps.Options
		opts.UseRetrieval = mc.UsesRAG
		if mc.UsesRAG {
			doc, ok := sess.Document()
			if !ok {
				return nil, apperr.New(apperr.KindNotInitialized, "upload a document before comparing retrieval models")
			}
			opts.Index = doc.Index
		}
		return chat.NewEngine(model, s.deps.Retriever, nil, opts, s.log.WithField("model", mc.Name)), nil
	}
}

// EndSession closes the session and drops its index.
func (s *Service) EndSession(id string) error {
	if _, ok := s.sessions.Delete(id); !ok {
		return apperr.New(apperr.KindSessionNotFound, "session %s not found", id)
	}
	return nil
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	return s.sessions.Len()
}

// Health runs every component check and reports each outcome by name.
func (s *Service) Health(ctx context.Context) (map[string]string, bool) {
	status := make(map[string]string, len(s.components.Checks))
	healthy := true
	names := make([]string, 0, len(s.components.Checks))
	for name := range s.components.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.components.Checks[name](ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	return status, healthy
}

// Close ends every session and releases the components.
func (s *Service) Close() error {
	for _, id := range s.sessions.Keys() {
		s.sessions.Delete(id)
	}
	return s.components.Close()
}
