package comparison

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/models"
	"ragcompare/backend/go/internal/rag_service/chat"
	"ragcompare/backend/go/pkg/logger"
)

const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// Result is one configuration's slot. Exactly one of Answer and Error is set.
type Result struct {
	Answer    string `json:"answer,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	// Conversation is the echoed dialogue in simulated mode.
	Conversation []models.Turn `json:"conversation,omitempty"`
	LatencyMS    int64         `json:"latency_ms"`
}

// OK reports whether the slot holds an answer.
func (r Result) OK() bool {
	return r.Error == ""
}

func failed(err error, started time.Time) Result {
	kind := string(apperr.KindOf(err))
	if kind == "" {
		kind = "internal_error"
	}
	return Result{Error: err.Error(), ErrorKind: kind, LatencyMS: time.Since(started).Milliseconds()}
}

// Runner fans a query out to configurations and collects one slot per configuration name.
// Run never fails as a whole; failures are reported in their slots.
type Runner interface {
	Run(ctx context.Context, query string, configs []models.ModelConfig) map[string]Result
}

// Asker is the part of a chat engine a comparison needs.
type Asker interface {
	Ask(ctx context.Context, query string) (*chat.Answer, error)
}

// Builder creates the engine for one configuration.
type Builder func(cfg models.ModelConfig) (Asker, error)

// EngineSet lazily builds and keeps one engine per configuration, so each keeps its own memory.
type EngineSet struct {
	build Builder

	mu      sync.Mutex
	engines map[string]Asker
}

// NewEngineSet creates an empty set that builds engines with build.
func NewEngineSet(build Builder) *EngineSet {
	return &EngineSet{build: build, engines: make(map[string]Asker)}
}

// Engine returns the engine for cfg, building it on first use.
func (s *EngineSet) Engine(cfg models.ModelConfig) (Asker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.engines[cfg.Name]; ok {
		return e, nil
	}
	e, err := s.build(cfg)
	if err != nil {
		return nil, err
	}
	s.engines[cfg.Name] = e
	return e, nil
}

// Reset forgets every engine, e.g. after a new document was embedded.
func (s *EngineSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines = make(map[string]Asker)
}

// LiveRunner asks every configuration's own engine concurrently.
type LiveRunner struct {
	engines *EngineSet
	log     *logger.Logger
}

// NewLiveRunner creates a LiveRunner over engines.
func NewLiveRunner(engines *EngineSet, log *logger.Logger) *LiveRunner {
	return &LiveRunner{engines: engines, log: log}
}

// Run asks all configurations at once. A failing or panicking branch does not cancel the others.
func (r *LiveRunner) Run(ctx context.Context, query string, configs []models.ModelConfig) map[string]Result {
	slots := make([]Result, len(configs))
	var g errgroup.Group
	g.SetLimit(max(len(configs), 1))
	for i, cfg := range configs {
		g.Go(func() error {
			started := time.Now()
			defer func() {
				if p := recover(); p != nil {
					r.log.Error(fmt.Sprintf("Comparison branch %q panicked: %v", cfg.Name, p))
					slots[i] = failed(fmt.Errorf("panic: %v", p), started)
				}
			}()
			slots[i] = r.ask(ctx, cfg, query, started)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Result, len(configs))
	for i, cfg := range configs {
		out[cfg.Name] = slots[i]
	}
	return out
}

func (r *LiveRunner) ask(ctx context.Context, cfg models.ModelConfig, query string, started time.Time) Result {
	engine, err := r.engines.Engine(cfg)
	if err != nil {
		r.log.Warn(fmt.Sprintf("Comparison model %q could not be built: %v", cfg.Name, err))
		return failed(err, started)
	}
	ans, err := engine.Ask(ctx, query)
	if err != nil {
		r.log.Warn(fmt.Sprintf("Comparison model %q failed: %v", cfg.Name, err))
		return failed(err, started)
	}
	return Result{Answer: ans.Text, LatencyMS: time.Since(started).Milliseconds()}
}

// Conversational is an engine whose dialogue can be echoed.
type Conversational interface {
	Asker
	History() []models.Turn
}

// SimulatedRunner is the placeholder comparison: the primary engine answers once and
// the same conversation is reported under every configuration name.
type SimulatedRunner struct {
	primary Conversational
}

// NewSimulatedRunner creates a SimulatedRunner over the session's primary engine.
func NewSimulatedRunner(primary Conversational) *SimulatedRunner {
	return &SimulatedRunner{primary: primary}
}

// Run asks the primary engine and copies its result into every slot.
func (r *SimulatedRunner) Run(ctx context.Context, query string, configs []models.ModelConfig) map[string]Result {
	started := time.Now()
	var res Result
	if r.primary == nil {
		res = failed(apperr.New(apperr.KindNotInitialized, "upload a document before comparing models"), started)
	} else if ans, err := r.primary.Ask(ctx, query); err != nil {
		res = failed(err, started)
	} else {
		res = Result{Answer: ans.Text, Conversation: r.primary.History(), LatencyMS: time.Since(started).Milliseconds()}
	}

	out := make(map[string]Result, len(configs))
	for _, cfg := range configs {
		slot := res
		slot.Conversation = append([]models.Turn(nil), res.Conversation...)
		out[cfg.Name] = slot
	}
	return out
}

var (
	_ Runner = (*LiveRunner)(nil)
	_ Runner = (*SimulatedRunner)(nil)
	_ Asker  = (*chat.Engine)(nil)
)
