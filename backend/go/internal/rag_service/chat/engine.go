package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/llm"
	"ragcompare/backend/go/internal/models"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
	"ragcompare/backend/go/pkg/logger"
)

// Retriever is the part of the retrieval pipeline the engine depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query, index string, k int) ([]schema.ScoredChunk, error)
}

// Options configure an Engine.
type Options struct {
	// Index is the index queried for context. Required when UseRetrieval is set.
	Index string
	// UseRetrieval adds retrieved chunks to the prompt.
	UseRetrieval bool
	// TopK is the number of chunks retrieved per question.
	TopK   int
	Prompt PromptBuilder
}

// Answer is a completed reply and the chunks it was grounded on.
type Answer struct {
	Text    string               `json:"answer"`
	Sources []schema.ScoredChunk `json:"sources,omitempty"`
}

// Engine answers questions about one index, keeping the conversation in its Memory.
// Its methods may be called concurrently; memory reads and writes are serialized.
type Engine struct {
	model     llm.LLM
	retriever Retriever
	opts      Options
	log       *logger.Logger

	mu     sync.Mutex
	memory *Memory
}

// NewEngine creates an Engine. A nil memory starts an empty conversation.
func NewEngine(model llm.LLM, retriever Retriever, memory *Memory, opts Options, log *logger.Logger) *Engine {
	if memory == nil {
		memory = NewMemory()
	}
	return &Engine{model: model, retriever: retriever, opts: opts, memory: memory, log: log}
}

// Index returns the index the engine retrieves from.
func (e *Engine) Index() string {
	return e.opts.Index
}

// History returns the conversation so far, oldest first.
func (e *Engine) History() []models.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memory.Turns()
}

// Reset clears the conversation.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memory.Clear()
}

// prepare runs the retrieval and prompt stages shared by Ask and AskStream.
func (e *Engine) prepare(ctx context.Context, query string) (string, []schema.ScoredChunk, error) {
	if e == nil || e.model == nil {
		return "", nil, apperr.New(apperr.KindNotInitialized, "no language model is configured")
	}
	if e.opts.UseRetrieval && (e.retriever == nil || e.opts.Index == "") {
		return "", nil, apperr.New(apperr.KindNotInitialized, "no document has been embedded for retrieval")
	}
	if strings.TrimSpace(query) == "" {
		return "", nil, apperr.New(apperr.KindInput, "query must not be empty")
	}

	var contexts []schema.ScoredChunk
	if e.opts.UseRetrieval {
		var err error
		contexts, err = e.retriever.Retrieve(ctx, query, e.opts.Index, e.opts.TopK)
		if err != nil {
			return "", nil, err
		}
	}

	e.mu.Lock()
	history := e.memory.Last(e.opts.Prompt.HistoryTurns)
	e.mu.Unlock()

	return e.opts.Prompt.Build(query, contexts, history), contexts, nil
}

// commit records a completed exchange.
func (e *Engine) commit(query, answer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Roles are constants, Append cannot fail here.
	_ = e.memory.Append(models.SpeakerUser, query)
	_ = e.memory.Append(models.SpeakerAssistant, answer)
}

// Ask returns the complete answer to query. Memory is only updated on success.
func (e *Engine) Ask(ctx context.Context, query string) (*Answer, error) {
	prompt, sources, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	e.log.Info(fmt.Sprintf("Sending prompt to LLM (%d context chunks)", len(sources)))
	text, err := e.model.Generate(ctx, prompt)
	if err != nil {
		e.log.Error(fmt.Sprintf("LLM failed to generate answer: %v", err))
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindEmptyResponse, "the model returned an empty answer")
	}

	e.commit(query, text)
	return &Answer{Text: text, Sources: sources}, nil
}

// AskStream starts a streamed answer. The caller must Close the returned stream;
// the exchange is recorded only once the stream has been read to the end.
func (e *Engine) AskStream(ctx context.Context, query string) (*AnswerStream, error) {
	prompt, sources, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	e.log.Info(fmt.Sprintf("Streaming prompt to LLM (%d context chunks)", len(sources)))
	stream, err := e.model.Stream(ctx, prompt)
	if err != nil {
		e.log.Error(fmt.Sprintf("LLM failed to open stream: %v", err))
		return nil, err
	}
	return &AnswerStream{engine: e, stream: stream, query: query, sources: sources}, nil
}

// AnswerStream is a lazy, finite, non-restartable sequence of answer fragments.
// It is meant to be consumed by a single goroutine.
type AnswerStream struct {
	engine  *Engine
	stream  llm.Stream
	query   string
	sources []schema.ScoredChunk

	text      strings.Builder
	fragments int
	err       error // terminal state: io.EOF on completion
}

// Next returns the next non-empty fragment. It returns io.EOF once the answer is
// complete, at which point the exchange has been written to memory. A stream that
// ends without any fragment fails with an EmptyResponseError.
func (s *AnswerStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		frag, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish()
			return "", s.err
		}
		if err != nil {
			s.err = err
			s.stream.Close()
			return "", err
		}
		if frag == "" {
			continue
		}
		s.fragments++
		s.text.WriteString(frag)
		return frag, nil
	}
}

func (s *AnswerStream) finish() {
	s.stream.Close()
	if s.fragments == 0 {
		s.err = apperr.New(apperr.KindEmptyResponse, "the model stream produced no text")
		return
	}
	s.err = io.EOF
	s.engine.commit(s.query, s.text.String())
	s.engine.log.Info(fmt.Sprintf("Streamed answer complete (%d fragments)", s.fragments))
}

// Close releases the model stream. Closing before io.EOF leaves memory untouched.
func (s *AnswerStream) Close() error {
	if s.err == nil {
		s.err = llm.ErrStreamClosed
	}
	return s.stream.Close()
}

// All yields fragments until the answer completes or fails. Breaking out of the
// loop closes the stream. A terminal error other than io.EOF is yielded once.
func (s *AnswerStream) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			frag, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// Text returns the text received so far.
func (s *AnswerStream) Text() string {
	return s.text.String()
}

// Sources returns the chunks the prompt was built from.
func (s *AnswerStream) Sources() []schema.ScoredChunk {
	return s.sources
}

// Completed reports whether the answer was read to the end and recorded.
func (s *AnswerStream) Completed() bool {
	return errors.Is(s.err, io.EOF)
}
