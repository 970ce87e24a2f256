package comparison

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/config"
	"ragcompare/backend/go/internal/llm"
	"ragcompare/backend/go/internal/models"
	"ragcompare/backend/go/internal/rag_service/chat"
	"ragcompare/backend/go/pkg/logger"
)

type fakeAsker struct {
	answer string
	err    error
	panic  bool
	calls  int
	wait   *sync.WaitGroup
}

func (f *fakeAsker) Ask(_ context.Context, query string) (*chat.Answer, error) {
	f.calls++
	if f.wait != nil {
		f.wait.Done()
		f.wait.Wait()
	}
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Answer{Text: f.answer + ": " + query}, nil
}

func TestRegistryDefaults(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	configs := r.ListConfigs()
	require.Len(t, configs, 4)
	assert.Equal(t, "Base Model", configs[0].Name)
	assert.Equal(t, "InstructLab-Aligned Model + RAG", configs[3].Name)
	assert.True(t, configs[1].UsesRAG)
	assert.Equal(t, "granite-7b-instruct-aligned", configs[2].ModelName)

	c, ok := r.Lookup("Base Model + RAG")
	require.True(t, ok)
	assert.Equal(t, "https://api.ollama.ai/base-rag", c.Endpoint)
	_, ok = r.Lookup("nope")
	assert.False(t, ok)

	configs[0].Name = "mutated"
	assert.Equal(t, "Base Model", r.ListConfigs()[0].Name)
}

func TestRegistrySelect(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	some, err := r.Select([]string{"InstructLab-Aligned Model", "Base Model", "Base Model"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "InstructLab-Aligned Model", some[0].Name)

	_, err = r.Select([]string{"GPT-9"})
	assert.True(t, errors.Is(err, apperr.ErrInput))
}

func TestRegistryRejectsBadCatalog(t *testing.T) {
	_, err := NewRegistry([]models.ModelConfig{{Name: "a"}, {Name: "a"}})
	assert.True(t, errors.Is(err, apperr.ErrConfig))
	_, err = NewRegistry([]models.ModelConfig{{Name: " "}})
	assert.True(t, errors.Is(err, apperr.ErrConfig))
}

func TestLiveRunnerPartialFailure(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(4)
	askers := map[string]*fakeAsker{
		"Base Model":                      {answer: "base", wait: &wg},
		"Base Model + RAG":                {answer: "base-rag", wait: &wg},
		"InstructLab-Aligned Model":       {err: apperr.New(apperr.KindModelUnavailable, "dial tcp: connection refused"), wait: &wg},
		"InstructLab-Aligned Model + RAG": {answer: "instruct-rag", wait: &wg},
	}
	set := NewEngineSet(func(cfg models.ModelConfig) (Asker, error) { return askers[cfg.Name], nil })
	runner := NewLiveRunner(set, logger.Discard())

	done := make(chan map[string]Result)
	go func() { done <- runner.Run(context.Background(), "hi", DefaultConfigs) }()

	var results map[string]Result
	select {
	case results = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("branches did not run concurrently")
	}

	require.Len(t, results, 4)
	var ok, failedSlots int
	for _, res := range results {
		if res.OK() {
			ok++
			assert.NotEmpty(t, res.Answer)
		} else {
			failedSlots++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, failedSlots)
	bad := results["InstructLab-Aligned Model"]
	assert.Contains(t, bad.Error, "connection refused")
	assert.Equal(t, string(apperr.KindModelUnavailable), bad.ErrorKind)
	assert.Equal(t, "base: hi", results["Base Model"].Answer)
}

func TestLiveRunnerRecoversPanicsAndBuildErrors(t *testing.T) {
	set := NewEngineSet(func(cfg models.ModelConfig) (Asker, error) {
		switch cfg.Name {
		case "panics":
			return &fakeAsker{panic: true}, nil
		case "unbuildable":
			return nil, errors.New("unsupported inference server type")
		default:
			return &fakeAsker{answer: "fine"}, nil
		}
	})
	runner := NewLiveRunner(set, logger.Discard())
	results := runner.Run(context.Background(), "q", []models.ModelConfig{{Name: "panics"}, {Name: "unbuildable"}, {Name: "ok"}})
	require.Len(t, results, 3)
	assert.Contains(t, results["panics"].Error, "boom")
	assert.Equal(t, "internal_error", results["unbuildable"].ErrorKind)
	assert.True(t, results["ok"].OK())
}

func TestEngineSetKeepsEnginesPerConfig(t *testing.T) {
	builds := 0
	set := NewEngineSet(func(cfg models.ModelConfig) (Asker, error) {
		builds++
		return &fakeAsker{answer: cfg.Name}, nil
	})
	a1, err := set.Engine(models.ModelConfig{Name: "a"})
	require.NoError(t, err)
	a2, err := set.Engine(models.ModelConfig{Name: "a"})
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	_, err = set.Engine(models.ModelConfig{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	set.Reset()
	_, err = set.Engine(models.ModelConfig{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, builds)
}

type conversationalAsker struct {
	fakeAsker
	history []models.Turn
}

func (c *conversationalAsker) Ask(ctx context.Context, query string) (*chat.Answer, error) {
	ans, err := c.fakeAsker.Ask(ctx, query)
	if err == nil {
		c.history = append(c.history, models.Turn{Role: models.SpeakerUser, Text: query},
			models.Turn{Role: models.SpeakerAssistant, Text: ans.Text})
	}
	return ans, err
}

func (c *conversationalAsker) History() []models.Turn { return c.history }

func TestSimulatedRunnerEchoesConversation(t *testing.T) {
	primary := &conversationalAsker{fakeAsker: fakeAsker{answer: "echo"}}
	results := NewSimulatedRunner(primary).Run(context.Background(), "q", DefaultConfigs)
	require.Len(t, results, 4)
	assert.Equal(t, 1, primary.calls)
	for _, cfg := range DefaultConfigs {
		res := results[cfg.Name]
		assert.Equal(t, "echo: q", res.Answer)
		assert.Len(t, res.Conversation, 2)
	}

	results = NewSimulatedRunner(nil).Run(context.Background(), "q", DefaultConfigs)
	for _, res := range results {
		assert.Equal(t, string(apperr.KindNotInitialized), res.ErrorKind)
	}
}

// TestLiveRunnerOverOllama runs real engines against fake Ollama backends, one of them unreachable.
func TestLiveRunnerOverOllama(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "answer from " + body["model"].(string), "done": true})
	}))
	defer backend.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	configs := []models.ModelConfig{
		{Name: "one", Endpoint: backend.URL, ModelName: "m1"},
		{Name: "two", Endpoint: backend.URL, ModelName: "m2"},
		{Name: "three", Endpoint: deadURL, ModelName: "m3"},
		{Name: "four", Endpoint: backend.URL, ModelName: "m4"},
	}
	inference := config.InferenceServerConfig{Type: "ollama", Timeout: "5s", MaxNewTokens: 8}
	set := NewEngineSet(func(cfg models.ModelConfig) (Asker, error) {
		model, err := llm.NewClient(inference, llm.Target{Endpoint: cfg.Endpoint, Model: cfg.ModelName})
		if err != nil {
			return nil, err
		}
		return chat.NewEngine(model, nil, nil, chat.Options{}, logger.Discard()), nil
	})

	results := NewLiveRunner(set, logger.Discard()).Run(context.Background(), "hello", configs)
	require.Len(t, results, 4)
	assert.Equal(t, "answer from m1", results["one"].Answer)
	assert.Equal(t, "answer from m4", results["four"].Answer)
	assert.False(t, results["three"].OK())
	assert.Equal(t, string(apperr.KindModelUnavailable), results["three"].ErrorKind)
}
