package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcompare/backend/go/internal/config"
	phttp "ragcompare/backend/go/pkg/http"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashingModel(t *testing.T) {
	m, err := NewHashingModel(256)
	require.NoError(t, err)
	ctx := context.Background()

	a1, _ := m.Embed(ctx, "The quick brown fox jumps over the lazy dog")
	a2, _ := m.Embed(ctx, "the QUICK brown fox, jumps over the lazy dog!")
	b, _ := m.Embed(ctx, "Quarterly revenue grew by twelve percent")

	assert.Len(t, a1, 256)
	assert.Equal(t, a1, a2, "case and punctuation must not change the vector")
	assert.InDelta(t, 1.0, cosine(a1, a1), 1e-6)
	assert.Less(t, cosine(a1, b), 0.5)

	zero, _ := m.Embed(ctx, "   ...  ")
	for _, v := range zero {
		assert.Zero(t, v)
	}

	_, err = NewHashingModel(0)
	assert.Error(t, err)
}

type countingModel struct {
	batches [][]string
}

func (c *countingModel) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (c *countingModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestBatchedSplitsAndPreservesOrder(t *testing.T) {
	inner := &countingModel{}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	vecs, err := Batched(context.Background(), inner, texts, 2)
	require.NoError(t, err)
	assert.Len(t, inner.batches, 3)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestOllamaModelEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = []float32{float32(i), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
	defer srv.Close()

	m, err := NewOllamaModel("nomic-embed-text", srv.URL)
	require.NoError(t, err)

	vecs, err := m.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)

	v, err := m.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)
}

func TestHuggingFaceModel(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`[[0.1,0.2],[0.3,0.4]]`))
	}))
	defer srv.Close()

	m := NewHuggingFaceModel("hf_token", "bge-small", srv.URL+"/models", phttp.NewClientWith(srv.Client(), nil))
	vecs, err := m.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, "Bearer hf_token", gotAuth)
	assert.Equal(t, "/models/bge-small", gotPath)

	_, err = m.EmbedBatch(context.Background(), []string{"only one"})
	assert.Error(t, err, "a count mismatch must be reported")
}

func TestNewEmdModel(t *testing.T) {
	ctx := context.Background()

	m, err := NewEmdModel(ctx, config.EmbeddingConfig{Provider: "hashing", Dimension: 64})
	require.NoError(t, err)
	assert.IsType(t, &HashingModel{}, m)

	m, err = NewEmdModel(ctx, config.EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaModel{}, m)

	m, err = NewEmdModel(ctx, config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIModel{}, m)

	m, err = NewEmdModel(ctx, config.EmbeddingConfig{Provider: "huggingface", Model: "bge"})
	require.NoError(t, err)
	assert.IsType(t, &HuggingFaceModel{}, m)

	_, err = NewEmdModel(ctx, config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)
}
