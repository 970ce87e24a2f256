package embedding

import (
	"context"
	"fmt"

	"ragcompare/backend/go/internal/config"
	phttp "ragcompare/backend/go/pkg/http"
)

// NewEmdModel 根据配置创建并返回一个新的 Embedding 模型实例。
//
// 参数:
//
//	ctx: 用于初始化需要建立连接的客户端 (gemini)。
//	cfg: embedding 配置，包括提供商、模型、API 密钥和服务地址。
//
// 返回值:
//
//	Embedding: 新创建的 Embedding 模型实例。
//	error: 如果提供商不支持或模型初始化失败，则返回错误。
func NewEmdModel(ctx context.Context, cfg config.EmbeddingConfig) (Embedding, error) {
	switch ModelType(cfg.Provider) {
	case Google:
		return NewGoogleModel(ctx, cfg.APIKey, cfg.Model)
	case OpenAI:
		return NewOpenAIModel(cfg.APIKey, cfg.Model, cfg.URL), nil
	case HuggingFace:
		hc, err := phttp.NewClient(config.CircuitBreakerConfig{})
		if err != nil {
			return nil, err
		}
		return NewHuggingFaceModel(cfg.APIKey, cfg.Model, cfg.URL, hc), nil
	case Ollama:
		return NewOllamaModel(cfg.Model, cfg.URL)
	case Hashing:
		return NewHashingModel(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider) // 如果提供商不支持，返回错误。
	}
}

// Batched 把大批量请求按 size 拆分后依次调用 inner.EmbedBatch。
func Batched(ctx context.Context, inner Embedding, texts []string, size int) ([][]float32, error) {
	if size <= 0 || len(texts) <= size {
		return inner.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := inner.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
