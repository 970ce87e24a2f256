package llm

import (
	"context"
	"fmt"

	"ragcompare/backend/go/internal/config"
	phttp "ragcompare/backend/go/pkg/http"
)

// LLM 定义了所有大型语言模型客户端必须实现的通用接口。
type LLM interface {
	// Generate 以单次调用的方式返回完整回答。
	Generate(ctx context.Context, prompt string) (string, error)
	// Stream 返回增量文本片段的流，调用方负责 Close。
	Stream(ctx context.Context, prompt string) (Stream, error)
}

// Stream 是一个拉取式、有限且不可重启的文本片段序列。
type Stream interface {
	// Recv 返回下一个片段；正常结束时返回 io.EOF。
	Recv() (string, error)
	// Close 释放底层连接。可重复调用，返回前生产者 goroutine 已退出。
	Close() error
}

// Target 描述一个具体的模型后端：地址和模型名。
type Target struct {
	Endpoint string
	Model    string
}

// NewClient 是一个工厂函数，根据配置的后端类型创建 LLM 客户端。
// target 为空字段时使用 inference_server 中的地址和模型。
//
// 参数:
//
//	cfg: inference_server 配置，提供类型和生成参数。
//	target: 覆盖默认地址和模型 (模型对比中每个配置各不相同)。
//
// 返回值:
//
//	LLM: 创建的客户端，开启熔断时已包装熔断器。
//	error: 类型不支持或参数非法时返回错误。
func NewClient(cfg config.InferenceServerConfig, target Target) (LLM, error) {
	if target.Endpoint == "" {
		target.Endpoint = cfg.URL
	}
	if target.Model == "" {
		target.Model = cfg.Model
	}
	params := ParamsFromConfig(cfg)

	var (
		client LLM
		err    error
	)
	switch cfg.Type {
	case "ollama":
		client, err = NewOllama(target.Model, target.Endpoint, params, cfg.RequestTimeout())
	case "tgi", "huggingface":
		var hc *phttp.Client
		hc, err = phttp.NewClient(config.CircuitBreakerConfig{})
		if err == nil {
			client = NewTGI(target.Endpoint, params, hc, cfg.RequestTimeout())
		}
	case "openai":
		client = NewOpenAI(target.Model, cfg.APIKey, target.Endpoint, params)
	default:
		return nil, fmt.Errorf("unsupported inference server type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	breaker, err := phttp.NewBreaker(cfg.CircuitBreaker)
	if err != nil {
		return nil, err
	}
	if breaker != nil {
		client = WithBreaker(client, breaker)
	}
	return client, nil
}
