package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是一个用于 Ollama API 的 LLM 客户端。
type Ollama struct {
	client  *olla.Client  // Ollama 客户端实例。
	model   string        // 要使用的模型名称。
	params  Params        // 生成参数。
	timeout time.Duration // 单次调用超时，流式调用不受此限制。
}

var _ LLM = (*Ollama)(nil)

// NewOllama 创建一个新的 Ollama 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
//	params: 生成参数，映射为 Ollama 的 options。
//	timeout: 单次调用的超时时间。
//
// 返回值:
//
//	*Ollama: 新创建的 Ollama 客户端实例。
//	error: 如果基准 URL 无效，则返回错误。
func NewOllama(model, baseURL string, params Params, timeout time.Duration) (*Ollama, error) {
	// 如果 baseURL 为空，则使用默认地址。
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	// 流式响应的总时长没有上限，超时由 ctx 控制。
	client := olla.NewClient(parsedURL, &http.Client{})

	return &Ollama{client: client, model: model, params: params, timeout: timeout}, nil
}

func (o *Ollama) request(prompt string, stream bool) *olla.GenerateRequest {
	return &olla.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: o.params.ollamaOptions(),
	}
}

// Generate 使用 Ollama API 生成完整回答。
//
// 参数:
//
//	ctx: 上下文，用于控制请求的生命周期。
//	prompt: 组装好的提示词。
//
// 返回值:
//
//	string: 模型的回答。
//	error: 后端不可达或返回错误时为 ModelUnavailableError。
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var sb strings.Builder
	err := o.client.Generate(ctx, o.request(prompt, false), func(resp olla.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", unavailable(err, "ollama generate with model %s", o.model)
	}
	return sb.String(), nil
}

// Stream 使用 Ollama API 以流式方式生成内容。Close 会取消请求并等待读取 goroutine 退出。
func (o *Ollama) Stream(ctx context.Context, prompt string) (Stream, error) {
	req := o.request(prompt, true)
	return newPipe(ctx, func(ctx context.Context, emit func(string) error) error {
		err := o.client.Generate(ctx, req, func(resp olla.GenerateResponse) error {
			if resp.Response == "" {
				return nil
			}
			return emit(resp.Response)
		})
		if err != nil {
			return unavailable(err, "ollama stream with model %s", o.model)
		}
		return nil
	}), nil
}
