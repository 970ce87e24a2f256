package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI 是一个用于 OpenAI 兼容 API 的 LLM 客户端 (包括 vLLM、LocalAI 等)。
type OpenAI struct {
	client *openai.Client // OpenAI 客户端实例。
	model  string         // 要使用的模型名称。
	params Params
}

var _ LLM = (*OpenAI)(nil)

// NewOpenAI 创建一个新的 OpenAI 客户端。baseURL 为空时使用官方地址。
func NewOpenAI(model, apiKey, baseURL string, params Params) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		params: params,
	}
}

func (o *OpenAI) request(prompt string) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: o.params.MaxNewTokens,
		TopP:      float32(o.params.TopP),
	}
	// 温度为 0 时不发送，由服务端使用默认值
	if o.params.Temperature > 0 {
		t := float32(o.params.Temperature)
		req.Temperature = &t
	}
	return req
}

// Generate 使用 Chat Completions 接口生成完整回答。
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(prompt))
	if err != nil {
		return "", unavailable(err, "openai chat completion with model %s", o.model)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream 使用流式 Chat Completions 接口，逐个返回增量内容。
func (o *OpenAI) Stream(ctx context.Context, prompt string) (Stream, error) {
	return newPipe(ctx, func(ctx context.Context, emit func(string) error) error {
		req := o.request(prompt)
		req.Stream = true
		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return unavailable(err, "openai chat completion stream with model %s", o.model)
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return unavailable(err, "openai stream recv")
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if err := emit(choice.Delta.Content); err != nil {
					return err
				}
			}
		}
	}), nil
}
