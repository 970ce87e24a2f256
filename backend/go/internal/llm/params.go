package llm

import "ragcompare/backend/go/internal/config"

// Params 是所有后端共用的生成参数。
type Params struct {
	MaxNewTokens      int
	TopK              int
	TopP              float64
	TypicalP          float64
	Temperature       float64
	RepetitionPenalty float64
}

// ParamsFromConfig 从 inference_server 配置中读取生成参数。
func ParamsFromConfig(cfg config.InferenceServerConfig) Params {
	return Params{
		MaxNewTokens:      cfg.MaxNewTokens,
		TopK:              cfg.TopK,
		TopP:              cfg.TopP,
		TypicalP:          cfg.TypicalP,
		Temperature:       cfg.Temperature,
		RepetitionPenalty: cfg.RepetitionPenalty,
	}
}

// ollamaOptions 转换为 Ollama 的 options 字段，零值不下发。
func (p Params) ollamaOptions() map[string]any {
	opts := map[string]any{}
	if p.MaxNewTokens > 0 {
		opts["num_predict"] = p.MaxNewTokens
	}
	if p.TopK > 0 {
		opts["top_k"] = p.TopK
	}
	if p.TopP > 0 {
		opts["top_p"] = p.TopP
	}
	if p.TypicalP > 0 {
		opts["typical_p"] = p.TypicalP
	}
	if p.Temperature > 0 {
		opts["temperature"] = p.Temperature
	}
	if p.RepetitionPenalty > 0 {
		opts["repeat_penalty"] = p.RepetitionPenalty
	}
	return opts
}

// tgiParameters 是 text-generation-inference 请求中的 parameters 字段。
type tgiParameters struct {
	MaxNewTokens      int      `json:"max_new_tokens,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TypicalP          *float64 `json:"typical_p,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
}

// tgiParameters 转换参数。TGI 要求 top_p 与 typical_p 严格小于 1，越界的值不下发。
func (p Params) tgiParameters() tgiParameters {
	out := tgiParameters{MaxNewTokens: p.MaxNewTokens, TopK: p.TopK}
	if p.TopP > 0 && p.TopP < 1 {
		out.TopP = &p.TopP
	}
	if p.TypicalP > 0 && p.TypicalP < 1 {
		out.TypicalP = &p.TypicalP
	}
	if p.Temperature > 0 {
		out.Temperature = &p.Temperature
	}
	if p.RepetitionPenalty > 0 {
		out.RepetitionPenalty = &p.RepetitionPenalty
	}
	return out
}
