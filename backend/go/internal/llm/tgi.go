package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ragcompare/backend/go/internal/apperr"
	phttp "ragcompare/backend/go/pkg/http"
)

// TGI 是 text-generation-inference 兼容服务的客户端 (/generate 与 /generate_stream)。
type TGI struct {
	client  *phttp.Client
	baseURL string
	params  Params
	timeout time.Duration
}

var _ LLM = (*TGI)(nil)

type tgiRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters tgiParameters `json:"parameters"`
	Stream     bool          `json:"stream,omitempty"`
}

type tgiGenerated struct {
	GeneratedText string `json:"generated_text"`
}

type tgiStreamEvent struct {
	Token *struct {
		Text    string `json:"text"`
		Special bool   `json:"special"`
	} `json:"token"`
	Error string `json:"error"`
}

// NewTGI 创建 TGI 客户端。baseURL 形如 http://host:8080，请求路径由客户端拼接。
func NewTGI(baseURL string, params Params, client *phttp.Client, timeout time.Duration) *TGI {
	return &TGI{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		params:  params,
		timeout: timeout,
	}
}

func (t *TGI) post(ctx context.Context, path, prompt string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(tgiRequest{Inputs: prompt, Parameters: t.params.tgiParameters(), Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModelUnavailable, err, "build request for %s", t.baseURL)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, unavailable(err, "tgi %s", path)
	}
	return resp, nil
}

// Generate 调用 /generate 并返回完整的生成文本。服务端返回对象或单元素数组均可。
func (t *TGI) Generate(ctx context.Context, prompt string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	resp, err := t.post(ctx, "/generate", prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", unavailable(err, "decode tgi response")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []tgiGenerated
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", unavailable(err, "decode tgi response")
		}
		if len(items) == 0 {
			return "", nil
		}
		return items[0].GeneratedText, nil
	}
	var item tgiGenerated
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", unavailable(err, "decode tgi response")
	}
	return item.GeneratedText, nil
}

// Stream 调用 /generate_stream 并逐个返回 token 文本，特殊 token 会被跳过。
func (t *TGI) Stream(ctx context.Context, prompt string) (Stream, error) {
	return newPipe(ctx, func(ctx context.Context, emit func(string) error) error {
		resp, err := t.post(ctx, "/generate_stream", prompt, true)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			data, ok := sseData(scanner.Text())
			if !ok {
				continue
			}
			var ev tgiStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return unavailable(err, "decode tgi stream event")
			}
			if ev.Error != "" {
				return apperr.New(apperr.KindModelUnavailable, "tgi stream: %s", ev.Error)
			}
			if ev.Token == nil || ev.Token.Special || ev.Token.Text == "" {
				continue
			}
			if err := emit(ev.Token.Text); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return unavailable(err, "read tgi stream")
		}
		return nil
	}), nil
}

// sseData 提取 "data:" 行的内容；注释行、事件名和空行返回 false。
func sseData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" || data == "[DONE]" {
		return "", false
	}
	return data, true
}
