package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Turn is one entry of a session's conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Source is a chunk an answer was grounded on.
type Source struct {
	ID    string  `json:"id"`
	Page  int     `json:"page"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Answer is the reply to a question.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Document describes an indexed upload.
type Document struct {
	Index     string `json:"index"`
	Chunks    int    `json:"chunks"`
	Pages     int    `json:"pages"`
	Dimension int    `json:"dimension"`
}

// Session is the server's view of a session.
type Session struct {
	ID            string    `json:"session_id"`
	Authenticated bool      `json:"authenticated"`
	Greeting      string    `json:"greeting"`
	Document      *Document `json:"document"`
}

// ModelConfig is one entry of the comparison catalog.
type ModelConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint"`
	UsesRAG     bool   `json:"uses_rag"`
	ModelName   string `json:"model_name"`
}

// Result is one configuration's comparison outcome.
type Result struct {
	Answer       string `json:"answer"`
	Error        string `json:"error"`
	ErrorKind    string `json:"error_kind"`
	Conversation []Turn `json:"conversation"`
	LatencyMS    int64  `json:"latency_ms"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Kind       string `json:"kind"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

// Client talks to the RAG service REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the server at baseURL. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	return c.send(req, out)
}

// CreateSession starts a new session.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Session returns the session with id.
func (c *Client) Session(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/"+id, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EndSession ends the session and drops its index.
func (c *Client) EndSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/sessions/"+id, nil, nil)
}

// Upload sends the file at path as the session's document. An empty mimeType lets the
// server decide.
func (c *Client) Upload(ctx context.Context, id, path, mimeType string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	hdr.Set("Content-Type", "application/octet-stream")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if mimeType != "" {
		if err := mw.WriteField("mime", mimeType); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/documents", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := c.send(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Ask returns the complete answer to query.
func (c *Client) Ask(ctx context.Context, id, query string) (*Answer, error) {
	var ans Answer
	payload := map[string]any{"query": query}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/ask", payload, &ans); err != nil {
		return nil, err
	}
	return &ans, nil
}

// AskStream calls onFragment for every fragment of the answer and returns the final answer.
func (c *Client) AskStream(ctx context.Context, id, query string, onFragment func(string)) (*Answer, error) {
	b, err := json.Marshal(map[string]any{"query": query, "stream": true})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/ask", bytes.NewReader(b), "application/json")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var final *Answer
	err = readEvents(resp.Body, func(event, data string) error {
		switch event {
		case "fragment":
			var f struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal([]byte(data), &f); err != nil {
				return err
			}
			onFragment(f.Text)
		case "done":
			final = &Answer{}
			return json.Unmarshal([]byte(data), final)
		case "error":
			apiErr := &APIError{StatusCode: resp.StatusCode}
			if err := json.Unmarshal([]byte(data), apiErr); err != nil {
				apiErr.Message = data
			}
			return apiErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, errors.New("stream ended without a final answer")
	}
	return final, nil
}

// readEvents parses a text/event-stream body and calls handle once per event.
func readEvents(r io.Reader, handle func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	var event string
	var data []string
	flush := func() error {
		if event == "" && len(data) == 0 {
			return nil
		}
		err := handle(event, strings.Join(data, "\n"))
		event, data = "", nil
		return err
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// History returns the session's conversation.
func (c *Client) History(ctx context.Context, id string) ([]Turn, error) {
	var out struct {
		History []Turn `json:"history"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/"+id+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// Reset clears the session's conversation.
func (c *Client) Reset(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/sessions/"+id+"/history", nil, nil)
}

// Compare asks the named configurations, or all of them when names is empty.
func (c *Client) Compare(ctx context.Context, id, query string, names []string) (map[string]Result, error) {
	var out struct {
		Results map[string]Result `json:"results"`
	}
	payload := map[string]any{"query": query, "models": names}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/compare", payload, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Models lists the comparison catalog.
func (c *Client) Models(ctx context.Context) ([]ModelConfig, error) {
	var out struct {
		Models []ModelConfig `json:"models"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}
