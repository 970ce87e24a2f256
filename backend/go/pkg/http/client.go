package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"ragcompare/backend/go/internal/config"
	"ragcompare/backend/go/pkg/circuitbreaker"
)

// StatusError is returned for responses with a status code >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Client wraps http.Client with optional circuit breaking. Deadlines come
// from the request context so streamed bodies are not cut off.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
}

// NewClient creates a Client; the breaker is only set up when enabled.
func NewClient(cfg config.CircuitBreakerConfig) (*Client, error) {
	breaker, err := NewBreaker(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{httpClient: &http.Client{}, breaker: breaker}, nil
}

// NewClientWith wraps an existing http.Client, e.g. one from httptest.
func NewClientWith(hc *http.Client, breaker circuitbreaker.CircuitBreaker) *Client {
	return &Client{httpClient: hc, breaker: breaker}
}

// Do executes req. Any status >= 400 is returned as *StatusError with the body
// closed; only >= 500 counts against the breaker.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.do(req)
	}

	var resp *http.Response
	var clientErr error
	err := c.breaker.Do(func() error {
		var err error
		resp, err = c.do(req)
		if se, ok := err.(*StatusError); ok && se.StatusCode < http.StatusInternalServerError {
			clientErr = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if clientErr != nil {
		return nil, clientErr
	}
	return resp, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}
