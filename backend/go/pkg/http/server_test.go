package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ragcompare/backend/go/internal/config"
	"ragcompare/backend/go/pkg/logger"
)

// helper function to create a mock config for testing
func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		Middleware: config.MiddlewareConfig{
			RateLimiter: config.RateLimiterConfig{
				Enabled:   true,
				Algorithm: "tokenBucket",
				TokenBucket: config.TokenBucketConfig{
					Rate:     10, // 10 tokens per second
					Capacity: 5,  // Bucket size of 5
				},
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 2, // Open after 2 consecutive failures
				SuccessThreshold: 2,
				Timeout:          "10s",
			},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.AppConfig, opts ...ServerOption) *Server {
	t.Helper()
	opts = append(opts, WithLogger(logger.Discard()))
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func TestNewServer_WithAddress(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), WithAddress(":9999"))
	if srv.Addr() != ":9999" {
		t.Errorf("Expected server address to be :9999, but got %s", srv.Addr())
	}
}

func TestNewServer_DefaultAddress(t *testing.T) {
	srv := newTestServer(t, &config.AppConfig{})
	if srv.Addr() != ":8080" {
		t.Errorf("Expected default address :8080, got %s", srv.Addr())
	}
}

func TestNewServer_UnknownAlgorithm(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.RateLimiter.Algorithm = "slidingLog"
	if _, err := NewServer(cfg, WithLogger(logger.Discard())); err == nil {
		t.Fatal("expected an error for an unknown algorithm")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	cfg := newTestConfig()
	// Use a very small capacity to make testing easier
	cfg.Middleware.RateLimiter.TokenBucket.Capacity = 2
	cfg.Middleware.RateLimiter.TokenBucket.Rate = 1

	srv := newTestServer(t, cfg)
	srv.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	testServer := httptest.NewServer(srv.httpServer.Handler)
	defer testServer.Close()

	// First 2 requests should pass (equal to capacity)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(testServer.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status OK on request %d, got %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// The 3rd request should be rate limited
	resp, err := http.Get(testServer.URL)
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status TooManyRequests on request 3, got %d", resp.StatusCode)
	}
}

func TestNewServer_InvalidPerClientWindow(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.RateLimiter.Algorithm = "fixedWindow"
	cfg.Middleware.RateLimiter.PerClient = true
	cfg.Middleware.RateLimiter.FixedWindow.Limit = 1
	cfg.Middleware.RateLimiter.FixedWindow.Window = "soon"
	if _, err := NewServer(cfg, WithLogger(logger.Discard())); err == nil {
		t.Fatal("expected an error for an unparsable per-client window")
	}
}

func TestPerClientFixedWindow(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.CircuitBreaker.Enabled = false
	cfg.Middleware.RateLimiter.Algorithm = "fixedWindow"
	cfg.Middleware.RateLimiter.PerClient = true
	cfg.Middleware.RateLimiter.FixedWindow.Limit = 1
	cfg.Middleware.RateLimiter.FixedWindow.Window = "1m"

	srv := newTestServer(t, cfg)
	srv.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := serve("10.0.0.1:1000"); code != http.StatusOK {
		t.Fatalf("first client: expected OK, got %d", code)
	}
	if code := serve("10.0.0.1:1001"); code != http.StatusTooManyRequests {
		t.Errorf("first client again: expected TooManyRequests, got %d", code)
	}
	// A new client gets its own limiter built from the same configuration.
	if code := serve("10.0.0.2:1000"); code != http.StatusOK {
		t.Errorf("second client: expected OK, got %d", code)
	}
}

func TestCircuitBreakerMiddleware(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.RateLimiter.Enabled = false

	srv := newTestServer(t, cfg)
	// This handler will always fail, to trip the breaker
	srv.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	})

	testServer := httptest.NewServer(srv.httpServer.Handler)
	defer testServer.Close()

	// First 2 requests should fail and trip the circuit
	for i := 0; i < 2; i++ {
		resp, err := http.Get(testServer.URL + "/fail")
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("Expected status InternalServerError on request %d, got %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// The 3rd request should be blocked by the open circuit breaker
	resp, err := http.Get(testServer.URL + "/fail")
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status ServiceUnavailable on request 3, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Circuit Breaker is open") {
		t.Errorf("Expected body to contain 'Circuit Breaker is open', got '%s'", string(body))
	}
}

func TestClient_StatusErrors(t *testing.T) {
	calls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/bad" {
			http.Error(w, "bad input", http.StatusBadRequest)
			return
		}
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	client, err := NewClient(config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, Timeout: "1m"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	get := func(path string) error {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, backend.URL+path, nil)
		_, err := client.Do(req)
		return err
	}

	// A 4xx is returned to the caller but does not trip the breaker.
	err = get("/bad")
	se, ok := err.(*StatusError)
	if !ok || se.StatusCode != http.StatusBadRequest || se.Body != "bad input" {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if err := get("/down"); err == nil {
		t.Fatal("expected a 503 error")
	}
	if err := get("/down"); err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Fatalf("expected the breaker to be open, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 backend calls, got %d", calls)
	}
}
