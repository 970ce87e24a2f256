package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ragcompare/backend/go/internal/config"
	"ragcompare/backend/go/pkg/circuitbreaker"
	"ragcompare/backend/go/pkg/httpmiddleware"
	"ragcompare/backend/go/pkg/logger"
	"ragcompare/backend/go/pkg/ratelimiter"
)

// Middleware defines a function to wrap an http.Handler.
type Middleware func(http.Handler) http.Handler

// Server wraps http.Server with the configured middleware chain in front of a mux.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	log        *logger.Logger
}

// ServerOption defines a function for configuring a Server.
type ServerOption func(*Server)

// WithAddress sets the address for the server to listen on.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// NewServer builds a Server, applying rate limiting and circuit breaking when
// the middleware config enables them.
func NewServer(cfg *config.AppConfig, opts ...ServerOption) (*Server, error) {
	mux := http.NewServeMux()
	srv := &Server{
		httpServer: &http.Server{ReadHeaderTimeout: 10 * time.Second},
		mux:        mux,
		log:        logger.New("http_server", "", ""),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = ":8080"
	}

	var middlewares []Middleware

	if cfg.Middleware.RateLimiter.Enabled {
		mw, err := rateLimitMiddleware(cfg.Middleware.RateLimiter)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		srv.log.WithPayload(map[string]interface{}{
			"algorithm":  cfg.Middleware.RateLimiter.Algorithm,
			"per_client": cfg.Middleware.RateLimiter.PerClient,
		}).Info("rate limiter enabled")
		middlewares = append(middlewares, mw)
	}

	if cfg.Middleware.CircuitBreaker.Enabled {
		breaker, err := createCircuitBreaker(cfg.Middleware.CircuitBreaker)
		if err != nil {
			return nil, fmt.Errorf("failed to create circuit breaker: %w", err)
		}
		srv.log.Info("circuit breaker enabled")
		middlewares = append(middlewares, httpmiddleware.CircuitBreak(breaker))
	}

	var handler http.Handler = mux
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	srv.httpServer.Handler = handler
	return srv, nil
}

// Handle registers the handler for the given pattern.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// HandleFunc registers the handler function for the given pattern.
func (s *Server) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func rateLimitMiddleware(cfg config.RateLimiterConfig) (Middleware, error) {
	factory, err := limiterFactory(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.PerClient {
		return httpmiddleware.RateLimit(factory()), nil
	}
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = 1024
	}
	keyed, err := ratelimiter.NewKeyed(factory, maxClients, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	return httpmiddleware.RateLimitPerClient(keyed), nil
}

// limiterFactory validates the configuration once and returns a constructor
// that cannot fail, so per-client limiters are built lazily from it.
func limiterFactory(cfg config.RateLimiterConfig) (func() ratelimiter.RateLimiter, error) {
	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = "tokenBucket"
	}

	switch algorithm {
	case "tokenBucket":
		conf := cfg.TokenBucket
		return func() ratelimiter.RateLimiter {
			return ratelimiter.NewTokenBucket(conf.Rate, conf.Capacity)
		}, nil
	case "fixedWindow":
		conf := cfg.FixedWindow
		window, err := time.ParseDuration(conf.Window)
		if err != nil {
			return nil, fmt.Errorf("invalid fixedWindow duration: %w", err)
		}
		return func() ratelimiter.RateLimiter {
			return ratelimiter.NewFixedWindowCounter(conf.Limit, window)
		}, nil
	default:
		return nil, fmt.Errorf("unknown rate limiter algorithm: %s", cfg.Algorithm)
	}
}

// createCircuitBreaker initializes a circuit breaker based on the configuration.
func createCircuitBreaker(cfg config.CircuitBreakerConfig) (circuitbreaker.CircuitBreaker, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid circuit breaker timeout duration: %w", err)
	}
	return circuitbreaker.New(cfg.FailureThreshold, cfg.SuccessThreshold, timeout,
		circuitbreaker.IgnoreErrors(func(err error) bool {
			return errors.Is(err, context.Canceled)
		})), nil
}

// NewBreaker exposes the configured breaker construction to other packages.
func NewBreaker(cfg config.CircuitBreakerConfig) (circuitbreaker.CircuitBreaker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return createCircuitBreaker(cfg)
}
