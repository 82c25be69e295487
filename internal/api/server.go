// Package api exposes the question answering pipeline over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/auslex/auslex/internal/log"
)

// Config carries the dependencies and tunables for the HTTP surface.
type Config struct {
	Pipeline       Answerer
	Pinger         Pinger
	Logger         log.Logger
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustProxy enables X-Forwarded-For and X-Real-IP for rate limiting.
	// Leave off unless a trusted reverse proxy fronts this service.
	TrustProxy bool
}

// NewServer assembles the route table and middleware chain. Health probes
// bypass the middleware stack so orchestrators are never rate limited or
// logged per poll.
func NewServer(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	ask := &askHandler{pipeline: cfg.Pipeline, timeout: timeout, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(logger))
	mux.HandleFunc("GET /ready", readyHandler(cfg.Pinger, logger))

	api := http.NewServeMux()
	api.HandleFunc("POST /ask", ask.ask)

	var handler http.Handler = api
	if cfg.RateLimitRPS > 0 {
		rl := newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	}
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	mux.Handle("/", handler)
	return mux
}
