// Copyright 2026 Chalk Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server is the HTTP front door: the streaming conversation
// endpoint, the feedback sink, health checks, and the mounted JSON-RPC
// tool endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/admission"
	"github.com/chalklabs/abacus/pkg/agent"
	"github.com/chalklabs/abacus/pkg/audit"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// HTTPServer serves the conversation API.
type HTTPServer struct {
	orchestrator *agent.Orchestrator
	gate         *admission.Gate
	budget       *admission.BudgetGate
	auditStore   *audit.Store
	rpcHandler   http.Handler
	logger       *zap.Logger
	corsConfig   CORSConfig
	httpServer   *http.Server
}

// Option configures an HTTPServer.
type Option func(*HTTPServer)

// WithAdmissionGate enables per-caller rate limiting on the chat
// endpoint.
func WithAdmissionGate(gate *admission.Gate) Option {
	return func(s *HTTPServer) { s.gate = gate }
}

// WithBudgetGate enables the global daily token budget.
func WithBudgetGate(budget *admission.BudgetGate) Option {
	return func(s *HTTPServer) { s.budget = budget }
}

// WithAuditStore enables the feedback endpoint.
func WithAuditStore(store *audit.Store) Option {
	return func(s *HTTPServer) { s.auditStore = store }
}

// WithRPCHandler mounts the JSON-RPC tool endpoint at /rpc.
func WithRPCHandler(h http.Handler) Option {
	return func(s *HTTPServer) { s.rpcHandler = h }
}

// WithCORSConfig overrides the default CORS configuration.
func WithCORSConfig(cors CORSConfig) Option {
	return func(s *HTTPServer) { s.corsConfig = cors }
}

// NewHTTPServer creates the front door bound to addr.
func NewHTTPServer(orchestrator *agent.Orchestrator, addr string, logger *zap.Logger, opts ...Option) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &HTTPServer{
		orchestrator: orchestrator,
		logger:       logger,
		corsConfig:   DefaultCORSConfig(),
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // No timeout for SSE
			IdleTimeout:  120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route tree. Exposed for tests.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/v1/chat:stream", s.handleChatStream)
	mux.HandleFunc("/v1/feedback", s.handleFeedback)

	if s.rpcHandler != nil {
		mux.Handle("/rpc", s.rpcHandler)
	}

	var handler http.Handler = mux
	if s.corsConfig.Enabled {
		handler = s.corsMiddleware(mux)
	}
	return s.recoverMiddleware(handler)
}

// recoverMiddleware is the outermost boundary: panics are logged and
// converted to a generic internal error without leaking detail. If the
// stream has already started, the write fails silently and the
// connection just closes.
func (s *HTTPServer) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panicked",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.httpServer.Handler = s.Handler()

	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers to HTTP responses
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigin := s.getAllowedOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		}

		if s.corsConfig.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(s.corsConfig.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.corsConfig.AllowedMethods, ", "))
		}
		if len(s.corsConfig.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.corsConfig.AllowedHeaders, ", "))
		}
		if s.corsConfig.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", s.corsConfig.MaxAge))
		}

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getAllowedOrigin checks if the origin is allowed and returns it, or empty string if not
func (s *HTTPServer) getAllowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range s.corsConfig.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}
