package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/ratelimit"
)

// Options configures the HTTP server.
type Options struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
	Limiter        ratelimit.Limiter
	RateLimiting   bool

	// OpenAPISpec, when non-empty, is served at GET /openapi.yaml.
	OpenAPISpec []byte
}

// Server is the control server's HTTP front end.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer builds the route table and middleware chain around the handler
// set.
func NewServer(h *Handlers, opts Options, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	operator := requireRole(model.RoleOperator)
	admin := requireRole(model.RoleAdmin)

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	ipLimited := rateLimitMiddleware(limiter, ipKeyFunc)

	// Unauthenticated surface.
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /version", h.HandleVersion)
	mux.Handle("POST /auth/token", ipLimited(http.HandlerFunc(h.HandleAuthToken)))
	if len(opts.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(opts.OpenAPISpec)
		})
	}

	// Executions.
	mux.Handle("POST /v1/executions", operator(http.HandlerFunc(h.HandleStartExecution)))
	mux.HandleFunc("GET /v1/executions", h.HandleListExecutions)
	mux.HandleFunc("GET /v1/executions/{execution_id}", h.HandleGetExecution)
	mux.Handle("POST /v1/executions/{execution_id}/stop", operator(http.HandlerFunc(h.HandleStopExecution)))
	mux.HandleFunc("GET /v1/executions/{execution_id}/results", h.HandleListResults)
	mux.HandleFunc("GET /v1/executions/{execution_id}/score", h.HandleExecutionScore)

	// Schedules.
	mux.Handle("POST /v1/schedules", operator(http.HandlerFunc(h.HandleCreateSchedule)))
	mux.HandleFunc("GET /v1/schedules", h.HandleListSchedules)
	mux.HandleFunc("GET /v1/schedules/{schedule_id}", h.HandleGetSchedule)
	mux.Handle("PUT /v1/schedules/{schedule_id}", operator(http.HandlerFunc(h.HandleUpdateSchedule)))
	mux.Handle("DELETE /v1/schedules/{schedule_id}", operator(http.HandlerFunc(h.HandleDeleteSchedule)))
	mux.Handle("POST /v1/schedules/{schedule_id}/pause", operator(http.HandlerFunc(h.HandlePauseSchedule)))
	mux.Handle("POST /v1/schedules/{schedule_id}/resume", operator(http.HandlerFunc(h.HandleResumeSchedule)))
	mux.Handle("POST /v1/schedules/{schedule_id}/run", operator(http.HandlerFunc(h.HandleRunSchedule)))
	mux.HandleFunc("GET /v1/schedules/{schedule_id}/runs", h.HandleListScheduleRuns)

	// Agents.
	mux.HandleFunc("GET /v1/agents", h.HandleListAgents)
	mux.HandleFunc("GET /v1/agents/{paw}", h.HandleGetAgent)
	mux.Handle("DELETE /v1/agents/{paw}", admin(http.HandlerFunc(h.HandleDeleteAgent)))

	// Catalog.
	mux.HandleFunc("GET /v1/techniques", h.HandleListTechniques)
	mux.HandleFunc("GET /v1/techniques/{technique_id}", h.HandleGetTechnique)
	mux.HandleFunc("GET /v1/scenarios", h.HandleListScenarios)
	mux.HandleFunc("GET /v1/scenarios/{scenario_id}", h.HandleGetScenario)
	mux.Handle("PUT /v1/scenarios/{scenario_id}", operator(http.HandlerFunc(h.HandlePutScenario)))
	mux.Handle("DELETE /v1/scenarios/{scenario_id}", operator(http.HandlerFunc(h.HandleDeleteScenario)))

	// Websockets.
	mux.HandleFunc("GET /ws/agent", h.HandleAgentSocket)
	mux.HandleFunc("GET /ws/dashboard", h.HandleDashboardSocket)

	// Chain order, outermost first: request ID, security headers, CORS,
	// tracing, logging, body cap, auth, per-subject rate limit, recovery.
	var handler http.Handler = mux
	handler = recoveryMiddleware(logger, handler)
	if opts.RateLimiting {
		handler = rateLimitMiddleware(limiter, subjectKeyFunc)(handler)
	}
	handler = authMiddleware(h.jwtMgr, handler)
	handler = maxBodyMiddleware(opts.MaxBodyBytes, handler)
	handler = loggingMiddleware(logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(opts.AllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Port),
			Handler:      handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		handler: handler,
		logger:  logger,
	}
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until the server is shut down. http.ErrServerClosed is
// swallowed since it signals a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
