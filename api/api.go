// Package api exposes the inbound HTTP surface of the nutrition agent:
// POST /invocations runs the agent on a prompt, GET /healthz reports
// dependency health. A fresh runner is built per request via an injected
// factory so invocations never share transcript state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/petclinic/nutrition-agent/agent/runtime"
	"github.com/petclinic/nutrition-agent/agent/telemetry"
)

type (
	// RunnerFactory builds a fresh agent runner for a single invocation.
	RunnerFactory func() (*runtime.Runner, error)

	// Options configures the HTTP server.
	Options struct {
		// Runners builds a runner per request. Required.
		Runners RunnerFactory

		// HealthPingers report dependency health on /healthz.
		HealthPingers []health.Pinger

		// Logger defaults to a no-op logger when nil.
		Logger telemetry.Logger

		// Debug mounts the debug log enabler and logs request/response
		// bodies when debug logging is on.
		Debug bool
	}

	// Server handles the agent's HTTP endpoints.
	Server struct {
		runners RunnerFactory
		logger  telemetry.Logger
	}

	invokeRequest struct {
		Prompt string `json:"prompt"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

// New validates options and builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Runners == nil {
		return nil, errors.New("api: runner factory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		runners: opts.Runners,
		logger:  logger,
	}, nil
}

// Handler builds the HTTP handler: routes plus clue debug and request
// logging middleware. ctx carries the logger used by log.HTTP.
func Handler(ctx context.Context, srv *Server, opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invocations", srv.handleInvoke)
	mux.Handle("GET /healthz", health.Handler(health.NewChecker(opts.HealthPingers...)))
	if opts.Debug {
		debug.MountDebugLogEnabler(mux)
		debug.MountPprofHandlers(mux)
	}

	var handler http.Handler = mux
	if opts.Debug {
		// Log request and response bodies if debug logs are enabled.
		handler = debug.HTTP()(handler)
	}
	return log.HTTP(ctx)(handler)
}

// handleInvoke decodes the prompt, runs the agent, and writes the generated
// text as a JSON-encoded string.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}

	runner, err := s.runners()
	if err != nil {
		s.logger.Error(ctx, "runner construction failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	text, err := runner.Invoke(ctx, req.Prompt)
	if err != nil {
		s.logger.Error(ctx, "invocation failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "agent invocation failed"})
		return
	}
	writeJSON(w, http.StatusOK, text)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
