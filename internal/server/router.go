// Package server exposes the tool catalog over HTTP: one invocation
// endpoint, catalog discovery, operator status, and a health probe.
// Transport concerns stop here; everything below the router speaks
// tools.Dispatcher and the fault taxonomy.
package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/AdaptivMCP/gitward/internal/auth"
	"github.com/AdaptivMCP/gitward/internal/gate"
	"github.com/AdaptivMCP/gitward/internal/metrics"
	"github.com/AdaptivMCP/gitward/internal/refs"
	"github.com/AdaptivMCP/gitward/internal/tools"
	"github.com/AdaptivMCP/gitward/internal/workspace"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Auth       auth.Authenticator
	Dispatcher *tools.Dispatcher
	Registry   *tools.Registry
	Gate       *gate.Gate
	Resolver   refs.Resolver
	Workspaces *workspace.Manager
	Metrics    *metrics.Registry
	Logger     *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Tool surface (auth required via Bearer gwk_ token)
	mux.HandleFunc("POST /v1/tools/call", deps.requireAuth(deps.handleCall))
	mux.HandleFunc("GET /v1/tools", deps.requireAuth(deps.handleListTools))
	mux.HandleFunc("GET /v1/status", deps.requireAuth(deps.handleStatus))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return requestLogging(mux, deps.Logger)
}
