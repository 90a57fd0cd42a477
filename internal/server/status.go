package server

import (
	"net/http"

	"github.com/AdaptivMCP/gitward/internal/metrics"
	"github.com/AdaptivMCP/gitward/internal/tools"
	"github.com/AdaptivMCP/gitward/internal/workspace"
)

// ToolList is the body of GET /v1/tools.
type ToolList struct {
	Tools []tools.ToolInfo `json:"tools"`
}

// handleListTools implements GET /v1/tools. Schemas are bulky, so they
// ride along only when ?schemas=true.
func (d *Dependencies) handleListTools(w http.ResponseWriter, r *http.Request) {
	withSchemas := r.URL.Query().Get("schemas") == "true"
	writeJSON(w, http.StatusOK, ToolList{Tools: d.Registry.List(withSchemas)})
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Status           string                     `json:"status"`
	UptimeSeconds    float64                    `json:"uptime_seconds"`
	WriteGateEnabled bool                       `json:"write_gate_enabled"`
	ControllerRepo   string                     `json:"controller_repo,omitempty"`
	ControllerBranch string                     `json:"controller_branch"`
	Workspaces       []workspace.KnownWorkspace `json:"workspaces"`
	Metrics          metrics.Snapshot           `json:"metrics"`
}

// handleStatus implements GET /v1/status: gate state, known clones, and
// the counter snapshot in one call.
func (d *Dependencies) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:           "ok",
		UptimeSeconds:    d.Metrics.Uptime().Seconds(),
		WriteGateEnabled: d.Gate.Enabled(),
		ControllerRepo:   d.Resolver.ControllerRepo,
		ControllerBranch: d.Resolver.Canonical(),
		Workspaces:       []workspace.KnownWorkspace{},
		Metrics:          d.Metrics.Snapshot(),
	}
	if d.Workspaces != nil {
		resp.Workspaces = d.Workspaces.Known()
	}
	writeJSON(w, http.StatusOK, resp)
}
