package server

import (
	"net/http"

	"github.com/AdaptivMCP/gitward/internal/fault"
	"github.com/AdaptivMCP/gitward/internal/tools"
)

// CallRequest is the body of POST /v1/tools/call.
type CallRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// CallResponse is the invocation envelope. Success carries the result;
// failure carries the structured fault. Both carry the request id so a
// caller can correlate with the event stream.
type CallResponse struct {
	OK bool `json:"ok"`
	*tools.CallResult
	Error *fault.Error `json:"error,omitempty"`
}

// statusFor maps a fault category to the HTTP status of the envelope.
func statusFor(category fault.Category) int {
	switch category {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.WriteNotAuthorized, fault.RemotePermission:
		return http.StatusForbidden
	case fault.RemoteNotFound:
		return http.StatusNotFound
	case fault.StaleBase, fault.WorkspaceCorrupted:
		return http.StatusConflict
	case fault.PatchDoesNotApply:
		return http.StatusUnprocessableEntity
	case fault.RemoteRateLimited:
		return http.StatusTooManyRequests
	case fault.RemoteTimeout, fault.CommandTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleCall implements POST /v1/tools/call. Auth middleware has already
// validated the Bearer token and injected the principal.
func (d *Dependencies) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid JSON body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tool is required"})
		return
	}

	caller := "anonymous"
	if p := principalFromContext(r.Context()); p != nil {
		caller = p.Name
	}

	res, err := d.Dispatcher.Dispatch(r.Context(), caller, req.Tool, req.Args)
	if err == nil {
		writeJSON(w, http.StatusOK, CallResponse{OK: true, CallResult: res})
		return
	}

	status := http.StatusInternalServerError
	f, ok := fault.From(err)
	if ok {
		status = statusFor(f.Category)
	} else {
		// Nothing below the dispatcher should leak plain errors; keep the
		// envelope shape anyway.
		f = &fault.Error{Code: "internal_error", Message: err.Error()}
	}
	writeJSON(w, status, CallResponse{OK: false, CallResult: res, Error: f})
}
