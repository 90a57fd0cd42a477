// Package fault defines the structured error taxonomy shared by every
// component. A fault carries a category (what went wrong), a stable code,
// a human-readable message, an optional remediation hint, and enough
// context (repo, ref, path) to reproduce the failure without re-deriving
// state.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category classifies a failure by the remediation it calls for.
type Category string

const (
	// Validation covers bad arguments. Resolved locally, never reaches
	// the remote.
	Validation Category = "validation"
	// WriteNotAuthorized is a write-gate rejection.
	WriteNotAuthorized Category = "write_not_authorized"
	// StaleBase is an optimistic-concurrency conflict on commit.
	StaleBase Category = "stale_base"
	// PatchDoesNotApply means a diff or section patch was rejected
	// before any remote write.
	PatchDoesNotApply Category = "patch_does_not_apply"

	RemoteNotFound    Category = "remote_not_found"
	RemotePermission  Category = "remote_permission"
	RemoteRateLimited Category = "remote_rate_limited"
	RemoteTimeout     Category = "remote_timeout"

	CommandTimeout     Category = "command_timeout"
	WorkspaceCorrupted Category = "workspace_corrupted"
)

// Retryable reports whether failures in this category are worth retrying
// with backoff. The server itself never retries; it only marks.
func (c Category) Retryable() bool {
	return c == RemoteRateLimited || c == RemoteTimeout
}

// Error is the single error shape operations return to callers.
type Error struct {
	Category  Category          `json:"category"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Hint      string            `json:"hint,omitempty"`
	Retryable bool              `json:"retryable"`
	Context   map[string]string `json:"context,omitempty"`

	cause error
}

// New builds a fault with the category's default retryability.
func New(category Category, code, format string, args ...any) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: category.Retryable(),
	}
}

// Wrap builds a fault around an underlying error, keeping it reachable
// through errors.Is / errors.As.
func Wrap(err error, category Category, code, format string, args ...any) *Error {
	f := New(category, code, format, args...)
	f.cause = err
	return f
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s/%s: %s", e.Category, e.Code, e.Message)
	if len(e.Context) == 0 {
		return msg
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+e.Context[k])
	}
	return msg + " (" + strings.Join(pairs, " ") + ")"
}

func (e *Error) Unwrap() error { return e.cause }

// WithHint attaches a remediation hint, e.g. "call authorize_writes first".
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithContext attaches one reproduction detail such as repo, ref, or path.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string, 4)
	}
	e.Context[key] = value
	return e
}

// WithRepoRef attaches the repo and ref an operation was targeting.
func (e *Error) WithRepoRef(fullName, ref string) *Error {
	return e.WithContext("repo", fullName).WithContext("ref", ref)
}

// From extracts the structured fault from err, unwrapping as needed.
func From(err error) (*Error, bool) {
	var f *Error
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// CategoryOf returns err's category, or "" when err carries no fault.
func CategoryOf(err error) Category {
	if f, ok := From(err); ok {
		return f.Category
	}
	return ""
}

// Is reports whether err (or anything it wraps) carries the category.
func Is(err error, category Category) bool {
	return CategoryOf(err) == category
}

// Ensure converts any error into a fault. Structured errors pass through
// unchanged; everything else is wrapped under the given category and code.
func Ensure(err error, category Category, code string) *Error {
	if f, ok := From(err); ok {
		return f
	}
	return Wrap(err, category, code, "%s", err.Error())
}
