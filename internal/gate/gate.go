// Package gate implements the write-approval gate. Every mutating
// operation passes through EnsureAllowed before it touches remote or
// workspace state; nothing else in the process may flip the flag.
package gate

import (
	"sync"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

// AuthorizeHint is the remediation attached to every gate rejection.
const AuthorizeHint = "call authorize_writes with approved=true, then retry"

// Gate holds the process-wide writes_enabled flag plus the name of the
// protected canonical branch. The flag is never persisted; it resets to
// its configured default on restart.
type Gate struct {
	mu        sync.Mutex
	enabled   bool
	canonical string
}

// New builds a gate protecting canonicalBranch, starting in the given
// state.
func New(canonicalBranch string, enabledByDefault bool) *Gate {
	return &Gate{enabled: enabledByDefault, canonical: canonicalBranch}
}

// Authorize sets the global flag and returns the new state. This is the
// single mutator and is deliberately not gated itself.
func (g *Gate) Authorize(approved bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = approved
	return g.enabled
}

// Enabled reports the current flag state.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// EnsureAllowed decides whether the named operation may proceed against
// targetRef. An empty targetRef marks an unscoped (global) write, which
// requires the flag, as does a write to the canonical branch. Writes to
// any other ref are always allowed so an agent can iterate on feature
// branches without approval.
func (g *Gate) EnsureAllowed(op, targetRef string) error {
	g.mu.Lock()
	enabled := g.enabled
	canonical := g.canonical
	g.mu.Unlock()

	if enabled {
		return nil
	}
	if targetRef != "" && targetRef != canonical {
		return nil
	}

	scope := "the canonical branch"
	if targetRef == "" {
		scope = "global repository state"
	}
	f := fault.New(fault.WriteNotAuthorized, "writes_disabled",
		"%s targets %s and writes are not authorized", op, scope).
		WithHint(AuthorizeHint).
		WithContext("operation", op)
	if targetRef != "" {
		f = f.WithContext("target_ref", targetRef)
	}
	return f
}
