// Package refs centralizes branch resolution. Every component that touches
// a ref resolves it here exactly once per operation; nothing re-derives ref
// logic locally.
package refs

// CanonicalAlias is the literal ref a caller may pass to target the
// controller repository's canonical branch without naming it.
const CanonicalAlias = "canonical"

// FallbackBranch is the effective ref when a caller omits ref on a
// repository that has no configured canonical branch.
const FallbackBranch = "main"

// Resolver decides which branch an operation actually targets. At most one
// repository is designated the controller repository; its canonical branch
// is the one the write gate protects. The zero value resolves every absent
// ref to FallbackBranch.
type Resolver struct {
	ControllerRepo  string
	CanonicalBranch string
}

// Canonical returns the controller repository's protected branch name.
func (r Resolver) Canonical() string {
	if r.CanonicalBranch == "" {
		return FallbackBranch
	}
	return r.CanonicalBranch
}

// Resolve maps (fullName, requested) to the effective ref. For the
// controller repository an absent ref or the canonical alias resolves to
// the canonical branch; any other explicit value passes through unchanged.
// For every other repository an absent ref resolves to FallbackBranch.
func (r Resolver) Resolve(fullName, requested string) string {
	if r.ControllerRepo != "" && fullName == r.ControllerRepo {
		if requested == "" || requested == CanonicalAlias || requested == r.Canonical() {
			return r.Canonical()
		}
		return requested
	}
	if requested == "" {
		return FallbackBranch
	}
	return requested
}

// IsCanonical reports whether an operation on (fullName, requested) would
// land on the controller repository's protected branch.
func (r Resolver) IsCanonical(fullName, requested string) bool {
	if r.ControllerRepo == "" || fullName != r.ControllerRepo {
		return false
	}
	return r.Resolve(fullName, requested) == r.Canonical()
}
