// Package tools is the outward-facing surface: a registry of named,
// schema-validated capabilities and the dispatcher that routes calls
// into the core components.
package tools

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

// Capability classifies what a tool may do to repository state.
type Capability string

const (
	CapabilityRead  Capability = "read"
	CapabilityWrite Capability = "write"
)

// Annotations are the safety hints surfaced with each tool so a caller
// can make pre-flight decisions without trial and error.
type Annotations struct {
	ReadOnly    bool `json:"read_only"`
	Destructive bool `json:"destructive"`
	OpenWorld   bool `json:"open_world"`
}

func defaultAnnotations(c Capability) Annotations {
	return Annotations{
		ReadOnly:    c != CapabilityWrite,
		Destructive: c == CapabilityWrite,
		OpenWorld:   true,
	}
}

// Handler executes one tool call. Arguments arrive schema-validated.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor describes one registered tool. Immutable after
// registration; per-call variation is expressed through
// ResolveCapability, never by mutating the descriptor.
type Descriptor struct {
	Name        string
	Description string
	Capability  Capability
	// ResolveCapability recomputes the effective capability from the
	// call's arguments. nil means Capability always holds.
	ResolveCapability func(args map[string]any) Capability
	// Annotations overrides the capability-derived defaults when set.
	Annotations *Annotations
	Schema      map[string]any
	Handler     Handler

	compiled *jsonschema.Schema
}

// EffectiveCapability resolves the capability for one call's arguments.
func (d *Descriptor) EffectiveCapability(args map[string]any) Capability {
	if d.ResolveCapability != nil {
		return d.ResolveCapability(args)
	}
	return d.Capability
}

// EffectiveAnnotations recomputes annotations for one call's arguments.
func (d *Descriptor) EffectiveAnnotations(args map[string]any) Annotations {
	if d.Annotations != nil {
		return *d.Annotations
	}
	return defaultAnnotations(d.EffectiveCapability(args))
}

// staticAnnotations are the catalog-listing annotations, derived from
// the declared capability before any arguments exist.
func (d *Descriptor) staticAnnotations() Annotations {
	if d.Annotations != nil {
		return *d.Annotations
	}
	return defaultAnnotations(d.Capability)
}

// writeCapable reports whether any argument shape can make this tool
// mutate state. Dynamic tools count as write-capable.
func (d *Descriptor) writeCapable() bool {
	return d.Capability == CapabilityWrite || d.ResolveCapability != nil
}

func (d *Descriptor) validate(args map[string]any) error {
	if d.compiled == nil {
		return nil
	}
	instance := any(args)
	if args == nil {
		instance = map[string]any{}
	}
	if err := d.compiled.Validate(instance); err != nil {
		return fault.Wrap(err, fault.Validation, "invalid_arguments",
			"arguments rejected by the %s schema: %v", d.Name, err).
			WithContext("tool", d.Name)
	}
	return nil
}

// typed adapts a function taking a typed request struct into a Handler.
// The schema has already validated shape and types; decode failures are
// still mapped to validation faults rather than reaching the handler.
func typed[Req any](fn func(ctx context.Context, req Req) (any, error)) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		var req Req
		if err := mapstructure.Decode(args, &req); err != nil {
			return nil, fault.Wrap(err, fault.Validation, "bad_arguments",
				"arguments do not decode: %v", err)
		}
		return fn(ctx, req)
	}
}
