package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry holds the tool catalog. Registration happens once at startup;
// reads are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds one tool, compiling its argument schema. Duplicate names
// are rejected so a wiring mistake fails at startup, not at call time.
func (r *Registry) Register(d *Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("Register: tool name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("Register: tool %s has no handler", d.Name)
	}
	if d.Schema != nil {
		compiled, err := compileSchema(d.Name, d.Schema)
		if err != nil {
			return fmt.Errorf("Register: tool %s: %w", d.Name, err)
		}
		d.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("Register: tool %s is already registered", d.Name)
	}
	r.tools[d.Name] = d
	return nil
}

// compileSchema round-trips the schema map through JSON so hand-written
// Go literals (ints, typed slices) become plain decoded-JSON values
// before compilation.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// IsWrite reports whether name is a write-capable tool. Tools with a
// per-call capability resolver count as write-capable because some
// argument shape mutates state. ok is false for unknown names.
func (r *Registry) IsWrite(name string) (isWrite, ok bool) {
	d, found := r.Get(name)
	if !found {
		return false, false
	}
	return d.writeCapable(), true
}

// ToolInfo is the catalog entry handed to discovery callers.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Capability  Capability     `json:"capability"`
	Annotations Annotations    `json:"annotations"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// List enumerates every tool sorted by name. Schemas are included only
// when withSchemas is set; annotations always are.
func (r *Registry) List(withSchemas bool) []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.tools))
	for _, d := range r.tools {
		info := ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			Capability:  d.Capability,
			Annotations: d.staticAnnotations(),
		}
		if withSchemas {
			info.Schema = d.Schema
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
