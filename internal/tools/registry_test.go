package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(_ context.Context, _ map[string]any) (any, error) {
	return nil, nil
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Descriptor{
		Name: "echo", Capability: CapabilityRead, Handler: noopHandler,
	}))
	err := reg.Register(&Descriptor{
		Name: "echo", Capability: CapabilityRead, Handler: noopHandler,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsIncompleteDescriptors(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register(&Descriptor{Capability: CapabilityRead, Handler: noopHandler}))
	require.Error(t, reg.Register(&Descriptor{Name: "no-handler", Capability: CapabilityRead}))
}

func TestRegistryRejectsUncompilableSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&Descriptor{
		Name:       "broken",
		Capability: CapabilityRead,
		Handler:    noopHandler,
		Schema:     map[string]any{"type": 12},
	})
	require.Error(t, err)
}

func TestDefaultAnnotationsFollowCapability(t *testing.T) {
	read := &Descriptor{Name: "r", Capability: CapabilityRead, Handler: noopHandler}
	write := &Descriptor{Name: "w", Capability: CapabilityWrite, Handler: noopHandler}

	ra := read.EffectiveAnnotations(nil)
	assert.True(t, ra.ReadOnly)
	assert.False(t, ra.Destructive)
	assert.True(t, ra.OpenWorld)

	wa := write.EffectiveAnnotations(nil)
	assert.False(t, wa.ReadOnly)
	assert.True(t, wa.Destructive)
	assert.True(t, wa.OpenWorld)
}

func TestAnnotationOverrideWins(t *testing.T) {
	d := &Descriptor{
		Name:        "toggle",
		Capability:  CapabilityWrite,
		Annotations: &Annotations{ReadOnly: false, Destructive: false, OpenWorld: false},
		Handler:     noopHandler,
	}
	a := d.EffectiveAnnotations(map[string]any{"anything": true})
	assert.False(t, a.Destructive)
	assert.False(t, a.OpenWorld)
}

func TestDynamicCapabilityRecomputesAnnotations(t *testing.T) {
	d := &Descriptor{
		Name:       "dyn",
		Capability: CapabilityWrite,
		ResolveCapability: func(args map[string]any) Capability {
			if v, ok := args["mutate"].(bool); ok && v {
				return CapabilityWrite
			}
			return CapabilityRead
		},
		Handler: noopHandler,
	}

	assert.Equal(t, CapabilityRead, d.EffectiveCapability(map[string]any{}))
	assert.Equal(t, CapabilityWrite, d.EffectiveCapability(map[string]any{"mutate": true}))

	assert.True(t, d.EffectiveAnnotations(map[string]any{}).ReadOnly)
	assert.True(t, d.EffectiveAnnotations(map[string]any{"mutate": true}).Destructive)

	// The listing stays conservative regardless of argument shapes.
	assert.False(t, d.staticAnnotations().ReadOnly)
}

func TestIsWrite(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Descriptor{Name: "read-tool", Capability: CapabilityRead, Handler: noopHandler}))
	require.NoError(t, reg.Register(&Descriptor{Name: "write-tool", Capability: CapabilityWrite, Handler: noopHandler}))
	require.NoError(t, reg.Register(&Descriptor{
		Name:              "dyn-tool",
		Capability:        CapabilityRead,
		ResolveCapability: func(map[string]any) Capability { return CapabilityRead },
		Handler:           noopHandler,
	}))

	isWrite, ok := reg.IsWrite("read-tool")
	require.True(t, ok)
	assert.False(t, isWrite)

	isWrite, ok = reg.IsWrite("write-tool")
	require.True(t, ok)
	assert.True(t, isWrite)

	// A dynamic tool counts as write-capable for pre-flight decisions.
	isWrite, ok = reg.IsWrite("dyn-tool")
	require.True(t, ok)
	assert.True(t, isWrite)

	_, ok = reg.IsWrite("missing")
	assert.False(t, ok)
}

func TestRegistryListSortsAndTogglesSchemas(t *testing.T) {
	reg := NewRegistry()
	schema := objectSchema(map[string]any{"x": schemaString("")}, "x")
	require.NoError(t, reg.Register(&Descriptor{Name: "zeta", Capability: CapabilityRead, Schema: schema, Handler: noopHandler}))
	require.NoError(t, reg.Register(&Descriptor{Name: "alpha", Capability: CapabilityWrite, Schema: schema, Handler: noopHandler}))

	bare := reg.List(false)
	require.Len(t, bare, 2)
	assert.Equal(t, "alpha", bare[0].Name)
	assert.Equal(t, "zeta", bare[1].Name)
	assert.Nil(t, bare[0].Schema)
	assert.True(t, bare[0].Annotations.Destructive)

	full := reg.List(true)
	require.NotNil(t, full[0].Schema)
	assert.Equal(t, "object", full[0].Schema["type"])
}

func TestCatalogBindsEveryTool(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterAll(reg, Deps{}))

	wantTools := []string{
		"apply_patch", "authorize_writes", "create_branch",
		"create_or_update_file", "edit_lines", "ensure_workspace",
		"get_file", "heal_workspace", "open_pull_request", "remote_api",
		"replace_sections", "run_command", "sync_workspace",
		"workspace_status",
	}
	infos := reg.List(true)
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
		assert.NotEmpty(t, info.Description, "%s needs a description", info.Name)
		assert.NotNil(t, info.Schema, "%s needs a schema", info.Name)
		assert.Contains(t, []Capability{CapabilityRead, CapabilityWrite}, info.Capability)
	}
	assert.Equal(t, wantTools, names)

	// The flag toggle is deliberately neither destructive nor open-world.
	auth, ok := reg.Get("authorize_writes")
	require.True(t, ok)
	a := auth.EffectiveAnnotations(nil)
	assert.False(t, a.Destructive)
	assert.False(t, a.OpenWorld)

	// Read-only probes stay read-only.
	for _, name := range []string{"get_file", "workspace_status"} {
		isWrite, ok := reg.IsWrite(name)
		require.True(t, ok)
		assert.False(t, isWrite, "%s must be a read tool", name)
	}
}
