package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/AdaptivMCP/gitward/internal/commit"
	"github.com/AdaptivMCP/gitward/internal/gate"
	"github.com/AdaptivMCP/gitward/internal/patch"
	"github.com/AdaptivMCP/gitward/internal/refs"
	"github.com/AdaptivMCP/gitward/internal/remote"
	"github.com/AdaptivMCP/gitward/internal/runner"
	"github.com/AdaptivMCP/gitward/internal/workspace"
)

// Deps carries the core components the catalog binds tools to.
type Deps struct {
	Gate       *gate.Gate
	Resolver   refs.Resolver
	Remote     remote.Client
	Commits    *commit.Orchestrator
	Workspaces *workspace.Manager
	Runner     *runner.Runner
}

// RegisterAll binds the complete tool catalog into reg.
func RegisterAll(reg *Registry, deps Deps) error {
	c := &catalog{deps: deps}
	for _, d := range c.descriptors() {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

type catalog struct {
	deps Deps
}

func (c *catalog) descriptors() []*Descriptor {
	return []*Descriptor{
		{
			Name:        "get_file",
			Description: "Read one file from the remote repository at a ref, returning its content and revision id.",
			Capability:  CapabilityRead,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"path":      schemaString("file path inside the repository"),
				"ref":       schemaString("branch, tag, or SHA; defaults to the repository's resolved branch"),
			}, "full_name", "path"),
			Handler: typed(c.getFile),
		},
		{
			Name:        "create_or_update_file",
			Description: "Commit a full replacement (or creation) of one file on a branch, verified by a read-back.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"path":      schemaString("file path inside the repository"),
				"content":   schemaString("the complete new file content"),
				"message":   schemaString("commit message; generated when omitted"),
				"ref":       schemaString("target branch; defaults to the repository's resolved branch"),
			}, "full_name", "path", "content"),
			Handler: typed(c.createOrUpdateFile),
		},
		{
			Name:        "apply_patch",
			Description: "Apply a unified diff to one file and commit the result. Context lines must match the live content exactly.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"path":      schemaString("file path inside the repository"),
				"diff":      schemaString("unified diff for this one file"),
				"message":   schemaString("commit message; generated when omitted"),
				"ref":       schemaString("target branch"),
				"normalize": map[string]any{
					"type":        "boolean",
					"description": "best-effort repair of single-line-encoded diffs before applying",
				},
			}, "full_name", "path", "diff"),
			Handler: typed(c.applyPatch),
		},
		{
			Name:        "replace_sections",
			Description: "Replace ordered, non-overlapping line ranges in one file and commit the result.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"path":      schemaString("file path inside the repository"),
				"sections": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items": map[string]any{
						"type":     "object",
						"required": []any{"start_line", "end_line", "replacement"},
						"properties": map[string]any{
							"start_line":  map[string]any{"type": "integer", "minimum": 1},
							"end_line":    map[string]any{"type": "integer", "minimum": 1},
							"replacement": map[string]any{"type": "string"},
						},
						"additionalProperties": false,
					},
				},
				"message": schemaString("commit message; generated when omitted"),
				"ref":     schemaString("target branch"),
			}, "full_name", "path", "sections"),
			Handler: typed(c.replaceSections),
		},
		{
			Name:        "edit_lines",
			Description: "Replace a single line span in one file and commit the result.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name":   schemaString("owner/repo"),
				"path":        schemaString("file path inside the repository"),
				"start_line":  map[string]any{"type": "integer", "minimum": 1},
				"end_line":    map[string]any{"type": "integer", "minimum": 1},
				"replacement": schemaString("the new text for the span"),
				"message":     schemaString("commit message; generated when omitted"),
				"ref":         schemaString("target branch"),
			}, "full_name", "path", "start_line", "end_line", "replacement"),
			Handler: typed(c.editLines),
		},
		{
			Name:        "create_branch",
			Description: "Create a branch from an existing ref.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"branch":    schemaString("name of the branch to create"),
				"from_ref":  schemaString("source ref; defaults to the repository's resolved branch"),
			}, "full_name", "branch"),
			Handler: typed(c.createBranch),
		},
		{
			Name:        "open_pull_request",
			Description: "Open a pull request from a head branch into a base branch.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"head":      schemaString("branch with the changes"),
				"base":      schemaString("branch to merge into; defaults to the repository's resolved branch"),
				"title":     schemaString("pull request title"),
				"body":      schemaString("pull request description"),
				"draft":     map[string]any{"type": "boolean"},
			}, "full_name", "head", "title"),
			Handler: typed(c.openPullRequest),
		},
		{
			Name:        "remote_api",
			Description: "Call the remote host API directly. GET is a read; every other method is an unscoped write.",
			Capability:  CapabilityWrite,
			ResolveCapability: func(args map[string]any) Capability {
				if m, ok := args["method"].(string); ok && strings.EqualFold(m, http.MethodGet) {
					return CapabilityRead
				}
				return CapabilityWrite
			},
			Schema: objectSchema(map[string]any{
				"method": map[string]any{
					"type": "string",
					"enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE"},
				},
				"path": schemaString("API path relative to the host root, e.g. repos/octo/widgets/issues"),
				"body": map[string]any{
					"type":        "object",
					"description": "JSON body for mutating methods",
				},
			}, "method", "path"),
			Handler: typed(c.remoteAPI),
		},
		{
			Name:        "run_command",
			Description: "Run a command inside the persistent workspace clone for a repository and ref.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"ref":       schemaString("branch the workspace tracks"),
				"command": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items":    map[string]any{"type": "string"},
				},
				"working_dir":     schemaString("directory relative to the workspace root"),
				"timeout_seconds": map[string]any{"type": "integer", "minimum": 1},
				"env": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
			}, "full_name", "command"),
			Handler: typed(c.runCommand),
		},
		{
			Name:        "ensure_workspace",
			Description: "Clone or open the persistent workspace for a repository and ref. reset discards all local state first.",
			Capability:  CapabilityWrite,
			ResolveCapability: func(args map[string]any) Capability {
				if reset, ok := args["reset"].(bool); ok && reset {
					return CapabilityWrite
				}
				return CapabilityRead
			},
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"ref":       schemaString("branch the workspace tracks"),
				"reset": map[string]any{
					"type":        "boolean",
					"description": "discard local commits and edits, hard-resetting to the remote head",
				},
			}, "full_name"),
			Handler: typed(c.ensureWorkspace),
		},
		{
			Name:        "workspace_status",
			Description: "Report local and remote heads, dirtiness, and ahead/behind counts for a workspace. Never mutates.",
			Capability:  CapabilityRead,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"ref":       schemaString("branch the workspace tracks"),
			}, "full_name"),
			Handler: typed(c.workspaceStatus),
		},
		{
			Name:        "sync_workspace",
			Description: "Hard-reset a workspace to the remote head. Refuses unless discard_local_changes is set when local work would be lost.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"ref":       schemaString("branch the workspace tracks"),
				"discard_local_changes": map[string]any{
					"type":        "boolean",
					"description": "explicit opt-in to drop local commits and edits",
				},
			}, "full_name"),
			Handler: typed(c.syncWorkspace),
		},
		{
			Name:        "heal_workspace",
			Description: "Recover a wedged workspace: abort stuck merge/rebase state, rebuild from a base ref, and recreate the branch fresh.",
			Capability:  CapabilityWrite,
			Schema: objectSchema(map[string]any{
				"full_name": schemaString("owner/repo"),
				"branch":    schemaString("the mangled branch to abandon"),
				"base_ref":  schemaString("known-good ref to rebuild from"),
				"new_branch": schemaString(
					"name for the fresh branch; defaults to recreating the original name"),
				"delete_remote": map[string]any{
					"type":        "boolean",
					"description": "also delete the branch on the remote",
				},
			}, "full_name", "branch", "base_ref"),
			Handler: typed(c.healWorkspace),
		},
		{
			Name:        "authorize_writes",
			Description: "Enable or disable writes to the canonical branch and unscoped repository state. Takes effect immediately.",
			Capability:  CapabilityWrite,
			Annotations: &Annotations{ReadOnly: false, Destructive: false, OpenWorld: false},
			Schema: objectSchema(map[string]any{
				"approved": map[string]any{
					"type":        "boolean",
					"description": "true enables canonical-branch and unscoped writes until revoked or restart",
				},
			}, "approved"),
			Handler: typed(c.authorizeWrites),
		},
	}
}

func schemaString(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		reqd := make([]any, len(required))
		for i, r := range required {
			reqd[i] = r
		}
		s["required"] = reqd
	}
	return s
}

type getFileArgs struct {
	FullName string `mapstructure:"full_name"`
	Path     string `mapstructure:"path"`
	Ref      string `mapstructure:"ref"`
}

func (c *catalog) getFile(ctx context.Context, a getFileArgs) (any, error) {
	ref := c.deps.Resolver.Resolve(a.FullName, a.Ref)
	return c.deps.Remote.GetFile(ctx, a.FullName, a.Path, ref)
}

type putFileArgs struct {
	FullName string `mapstructure:"full_name"`
	Path     string `mapstructure:"path"`
	Content  string `mapstructure:"content"`
	Message  string `mapstructure:"message"`
	Ref      string `mapstructure:"ref"`
}

func (c *catalog) createOrUpdateFile(ctx context.Context, a putFileArgs) (any, error) {
	return c.deps.Commits.ReplaceFile(ctx, commit.ReplaceFileRequest{
		FullName: a.FullName,
		Ref:      a.Ref,
		Path:     a.Path,
		Content:  a.Content,
		Message:  a.Message,
	})
}

type applyPatchArgs struct {
	FullName  string `mapstructure:"full_name"`
	Path      string `mapstructure:"path"`
	Diff      string `mapstructure:"diff"`
	Message   string `mapstructure:"message"`
	Ref       string `mapstructure:"ref"`
	Normalize bool   `mapstructure:"normalize"`
}

func (c *catalog) applyPatch(ctx context.Context, a applyPatchArgs) (any, error) {
	return c.deps.Commits.ApplyUnifiedDiff(ctx, commit.ApplyDiffRequest{
		FullName:  a.FullName,
		Ref:       a.Ref,
		Path:      a.Path,
		Diff:      a.Diff,
		Message:   a.Message,
		Normalize: a.Normalize,
	})
}

type sectionArg struct {
	StartLine   int    `mapstructure:"start_line"`
	EndLine     int    `mapstructure:"end_line"`
	Replacement string `mapstructure:"replacement"`
}

type replaceSectionsArgs struct {
	FullName string       `mapstructure:"full_name"`
	Path     string       `mapstructure:"path"`
	Sections []sectionArg `mapstructure:"sections"`
	Message  string       `mapstructure:"message"`
	Ref      string       `mapstructure:"ref"`
}

func (c *catalog) replaceSections(ctx context.Context, a replaceSectionsArgs) (any, error) {
	ranges := make([]patch.Range, len(a.Sections))
	for i, s := range a.Sections {
		ranges[i] = patch.Range{Start: s.StartLine, End: s.EndLine, Replacement: s.Replacement}
	}
	return c.deps.Commits.ReplaceSections(ctx, commit.ReplaceSectionsRequest{
		FullName: a.FullName,
		Ref:      a.Ref,
		Path:     a.Path,
		Message:  a.Message,
		Ranges:   ranges,
	})
}

type editLinesArgs struct {
	FullName    string `mapstructure:"full_name"`
	Path        string `mapstructure:"path"`
	StartLine   int    `mapstructure:"start_line"`
	EndLine     int    `mapstructure:"end_line"`
	Replacement string `mapstructure:"replacement"`
	Message     string `mapstructure:"message"`
	Ref         string `mapstructure:"ref"`
}

func (c *catalog) editLines(ctx context.Context, a editLinesArgs) (any, error) {
	return c.deps.Commits.EditLines(ctx, commit.EditLinesRequest{
		FullName:    a.FullName,
		Ref:         a.Ref,
		Path:        a.Path,
		Message:     a.Message,
		StartLine:   a.StartLine,
		EndLine:     a.EndLine,
		Replacement: a.Replacement,
	})
}

type createBranchArgs struct {
	FullName string `mapstructure:"full_name"`
	Branch   string `mapstructure:"branch"`
	FromRef  string `mapstructure:"from_ref"`
}

func (c *catalog) createBranch(ctx context.Context, a createBranchArgs) (any, error) {
	if err := c.deps.Commits.CreateBranch(ctx, a.FullName, a.Branch, a.FromRef); err != nil {
		return nil, err
	}
	return map[string]any{"branch": a.Branch, "created": true}, nil
}

type openPullRequestArgs struct {
	FullName string `mapstructure:"full_name"`
	Head     string `mapstructure:"head"`
	Base     string `mapstructure:"base"`
	Title    string `mapstructure:"title"`
	Body     string `mapstructure:"body"`
	Draft    bool   `mapstructure:"draft"`
}

func (c *catalog) openPullRequest(ctx context.Context, a openPullRequestArgs) (any, error) {
	return c.deps.Commits.OpenPullRequest(ctx, remote.PullRequestInput{
		FullName: a.FullName,
		Head:     a.Head,
		Base:     a.Base,
		Title:    a.Title,
		Body:     a.Body,
		Draft:    a.Draft,
	})
}

type remoteAPIArgs struct {
	Method string         `mapstructure:"method"`
	Path   string         `mapstructure:"path"`
	Body   map[string]any `mapstructure:"body"`
}

func (c *catalog) remoteAPI(ctx context.Context, a remoteAPIArgs) (any, error) {
	method := strings.ToUpper(a.Method)
	if method == http.MethodGet {
		raw, err := c.deps.Remote.Fetch(ctx, a.Path)
		if err != nil {
			return nil, err
		}
		return rawResult(raw), nil
	}

	// Mutations through the raw passthrough have no target ref, so they
	// gate as unscoped writes.
	if err := c.deps.Gate.EnsureAllowed("remote_api", ""); err != nil {
		return nil, err
	}
	var body any
	if a.Body != nil {
		body = a.Body
	}
	raw, err := c.deps.Remote.Write(ctx, method, a.Path, body)
	if err != nil {
		return nil, err
	}
	return rawResult(raw), nil
}

func rawResult(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}

type runCommandArgs struct {
	FullName       string            `mapstructure:"full_name"`
	Ref            string            `mapstructure:"ref"`
	Command        []string          `mapstructure:"command"`
	WorkingDir     string            `mapstructure:"working_dir"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Env            map[string]string `mapstructure:"env"`
}

func (c *catalog) runCommand(ctx context.Context, a runCommandArgs) (any, error) {
	return c.deps.Runner.Run(ctx, runner.Request{
		FullName:       a.FullName,
		Ref:            a.Ref,
		Command:        a.Command,
		WorkingDir:     a.WorkingDir,
		TimeoutSeconds: a.TimeoutSeconds,
		Env:            a.Env,
	})
}

type ensureWorkspaceArgs struct {
	FullName string `mapstructure:"full_name"`
	Ref      string `mapstructure:"ref"`
	Reset    bool   `mapstructure:"reset"`
}

func (c *catalog) ensureWorkspace(ctx context.Context, a ensureWorkspaceArgs) (any, error) {
	ref := c.deps.Resolver.Resolve(a.FullName, a.Ref)
	if a.Reset {
		if err := c.deps.Gate.EnsureAllowed("ensure_workspace", ref); err != nil {
			return nil, err
		}
	}
	return c.deps.Workspaces.Ensure(ctx, a.FullName, ref, a.Reset)
}

type workspaceStatusArgs struct {
	FullName string `mapstructure:"full_name"`
	Ref      string `mapstructure:"ref"`
}

func (c *catalog) workspaceStatus(ctx context.Context, a workspaceStatusArgs) (any, error) {
	ref := c.deps.Resolver.Resolve(a.FullName, a.Ref)
	return c.deps.Workspaces.Status(ctx, a.FullName, ref)
}

type syncWorkspaceArgs struct {
	FullName            string `mapstructure:"full_name"`
	Ref                 string `mapstructure:"ref"`
	DiscardLocalChanges bool   `mapstructure:"discard_local_changes"`
}

func (c *catalog) syncWorkspace(ctx context.Context, a syncWorkspaceArgs) (any, error) {
	ref := c.deps.Resolver.Resolve(a.FullName, a.Ref)
	if err := c.deps.Gate.EnsureAllowed("sync_workspace", ref); err != nil {
		return nil, err
	}
	return c.deps.Workspaces.SyncToRemote(ctx, a.FullName, ref, a.DiscardLocalChanges)
}

type healWorkspaceArgs struct {
	FullName     string `mapstructure:"full_name"`
	Branch       string `mapstructure:"branch"`
	BaseRef      string `mapstructure:"base_ref"`
	NewBranch    string `mapstructure:"new_branch"`
	DeleteRemote bool   `mapstructure:"delete_remote"`
}

func (c *catalog) healWorkspace(ctx context.Context, a healWorkspaceArgs) (any, error) {
	branch := c.deps.Resolver.Resolve(a.FullName, a.Branch)
	if err := c.deps.Gate.EnsureAllowed("heal_workspace", branch); err != nil {
		return nil, err
	}
	return c.deps.Workspaces.SelfHeal(ctx, workspace.HealRequest{
		FullName:     a.FullName,
		Branch:       branch,
		BaseRef:      a.BaseRef,
		NewBranch:    a.NewBranch,
		DeleteRemote: a.DeleteRemote,
	})
}

type authorizeWritesArgs struct {
	Approved bool `mapstructure:"approved"`
}

func (c *catalog) authorizeWrites(_ context.Context, a authorizeWritesArgs) (any, error) {
	enabled := c.deps.Gate.Authorize(a.Approved)
	return map[string]any{"writes_enabled": enabled}, nil
}
