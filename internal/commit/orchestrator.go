// Package commit orchestrates file mutations against the remote: read
// current state, compute the new content in memory, write with the prior
// revision, then re-read and verify. Patch mechanics are pure functions in
// internal/patch; this package owns gating, serialization, and
// verification.
package commit

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/AdaptivMCP/gitward/internal/fault"
	"github.com/AdaptivMCP/gitward/internal/gate"
	"github.com/AdaptivMCP/gitward/internal/patch"
	"github.com/AdaptivMCP/gitward/internal/refs"
	"github.com/AdaptivMCP/gitward/internal/remote"
)

// Invalidator is notified after every successful commit so stale local
// clones become observable. Implementations must not block.
type Invalidator interface {
	InvalidateAsync(fullName, ref string)
}

// Orchestrator serializes and verifies commits per (full_name, ref).
type Orchestrator struct {
	client      remote.Client
	gate        *gate.Gate
	resolver    refs.Resolver
	invalidator Invalidator
	logger      *zap.Logger
	locks       keyedLocks
}

// Config wires an Orchestrator.
type Config struct {
	Client      remote.Client
	Gate        *gate.Gate
	Resolver    refs.Resolver
	Invalidator Invalidator
	Logger      *zap.Logger
}

// New creates an Orchestrator. Invalidator may be nil when no workspace
// manager is attached.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		client:      cfg.Client,
		gate:        cfg.Gate,
		resolver:    cfg.Resolver,
		invalidator: cfg.Invalidator,
		logger:      logger,
	}
}

// Result reports one verified commit.
type Result struct {
	Path          string `json:"path"`
	Branch        string `json:"branch"`
	Revision      string `json:"revision"`
	PriorRevision string `json:"prior_revision,omitempty"`
	CommitSHA     string `json:"commit_sha,omitempty"`
	Created       bool   `json:"created"`
	Verified      bool   `json:"verified"`
	DiffSummary   string `json:"diff_summary,omitempty"`
}

// ReplaceFileRequest fully replaces (or creates) one file.
type ReplaceFileRequest struct {
	FullName string
	Ref      string
	Path     string
	Content  string
	Message  string
}

// ReplaceFile commits req.Content as the file's new content. A missing
// file is created; an existing one is replaced under its read revision.
func (o *Orchestrator) ReplaceFile(ctx context.Context, req ReplaceFileRequest) (*Result, error) {
	return o.commitFile(ctx, commitSpec{
		op:          "create_or_update_file",
		fullName:    req.FullName,
		ref:         req.Ref,
		path:        req.Path,
		message:     req.Message,
		allowCreate: true,
		compute: func(current string) (string, error) {
			return req.Content, nil
		},
	})
}

// ApplyDiffRequest applies a unified diff to one file.
type ApplyDiffRequest struct {
	FullName  string
	Ref       string
	Path      string
	Diff      string
	Message   string
	Normalize bool
}

// ApplyUnifiedDiff applies req.Diff against the live file content using
// strict context matching. Any mismatch aborts before the remote write.
func (o *Orchestrator) ApplyUnifiedDiff(ctx context.Context, req ApplyDiffRequest) (*Result, error) {
	diff := req.Diff
	if req.Normalize {
		diff = patch.Normalize(diff)
	}
	return o.commitFile(ctx, commitSpec{
		op:       "apply_patch",
		fullName: req.FullName,
		ref:      req.Ref,
		path:     req.Path,
		message:  req.Message,
		compute: func(current string) (string, error) {
			return patch.ApplyUnified(current, diff)
		},
	})
}

// ReplaceSectionsRequest rewrites ordered, non-overlapping line ranges.
type ReplaceSectionsRequest struct {
	FullName string
	Ref      string
	Path     string
	Message  string
	Ranges   []patch.Range
}

// ReplaceSections validates the ranges, applies them from last to first,
// and commits the result under full-replace semantics.
func (o *Orchestrator) ReplaceSections(ctx context.Context, req ReplaceSectionsRequest) (*Result, error) {
	// Shape problems (order, overlap, inverted spans) are rejected
	// before anything is read; bounds are checked against the fetched
	// content inside compute.
	if err := patch.ValidateRanges(req.Ranges, math.MaxInt); err != nil {
		return nil, err
	}
	return o.commitFile(ctx, commitSpec{
		op:       "replace_sections",
		fullName: req.FullName,
		ref:      req.Ref,
		path:     req.Path,
		message:  req.Message,
		compute: func(current string) (string, error) {
			return patch.ApplyRanges(current, req.Ranges)
		},
	})
}

// EditLinesRequest rewrites a single line span.
type EditLinesRequest struct {
	FullName    string
	Ref         string
	Path        string
	Message     string
	StartLine   int
	EndLine     int
	Replacement string
}

// EditLines is the single-range convenience over ReplaceSections, with
// identical validation and apply order.
func (o *Orchestrator) EditLines(ctx context.Context, req EditLinesRequest) (*Result, error) {
	ranges := []patch.Range{{
		Start:       req.StartLine,
		End:         req.EndLine,
		Replacement: req.Replacement,
	}}
	if err := patch.ValidateRanges(ranges, math.MaxInt); err != nil {
		return nil, err
	}
	return o.commitFile(ctx, commitSpec{
		op:       "edit_lines",
		fullName: req.FullName,
		ref:      req.Ref,
		path:     req.Path,
		message:  req.Message,
		compute: func(current string) (string, error) {
			return patch.ApplyRanges(current, ranges)
		},
	})
}

// CreateBranch creates a branch off fromRef. The gate target is the new
// branch name: branch creation writes that ref, not its source.
func (o *Orchestrator) CreateBranch(ctx context.Context, fullName, name, fromRef string) error {
	if name == "" {
		return fault.New(fault.Validation, "missing_branch_name", "branch name is required")
	}
	if err := o.gate.EnsureAllowed("create_branch", name); err != nil {
		return err
	}
	from := o.resolver.Resolve(fullName, fromRef)
	if err := o.client.CreateBranch(ctx, fullName, name, from); err != nil {
		return err
	}
	o.logger.Info("branch created",
		zap.String("repo", fullName),
		zap.String("branch", name),
		zap.String("from", from),
	)
	return nil
}

// OpenPullRequest opens a PR from head into base. Opening a PR mutates
// repository state outside any single branch, so it is gated as an
// unscoped write.
func (o *Orchestrator) OpenPullRequest(ctx context.Context, req remote.PullRequestInput) (*remote.PullRequest, error) {
	if req.Head == "" || req.Title == "" {
		return nil, fault.New(fault.Validation, "missing_fields", "head and title are required")
	}
	if err := o.gate.EnsureAllowed("open_pull_request", ""); err != nil {
		return nil, err
	}
	req.Base = o.resolver.Resolve(req.FullName, req.Base)
	pr, err := o.client.OpenPullRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	o.logger.Info("pull request opened",
		zap.String("repo", req.FullName),
		zap.String("head", req.Head),
		zap.String("base", req.Base),
		zap.Int("number", pr.Number),
	)
	return pr, nil
}

type commitSpec struct {
	op          string
	fullName    string
	ref         string
	path        string
	message     string
	allowCreate bool
	// compute builds the new content from the current content. It must
	// be pure; faults abort the commit before any remote write.
	compute func(current string) (string, error)
}

func (o *Orchestrator) commitFile(ctx context.Context, spec commitSpec) (*Result, error) {
	if spec.path == "" {
		return nil, fault.New(fault.Validation, "missing_path", "path is required")
	}
	branch := o.resolver.Resolve(spec.fullName, spec.ref)
	if err := o.gate.EnsureAllowed(spec.op, branch); err != nil {
		return nil, err
	}

	// Two commits to the same (full_name, ref) serialize so the second
	// read observes the first write.
	unlock := o.locks.lock(spec.fullName + "@" + branch)
	defer unlock()

	var original, prior string
	created := false
	current, err := o.client.GetFile(ctx, spec.fullName, spec.path, branch)
	switch {
	case err == nil:
		original = current.Content
		prior = current.Revision
	case spec.allowCreate && fault.Is(err, fault.RemoteNotFound):
		created = true
	default:
		return nil, err
	}

	newContent, err := spec.compute(original)
	if err != nil {
		return nil, err
	}

	message := spec.message
	if message == "" {
		message = defaultMessage(spec.path, created)
	}

	write, err := o.client.PutFile(ctx, remote.PutFileRequest{
		FullName:      spec.fullName,
		Path:          spec.path,
		Branch:        branch,
		Message:       message,
		Content:       newContent,
		PriorRevision: prior,
	})
	if err != nil {
		return nil, err
	}

	// Read-after-write: the commit is only reported as a success when
	// the remote now serves exactly what we wrote.
	verified, err := o.client.GetFile(ctx, spec.fullName, spec.path, branch)
	if err != nil {
		return nil, fault.Wrap(err, fault.StaleBase, "verify_unreadable",
			"commit landed but the verification read failed").
			WithRepoRef(spec.fullName, branch).
			WithContext("path", spec.path).
			WithContext("commit_sha", write.CommitSHA)
	}
	if verified.Revision != write.Revision || verified.Content != newContent {
		return nil, fault.New(fault.StaleBase, "verify_mismatch",
			"commit landed but the re-read content does not match; another writer likely raced this commit").
			WithRepoRef(spec.fullName, branch).
			WithContext("path", spec.path).
			WithContext("commit_sha", write.CommitSHA).
			WithHint("re-read the file and re-apply the change against its current revision")
	}

	if o.invalidator != nil {
		o.invalidator.InvalidateAsync(spec.fullName, branch)
	}
	o.logger.Info("commit verified",
		zap.String("op", spec.op),
		zap.String("repo", spec.fullName),
		zap.String("branch", branch),
		zap.String("path", spec.path),
		zap.String("revision", write.Revision),
		zap.Bool("created", created),
	)

	return &Result{
		Path:          spec.path,
		Branch:        branch,
		Revision:      write.Revision,
		PriorRevision: prior,
		CommitSHA:     write.CommitSHA,
		Created:       created,
		Verified:      true,
		DiffSummary:   summarize(original, newContent),
	}, nil
}

func defaultMessage(path string, created bool) string {
	if created {
		return fmt.Sprintf("Create %s", path)
	}
	return fmt.Sprintf("Update %s", path)
}
