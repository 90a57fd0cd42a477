package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

// HealRequest names the mangled branch and the known-good base to
// rebuild from. NewBranch defaults to Branch, recreated fresh.
type HealRequest struct {
	FullName     string
	Branch       string
	BaseRef      string
	NewBranch    string
	DeleteRemote bool
}

// Snapshot is the small post-heal context a caller rebuilds from.
type Snapshot struct {
	Head          string   `json:"head"`
	RecentCommits []string `json:"recent_commits,omitempty"`
	LostFiles     []string `json:"lost_files,omitempty"`
}

// HealReport is the step log of one recovery.
type HealReport struct {
	StartState State    `json:"start_state"`
	EndState   State    `json:"end_state"`
	Branch     string   `json:"branch"`
	NewBranch  string   `json:"new_branch"`
	BaseRef    string   `json:"base_ref"`
	Steps      []string `json:"steps"`
	Snapshot   Snapshot `json:"snapshot"`
}

// SelfHeal rebuilds a workspace stuck mid-merge, mid-rebase, or in an
// otherwise unrecoverable state. It never repairs in place: the mangled
// branch is deleted (optionally on the remote too) and a fresh branch is
// created from the remote base head. Only a recovery path; the happy
// path never calls it.
func (m *Manager) SelfHeal(ctx context.Context, req HealRequest) (*HealReport, error) {
	if req.FullName == "" || req.Branch == "" || req.BaseRef == "" {
		return nil, fault.New(fault.Validation, "missing_argument",
			"full_name, branch, and base_ref are required")
	}
	if req.Branch == req.BaseRef {
		return nil, fault.New(fault.Validation, "branch_equals_base",
			"cannot heal a branch from itself; pick a different base_ref")
	}
	newBranch := req.NewBranch
	if newBranch == "" {
		newBranch = req.Branch
	}

	e := m.entryFor(req.FullName, req.Branch)
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &HealReport{
		Branch:    req.Branch,
		NewBranch: newBranch,
		BaseRef:   req.BaseRef,
	}
	step := func(format string, args ...any) {
		report.Steps = append(report.Steps, fmt.Sprintf(format, args...))
	}

	repo, lostFiles, startState := m.diagnose(e, step)
	report.StartState = startState
	report.Snapshot.LostFiles = lostFiles

	var baseHash plumbing.Hash
	var err error
	if repo == nil {
		repo, baseHash, err = m.rebuildFromBase(ctx, e, req.BaseRef, step)
		if err != nil {
			return nil, err
		}
	} else {
		baseHash, err = m.resetOntoBase(ctx, e, repo, req, step)
		if err != nil {
			return nil, err
		}
	}

	if req.DeleteRemote {
		m.deleteRemoteBranch(ctx, e, repo, req.Branch, step)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "worktree_unavailable",
			"working tree cannot be opened after rebuild").
			WithRepoRef(req.FullName, req.Branch)
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(newBranch),
		Create: true,
		Hash:   baseHash,
		Force:  true,
	})
	if err != nil {
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "branch_create_failed",
			"creating fresh branch %s failed", newBranch).
			WithRepoRef(req.FullName, req.Branch)
	}
	step("created branch %s from %s at %s", newBranch, req.BaseRef, shortHash(baseHash))

	// Snapshot before any rekey: the repo handle is bound to the old path.
	report.Snapshot.Head = baseHash.String()
	report.Snapshot.RecentCommits = recentCommits(repo, baseHash, 5)

	if newBranch != req.Branch {
		if err := m.rekey(ctx, e, newBranch); err != nil {
			return nil, err
		}
		step("workspace now tracks %s", newBranch)
	}
	e.stale.Store(false)
	m.indexPut(ctx, e, time.Now())

	report.EndState = StateHealed

	m.logger.Info("workspace healed",
		zap.String("repo", req.FullName),
		zap.String("branch", req.Branch),
		zap.String("new_branch", newBranch),
		zap.String("base", req.BaseRef),
		zap.String("start_state", string(report.StartState)),
	)
	return report, nil
}

// diagnose opens the clone and names its starting state. A nil repo
// means the clone must be rebuilt from scratch.
func (m *Manager) diagnose(e *entry, step func(string, ...any)) (*git.Repository, []string, State) {
	repo, err := m.openRepo(e)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		step("no local clone found")
		return nil, nil, StateAbsent
	}
	if err != nil {
		step("local clone is unreadable")
		return nil, nil, StateConflicted
	}

	var lost []string
	dirty := false
	if wt, wtErr := repo.Worktree(); wtErr == nil {
		if st, stErr := wt.Status(); stErr == nil {
			dirty = !st.IsClean()
			lost = dirtyFileList(st)
		} else {
			step("working tree status unreadable")
			return nil, nil, StateConflicted
		}
	}

	switch {
	case hasOperationState(e.path):
		step("diagnosed in-progress merge/rebase/cherry-pick state")
		return repo, lost, StateConflicted
	case dirty:
		step("diagnosed %d uncommitted change(s)", len(lost))
		return repo, lost, StateDirty
	default:
		step("working tree is clean; branch history itself is being replaced")
		return repo, lost, StateClean
	}
}

// rebuildFromBase removes whatever is on disk and clones the base ref.
func (m *Manager) rebuildFromBase(ctx context.Context, e *entry, baseRef string, step func(string, ...any)) (*git.Repository, plumbing.Hash, error) {
	if err := os.RemoveAll(e.path); err != nil {
		return nil, plumbing.ZeroHash, fault.Wrap(err, fault.WorkspaceCorrupted, "remove_failed",
			"unrecoverable clone cannot be removed").
			WithRepoRef(e.fullName, e.ref).WithContext("path", e.path)
	}
	step("removed unrecoverable clone")

	url := m.cloneURL(e.fullName)
	repo, err := git.PlainCloneContext(ctx, e.path, false, &git.CloneOptions{
		URL:           url,
		Auth:          m.authFor(url),
		ReferenceName: plumbing.NewBranchReferenceName(baseRef),
		SingleBranch:  true,
		Tags:          git.NoTags,
	})
	if err != nil {
		os.RemoveAll(e.path)
		return nil, plumbing.ZeroHash, classifyTransportErr(err, e.fullName, baseRef, "clone_failed")
	}
	head, err := repo.Head()
	if err != nil {
		return nil, plumbing.ZeroHash, fault.Wrap(err, fault.WorkspaceCorrupted, "head_unreadable",
			"fresh clone has no readable HEAD").WithRepoRef(e.fullName, baseRef)
	}
	step("cloned %s at %s (%s)", e.fullName, baseRef, shortHash(head.Hash()))
	return repo, head.Hash(), nil
}

// resetOntoBase aborts any in-progress operation, moves the working
// tree onto the remote base head, and deletes the mangled local branch.
func (m *Manager) resetOntoBase(ctx context.Context, e *entry, repo *git.Repository, req HealRequest, step func(string, ...any)) (plumbing.Hash, error) {
	if hasOperationState(e.path) {
		clearOperationState(e.path)
		step("aborted in-progress operation")
	}

	if err := m.fetchRef(ctx, e, repo, req.BaseRef); err != nil {
		return plumbing.ZeroHash, err
	}
	step("fetched origin/%s", req.BaseRef)

	baseHash, err := remoteHead(repo, req.BaseRef)
	if err != nil {
		return plumbing.ZeroHash, fault.Wrap(err, fault.RemoteNotFound, "base_ref_missing",
			"base ref %s does not exist on the remote", req.BaseRef).
			WithRepoRef(req.FullName, req.BaseRef)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fault.Wrap(err, fault.WorkspaceCorrupted, "worktree_unavailable",
			"working tree cannot be opened").WithRepoRef(req.FullName, req.Branch)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: baseHash, Force: true}); err != nil {
		return plumbing.ZeroHash, fault.Wrap(err, fault.WorkspaceCorrupted, "checkout_failed",
			"detaching onto the base head failed").WithRepoRef(req.FullName, req.Branch)
	}
	step("checked out base %s at %s", req.BaseRef, shortHash(baseHash))

	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return plumbing.ZeroHash, fault.Wrap(err, fault.WorkspaceCorrupted, "clean_failed",
			"removing untracked files failed").WithRepoRef(req.FullName, req.Branch)
	}
	step("removed untracked files")

	branchRef := plumbing.NewBranchReferenceName(req.Branch)
	if _, refErr := repo.Reference(branchRef, false); refErr == nil {
		if err := repo.Storer.RemoveReference(branchRef); err != nil {
			return plumbing.ZeroHash, fault.Wrap(err, fault.WorkspaceCorrupted, "branch_delete_failed",
				"deleting local branch %s failed", req.Branch).WithRepoRef(req.FullName, req.Branch)
		}
		step("deleted local branch %s", req.Branch)
	}
	return baseHash, nil
}

// deleteRemoteBranch is fail-soft: the local rebuild matters more, so a
// failed remote deletion becomes a step-log entry instead of an error.
func (m *Manager) deleteRemoteBranch(ctx context.Context, e *entry, repo *git.Repository, branch string, step func(string, ...any)) {
	url := m.cloneURL(e.fullName)
	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       m.authFor(url),
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(":refs/heads/" + branch)},
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		step("deleted remote branch %s", branch)
	default:
		step("remote branch %s not deleted: %v", branch, err)
		m.logger.Warn("remote branch deletion failed",
			zap.String("repo", e.fullName),
			zap.String("branch", branch),
			zap.Error(err),
		)
	}
}

// rekey moves the entry and its clone directory under the new ref, so
// the old key goes back to reporting absent.
func (m *Manager) rekey(ctx context.Context, e *entry, newRef string) error {
	oldKey := e.key
	newPath := m.dirFor(e.fullName, newRef)
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return fault.Wrap(err, fault.WorkspaceCorrupted, "rekey_failed",
			"workspace directory for %s cannot be created", newRef).
			WithRepoRef(e.fullName, newRef)
	}
	if err := os.Rename(e.path, newPath); err != nil {
		return fault.Wrap(err, fault.WorkspaceCorrupted, "rekey_failed",
			"workspace directory cannot be moved to its new key").
			WithRepoRef(e.fullName, newRef)
	}
	m.mu.Lock()
	delete(m.entries, oldKey)
	e.ref = newRef
	e.key = Key(e.fullName, newRef)
	e.path = newPath
	m.entries[e.key] = e
	m.mu.Unlock()
	m.indexDelete(ctx, oldKey)
	return nil
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}

func recentCommits(repo *git.Repository, from plumbing.Hash, limit int) []string {
	commit, err := repo.CommitObject(from)
	if err != nil {
		return nil
	}
	var out []string
	iter := object.NewCommitPreorderIter(commit, nil, nil)
	err = iter.ForEach(func(c *object.Commit) error {
		if len(out) >= limit {
			return storer.ErrStop
		}
		subject := c.Message
		if i := strings.IndexByte(subject, '\n'); i >= 0 {
			subject = subject[:i]
		}
		out = append(out, shortHash(c.Hash)+" "+subject)
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return out
	}
	return out
}
