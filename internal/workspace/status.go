package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

// State is the observable condition of one clone.
type State string

const (
	StateAbsent     State = "absent"
	StateClean      State = "clean"
	StateDirty      State = "dirty"
	StateConflicted State = "conflicted"
	StateHealed     State = "healed"
)

const maxDirtyFiles = 20

// SyncStatus reports how a clone relates to its remote branch.
type SyncStatus struct {
	Key        string   `json:"key"`
	FullName   string   `json:"full_name"`
	Ref        string   `json:"ref"`
	Path       string   `json:"path,omitempty"`
	State      State    `json:"state"`
	LocalHead  string   `json:"local_head,omitempty"`
	RemoteHead string   `json:"remote_head,omitempty"`
	Ahead      int      `json:"ahead"`
	Behind     int      `json:"behind"`
	Dirty      bool     `json:"dirty"`
	Stale      bool     `json:"stale"`
	DirtyFiles []string `json:"dirty_files,omitempty"`
}

// operationMarkers are the .git entries a real git client leaves behind
// mid-merge, mid-rebase, or mid-cherry-pick. Commands running inside
// the workspace can produce them; go-git itself never does.
var operationMarkers = []string{
	"MERGE_HEAD",
	"CHERRY_PICK_HEAD",
	"REBASE_HEAD",
	"rebase-merge",
	"rebase-apply",
}

func hasOperationState(workPath string) bool {
	for _, marker := range operationMarkers {
		if _, err := os.Stat(filepath.Join(workPath, ".git", marker)); err == nil {
			return true
		}
	}
	return false
}

func clearOperationState(workPath string) {
	for _, marker := range operationMarkers {
		os.RemoveAll(filepath.Join(workPath, ".git", marker))
	}
}

// Status reports local head, remote head, divergence counts, and the
// working-tree condition. It fetches so the remote head is current, but
// never touches the working tree or any local branch.
func (m *Manager) Status(ctx context.Context, fullName, ref string) (*SyncStatus, error) {
	e := m.entryFor(fullName, ref)
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := m.openRepo(e)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return &SyncStatus{
			Key:      e.key,
			FullName: fullName,
			Ref:      ref,
			State:    StateAbsent,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return m.collectStatus(ctx, e, repo, true)
}

func (m *Manager) collectStatus(ctx context.Context, e *entry, repo *git.Repository, fetch bool) (*SyncStatus, error) {
	if fetch {
		if err := m.fetchRef(ctx, e, repo, e.ref); err != nil {
			// A branch that only exists locally (for example one just
			// created by a heal) still gets a local-only status.
			if !fault.Is(err, fault.RemoteNotFound) {
				return nil, err
			}
		}
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "head_unreadable",
			"workspace HEAD cannot be resolved").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "worktree_unavailable",
			"working tree cannot be opened").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}
	wtStatus, err := wt.Status()
	if err != nil {
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "status_failed",
			"working tree status cannot be computed").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}
	dirty := !wtStatus.IsClean()

	st := &SyncStatus{
		Key:        e.key,
		FullName:   e.fullName,
		Ref:        e.ref,
		Path:       e.path,
		LocalHead:  head.Hash().String(),
		Dirty:      dirty,
		Stale:      e.stale.Load(),
		DirtyFiles: dirtyFileList(wtStatus),
	}

	switch {
	case hasOperationState(e.path):
		st.State = StateConflicted
	case dirty:
		st.State = StateDirty
	default:
		st.State = StateClean
	}

	remote, err := remoteHead(repo, e.ref)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Branch no longer exists on the remote.
			return st, nil
		}
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "remote_ref_unreadable",
			"remote-tracking ref cannot be resolved").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}
	st.RemoteHead = remote.String()

	ahead, behind, err := countDivergence(repo, head.Hash(), remote)
	if err != nil {
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "divergence_failed",
			"local and remote histories cannot be compared").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}
	st.Ahead = ahead
	st.Behind = behind
	return st, nil
}

func dirtyFileList(status git.Status) []string {
	if status.IsClean() {
		return nil
	}
	files := make([]string, 0, len(status))
	for path := range status {
		files = append(files, path)
	}
	sort.Strings(files)
	if len(files) > maxDirtyFiles {
		files = files[:maxDirtyFiles]
	}
	return files
}

// countDivergence counts commits on each side since the merge base.
func countDivergence(repo *git.Repository, local, remote plumbing.Hash) (ahead, behind int, err error) {
	if local == remote {
		return 0, 0, nil
	}
	localCommit, err := repo.CommitObject(local)
	if err != nil {
		return 0, 0, err
	}
	remoteCommit, err := repo.CommitObject(remote)
	if err != nil {
		return 0, 0, err
	}
	bases, err := localCommit.MergeBase(remoteCommit)
	if err != nil {
		return 0, 0, err
	}
	stop := make([]plumbing.Hash, 0, len(bases))
	for _, base := range bases {
		stop = append(stop, base.Hash)
	}
	ahead, err = countReachable(localCommit, stop)
	if err != nil {
		return 0, 0, err
	}
	behind, err = countReachable(remoteCommit, stop)
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

func countReachable(from *object.Commit, stop []plumbing.Hash) (int, error) {
	count := 0
	iter := object.NewCommitPreorderIter(from, nil, stop)
	err := iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	return count, err
}

// SyncToRemote hard-resets the clone to the remote head. Local commits,
// modifications, and untracked files are destroyed, so the caller must
// opt in explicitly whenever any would be lost.
func (m *Manager) SyncToRemote(ctx context.Context, fullName, ref string, discardLocal bool) (*SyncStatus, error) {
	e := m.entryFor(fullName, ref)
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := m.openRepo(e)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fault.New(fault.Validation, "workspace_absent",
			"no workspace exists for %s@%s", fullName, ref).
			WithHint("call ensure_workspace first")
	}
	if err != nil {
		return nil, err
	}

	st, err := m.collectStatus(ctx, e, repo, true)
	if err != nil {
		return nil, err
	}
	if !discardLocal && (st.Dirty || st.Ahead > 0 || st.State == StateConflicted) {
		return nil, fault.New(fault.Validation, "discard_required",
			"workspace has local work that a sync would destroy").
			WithRepoRef(fullName, ref).
			WithContext("ahead", strconv.Itoa(st.Ahead)).
			WithContext("state", string(st.State)).
			WithHint("pass discard_local_changes=true to drop local commits and edits")
	}
	if err := m.resetToRemote(ctx, e, repo); err != nil {
		return nil, err
	}
	m.indexTouch(ctx, e, time.Now())
	return m.collectStatus(ctx, e, repo, false)
}
