// Package workspace owns the persistent local clones that command
// execution runs against. Each clone is keyed by (full_name, ref),
// created on first use, and kept until explicitly reset or healed.
// Staleness after an out-of-band remote commit is made observable
// through Status rather than silently corrected.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

const healHint = "call heal_workspace to rebuild this clone from a known-good base"

// Info describes one ensured workspace.
type Info struct {
	Key      string `json:"key"`
	FullName string `json:"full_name"`
	Ref      string `json:"ref"`
	Path     string `json:"path"`
	Head     string `json:"head"`
	Created  bool   `json:"created"`
	Reset    bool   `json:"reset"`
	Stale    bool   `json:"stale"`
}

// KnownWorkspace is the cheap, network-free view used by status listings.
type KnownWorkspace struct {
	Key      string `json:"key"`
	FullName string `json:"full_name"`
	Ref      string `json:"ref"`
	Path     string `json:"path"`
	Stale    bool   `json:"stale"`
}

type entry struct {
	mu       sync.Mutex
	key      string
	fullName string
	ref      string
	path     string
	stale    atomic.Bool
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	// Root is the directory all clones live under.
	Root string
	// Token authenticates http(s) clone and fetch traffic. Local-path
	// remotes (tests) need no auth and get none.
	Token string
	// CloneURL maps full_name to a clone URL. Defaults to GitHub.
	CloneURL func(fullName string) string
	// Index persists the clone table across restarts. Optional.
	Index  *Store
	Logger *zap.Logger
}

// Manager is the clone table plus the operations on it. Structural
// changes take the table lock; everything touching one clone runs under
// that entry's lock.
type Manager struct {
	root     string
	token    string
	cloneURL func(fullName string) string
	index    *Store
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.CloneURL == nil {
		cfg.CloneURL = func(fullName string) string {
			return "https://github.com/" + fullName + ".git"
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		root:     cfg.Root,
		token:    cfg.Token,
		cloneURL: cfg.CloneURL,
		index:    cfg.Index,
		logger:   cfg.Logger,
		entries:  make(map[string]*entry),
	}
}

// Key returns the clone-table key for a repository and ref.
func Key(fullName, ref string) string {
	return fullName + "@" + ref
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "__", ":", "_", " ", "_").Replace(s)
}

func (m *Manager) dirFor(fullName, ref string) string {
	return filepath.Join(m.root, sanitize(fullName), sanitize(ref))
}

func (m *Manager) entryFor(fullName, ref string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(fullName, ref)
	e, ok := m.entries[key]
	if !ok {
		e = &entry{
			key:      key,
			fullName: fullName,
			ref:      ref,
			path:     m.dirFor(fullName, ref),
		}
		m.entries[key] = e
	}
	return e
}

func (m *Manager) authFor(url string) transport.AuthMethod {
	if m.token == "" || !strings.HasPrefix(url, "http") {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: m.token}
}

// Ensure clones the workspace on first use and opens it afterwards.
// With reset it fetches and hard-resets to the remote head, dropping
// all local commits and untracked files.
func (m *Manager) Ensure(ctx context.Context, fullName, ref string, reset bool) (*Info, error) {
	e := m.entryFor(fullName, ref)
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.ensureLocked(ctx, e, reset)
}

// Exclusive ensures the workspace and runs fn while still holding the
// entry lock, serializing callers per (full_name, ref).
func (m *Manager) Exclusive(ctx context.Context, fullName, ref string, fn func(info *Info) error) error {
	e := m.entryFor(fullName, ref)
	e.mu.Lock()
	defer e.mu.Unlock()
	info, err := m.ensureLocked(ctx, e, false)
	if err != nil {
		return err
	}
	return fn(info)
}

func (m *Manager) ensureLocked(ctx context.Context, e *entry, reset bool) (*Info, error) {
	created := false
	repo, err := m.openRepo(e)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = m.clone(ctx, e)
		if err != nil {
			return nil, err
		}
		created = true
		e.stale.Store(false)
		m.indexPut(ctx, e, time.Now())
	} else if err != nil {
		return nil, err
	}

	didReset := false
	if reset && !created {
		if err := m.resetToRemote(ctx, e, repo); err != nil {
			return nil, err
		}
		didReset = true
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "head_unreadable",
			"workspace HEAD cannot be resolved").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}

	return &Info{
		Key:      e.key,
		FullName: e.fullName,
		Ref:      e.ref,
		Path:     e.path,
		Head:     head.Hash().String(),
		Created:  created,
		Reset:    didReset,
		Stale:    e.stale.Load(),
	}, nil
}

func (m *Manager) openRepo(e *entry) (*git.Repository, error) {
	repo, err := git.PlainOpen(e.path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, err
	}
	if err != nil {
		return nil, fault.Wrap(err, fault.WorkspaceCorrupted, "open_failed",
			"local clone exists but cannot be opened").
			WithRepoRef(e.fullName, e.ref).
			WithContext("path", e.path).
			WithHint(healHint)
	}
	return repo, nil
}

func (m *Manager) clone(ctx context.Context, e *entry) (*git.Repository, error) {
	url := m.cloneURL(e.fullName)
	m.logger.Info("cloning workspace",
		zap.String("repo", e.fullName),
		zap.String("ref", e.ref),
		zap.String("path", e.path),
	)
	repo, err := git.PlainCloneContext(ctx, e.path, false, &git.CloneOptions{
		URL:           url,
		Auth:          m.authFor(url),
		ReferenceName: plumbing.NewBranchReferenceName(e.ref),
		SingleBranch:  true,
		Tags:          git.NoTags,
	})
	if err != nil {
		// A failed clone leaves a partial directory behind.
		os.RemoveAll(e.path)
		return nil, classifyTransportErr(err, e.fullName, e.ref, "clone_failed")
	}
	return repo, nil
}

func classifyTransportErr(err error, fullName, ref, code string) error {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return fault.Wrap(err, fault.RemoteNotFound, "repository_not_found",
			"remote repository does not exist or is not visible").
			WithRepoRef(fullName, ref)
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fault.Wrap(err, fault.RemotePermission, "unauthorized",
			"remote rejected the provided credentials").
			WithRepoRef(fullName, ref)
	case strings.Contains(err.Error(), "couldn't find remote ref"):
		return fault.Wrap(err, fault.RemoteNotFound, "remote_ref_missing",
			"ref does not exist on the remote").
			WithRepoRef(fullName, ref).WithHint(healHint)
	default:
		return fault.Wrap(err, fault.RemoteTimeout, code,
			"git transport operation failed").
			WithRepoRef(fullName, ref)
	}
}

// fetchRef updates refs/remotes/origin/<ref> and the object store. The
// working tree and local branches are never touched.
func (m *Manager) fetchRef(ctx context.Context, e *entry, repo *git.Repository, ref string) error {
	url := m.cloneURL(e.fullName)
	spec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", ref, ref))
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Auth:       m.authFor(url),
		RefSpecs:   []gitconfig.RefSpec{spec},
		Force:      true,
		Tags:       git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classifyTransportErr(err, e.fullName, ref, "fetch_failed")
	}
	return nil
}

func remoteHead(repo *git.Repository, ref string) (plumbing.Hash, error) {
	r, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return r.Hash(), nil
}

// resetToRemote fetches, hard-resets the working tree to the remote
// head, and removes untracked files and any in-progress merge state.
func (m *Manager) resetToRemote(ctx context.Context, e *entry, repo *git.Repository) error {
	if err := m.fetchRef(ctx, e, repo, e.ref); err != nil {
		return err
	}
	target, err := remoteHead(repo, e.ref)
	if err != nil {
		return fault.Wrap(err, fault.RemoteNotFound, "remote_ref_missing",
			"ref does not exist on the remote").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fault.Wrap(err, fault.WorkspaceCorrupted, "worktree_unavailable",
			"working tree cannot be opened").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}
	clearOperationState(e.path)
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: target}); err != nil {
		return fault.Wrap(err, fault.WorkspaceCorrupted, "reset_failed",
			"hard reset to remote head failed").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fault.Wrap(err, fault.WorkspaceCorrupted, "clean_failed",
			"removing untracked files failed").
			WithRepoRef(e.fullName, e.ref).WithHint(healHint)
	}
	e.stale.Store(false)
	m.indexTouch(ctx, e, time.Now())
	return nil
}

// MarkStale flags the clone as behind the remote. The flag is cleared
// by the next reset, sync, or heal.
func (m *Manager) MarkStale(fullName, ref string) {
	m.mu.Lock()
	e, ok := m.entries[Key(fullName, ref)]
	m.mu.Unlock()
	if ok {
		e.stale.Store(true)
	}
}

// InvalidateAsync marks the clone stale immediately and refreshes it in
// the background. A clone with local work is left stale rather than
// silently rewound; refresh failures are logged, never surfaced.
func (m *Manager) InvalidateAsync(fullName, ref string) {
	m.mu.Lock()
	e, ok := m.entries[Key(fullName, ref)]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.stale.Store(true)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := m.refresh(ctx, e); err != nil {
			m.logger.Warn("workspace refresh failed",
				zap.String("repo", fullName),
				zap.String("ref", ref),
				zap.Error(err),
			)
		}
	}()
}

// refresh fast-forwards a clean clone to the remote head.
func (m *Manager) refresh(ctx context.Context, e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := m.openRepo(e)
	if err != nil {
		return err
	}
	if err := m.fetchRef(ctx, e, repo, e.ref); err != nil {
		return err
	}
	st, err := m.collectStatus(ctx, e, repo, false)
	if err != nil {
		return err
	}
	if st.Dirty || st.Ahead > 0 || st.State == StateConflicted {
		return fmt.Errorf("workspace %s has local work; leaving stale", e.key)
	}
	return m.resetToRemote(ctx, e, repo)
}

// Restore re-adopts surviving clones from the index after a restart.
// Restored clones are marked stale until their first sync. Index rows
// whose directories are gone are pruned.
func (m *Manager) Restore(ctx context.Context) error {
	if m.index == nil {
		return nil
	}
	records, err := m.index.List(ctx)
	if err != nil {
		return fmt.Errorf("workspace.Restore: %w", err)
	}
	for _, rec := range records {
		if _, err := git.PlainOpen(rec.Path); err != nil {
			m.logger.Warn("dropping unrestorable workspace",
				zap.String("key", rec.Key),
				zap.String("path", rec.Path),
				zap.Error(err),
			)
			if err := m.index.Delete(ctx, rec.Key); err != nil {
				m.logger.Warn("index prune failed", zap.String("key", rec.Key), zap.Error(err))
			}
			continue
		}
		m.mu.Lock()
		e := &entry{
			key:      rec.Key,
			fullName: rec.FullName,
			ref:      rec.Ref,
			path:     rec.Path,
		}
		e.stale.Store(true)
		m.entries[rec.Key] = e
		m.mu.Unlock()
	}
	m.logger.Info("workspaces restored", zap.Int("count", len(records)))
	return nil
}

// Known lists the clone table without touching disk or network.
func (m *Manager) Known() []KnownWorkspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KnownWorkspace, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, KnownWorkspace{
			Key:      e.key,
			FullName: e.fullName,
			Ref:      e.ref,
			Path:     e.path,
			Stale:    e.stale.Load(),
		})
	}
	return out
}

func (m *Manager) indexPut(ctx context.Context, e *entry, now time.Time) {
	if m.index == nil {
		return
	}
	err := m.index.Put(ctx, Record{
		Key:          e.key,
		FullName:     e.fullName,
		Ref:          e.ref,
		Path:         e.path,
		CreatedAt:    now,
		LastSyncedAt: now,
	})
	if err != nil {
		m.logger.Warn("workspace index write failed", zap.String("key", e.key), zap.Error(err))
	}
}

func (m *Manager) indexTouch(ctx context.Context, e *entry, now time.Time) {
	if m.index == nil {
		return
	}
	if err := m.index.TouchSynced(ctx, e.key, now); err != nil {
		m.logger.Warn("workspace index update failed", zap.String("key", e.key), zap.Error(err))
	}
}

func (m *Manager) indexDelete(ctx context.Context, key string) {
	if m.index == nil {
		return
	}
	if err := m.index.Delete(ctx, key); err != nil {
		m.logger.Warn("workspace index delete failed", zap.String("key", key), zap.Error(err))
	}
}
