package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

const testRepo = "octo/widgets"

func TestMain(m *testing.M) {
	// Local-path fixtures are served in process instead of shelling out
	// to git-upload-pack / git-receive-pack.
	client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
	os.Exit(m.Run())
}

// upstream is a bare origin plus a seed worktree that pushes to it.
type upstream struct {
	t    *testing.T
	bare string
	seed string
	repo *git.Repository
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	root := t.TempDir()

	bare := filepath.Join(root, "origin.git")
	_, err := git.PlainInitWithOptions(bare, &git.PlainInitOptions{
		Bare:        true,
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)

	seed := filepath.Join(root, "seed")
	seedRepo, err := git.PlainInitWithOptions(seed, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)
	_, err = seedRepo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{bare}})
	require.NoError(t, err)

	u := &upstream{t: t, bare: bare, seed: seed, repo: seedRepo}
	u.commitFile("README.md", "hello\n", "initial commit")
	u.push("main")
	return u
}

func (u *upstream) commitFile(rel, content, msg string) plumbing.Hash {
	u.t.Helper()
	full := filepath.Join(u.seed, rel)
	require.NoError(u.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(u.t, os.WriteFile(full, []byte(content), 0o644))
	wt, err := u.repo.Worktree()
	require.NoError(u.t, err)
	_, err = wt.Add(rel)
	require.NoError(u.t, err)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.test", When: time.Now()},
	})
	require.NoError(u.t, err)
	return hash
}

func (u *upstream) push(branch string) {
	u.t.Helper()
	err := u.repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec("+refs/heads/" + branch + ":refs/heads/" + branch)},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		require.NoError(u.t, err)
	}
}

// createBranch points a new branch at the seed's current head and
// publishes it.
func (u *upstream) createBranch(name string) {
	u.t.Helper()
	head, err := u.repo.Head()
	require.NoError(u.t, err)
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), head.Hash())
	require.NoError(u.t, u.repo.Storer.SetReference(ref))
	u.push(name)
}

func (u *upstream) headOf(branch string) plumbing.Hash {
	u.t.Helper()
	bareRepo, err := git.PlainOpen(u.bare)
	require.NoError(u.t, err)
	ref, err := bareRepo.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(u.t, err)
	return ref.Hash()
}

func (u *upstream) branchExists(branch string) bool {
	u.t.Helper()
	bareRepo, err := git.PlainOpen(u.bare)
	require.NoError(u.t, err)
	_, err = bareRepo.Reference(plumbing.NewBranchReferenceName(branch), true)
	return err == nil
}

func newTestManager(t *testing.T, u *upstream) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Root:     t.TempDir(),
		CloneURL: func(string) string { return u.bare },
		Logger:   zap.NewNop(),
	})
}

func commitInClone(t *testing.T, path, rel, content string) plumbing.Hash {
	t.Helper()
	repo, err := git.PlainOpen(path)
	require.NoError(t, err)
	full := filepath.Join(path, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(rel)
	require.NoError(t, err)
	hash, err := wt.Commit("local work", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.test", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}

func TestEnsureClonesOnFirstUse(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	info, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)
	assert.True(t, info.Created)
	assert.Equal(t, u.headOf("main").String(), info.Head)
	assert.FileExists(t, filepath.Join(info.Path, "README.md"))

	again, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, info.Path, again.Path)
}

func TestEnsureResetDiscardsLocalState(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	info, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)
	commitInClone(t, info.Path, "local.txt", "local commit\n")
	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "scratch.txt"), []byte("junk\n"), 0o644))

	reset, err := mgr.Ensure(context.Background(), testRepo, "main", true)
	require.NoError(t, err)
	assert.True(t, reset.Reset)
	assert.Equal(t, u.headOf("main").String(), reset.Head)
	assert.NoFileExists(t, filepath.Join(info.Path, "local.txt"))
	assert.NoFileExists(t, filepath.Join(info.Path, "scratch.txt"))
}

func TestStatusAbsentWorkspace(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	st, err := mgr.Status(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, st.State)
	assert.Empty(t, st.LocalHead)
}

func TestStatusReportsBehindAfterRemoteCommit(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	_, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)

	u.commitFile("second.txt", "more\n", "second commit")
	u.push("main")

	st, err := mgr.Status(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.Equal(t, StateClean, st.State)
	assert.Equal(t, 0, st.Ahead)
	assert.Equal(t, 1, st.Behind)
	assert.Equal(t, u.headOf("main").String(), st.RemoteHead)

	_, err = mgr.Ensure(context.Background(), testRepo, "main", true)
	require.NoError(t, err)

	st, err = mgr.Status(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Behind)
	assert.Equal(t, u.headOf("main").String(), st.LocalHead)
}

func TestStatusReportsAheadAndDirty(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	info, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)
	commitInClone(t, info.Path, "local.txt", "local commit\n")

	st, err := mgr.Status(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Ahead)
	assert.Equal(t, 0, st.Behind)
	assert.Equal(t, StateClean, st.State)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "scratch.txt"), []byte("junk\n"), 0o644))
	st, err = mgr.Status(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.True(t, st.Dirty)
	assert.Equal(t, StateDirty, st.State)
	assert.Contains(t, st.DirtyFiles, "scratch.txt")
}

func TestSyncToRemoteRequiresExplicitDiscard(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	info, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)
	commitInClone(t, info.Path, "local.txt", "unpushed\n")

	_, err = mgr.SyncToRemote(context.Background(), testRepo, "main", false)
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, fault.Validation, f.Category)
	assert.Equal(t, "discard_required", f.Code)

	st, err := mgr.SyncToRemote(context.Background(), testRepo, "main", true)
	require.NoError(t, err)
	assert.Equal(t, StateClean, st.State)
	assert.Equal(t, 0, st.Ahead)
	assert.Equal(t, u.headOf("main").String(), st.LocalHead)
	assert.NoFileExists(t, filepath.Join(info.Path, "local.txt"))
}

func TestSyncToRemoteAbsentWorkspace(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	_, err := mgr.SyncToRemote(context.Background(), testRepo, "main", true)
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, "workspace_absent", f.Code)
}

func TestInvalidateAsyncRefreshesCleanClone(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	_, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)

	newHead := u.commitFile("second.txt", "more\n", "out-of-band commit")
	u.push("main")

	mgr.InvalidateAsync(testRepo, "main")

	require.Eventually(t, func() bool {
		st, err := mgr.Status(context.Background(), testRepo, "main")
		if err != nil {
			return false
		}
		return !st.Stale && st.Behind == 0 && st.LocalHead == newHead.String()
	}, 5*time.Second, 50*time.Millisecond)
}

func TestInvalidateAsyncLeavesDirtyCloneStale(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	info, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)
	commitInClone(t, info.Path, "local.txt", "unpushed\n")

	u.commitFile("second.txt", "more\n", "out-of-band commit")
	u.push("main")

	mgr.InvalidateAsync(testRepo, "main")

	// The refresh must refuse to drop the local commit.
	require.Never(t, func() bool {
		st, err := mgr.Status(context.Background(), testRepo, "main")
		if err != nil {
			return true
		}
		return st.Ahead == 0
	}, 500*time.Millisecond, 50*time.Millisecond)

	st, err := mgr.Status(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.True(t, st.Stale)
	assert.Equal(t, 1, st.Ahead)
}

func TestMarkStaleVisible(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	_, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)

	mgr.MarkStale(testRepo, "main")

	st, err := mgr.Status(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.True(t, st.Stale)

	known := mgr.Known()
	require.Len(t, known, 1)
	assert.True(t, known[0].Stale)
	assert.Equal(t, Key(testRepo, "main"), known[0].Key)
}

func TestEnsureCorruptHeadIsWorkspaceCorrupted(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	info, err := mgr.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(info.Path, ".git", "HEAD"), []byte("garbage\n"), 0o644))

	_, err = mgr.Ensure(context.Background(), testRepo, "main", false)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.WorkspaceCorrupted))
	f, _ := fault.From(err)
	assert.NotEmpty(t, f.Hint)
}

func TestExclusiveSerializesPerKey(t *testing.T) {
	u := newUpstream(t)
	mgr := newTestManager(t, u)

	var inside int
	var maxInside int
	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			err := mgr.Exclusive(context.Background(), testRepo, "main", func(*Info) error {
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				time.Sleep(50 * time.Millisecond)
				inside--
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	<-done
	<-done
	assert.Equal(t, 1, maxInside)
}

func TestRestoreAdoptsSurvivingClones(t *testing.T) {
	u := newUpstream(t)
	store, err := OpenStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer store.Close()

	root := t.TempDir()
	cloneURL := func(string) string { return u.bare }

	first := NewManager(ManagerConfig{Root: root, CloneURL: cloneURL, Index: store, Logger: zap.NewNop()})
	_, err = first.Ensure(context.Background(), testRepo, "main", false)
	require.NoError(t, err)

	// A row whose directory is gone must be pruned on restore.
	require.NoError(t, store.Put(context.Background(), Record{
		Key: "octo/ghost@main", FullName: "octo/ghost", Ref: "main",
		Path:      filepath.Join(root, "nonexistent"),
		CreatedAt: time.Now(), LastSyncedAt: time.Now(),
	}))

	second := NewManager(ManagerConfig{Root: root, CloneURL: cloneURL, Index: store, Logger: zap.NewNop()})
	require.NoError(t, second.Restore(context.Background()))

	known := second.Known()
	require.Len(t, known, 1)
	assert.Equal(t, Key(testRepo, "main"), known[0].Key)
	assert.True(t, known[0].Stale)

	st, err := second.Status(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.Equal(t, StateClean, st.State)

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
}
