package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
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
	"github.com/AdaptivMCP/gitward/internal/gate"
	"github.com/AdaptivMCP/gitward/internal/refs"
	"github.com/AdaptivMCP/gitward/internal/workspace"
)

const testRepo = "octo/widgets"

func TestMain(m *testing.M) {
	client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
	os.Exit(m.Run())
}

// seedOrigin builds a bare origin with a main branch holding the given
// files and returns its path.
func seedOrigin(t *testing.T, files map[string]string) string {
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

	wt, err := seedRepo.Worktree()
	require.NoError(t, err)
	for rel, content := range files {
		full := filepath.Join(seed, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		_, err = wt.Add(rel)
		require.NoError(t, err)
	}
	_, err = wt.Commit("seed", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.test", When: time.Now()},
	})
	require.NoError(t, err)
	require.NoError(t, seedRepo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec("+refs/heads/main:refs/heads/main")},
	}))
	return bare
}

func newTestRunner(t *testing.T, origin string, opts ...func(*Config)) (*Runner, *workspace.Manager, *gate.Gate) {
	t.Helper()
	mgr := workspace.NewManager(workspace.ManagerConfig{
		Root:     t.TempDir(),
		CloneURL: func(string) string { return origin },
		Logger:   zap.NewNop(),
	})
	g := gate.New("production", false)
	cfg := Config{
		Workspaces: mgr,
		Gate:       g,
		Resolver: refs.Resolver{
			ControllerRepo:  "octo/controller",
			CanonicalBranch: "production",
		},
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg), mgr, g
}

func TestRunCapturesBothStreams(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	rec, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command: []string{"sh", "-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ExitCode)
	assert.Equal(t, "out\n", rec.Stdout)
	assert.Equal(t, "err\n", rec.Stderr)
	assert.False(t, rec.TimedOut)
	assert.False(t, rec.StdoutTruncated)
	assert.False(t, rec.StderrTruncated)
	assert.Equal(t, workspace.Key(testRepo, "main"), rec.Workspace)
}

func TestRunReportsNonZeroExit(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	rec, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command: []string{"sh", "-c", "exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ExitCode)
	assert.False(t, rec.TimedOut)
}

func TestRunSeesWorkspaceFiles(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"sub/file.txt": "content\n"})
	r, _, _ := newTestRunner(t, origin)

	rec, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command:    []string{"ls"},
		WorkingDir: "sub",
	})
	require.NoError(t, err)
	assert.Equal(t, "file.txt\n", rec.Stdout)
}

func TestRunKillsProcessTreeAtDeadline(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	start := time.Now()
	rec, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command:        []string{"sh", "-c", "echo partial; sleep 30"},
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)
	assert.True(t, rec.TimedOut)
	assert.Equal(t, "partial\n", rec.Stdout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunTruncatesOutput(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin, func(cfg *Config) {
		cfg.MaxOutputChars = 10
	})

	rec, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command: []string{"sh", "-c", "printf aaaaaaaaaaaaaaaaaaaa"},
	})
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaa", rec.Stdout)
	assert.True(t, rec.StdoutTruncated)
	assert.False(t, rec.StderrTruncated)
}

func TestRunRejectsWorkingDirEscape(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	for _, dir := range []string{"../outside", "/etc", "sub/../../other"} {
		_, err := r.Run(context.Background(), Request{
			FullName: testRepo, Ref: "main",
			Command:    []string{"ls"},
			WorkingDir: dir,
		})
		require.Error(t, err, dir)
		f, ok := fault.From(err)
		require.True(t, ok)
		assert.Equal(t, "working_dir_escape", f.Code, dir)
	}
}

func TestRunRejectsMissingWorkingDir(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	_, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command:    []string{"ls"},
		WorkingDir: "nope",
	})
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, "working_dir_not_found", f.Code)
}

func TestRunIsWriteGated(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, mgr, g := newTestRunner(t, origin)

	_, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "production",
		Command: []string{"ls"},
	})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.WriteNotAuthorized))
	assert.Empty(t, mgr.Known(), "gate rejection must precede workspace creation")

	g.Authorize(true)
	_, err = r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "production",
		Command: []string{"ls"},
	})
	require.Error(t, err, "clone of a branch the origin does not have still fails")
	assert.True(t, fault.Is(err, fault.RemoteNotFound))
}

func TestRunValidatesArguments(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	_, err := r.Run(context.Background(), Request{FullName: testRepo, Ref: "main"})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Validation))

	_, err = r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command:        []string{"ls"},
		TimeoutSeconds: 100_000,
	})
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, "timeout_too_large", f.Code)
}

func TestRunScrubsServerEnv(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	t.Setenv("GITWARD_REMOTE_TOKEN", "super-secret")

	rec, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command: []string{"sh", "-c", "echo ${GITWARD_REMOTE_TOKEN:-unset}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "unset\n", rec.Stdout)
}

func TestRunAppliesEnvOverrides(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	rec, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command: []string{"sh", "-c", "echo $BUILD_MODE"},
		Env:     map[string]string{"BUILD_MODE": "release"},
	})
	require.NoError(t, err)
	assert.Equal(t, "release\n", rec.Stdout)
}

func TestRunCommandNotRunnable(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	_, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command: []string{"definitely-not-a-binary-anywhere"},
	})
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, "command_not_runnable", f.Code)
}

func TestRunWorkspacePersistsAcrossRuns(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	_, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command: []string{"sh", "-c", "echo scratch > scratch.txt"},
	})
	require.NoError(t, err)

	rec, err := r.Run(context.Background(), Request{
		FullName: testRepo, Ref: "main",
		Command: []string{"cat", "scratch.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "scratch\n", rec.Stdout)
}

func TestRunGateLabelsOperation(t *testing.T) {
	origin := seedOrigin(t, map[string]string{"README.md": "hi\n"})
	r, _, _ := newTestRunner(t, origin)

	_, err := r.Run(context.Background(), Request{
		FullName: "octo/controller", Ref: "",
		Command: []string{"ls"},
	})
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, "run_command", f.Context["operation"])
	assert.True(t, strings.Contains(f.Message, "not authorized") || f.Code == "writes_disabled")
}
