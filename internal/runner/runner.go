// Package runner executes commands inside managed workspace clones with
// a hard wall-clock timeout and bounded output capture.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AdaptivMCP/gitward/internal/fault"
	"github.com/AdaptivMCP/gitward/internal/gate"
	"github.com/AdaptivMCP/gitward/internal/refs"
	"github.com/AdaptivMCP/gitward/internal/workspace"
)

const (
	defaultTimeout = 120 * time.Second
	defaultMaxWait = 900 * time.Second
	defaultOutput  = 50_000
	reapDelay      = 2 * time.Second
)

// Request names a command to run inside a workspace.
type Request struct {
	FullName       string
	Ref            string
	Command        []string
	WorkingDir     string
	TimeoutSeconds int
	Env            map[string]string
}

// Record reports one execution, including partial output when the
// command was killed at the deadline.
type Record struct {
	Command         []string `json:"command"`
	Workspace       string   `json:"workspace"`
	WorkingDir      string   `json:"working_dir,omitempty"`
	ExitCode        int      `json:"exit_code"`
	TimedOut        bool     `json:"timed_out"`
	DurationMs      int64    `json:"duration_ms"`
	Stdout          string   `json:"stdout"`
	Stderr          string   `json:"stderr"`
	StdoutTruncated bool     `json:"stdout_truncated"`
	StderrTruncated bool     `json:"stderr_truncated"`
}

// Config wires a Runner.
type Config struct {
	Workspaces     *workspace.Manager
	Gate           *gate.Gate
	Resolver       refs.Resolver
	Logger         *zap.Logger
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputChars int
}

// Runner serializes executions per workspace key through the manager's
// entry locks; runs against different keys proceed in parallel.
type Runner struct {
	workspaces     *workspace.Manager
	gate           *gate.Gate
	resolver       refs.Resolver
	logger         *zap.Logger
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	maxOutput      int
}

func New(cfg Config) *Runner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = defaultMaxWait
	}
	if cfg.MaxOutputChars <= 0 {
		cfg.MaxOutputChars = defaultOutput
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{
		workspaces:     cfg.Workspaces,
		gate:           cfg.Gate,
		resolver:       cfg.Resolver,
		logger:         cfg.Logger,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		maxOutput:      cfg.MaxOutputChars,
	}
}

// Run executes the command rooted at the workspace for (full_name, ref).
// Command execution can mutate the clone, so every run passes the write
// gate with the resolved ref as its target. A deadline expiry is not an
// error: the record comes back with timed_out set and whatever output
// was captured before the process tree was killed.
func (r *Runner) Run(ctx context.Context, req Request) (*Record, error) {
	if len(req.Command) == 0 {
		return nil, fault.New(fault.Validation, "missing_command", "command must not be empty")
	}
	timeout := r.defaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if timeout > r.maxTimeout {
		return nil, fault.New(fault.Validation, "timeout_too_large",
			"timeout %s exceeds the configured maximum", timeout).
			WithContext("max_timeout_seconds", strconv.Itoa(int(r.maxTimeout/time.Second)))
	}

	branch := r.resolver.Resolve(req.FullName, req.Ref)
	if err := r.gate.EnsureAllowed("run_command", branch); err != nil {
		return nil, err
	}

	var record *Record
	err := r.workspaces.Exclusive(ctx, req.FullName, branch, func(info *workspace.Info) error {
		dir, err := resolveWorkDir(info.Path, req.WorkingDir)
		if err != nil {
			return err
		}
		rec, err := r.execute(ctx, info, dir, timeout, req)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *Runner) execute(ctx context.Context, info *workspace.Info, dir string, timeout time.Duration, req Request) (*Record, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, req.Command[0], req.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = buildEnv(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the whole process group, not just the leader, and stop
	// draining pipes shortly after so a detached grandchild cannot
	// wedge Wait.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = reapDelay

	stdout := &cappedWriter{max: r.maxOutput}
	stderr := &cappedWriter{max: r.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if runErr != nil && !timedOut {
		// A kill by the caller's context shows up as an ExitError, so
		// check for cancellation before inspecting the exit status.
		if runCtx.Err() != nil {
			return nil, fault.Wrap(runErr, fault.CommandTimeout, "canceled",
				"command canceled before completion").
				WithRepoRef(req.FullName, info.Ref)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fault.Wrap(runErr, fault.Validation, "command_not_runnable",
				"command could not be started").
				WithContext("command", req.Command[0])
		}
		// Non-zero exit is a result, not an error.
	}

	record := &Record{
		Command:         req.Command,
		Workspace:       info.Key,
		WorkingDir:      req.WorkingDir,
		ExitCode:        exitCode(runErr),
		TimedOut:        timedOut,
		DurationMs:      elapsed.Milliseconds(),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
	}

	r.logger.Info("command finished",
		zap.String("repo", req.FullName),
		zap.String("ref", info.Ref),
		zap.String("command", req.Command[0]),
		zap.Int("exit_code", record.ExitCode),
		zap.Bool("timed_out", record.TimedOut),
		zap.Int64("duration_ms", record.DurationMs),
	)
	return record, nil
}

func resolveWorkDir(root, sub string) (string, error) {
	if sub == "" {
		return root, nil
	}
	if filepath.IsAbs(sub) {
		return "", fault.New(fault.Validation, "working_dir_escape",
			"working_dir must be relative to the workspace root")
	}
	dir := filepath.Join(root, sub)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fault.New(fault.Validation, "working_dir_escape",
			"working_dir %q resolves outside the workspace", sub)
	}
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return "", fault.New(fault.Validation, "working_dir_not_found",
			"working_dir %q does not exist in the workspace", sub)
	}
	return dir, nil
}

// buildEnv inherits the process environment minus the server's own
// GITWARD_* variables, so tokens and DSNs never leak into commands.
func buildEnv(overrides map[string]string) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "GITWARD_") {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// cappedWriter keeps the first max bytes and flags the overflow. Write
// always reports success so the process never blocks on a full buffer.
type cappedWriter struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	space := w.max - w.buf.Len()
	if space <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > space {
		w.buf.Write(p[:space])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

func (w *cappedWriter) String() string {
	return w.buf.String()
}
