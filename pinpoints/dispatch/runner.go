package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/inference-sim/regiongen/pinpoints"
)

// Runner executes one job and blocks until it has finished.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// JobError reports a capture invocation that exited non-zero.
type JobError struct {
	ClusterID int
	Region    int // 1-based
	ExitCode  int // -1 if the process did not exit normally
	LogPath   string
	Err       error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: region %d (cluster %d) exited with status %d, output in %s: %v",
		pinpoints.ErrDispatchFailure, e.Region, e.ClusterID, e.ExitCode, e.LogPath, e.Err)
}

// Is matches pinpoints.ErrDispatchFailure.
func (e *JobError) Is(target error) bool { return target == pinpoints.ErrDispatchFailure }

func (e *JobError) Unwrap() error { return e.Err }

// ProcessRunner runs jobs as OS processes. Each process leads its own
// process group so that cancellation reaches any children it spawns.
type ProcessRunner struct {
	// KillGrace is how long a cancelled job gets between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// Run starts job, captures its output to job.LogPath and waits for it. When
// ctx is cancelled the process group is terminated.
func (r *ProcessRunner) Run(ctx context.Context, job Job) error {
	log, err := openLog(job)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	cmd := exec.CommandContext(ctx, job.Command, job.Args...)
	cmd.Env = append(os.Environ(), job.Env...)
	cmd.Stdout = log
	cmd.Stderr = log
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}
	cmd.WaitDelay = r.KillGrace

	err = cmd.Run()
	if err == nil {
		return nil
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &JobError{ClusterID: job.Region.ClusterID, Region: job.Region.Number(),
		ExitCode: code, LogPath: job.LogPath, Err: err}
}

func openLog(job Job) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(job.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Create(job.LogPath)
	if err != nil {
		return nil, fmt.Errorf("create job log: %w", err)
	}
	if _, err := fmt.Fprintf(f, "$ %s\n\n", job.String()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write job log: %w", err)
	}
	return f, nil
}

// DryRunner prints each job instead of running it.
type DryRunner struct {
	mu  sync.Mutex
	Out io.Writer
}

// Run writes the command line of job to Out.
func (r *DryRunner) Run(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintln(r.Out, strings.TrimSpace(job.String()))
	return err
}
