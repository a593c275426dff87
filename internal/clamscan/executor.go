package clamscan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Executor runs clamscan
type Executor struct {
	binaryPath  string
	logPath     string
	stopTimeout time.Duration
	log         *slog.Logger
}

// NewExecutor creates a new clamscan executor
func NewExecutor() *Executor {
	return &Executor{
		binaryPath:  "clamscan",
		logPath:     DefaultLogPath,
		stopTimeout: 5 * time.Second,
		log:         slog.Default().With("component", "clamscan"),
	}
}

// SetBinaryPath sets a custom path to the clamscan binary
func (e *Executor) SetBinaryPath(path string) {
	e.binaryPath = path
}

// SetLogPath sets the file clamscan appends its report to
func (e *Executor) SetLogPath(path string) {
	e.logPath = path
}

// SetLogger sets the logger used for output read problems
func (e *Executor) SetLogger(log *slog.Logger) {
	e.log = log.With("component", "clamscan")
}

// SetStopTimeout sets how long a context-triggered stop waits before killing
func (e *Executor) SetStopTimeout(d time.Duration) {
	e.stopTimeout = d
}

// CheckInstalled verifies that clamscan is installed and accessible
func (e *Executor) CheckInstalled(ctx context.Context) error {
	out, err := e.Version(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(out, "ClamAV") {
		return fmt.Errorf("unexpected output from clamscan --version: %s", out)
	}
	return nil
}

// Version returns the first line of clamscan --version, e.g.
// "ClamAV 1.0.7/27431/Mon Oct 19 08:30:00 2026"
func (e *Executor) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, e.binaryPath, "--version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("clamscan not found or not executable: %w", err)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return first, nil
}

// BuildArgs returns the clamscan argument list for opts
func (e *Executor) BuildArgs(opts Options) []string {
	var args []string
	if opts.RemoveInfected {
		args = append(args, "--remove")
	}
	args = append(args, "--recursive", "--verbose", "--stdout")
	if e.logPath != "" {
		args = append(args, "--log="+e.logPath)
	}
	return append(args, opts.Targets...)
}

// Start launches clamscan with stdout and stderr merged into one pipe. The
// process runs in its own process group so that stopping it also stops any
// helper it spawned. Cancelling ctx stops the process.
func (e *Executor) Start(ctx context.Context, opts Options) (Handle, error) {
	if len(opts.Targets) == 0 {
		return nil, fmt.Errorf("%w: no scan targets", ErrScanLaunchFailed)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create output pipe: %v", ErrScanLaunchFailed, err)
	}

	cmd := exec.Command(e.binaryPath, e.BuildArgs(opts)...)
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("%w: %v", ErrScanLaunchFailed, err)
	}
	// The child holds its own copy; ours must go so that EOF arrives.
	w.Close()

	e.log.Info("started clamscan", "pid", cmd.Process.Pid, "targets", opts.Targets,
		"remove", opts.RemoveInfected)

	p := newProcess(cmd, r, e.log)
	go func() {
		select {
		case <-ctx.Done():
			p.Stop(e.stopTimeout)
		case <-p.exited:
		}
	}()
	return p, nil
}
