package system

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Runner runs short-lived external commands. Implementations must return as
// soon as ctx is done, even if the child has not exited yet.
type Runner interface {
	// Run returns the command's combined stdout and stderr
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// Output returns stdout only
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Ensure ExecRunner implements Runner
var _ Runner = ExecRunner{}

// Run implements Runner
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	return run(ctx, &buf, &buf, name, args...)
}

// Output implements Runner
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	return run(ctx, &stdout, nil, name, args...)
}

func run(ctx context.Context, stdout, stderr *bytes.Buffer, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	if stderr != nil {
		cmd.Stderr = stderr
	}
	// Don't hang on descendants that keep the output pipes open.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return stdout.Bytes(), err
	case <-ctx.Done():
		// A process stuck in uninterruptible sleep ignores the kill; the
		// caller gets its answer on time regardless.
		return nil, ctx.Err()
	}
}
