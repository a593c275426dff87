package clamscan

import (
	"context"
	"time"
)

// ExecutorInterface defines the interface for scan engine operations.
// This allows mocking the executor in tests.
type ExecutorInterface interface {
	// CheckInstalled verifies that the engine is installed and accessible
	CheckInstalled(ctx context.Context) error

	// Version returns the engine version string
	Version(ctx context.Context) (string, error)

	// Start launches a scan of opts.Targets
	Start(ctx context.Context, opts Options) (Handle, error)
}

// Handle is a running engine process
type Handle interface {
	// Lines yields merged stdout/stderr lines in emission order. It is
	// closed once the output stream ends.
	Lines() <-chan string

	// Exited is closed when the process has been reaped
	Exited() <-chan struct{}

	// ExitErr is the process exit error; only valid after Exited is closed
	ExitErr() error

	// Stop terminates gracefully, then forcibly after timeout
	Stop(timeout time.Duration) error

	// Kill terminates immediately
	Kill() error

	// Close stops delivering lines; any further output is discarded
	Close()
}

// Ensure Executor implements ExecutorInterface
var _ ExecutorInterface = (*Executor)(nil)

// Ensure Process implements Handle
var _ Handle = (*Process)(nil)
