package clamscan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lineBuffer    = 256
	maxReadErrors = 3
)

// Process is a running clamscan
type Process struct {
	cmd *exec.Cmd
	log *slog.Logger

	output    *os.File
	lines     chan string
	exited    chan struct{}
	waitErr   error
	abandon   chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

func newProcess(cmd *exec.Cmd, output *os.File, log *slog.Logger) *Process {
	p := &Process{
		cmd:     cmd,
		log:     log,
		output:  output,
		lines:   make(chan string, lineBuffer),
		exited:  make(chan struct{}),
		abandon: make(chan struct{}),
	}
	go p.readLines(output)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p
}

// Lines implements Handle
func (p *Process) Lines() <-chan string { return p.lines }

// Exited implements Handle
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitErr implements Handle
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

// Close implements Handle. Closing the read end unblocks readLines even when
// a detached child still holds the write end.
func (p *Process) Close() {
	p.closeOnce.Do(func() {
		close(p.abandon)
		p.output.Close()
	})
}

// readLines forwards output line by line until EOF. Read errors are logged
// and retried a few times before the stream is given up.
func (p *Process) readLines(r *os.File) {
	defer close(p.lines)
	defer r.Close()

	br := bufio.NewReaderSize(r, 64*1024)
	failures := 0
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			failures = 0
			line = strings.ToValidUTF8(strings.TrimRight(line, "\r\n"), "�")
			select {
			case p.lines <- line:
			case <-p.abandon:
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return
		}
		failures++
		p.log.Warn("skipping unreadable output", "error", fmt.Errorf("%w: %v", ErrScanIO, err))
		if failures >= maxReadErrors {
			return
		}
	}
}

// Stop sends SIGTERM to the process group, waits up to timeout for the
// process to exit and kills it otherwise. Only the first call acts.
func (p *Process) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(timeout)
	})
	return p.stopErr
}

func (p *Process) stop(timeout time.Duration) error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	if err := p.signal(unix.SIGTERM); err != nil {
		p.log.Warn("failed to signal clamscan", "error", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	}

	p.log.Warn("clamscan did not exit after SIGTERM, killing", "timeout", timeout)
	return p.Kill()
}

// Kill implements Handle
func (p *Process) Kill() error {
	return p.signal(unix.SIGKILL)
}

func (p *Process) signal(sig syscall.Signal) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to send %v to clamscan: %w", sig, err)
	}
	return nil
}

// ExitCode extracts the exit status from an ExitErr result; 0 for nil and
// -1 when the error carries no status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}
