package system

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type (
	// MockResult is the canned outcome of one mocked command
	MockResult struct {
		Out   []byte
		Err   error
		Delay time.Duration // block this long, or until ctx is done
		Hook  func()        // called before returning
	}

	// MockRunner is a Runner whose responses are keyed by the full command line
	MockRunner struct {
		mu      sync.Mutex
		results map[string][]MockResult
		Default MockResult
		Calls   []string
	}
)

// Ensure MockRunner implements Runner
var _ Runner = (*MockRunner)(nil)

// NewMockRunner returns a MockRunner with no canned results
func NewMockRunner() *MockRunner {
	return &MockRunner{results: make(map[string][]MockResult)}
}

// Set queues results for a command line such as "umount /tmp/x". Queued
// results are consumed in order; the last one repeats.
func (m *MockRunner) Set(cmdline string, results ...MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[cmdline] = append(m.results[cmdline], results...)
}

// CallCount returns how many calls started with prefix
func (m *MockRunner) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (m *MockRunner) next(cmdline string) MockResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, cmdline)

	queue, ok := m.results[cmdline]
	if !ok || len(queue) == 0 {
		return m.Default
	}
	res := queue[0]
	if len(queue) > 1 {
		m.results[cmdline] = queue[1:]
	}
	return res
}

func (m *MockRunner) exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
	res := m.next(cmdline)

	if res.Delay > 0 {
		select {
		case <-time.After(res.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if res.Hook != nil {
		res.Hook()
	}
	return res.Out, res.Err
}

// Run implements Runner
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return m.exec(ctx, name, args...)
}

// Output implements Runner
func (m *MockRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return m.exec(ctx, name, args...)
}

// ExitError is a stand-in for *exec.ExitError in mocked results
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode mirrors (*exec.ExitError).ExitCode
func (e *ExitError) ExitCode() int {
	return e.Code
}
