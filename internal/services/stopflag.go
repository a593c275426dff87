package services

import (
	"sync"
	"sync/atomic"
)

// StopFlag is a one-way cancellation signal. The display side sets it; the
// session worker polls IsSet or waits on Done.
type StopFlag struct {
	set  atomic.Bool
	once sync.Once
	ch   chan struct{}
}

// NewStopFlag returns an unset flag
func NewStopFlag() *StopFlag {
	return &StopFlag{ch: make(chan struct{})}
}

// Set raises the flag. It reports whether this call raised it.
func (f *StopFlag) Set() bool {
	first := false
	f.once.Do(func() {
		first = true
		f.set.Store(true)
		close(f.ch)
	})
	return first
}

// IsSet reports whether the flag has been raised
func (f *StopFlag) IsSet() bool {
	return f.set.Load()
}

// Done is closed once the flag is raised
func (f *StopFlag) Done() <-chan struct{} {
	return f.ch
}
