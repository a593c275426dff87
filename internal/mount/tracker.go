package mount

import (
	"context"
	"sync"
)

// Tracker remembers every mount made for one session so that Release can
// undo all of them, whatever path the session took to its end.
type Tracker struct {
	mounter Mounter

	mu       sync.Mutex
	records  []*Record
	released bool
}

// NewTracker creates an empty tracker
func NewTracker(m Mounter) *Tracker {
	return &Tracker{mounter: m}
}

// Mount mounts partition and records the result
func (t *Tracker) Mount(ctx context.Context, partition string) (*Record, error) {
	rec, err := t.mounter.Mount(ctx, partition)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	return rec, nil
}

// Targets returns the mount points that are currently mounted
func (t *Tracker) Targets() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for _, rec := range t.records {
		if rec.Mounted {
			out = append(out, rec.MountPoint)
		}
	}
	return out
}

// Len returns the number of tracked records
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Release unmounts every record in reverse order. Calling it again is a no-op.
func (t *Tracker) Release() (released, failed int) {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return 0, 0
	}
	t.released = true
	records := t.records
	t.records = nil
	t.mu.Unlock()

	for i := len(records) - 1; i >= 0; i-- {
		if t.mounter.Unmount(records[i]) {
			released++
		} else {
			failed++
		}
	}
	return released, failed
}
