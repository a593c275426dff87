package services

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/lyallcooper/diskscan/internal/clamscan"
	"github.com/lyallcooper/diskscan/internal/types"
)

const (
	notifyEveryFiles = 100
	notifyInterval   = time.Second
)

// Aggregator accumulates a session's counters from classified engine output.
// It is written by a single goroutine; readers use Snapshot.
type Aggregator struct {
	mu          sync.Mutex
	files       int64
	threats     int64
	descriptors []string
	seen        map[string]struct{}

	published atomic.Pointer[types.ScanResult]
	throttle  *rate.Sometimes
	notify    func(types.ScanResult)
}

// NewAggregator creates an aggregator with zeroed counters. notify may be nil.
func NewAggregator(notify func(types.ScanResult)) *Aggregator {
	a := &Aggregator{
		seen:     make(map[string]struct{}),
		throttle: &rate.Sometimes{First: 1, Every: notifyEveryFiles, Interval: notifyInterval},
		notify:   notify,
	}
	a.published.Store(&types.ScanResult{})
	return a
}

// Apply folds in an event seen while the engine is running. Engine totals
// replace the running counters.
func (a *Aggregator) Apply(ev clamscan.Event) bool {
	return a.apply(ev, false)
}

// Reconcile folds in an event from the final drain. Engine totals only ever
// raise the counters.
func (a *Aggregator) Reconcile(ev clamscan.Event) bool {
	return a.apply(ev, true)
}

func (a *Aggregator) apply(ev clamscan.Event, reconcile bool) bool {
	a.mu.Lock()
	immediate := true
	switch ev.Kind {
	case clamscan.EventFileOK:
		a.files++
		immediate = false
	case clamscan.EventThreatFound:
		a.threats++
		if _, ok := a.seen[ev.Descriptor]; !ok {
			a.seen[ev.Descriptor] = struct{}{}
			a.descriptors = append(a.descriptors, ev.Descriptor)
		}
	case clamscan.EventSummaryScanned:
		a.files = total(a.files, ev.Count, reconcile)
	case clamscan.EventSummaryInfected:
		a.threats = total(a.threats, ev.Count, reconcile)
	default:
		a.mu.Unlock()
		return false
	}
	snap := a.publishLocked()
	a.mu.Unlock()

	if a.notify == nil {
		return true
	}
	if immediate {
		a.notify(snap)
	} else {
		a.throttle.Do(func() { a.notify(snap) })
	}
	return true
}

func total(current, reported int64, reconcile bool) int64 {
	if reconcile {
		return max(current, reported)
	}
	return reported
}

// publishLocked stores an immutable snapshot. Descriptors are append-only, so
// the snapshot can share the backing array up to its own length.
func (a *Aggregator) publishLocked() types.ScanResult {
	n := len(a.descriptors)
	snap := &types.ScanResult{
		FilesScanned: a.files,
		ThreatsFound: a.threats,
		Threats:      a.descriptors[:n:n],
	}
	a.published.Store(snap)
	return *snap
}

// Snapshot returns the latest published counters
func (a *Aggregator) Snapshot() types.ScanResult {
	return *a.published.Load()
}

// Flush notifies unconditionally with the current counters
func (a *Aggregator) Flush() {
	if a.notify != nil {
		a.notify(a.Snapshot())
	}
}
