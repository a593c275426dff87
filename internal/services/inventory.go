package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lyallcooper/diskscan/internal/metrics"
	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

// DiskLister enumerates scannable disks
type DiskLister interface {
	ListDisks(ctx context.Context) ([]types.DiskTarget, error)
}

// DatabaseChecker reports the signature database state
type DatabaseChecker interface {
	Check() sigdb.Info
}

// Inventory caches the disk list and signature database status so that
// page loads don't shell out. The scheduler and watcher refresh it.
type Inventory struct {
	disks   DiskLister
	db      DatabaseChecker
	metrics *metrics.Collector
	log     *slog.Logger

	mu       sync.RWMutex
	list     []types.DiskTarget
	listErr  error
	listedAt time.Time
	dbInfo   sigdb.Info
}

// NewInventory creates an empty inventory; call Refresh to populate it
func NewInventory(disks DiskLister, db DatabaseChecker, m *metrics.Collector, log *slog.Logger) *Inventory {
	if log == nil {
		log = slog.Default()
	}
	return &Inventory{
		disks:   disks,
		db:      db,
		metrics: m,
		log:     log.With("component", "inventory"),
		dbInfo:  sigdb.Info{Status: sigdb.StatusMissing},
	}
}

// Refresh reloads both the disk list and the database status
func (i *Inventory) Refresh(ctx context.Context) error {
	i.RefreshDatabase()
	return i.RefreshDisks(ctx)
}

// RefreshDisks reloads the disk list. On failure the previous list is kept.
func (i *Inventory) RefreshDisks(ctx context.Context) error {
	list, err := i.disks.ListDisks(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.listErr = err
	if err != nil {
		i.log.Warn("disk refresh failed", "error", err)
		return err
	}
	i.list = list
	i.listedAt = time.Now()
	i.log.Debug("disks refreshed", "count", len(list))
	return nil
}

// RefreshDatabase re-checks the signature database
func (i *Inventory) RefreshDatabase() sigdb.Info {
	info := i.db.Check()
	i.metrics.DatabaseChecked(info)

	i.mu.Lock()
	prev := i.dbInfo.Status
	i.dbInfo = info
	i.mu.Unlock()

	if prev != info.Status {
		i.log.Info("signature database status", "status", info.Status, "files", len(info.Files),
			"last_update", info.LastUpdate)
	}
	return info
}

// Disks returns a copy of the cached disk list
func (i *Inventory) Disks() []types.DiskTarget {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]types.DiskTarget(nil), i.list...)
}

// DisksError returns the error of the last disk refresh, if any
func (i *Inventory) DisksError() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.listErr
}

// Disk looks up a cached disk by device path
func (i *Inventory) Disk(device string) (types.DiskTarget, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, d := range i.list {
		if d.Device == device {
			return d, true
		}
	}
	return types.DiskTarget{}, false
}

// SystemDisks returns the cached disks that back the running system
func (i *Inventory) SystemDisks() []types.DiskTarget {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var out []types.DiskTarget
	for _, d := range i.list {
		if d.System {
			out = append(out, d)
		}
	}
	return out
}

// Database returns the cached database status
func (i *Inventory) Database() sigdb.Info {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.dbInfo
}

// DatabaseStatus re-checks the database and returns its status. It is
// wired into the scanner's pre-start check.
func (i *Inventory) DatabaseStatus() sigdb.Status {
	return i.RefreshDatabase().Status
}
