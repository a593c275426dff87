// Package mount creates temporary read-only mounts for the partitions of a
// device under scan and guarantees that they are torn down again.
package mount

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lyallcooper/diskscan/internal/system"
)

const (
	mountPointPrefix = "diskscan_"
	mountPointPerms  = 0o700
)

var (
	// ErrMountTimeout is returned when mount does not finish within Config.MountTimeout
	ErrMountTimeout = errors.New("mount timed out")
	// ErrMountFailed is returned when the mount tool reports an error
	ErrMountFailed = errors.New("mount failed")
	// ErrUnmountTimeout is logged when a graceful unmount has to be forced
	ErrUnmountTimeout = errors.New("unmount timed out")
)

// MountError describes a failed mount attempt
type MountError struct {
	Partition string
	Output    string
	Timeout   bool
}

func (e *MountError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("mount %s: %v", e.Partition, ErrMountTimeout)
	}
	if e.Output == "" {
		return fmt.Sprintf("mount %s: %v", e.Partition, ErrMountFailed)
	}
	return fmt.Sprintf("mount %s: %v: %s", e.Partition, ErrMountFailed, e.Output)
}

// Is lets errors.Is match the error kind sentinels
func (e *MountError) Is(target error) bool {
	switch target {
	case ErrMountTimeout:
		return e.Timeout
	case ErrMountFailed:
		return !e.Timeout
	}
	return false
}

// Record is a live mount owned by a scan session
type Record struct {
	Source     string
	MountPoint string
	Mounted    bool
}

// Config holds the mount manager's paths and time limits
type Config struct {
	BaseDir             string
	QueryTimeout        time.Duration
	MountTimeout        time.Duration
	UnmountTimeout      time.Duration
	ForceUnmountTimeout time.Duration
}

// DefaultConfig returns the standard limits
func DefaultConfig() Config {
	return Config{
		BaseDir:             os.TempDir(),
		QueryTimeout:        10 * time.Second,
		MountTimeout:        30 * time.Second,
		UnmountTimeout:      10 * time.Second,
		ForceUnmountTimeout: 5 * time.Second,
	}
}

// Mounter is the subset of Manager a scan session depends on
type Mounter interface {
	DiscoverPartitions(ctx context.Context, device string) []string
	Mount(ctx context.Context, partition string) (*Record, error)
	Unmount(rec *Record) bool
}

// Ensure Manager implements Mounter
var _ Mounter = (*Manager)(nil)

// Manager mounts partitions read-only below a base directory
type Manager struct {
	log *slog.Logger
	run system.Runner
	cfg Config
	seq atomic.Uint64
}

// NewManager creates a mount manager. Zero values in cfg take the defaults.
func NewManager(log *slog.Logger, run system.Runner, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.BaseDir == "" {
		cfg.BaseDir = def.BaseDir
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if cfg.MountTimeout <= 0 {
		cfg.MountTimeout = def.MountTimeout
	}
	if cfg.UnmountTimeout <= 0 {
		cfg.UnmountTimeout = def.UnmountTimeout
	}
	if cfg.ForceUnmountTimeout <= 0 {
		cfg.ForceUnmountTimeout = def.ForceUnmountTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log: log.With("component", "mount"),
		run: run,
		cfg: cfg,
	}
}

// DevicePath returns name as an absolute /dev path
func DevicePath(name string) string {
	if strings.HasPrefix(name, "/dev/") {
		return name
	}
	return "/dev/" + strings.TrimPrefix(name, "/")
}

// DiscoverPartitions lists the partitions of device in kernel order. Any
// failure yields an empty list.
func (m *Manager) DiscoverPartitions(ctx context.Context, device string) []string {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
	defer cancel()

	device = DevicePath(device)
	out, err := m.run.Output(ctx, "lsblk", "-ln", "-o", "NAME,TYPE", device)
	if err != nil {
		m.log.Warn("partition discovery failed", "device", device, "error", err)
		return nil
	}
	return parsePartitions(string(out))
}

func parsePartitions(out string) []string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "part" {
			continue
		}
		name := strings.TrimLeft(fields[0], "├└│─`|- ")
		if name == "" {
			continue
		}
		parts = append(parts, DevicePath(name))
	}
	return parts
}

// Mount mounts partition read-only on a fresh directory. On failure the
// directory is removed again and the returned error matches ErrMountTimeout
// or ErrMountFailed.
func (m *Manager) Mount(ctx context.Context, partition string) (*Record, error) {
	mountPoint, err := m.makeMountPoint(partition)
	if err != nil {
		return nil, &MountError{Partition: partition, Output: err.Error()}
	}

	mctx, cancel := context.WithTimeout(ctx, m.cfg.MountTimeout)
	defer cancel()

	out, err := m.run.Run(mctx, "mount", "-o", "ro", partition, mountPoint)
	if err != nil {
		if rmErr := removeMountPoint(mountPoint); rmErr != nil {
			m.log.Warn("failed to remove mount point", "mountpoint", mountPoint, "error", rmErr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(mctx.Err(), context.DeadlineExceeded) {
			return nil, &MountError{Partition: partition, Timeout: true}
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return nil, &MountError{Partition: partition, Output: msg}
	}

	m.log.Info("mounted partition", "partition", partition, "mountpoint", mountPoint)
	return &Record{Source: partition, MountPoint: mountPoint, Mounted: true}, nil
}

// Unmount detaches rec and removes its mount point. A graceful unmount that
// times out is retried with force. Failures are logged, never returned.
func (m *Manager) Unmount(rec *Record) bool {
	if rec == nil {
		return true
	}

	ok := true
	if rec.Mounted {
		if m.unmount(rec.MountPoint) {
			rec.Mounted = false
		} else {
			ok = false
		}
	}

	if err := removeMountPoint(rec.MountPoint); err != nil {
		m.log.Warn("failed to remove mount point", "mountpoint", rec.MountPoint, "error", err)
		ok = false
	}
	if ok {
		m.log.Info("unmounted partition", "partition", rec.Source, "mountpoint", rec.MountPoint)
	}
	return ok
}

func (m *Manager) unmount(mountPoint string) bool {
	// Cleanup has to run after the session context is gone.
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.UnmountTimeout)
	defer cancel()

	out, err := m.run.Run(ctx, "umount", mountPoint)
	if err == nil {
		return true
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		m.log.Warn("unmount failed", "mountpoint", mountPoint, "error", err,
			"output", strings.TrimSpace(string(out)))
		return false
	}

	m.log.Warn("forcing unmount", "mountpoint", mountPoint,
		"error", errors.Wrapf(ErrUnmountTimeout, "%s after %s", mountPoint, m.cfg.UnmountTimeout))

	fctx, fcancel := context.WithTimeout(context.Background(), m.cfg.ForceUnmountTimeout)
	defer fcancel()

	out, err = m.run.Run(fctx, "umount", "-f", mountPoint)
	if err != nil {
		m.log.Error("forced unmount failed", "mountpoint", mountPoint, "error", err,
			"output", strings.TrimSpace(string(out)))
		return false
	}
	return true
}

// makeMountPoint creates a directory that no other mount uses. The name
// carries the partition and a timestamp; the sequence number breaks ties.
func (m *Manager) makeMountPoint(partition string) (string, error) {
	id := strings.ReplaceAll(strings.TrimPrefix(partition, "/"), "/", "_")
	if !filepath.IsAbs(m.cfg.BaseDir) {
		return "", errors.Errorf("expecting absolute mount base, got %q", m.cfg.BaseDir)
	}

	for attempt := 0; attempt < 5; attempt++ {
		name := fmt.Sprintf("%s%s_%d_%d", mountPointPrefix, id, time.Now().UnixNano(), m.seq.Add(1))
		path := filepath.Join(m.cfg.BaseDir, name)
		err := os.Mkdir(path, mountPointPerms)
		if err == nil {
			return path, nil
		}
		if !os.IsExist(err) {
			return "", errors.Wrapf(err, "failed to create mount point %q", path)
		}
	}
	return "", errors.Errorf("no free mount point for %s in %s", partition, m.cfg.BaseDir)
}

// removeMountPoint deletes an empty mount point. os.Remove refuses a
// directory that still holds a mounted filesystem.
func removeMountPoint(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", path)
	}
	return nil
}
