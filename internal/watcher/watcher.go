package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lyallcooper/diskscan/internal/sigdb"
)

// Refresher is the inventory refreshed in response to filesystem changes
type Refresher interface {
	RefreshDisks(ctx context.Context) error
	RefreshDatabase() sigdb.Info
}

// blockDevice matches whole-disk and partition nodes under /dev
var blockDevice = regexp.MustCompile(`^(sd[a-z]+|vd[a-z]+|nvme\d+n\d+|mmcblk\d+)(p?\d+)?$`)

// Service watches the signature database directory and the device directory,
// refreshing the inventory after a burst of changes settles.
type Service struct {
	inventory Refresher
	sigDir    string
	devDir    string
	logger    *slog.Logger
	debounce  time.Duration
}

// NewService creates a new filesystem watcher service.
func NewService(inventory Refresher, sigDir, devDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		inventory: inventory,
		sigDir:    filepath.Clean(sigDir),
		devDir:    filepath.Clean(devDir),
		logger:    logger.With("component", "fs-watcher"),
		debounce:  2 * time.Second,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// Start blocks until ctx is canceled. Directories that cannot be watched are
// logged and skipped; the scheduler still refreshes them periodically.
func (s *Service) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close() //nolint:errcheck

	watched := 0
	for _, dir := range []string{s.sigDir, s.devDir} {
		if err := w.Add(dir); err != nil {
			s.logger.Warn("cannot watch directory", "path", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		s.logger.Warn("no directories watched")
	}
	s.logger.Info("filesystem watcher starting", "signatures", s.sigDir, "devices", s.devDir)

	sigTimer := stoppedTimer()
	devTimer := stoppedTimer()

	for {
		select {
		case <-ctx.Done():
			sigTimer.Stop()
			devTimer.Stop()
			s.logger.Info("filesystem watcher stopping")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch s.classify(ev) {
			case changeSignatures:
				resetTimer(sigTimer, s.debounce)
			case changeDevices:
				resetTimer(devTimer, s.debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-sigTimer.C:
			info := s.inventory.RefreshDatabase()
			s.logger.Info("signature database changed", "status", info.Status)

		case <-devTimer.C:
			s.logger.Info("block devices changed, refreshing disks")
			if err := s.inventory.RefreshDisks(ctx); err != nil {
				s.logger.Warn("disk refresh failed", "error", err)
			}
		}
	}
}

type change int

const (
	changeNone change = iota
	changeSignatures
	changeDevices
)

func (s *Service) classify(ev fsnotify.Event) change {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return changeNone
	}

	dir, name := filepath.Dir(ev.Name), filepath.Base(ev.Name)
	switch dir {
	case s.sigDir:
		if isSignatureFile(name) {
			return changeSignatures
		}
	case s.devDir:
		if !ev.Has(fsnotify.Write) && blockDevice.MatchString(name) {
			return changeDevices
		}
	}
	return changeNone
}

func isSignatureFile(name string) bool {
	if name == "update_info.txt" {
		return true
	}
	ext := filepath.Ext(name)
	if ext != ".cvd" && ext != ".cld" {
		return false
	}
	switch strings.TrimSuffix(name, ext) {
	case "main", "daily", "bytecode":
		return true
	}
	return false
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(0)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
