package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyallcooper/diskscan/internal/clamscan"
	"github.com/lyallcooper/diskscan/internal/metrics"
	"github.com/lyallcooper/diskscan/internal/mount"
	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

var (
	// ErrSessionBusy is returned when a scan is requested while another runs
	ErrSessionBusy = errors.New("a scan is already in progress")
	// ErrNoDevice is returned when a scan is requested without a device
	ErrNoDevice = errors.New("no device selected")
	// ErrDatabaseNotReady is returned when the signature database is not OK
	// and the caller has not accepted the risk
	ErrDatabaseNotReady = errors.New("signature database is not up to date")

	errStopped = errors.New("scan stopped")
)

const activityHistory = 200

// ActivityLog receives the user-visible messages of a session
type ActivityLog interface {
	LogInfo(message string)
	LogWarning(message string)
	LogError(message string)
}

// Config configures a Scanner
type Config struct {
	// RootTarget is scanned in quick mode and when a deep scan has nothing to mount
	RootTarget   string
	StopTimeout  time.Duration
	DrainTimeout time.Duration

	Logger   *slog.Logger
	Activity ActivityLog
	Metrics  *metrics.Collector

	// DatabaseStatus is consulted before a session starts. Nil skips the check.
	DatabaseStatus func() sigdb.Status
}

// subscriber wraps a channel with safe close handling
type subscriber struct {
	ch        chan *types.ScanProgress
	closeOnce sync.Once
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() { close(sub.ch) })
}

func (sub *subscriber) send(progress *types.ScanProgress) bool {
	select {
	case sub.ch <- progress:
		return true
	default:
		return false
	}
}

// session is the state of one scan. Fields other than stop and agg are
// guarded by Scanner.mu.
type session struct {
	id      string
	disk    types.DiskTarget
	cfg     types.ScanConfiguration
	stop    *StopFlag
	agg     *Aggregator
	done    chan struct{}
	started time.Time

	state    types.SessionState
	targets  []string
	err      string
	ended    time.Time
	engine   map[string]string
	activity []types.ActivityEntry
}

// Scanner orchestrates scan sessions. At most one session is active.
type Scanner struct {
	executor clamscan.ExecutorInterface
	mounts   mount.Mounter
	cfg      Config
	log      *slog.Logger

	mu      sync.RWMutex
	current *session

	// SSE subscribers
	subMu       sync.RWMutex
	subscribers map[string][]*subscriber
}

// NewScanner creates a new scanner service
func NewScanner(executor clamscan.ExecutorInterface, mounts mount.Mounter, cfg Config) *Scanner {
	if cfg.RootTarget == "" {
		cfg.RootTarget = "/"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scanner{
		executor:    executor,
		mounts:      mounts,
		cfg:         cfg,
		log:         cfg.Logger.With("component", "scanner"),
		subscribers: make(map[string][]*subscriber),
	}
}

// Subscribe subscribes to progress updates for a session. The channel is
// closed after the session's final update.
func (s *Scanner) Subscribe(sessionID string) chan *types.ScanProgress {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	sub := &subscriber{
		ch: make(chan *types.ScanProgress, 32),
	}
	s.subscribers[sessionID] = append(s.subscribers[sessionID], sub)
	return sub.ch
}

// Unsubscribe removes a subscriber
func (s *Scanner) Unsubscribe(sessionID string, ch chan *types.ScanProgress) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subscribers[sessionID]
	for i, sub := range subs {
		if sub.ch == ch {
			s.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
			sub.close()
			break
		}
	}

	if len(s.subscribers[sessionID]) == 0 {
		delete(s.subscribers, sessionID)
	}
}

// broadcast sends progress to all subscribers of a session without blocking
func (s *Scanner) broadcast(sessionID string, progress *types.ScanProgress) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subscribers[sessionID] {
		sub.send(progress)
	}
}

// closeSubscribers closes all subscriber channels for a session
func (s *Scanner) closeSubscribers(sessionID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers[sessionID] {
		sub.close()
	}
	delete(s.subscribers, sessionID)
}

// StartScan validates the request and launches a session in the background.
// The request context only scopes validation; the session outlives it.
func (s *Scanner) StartScan(ctx context.Context, disk types.DiskTarget, cfg types.ScanConfiguration) (*types.ScanProgress, error) {
	if cfg.Mode != types.ScanModeDeep {
		cfg.Mode = types.ScanModeQuick
	}

	if disk.Device == "" {
		return nil, ErrNoDevice
	}

	if s.CurrentState().IsActive() {
		return nil, ErrSessionBusy
	}

	// The database check touches the filesystem; keep it off the lock.
	if s.cfg.DatabaseStatus != nil && !cfg.AcceptDatabaseRisk {
		if status := s.cfg.DatabaseStatus(); status != sigdb.StatusOK {
			return nil, fmt.Errorf("%w: status %s", ErrDatabaseNotReady, status)
		}
	}

	s.mu.Lock()
	if s.current != nil && !s.current.state.IsTerminal() {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}

	sess := &session{
		id:      uuid.NewString(),
		disk:    disk,
		cfg:     cfg,
		stop:    NewStopFlag(),
		done:    make(chan struct{}),
		started: time.Now(),
		state:   types.StatePreparing,
		engine:  make(map[string]string),
	}
	sess.agg = NewAggregator(func(types.ScanResult) { s.publish(sess) })
	s.current = sess
	s.mu.Unlock()

	s.cfg.Metrics.SessionStarted()
	s.log.Info("scan session started", "session", sess.id, "device", disk.Device,
		"mode", cfg.Mode, "remove", cfg.RemoveInfected)
	s.activityf(sess, slog.LevelInfo, "Starting %s scan of %s", cfg.Mode, describeTarget(disk, cfg.Mode))
	if cfg.RemoveInfected {
		s.activityf(sess, slog.LevelWarn, "Infected files will be removed")
	}

	progress := s.snapshot(sess)
	go s.runScan(context.WithoutCancel(ctx), sess)

	return progress, nil
}

// runScan executes a session and always releases its mounts before the
// terminal state is published.
func (s *Scanner) runScan(ctx context.Context, sess *session) {
	tracker := mount.NewTracker(s.mounts)
	state, err := types.StateFailed, error(nil)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan session panicked", "session", sess.id, "panic", r,
				"stack", string(debug.Stack()))
			state, err = types.StateFailed, fmt.Errorf("unexpected error: %v", r)
		}
		if released, failed := tracker.Release(); released+failed > 0 {
			if failed > 0 {
				s.activityf(sess, slog.LevelWarn, "%d mount(s) could not be cleaned up", failed)
			} else {
				s.activityf(sess, slog.LevelInfo, "Unmounted %d partition(s)", released)
			}
		}
		s.finish(sess, state, err)
	}()

	state, err = s.execute(ctx, sess, tracker)
}

func (s *Scanner) execute(ctx context.Context, sess *session, tracker *mount.Tracker) (types.SessionState, error) {
	targets, err := s.resolveTargets(ctx, sess, tracker)
	if errors.Is(err, errStopped) {
		return types.StateStopped, nil
	}
	if err != nil {
		return types.StateFailed, err
	}
	if sess.stop.IsSet() {
		return types.StateStopped, nil
	}

	s.mu.Lock()
	sess.targets = targets
	sess.state = types.StateScanning
	s.mu.Unlock()
	s.publish(sess)
	s.activityf(sess, slog.LevelInfo, "Scanning %d target(s)", len(targets))

	h, err := s.executor.Start(ctx, clamscan.Options{
		Targets:        targets,
		RemoveInfected: sess.cfg.RemoveInfected,
	})
	if err != nil {
		return types.StateFailed, err
	}

	return s.consume(sess, h)
}

// resolveTargets returns the paths to scan. Deep mode mounts every partition
// it can and falls back to the root target when nothing is mounted.
func (s *Scanner) resolveTargets(ctx context.Context, sess *session, tracker *mount.Tracker) ([]string, error) {
	root := []string{s.cfg.RootTarget}
	if sess.cfg.Mode != types.ScanModeDeep {
		return root, nil
	}

	s.setState(sess, types.StateMounting)

	partitions := s.mounts.DiscoverPartitions(ctx, sess.disk.Device)
	if len(partitions) == 0 {
		s.activityf(sess, slog.LevelWarn, "No partitions found on %s, scanning %s instead",
			sess.disk.Device, s.cfg.RootTarget)
		return root, nil
	}
	s.activityf(sess, slog.LevelInfo, "Found %d partition(s) on %s", len(partitions), sess.disk.Device)

	for _, partition := range partitions {
		if sess.stop.IsSet() {
			return nil, errStopped
		}

		rec, err := tracker.Mount(ctx, partition)
		switch {
		case errors.Is(err, mount.ErrMountTimeout):
			s.cfg.Metrics.MountFailed("timeout")
			s.activityf(sess, slog.LevelWarn, "Timed out mounting %s, skipping", partition)
		case err != nil:
			s.cfg.Metrics.MountFailed("error")
			s.activityf(sess, slog.LevelWarn, "Could not mount %s: %v", partition, err)
		default:
			s.activityf(sess, slog.LevelInfo, "Mounted %s at %s", rec.Source, rec.MountPoint)
		}

		if sess.stop.IsSet() {
			return nil, errStopped
		}
	}

	targets := tracker.Targets()
	if len(targets) == 0 {
		s.activityf(sess, slog.LevelWarn, "No partition could be mounted, scanning %s instead", s.cfg.RootTarget)
		return root, nil
	}
	return targets, nil
}

// consume feeds engine output through the parser until the engine exits or
// a stop is requested, then drains what is left.
func (s *Scanner) consume(sess *session, h clamscan.Handle) (types.SessionState, error) {
	defer h.Close()

	lines := h.Lines()
	exited := h.Exited()
	stopped := false

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				break loop
			}
			if hasExited(exited) {
				// Output read after exit is final output
				s.handleLine(sess, line, true)
				break loop
			}
			s.handleLine(sess, line, false)
			if sess.stop.IsSet() {
				stopped = true
				break loop
			}
		case <-exited:
			break loop
		case <-sess.stop.Done():
			stopped = true
			break loop
		}
	}

	s.setState(sess, types.StateFinalizing)

	if stopped {
		s.activityf(sess, slog.LevelInfo, "Stopping scan")
		if err := h.Stop(s.cfg.StopTimeout); err != nil {
			s.log.Warn("failed to stop clamscan", "session", sess.id, "error", err)
		}
	}

	killed := s.drain(sess, h, lines)
	if !waitExit(exited, s.cfg.DrainTimeout) {
		s.log.Warn("clamscan did not exit after output ended, killing", "session", sess.id)
		h.Kill()
		killed = true
		waitExit(exited, s.cfg.StopTimeout)
	}

	if stopped {
		return types.StateStopped, nil
	}
	if killed {
		return types.StateCompleted, nil
	}

	exitErr := h.ExitErr()
	switch code := clamscan.ExitCode(exitErr); code {
	case 0, 1:
		return types.StateCompleted, nil
	case 2:
		s.activityf(sess, slog.LevelWarn, "clamscan reported errors for some files (exit status 2)")
		return types.StateCompleted, nil
	default:
		return types.StateFailed, fmt.Errorf("clamscan exited unexpectedly: %w", exitErr)
	}
}

// drain reads remaining output with reconciliation semantics. It kills the
// engine and reports true when the output does not end in time.
func (s *Scanner) drain(sess *session, h clamscan.Handle, lines <-chan string) bool {
	if lines == nil {
		return false
	}

	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return false
			}
			s.handleLine(sess, line, true)
		case <-timer.C:
			s.activityf(sess, slog.LevelWarn, "Timed out waiting for final scan output")
			if err := h.Kill(); err != nil {
				s.log.Warn("failed to kill clamscan", "session", sess.id, "error", err)
			}
			return true
		}
	}
}

func hasExited(exited <-chan struct{}) bool {
	select {
	case <-exited:
		return true
	default:
		return false
	}
}

func waitExit(exited <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-exited:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Scanner) handleLine(sess *session, line string, reconcile bool) {
	ev := clamscan.Classify(line)
	before := len(sess.agg.Snapshot().Threats)

	if reconcile {
		sess.agg.Reconcile(ev)
	} else {
		sess.agg.Apply(ev)
	}

	switch ev.Kind {
	case clamscan.EventThreatFound:
		if len(sess.agg.Snapshot().Threats) > before {
			s.activityf(sess, slog.LevelWarn, "Threat detected: %s", ev.Descriptor)
		}
	case clamscan.EventEngineInfo:
		key, value := clamscan.EngineInfo(ev)
		s.mu.Lock()
		sess.engine[key] = value
		s.mu.Unlock()
		s.activityf(sess, slog.LevelInfo, "%s", ev.Descriptor)
	}
}

func (s *Scanner) finish(sess *session, state types.SessionState, err error) {
	result := sess.agg.Snapshot()

	s.mu.Lock()
	sess.state = state
	if err != nil {
		sess.err = err.Error()
	}
	sess.ended = time.Now()
	elapsed := sess.ended.Sub(sess.started)
	s.mu.Unlock()

	switch state {
	case types.StateCompleted:
		s.activityf(sess, slog.LevelInfo, "Scan completed: %d files scanned, %d threats found",
			result.FilesScanned, result.ThreatsFound)
	case types.StateStopped:
		s.activityf(sess, slog.LevelWarn, "Scan stopped: %d files scanned, %d threats found",
			result.FilesScanned, result.ThreatsFound)
	default:
		s.activityf(sess, slog.LevelError, "Scan failed: %s", sess.errText())
	}

	s.log.Info("scan session finished", "session", sess.id, "state", state,
		"files", result.FilesScanned, "threats", result.ThreatsFound, "elapsed", elapsed)
	s.cfg.Metrics.SessionFinished(sess.cfg.Mode, state, result, elapsed)

	s.publish(sess)
	close(sess.done)
	s.closeSubscribers(sess.id)
}

func (sess *session) errText() string {
	if sess.err == "" {
		return "unknown error"
	}
	return sess.err
}

// StopScan requests cancellation of the active session. It reports whether
// a running session received the request.
func (s *Scanner) StopScan() bool {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil || sess.stopRequestedOrDone() {
		return false
	}
	if !sess.stop.Set() {
		return false
	}
	s.log.Info("stop requested", "session", sess.id)
	return true
}

func (sess *session) stopRequestedOrDone() bool {
	select {
	case <-sess.done:
		return true
	default:
		return sess.stop.IsSet()
	}
}

// CurrentState returns the state of the latest session, Idle if none ran
func (s *Scanner) CurrentState() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return types.StateIdle
	}
	return s.current.state
}

// CurrentResult returns the counters of the latest session
func (s *Scanner) CurrentResult() types.ScanResult {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()
	if sess == nil {
		return types.ScanResult{}
	}
	return sess.agg.Snapshot()
}

// Status returns a snapshot of the latest session, or nil if none ran
func (s *Scanner) Status() *types.ScanProgress {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return s.snapshot(sess)
}

// Activity returns the recent activity of the latest session
func (s *Scanner) Activity() []types.ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return append([]types.ActivityEntry(nil), s.current.activity...)
}

// Wait blocks until the latest session reaches a terminal state
func (s *Scanner) Wait(ctx context.Context) (*types.ScanProgress, error) {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()
	if sess == nil {
		return nil, nil
	}

	select {
	case <-sess.done:
		return s.snapshot(sess), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scanner) snapshot(sess *session) *types.ScanProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(sess)
}

func (s *Scanner) snapshotLocked(sess *session) *types.ScanProgress {
	p := &types.ScanProgress{
		SessionID: sess.id,
		Device:    sess.disk.Device,
		Mode:      sess.cfg.Mode,
		State:     sess.state,
		Result:    sess.agg.Snapshot(),
		Targets:   append([]string(nil), sess.targets...),
		StartedAt: sess.started,
		Error:     sess.err,
	}
	if !sess.ended.IsZero() {
		ended := sess.ended
		p.EndedAt = &ended
	}
	if len(sess.engine) > 0 {
		p.Engine = make(map[string]string, len(sess.engine))
		for k, v := range sess.engine {
			p.Engine[k] = v
		}
	}
	return p
}

func (s *Scanner) setState(sess *session, state types.SessionState) {
	s.mu.Lock()
	sess.state = state
	s.mu.Unlock()
	s.publish(sess)
}

func (s *Scanner) publish(sess *session) {
	s.broadcast(sess.id, s.snapshot(sess))
}

// activityf records a user-visible message, forwards it to the activity log
// and pushes it to subscribers.
func (s *Scanner) activityf(sess *session, level slog.Level, format string, args ...any) {
	entry := types.ActivityEntry{
		Time:    time.Now(),
		Level:   levelName(level),
		Message: fmt.Sprintf(format, args...),
	}

	s.mu.Lock()
	sess.activity = append(sess.activity, entry)
	if len(sess.activity) > activityHistory {
		sess.activity = sess.activity[len(sess.activity)-activityHistory:]
	}
	progress := s.snapshotLocked(sess)
	s.mu.Unlock()

	if a := s.cfg.Activity; a != nil {
		switch {
		case level >= slog.LevelError:
			a.LogError(entry.Message)
		case level >= slog.LevelWarn:
			a.LogWarning(entry.Message)
		default:
			a.LogInfo(entry.Message)
		}
	}

	progress.Activity = &entry
	s.broadcast(sess.id, progress)
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warning"
	}
	return "info"
}

func describeTarget(disk types.DiskTarget, mode types.ScanMode) string {
	switch {
	case mode == types.ScanModeQuick:
		return "the live system"
	case disk.Model != "" && disk.Size != "":
		return fmt.Sprintf("%s (%s, %s)", disk.Device, disk.Model, disk.Size)
	}
	return disk.Device
}
