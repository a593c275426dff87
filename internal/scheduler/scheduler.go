package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/lyallcooper/diskscan/internal/sigdb"
)

// Refresher is the inventory the scheduled jobs keep current
type Refresher interface {
	RefreshDisks(ctx context.Context) error
	RefreshDatabase() sigdb.Info
}

// Config holds the cron expressions for each job. Empty disables the job.
type Config struct {
	Signatures string
	Disks      string
}

// Scheduler runs the periodic refresh jobs
type Scheduler struct {
	inventory Refresher
	cfg       Config
	log       *slog.Logger
	parser    cron.Parser

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	cancel  context.CancelFunc // Cancel function for running jobs
	wg      sync.WaitGroup     // Tracks running job goroutines
}

// New creates a new scheduler
func New(inventory Refresher, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		inventory: inventory,
		cfg:       cfg,
		log:       log.With("component", "scheduler"),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate checks both cron expressions
func (s *Scheduler) Validate() error {
	for name, expr := range map[string]string{"signatures": s.cfg.Signatures, "disks": s.cfg.Disks} {
		if expr == "" {
			continue
		}
		if _, err := s.parser.Parse(expr); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, expr, err)
		}
	}
	return nil
}

// Start registers the jobs and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cronLogger{s.log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)

	jobs := []struct {
		name string
		expr string
		run  func(context.Context)
	}{
		{"signatures", s.cfg.Signatures, s.refreshSignatures},
		{"disks", s.cfg.Disks, s.refreshDisks},
	}
	for _, j := range jobs {
		if j.expr == "" {
			s.log.Info("job disabled", "job", j.name)
			continue
		}
		run := j.run
		if _, err := c.AddFunc(j.expr, func() { s.track(ctx, run) }); err != nil {
			cancel()
			return fmt.Errorf("invalid %s schedule %q: %w", j.name, j.expr, err)
		}
	}

	s.cron = c
	s.cancel = cancel
	s.running = true
	c.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopped := s.cron.Stop()
	s.cancel()
	s.mu.Unlock()

	<-stopped.Done()
	s.wg.Wait()
}

// Running reports whether the scheduler has been started
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

func (s *Scheduler) track(ctx context.Context, run func(context.Context)) {
	s.wg.Add(1)
	defer s.wg.Done()
	if ctx.Err() != nil {
		return
	}
	run(ctx)
}

func (s *Scheduler) refreshSignatures(context.Context) {
	info := s.inventory.RefreshDatabase()
	s.log.Debug("signature database checked", "status", info.Status, "files", len(info.Files))
}

func (s *Scheduler) refreshDisks(ctx context.Context) {
	if err := s.inventory.RefreshDisks(ctx); err != nil {
		s.log.Warn("disk refresh failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
