// Package app provides shared application initialization logic used by both
// the server (CLI) and desktop (Wails) entry points.
package app

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lyallcooper/diskscan/internal/clamscan"
	"github.com/lyallcooper/diskscan/internal/config"
	"github.com/lyallcooper/diskscan/internal/db"
	"github.com/lyallcooper/diskscan/internal/disk"
	"github.com/lyallcooper/diskscan/internal/handlers"
	"github.com/lyallcooper/diskscan/internal/logging"
	"github.com/lyallcooper/diskscan/internal/metrics"
	"github.com/lyallcooper/diskscan/internal/mount"
	"github.com/lyallcooper/diskscan/internal/scheduler"
	"github.com/lyallcooper/diskscan/internal/services"
	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/system"
	"github.com/lyallcooper/diskscan/internal/watcher"
	"github.com/lyallcooper/diskscan/internal/webfs"
)

// Options contains overrides applied on top of the loaded configuration.
type Options struct {
	// ConfigPath is an optional YAML file.
	ConfigPath string

	// Port to listen on. If 0, uses config default.
	Port int

	// BindAddress overrides the configured bind address when set.
	// Use "127.0.0.1" for desktop mode to only allow local connections.
	BindAddress string

	// ClamscanBinary path override. If empty, uses the configured binary.
	ClamscanBinary string

	// LogLevel overrides the configured log level when valid.
	LogLevel string

	// LogOutput receives console logs instead of stdout.
	LogOutput io.Writer

	// Version string for display.
	Version string

	// Commit hash for display.
	Commit string

	// WebFS overrides the embedded web assets.
	WebFS fs.FS

	// DisableCSRF disables CSRF protection. Use for desktop mode where
	// the server only accepts local connections.
	DisableCSRF bool
}

// Core holds the components shared by the server and the one-shot CLI commands.
type Core struct {
	Config    *config.Config
	Logging   *logging.Manager
	Logger    *slog.Logger
	Metrics   *metrics.Collector
	Executor  *clamscan.Executor
	Mounts    *mount.Manager
	Disks     *disk.Lister
	Database  *sigdb.Checker
	Inventory *services.Inventory
	Scanner   *services.Scanner
}

// NewCore loads configuration and builds the scan engine without any
// long-running background services.
func NewCore(opts Options) (*Core, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.BindAddress != "" {
		cfg.Server.Bind = opts.BindAddress
	}
	if opts.ClamscanBinary != "" {
		cfg.Engine.Binary = opts.ClamscanBinary
	}
	if logging.ValidLevel(opts.LogLevel) {
		cfg.Logging.Level = opts.LogLevel
	}

	logOut := opts.LogOutput
	if logOut == nil {
		logOut = os.Stdout
	}
	logMgr, logger := logging.NewManagerWriter(cfg.Logging, logOut)
	slog.SetDefault(logger)

	run := system.ExecRunner{}
	m := metrics.New()

	executor := clamscan.NewExecutor()
	executor.SetBinaryPath(cfg.Engine.Binary)
	executor.SetLogPath(cfg.Engine.LogPath)
	executor.SetStopTimeout(cfg.Engine.StopTimeout)
	executor.SetLogger(logger)

	mounts := mount.NewManager(logger, run, mount.Config{
		BaseDir:             cfg.Mount.BaseDir,
		QueryTimeout:        cfg.Mount.QueryTimeout,
		MountTimeout:        cfg.Mount.MountTimeout,
		UnmountTimeout:      cfg.Mount.UnmountTimeout,
		ForceUnmountTimeout: cfg.Mount.ForceUnmountTimeout,
	})

	lister := disk.NewLister(logger, run)
	checker := sigdb.NewChecker(cfg.Signatures.Dir, cfg.Signatures.MaxAge)
	inventory := services.NewInventory(lister, checker, m, logger)

	scanner := services.NewScanner(executor, mounts, services.Config{
		RootTarget:     cfg.Engine.RootTarget,
		StopTimeout:    cfg.Engine.StopTimeout,
		DrainTimeout:   cfg.Engine.DrainTimeout,
		Logger:         logger,
		Activity:       logging.NewSlogSink(logger),
		Metrics:        m,
		DatabaseStatus: inventory.DatabaseStatus,
	})

	return &Core{
		Config:    cfg,
		Logging:   logMgr,
		Logger:    logger,
		Metrics:   m,
		Executor:  executor,
		Mounts:    mounts,
		Disks:     lister,
		Database:  checker,
		Inventory: inventory,
		Scanner:   scanner,
	}, nil
}

// CheckEngine logs a warning when clamscan is missing
func (c *Core) CheckEngine(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Executor.CheckInstalled(ctx); err != nil {
		c.Logger.Warn("clamscan not found; install ClamAV to enable scanning", "error", err)
		return err
	}
	return nil
}

// Close releases the log file writer
func (c *Core) Close() {
	if c.Logging != nil {
		c.Logging.Close() //nolint:errcheck
	}
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	*Core
	HTTP      *http.Server
	Store     *db.DB
	Scheduler *scheduler.Scheduler
	Watcher   *watcher.Service

	cancel context.CancelFunc
	done   chan struct{}
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(opts Options) (*Server, error) {
	core, err := NewCore(opts)
	if err != nil {
		return nil, err
	}
	cfg := core.Config
	log := core.Logger

	log.Info("diskscan starting",
		"database", cfg.Database.Path,
		"addr", cfg.Server.Addr(),
		"signatures", cfg.Signatures.Dir,
	)

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Saved log level wins over the configured default but not over the command line
	if settings, err := store.GetSettings(); err == nil && opts.LogLevel == "" && logging.ValidLevel(settings.LogLevel) {
		core.Logging.SetLevel(settings.LogLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	_ = core.CheckEngine(ctx)
	if err := core.Inventory.Refresh(ctx); err != nil {
		log.Warn("initial disk listing failed", "error", err)
	}

	sched := scheduler.New(core.Inventory, scheduler.Config{
		Signatures: cfg.Scheduler.Signatures,
		Disks:      cfg.Scheduler.Disks,
	}, log)
	if err := sched.Start(); err != nil {
		cancel()
		store.Close()
		core.Close()
		return nil, err
	}

	webFS := opts.WebFS
	if webFS == nil {
		webFS = webfs.FS
	}

	h, err := handlers.New(handlers.Deps{
		Config:        cfg,
		Scanner:       core.Scanner,
		Inventory:     core.Inventory,
		Store:         store,
		Metrics:       core.Metrics,
		Logging:       core.Logging,
		EngineVersion: core.Executor.Version,
		Logger:        log,
		Version:       buildVersionString(opts.Version, opts.Commit),
		DisableCSRF:   opts.DisableCSRF,
	}, webFS)
	if err != nil {
		cancel()
		sched.Stop()
		store.Close()
		core.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}
	h.StartCSRFCleanup(ctx)

	s := &Server{
		Core:      core,
		Store:     store,
		Scheduler: sched,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if cfg.Watcher.Enabled {
		s.Watcher = watcher.NewService(core.Inventory, cfg.Signatures.Dir, cfg.Watcher.DevDir, log)
		go func() {
			defer close(s.done)
			if err := s.Watcher.Start(ctx); err != nil {
				log.Warn("filesystem watcher unavailable", "error", err)
			}
		}()
	} else {
		close(s.done)
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	s.HTTP = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Cleanup stops a running scan and releases all resources held by the server.
func (s *Server) Cleanup() {
	if s.Scanner.StopScan() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := s.Scanner.Wait(ctx); err != nil {
			s.Logger.Warn("scan did not finish before shutdown", "error", err)
		}
		cancel()
	}
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Store != nil {
		s.Store.Close()
	}
	s.Core.Close()
}

func buildVersionString(version, commit string) string {
	if version == "" {
		version = "dev"
	}
	if strings.HasPrefix(version, "v") {
		return version
	}
	shortCommit := commit
	if len(shortCommit) > 7 {
		shortCommit = shortCommit[:7]
	}
	if shortCommit == "" {
		shortCommit = "unknown"
	}
	return version + "-" + shortCommit
}
