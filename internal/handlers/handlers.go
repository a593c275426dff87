package handlers

import (
	"context"
	"encoding/json"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lyallcooper/diskscan/internal/config"
	"github.com/lyallcooper/diskscan/internal/db"
	"github.com/lyallcooper/diskscan/internal/metrics"
	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

// Scanner is the scan session controller used by the handlers
type Scanner interface {
	StartScan(ctx context.Context, disk types.DiskTarget, cfg types.ScanConfiguration) (*types.ScanProgress, error)
	StopScan() bool
	Status() *types.ScanProgress
	Activity() []types.ActivityEntry
	Subscribe(sessionID string) chan *types.ScanProgress
	Unsubscribe(sessionID string, ch chan *types.ScanProgress)
}

// Inventory provides the disk list and signature database status
type Inventory interface {
	Disks() []types.DiskTarget
	DisksError() error
	Disk(device string) (types.DiskTarget, bool)
	RefreshDisks(ctx context.Context) error
	Database() sigdb.Info
	RefreshDatabase() sigdb.Info
}

// SettingsStore persists the scan form defaults
type SettingsStore interface {
	GetSettings() (db.Settings, error)
	SaveSettings(s db.Settings) error
}

// LevelSetter changes the log level at runtime
type LevelSetter interface {
	SetLevel(level string)
}

// Deps are the collaborators a Handler serves
type Deps struct {
	Config        *config.Config
	Scanner       Scanner
	Inventory     Inventory
	Store         SettingsStore
	Metrics       *metrics.Collector
	Logging       LevelSetter
	EngineVersion func(ctx context.Context) (string, error)
	Logger        *slog.Logger
	Version       string

	// DisableCSRF disables CSRF protection. Use for desktop mode where
	// the server only accepts local connections.
	DisableCSRF bool
}

// Handler holds all HTTP handlers
type Handler struct {
	cfg           *config.Config
	scanner       Scanner
	inventory     Inventory
	store         SettingsStore
	metrics       *metrics.Collector
	logging       LevelSetter
	engineVersion func(ctx context.Context) (string, error)
	version       string
	disableCSRF   bool

	log      *slog.Logger
	csrf     *csrfManager
	webFS    fs.FS
	funcMap  template.FuncMap
	staticFS fs.FS
}

// New creates a new Handler serving templates and static files from webFS
func New(deps Deps, webFS fs.FS) (*Handler, error) {
	funcMap := template.FuncMap{
		"formatTime":  formatTime,
		"formatCount": formatCount,
		"timeAgo":     timeAgo,
		"stateClass":  stateClass,
		"statusClass": statusClass,
	}

	staticFS, err := fs.Sub(webFS, "static")
	if err != nil {
		return nil, err
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config == nil {
		deps.Config = config.Default()
	}

	return &Handler{
		cfg:           deps.Config,
		scanner:       deps.Scanner,
		inventory:     deps.Inventory,
		store:         deps.Store,
		metrics:       deps.Metrics,
		logging:       deps.Logging,
		engineVersion: deps.EngineVersion,
		version:       deps.Version,
		disableCSRF:   deps.DisableCSRF,
		log:           deps.Logger.With("component", "http"),
		csrf:          newCSRFManager(),
		webFS:         webFS,
		funcMap:       funcMap,
		staticFS:      staticFS,
	}, nil
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))

	// Dashboard
	mux.HandleFunc("/", h.Dashboard)

	// Scans
	mux.HandleFunc("/scans", h.StartScan)
	mux.HandleFunc("/scans/stop", h.StopScan)

	// JSON API
	mux.HandleFunc("/api/status", h.APIStatus)
	mux.HandleFunc("/api/disks", h.APIDisks)

	// Settings
	mux.HandleFunc("/settings", h.Settings)

	// SSE
	mux.HandleFunc("/sse/scan", h.ScanProgressSSE)

	// Metrics
	mux.Handle("/metrics", h.metrics.Handler())
}

// render executes a page template with the base layout
func (h *Handler) render(w http.ResponseWriter, status int, pageName string, data any) {
	tmpl, err := template.New("base.html").Funcs(h.funcMap).ParseFS(h.webFS, "templates/base.html", "templates/"+pageName)
	if err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(buf.String()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// wantsJSON reports whether the client asked for a JSON response
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// Template functions

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatCount(n int64) string {
	return humanize.Comma(n)
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func stateClass(s types.SessionState) string {
	switch s {
	case types.StateCompleted:
		return "state-ok"
	case types.StateStopped:
		return "state-warn"
	case types.StateFailed:
		return "state-error"
	case types.StateIdle:
		return "state-idle"
	}
	return "state-active"
}

func statusClass(s sigdb.Status) string {
	switch s {
	case sigdb.StatusOK:
		return "state-ok"
	case sigdb.StatusOutdated:
		return "state-warn"
	}
	return "state-error"
}
