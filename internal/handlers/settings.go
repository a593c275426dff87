package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/lyallcooper/diskscan/internal/config"
	"github.com/lyallcooper/diskscan/internal/db"
	"github.com/lyallcooper/diskscan/internal/logging"
	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

// SettingsData holds data for the settings template
type SettingsData struct {
	Title         string
	ActiveNav     string
	Version       string
	CSRFToken     string
	Settings      db.Settings
	LogLevels     []string
	EngineVersion string
	Database      sigdb.Info
	Config        *config.Config
	Error         string
	Success       string
}

// Settings handles GET and POST /settings
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.showSettings(w, r)
	case http.MethodPost:
		h.saveSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) showSettings(w http.ResponseWriter, r *http.Request) {
	settings := db.DefaultSettings()
	if h.store != nil {
		s, err := h.store.GetSettings()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		settings = s
	}

	engineVersion := "not found"
	if h.engineVersion != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if v, err := h.engineVersion(ctx); err == nil {
			engineVersion = v
		}
	}

	data := SettingsData{
		Title:         "Settings",
		ActiveNav:     "settings",
		Version:       h.version,
		CSRFToken:     h.getOrCreateCSRFToken(w, r),
		Settings:      settings,
		LogLevels:     []string{"debug", "info", "warn", "error"},
		EngineVersion: engineVersion,
		Database:      h.inventory.Database(),
		Config:        h.cfg,
		Error:         r.URL.Query().Get("error"),
		Success:       r.URL.Query().Get("success"),
	}

	h.render(w, http.StatusOK, "settings.html", data)
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	level := r.FormValue("log_level")
	if !logging.ValidLevel(level) {
		http.Redirect(w, r, "/settings?error="+url.QueryEscape("Invalid log level: "+level), http.StatusSeeOther)
		return
	}

	s := db.Settings{
		ScanMode:       types.ParseScanMode(r.FormValue("scan_mode")),
		RemoveInfected: formBool(r.FormValue("remove_infected")),
		LogLevel:       level,
	}
	if h.store != nil {
		if err := h.store.SaveSettings(s); err != nil {
			h.log.Error("failed to save settings", "error", err)
			http.Redirect(w, r, "/settings?error="+url.QueryEscape(err.Error()), http.StatusSeeOther)
			return
		}
	}
	if h.logging != nil {
		h.logging.SetLevel(level)
	}

	h.log.Info("settings saved", "scan_mode", s.ScanMode, "remove_infected", s.RemoveInfected, "log_level", level)
	http.Redirect(w, r, "/settings?success="+url.QueryEscape("Settings saved"), http.StatusSeeOther)
}
