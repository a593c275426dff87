package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/lyallcooper/diskscan/internal/services"
	"github.com/lyallcooper/diskscan/internal/types"
)

// StartScan handles POST /scans
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	form := ScanForm{
		Device:         strings.TrimSpace(r.FormValue("device")),
		Mode:           types.ParseScanMode(r.FormValue("mode")),
		RemoveInfected: formBool(r.FormValue("remove_infected")),
		AcceptRisk:     formBool(r.FormValue("accept_risk")),
	}

	if form.Device == "" {
		h.scanError(w, r, form, http.StatusBadRequest, "Select a disk to scan")
		return
	}
	disk, ok := h.lookupDisk(r, form.Device)
	if !ok {
		h.scanError(w, r, form, http.StatusBadRequest, "Unknown device: "+form.Device)
		return
	}

	progress, err := h.scanner.StartScan(r.Context(), disk, types.ScanConfiguration{
		Mode:               form.Mode,
		RemoveInfected:     form.RemoveInfected,
		AcceptDatabaseRisk: form.AcceptRisk,
	})
	switch {
	case errors.Is(err, services.ErrDatabaseNotReady):
		h.confirmDatabaseRisk(w, r, form)
		return
	case errors.Is(err, services.ErrSessionBusy):
		h.scanError(w, r, form, http.StatusConflict, "A scan is already in progress")
		return
	case errors.Is(err, services.ErrNoDevice):
		h.scanError(w, r, form, http.StatusBadRequest, "Select a disk to scan")
		return
	case err != nil:
		h.log.Error("failed to start scan", "error", err)
		h.scanError(w, r, form, http.StatusInternalServerError, "Failed to start scan: "+err.Error())
		return
	}

	h.log.Info("scan started", "session", progress.SessionID, "device", disk.Device, "mode", form.Mode)

	if wantsJSON(r) {
		writeJSON(w, http.StatusAccepted, progress)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// StopScan handles POST /scans/stop
func (h *Handler) StopScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireCSRF(w, r) {
		return
	}

	stopped := h.scanner.StopScan()
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
		return
	}
	if !stopped {
		http.Redirect(w, r, "/?error="+url.QueryEscape("No scan is running"), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/?success="+url.QueryEscape("Stop requested"), http.StatusSeeOther)
}

// lookupDisk finds the device in the inventory, refreshing once on a miss
// since the disk may have been plugged in after the last refresh
func (h *Handler) lookupDisk(r *http.Request, device string) (types.DiskTarget, bool) {
	if disk, ok := h.inventory.Disk(device); ok {
		return disk, true
	}
	if err := h.inventory.RefreshDisks(r.Context()); err != nil {
		h.log.Warn("disk refresh failed", "error", err)
	}
	return h.inventory.Disk(device)
}

// confirmDatabaseRisk re-renders the form asking the user to accept an
// outdated or missing signature database
func (h *Handler) confirmDatabaseRisk(w http.ResponseWriter, r *http.Request, form ScanForm) {
	info := h.inventory.RefreshDatabase()
	if wantsJSON(r) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            "signature database is " + string(info.Status),
			"confirm_required": true,
			"database":         info,
		})
		return
	}

	data := h.dashboardData(w, r, form)
	data.Database = info
	data.ConfirmRisk = true
	h.render(w, http.StatusConflict, "dashboard.html", data)
}

func (h *Handler) scanError(w http.ResponseWriter, r *http.Request, form ScanForm, status int, msg string) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	data := h.dashboardData(w, r, form)
	data.Error = msg
	h.render(w, status, "dashboard.html", data)
}

func formBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}
