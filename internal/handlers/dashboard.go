package handlers

import (
	"net/http"

	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

// DashboardData holds data for the dashboard template
type DashboardData struct {
	Title     string
	ActiveNav string
	Version   string
	CSRFToken string

	Disks     []types.DiskTarget
	DiskError string
	Database  sigdb.Info

	Session  *types.ScanProgress
	Active   bool
	Activity []types.ActivityEntry

	Form ScanForm
	// ConfirmRisk asks the user to accept scanning with a stale database
	ConfirmRisk bool

	Error   string
	Success string
}

// ScanForm is the submitted or default scan request
type ScanForm struct {
	Device         string
	Mode           types.ScanMode
	RemoveInfected bool
	AcceptRisk     bool
}

// Dashboard handles GET /
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := h.dashboardData(w, r, h.defaultForm())
	data.Error = r.URL.Query().Get("error")
	data.Success = r.URL.Query().Get("success")

	h.render(w, http.StatusOK, "dashboard.html", data)
}

func (h *Handler) dashboardData(w http.ResponseWriter, r *http.Request, form ScanForm) DashboardData {
	data := DashboardData{
		Title:     "Scan",
		ActiveNav: "dashboard",
		Version:   h.version,
		CSRFToken: h.getOrCreateCSRFToken(w, r),
		Disks:     h.inventory.Disks(),
		Database:  h.inventory.Database(),
		Session:   h.scanner.Status(),
		Activity:  h.scanner.Activity(),
		Form:      form,
	}
	if err := h.inventory.DisksError(); err != nil {
		data.DiskError = err.Error()
	}
	if data.Session != nil {
		data.Active = data.Session.State.IsActive()
	}
	return data
}

// defaultForm fills the scan form from saved settings
func (h *Handler) defaultForm() ScanForm {
	form := ScanForm{Mode: types.ScanModeQuick}
	if h.store == nil {
		return form
	}
	s, err := h.store.GetSettings()
	if err != nil {
		h.log.Warn("failed to load settings", "error", err)
		return form
	}
	form.Mode = s.ScanMode
	form.RemoveInfected = s.RemoveInfected
	return form
}
