package handlers

import (
	"net/http"

	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

// StatusResponse is the JSON body of GET /api/status
type StatusResponse struct {
	State    types.SessionState    `json:"state"`
	Session  *types.ScanProgress   `json:"session,omitempty"`
	Activity []types.ActivityEntry `json:"activity"`
	Database sigdb.Info            `json:"database"`
}

// DisksResponse is the JSON body of GET /api/disks
type DisksResponse struct {
	Disks []types.DiskTarget `json:"disks"`
	Error string             `json:"error,omitempty"`
}

// APIStatus handles GET /api/status
func (h *Handler) APIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		State:    types.StateIdle,
		Session:  h.scanner.Status(),
		Activity: h.scanner.Activity(),
		Database: h.inventory.Database(),
	}
	if resp.Session != nil {
		resp.State = resp.Session.State
	}
	if resp.Activity == nil {
		resp.Activity = []types.ActivityEntry{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// APIDisks handles GET /api/disks. ?refresh=1 re-reads the device list first.
func (h *Handler) APIDisks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if formBool(r.URL.Query().Get("refresh")) {
		if err := h.inventory.RefreshDisks(r.Context()); err != nil {
			h.log.Warn("disk refresh failed", "error", err)
		}
	}

	resp := DisksResponse{Disks: h.inventory.Disks()}
	if resp.Disks == nil {
		resp.Disks = []types.DiskTarget{}
	}
	if err := h.inventory.DisksError(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
