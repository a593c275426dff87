package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lyallcooper/diskscan/internal/types"
)

// ScanProgressSSE handles GET /sse/scan, streaming the current session
func (h *Handler) ScanProgressSSE(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	current := h.scanner.Status()
	if current == nil {
		h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"state":%q}`, types.StateIdle))
		return
	}
	if id := r.URL.Query().Get("session"); id != "" && id != current.SessionID {
		h.sendEvent(w, flusher, "complete", `{"state":"unknown"}`)
		return
	}

	// Subscribe before reading the initial state so the final update is not missed
	updates := h.scanner.Subscribe(current.SessionID)
	defer h.scanner.Unsubscribe(current.SessionID, updates)

	initial := h.scanner.Status()
	if initial == nil || initial.SessionID != current.SessionID {
		initial = current
	}
	h.sendScanProgress(w, flusher, initial)
	if initial.State.IsTerminal() {
		h.sendComplete(w, flusher, initial.State)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				// Updates may have been dropped for a slow client; report the final snapshot.
				final := h.scanner.Status()
				if final == nil || final.SessionID != current.SessionID {
					h.sendComplete(w, flusher, types.StateIdle)
					return
				}
				h.sendScanProgress(w, flusher, final)
				h.sendComplete(w, flusher, final.State)
				return
			}
			h.sendScanProgress(w, flusher, update)
			if update.State.IsTerminal() {
				h.sendComplete(w, flusher, update.State)
				return
			}
		}
	}
}

func (h *Handler) sendScanProgress(w http.ResponseWriter, flusher http.Flusher, progress *types.ScanProgress) {
	jsonData, err := json.Marshal(progress)
	if err != nil {
		h.log.Error("failed to encode progress", "error", err)
		return
	}
	h.sendEvent(w, flusher, "progress", string(jsonData))
}

func (h *Handler) sendComplete(w http.ResponseWriter, flusher http.Flusher, state types.SessionState) {
	h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"state":%q}`, state))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
