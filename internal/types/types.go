package types

import "time"

// DiskTarget describes a block device offered for scanning
type DiskTarget struct {
	Device    string `json:"device"`
	Size      string `json:"size"`
	SizeBytes uint64 `json:"size_bytes"`
	Model     string `json:"model"`
	Serial    string `json:"serial,omitempty"`
	SSD       bool   `json:"ssd"`
	System    bool   `json:"system"` // backs the running system or live media
}

// ScanMode selects what gets scanned
type ScanMode string

const (
	// ScanModeQuick scans the live root filesystem only
	ScanModeQuick ScanMode = "quick"
	// ScanModeDeep mounts each partition of the selected device read-only and scans it
	ScanModeDeep ScanMode = "deep"
)

// ParseScanMode converts user input to a ScanMode, defaulting to quick
func ParseScanMode(s string) ScanMode {
	if ScanMode(s) == ScanModeDeep {
		return ScanModeDeep
	}
	return ScanModeQuick
}

// ScanConfiguration is captured when a session starts and never changes afterwards
type ScanConfiguration struct {
	Mode           ScanMode `json:"mode"`
	RemoveInfected bool     `json:"remove_infected"`

	// AcceptDatabaseRisk lets a scan start while the signature database is
	// outdated or missing.
	AcceptDatabaseRisk bool `json:"accept_database_risk"`
}

// ScanResult holds the counters for one session
type ScanResult struct {
	FilesScanned int64    `json:"files_scanned"`
	ThreatsFound int64    `json:"threats_found"`
	Threats      []string `json:"threats"`
}

// Clone returns a copy that shares no memory with r
func (r ScanResult) Clone() ScanResult {
	out := r
	if r.Threats != nil {
		out.Threats = append([]string(nil), r.Threats...)
	}
	return out
}

// SessionState is the scan session lifecycle
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StatePreparing  SessionState = "preparing"
	StateMounting   SessionState = "mounting"
	StateScanning   SessionState = "scanning"
	StateFinalizing SessionState = "finalizing"
	StateCompleted  SessionState = "completed"
	StateStopped    SessionState = "stopped"
	StateFailed     SessionState = "failed"
)

// IsTerminal reports whether no further transitions happen from s
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateStopped, StateFailed:
		return true
	}
	return false
}

// IsActive reports whether a session in state s holds the scanner
func (s SessionState) IsActive() bool {
	switch s {
	case StatePreparing, StateMounting, StateScanning, StateFinalizing:
		return true
	}
	return false
}

// ActivityEntry is one line of the user-visible activity feed
type ActivityEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ScanProgress represents scan progress for SSE updates
type ScanProgress struct {
	SessionID string            `json:"session_id"`
	Device    string            `json:"device"`
	Mode      ScanMode          `json:"mode"`
	State     SessionState      `json:"state"`
	Result    ScanResult        `json:"result"`
	Targets   []string          `json:"targets,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Error     string            `json:"error,omitempty"`
	Activity  *ActivityEntry    `json:"activity,omitempty"`
	Engine    map[string]string `json:"engine,omitempty"`
}
