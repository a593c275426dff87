package clamscan

import "errors"

var (
	// ErrScanLaunchFailed is returned when the engine process cannot be started
	ErrScanLaunchFailed = errors.New("failed to launch scan engine")
	// ErrScanIO marks a problem reading engine output. It is logged, never fatal.
	ErrScanIO = errors.New("scan output read error")
)

// DefaultLogPath is where the engine writes its own report
const DefaultLogPath = "/var/log/diskscan.log"

// Options selects what one engine run scans
type Options struct {
	Targets        []string
	RemoveInfected bool
}

// EventKind tags the meaning of one line of engine output
type EventKind int

const (
	EventIgnored EventKind = iota
	EventThreatFound
	EventFileOK
	EventSummaryScanned
	EventSummaryInfected
	EventEngineInfo
)

func (k EventKind) String() string {
	switch k {
	case EventThreatFound:
		return "threat_found"
	case EventFileOK:
		return "file_ok"
	case EventSummaryScanned:
		return "summary_scanned"
	case EventSummaryInfected:
		return "summary_infected"
	case EventEngineInfo:
		return "engine_info"
	}
	return "ignored"
}

// Event is a classified output line. Descriptor holds the threat line or the
// engine info text; Count holds summary totals.
type Event struct {
	Kind       EventKind
	Descriptor string
	Count      int64
}
