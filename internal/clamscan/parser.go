package clamscan

import (
	"strconv"
	"strings"
)

const (
	threatMarker    = " FOUND"
	scannedPrefix   = "Scanned files:"
	infectedPrefix  = "Infected files:"
	minPathLineLen  = 10
	enginePrefix    = "Engine version:"
	signaturePrefix = "Known viruses:"
)

// okSuffixes mark a per-file verdict that is not a detection
var okSuffixes = []string{" OK", " Empty file", " Excluded"}

type rule struct {
	name  string
	match func(line string) (Event, bool)
}

// rules are evaluated in order; the first match wins
var rules = []rule{
	{"threat", matchThreat},
	{"scanned summary", summaryRule(scannedPrefix, EventSummaryScanned)},
	{"infected summary", summaryRule(infectedPrefix, EventSummaryInfected)},
	{"file verdict", matchVerdict},
	{"bare path", matchBarePath},
	{"engine info", matchEngineInfo},
}

// Classify turns one line of engine output into an Event. It keeps no state
// between calls.
func Classify(line string) Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{Kind: EventIgnored}
	}
	for _, r := range rules {
		if ev, ok := r.match(line); ok {
			return ev
		}
	}
	return Event{Kind: EventIgnored}
}

func matchThreat(line string) (Event, bool) {
	if !strings.Contains(line, threatMarker) {
		return Event{}, false
	}
	return Event{Kind: EventThreatFound, Descriptor: line}, true
}

// summaryRule matches a "<prefix> <n>" total. A line with the prefix but an
// unusable number is claimed and ignored.
func summaryRule(prefix string, kind EventKind) func(string) (Event, bool) {
	return func(line string) (Event, bool) {
		if !strings.HasPrefix(line, prefix) {
			return Event{}, false
		}
		n, err := strconv.ParseInt(strings.TrimSpace(line[len(prefix):]), 10, 64)
		if err != nil || n < 0 {
			return Event{Kind: EventIgnored}, true
		}
		return Event{Kind: kind, Count: n}, true
	}
}

func matchEngineInfo(line string) (Event, bool) {
	if strings.HasPrefix(line, enginePrefix) || strings.HasPrefix(line, signaturePrefix) {
		return Event{Kind: EventEngineInfo, Descriptor: line}, true
	}
	return Event{}, false
}

func matchVerdict(line string) (Event, bool) {
	if !strings.Contains(line, ": ") {
		return Event{}, false
	}
	for _, suffix := range okSuffixes {
		if strings.HasSuffix(line, suffix) {
			return Event{Kind: EventFileOK}, true
		}
	}
	return Event{}, false
}

func matchBarePath(line string) (Event, bool) {
	if strings.HasPrefix(line, "/") && !strings.Contains(line, ":") && len(line) > minPathLineLen {
		return Event{Kind: EventFileOK}, true
	}
	return Event{}, false
}

// EngineInfo splits an EventEngineInfo descriptor into key and value
func EngineInfo(ev Event) (key, value string) {
	key, value, _ = strings.Cut(ev.Descriptor, ":")
	return strings.TrimSpace(key), strings.TrimSpace(value)
}
