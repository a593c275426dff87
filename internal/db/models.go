package db

import "github.com/lyallcooper/diskscan/internal/types"

// Setting keys
const (
	SettingScanMode       = "scan_mode"
	SettingRemoveInfected = "remove_infected"
	SettingLogLevel       = "log_level"
)

// Settings holds the persisted defaults for the scan form and logging
type Settings struct {
	ScanMode       types.ScanMode
	RemoveInfected bool
	LogLevel       string
}

// DefaultSettings mirrors the values seeded by the first migration
func DefaultSettings() Settings {
	return Settings{
		ScanMode: types.ScanModeQuick,
		LogLevel: "info",
	}
}
