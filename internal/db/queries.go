package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lyallcooper/diskscan/internal/types"
)

// GetSetting returns the stored value for key, or "" if unset
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores value under key
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetSettings loads the typed settings, falling back to defaults for missing
// or unparsable values
func (db *DB) GetSettings() (Settings, error) {
	s := DefaultSettings()

	rows, err := db.Query("SELECT key, value FROM settings")
	if err != nil {
		return s, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return s, fmt.Errorf("failed to scan setting: %w", err)
		}
		switch key {
		case SettingScanMode:
			s.ScanMode = types.ParseScanMode(value)
		case SettingRemoveInfected:
			if b, err := strconv.ParseBool(value); err == nil {
				s.RemoveInfected = b
			}
		case SettingLogLevel:
			if value != "" {
				s.LogLevel = value
			}
		}
	}
	return s, rows.Err()
}

// SaveSettings writes all typed settings in one transaction
func (db *DB) SaveSettings(s Settings) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	values := map[string]string{
		SettingScanMode:       string(types.ParseScanMode(string(s.ScanMode))),
		SettingRemoveInfected: strconv.FormatBool(s.RemoveInfected),
		SettingLogLevel:       s.LogLevel,
	}
	for key, value := range values {
		if _, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}
	return tx.Commit()
}
