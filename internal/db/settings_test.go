package db

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lyallcooper/diskscan/internal/types"
)

// testDB creates a temporary database for testing
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen_SeedsDefaults(t *testing.T) {
	db := testDB(t)

	got, err := db.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if diff := cmp.Diff(DefaultSettings(), got); diff != "" {
		t.Errorf("unexpected seeded settings (-want +got):\n%s", diff)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.SetSetting(SettingLogLevel, "debug"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	var versions int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions); err != nil {
		t.Fatal(err)
	}
	if versions != 1 {
		t.Errorf("expected 1 recorded migration, got %d", versions)
	}

	val, err := db.GetSetting(SettingLogLevel)
	if err != nil {
		t.Fatal(err)
	}
	if val != "debug" {
		t.Errorf("setting lost across reopen: got %q", val)
	}
}

func TestGetSetSetting(t *testing.T) {
	db := testDB(t)

	val, err := db.GetSetting("missing")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if val != "" {
		t.Errorf("expected empty value for missing key, got %q", val)
	}

	if err := db.SetSetting("custom", "one"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := db.SetSetting("custom", "two"); err != nil {
		t.Fatalf("SetSetting overwrite failed: %v", err)
	}
	val, err = db.GetSetting("custom")
	if err != nil {
		t.Fatal(err)
	}
	if val != "two" {
		t.Errorf("GetSetting = %q, want two", val)
	}
}

func TestSaveSettings(t *testing.T) {
	db := testDB(t)

	want := Settings{
		ScanMode:       types.ScanModeDeep,
		RemoveInfected: true,
		LogLevel:       "warn",
	}
	if err := db.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got, err := db.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSettings_BadValues(t *testing.T) {
	db := testDB(t)

	for key, value := range map[string]string{
		SettingScanMode:       "turbo",
		SettingRemoveInfected: "sometimes",
		SettingLogLevel:       "",
	} {
		if err := db.SetSetting(key, value); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if diff := cmp.Diff(DefaultSettings(), got); diff != "" {
		t.Errorf("expected defaults for bad values (-want +got):\n%s", diff)
	}
}
