package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lyallcooper/diskscan/internal/db"
	"github.com/lyallcooper/diskscan/internal/metrics"
	"github.com/lyallcooper/diskscan/internal/services"
	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
	"github.com/lyallcooper/diskscan/internal/webfs"
)

// mockScanner implements Scanner for testing
type mockScanner struct {
	mu       sync.Mutex
	statusFn func() *types.ScanProgress
	activity []types.ActivityEntry
	startErr func(cfg types.ScanConfiguration) error
	started  []types.ScanConfiguration
	disks    []types.DiskTarget
	stopped  bool
	updates  chan *types.ScanProgress
	unsubs   int
}

func (m *mockScanner) StartScan(_ context.Context, disk types.DiskTarget, cfg types.ScanConfiguration) (*types.ScanProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		if err := m.startErr(cfg); err != nil {
			return nil, err
		}
	}
	m.started = append(m.started, cfg)
	m.disks = append(m.disks, disk)
	return &types.ScanProgress{SessionID: "s1", Device: disk.Device, Mode: cfg.Mode, State: types.StatePreparing}, nil
}

func (m *mockScanner) StopScan() bool { return m.stopped }

func (m *mockScanner) Status() *types.ScanProgress {
	if m.statusFn == nil {
		return nil
	}
	return m.statusFn()
}

func (m *mockScanner) Activity() []types.ActivityEntry { return m.activity }

func (m *mockScanner) Subscribe(string) chan *types.ScanProgress {
	if m.updates == nil {
		m.updates = make(chan *types.ScanProgress)
	}
	return m.updates
}

func (m *mockScanner) Unsubscribe(string, chan *types.ScanProgress) {
	m.mu.Lock()
	m.unsubs++
	m.mu.Unlock()
}

// mockInventory implements Inventory for testing
type mockInventory struct {
	disks      []types.DiskTarget
	pending    []types.DiskTarget // appear after a refresh
	disksErr   error
	refreshes  int
	database   sigdb.Info
	dbRefreshs int
}

func (m *mockInventory) Disks() []types.DiskTarget { return m.disks }
func (m *mockInventory) DisksError() error         { return m.disksErr }

func (m *mockInventory) Disk(device string) (types.DiskTarget, bool) {
	for _, d := range m.disks {
		if d.Device == device {
			return d, true
		}
	}
	return types.DiskTarget{}, false
}

func (m *mockInventory) RefreshDisks(context.Context) error {
	m.refreshes++
	m.disks = append(m.disks, m.pending...)
	m.pending = nil
	return nil
}

func (m *mockInventory) Database() sigdb.Info { return m.database }

func (m *mockInventory) RefreshDatabase() sigdb.Info {
	m.dbRefreshs++
	return m.database
}

// mockStore implements SettingsStore for testing
type mockStore struct {
	settings db.Settings
	saveErr  error
}

func (m *mockStore) GetSettings() (db.Settings, error) { return m.settings, nil }

func (m *mockStore) SaveSettings(s db.Settings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.settings = s
	return nil
}

type mockLevel struct{ level string }

func (m *mockLevel) SetLevel(level string) { m.level = level }

type fixture struct {
	h         *Handler
	mux       *http.ServeMux
	scanner   *mockScanner
	inventory *mockInventory
	store     *mockStore
	level     *mockLevel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		scanner: &mockScanner{},
		inventory: &mockInventory{
			disks: []types.DiskTarget{
				{Device: "/dev/sda", Size: "466 GiB", Model: "Samsung SSD", System: true},
				{Device: "/dev/sdb", Size: "29 GiB", Model: "USB Flash"},
			},
			database: sigdb.Info{Status: sigdb.StatusOK, Dir: "/var/lib/clamav"},
		},
		store: &mockStore{settings: db.DefaultSettings()},
		level: &mockLevel{},
	}

	h, err := New(Deps{
		Scanner:   f.scanner,
		Inventory: f.inventory,
		Store:     f.store,
		Metrics:   metrics.New(),
		Logging:   f.level,
		EngineVersion: func(context.Context) (string, error) {
			return "ClamAV 1.0.5/27153", nil
		},
		Version: "test",
	}, webfs.FS)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.h = h
	f.mux = http.NewServeMux()
	h.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// csrfCookie fetches the dashboard and returns the issued token cookie
func (f *fixture) csrfCookie(t *testing.T) *http.Cookie {
	t.Helper()
	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName {
			return c
		}
	}
	t.Fatal("dashboard did not issue a csrf cookie")
	return nil
}

func (f *fixture) post(t *testing.T, path string, form url.Values, accept string) *httptest.ResponseRecorder {
	t.Helper()
	cookie := f.csrfCookie(t)
	form.Set(csrfFormField, cookie.Value)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.AddCookie(cookie)
	return f.do(req)
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.input); got != tt.want {
			t.Errorf("formatCount(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestStateClass(t *testing.T) {
	tests := map[types.SessionState]string{
		types.StateIdle:      "state-idle",
		types.StatePreparing: "state-active",
		types.StateMounting:  "state-active",
		types.StateScanning:  "state-active",
		types.StateCompleted: "state-ok",
		types.StateStopped:   "state-warn",
		types.StateFailed:    "state-error",
	}
	for state, want := range tests {
		if got := stateClass(state); got != want {
			t.Errorf("stateClass(%s) = %q, want %q", state, got, want)
		}
	}
	if got := statusClass(sigdb.StatusMissing); got != "state-error" {
		t.Errorf("statusClass(MISSING) = %q", got)
	}
	if got := timeAgo(time.Time{}); got != "never" {
		t.Errorf("timeAgo(zero) = %q", got)
	}
	if got := formatTime(time.Time{}); got != "-" {
		t.Errorf("formatTime(zero) = %q", got)
	}
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ended := time.Now()
	f.scanner.statusFn = func() *types.ScanProgress {
		return &types.ScanProgress{
			SessionID: "abc",
			Device:    "/dev/sdb",
			Mode:      types.ScanModeDeep,
			State:     types.StateCompleted,
			Result:    types.ScanResult{FilesScanned: 12345, ThreatsFound: 1, Threats: []string{"/mnt/x/eicar.com: Eicar-Signature FOUND"}},
			EndedAt:   &ended,
		}
	}
	f.scanner.activity = []types.ActivityEntry{{Time: time.Now(), Level: "info", Message: "Mounted /dev/sdb1"}}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	body := rec.Body.String()
	for _, want := range []string{
		"/dev/sdb",
		"(system disk)",
		"12,345",
		"eicar.com: Eicar-Signature FOUND",
		"Mounted /dev/sdb1",
		`data-session="abc"`,
		"Start scan",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if strings.Contains(body, "Stop scan") {
		t.Error("stop button shown for a finished session")
	}
}

func TestDashboard_ActiveSession(t *testing.T) {
	f := newFixture(t)
	f.scanner.statusFn = func() *types.ScanProgress {
		return &types.ScanProgress{SessionID: "abc", State: types.StateScanning, Mode: types.ScanModeQuick}
	}

	body := f.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	if !strings.Contains(body, "Stop scan") {
		t.Error("expected stop button while scanning")
	}
	if strings.Contains(body, "Start scan") {
		t.Error("start form shown while scanning")
	}
}

func TestDashboard_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStartScan_RequiresCSRF(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/scans", strings.NewReader("mode=quick"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := f.do(req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if len(f.scanner.started) != 0 {
		t.Error("scan started without csrf token")
	}
}

func TestStartScan_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/scans", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestStartScan(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/scans", url.Values{
		"device":          {"/dev/sdb"},
		"mode":            {"deep"},
		"remove_infected": {"on"},
	}, "")

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	want := []types.ScanConfiguration{{Mode: types.ScanModeDeep, RemoveInfected: true}}
	if diff := cmp.Diff(want, f.scanner.started); diff != "" {
		t.Errorf("unexpected scan configuration (-want +got):\n%s", diff)
	}
	if f.scanner.disks[0].Model != "USB Flash" {
		t.Errorf("expected inventory disk to be passed, got %+v", f.scanner.disks[0])
	}
}

func TestStartScan_JSON(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/scans", url.Values{"device": {"/dev/sdb"}, "mode": {"quick"}}, "application/json")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var progress types.ScanProgress
	if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
		t.Fatal(err)
	}
	if progress.State != types.StatePreparing || progress.Device != "/dev/sdb" || progress.Mode != types.ScanModeQuick {
		t.Errorf("unexpected progress: %+v", progress)
	}
}

func TestStartScan_RequiresDevice(t *testing.T) {
	for _, mode := range []string{"quick", "deep"} {
		t.Run(mode, func(t *testing.T) {
			f := newFixture(t)

			rec := f.post(t, "/scans", url.Values{"mode": {mode}}, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "Select a disk to scan") {
				t.Error("expected error message in page")
			}
			if len(f.scanner.started) != 0 {
				t.Errorf("scan started without a device: %+v", f.scanner.started)
			}
		})
	}
}

func TestStartScan_DeviceHotplugged(t *testing.T) {
	f := newFixture(t)
	f.inventory.pending = []types.DiskTarget{{Device: "/dev/sdc", Model: "Card Reader"}}

	rec := f.post(t, "/scans", url.Values{"device": {"/dev/sdc"}, "mode": {"deep"}}, "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.inventory.refreshes != 1 {
		t.Errorf("expected one refresh, got %d", f.inventory.refreshes)
	}
}

func TestStartScan_UnknownDevice(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/scans", url.Values{"device": {"/dev/sdz"}, "mode": {"deep"}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Unknown device: /dev/sdz") {
		t.Error("expected error message in page")
	}
	if len(f.scanner.started) != 0 {
		t.Error("scan started for unknown device")
	}
}

func TestStartScan_DatabaseWarning(t *testing.T) {
	f := newFixture(t)
	f.inventory.database = sigdb.Info{Status: sigdb.StatusOutdated, Dir: "/var/lib/clamav"}
	f.scanner.startErr = func(cfg types.ScanConfiguration) error {
		if cfg.AcceptDatabaseRisk {
			return nil
		}
		return fmt.Errorf("%w: status OUTDATED", services.ErrDatabaseNotReady)
	}

	rec := f.post(t, "/scans", url.Values{"device": {"/dev/sdb"}, "mode": {"deep"}}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`id="confirm-risk"`, `name="accept_risk" value="1"`, "Scan anyway", `value="/dev/sdb" selected`} {
		if !strings.Contains(body, want) {
			t.Errorf("confirmation page missing %q", want)
		}
	}
	if f.inventory.dbRefreshs != 1 {
		t.Errorf("expected database re-check, got %d", f.inventory.dbRefreshs)
	}

	rec = f.post(t, "/scans", url.Values{"device": {"/dev/sdb"}, "mode": {"deep"}, "accept_risk": {"1"}}, "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status after confirm = %d", rec.Code)
	}
	if len(f.scanner.started) != 1 || !f.scanner.started[0].AcceptDatabaseRisk {
		t.Errorf("expected accepted scan, got %+v", f.scanner.started)
	}
}

func TestStartScan_DatabaseWarningJSON(t *testing.T) {
	f := newFixture(t)
	f.inventory.database = sigdb.Info{Status: sigdb.StatusMissing}
	f.scanner.startErr = func(types.ScanConfiguration) error { return services.ErrDatabaseNotReady }

	rec := f.post(t, "/scans", url.Values{"device": {"/dev/sdb"}, "mode": {"quick"}}, "application/json")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["confirm_required"] != true {
		t.Errorf("expected confirm_required, got %v", body)
	}
}

func TestStartScan_Errors(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"busy":      {services.ErrSessionBusy, http.StatusConflict},
		"no device": {services.ErrNoDevice, http.StatusBadRequest},
		"other":     {errors.New("boom"), http.StatusInternalServerError},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.scanner.startErr = func(types.ScanConfiguration) error { return tc.err }

			rec := f.post(t, "/scans", url.Values{"device": {"/dev/sdb"}, "mode": {"deep"}}, "application/json")
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestStopScan(t *testing.T) {
	for _, stopped := range []bool{true, false} {
		t.Run(fmt.Sprint(stopped), func(t *testing.T) {
			f := newFixture(t)
			f.scanner.stopped = stopped

			rec := f.post(t, "/scans/stop", url.Values{}, "application/json")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			want := fmt.Sprintf(`{"stopped":%t}`, stopped)
			if got := strings.TrimSpace(rec.Body.String()); got != want {
				t.Errorf("body = %s, want %s", got, want)
			}

			rec = f.post(t, "/scans/stop", url.Values{}, "")
			if rec.Code != http.StatusSeeOther {
				t.Fatalf("status = %d", rec.Code)
			}
			loc := rec.Header().Get("Location")
			if stopped != strings.Contains(loc, "success=") {
				t.Errorf("unexpected redirect %q", loc)
			}
		})
	}
}

func TestStopScan_HeaderToken(t *testing.T) {
	f := newFixture(t)
	f.scanner.stopped = true

	cookie := f.csrfCookie(t)
	req := httptest.NewRequest(http.MethodPost, "/scans/stop", nil)
	req.Header.Set(csrfHeader, cookie.Value)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(cookie)

	rec := f.do(req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAPIStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var idle StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &idle); err != nil {
		t.Fatal(err)
	}
	if idle.State != types.StateIdle || idle.Session != nil {
		t.Errorf("expected idle status, got %+v", idle)
	}
	if idle.Activity == nil {
		t.Error("expected empty activity list, not null")
	}

	f.scanner.statusFn = func() *types.ScanProgress {
		return &types.ScanProgress{SessionID: "abc", State: types.StateMounting}
	}
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var active StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &active); err != nil {
		t.Fatal(err)
	}
	if active.State != types.StateMounting || active.Session.SessionID != "abc" {
		t.Errorf("unexpected status: %+v", active)
	}
	if active.Database.Status != sigdb.StatusOK {
		t.Errorf("database status = %s", active.Database.Status)
	}
}

func TestAPIDisks(t *testing.T) {
	f := newFixture(t)
	f.inventory.pending = []types.DiskTarget{{Device: "/dev/sdc"}}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/disks", nil))
	var resp DisksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Disks) != 2 || f.inventory.refreshes != 0 {
		t.Errorf("expected cached list, got %d disks after %d refreshes", len(resp.Disks), f.inventory.refreshes)
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/disks?refresh=1", nil))
	resp = DisksResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Disks) != 3 {
		t.Errorf("expected refreshed list, got %d disks", len(resp.Disks))
	}
}

func TestScanProgressSSE_NoSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/sse/scan", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Body.String(); got != "event: complete\ndata: {\"state\":\"idle\"}\n\n" {
		t.Errorf("unexpected body %q", got)
	}
}

func TestScanProgressSSE_Streams(t *testing.T) {
	f := newFixture(t)
	f.scanner.statusFn = func() *types.ScanProgress {
		return &types.ScanProgress{SessionID: "abc", State: types.StateScanning}
	}
	f.scanner.updates = make(chan *types.ScanProgress, 2)
	f.scanner.updates <- &types.ScanProgress{SessionID: "abc", State: types.StateScanning, Result: types.ScanResult{FilesScanned: 7}}
	f.scanner.updates <- &types.ScanProgress{SessionID: "abc", State: types.StateCompleted, Result: types.ScanResult{FilesScanned: 9}}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/sse/scan?session=abc", nil))

	body := rec.Body.String()
	if n := strings.Count(body, "event: progress"); n != 3 {
		t.Errorf("expected 3 progress events, got %d in %q", n, body)
	}
	if !strings.Contains(body, `"files_scanned":9`) {
		t.Error("missing final counters")
	}
	if !strings.HasSuffix(body, "event: complete\ndata: {\"state\":\"completed\"}\n\n") {
		t.Errorf("expected completed event at end, got %q", body)
	}
	if f.scanner.unsubs != 1 {
		t.Errorf("expected unsubscribe, got %d", f.scanner.unsubs)
	}
}

func TestScanProgressSSE_ClosedChannel(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.scanner.statusFn = func() *types.ScanProgress {
		calls++
		if calls <= 2 {
			return &types.ScanProgress{SessionID: "abc", State: types.StateScanning}
		}
		return &types.ScanProgress{SessionID: "abc", State: types.StateStopped}
	}
	f.scanner.updates = make(chan *types.ScanProgress)
	close(f.scanner.updates)

	body := f.do(httptest.NewRequest(http.MethodGet, "/sse/scan", nil)).Body.String()
	if !strings.HasSuffix(body, "event: complete\ndata: {\"state\":\"stopped\"}\n\n") {
		t.Errorf("expected final snapshot state, got %q", body)
	}
}

func TestScanProgressSSE_FinishedSession(t *testing.T) {
	f := newFixture(t)
	f.scanner.statusFn = func() *types.ScanProgress {
		return &types.ScanProgress{SessionID: "abc", State: types.StateFailed, Error: "engine exited with code 50"}
	}

	body := f.do(httptest.NewRequest(http.MethodGet, "/sse/scan", nil)).Body.String()
	if strings.Count(body, "event: progress") != 1 {
		t.Errorf("expected one snapshot, got %q", body)
	}
	if !strings.Contains(body, "engine exited with code 50") {
		t.Error("missing error text")
	}
	if !strings.HasSuffix(body, "event: complete\ndata: {\"state\":\"failed\"}\n\n") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestScanProgressSSE_StaleSession(t *testing.T) {
	f := newFixture(t)
	f.scanner.statusFn = func() *types.ScanProgress {
		return &types.ScanProgress{SessionID: "new", State: types.StateScanning}
	}

	body := f.do(httptest.NewRequest(http.MethodGet, "/sse/scan?session=old", nil)).Body.String()
	if body != "event: complete\ndata: {\"state\":\"unknown\"}\n\n" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/settings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"ClamAV 1.0.5/27153", "/var/log/diskscan.log", `<option value="info" selected>`} {
		if !strings.Contains(body, want) {
			t.Errorf("settings page missing %q", want)
		}
	}

	rec = f.post(t, "/settings", url.Values{
		"scan_mode":       {"deep"},
		"remove_infected": {"1"},
		"log_level":       {"debug"},
	}, "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	want := db.Settings{ScanMode: types.ScanModeDeep, RemoveInfected: true, LogLevel: "debug"}
	if diff := cmp.Diff(want, f.store.settings); diff != "" {
		t.Errorf("saved settings mismatch (-want +got):\n%s", diff)
	}
	if f.level.level != "debug" {
		t.Errorf("log level not applied, got %q", f.level.level)
	}

	// Saved defaults prefill the scan form
	body = f.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	if !strings.Contains(body, `value="deep" checked`) {
		t.Error("expected deep mode preselected")
	}
}

func TestSettings_InvalidLevel(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/settings", url.Values{"log_level": {"trace"}}, "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "error=") {
		t.Errorf("expected error redirect, got %q", rec.Header().Get("Location"))
	}
	if f.level.level != "" {
		t.Error("level changed despite invalid input")
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "diskscan_session_active") {
		t.Error("expected diskscan metrics in exposition")
	}
}

func TestStaticFiles(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDisableCSRF(t *testing.T) {
	f := newFixture(t)
	f.h.disableCSRF = true

	req := httptest.NewRequest(http.MethodPost, "/scans", strings.NewReader("device=%2Fdev%2Fsdb&mode=quick"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := f.do(req)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", rec.Code)
	}
}
