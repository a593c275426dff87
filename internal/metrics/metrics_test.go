package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

func TestSessionFinished(t *testing.T) {
	c := New()
	c.SessionStarted()
	if got := testutil.ToFloat64(c.active); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}

	c.SessionFinished(types.ScanModeDeep, types.StateCompleted,
		types.ScanResult{FilesScanned: 12, ThreatsFound: 1}, 3*time.Second)

	if got := testutil.ToFloat64(c.active); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.sessions.WithLabelValues("deep", "completed")); got != 1 {
		t.Errorf("sessions{deep,completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.filesScanned); got != 12 {
		t.Errorf("files = %v, want 12", got)
	}
	if got := testutil.ToFloat64(c.threatsFound); got != 1 {
		t.Errorf("threats = %v, want 1", got)
	}
}

func TestDatabaseChecked(t *testing.T) {
	c := New()
	now := time.Now()
	c.DatabaseChecked(sigdb.Info{Status: sigdb.StatusOutdated, Newest: now.Add(-time.Hour), CheckedAt: now})

	if got := testutil.ToFloat64(c.databaseState.WithLabelValues("OUTDATED")); got != 1 {
		t.Errorf("status{OUTDATED} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.databaseState.WithLabelValues("OK")); got != 0 {
		t.Errorf("status{OK} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.databaseAge); got != 3600 {
		t.Errorf("age = %v, want 3600", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.SessionStarted()
	c.MountFailed("timeout")
	c.SessionFinished(types.ScanModeQuick, types.StateFailed, types.ScanResult{}, time.Second)
	c.DatabaseChecked(sigdb.Info{})
}

func TestHandler(t *testing.T) {
	c := New()
	c.MountFailed("timeout")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `diskscan_mount_failures_total{reason="timeout"} 1`) {
		t.Errorf("metrics output missing mount failure counter:\n%s", body)
	}
}
