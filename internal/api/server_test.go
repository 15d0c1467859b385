package api

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/rangefinder/internal/db"
	"github.com/banshee-data/rangefinder/internal/inclination"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/prefs"
	"github.com/banshee-data/rangefinder/internal/session"
	"github.com/banshee-data/rangefinder/internal/solver"
	"github.com/banshee-data/rangefinder/internal/testutil"
	"github.com/banshee-data/rangefinder/internal/timeutil"
)

// one pixel is one millimeter on the test display
var testDisplay = session.Display{WidthPixels: 100, PixelsPerMeter: 1000}

type testServer struct {
	*Server
	mux   *http.ServeMux
	mem   *prefs.MemoryStore
	db    *db.DB
	clock *timeutil.MockClock
}

func setupTestServer(t *testing.T, seed map[string]string, withDB bool) *testServer {
	t.Helper()
	mem := prefs.NewMemoryStore(seed)
	ts := &testServer{
		mem:   mem,
		clock: timeutil.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	}
	cfg := Config{
		Store:   prefs.NewUnitStore(mem),
		Tracker: inclination.NewTracker(true),
		Display: testDisplay,
		Clock:   ts.clock,
	}
	if withDB {
		database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
		testutil.AssertNoError(t, err)
		t.Cleanup(func() { database.Close() })
		cfg.DB = database
		ts.db = database
	}
	ts.Server = NewServer(cfg)
	ts.mux = ts.ServeMux()
	return ts
}

var configuredSeed = map[string]string{
	prefs.KeyArmLengthMetric:     "60",
	prefs.KeyEyeSeparationMetric: "7",
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, testutil.NewJSONRequest(method, path, body))
	return rec
}

type estimateJSON struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	Configured bool   `json:"configured"`
	Estimate   *struct {
		Distance *float64 `json:"distance_m"`
		Accuracy float64  `json:"accuracy_m"`
		Pixel    int      `json:"pixel"`
		Infinite bool     `json:"infinite"`
		Display  string   `json:"display"`
	} `json:"estimate"`
	Error string `json:"error"`
}

func TestEstimateStartsCentered(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, false)

	rec := ts.do(t, http.MethodGet, "/api/estimate", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	got := testutil.DecodeJSON[estimateJSON](t, rec)
	if !got.Configured || got.Estimate == nil {
		t.Fatalf("expected configured estimate, got %+v", got)
	}
	if got.State != "active" {
		t.Errorf("state = %q, want active", got.State)
	}
	if got.Estimate.Pixel != 50 {
		t.Errorf("pixel = %d, want 50", got.Estimate.Pixel)
	}
	// x = 0.05 m: 0.07*0.6/0.02
	if got.Estimate.Distance == nil || *got.Estimate.Distance < 2.0999 || *got.Estimate.Distance > 2.1001 {
		t.Errorf("distance = %v, want 2.1", got.Estimate.Distance)
	}
}

func TestEstimateUnconfigured(t *testing.T) {
	ts := setupTestServer(t, nil, false)

	rec := ts.do(t, http.MethodGet, "/api/estimate", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[estimateJSON](t, rec)
	if got.Configured || got.Estimate != nil {
		t.Errorf("expected unconfigured, got %+v", got)
	}
	if got.State != "uninitialized" || got.Error == "" {
		t.Errorf("state=%q error=%q", got.State, got.Error)
	}

	rec = ts.do(t, http.MethodPost, "/api/adjust", `{"delta": 1}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if testutil.DecodeJSON[estimateJSON](t, rec).Configured {
		t.Error("adjust should not report configured")
	}
}

func TestConfigure(t *testing.T) {
	ts := setupTestServer(t, nil, false)

	rec := ts.do(t, http.MethodPost, "/api/configure", `{"arm_length_m": 0.6, "eye_separation_m": 0.07, "units": "imperial"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[estimateJSON](t, rec)
	if !got.Configured {
		t.Fatalf("expected configured, got %+v", got)
	}
	if !strings.HasSuffix(got.Estimate.Display, "ft") {
		t.Errorf("display = %q, want feet", got.Estimate.Display)
	}

	rec = ts.do(t, http.MethodPost, "/api/configure", `{"units": "cubits"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = ts.do(t, http.MethodPost, "/api/configure", `{"elbow": 1}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = ts.do(t, http.MethodGet, "/api/configure", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestConfigureEmptyBodyReloadsPreferences(t *testing.T) {
	ts := setupTestServer(t, nil, false)
	ts.mem.Set(prefs.KeyArmLengthMetric, "60")
	ts.mem.Set(prefs.KeyEyeSeparationMetric, "7")

	rec := ts.do(t, http.MethodPost, "/api/configure", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if !testutil.DecodeJSON[estimateJSON](t, rec).Configured {
		t.Error("expected configured after reload")
	}
}

func TestAdjust(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, false)

	tests := []struct {
		name      string
		body      string
		status    int
		wantPixel int
	}{
		{"absolute", `{"pixels": 10}`, http.StatusOK, 10},
		{"delta", `{"delta": 2}`, http.StatusOK, 12},
		{"trackball", `{"trackball": -0.01}`, http.StatusOK, 11},
		{"clamped", `{"pixels": -5}`, http.StatusOK, 0},
		{"saturated delta", `{"delta": 9223372036854775807}`, http.StatusOK, 100},
		{"saturated negative delta", `{"delta": -9223372036854775808}`, http.StatusOK, 0},
		{"new display", `{"pixels": 20, "width": 200, "pixels_per_meter": 2000}`, http.StatusOK, 20},
		{"nothing", `{}`, http.StatusBadRequest, 0},
		{"two moves", `{"pixels": 1, "delta": 1}`, http.StatusBadRequest, 0},
		{"bad display", `{"pixels": 1, "width": -1}`, http.StatusBadRequest, 0},
		{"bad json", `{"pixels":`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/adjust", tt.body)
			testutil.AssertStatusCode(t, rec.Code, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			got := testutil.DecodeJSON[estimateJSON](t, rec)
			if got.Estimate == nil || got.Estimate.Pixel != tt.wantPixel {
				t.Errorf("estimate = %+v, want pixel %d", got.Estimate, tt.wantPixel)
			}
		})
	}

	p, _ := ts.Session().Pixel()
	if p != 20 {
		t.Errorf("session pixel = %d, want 20", p)
	}
}

func TestAdjustToInfinity(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, false)

	rec := ts.do(t, http.MethodPost, "/api/adjust", `{"pixels": 90}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[estimateJSON](t, rec)
	if got.Estimate == nil || !got.Estimate.Infinite || got.Estimate.Distance != nil {
		t.Fatalf("expected infinite estimate, got %+v", got.Estimate)
	}
	if got.Estimate.Accuracy != solver.AccuracyUndefined {
		t.Errorf("accuracy = %f, want -1", got.Estimate.Accuracy)
	}
}

func TestTilt(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, false)

	rec := ts.do(t, http.MethodPost, "/api/tilt", `{"x": 0, "y": 1, "z": -1}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[TiltResponse](t, rec)
	if !got.Supported || got.Degrees == nil {
		t.Fatalf("expected a measurement, got %+v", got)
	}
	if *got.Degrees < 44.999 || *got.Degrees > 45.001 {
		t.Errorf("degrees = %f, want 45", *got.Degrees)
	}

	rec = ts.do(t, http.MethodPost, "/api/tilt", `{"x": "up"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestTiltWithoutSensor(t *testing.T) {
	s := NewServer(Config{Store: prefs.NewUnitStore(prefs.NewMemoryStore(configuredSeed)), Display: testDisplay})
	mux := s.ServeMux()

	req := httptest.NewRequest(http.MethodPost, "/api/tilt", strings.NewReader(`{"x":0,"y":1,"z":-1}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[TiltResponse](t, rec)
	if got.Supported || got.Degrees != nil {
		t.Errorf("expected no measurement, got %+v", got)
	}
}

type finalizeJSON struct {
	Result struct {
		ID             string   `json:"id"`
		DistanceMeters *float64 `json:"distance_m"`
		Units          string   `json:"units"`
		Inclination    *float64 `json:"inclination_deg"`
		FinalizedAt    string   `json:"finalized_at"`
	} `json:"result"`
	Extras map[string]any `json:"extras"`
	Stored bool           `json:"stored"`
}

func TestFinalizeRecordsOnce(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, true)

	ts.do(t, http.MethodPost, "/api/tilt", `{"x": 0, "y": 1, "z": -1}`)
	testutil.AssertStatusCode(t, ts.do(t, http.MethodPost, "/api/adjust", `{"pixels": 10}`).Code, http.StatusOK)

	rec := ts.do(t, http.MethodPost, "/api/finalize", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	first := testutil.DecodeJSON[finalizeJSON](t, rec)
	if !first.Stored {
		t.Error("expected result to be stored")
	}
	if first.Result.Units != "meters" || first.Extras["units"] != "meters" {
		t.Errorf("units = %q / %v", first.Result.Units, first.Extras["units"])
	}
	if first.Result.Inclination == nil {
		t.Error("expected inclination")
	}
	if d, ok := first.Extras["distance"].(float64); !ok || d < 0.6999 || d > 0.7001 {
		t.Errorf("extras distance = %v", first.Extras["distance"])
	}

	ts.clock.Advance(time.Hour)
	rec = ts.do(t, http.MethodPost, "/api/finalize", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	second := testutil.DecodeJSON[finalizeJSON](t, rec)
	if second.Result.ID != first.Result.ID || second.Result.FinalizedAt != first.Result.FinalizedAt {
		t.Errorf("second finalize differs: %+v vs %+v", second.Result, first.Result)
	}

	rec = ts.do(t, http.MethodPost, "/api/adjust", `{"delta": 1}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	rec = ts.do(t, http.MethodGet, "/api/results", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	results := testutil.DecodeJSON[[]map[string]any](t, rec)
	if len(results) != 1 || results[0]["id"] != first.Result.ID {
		t.Errorf("results = %v", results)
	}

	// a new session can be finalized and stored again
	rec = ts.do(t, http.MethodPost, "/api/session", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	next := testutil.DecodeJSON[estimateJSON](t, rec)
	if next.SessionID == first.Result.ID || next.State != "active" {
		t.Errorf("new session = %+v", next)
	}
	testutil.AssertStatusCode(t, ts.do(t, http.MethodPost, "/api/finalize", "").Code, http.StatusOK)

	rec = ts.do(t, http.MethodGet, "/api/results?limit=5", "")
	if n := len(testutil.DecodeJSON[[]map[string]any](t, rec)); n != 2 {
		t.Errorf("stored results = %d, want 2", n)
	}
}

func TestFinalizeInfiniteExtras(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, false)
	ts.do(t, http.MethodPost, "/api/adjust", `{"pixels": 100}`)

	rec := ts.do(t, http.MethodPost, "/api/finalize", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[finalizeJSON](t, rec)
	if got.Stored {
		t.Error("no DB configured, nothing should be stored")
	}
	if got.Result.DistanceMeters != nil {
		t.Errorf("distance = %v, want null", *got.Result.DistanceMeters)
	}
	if v, ok := got.Extras["distance"]; !ok || v != nil {
		t.Errorf("extras distance = %v, want null", v)
	}
}

func TestFinalizeUnconfigured(t *testing.T) {
	ts := setupTestServer(t, nil, true)
	rec := ts.do(t, http.MethodPost, "/api/finalize", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusUnprocessableEntity)

	rec = ts.do(t, http.MethodGet, "/api/results", "")
	if n := len(testutil.DecodeJSON[[]map[string]any](t, rec)); n != 0 {
		t.Errorf("stored results = %d, want 0", n)
	}
}

func TestResultsWithoutDB(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, false)
	rec := ts.do(t, http.MethodGet, "/api/results", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

func TestResultsBadLimit(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, true)
	for _, q := range []string{"limit=0", "limit=-2", "limit=abc"} {
		rec := ts.do(t, http.MethodGet, "/api/results?"+q, "")
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	}
}

func TestPreferences(t *testing.T) {
	ts := setupTestServer(t, nil, false)

	rec := ts.do(t, http.MethodGet, "/api/preferences", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if testutil.DecodeJSON[PreferencesResponse](t, rec).Configured {
		t.Error("empty store should not be configured")
	}

	rec = ts.do(t, http.MethodPut, "/api/preferences",
		`{"units": "imperial", "arm_length_imperial": "24", "eye_separation_imperial": "2.75"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[PreferencesResponse](t, rec)
	if !got.Configured {
		t.Fatal("expected configured")
	}
	if got.Values[prefs.KeyArmLengthMetric] != "61" {
		t.Errorf("derived metric arm length = %q, want 61", got.Values[prefs.KeyArmLengthMetric])
	}
	if got.Summaries["arm_length"] != "24in" {
		t.Errorf("arm summary = %q, want 24in", got.Summaries["arm_length"])
	}

	// the live session picked up the new constants
	if ts.Session().State() != session.Active {
		t.Errorf("session state = %v, want active", ts.Session().State())
	}

	for _, body := range []string{`{"elbow": "1"}`, `{"units": "cubits"}`, `[1]`} {
		rec = ts.do(t, http.MethodPut, "/api/preferences", body)
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	}

	rec = ts.do(t, http.MethodDelete, "/api/preferences", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

// brokenStore fails every write to one key.
type brokenStore struct {
	*prefs.MemoryStore
	failKey string
}

func (b *brokenStore) Set(key, value string) error {
	if key == b.failKey {
		return errors.New("disk I/O error")
	}
	return b.MemoryStore.Set(key, value)
}

func TestPreferencesStoreFailureKeepsUnits(t *testing.T) {
	mem := prefs.NewMemoryStore(map[string]string{prefs.KeyUnits: "metric"})
	srv := NewServer(Config{
		Store:   prefs.NewUnitStore(&brokenStore{MemoryStore: mem, failKey: prefs.KeyEyeSeparationImperial}),
		Tracker: inclination.NewTracker(true),
		Display: testDisplay,
	})
	mux := srv.ServeMux()

	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewJSONRequest(http.MethodPut, "/api/preferences",
		`{"units": "imperial", "arm_length_metric": "60", "eye_separation_metric": "7"}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)

	got := mem.Snapshot()
	if got[prefs.KeyUnits] != "metric" {
		t.Errorf("units = %q after failed write, want metric", got[prefs.KeyUnits])
	}
	// lengths before the failing key are kept
	if got[prefs.KeyArmLengthImperial] != "23.62" {
		t.Errorf("arm_length_imperial = %q, want 23.62", got[prefs.KeyArmLengthImperial])
	}

	// invalid units are rejected before any length is written
	rec = testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewJSONRequest(http.MethodPut, "/api/preferences",
		`{"units": "cubits", "arm_length_metric": "75"}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	if v := mem.Snapshot()[prefs.KeyArmLengthMetric]; v != "60" {
		t.Errorf("arm_length_metric = %q after rejected body, want 60", v)
	}
}

func TestTicks(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, false)

	rec := ts.do(t, http.MethodGet, "/api/ticks", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	ticks := testutil.DecodeJSON[[]solver.Tick](t, rec)
	if len(ticks) != 7 {
		t.Fatalf("got %d ticks, want 7", len(ticks))
	}
	// 1m sits 28mm from the eye line; truncation may land one pixel short
	if ticks[0].Label != "1m" || ticks[0].Pixel < 27 || ticks[0].Pixel > 28 {
		t.Errorf("first tick = %+v, want 1m near pixel 28", ticks[0])
	}

	unconfigured := setupTestServer(t, nil, false)
	rec = unconfigured.do(t, http.MethodGet, "/api/ticks", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusUnprocessableEntity)
}

func TestVersion(t *testing.T) {
	ts := setupTestServer(t, nil, false)
	rec := ts.do(t, http.MethodGet, "/api/version", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[map[string]string](t, rec)
	if got["version"] == "" {
		t.Errorf("missing version: %v", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := setupTestServer(t, configuredSeed, true)
	cases := map[string]string{
		"/api/estimate": http.MethodPost,
		"/api/adjust":   http.MethodGet,
		"/api/tilt":     http.MethodGet,
		"/api/finalize": http.MethodGet,
		"/api/session":  http.MethodGet,
		"/api/results":  http.MethodPost,
		"/api/ticks":    http.MethodPost,
		"/api/version":  http.MethodPost,
	}
	for path, method := range cases {
		rec := ts.do(t, method, path, "")
		testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	monitoring.SetLogger(func(format string, v ...interface{}) {
		fmt.Fprintf(&buf, format, v...)
	})
	defer monitoring.SetLogger(log.Printf)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/estimate?x=1", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	if !strings.Contains(buf.String(), "/api/estimate?x=1") || !strings.Contains(buf.String(), "418") {
		t.Errorf("log line = %q", buf.String())
	}
}

func TestStatusCodeColor(t *testing.T) {
	tests := map[int]string{
		200: colorBoldGreen,
		302: colorYellow,
		404: colorBoldRed,
		500: colorBoldRed,
	}
	for code, color := range tests {
		if got := statusCodeColor(code); !strings.HasPrefix(got, color) {
			t.Errorf("statusCodeColor(%d) = %q", code, got)
		}
	}
	if got := statusCodeColor(101); got != "101" {
		t.Errorf("statusCodeColor(101) = %q", got)
	}
}
