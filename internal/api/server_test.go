package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyotek/custody-core/internal/audit"
	"github.com/odyotek/custody-core/internal/auth"
	"github.com/odyotek/custody-core/internal/custody"
	"github.com/odyotek/custody-core/internal/device"
	"github.com/odyotek/custody-core/internal/infrastructure/config"
	"github.com/odyotek/custody-core/internal/infrastructure/database"
	"github.com/odyotek/custody-core/internal/infrastructure/logging"
	"github.com/odyotek/custody-core/internal/notification"
	_ "github.com/odyotek/custody-core/migrations" // registers embedded migrations
)

const testJWTSecret = "api-test-secret-at-least-32-chars!!!"

// newTestServer wires a full server against an in-memory database and
// returns the router for httptest-driven requests.
func newTestServer(t *testing.T) (http.Handler, *sql.DB) {
	t.Helper()

	ctx := context.Background()
	dbw, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "custody.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { dbw.Close() })

	if err := dbw.Migrate(ctx); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	db := dbw.DB

	devices := device.NewSQLiteRepository(db)
	machine := custody.NewMachine(devices, custody.NewSQLiteRepository(db))
	generator := notification.NewGenerator(notification.NewSQLiteRepository(db), devices)
	machine.SetNotificationCanceller(&cancellerAdapter{generator})

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")

	srv, err := New(Deps{
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testJWTSecret, Issuer: "clinic-app"},
		},
		Logger:    logger,
		Devices:   devices,
		Machine:   machine,
		Generator: generator,
		Audit:     audit.NewSQLiteRepository(db),
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.hub = NewHub(config.WebSocketConfig{}, logger)

	return srv.buildRouter(), db
}

// cancellerAdapter lets the custody machine cancel notifications without
// a package cycle in tests.
type cancellerAdapter struct {
	gen *notification.Generator
}

func (a *cancellerAdapter) CancelActiveForDevice(ctx context.Context, deviceID, reason string) error {
	return a.gen.CancelActiveForDevice(ctx, deviceID, reason)
}

// testToken mints a token the configured issuer would produce.
func testToken(t *testing.T) string {
	t.Helper()
	now := time.Now()
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-1",
			Issuer:    "clinic-app",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		},
		Role: "operator",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

// doJSON performs an authenticated request and decodes the JSON response.
func doJSON(t *testing.T, router http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken(t))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

// registerDevice registers a device through the API and returns it.
func registerDevice(t *testing.T, router http.Handler, barcode string) device.Device {
	t.Helper()
	var dev device.Device
	rec := doJSON(t, router, http.MethodPost, "/api/v1/devices", registerDeviceRequest{
		Barcode:      barcode,
		SerialNumber: "SN-" + barcode,
		DeviceType:   "hearing_aid",
		Model:        "Pure Charge&Go 7X",
	}, &dev)
	if rec.Code != http.StatusOK {
		t.Fatalf("register device status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return dev
}

// moveDevice records a movement through the API, failing the test on error.
func moveDevice(t *testing.T, router http.Handler, id, toState, operation, notes string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/devices/"+id+"/movements",
		recordMovementRequest{ToState: toState, Operation: operation, Notes: notes}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("movement status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?state=with_supplier", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices?state=with_supplier", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with garbage token = %d, want 401", rec.Code)
	}
}

func TestDeviceLifecycleOverAPI(t *testing.T) {
	router, _ := newTestServer(t)

	dev := registerDevice(t, router, "8710001000018")
	if dev.PossessionState != device.StateWithSupplier {
		t.Fatalf("initial state = %q, want with_supplier", dev.PossessionState)
	}

	// Lookup by barcode works for scanner-driven UIs.
	var byBarcode device.Device
	rec := doJSON(t, router, http.MethodGet, "/api/v1/devices/8710001000018", nil, &byBarcode)
	if rec.Code != http.StatusOK || byBarcode.ID != dev.ID {
		t.Fatalf("barcode lookup status = %d, id = %q", rec.Code, byBarcode.ID)
	}

	moveDevice(t, router, dev.ID, "with_center", "acquisition", "")
	moveDevice(t, router, dev.ID, "with_consumer", "delivery", "")

	// History is newest first.
	var history struct {
		Movements []custody.MovementEntry `json:"movements"`
		Count     int                     `json:"count"`
	}
	rec = doJSON(t, router, http.MethodGet, "/api/v1/devices/"+dev.ID+"/history", nil, &history)
	if rec.Code != http.StatusOK || history.Count != 2 {
		t.Fatalf("history status = %d, count = %d, want 2", rec.Code, history.Count)
	}
	if history.Movements[0].Operation != custody.OperationDelivery {
		t.Errorf("newest movement = %q, want delivery", history.Movements[0].Operation)
	}

	// Stats reflect the projection.
	var stats struct {
		Counts map[string]int64 `json:"counts"`
	}
	rec = doJSON(t, router, http.MethodGet, "/api/v1/devices/stats", nil, &stats)
	if rec.Code != http.StatusOK || stats.Counts["with_consumer"] != 1 {
		t.Errorf("stats = %v", stats.Counts)
	}
}

func TestRecordMovement_ErrorMapping(t *testing.T) {
	router, _ := newTestServer(t)

	dev := registerDevice(t, router, "8710002000017")

	tests := []struct {
		name       string
		deviceID   string
		body       recordMovementRequest
		wantStatus int
		wantCode   string
	}{
		{
			"illegal transition",
			dev.ID,
			recordMovementRequest{ToState: "with_consumer", Operation: "delivery"},
			http.StatusUnprocessableEntity,
			ErrCodeIllegalMove,
		},
		{
			"unknown device",
			"dev-missing",
			recordMovementRequest{ToState: "with_center", Operation: "acquisition"},
			http.StatusNotFound,
			ErrCodeNotFound,
		},
		{
			"unknown operation",
			dev.ID,
			recordMovementRequest{ToState: "with_center", Operation: "teleport"},
			http.StatusBadRequest,
			ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr Error
			rec := doJSON(t, router, http.MethodPost,
				"/api/v1/devices/"+tt.deviceID+"/movements", tt.body, &apiErr)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Status != tt.wantStatus || apiErr.Message == "" {
				t.Errorf("envelope = %+v", apiErr)
			}
		})
	}

	// Manual correction without notes is rejected.
	moveDevice(t, router, dev.ID, "with_center", "acquisition", "")
	moveDevice(t, router, dev.ID, "with_consumer", "delivery", "")

	var apiErr Error
	rec := doJSON(t, router, http.MethodPost, "/api/v1/devices/"+dev.ID+"/movements",
		recordMovementRequest{ToState: "with_center", Operation: "manual_correction"}, &apiErr)
	if rec.Code != http.StatusBadRequest || apiErr.Code != ErrCodeValidation {
		t.Errorf("correction without notes: status = %d, code = %q", rec.Code, apiErr.Code)
	}
}

func TestBulkAcquireOverAPI(t *testing.T) {
	router, _ := newTestServer(t)

	d1 := registerDevice(t, router, "8710003000016")
	d2 := registerDevice(t, router, "8710003000023")

	var result custody.BulkResult
	rec := doJSON(t, router, http.MethodPost, "/api/v1/movements/bulk-acquire",
		bulkAcquireRequest{Refs: []string{d1.Barcode, "UNKNOWN", d2.Barcode}, Notes: "shipment 42"},
		&result)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if result.SuccessCount != 2 || result.FailureCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", result.SuccessCount, result.FailureCount)
	}

	var apiErr Error
	rec = doJSON(t, router, http.MethodPost, "/api/v1/movements/bulk-acquire",
		bulkAcquireRequest{}, &apiErr)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty refs status = %d, want 400", rec.Code)
	}
}

func TestNotificationFlowOverAPI(t *testing.T) {
	router, _ := newTestServer(t)

	dev := registerDevice(t, router, "8710004000015")
	moveDevice(t, router, dev.ID, "with_center", "acquisition", "")

	// Not delivered yet: generation is rejected.
	var apiErr Error
	rec := doJSON(t, router, http.MethodPost, "/api/v1/notifications",
		generateNotificationRequest{DeviceIDs: []string{dev.ID}}, &apiErr)
	if rec.Code != http.StatusUnprocessableEntity || apiErr.Code != ErrCodeNotDelivered {
		t.Fatalf("undelivered: status = %d, code = %q", rec.Code, apiErr.Code)
	}

	moveDevice(t, router, dev.ID, "with_consumer", "delivery", "")

	var n notification.Notification
	rec = doJSON(t, router, http.MethodPost, "/api/v1/notifications",
		generateNotificationRequest{DeviceIDs: []string{dev.ID}, PatientID: "pat-1"}, &n)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if n.Status != notification.StatusCompleted {
		t.Errorf("status = %q, want completed", n.Status)
	}

	// Re-requesting returns the same notification.
	var repeat notification.Notification
	rec = doJSON(t, router, http.MethodPost, "/api/v1/notifications",
		generateNotificationRequest{DeviceIDs: []string{dev.ID}}, &repeat)
	if rec.Code != http.StatusOK || repeat.ID != n.ID {
		t.Errorf("repeat: status = %d, id = %q, want %q", rec.Code, repeat.ID, n.ID)
	}

	// A manual correction cancels the active notification.
	moveDevice(t, router, dev.ID, "with_center", "manual_correction", "returned for refit")

	var got notification.Notification
	rec = doJSON(t, router, http.MethodGet, "/api/v1/notifications/"+n.ID, nil, &got)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if !got.Cancelled {
		t.Error("notification not cancelled after manual correction")
	}
}

func TestMissingDevicesAndReconcile(t *testing.T) {
	router, _ := newTestServer(t)

	dev := registerDevice(t, router, "8710005000014")
	moveDevice(t, router, dev.ID, "with_center", "acquisition", "")
	moveDevice(t, router, dev.ID, "with_consumer", "delivery", "")

	var missing struct {
		Devices []device.Device `json:"devices"`
		Count   int             `json:"count"`
	}
	rec := doJSON(t, router, http.MethodGet, "/api/v1/notifications/missing-devices", nil, &missing)
	if rec.Code != http.StatusOK || missing.Count != 1 {
		t.Fatalf("missing-devices status = %d, count = %d, want 1", rec.Code, missing.Count)
	}

	var result notification.ReconcileResult
	rec = doJSON(t, router, http.MethodPost, "/api/v1/notifications/reconcile", nil, &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if result.SuccessCount != 1 {
		t.Errorf("reconcile counts = %d/%d, want 1/0", result.SuccessCount, result.FailureCount)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/notifications/missing-devices", nil, &missing)
	if rec.Code != http.StatusOK || missing.Count != 0 {
		t.Errorf("missing after reconcile = %d, want 0", missing.Count)
	}
}

func TestCancelNotificationOverAPI(t *testing.T) {
	router, _ := newTestServer(t)

	dev := registerDevice(t, router, "8710006000013")
	moveDevice(t, router, dev.ID, "with_center", "acquisition", "")
	moveDevice(t, router, dev.ID, "with_consumer", "delivery", "")

	var n notification.Notification
	doJSON(t, router, http.MethodPost, "/api/v1/notifications",
		generateNotificationRequest{DeviceIDs: []string{dev.ID}}, &n)

	var cancelled notification.Notification
	rec := doJSON(t, router, http.MethodPost, "/api/v1/notifications/"+n.ID+"/cancel",
		cancelNotificationRequest{Reason: "duplicate entry"}, &cancelled)
	if rec.Code != http.StatusOK || !cancelled.Cancelled {
		t.Fatalf("cancel status = %d, cancelled = %v", rec.Code, cancelled.Cancelled)
	}

	var apiErr Error
	rec = doJSON(t, router, http.MethodPost, "/api/v1/notifications/"+n.ID+"/cancel",
		cancelNotificationRequest{}, &apiErr)
	if rec.Code != http.StatusConflict || apiErr.Code != ErrCodeConflict {
		t.Errorf("repeat cancel: status = %d, code = %q", rec.Code, apiErr.Code)
	}
}

func TestAuditTrailOverAPI(t *testing.T) {
	router, _ := newTestServer(t)

	dev := registerDevice(t, router, "8710007000012")
	moveDevice(t, router, dev.ID, "with_center", "acquisition", "")

	var result audit.ListResult
	rec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/v1/audit?entity_id=%s", dev.ID), nil, &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	if result.Total != 2 {
		t.Fatalf("audit total = %d, want register + movement", result.Total)
	}
	for _, entry := range result.Logs {
		if entry.Actor != "operator-1" {
			t.Errorf("actor = %q, want operator-1", entry.Actor)
		}
	}
}

func TestRegisterDeviceConflict(t *testing.T) {
	router, _ := newTestServer(t)

	registerDevice(t, router, "8710008000011")

	var apiErr Error
	rec := doJSON(t, router, http.MethodPost, "/api/v1/devices", registerDeviceRequest{
		Barcode:      "8710008000011",
		SerialNumber: "SN-different",
		DeviceType:   "hearing_aid",
	}, &apiErr)
	if rec.Code != http.StatusConflict || apiErr.Code != ErrCodeConflict {
		t.Errorf("conflict: status = %d, code = %q", rec.Code, apiErr.Code)
	}
}
