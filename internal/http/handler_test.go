package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/dedup"
	"parking-service/internal/domain/parking"
	"parking-service/internal/recognition"
	"parking-service/internal/service"
	"parking-service/internal/tariff"
	"parking-service/internal/testutil"
)

const (
	entryCamera = "192.0.0.12"
	exitCamera  = "192.0.0.11"
	testSecret  = "test-secret"
)

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type server struct {
	router  *gin.Engine
	store   *testutil.MemoryStore
	barrier *testutil.Barrier
	bank    *testutil.Bank
	clock   *testutil.Clock
}

func newServer(t *testing.T, db Pinger) *server {
	t.Helper()
	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: testSecret, AdminRole: "admin"},
		Parking: config.ParkingConfig{
			Mode:                 "paid",
			PaymentEnabled:       true,
			MinPlateLength:       4,
			DetectionInterval:    10 * time.Second,
			DedupLogWindow:       30 * time.Second,
			SessionTimeout:       12 * time.Hour,
			DuplicateEntryGrace:  2 * time.Hour,
			FailOpenUnrecognized: true,
			EventRetention:       24 * time.Hour,
		},
		Cameras: []config.CameraConfig{
			{ID: entryCamera, Role: "entry", Gate: "entry"},
			{ID: exitCamera, Role: "exit", Gate: "exit", PaymentPoint: true},
		},
		Barriers: map[string]config.BarrierConfig{
			"entry": {Host: entryCamera},
			"exit":  {Host: exitCamera},
		},
	}

	s := &server{
		store:   testutil.NewMemoryStore(),
		barrier: testutil.NewBarrier(),
		bank:    testutil.NewBank(),
		clock:   testutil.NewClock(baseTime),
	}
	log := zerolog.Nop()
	cameras := service.NewCameras(cfg.Cameras)
	recognizer := recognition.New(cfg.Parking.MinPlateLength)
	tariffs := tariff.NewProvider(s.store, tariff.FromConfig(config.TariffConfig{
		HourlyRate: 50, NightRate: 30, FreeMinutes: 15, MaxHours: 24,
	}), log)
	pub := &testutil.Publisher{}

	admin := service.NewAdminService(s.store, tariffs, s.barrier, recognizer, parking.ModePaid, log)
	sessions := service.NewSessionService(s.store, tariffs, admin, s.barrier, pub, cfg.Parking, time.UTC, log).WithClock(s.clock.Now)
	payments := service.NewPaymentService(s.store, s.bank, s.barrier, cameras, pub, config.PaymentConfig{}, log).WithClock(s.clock.Now)
	dd := dedup.New(dedup.NewMemoryCache(100, time.Minute), s.store, dedup.Config{
		Interval:  cfg.Parking.DetectionInterval,
		LogWindow: cfg.Parking.DedupLogWindow,
	}, log).WithClock(s.clock.Now)
	camera := service.NewCameraService(recognizer, dd, s.store, sessions, cameras, cfg.Parking.EventRetention, log).WithClock(s.clock.Now)

	s.router = NewRouter(config.HTTPConfig{}, log)
	NewHandler(camera, sessions, payments, admin, db, cfg, log).
		Register(s.router, AuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.AdminRole))
	return s
}

func (s *server) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) camera(t *testing.T, camera, plate string) map[string]interface{} {
	t.Helper()
	raw := fmt.Sprintf(`<EventNotificationAlert><eventType>ANPR</eventType><ANPR><plateNumber>%s</plateNumber></ANPR></EventNotificationAlert>`, plate)
	w := s.do(t, http.MethodPost, "/api/v1/camera/event", raw, map[string]string{
		"Content-Type": "application/xml",
		"X-Camera-ID":  camera,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("camera event: %d %s", w.Code, w.Body.String())
	}
	return decode(t, w)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func token(t *testing.T, secret, role string) map[string]string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "operator-1",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]string{"Authorization": "Bearer " + signed}
}

func TestHealth(t *testing.T) {
	if w := newServer(t, pinger{}).do(t, http.MethodGet, "/health", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	down := newServer(t, pinger{err: errors.New("connection refused")})
	if w := down.do(t, http.MethodGet, "/health", nil, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestCameraEntryAndPaidExit(t *testing.T) {
	s := newServer(t, pinger{})

	res := s.camera(t, entryCamera, "01008ABM")
	if res["action"] != string(parking.ActionEntry) || res["barrier_opened"] != true {
		t.Fatalf("unexpected entry result %v", res)
	}

	s.clock.Advance(90 * time.Minute)
	res = s.camera(t, exitCamera, "01008ABM")
	if res["action"] != string(parking.ActionExitPaymentRequired) || res["amount"] != "100.00" {
		t.Fatalf("unexpected exit result %v", res)
	}
	if s.barrier.Opens("exit") != 0 {
		t.Fatal("exit barrier must stay closed until payment")
	}

	w := s.do(t, http.MethodPost, "/api/v1/payments/qr", map[string]string{"plate": "01 008 abm"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("qr: %d %s", w.Code, w.Body.String())
	}
	payment := decode(t, w)["data"].(map[string]interface{})
	opID, _ := payment["operation_id"].(string)
	if opID == "" || payment["status"] != string(parking.PaymentPending) {
		t.Fatalf("unexpected payment %v", payment)
	}

	w = s.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]string{"operationId": opID, "status": "paid"}, nil)
	if w.Code != http.StatusOK || decode(t, w)["payment_status"] != string(parking.PaymentPaid) {
		t.Fatalf("webhook: %d %s", w.Code, w.Body.String())
	}
	if s.barrier.Opens("exit") != 1 {
		t.Fatalf("expected exit barrier opened once, got %d", s.barrier.Opens("exit"))
	}

	// A replayed webhook does not actuate again.
	s.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]string{"operationId": opID, "status": "paid"}, nil)
	if s.barrier.Opens("exit") != 1 {
		t.Fatalf("replay opened the barrier again")
	}

	w = s.do(t, http.MethodGet, "/api/v1/payments/"+opID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get payment: %d", w.Code)
	}
	data := decode(t, w)["data"].(map[string]interface{})
	sess, ok := data["session"].(map[string]interface{})
	if !ok || sess["payment_received"] != true || sess["duration"] != "1 h 30 min" {
		t.Fatalf("unexpected session view %v", data["session"])
	}
}

func TestPaymentErrors(t *testing.T) {
	s := newServer(t, pinger{})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"qr without target", http.MethodPost, "/api/v1/payments/qr", map[string]string{}, http.StatusBadRequest},
		{"qr unknown session", http.MethodPost, "/api/v1/payments/qr", map[string]int{"session_id": 42}, http.StatusNotFound},
		{"qr nothing owed", http.MethodPost, "/api/v1/payments/qr", map[string]string{"plate": "01008ABM"}, http.StatusConflict},
		{"webhook without id", http.MethodPost, "/api/v1/payments/webhook", map[string]string{"status": "paid"}, http.StatusBadRequest},
		{"webhook unknown payment", http.MethodPost, "/api/v1/payments/webhook", map[string]string{"operationId": "nope", "status": "paid"}, http.StatusNotFound},
		{"webhook bad json", http.MethodPost, "/api/v1/payments/webhook", "{", http.StatusBadRequest},
		{"status unknown payment", http.MethodGet, "/api/v1/payments/nope/status", nil, http.StatusNotFound},
		{"sessions bad from", http.MethodGet, "/api/v1/sessions?from=yesterday", nil, http.StatusBadRequest},
		{"sessions bad status", http.MethodGet, "/api/v1/sessions?status=parked", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, tt.method, tt.path, tt.body, nil); w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestQRProviderUnavailable(t *testing.T) {
	s := newServer(t, pinger{})
	s.camera(t, entryCamera, "01008ABM")
	s.clock.Advance(90 * time.Minute)
	s.camera(t, exitCamera, "01008ABM")

	s.bank.GenerateErr = errors.New("bank down")
	w := s.do(t, http.MethodPost, "/api/v1/payments/qr", map[string]string{"plate": "01008ABM"}, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	s := newServer(t, pinger{})

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing token", nil, http.StatusUnauthorized},
		{"wrong secret", token(t, "other", "admin"), http.StatusUnauthorized},
		{"wrong role", token(t, testSecret, "cashier"), http.StatusForbidden},
		{"admin", token(t, testSecret, "admin"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodGet, "/api/v1/admin/parking-mode", nil, tt.headers); w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAdminModeAndWhitelist(t *testing.T) {
	s := newServer(t, pinger{})
	auth := token(t, testSecret, "admin")

	if w := s.do(t, http.MethodPut, "/api/v1/admin/parking-mode", map[string]string{"mode": "weekend"}, auth); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/api/v1/admin/parking-mode", map[string]string{"mode": "FREE"}, auth); w.Code != http.StatusOK {
		t.Fatalf("set mode: %d %s", w.Code, w.Body.String())
	}

	w := s.do(t, http.MethodPost, "/api/v1/admin/whitelist", map[string]string{"plate": "01 777 AAA", "comment": "staff"}, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("whitelist: %d %s", w.Code, w.Body.String())
	}
	entry := decode(t, w)["data"].(map[string]interface{})
	if entry["plate"] != "01777AAA" {
		t.Fatalf("plate not normalized: %v", entry["plate"])
	}
	if w := s.do(t, http.MethodPost, "/api/v1/admin/whitelist", map[string]string{"plate": "01777AAA"}, auth); w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate whitelist: expected 400, got %d", w.Code)
	}

	id := int64(entry["id"].(float64))
	path := fmt.Sprintf("/api/v1/admin/whitelist/%d", id)
	w = s.do(t, http.MethodPut, path, map[string]string{"plate": "01 888 aaa", "comment": "visitor"}, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	updated := decode(t, w)["data"].(map[string]interface{})
	if updated["plate"] != "01888AAA" || updated["comment"] != "visitor" {
		t.Fatalf("unexpected updated entry %v", updated)
	}
	window := `{"plate":"01888AAA","valid_from":"2025-03-02T00:00:00Z","valid_until":"2025-03-01T00:00:00Z"}`
	if w := s.do(t, http.MethodPut, path, window, auth); w.Code != http.StatusBadRequest {
		t.Fatalf("inverted window: expected 400, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/api/v1/admin/whitelist/999", map[string]string{"plate": "01888AAA"}, auth); w.Code != http.StatusNotFound {
		t.Fatalf("unknown entry: expected 404, got %d", w.Code)
	}

	if w := s.do(t, http.MethodDelete, path, nil, auth); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := s.do(t, http.MethodDelete, "/api/v1/admin/whitelist/abc", nil, auth); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
}

func TestAdminTariffs(t *testing.T) {
	s := newServer(t, pinger{})
	auth := token(t, testSecret, "admin")

	w := s.do(t, http.MethodPost, "/api/v1/admin/tariffs", `{"name":"peak","hourly_rate":"80","free_minutes":10,"is_active":true}`, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	created := decode(t, w)["data"].(map[string]interface{})
	id := int64(created["id"].(float64))

	w = s.do(t, http.MethodGet, "/api/v1/tariffs/active", nil, nil)
	active := decode(t, w)["data"].(map[string]interface{})
	if active["name"] != "peak" || active["night_rate"] != "80" {
		t.Fatalf("unexpected active tariff %v", active)
	}

	if w := s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/tariffs/%d", id), nil, auth); w.Code != http.StatusBadRequest {
		t.Fatalf("deleting active tariff: expected 400, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/admin/tariffs/999/activate", nil, auth); w.Code != http.StatusNotFound {
		t.Fatalf("activate unknown: expected 404, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, fmt.Sprintf("/api/v1/admin/tariffs/%d", id), `{"name":"peak","hourly_rate":90}`, auth); w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
}

func TestAdminSessionsAndGates(t *testing.T) {
	s := newServer(t, pinger{})
	auth := token(t, testSecret, "admin")

	res := s.camera(t, entryCamera, "01008ABM")
	id := int64(res["session_id"].(float64))
	s.clock.Advance(time.Hour)

	w := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/sessions/%d/close", id), nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}
	sess := decode(t, w)["data"].(map[string]interface{})
	if sess["status"] != string(parking.SessionManual) || !strings.Contains(sess["notes"].(string), "operator-1") {
		t.Fatalf("unexpected closed session %v", sess)
	}
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/sessions/%d/close", id), nil, auth); w.Code != http.StatusConflict {
		t.Fatalf("second close: expected 409, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/admin/sessions/cleanup", nil, auth); w.Code != http.StatusOK {
		t.Fatalf("cleanup: %d", w.Code)
	}

	if w := s.do(t, http.MethodPost, "/api/v1/admin/barriers/exit/open", nil, auth); w.Code != http.StatusOK {
		t.Fatalf("open: %d", w.Code)
	}
	if s.barrier.Opens("exit") != 1 {
		t.Fatalf("expected manual open")
	}
	if w := s.do(t, http.MethodGet, "/api/v1/admin/barriers/side/status", nil, auth); w.Code != http.StatusNotFound {
		t.Fatalf("unknown gate: expected 404, got %d", w.Code)
	}
	s.barrier.Fail = true
	if w := s.do(t, http.MethodPost, "/api/v1/admin/barriers/entry/close", nil, auth); w.Code != http.StatusBadGateway {
		t.Fatalf("failed actuation: expected 502, got %d", w.Code)
	}
}

func TestAdminConfirmPayment(t *testing.T) {
	s := newServer(t, pinger{})
	auth := token(t, testSecret, "admin")

	s.camera(t, entryCamera, "01008ABM")
	s.clock.Advance(90 * time.Minute)
	s.camera(t, exitCamera, "01008ABM")
	w := s.do(t, http.MethodPost, "/api/v1/payments/qr", map[string]string{"plate": "01008ABM"}, nil)
	opID := decode(t, w)["data"].(map[string]interface{})["operation_id"].(string)

	w = s.do(t, http.MethodPost, "/api/v1/admin/payments/"+opID+"/confirm", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", w.Code, w.Body.String())
	}
	p := decode(t, w)["data"].(map[string]interface{})
	if p["status"] != string(parking.PaymentPaid) || p["source"] != string(parking.SourceManual) {
		t.Fatalf("unexpected payment %v", p)
	}
	if s.barrier.Opens("exit") != 1 {
		t.Fatalf("expected exit opened after manual confirm")
	}
}
