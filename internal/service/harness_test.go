package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/dedup"
	"parking-service/internal/domain/parking"
	"parking-service/internal/recognition"
	"parking-service/internal/tariff"
	"parking-service/internal/testutil"
)

const (
	entryCamera = "192.0.0.12"
	exitCamera  = "192.0.0.11"
)

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	store    *testutil.MemoryStore
	barrier  *testutil.Barrier
	bank     *testutil.Bank
	pub      *testutil.Publisher
	clock    *testutil.Clock
	cameras  *Cameras
	sessions *SessionService
	payments *PaymentService
	admin    *AdminService
	camera   *CameraService
}

func testParkingConfig() config.ParkingConfig {
	return config.ParkingConfig{
		Mode:                 "paid",
		PaymentEnabled:       true,
		MinPlateLength:       4,
		DetectionInterval:    10 * time.Second,
		DedupLogWindow:       30 * time.Second,
		DedupCacheSize:       100,
		SessionTimeout:       12 * time.Hour,
		DuplicateEntryGrace:  2 * time.Hour,
		FailOpenUnrecognized: true,
		EventRetention:       24 * time.Hour,
	}
}

func newHarness(t *testing.T, mutate ...func(*config.ParkingConfig)) *harness {
	t.Helper()
	cfg := testParkingConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{
		store:   testutil.NewMemoryStore(),
		barrier: testutil.NewBarrier(),
		bank:    testutil.NewBank(),
		pub:     &testutil.Publisher{},
		clock:   testutil.NewClock(baseTime),
		cameras: NewCameras([]config.CameraConfig{
			{ID: entryCamera, Name: "Entry", Role: "entry", Gate: "entry"},
			{ID: exitCamera, Name: "Exit", Role: "exit", Gate: "exit", PaymentPoint: true},
		}),
	}

	log := zerolog.Nop()
	recognizer := recognition.New(cfg.MinPlateLength)
	tariffs := tariff.NewProvider(h.store, tariff.FromConfig(config.TariffConfig{
		HourlyRate: 50, NightRate: 30, FreeMinutes: 15, MaxHours: 24,
	}), log)

	h.admin = NewAdminService(h.store, tariffs, h.barrier, recognizer, parking.Mode(cfg.Mode), log)
	h.admin.now = h.clock.Now
	h.sessions = NewSessionService(h.store, tariffs, h.admin, h.barrier, h.pub, cfg, time.UTC, log).WithClock(h.clock.Now)
	h.payments = NewPaymentService(h.store, h.bank, h.barrier, h.cameras, h.pub, config.PaymentConfig{
		PollBatch:  10,
		PollMinAge: 30 * time.Second,
	}, log).WithClock(h.clock.Now)

	dd := dedup.New(dedup.NewMemoryCache(cfg.DedupCacheSize, time.Minute), h.store, dedup.Config{
		Interval:  cfg.DetectionInterval,
		LogWindow: cfg.DedupLogWindow,
	}, log).WithClock(h.clock.Now)
	h.camera = NewCameraService(recognizer, dd, h.store, h.sessions, h.cameras, cfg.EventRetention, log).WithClock(h.clock.Now)
	return h
}

func (h *harness) passage(plate, camera string) Passage {
	cam, _ := h.cameras.Lookup(camera)
	return Passage{Plate: plate, PlateValid: true, Camera: cam}
}

func (h *harness) enter(t *testing.T, plate string) *Outcome {
	t.Helper()
	out, err := h.sessions.Entry(context.Background(), h.passage(plate, entryCamera))
	if err != nil {
		t.Fatalf("entry %s: %v", plate, err)
	}
	return out
}

func (h *harness) exit(t *testing.T, plate string) *Outcome {
	t.Helper()
	out, err := h.sessions.Exit(context.Background(), h.passage(plate, exitCamera))
	if err != nil {
		t.Fatalf("exit %s: %v", plate, err)
	}
	return out
}

// unpaidSession drives a vehicle through entry and a billable exit.
func (h *harness) unpaidSession(t *testing.T, plate string) *parking.Session {
	t.Helper()
	h.enter(t, plate)
	h.clock.Advance(90 * time.Minute)
	out := h.exit(t, plate)
	if out.Action != parking.ActionExitPaymentRequired {
		t.Fatalf("expected payment required, got %s", out.Action)
	}
	return out.Session
}

func (h *harness) issue(t *testing.T, sessionID int64) *parking.Payment {
	t.Helper()
	p, err := h.payments.Issue(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return p
}

func (h *harness) session(t *testing.T, id int64) *parking.Session {
	t.Helper()
	s, err := h.store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get session %d: %v", id, err)
	}
	return s
}
