package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/events"
)

func TestEntryOpensSession(t *testing.T) {
	h := newHarness(t)

	out := h.enter(t, "01008ABM")
	if out.Action != parking.ActionEntry || !out.BarrierOpened {
		t.Fatalf("unexpected outcome %+v", out)
	}
	sess := h.session(t, out.Session.ID)
	if sess.Status != parking.SessionActive || !sess.EntryBarrierOpened || sess.EntryCamera != entryCamera {
		t.Fatalf("unexpected session %+v", sess)
	}
	if h.barrier.Opens("entry") != 1 {
		t.Fatalf("expected entry barrier opened once, got %d", h.barrier.Opens("entry"))
	}
	if h.pub.Count(events.TypeSessionEntry) != 1 {
		t.Fatalf("expected session.entry event, got %v", h.pub.Types())
	}
}

func TestDuplicateEntryVersusForceClose(t *testing.T) {
	h := newHarness(t)
	first := h.enter(t, "01008ABM")

	h.clock.Advance(time.Hour)
	dup := h.enter(t, "01008ABM")
	if dup.Action != parking.ActionDuplicateEntry || !dup.BarrierOpened {
		t.Fatalf("expected duplicate entry with open barrier, got %+v", dup)
	}
	if dup.Session.ID != first.Session.ID {
		t.Fatalf("duplicate entry should report the active session")
	}
	if n := len(h.store.Sessions()); n != 1 {
		t.Fatalf("expected 1 session after duplicate entry, got %d", n)
	}

	h.clock.Advance(2 * time.Hour)
	second := h.enter(t, "01008ABM")
	if second.Action != parking.ActionEntry {
		t.Fatalf("expected new entry, got %s", second.Action)
	}

	old := h.session(t, first.Session.ID)
	if old.Status != parking.SessionManual {
		t.Fatalf("expected stale session closed as manual, got %s", old.Status)
	}
	if !old.CostAmount.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected stale session billed to now (150), got %s", old.CostAmount)
	}
	if old.ExitTime == nil || !old.ExitTime.Equal(baseTime.Add(3*time.Hour)) {
		t.Fatalf("unexpected exit time %v", old.ExitTime)
	}
	if cur := h.session(t, second.Session.ID); cur.Status != parking.SessionActive {
		t.Fatalf("expected new active session, got %s", cur.Status)
	}
}

func TestExitWithoutEntry(t *testing.T) {
	h := newHarness(t)

	out := h.exit(t, "01008ABM")
	if out.Action != parking.ActionExitWithoutEntry || !out.BarrierOpened {
		t.Fatalf("unexpected outcome %+v", out)
	}
	sess := h.session(t, out.Session.ID)
	if sess.Status != parking.SessionManual || *sess.DurationMinutes != 0 || !sess.CostAmount.IsZero() {
		t.Fatalf("unexpected synthetic session %+v", sess)
	}
	if !sess.ExitBarrierOpened {
		t.Fatal("expected exit barrier flag")
	}
	if h.barrier.Opens("exit") != 1 {
		t.Fatalf("expected exit barrier opened once, got %d", h.barrier.Opens("exit"))
	}
}

func TestExitRequiresPayment(t *testing.T) {
	h := newHarness(t)
	h.enter(t, "01008ABM")
	h.clock.Advance(time.Hour)

	out := h.exit(t, "01008ABM")
	if out.Action != parking.ActionExitPaymentRequired || out.BarrierOpened || !out.PaymentRequired {
		t.Fatalf("unexpected outcome %+v", out)
	}
	sess := h.session(t, out.Session.ID)
	if sess.Status != parking.SessionCompleted || sess.PaymentReceived || sess.ExitBarrierOpened {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.CostAmount.Equal(decimal.NewFromInt(50)) || *sess.DurationMinutes != 60 {
		t.Fatalf("unexpected billing %s / %d", sess.CostAmount, *sess.DurationMinutes)
	}
	if h.barrier.Opens("exit") != 0 {
		t.Fatal("exit barrier must wait for payment")
	}
	if h.pub.Count(events.TypePaymentRequired) != 1 {
		t.Fatalf("expected payment.required, got %v", h.pub.Types())
	}
}

func TestExitWithoutPayment(t *testing.T) {
	tests := []struct {
		name   string
		stay   time.Duration
		mutate func(*config.ParkingConfig)
		mode   parking.Mode
		cost   string
	}{
		{"within free minutes", 15 * time.Minute, nil, parking.ModePaid, "0"},
		{"payment disabled", 2 * time.Hour, func(c *config.ParkingConfig) { c.PaymentEnabled = false }, parking.ModePaid, "100"},
		{"free mode", 2 * time.Hour, nil, parking.ModeFree, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h *harness
			if tt.mutate != nil {
				h = newHarness(t, tt.mutate)
			} else {
				h = newHarness(t)
			}
			if err := h.admin.SetMode(context.Background(), tt.mode); err != nil {
				t.Fatal(err)
			}
			h.enter(t, "01008ABM")
			h.clock.Advance(tt.stay)

			out := h.exit(t, "01008ABM")
			if out.Action != parking.ActionExit || !out.BarrierOpened {
				t.Fatalf("unexpected outcome %+v", out)
			}
			sess := h.session(t, out.Session.ID)
			if sess.Status != parking.SessionCompleted || !sess.ExitBarrierOpened {
				t.Fatalf("unexpected session %+v", sess)
			}
			if !sess.CostAmount.Equal(decimal.RequireFromString(tt.cost)) {
				t.Fatalf("cost = %s, want %s", sess.CostAmount, tt.cost)
			}
		})
	}
}

func TestExitAtNonPaymentPointOpens(t *testing.T) {
	h := newHarness(t)
	h.cameras = NewCameras([]config.CameraConfig{
		{ID: entryCamera, Role: "entry", Gate: "entry"},
		{ID: exitCamera, Role: "exit", Gate: "exit"},
	})
	h.enter(t, "01008ABM")
	h.clock.Advance(3 * time.Hour)

	out := h.exit(t, "01008ABM")
	if out.Action != parking.ActionExit || !out.BarrierOpened {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestWhitelistedVehicle(t *testing.T) {
	h := newHarness(t)
	h.store.Whitelist("01008ABM", baseTime.Add(-time.Hour))

	in := h.enter(t, "01008ABM")
	if in.Action != parking.ActionWhitelistEntry || !in.BarrierOpened {
		t.Fatalf("unexpected entry %+v", in)
	}
	if s := h.session(t, in.Session.ID); !s.Whitelisted || !s.CostAmount.IsZero() {
		t.Fatalf("unexpected session %+v", s)
	}

	h.clock.Advance(5 * time.Hour)
	out := h.exit(t, "01008ABM")
	if out.Action != parking.ActionWhitelistExit || !out.BarrierOpened {
		t.Fatalf("unexpected exit %+v", out)
	}
	sess := h.session(t, in.Session.ID)
	if sess.Status != parking.SessionCompleted || !sess.CostAmount.IsZero() || *sess.DurationMinutes != 300 {
		t.Fatalf("unexpected closed session %+v", sess)
	}
}

func TestWhitelistedExitWithoutEntry(t *testing.T) {
	h := newHarness(t)
	h.store.Whitelist("01008ABM", baseTime.Add(-time.Hour))

	out := h.exit(t, "01008ABM")
	if out.Action != parking.ActionWhitelistExit || !out.BarrierOpened {
		t.Fatalf("unexpected exit %+v", out)
	}
	if s := h.session(t, out.Session.ID); s.Status != parking.SessionManual || !s.Whitelisted {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestUnrecognizedPlateFailOpen(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
	}{
		{"fail open", true},
		{"fail closed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *config.ParkingConfig) { c.FailOpenUnrecognized = tt.failOpen })
			p := h.passage("0000AAAA", entryCamera)
			p.PlateValid = false

			out, err := h.sessions.Entry(context.Background(), p)
			if err != nil {
				t.Fatal(err)
			}
			if out.Action != parking.ActionUnknownPlate || out.BarrierOpened != tt.failOpen {
				t.Fatalf("unexpected outcome %+v", out)
			}
			if n := len(h.store.Sessions()); n != 0 {
				t.Fatalf("expected no session rows, got %d", n)
			}
		})
	}
}

func TestTimeoutSweep(t *testing.T) {
	h := newHarness(t)
	in := h.enter(t, "01008ABM")

	h.clock.Advance(13 * time.Hour)
	n, err := h.sessions.SweepTimeouts(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("sweep closed %d, err %v", n, err)
	}

	sess := h.session(t, in.Session.ID)
	if sess.Status != parking.SessionTimeout {
		t.Fatalf("expected timeout, got %s", sess.Status)
	}
	if !sess.ExitTime.Equal(baseTime.Add(12 * time.Hour)) {
		t.Fatalf("expected exit at timeout boundary, got %s", sess.ExitTime)
	}
	if !sess.CostAmount.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected cost up to the boundary (600), got %s", sess.CostAmount)
	}
	if !strings.HasSuffix(sess.CostDescription, "(timeout)") {
		t.Fatalf("unexpected description %q", sess.CostDescription)
	}

	if n, _ := h.sessions.SweepTimeouts(context.Background()); n != 0 {
		t.Fatalf("second sweep closed %d sessions", n)
	}
}

func TestSweepRunsBeforeEntry(t *testing.T) {
	h := newHarness(t)
	stale := h.enter(t, "01008ABM")

	h.clock.Advance(13 * time.Hour)
	h.enter(t, "T1234AB")

	if s := h.session(t, stale.Session.ID); s.Status != parking.SessionTimeout {
		t.Fatalf("expected opportunistic sweep to time out the stale session, got %s", s.Status)
	}
}

func TestForceClose(t *testing.T) {
	h := newHarness(t)
	in := h.enter(t, "01008ABM")
	h.clock.Advance(30 * time.Minute)

	sess, err := h.sessions.ForceClose(context.Background(), in.Session.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != parking.SessionManual || !sess.CostAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected session %+v", sess)
	}

	if _, err := h.sessions.ForceClose(context.Background(), in.Session.ID, ""); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if _, err := h.sessions.ForceClose(context.Background(), 999, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentEntriesCreateOneSession(t *testing.T) {
	h := newHarness(t)
	done := make(chan *Outcome, 10)
	for i := 0; i < 10; i++ {
		go func() {
			out, _ := h.sessions.Entry(context.Background(), h.passage("01008ABM", entryCamera))
			done <- out
		}()
	}
	entries := 0
	for i := 0; i < 10; i++ {
		if out := <-done; out != nil && out.Action == parking.ActionEntry {
			entries++
		}
	}
	if entries != 1 {
		t.Fatalf("expected exactly one entry, got %d", entries)
	}
	if n := len(h.store.Sessions()); n != 1 {
		t.Fatalf("expected one session row, got %d", n)
	}
}

func TestListSessions(t *testing.T) {
	h := newHarness(t)
	h.enter(t, "01008ABM")
	h.clock.Advance(time.Minute)
	h.enter(t, "T1234AB")

	all, err := h.sessions.List(context.Background(), parking.SessionFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("list: %d %v", len(all), err)
	}
	if all[0].Plate != "T1234AB" {
		t.Fatalf("expected newest first, got %s", all[0].Plate)
	}

	byPlate, _ := h.sessions.List(context.Background(), parking.SessionFilter{Plate: "01008-abm"})
	if len(byPlate) != 1 || byPlate[0].Plate != "01008ABM" {
		t.Fatalf("unexpected filter result %+v", byPlate)
	}

	if _, err := h.sessions.List(context.Background(), parking.SessionFilter{Status: "parked"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
