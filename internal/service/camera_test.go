package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"parking-service/internal/domain/parking"
)

func anprXML(plate string, ts time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<EventNotificationAlert version="2.0">
<dateTime>%s</dateTime>
<eventType>ANPR</eventType>
<ANPR><plateNumber>%s</plateNumber><pictureURL>http://cam/pic.jpg</pictureURL></ANPR>
</EventNotificationAlert>`, ts.Format(time.RFC3339), plate)
}

func TestIngestEntryAndExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw := anprXML("01008ABM", baseTime)
	res, err := h.camera.Ingest(ctx, entryCamera, raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != parking.ActionEntry || !res.PlateValid || res.Plate != "01008ABM" || res.EventID == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Direction != "entry" || res.EventType != "ANPR" || !res.BarrierOpened {
		t.Fatalf("unexpected result %+v", res)
	}

	h.clock.Advance(5 * time.Second)
	res, err = h.camera.Ingest(ctx, entryCamera, raw)
	if err != nil || res.Action != parking.ActionDuplicateIgnored {
		t.Fatalf("expected duplicate_ignored, got %+v %v", res, err)
	}
	if h.barrier.Opens("entry") != 1 {
		t.Fatalf("duplicate event must not actuate, opens=%d", h.barrier.Opens("entry"))
	}

	h.clock.Advance(time.Hour)
	res, err = h.camera.Ingest(ctx, exitCamera, anprXML("01008ABM", h.clock.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != parking.ActionExitPaymentRequired || !res.PaymentRequired || res.Amount != "50.00" {
		t.Fatalf("unexpected exit result %+v", res)
	}

	evs := h.store.CameraEvents()
	if len(evs) != 3 || evs[0].PictureURL != "http://cam/pic.jpg" {
		t.Fatalf("expected every event audited, got %+v", evs)
	}
}

func TestIngestUnknownCamera(t *testing.T) {
	h := newHarness(t)
	res, err := h.camera.Ingest(context.Background(), "10.9.9.9", anprXML("01008ABM", baseTime))
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != parking.ActionUnknownCamera || res.BarrierOpened {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.store.Sessions()) != 0 {
		t.Fatal("unknown camera must not create sessions")
	}
	if len(h.store.CameraEvents()) != 1 {
		t.Fatal("unknown camera events are still audited")
	}
}

func TestIngestHeartbeat(t *testing.T) {
	h := newHarness(t)
	raw := `<EventNotificationAlert><eventType>videoloss</eventType><eventState>inactive</eventState></EventNotificationAlert>`
	res, err := h.camera.Ingest(context.Background(), entryCamera, raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != parking.ActionUnknownPlate || res.BarrierOpened {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestIngestUnreadablePlateFailsOpen(t *testing.T) {
	h := newHarness(t)
	res, err := h.camera.Ingest(context.Background(), entryCamera, anprXML("0000AAAA", baseTime))
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != parking.ActionUnknownPlate || res.PlateValid || !res.BarrierOpened {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.store.Sessions()) != 0 {
		t.Fatal("unreadable plate must not create a session")
	}
}

func TestIngestPlateBeyondStoredLength(t *testing.T) {
	h := newHarness(t)
	raw := `<EventNotificationAlert><eventType>ANPR</eventType>` +
		strings.Repeat("<meta>x</meta>\n", 1000) +
		`<ANPR><plateNumber>01008ABM</plateNumber></ANPR></EventNotificationAlert>`

	res, err := h.camera.Ingest(context.Background(), entryCamera, raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != parking.ActionEntry || !res.PlateValid || res.Plate != "01008ABM" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.store.Sessions()) != 1 {
		t.Fatal("expected a session for the plate")
	}
	evs := h.store.CameraEvents()
	if len(evs) != 1 || !strings.HasSuffix(evs[0].RawEvent, "[truncated]") {
		t.Fatalf("expected the stored payload to be truncated, got %d events", len(evs))
	}
}

func TestIngestRepeatedUnreadablePlateIsDeduplicated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	raw := anprXML("0000AAAA", baseTime)

	for i := 0; i < 3; i++ {
		res, err := h.camera.Ingest(ctx, entryCamera, raw)
		if err != nil {
			t.Fatal(err)
		}
		want := parking.ActionUnknownPlate
		if i > 0 {
			want = parking.ActionDuplicateIgnored
		}
		if res.Action != want {
			t.Fatalf("event %d: action %s, want %s", i, res.Action, want)
		}
		h.clock.Advance(time.Second)
	}
	if h.barrier.Opens("entry") != 1 {
		t.Fatalf("expected one actuation, got %d", h.barrier.Opens("entry"))
	}
}

func TestCleanupEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.camera.Ingest(ctx, entryCamera, anprXML("01008ABM", baseTime))
	h.clock.Advance(20 * time.Second)
	_, _ = h.camera.Ingest(ctx, entryCamera, anprXML("T1234AB", h.clock.Now()))

	h.clock.Advance(24*time.Hour - 10*time.Second)
	deleted, err := h.camera.CleanupEvents(ctx)
	if err != nil || deleted != 1 {
		t.Fatalf("expected 1 deleted event, got %d %v", deleted, err)
	}
	if len(h.store.CameraEvents()) != 1 {
		t.Fatal("expected the recent event to remain")
	}
}
