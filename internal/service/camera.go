package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/recognition"
	"parking-service/internal/utils"
)

type Deduplicator interface {
	IsDuplicate(ctx context.Context, cameraID, plate, raw string) (bool, error)
}

// IngestResult is the acknowledgment returned to the camera.
type IngestResult struct {
	EventID         int64          `json:"event_id,omitempty"`
	CameraID        string         `json:"camera_id"`
	Direction       string         `json:"direction,omitempty"`
	EventType       string         `json:"event_type,omitempty"`
	Plate           string         `json:"plate,omitempty"`
	PlateValid      bool           `json:"plate_valid"`
	Score           int            `json:"score"`
	Action          parking.Action `json:"action"`
	SessionID       int64          `json:"session_id,omitempty"`
	BarrierOpened   bool           `json:"barrier_opened"`
	PaymentRequired bool           `json:"payment_required"`
	Amount          string         `json:"amount,omitempty"`
	Message         string         `json:"message,omitempty"`
}

// CameraService turns raw camera payloads into session decisions.
type CameraService struct {
	recognizer *recognition.Recognizer
	dedup      Deduplicator
	events     EventStore
	sessions   *SessionService
	cameras    *Cameras
	retention  time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewCameraService(
	recognizer *recognition.Recognizer,
	dedup Deduplicator,
	events EventStore,
	sessions *SessionService,
	cameras *Cameras,
	retention time.Duration,
	log zerolog.Logger,
) *CameraService {
	return &CameraService{
		recognizer: recognizer,
		dedup:      dedup,
		events:     events,
		sessions:   sessions,
		cameras:    cameras,
		retention:  retention,
		now:        time.Now,
		log:        log,
	}
}

func (s *CameraService) WithClock(now func() time.Time) *CameraService {
	s.now = now
	return s
}

func (s *CameraService) Ingest(ctx context.Context, cameraID, raw string) (*IngestResult, error) {
	rec := s.recognizer.Recognize(raw)
	eventType := recognition.EventType(raw)

	res := &IngestResult{
		CameraID:   cameraID,
		EventType:  eventType,
		Plate:      rec.Plate,
		PlateValid: rec.Valid,
		Score:      rec.Score,
	}

	ev := &parking.CameraEvent{
		CameraID:   cameraID,
		EventType:  eventType,
		Plate:      rec.Plate,
		PlateValid: rec.Valid,
		PictureURL: recognition.PictureURL(raw),
		RawEvent:   utils.CleanText(raw),
		EventTime:  s.now(),
	}
	if err := s.events.CreateCameraEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("camera_id", cameraID).Msg("failed to store camera event")
	} else {
		res.EventID = ev.ID
	}

	cam, ok := s.cameras.Lookup(cameraID)
	if !ok {
		s.log.Warn().Str("camera_id", cameraID).Str("plate", rec.Plate).Msg("event from unknown camera")
		res.Action = parking.ActionUnknownCamera
		res.Message = "camera is not configured"
		return res, nil
	}
	res.Direction = cam.Role

	// heartbeats and non-ANPR notifications carry no vehicle
	if rec.Plate == "" && !strings.EqualFold(eventType, "ANPR") {
		res.Action = parking.ActionUnknownPlate
		res.Message = "no plate in event"
		return res, nil
	}

	if rec.Plate != "" && s.dedup != nil {
		dup, err := s.dedup.IsDuplicate(ctx, cameraID, rec.Plate, raw)
		if err != nil {
			s.log.Warn().Err(err).Str("camera_id", cameraID).Str("plate", rec.Plate).Msg("dedup check failed, processing event")
		} else if dup {
			res.Action = parking.ActionDuplicateIgnored
			return res, nil
		}
	}

	passage := Passage{
		Plate:      rec.Plate,
		PlateValid: rec.Valid,
		Camera:     cam,
		At:         ev.EventTime,
	}
	if ev.ID != 0 {
		id := ev.ID
		passage.EventID = &id
	}

	var out *Outcome
	var err error
	if cam.Role == string(parking.DirectionEntry) {
		out, err = s.sessions.Entry(ctx, passage)
	} else {
		out, err = s.sessions.Exit(ctx, passage)
	}
	if err != nil {
		s.log.Error().Err(err).Str("camera_id", cameraID).Str("plate", rec.Plate).Msg("failed to process passage")
		res.Action = parking.ActionError
		return res, err
	}

	res.Action = out.Action
	res.BarrierOpened = out.BarrierOpened
	res.PaymentRequired = out.PaymentRequired
	res.Message = out.Message
	if out.Session != nil {
		res.SessionID = out.Session.ID
	}
	if out.Fee != nil {
		res.Amount = out.Fee.Amount.StringFixed(2)
	}

	s.log.Info().
		Str("camera_id", cameraID).
		Str("plate", rec.Plate).
		Int("score", rec.Score).
		Str("action", string(res.Action)).
		Bool("barrier_opened", res.BarrierOpened).
		Msg("camera event processed")
	return res, nil
}

// CleanupEvents deletes camera events and dedup log rows past retention.
func (s *CameraService) CleanupEvents(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	deleted, err := s.events.DeleteEventsBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.log.Error().Err(err).Dur("retention", s.retention).Msg("failed to cleanup old events")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Dur("retention", s.retention).Msg("cleaned up old events")
	}
	return deleted, nil
}
