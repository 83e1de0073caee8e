package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"parking-service/internal/barrier"
	"parking-service/internal/billing"
	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/events"
	"parking-service/internal/utils"
)

type ModeSource interface {
	Mode(ctx context.Context) parking.Mode
}

type SessionDeps interface {
	SessionStore
	WhitelistStore
}

// Passage is one recognized vehicle at a camera.
type Passage struct {
	Plate      string
	PlateValid bool
	Camera     config.CameraConfig
	EventID    *int64
	At         time.Time
}

// Outcome is what the state machine decided for a passage.
type Outcome struct {
	Action          parking.Action   `json:"action"`
	Session         *parking.Session `json:"session,omitempty"`
	Fee             *billing.Fee     `json:"fee,omitempty"`
	BarrierOpened   bool             `json:"barrier_opened"`
	PaymentRequired bool             `json:"payment_required"`
	Message         string           `json:"message,omitempty"`
}

// SessionService owns the parking session lifecycle:
// active -> completed | timeout | manual.
type SessionService struct {
	store   SessionDeps
	tariffs TariffSource
	mode    ModeSource
	barrier barrier.Actuator
	events  events.Publisher
	cfg     config.ParkingConfig
	loc     *time.Location
	locks   *keyedMutex
	now     func() time.Time
	log     zerolog.Logger
}

func NewSessionService(
	store SessionDeps,
	tariffs TariffSource,
	mode ModeSource,
	gates barrier.Actuator,
	pub events.Publisher,
	cfg config.ParkingConfig,
	loc *time.Location,
	log zerolog.Logger,
) *SessionService {
	if loc == nil {
		loc = time.UTC
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &SessionService{
		store:   store,
		tariffs: tariffs,
		mode:    mode,
		barrier: gates,
		events:  pub,
		cfg:     cfg,
		loc:     loc,
		locks:   newKeyedMutex(),
		now:     time.Now,
		log:     log,
	}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

func (s *SessionService) Entry(ctx context.Context, p Passage) (*Outcome, error) {
	if !p.PlateValid {
		return s.failOpen(ctx, p), nil
	}
	unlock := s.locks.Lock(p.Plate)
	defer unlock()

	now := s.at(p)
	s.sweep(ctx, now)
	whitelisted := s.whitelisted(ctx, p.Plate, now)

	active, err := s.activeSession(ctx, p.Plate)
	if err != nil {
		return nil, err
	}
	if active != nil {
		age := now.Sub(active.EntryTime)
		if age < s.cfg.DuplicateEntryGrace {
			s.log.Info().
				Str("plate", p.Plate).
				Int64("session_id", active.ID).
				Dur("age", age).
				Msg("duplicate entry for active session")
			return s.duplicateEntry(ctx, p, active), nil
		}
		if err := s.closeStale(ctx, active, now); err != nil {
			return nil, err
		}
	}

	sess := &parking.Session{
		Plate:        p.Plate,
		EntryTime:    now,
		CostAmount:   decimal.Zero,
		Status:       parking.SessionActive,
		EntryCamera:  p.Camera.ID,
		EntryEventID: p.EventID,
		Whitelisted:  whitelisted,
	}
	if whitelisted {
		sess.Notes = "whitelist"
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, parking.ErrConflict) {
			current, getErr := s.activeSession(ctx, p.Plate)
			if getErr == nil && current != nil {
				return s.duplicateEntry(ctx, p, current), nil
			}
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	opened := s.openGate(ctx, p.Camera.Gate)
	if opened {
		s.markOpened(ctx, sess, parking.DirectionEntry)
	}

	action := parking.ActionEntry
	if whitelisted {
		action = parking.ActionWhitelistEntry
	}
	s.log.Info().
		Int64("session_id", sess.ID).
		Str("plate", p.Plate).
		Str("camera_id", p.Camera.ID).
		Bool("whitelisted", whitelisted).
		Bool("barrier_opened", opened).
		Msg("session opened")
	s.publish(ctx, events.Event{
		Type:       events.TypeSessionEntry,
		OccurredAt: now,
		SessionID:  sess.ID,
		Plate:      p.Plate,
		Camera:     p.Camera.ID,
	})

	return &Outcome{Action: action, Session: sess, BarrierOpened: opened}, nil
}

func (s *SessionService) Exit(ctx context.Context, p Passage) (*Outcome, error) {
	if !p.PlateValid {
		return s.failOpen(ctx, p), nil
	}
	unlock := s.locks.Lock(p.Plate)
	defer unlock()

	now := s.at(p)
	s.sweep(ctx, now)
	whitelisted := s.whitelisted(ctx, p.Plate, now)

	active, err := s.activeSession(ctx, p.Plate)
	if err != nil {
		return nil, err
	}

	if whitelisted {
		return s.whitelistExit(ctx, p, active, now)
	}
	if active == nil {
		return s.exitWithoutEntry(ctx, p, now, false)
	}

	tariff := s.tariffs.Active(ctx, active.EntryTime)
	fee := billing.Calculate(active.EntryTime, now, tariff, s.loc)
	mode := s.currentMode(ctx)
	if mode == parking.ModeFree {
		fee.Amount = decimal.Zero
		fee.Description = "free mode"
	}
	paymentRequired := mode == parking.ModePaid &&
		s.cfg.PaymentEnabled &&
		p.Camera.PaymentPoint &&
		fee.Amount.IsPositive()

	closed, err := s.store.CloseSession(ctx, active.ID, parking.SessionClose{
		Status:          parking.SessionCompleted,
		ExitTime:        now,
		DurationMinutes: fee.DurationMinutes,
		CostAmount:      fee.Amount,
		CostDescription: fee.Description,
		ExitCamera:      p.Camera.ID,
		ExitEventID:     p.EventID,
		PaymentReceived: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close session %d: %w", active.ID, err)
	}
	if !closed {
		s.log.Info().Int64("session_id", active.ID).Str("plate", p.Plate).Msg("session already closed by a concurrent exit")
		return &Outcome{Action: parking.ActionDuplicateIgnored, Message: "session already closed"}, nil
	}

	sess, err := s.store.GetSession(ctx, active.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session %d: %w", active.ID, err)
	}

	log := s.log.Info().
		Int64("session_id", sess.ID).
		Str("plate", p.Plate).
		Str("duration", utils.FormatDuration(fee.DurationMinutes)).
		Str("cost", fee.Amount.StringFixed(2)).
		Str("rate", string(fee.RateType))

	if paymentRequired {
		log.Bool("payment_required", true).Msg("session completed, awaiting payment")
		amount := fee.Amount
		s.publish(ctx, events.Event{
			Type:       events.TypePaymentRequired,
			OccurredAt: now,
			SessionID:  sess.ID,
			Plate:      p.Plate,
			Amount:     &amount,
			Camera:     p.Camera.ID,
		})
		return &Outcome{
			Action:          parking.ActionExitPaymentRequired,
			Session:         sess,
			Fee:             &fee,
			PaymentRequired: true,
		}, nil
	}

	opened := s.openGate(ctx, p.Camera.Gate)
	if opened {
		s.markOpened(ctx, sess, parking.DirectionExit)
	}
	log.Bool("barrier_opened", opened).Msg("session completed")
	s.publishExit(ctx, sess, now)
	return &Outcome{Action: parking.ActionExit, Session: sess, Fee: &fee, BarrierOpened: opened}, nil
}

// SweepTimeouts closes every active session older than the session timeout.
func (s *SessionService) SweepTimeouts(ctx context.Context) (int, error) {
	return s.sweepAt(ctx, s.now())
}

// ForceClose ends an active session as manual, billed up to now.
func (s *SessionService) ForceClose(ctx context.Context, id int64, note string) (*parking.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %d", ErrNotFound, id)
		}
		return nil, err
	}
	if sess.Status != parking.SessionActive {
		return nil, fmt.Errorf("%w: session %d is %s", ErrSessionNotActive, id, sess.Status)
	}

	unlock := s.locks.Lock(sess.Plate)
	defer unlock()

	now := s.now()
	fee := s.feeFor(ctx, sess, now)
	if note == "" {
		note = "closed manually"
	}
	closed, err := s.store.CloseSession(ctx, id, parking.SessionClose{
		Status:          parking.SessionManual,
		ExitTime:        now,
		DurationMinutes: fee.DurationMinutes,
		CostAmount:      fee.Amount,
		CostDescription: fee.Description,
		Notes:           note,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close session %d: %w", id, err)
	}
	if !closed {
		return nil, fmt.Errorf("%w: session %d", ErrSessionNotActive, id)
	}
	s.log.Info().Int64("session_id", id).Str("plate", sess.Plate).Str("note", note).Msg("session closed manually")
	return s.store.GetSession(ctx, id)
}

func (s *SessionService) Get(ctx context.Context, id int64) (*parking.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, parking.ErrNotFound) {
		return nil, fmt.Errorf("%w: session %d", ErrNotFound, id)
	}
	return sess, err
}

func (s *SessionService) List(ctx context.Context, f parking.SessionFilter) ([]parking.Session, error) {
	if f.Plate != "" {
		f.Plate = utils.NormalizePlate(f.Plate)
	}
	switch f.Status {
	case "", parking.SessionActive, parking.SessionCompleted, parking.SessionTimeout, parking.SessionManual:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	sessions, err := s.store.ListSessions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionService) failOpen(ctx context.Context, p Passage) *Outcome {
	out := &Outcome{Action: parking.ActionUnknownPlate, Message: "plate not recognized"}
	if !s.cfg.FailOpenUnrecognized {
		return out
	}
	out.BarrierOpened = s.openGate(ctx, p.Camera.Gate)
	s.log.Warn().
		Str("camera_id", p.Camera.ID).
		Str("candidate", p.Plate).
		Bool("barrier_opened", out.BarrierOpened).
		Msg("unrecognized plate, letting vehicle through")
	return out
}

func (s *SessionService) duplicateEntry(ctx context.Context, p Passage, active *parking.Session) *Outcome {
	opened := s.openGate(ctx, p.Camera.Gate)
	return &Outcome{
		Action:        parking.ActionDuplicateEntry,
		Session:       active,
		BarrierOpened: opened,
		Message:       "vehicle already inside",
	}
}

func (s *SessionService) closeStale(ctx context.Context, active *parking.Session, now time.Time) error {
	fee := s.feeFor(ctx, active, now)
	_, err := s.store.CloseSession(ctx, active.ID, parking.SessionClose{
		Status:          parking.SessionManual,
		ExitTime:        now,
		DurationMinutes: fee.DurationMinutes,
		CostAmount:      fee.Amount,
		CostDescription: fee.Description,
		Notes:           "closed by new entry",
	})
	if err != nil {
		return fmt.Errorf("failed to close stale session %d: %w", active.ID, err)
	}
	s.log.Warn().
		Int64("session_id", active.ID).
		Str("plate", active.Plate).
		Time("entry_time", active.EntryTime).
		Msg("stale session force-closed by new entry")
	return nil
}

func (s *SessionService) whitelistExit(ctx context.Context, p Passage, active *parking.Session, now time.Time) (*Outcome, error) {
	if active == nil {
		out, err := s.exitWithoutEntry(ctx, p, now, true)
		if err != nil {
			return nil, err
		}
		out.Action = parking.ActionWhitelistExit
		return out, nil
	}

	duration := int(now.Sub(active.EntryTime) / time.Minute)
	if _, err := s.store.CloseSession(ctx, active.ID, parking.SessionClose{
		Status:          parking.SessionCompleted,
		ExitTime:        now,
		DurationMinutes: duration,
		CostAmount:      decimal.Zero,
		CostDescription: "whitelist",
		ExitCamera:      p.Camera.ID,
		ExitEventID:     p.EventID,
	}); err != nil {
		return nil, fmt.Errorf("failed to close session %d: %w", active.ID, err)
	}

	sess, err := s.store.GetSession(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	opened := s.openGate(ctx, p.Camera.Gate)
	if opened {
		s.markOpened(ctx, sess, parking.DirectionExit)
	}
	s.log.Info().Int64("session_id", sess.ID).Str("plate", p.Plate).Msg("whitelisted vehicle left")
	s.publishExit(ctx, sess, now)
	return &Outcome{Action: parking.ActionWhitelistExit, Session: sess, BarrierOpened: opened}, nil
}

// exitWithoutEntry records a zero-length manual session so the exit is audited.
func (s *SessionService) exitWithoutEntry(ctx context.Context, p Passage, now time.Time, whitelisted bool) (*Outcome, error) {
	zero := 0
	exit := now
	sess := &parking.Session{
		Plate:           p.Plate,
		EntryTime:       now,
		ExitTime:        &exit,
		DurationMinutes: &zero,
		CostAmount:      decimal.Zero,
		CostDescription: "exit without entry",
		Status:          parking.SessionManual,
		ExitCamera:      p.Camera.ID,
		ExitEventID:     p.EventID,
		Whitelisted:     whitelisted,
		Notes:           "exit without entry",
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to record exit without entry: %w", err)
	}

	opened := s.openGate(ctx, p.Camera.Gate)
	if opened {
		s.markOpened(ctx, sess, parking.DirectionExit)
	}
	s.log.Warn().
		Int64("session_id", sess.ID).
		Str("plate", p.Plate).
		Str("camera_id", p.Camera.ID).
		Bool("barrier_opened", opened).
		Msg("exit without entry")
	s.publishExit(ctx, sess, now)
	return &Outcome{Action: parking.ActionExitWithoutEntry, Session: sess, BarrierOpened: opened}, nil
}

func (s *SessionService) sweep(ctx context.Context, now time.Time) {
	if _, err := s.sweepAt(ctx, now); err != nil {
		s.log.Warn().Err(err).Msg("timeout sweep failed")
	}
}

// sweepAt bills timed out sessions up to the timeout boundary, not up to now.
func (s *SessionService) sweepAt(ctx context.Context, now time.Time) (int, error) {
	if s.cfg.SessionTimeout <= 0 {
		return 0, nil
	}
	expired, err := s.store.ExpiredSessions(ctx, now.Add(-s.cfg.SessionTimeout))
	if err != nil {
		return 0, fmt.Errorf("failed to load expired sessions: %w", err)
	}

	closed := 0
	for i := range expired {
		sess := &expired[i]
		boundary := sess.EntryTime.Add(s.cfg.SessionTimeout)
		fee := s.feeFor(ctx, sess, boundary)
		ok, err := s.store.CloseSession(ctx, sess.ID, parking.SessionClose{
			Status:          parking.SessionTimeout,
			ExitTime:        boundary,
			DurationMinutes: fee.DurationMinutes,
			CostAmount:      fee.Amount,
			CostDescription: fee.Description + " (timeout)",
			Notes:           "closed by timeout",
		})
		if err != nil {
			s.log.Error().Err(err).Int64("session_id", sess.ID).Msg("failed to close timed out session")
			continue
		}
		if ok {
			closed++
			s.log.Info().
				Int64("session_id", sess.ID).
				Str("plate", sess.Plate).
				Time("entry_time", sess.EntryTime).
				Msg("session timed out")
		}
	}
	return closed, nil
}

func (s *SessionService) feeFor(ctx context.Context, sess *parking.Session, exit time.Time) billing.Fee {
	tariff := s.tariffs.Active(ctx, sess.EntryTime)
	fee := billing.Calculate(sess.EntryTime, exit, tariff, s.loc)
	if sess.Whitelisted {
		fee.Amount = decimal.Zero
		fee.Description = "whitelist"
	}
	return fee
}

func (s *SessionService) activeSession(ctx context.Context, plate string) (*parking.Session, error) {
	sess, err := s.store.ActiveSession(ctx, plate)
	if errors.Is(err, parking.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	return sess, nil
}

func (s *SessionService) whitelisted(ctx context.Context, plate string, at time.Time) bool {
	_, err := s.store.ActiveWhitelistEntry(ctx, plate, at)
	if err == nil {
		return true
	}
	if !errors.Is(err, parking.ErrNotFound) {
		s.log.Warn().Err(err).Str("plate", plate).Msg("whitelist lookup failed")
	}
	return false
}

func (s *SessionService) currentMode(ctx context.Context) parking.Mode {
	if s.mode == nil {
		return parking.ModePaid
	}
	return s.mode.Mode(ctx)
}

func (s *SessionService) openGate(ctx context.Context, gate string) bool {
	if gate == "" || s.barrier == nil {
		return false
	}
	return s.barrier.Open(ctx, gate)
}

func (s *SessionService) markOpened(ctx context.Context, sess *parking.Session, dir parking.Direction) {
	if err := s.store.MarkBarrierOpened(ctx, sess.ID, dir); err != nil {
		s.log.Warn().Err(err).Int64("session_id", sess.ID).Str("direction", string(dir)).Msg("failed to record barrier opening")
		return
	}
	if dir == parking.DirectionEntry {
		sess.EntryBarrierOpened = true
	} else {
		sess.ExitBarrierOpened = true
	}
}

func (s *SessionService) publishExit(ctx context.Context, sess *parking.Session, at time.Time) {
	amount := sess.CostAmount
	s.publish(ctx, events.Event{
		Type:       events.TypeSessionExit,
		OccurredAt: at,
		SessionID:  sess.ID,
		Plate:      sess.Plate,
		Amount:     &amount,
		Camera:     sess.ExitCamera,
		Status:     string(sess.Status),
	})
}

func (s *SessionService) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn().Err(err).Str("type", e.Type).Msg("failed to publish event")
	}
}

func (s *SessionService) at(p Passage) time.Time {
	if !p.At.IsZero() {
		return p.At
	}
	return s.now()
}
