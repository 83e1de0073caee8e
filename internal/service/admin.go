package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"parking-service/internal/barrier"
	"parking-service/internal/domain/parking"
	"parking-service/internal/recognition"
	"parking-service/internal/utils"
)

const settingParkingMode = "parking_mode"

type AdminDeps interface {
	WhitelistStore
	TariffStore
	SettingsStore
}

// AdminService backs operator endpoints: parking mode, whitelist, tariffs and
// manual barrier control. It is also the ModeSource for sessions.
type AdminService struct {
	store       AdminDeps
	tariffs     TariffSource
	barrier     barrier.Actuator
	recognizer  *recognition.Recognizer
	defaultMode parking.Mode
	now         func() time.Time
	log         zerolog.Logger
}

func NewAdminService(
	store AdminDeps,
	tariffs TariffSource,
	gates barrier.Actuator,
	recognizer *recognition.Recognizer,
	defaultMode parking.Mode,
	log zerolog.Logger,
) *AdminService {
	if !defaultMode.Valid() {
		defaultMode = parking.ModePaid
	}
	return &AdminService{
		store:       store,
		tariffs:     tariffs,
		barrier:     gates,
		recognizer:  recognizer,
		defaultMode: defaultMode,
		now:         time.Now,
		log:         log,
	}
}

func (s *AdminService) Mode(ctx context.Context) parking.Mode {
	v, err := s.store.GetSetting(ctx, settingParkingMode)
	if err != nil {
		if !errors.Is(err, parking.ErrNotFound) {
			s.log.Warn().Err(err).Msg("failed to read parking mode, using default")
		}
		return s.defaultMode
	}
	if m := parking.Mode(v); m.Valid() {
		return m
	}
	return s.defaultMode
}

func (s *AdminService) SetMode(ctx context.Context, mode parking.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: mode must be paid or free", ErrInvalidInput)
	}
	if err := s.store.SetSetting(ctx, settingParkingMode, string(mode)); err != nil {
		return fmt.Errorf("failed to save parking mode: %w", err)
	}
	s.log.Info().Str("mode", string(mode)).Msg("parking mode changed")
	return nil
}

func (s *AdminService) ListWhitelist(ctx context.Context) ([]parking.WhitelistEntry, error) {
	return s.store.ListWhitelist(ctx)
}

func (s *AdminService) AddWhitelist(ctx context.Context, plate string, validFrom, validUntil *time.Time, comment string) (*parking.WhitelistEntry, error) {
	normalized := utils.NormalizePlate(plate)
	if s.recognizer != nil && !s.recognizer.Valid(normalized) {
		return nil, fmt.Errorf("%w: invalid plate %q", ErrInvalidInput, plate)
	}
	e := &parking.WhitelistEntry{Plate: normalized, ValidFrom: s.now(), ValidUntil: validUntil, Comment: comment}
	if validFrom != nil {
		e.ValidFrom = *validFrom
	}
	if e.ValidUntil != nil && e.ValidUntil.Before(e.ValidFrom) {
		return nil, fmt.Errorf("%w: valid_until is before valid_from", ErrInvalidInput)
	}
	if err := s.store.AddWhitelist(ctx, e); err != nil {
		if errors.Is(err, parking.ErrConflict) {
			return nil, fmt.Errorf("%w: plate %s already whitelisted", ErrInvalidInput, normalized)
		}
		return nil, fmt.Errorf("failed to add whitelist entry: %w", err)
	}
	s.log.Info().Str("plate", normalized).Msg("plate whitelisted")
	return e, nil
}

// UpdateWhitelist replaces plate, validity window and comment of an entry.
// A nil validFrom keeps the stored start.
func (s *AdminService) UpdateWhitelist(ctx context.Context, id int64, plate string, validFrom, validUntil *time.Time, comment string) (*parking.WhitelistEntry, error) {
	normalized := utils.NormalizePlate(plate)
	if s.recognizer != nil && !s.recognizer.Valid(normalized) {
		return nil, fmt.Errorf("%w: invalid plate %q", ErrInvalidInput, plate)
	}
	e, err := s.store.GetWhitelistEntry(ctx, id)
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return nil, fmt.Errorf("%w: whitelist entry %d", ErrNotFound, id)
		}
		return nil, err
	}
	e.Plate = normalized
	e.ValidUntil = validUntil
	e.Comment = comment
	if validFrom != nil {
		e.ValidFrom = *validFrom
	}
	if e.ValidUntil != nil && e.ValidUntil.Before(e.ValidFrom) {
		return nil, fmt.Errorf("%w: valid_until is before valid_from", ErrInvalidInput)
	}
	if err := s.store.UpdateWhitelist(ctx, e); err != nil {
		switch {
		case errors.Is(err, parking.ErrNotFound):
			return nil, fmt.Errorf("%w: whitelist entry %d", ErrNotFound, id)
		case errors.Is(err, parking.ErrConflict):
			return nil, fmt.Errorf("%w: plate %s already whitelisted", ErrInvalidInput, normalized)
		}
		return nil, fmt.Errorf("failed to update whitelist entry: %w", err)
	}
	s.log.Info().Int64("id", id).Str("plate", normalized).Msg("whitelist entry updated")
	return e, nil
}

func (s *AdminService) RemoveWhitelist(ctx context.Context, id int64) error {
	if err := s.store.DeleteWhitelist(ctx, id); err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return fmt.Errorf("%w: whitelist entry %d", ErrNotFound, id)
		}
		return err
	}
	return nil
}

func (s *AdminService) ListTariffs(ctx context.Context) ([]parking.Tariff, error) {
	return s.store.ListTariffs(ctx)
}

func (s *AdminService) ActiveTariff(ctx context.Context) parking.Tariff {
	return s.tariffs.Active(ctx, s.now())
}

func validateTariff(t *parking.Tariff) error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if t.HourlyRate.IsNegative() || t.NightRate.IsNegative() || t.FreeMinutes < 0 || t.MaxHours < 0 {
		return fmt.Errorf("%w: rates and limits must not be negative", ErrInvalidInput)
	}
	if t.ValidFrom != nil && t.ValidUntil != nil && t.ValidUntil.Before(*t.ValidFrom) {
		return fmt.Errorf("%w: valid_until is before valid_from", ErrInvalidInput)
	}
	t.HourlyRate = t.HourlyRate.Round(2)
	t.NightRate = t.NightRate.Round(2)
	if t.NightRate.Equal(decimal.Zero) {
		t.NightRate = t.HourlyRate
	}
	return nil
}

func (s *AdminService) CreateTariff(ctx context.Context, t *parking.Tariff) error {
	if err := validateTariff(t); err != nil {
		return err
	}
	active := t.IsActive
	t.IsActive = false
	if err := s.store.CreateTariff(ctx, t); err != nil {
		return fmt.Errorf("failed to create tariff: %w", err)
	}
	if active {
		if err := s.ActivateTariff(ctx, t.ID); err != nil {
			return err
		}
		t.IsActive = true
	}
	return nil
}

func (s *AdminService) UpdateTariff(ctx context.Context, t *parking.Tariff) error {
	if err := validateTariff(t); err != nil {
		return err
	}
	if err := s.store.UpdateTariff(ctx, t); err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return fmt.Errorf("%w: tariff %d", ErrNotFound, t.ID)
		}
		return fmt.Errorf("failed to update tariff: %w", err)
	}
	s.log.Info().Int64("tariff_id", t.ID).Msg("tariff updated")
	return nil
}

func (s *AdminService) DeleteTariff(ctx context.Context, id int64) error {
	err := s.store.DeleteTariff(ctx, id)
	switch {
	case err == nil:
		s.log.Info().Int64("tariff_id", id).Msg("tariff deleted")
		return nil
	case errors.Is(err, parking.ErrNotFound):
		return fmt.Errorf("%w: tariff %d", ErrNotFound, id)
	case errors.Is(err, parking.ErrConflict):
		return fmt.Errorf("%w: tariff %d is active", ErrInvalidInput, id)
	default:
		return fmt.Errorf("failed to delete tariff: %w", err)
	}
}

// ActivateTariff makes id the only active tariff.
func (s *AdminService) ActivateTariff(ctx context.Context, id int64) error {
	if err := s.store.ActivateTariff(ctx, id); err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return fmt.Errorf("%w: tariff %d", ErrNotFound, id)
		}
		return fmt.Errorf("failed to activate tariff: %w", err)
	}
	s.log.Info().Int64("tariff_id", id).Msg("tariff activated")
	return nil
}

type GateCommand string

const (
	GateOpen   GateCommand = "open"
	GateClose  GateCommand = "close"
	GateStatus GateCommand = "status"
)

// ControlGate runs a manual barrier command; ok is false when the device did
// not confirm.
func (s *AdminService) ControlGate(ctx context.Context, gate string, cmd GateCommand) (state string, ok bool, err error) {
	if s.barrier == nil {
		return barrier.StateUnknown, false, fmt.Errorf("%w: barrier control disabled", ErrNotFound)
	}
	switch cmd {
	case GateOpen:
		ok = s.barrier.Open(ctx, gate)
		state = string(cmd)
	case GateClose:
		ok = s.barrier.Close(ctx, gate)
		state = string(cmd)
	case GateStatus:
		state, ok = s.barrier.Status(ctx, gate)
	default:
		return "", false, fmt.Errorf("%w: unknown command %q", ErrInvalidInput, cmd)
	}
	s.log.Info().Str("gate", gate).Str("command", string(cmd)).Bool("ok", ok).Msg("manual barrier command")
	return state, ok, nil
}
