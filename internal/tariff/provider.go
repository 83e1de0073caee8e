package tariff

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
)

// Store returns the active tariff row or parking.ErrNotFound.
type Store interface {
	ActiveTariff(ctx context.Context) (*parking.Tariff, error)
}

// Provider resolves the fee schedule in effect, falling back to the configured
// defaults when no stored tariff is active or the store is unreachable.
type Provider struct {
	store    Store
	fallback parking.Tariff
	log      zerolog.Logger
}

func NewProvider(store Store, fallback parking.Tariff, log zerolog.Logger) *Provider {
	return &Provider{store: store, fallback: fallback, log: log}
}

func FromConfig(cfg config.TariffConfig) parking.Tariff {
	return parking.Tariff{
		Name:        "default",
		HourlyRate:  decimal.NewFromFloat(cfg.HourlyRate).Round(2),
		NightRate:   decimal.NewFromFloat(cfg.NightRate).Round(2),
		FreeMinutes: cfg.FreeMinutes,
		MaxHours:    cfg.MaxHours,
		IsActive:    true,
	}
}

func (p *Provider) Active(ctx context.Context, at time.Time) parking.Tariff {
	if p.store == nil {
		return p.fallback
	}
	t, err := p.store.ActiveTariff(ctx)
	switch {
	case errors.Is(err, parking.ErrNotFound):
		return p.fallback
	case err != nil:
		p.log.Warn().Err(err).Msg("failed to load active tariff, using defaults")
		return p.fallback
	}
	if !t.InEffect(at) {
		p.log.Debug().Int64("tariff_id", t.ID).Time("at", at).Msg("active tariff outside validity window, using defaults")
		return p.fallback
	}
	return *t
}

func (p *Provider) Fallback() parking.Tariff {
	return p.fallback
}
