package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"parking-service/internal/domain/parking"
)

type RateType string

const (
	RateFree  RateType = "free"
	RateDay   RateType = "day"
	RateNight RateType = "night"
)

const (
	nightStartHour = 22
	nightEndHour   = 6
)

type Fee struct {
	DurationMinutes int             `json:"duration_minutes"`
	BillableHours   int             `json:"billable_hours"`
	Rate            decimal.Decimal `json:"rate"`
	RateType        RateType        `json:"rate_type"`
	Amount          decimal.Decimal `json:"amount"`
	FreeTime        bool            `json:"free_time"`
	Description     string          `json:"description"`
}

// Calculate bills the stay between entry and exit under tariff. Hours of day
// are read in loc.
//
// The night rate applies only when both the entry hour and the exit hour are in
// the night window; a stay that crosses into or out of it is billed at the day
// rate for every hour.
func Calculate(entry, exit time.Time, tariff parking.Tariff, loc *time.Location) Fee {
	if loc == nil {
		loc = time.UTC
	}

	minutes := 0
	if exit.After(entry) {
		minutes = int(exit.Sub(entry) / time.Minute)
	}

	if minutes <= tariff.FreeMinutes {
		return Fee{
			DurationMinutes: minutes,
			RateType:        RateFree,
			Amount:          decimal.Zero,
			Rate:            decimal.Zero,
			FreeTime:        true,
			Description:     fmt.Sprintf("free time (%d min)", minutes),
		}
	}

	billable := minutes - tariff.FreeMinutes
	hours := (billable + 59) / 60
	if hours < 1 {
		hours = 1
	}
	if tariff.MaxHours > 0 && hours > tariff.MaxHours {
		hours = tariff.MaxHours
	}

	rateType, rate := RateDay, tariff.HourlyRate
	if isNightHour(entry.In(loc).Hour()) && isNightHour(exit.In(loc).Hour()) {
		rateType, rate = RateNight, tariff.NightRate
	}

	amount := rate.Mul(decimal.NewFromInt(int64(hours))).Round(2)
	return Fee{
		DurationMinutes: minutes,
		BillableHours:   hours,
		Rate:            rate,
		RateType:        rateType,
		Amount:          amount,
		Description:     fmt.Sprintf("%d h × %s (%s)", hours, rate.StringFixed(2), rateType),
	}
}

func isNightHour(h int) bool {
	return h >= nightStartHour || h <= nightEndHour
}
