package parking

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionTimeout   SessionStatus = "timeout"
	SessionManual    SessionStatus = "manual"
)

type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// Action is the parking decision reported back to the camera.
type Action string

const (
	ActionEntry               Action = "entry"
	ActionDuplicateEntry      Action = "duplicate_entry"
	ActionWhitelistEntry      Action = "whitelist_entry"
	ActionExit                Action = "exit"
	ActionExitPaymentRequired Action = "exit_payment_required"
	ActionExitWithoutEntry    Action = "exit_without_entry"
	ActionWhitelistExit       Action = "whitelist_exit"
	ActionDuplicateIgnored    Action = "duplicate_ignored"
	ActionUnknownPlate        Action = "unknown_plate"
	ActionUnknownCamera       Action = "unknown_camera"
	ActionError               Action = "error"
)

type Mode string

const (
	ModePaid Mode = "paid"
	ModeFree Mode = "free"
)

func (m Mode) Valid() bool {
	return m == ModePaid || m == ModeFree
}

type Session struct {
	ID                 int64           `json:"id"`
	Plate              string          `json:"plate"`
	EntryTime          time.Time       `json:"entry_time"`
	ExitTime           *time.Time      `json:"exit_time,omitempty"`
	DurationMinutes    *int            `json:"duration_minutes,omitempty"`
	CostAmount         decimal.Decimal `json:"cost_amount"`
	CostDescription    string          `json:"cost_description,omitempty"`
	Status             SessionStatus   `json:"status"`
	EntryCamera        string          `json:"entry_camera,omitempty"`
	ExitCamera         string          `json:"exit_camera,omitempty"`
	EntryEventID       *int64          `json:"entry_event_id,omitempty"`
	ExitEventID        *int64          `json:"exit_event_id,omitempty"`
	EntryBarrierOpened bool            `json:"entry_barrier_opened"`
	ExitBarrierOpened  bool            `json:"exit_barrier_opened"`
	PaymentReceived    bool            `json:"payment_received"`
	Whitelisted        bool            `json:"whitelisted"`
	Notes              string          `json:"notes,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SessionClose carries the fields written when an active session leaves the active state.
type SessionClose struct {
	Status            SessionStatus
	ExitTime          time.Time
	DurationMinutes   int
	CostAmount        decimal.Decimal
	CostDescription   string
	ExitCamera        string
	ExitEventID       *int64
	ExitBarrierOpened bool
	PaymentReceived   bool
	Notes             string
}

type SessionFilter struct {
	Plate  string
	Status SessionStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type Tariff struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	HourlyRate  decimal.Decimal `json:"hourly_rate"`
	NightRate   decimal.Decimal `json:"night_rate"`
	FreeMinutes int             `json:"free_minutes"`
	MaxHours    int             `json:"max_hours"`
	IsActive    bool            `json:"is_active"`
	ValidFrom   *time.Time      `json:"valid_from,omitempty"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// InEffect reports whether the tariff validity window contains t.
func (t Tariff) InEffect(at time.Time) bool {
	if t.ValidFrom != nil && at.Before(*t.ValidFrom) {
		return false
	}
	if t.ValidUntil != nil && at.After(*t.ValidUntil) {
		return false
	}
	return true
}

type WhitelistEntry struct {
	ID         int64      `json:"id"`
	Plate      string     `json:"plate"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (w WhitelistEntry) Covers(at time.Time) bool {
	if at.Before(w.ValidFrom) {
		return false
	}
	return w.ValidUntil == nil || !at.After(*w.ValidUntil)
}

// CameraEvent is the audit record of one accepted camera request.
type CameraEvent struct {
	ID         int64     `json:"id"`
	CameraID   string    `json:"camera_id"`
	EventType  string    `json:"event_type"`
	Plate      string    `json:"plate"`
	PlateValid bool      `json:"plate_valid"`
	PictureURL string    `json:"picture_url,omitempty"`
	RawEvent   string    `json:"-"`
	EventTime  time.Time `json:"event_time"`
}
