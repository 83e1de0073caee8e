package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"parking-service/internal/bank"
	"parking-service/internal/barrier"
	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/events"
)

// PaymentProvider issues QR codes and reports payment status.
type PaymentProvider interface {
	GenerateQR(ctx context.Context, operationID string, amount decimal.Decimal) (*bank.QR, error)
	GetStatus(ctx context.Context, operationID string) (*bank.StatusResult, error)
}

type PaymentDeps interface {
	PaymentStore
	GetSession(ctx context.Context, id int64) (*parking.Session, error)
}

// PaymentService reconciles payment status from webhook, poll and manual
// signals. Every signal goes through converge, and only the transition into
// paid that claims the session's exit barrier actuates it.
type PaymentService struct {
	store    PaymentDeps
	provider PaymentProvider
	barrier  barrier.Actuator
	cameras  *Cameras
	events   events.Publisher
	cfg      config.PaymentConfig
	locks    *keyedMutex
	now      func() time.Time
	log      zerolog.Logger
}

func NewPaymentService(
	store PaymentDeps,
	provider PaymentProvider,
	gates barrier.Actuator,
	cameras *Cameras,
	pub events.Publisher,
	cfg config.PaymentConfig,
	log zerolog.Logger,
) *PaymentService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &PaymentService{
		store:    store,
		provider: provider,
		barrier:  gates,
		cameras:  cameras,
		events:   pub,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
		log:      log,
	}
}

func (s *PaymentService) WithClock(now func() time.Time) *PaymentService {
	s.now = now
	return s
}

// Issue returns the pending payment for the session, creating one with a fresh
// QR only when none exists.
func (s *PaymentService) Issue(ctx context.Context, sessionID int64) (*parking.Payment, error) {
	unlock := s.locks.Lock("session:" + strconv.FormatInt(sessionID, 10))
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %d", ErrNotFound, sessionID)
		}
		return nil, err
	}
	if sess.Status == parking.SessionActive {
		return nil, fmt.Errorf("%w: session %d has not exited", ErrInvalidInput, sessionID)
	}
	if sess.PaymentReceived || !sess.CostAmount.IsPositive() {
		return nil, fmt.Errorf("%w: session %d", ErrPaymentNotRequired, sessionID)
	}

	existing, err := s.store.PendingPayment(ctx, sessionID)
	if err == nil {
		s.log.Debug().Int64("payment_id", existing.ID).Int64("session_id", sessionID).Msg("reusing pending payment")
		return existing, nil
	}
	if !errors.Is(err, parking.ErrNotFound) {
		return nil, fmt.Errorf("failed to load pending payment: %w", err)
	}

	if s.provider == nil {
		return nil, ErrPaymentUnavailable
	}
	localID := uuid.NewString()
	qr, err := s.provider.GenerateQR(ctx, localID, sess.CostAmount)
	if err != nil {
		s.log.Error().Err(err).Int64("session_id", sessionID).Msg("qr generation failed")
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	p := &parking.Payment{
		SessionID:   sess.ID,
		Plate:       sess.Plate,
		Amount:      sess.CostAmount,
		OperationID: localID,
		QRImage:     qr.QRImage,
		Status:      parking.PaymentPending,
		Identifiers: []parking.PaymentIdentifier{
			{Kind: parking.IdentifierLocal, Value: localID},
			{Kind: parking.IdentifierBank, Value: orDefault(qr.BankOperationID, localID)},
			{Kind: parking.IdentifierTransaction, Value: orDefault(qr.TransactionID, localID)},
		},
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, parking.ErrConflict) {
			// another instance issued first
			if winner, getErr := s.store.PendingPayment(ctx, sessionID); getErr == nil {
				return winner, nil
			}
		}
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}

	s.log.Info().
		Int64("payment_id", p.ID).
		Int64("session_id", sess.ID).
		Str("operation_id", localID).
		Str("amount", p.Amount.StringFixed(2)).
		Msg("payment issued")
	return p, nil
}

// Webhook applies a provider push. Unknown statuses are stored verbatim and
// leave the payment pending.
func (s *PaymentService) Webhook(ctx context.Context, payload map[string]interface{}) (*parking.Payment, error) {
	n := bank.ParseNotification(payload)
	if len(n.IDs) == 0 {
		return nil, fmt.Errorf("%w: notification carries no payment identifier", ErrInvalidInput)
	}

	p, err := s.find(ctx, n.IDs...)
	if err != nil {
		s.log.Warn().Strs("identifiers", n.IDs).Str("status", n.RawStatus).Msg("webhook for unknown payment")
		return nil, err
	}

	s.log.Info().
		Int64("payment_id", p.ID).
		Str("provider_status", n.RawStatus).
		Str("status", string(n.Status)).
		Msg("payment webhook received")
	return s.converge(ctx, p, transition(n.Status, n.RawStatus, parking.SourceWebhook, payload, s.now()))
}

// Poll queries the provider for a payment. When the provider fails or answers
// ambiguously the last known local status is returned.
func (s *PaymentService) Poll(ctx context.Context, operationID string) (*parking.Payment, error) {
	p, err := s.find(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if p.Status.Final() || s.provider == nil {
		return p, nil
	}

	res, err := s.provider.GetStatus(ctx, p.Identifier(parking.IdentifierBank))
	if err != nil {
		s.log.Warn().Err(err).Int64("payment_id", p.ID).Msg("provider status unavailable, using local status")
		return p, nil
	}
	if res.Status == bank.StatusPending && res.RawStatus == p.ProviderStatus {
		return p, nil
	}
	if res.Status == bank.StatusUnknown && res.RawStatus == "" {
		return p, nil
	}
	return s.converge(ctx, p, transition(res.Status, res.RawStatus, parking.SourcePoll, res.Raw, s.now()))
}

// Confirm is the administrator override forcing a payment to paid.
func (s *PaymentService) Confirm(ctx context.Context, operationID, by string) (*parking.Payment, error) {
	p, err := s.find(ctx, operationID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("payment_id", p.ID).Str("by", by).Msg("manual payment confirmation")
	raw := map[string]interface{}{"confirmed_by": by}
	return s.converge(ctx, p, transition(bank.StatusPaid, "manual", parking.SourceManual, raw, s.now()))
}

func (s *PaymentService) Get(ctx context.Context, operationID string) (*parking.Payment, error) {
	return s.find(ctx, operationID)
}

// PollPending polls a batch of pending payments old enough for the webhook to
// have been missed. It returns how many reached a final status.
func (s *PaymentService) PollPending(ctx context.Context) (int, error) {
	batch := s.cfg.PollBatch
	if batch <= 0 {
		batch = 50
	}
	pending, err := s.store.StalePendingPayments(ctx, s.now().Add(-s.cfg.PollMinAge), batch)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending payments: %w", err)
	}

	settled := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		got, err := s.Poll(ctx, p.OperationID)
		if err != nil {
			s.log.Warn().Err(err).Int64("payment_id", p.ID).Msg("payment poll failed")
			continue
		}
		if got.Status.Final() {
			settled++
		}
	}
	return settled, nil
}

func (s *PaymentService) converge(ctx context.Context, p *parking.Payment, t parking.PaymentTransition) (*parking.Payment, error) {
	unlock := s.locks.Lock("payment:" + strconv.FormatInt(p.ID, 10))
	defer unlock()

	res, err := s.store.ApplyPaymentTransition(ctx, p.ID, t)
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return nil, fmt.Errorf("%w: payment %d", ErrNotFound, p.ID)
		}
		return nil, fmt.Errorf("failed to apply payment transition: %w", err)
	}

	if !res.Changed {
		return &res.Payment, nil
	}

	switch res.Payment.Status {
	case parking.PaymentPaid:
		s.log.Info().
			Int64("payment_id", res.Payment.ID).
			Int64("session_id", res.Payment.SessionID).
			Str("source", string(t.Source)).
			Msg("payment paid")
		if res.Session == nil {
			s.log.Error().Int64("payment_id", res.Payment.ID).Msg("paid payment has no session")
		}
		if res.ClaimedExitBarrier && res.Session != nil {
			s.releaseExit(ctx, res.Session)
		}
		s.publish(ctx, events.TypePaymentPaid, &res.Payment)
	case parking.PaymentFailed:
		s.log.Warn().
			Int64("payment_id", res.Payment.ID).
			Str("provider_status", t.ProviderStatus).
			Str("source", string(t.Source)).
			Msg("payment failed")
		s.publish(ctx, events.TypePaymentFailed, &res.Payment)
	}
	return &res.Payment, nil
}

// releaseExit runs once per session, for the caller that claimed the flag.
// Only sessions that left through an exit camera have a gate to release.
// A failed actuation keeps the flag set; operators open the gate by hand.
func (s *PaymentService) releaseExit(ctx context.Context, sess *parking.Session) {
	gate := ""
	if s.cameras != nil {
		gate = s.cameras.ExitGate(sess.ExitCamera)
	}
	if gate == "" || s.barrier == nil {
		s.log.Info().Int64("session_id", sess.ID).Str("status", string(sess.Status)).Msg("paid session has no exit passage, barrier left closed")
		return
	}
	if !s.barrier.Open(ctx, gate) {
		s.log.Error().Int64("session_id", sess.ID).Str("gate", gate).Msg("failed to open exit barrier after payment")
		return
	}
	s.log.Info().Int64("session_id", sess.ID).Str("gate", gate).Msg("exit barrier opened after payment")
}

func (s *PaymentService) find(ctx context.Context, ids ...string) (*parking.Payment, error) {
	var clean []string
	for _, id := range ids {
		if id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%w: operation id is required", ErrInvalidInput)
	}
	p, err := s.store.FindPayment(ctx, clean...)
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return nil, fmt.Errorf("%w: payment %s", ErrNotFound, clean[0])
		}
		return nil, err
	}
	return p, nil
}

func (s *PaymentService) publish(ctx context.Context, typ string, p *parking.Payment) {
	amount := p.Amount
	err := s.events.Publish(ctx, events.Event{
		Type:        typ,
		OccurredAt:  s.now(),
		SessionID:   p.SessionID,
		Plate:       p.Plate,
		PaymentID:   p.ID,
		OperationID: p.OperationID,
		Amount:      &amount,
		Status:      string(p.Status),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("failed to publish event")
	}
}

func transition(status bank.Status, raw string, src parking.Source, payload map[string]interface{}, at time.Time) parking.PaymentTransition {
	t := parking.PaymentTransition{Source: src, ProviderStatus: raw, Raw: payload, At: at}
	switch status {
	case bank.StatusPaid:
		t.Status = parking.PaymentPaid
	case bank.StatusFailed:
		t.Status = parking.PaymentFailed
	default:
		t.Status = parking.PaymentPending
	}
	return t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
