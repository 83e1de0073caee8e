// Package testutil holds in-memory collaborators shared by package tests.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"parking-service/internal/domain/parking"
)

// MemoryStore mirrors the repository's semantics, including the partial
// unique constraints and the conditional session close.
type MemoryStore struct {
	mu sync.Mutex

	nextID      int64
	sessions    map[int64]*parking.Session
	payments    map[int64]*parking.Payment
	whitelist   map[int64]*parking.WhitelistEntry
	tariffs     map[int64]*parking.Tariff
	settings    map[string]string
	events      []parking.CameraEvent
	eventHashes map[string]time.Time

	// Err, when set, is returned by every call.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[int64]*parking.Session),
		payments:    make(map[int64]*parking.Payment),
		whitelist:   make(map[int64]*parking.WhitelistEntry),
		tariffs:     make(map[int64]*parking.Tariff),
		settings:    make(map[string]string),
		eventHashes: make(map[string]time.Time),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) ActiveSession(_ context.Context, plate string) (*parking.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, s := range m.sessions {
		if s.Plate == plate && s.Status == parking.SessionActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, parking.ErrNotFound
}

func (m *MemoryStore) GetSession(_ context.Context, id int64) (*parking.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, parking.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *parking.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if s.Status == parking.SessionActive {
		for _, other := range m.sessions {
			if other.Plate == s.Plate && other.Status == parking.SessionActive {
				return parking.ErrConflict
			}
		}
	}
	s.ID = m.id()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) CloseSession(_ context.Context, id int64, c parking.SessionClose) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	s, ok := m.sessions[id]
	if !ok || s.Status != parking.SessionActive {
		return false, nil
	}
	exit := c.ExitTime
	duration := c.DurationMinutes
	s.Status = c.Status
	s.ExitTime = &exit
	s.DurationMinutes = &duration
	s.CostAmount = c.CostAmount
	s.CostDescription = c.CostDescription
	s.ExitCamera = c.ExitCamera
	s.ExitEventID = c.ExitEventID
	s.ExitBarrierOpened = c.ExitBarrierOpened
	s.PaymentReceived = c.PaymentReceived
	if c.Notes != "" {
		s.Notes = c.Notes
	}
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkBarrierOpened(_ context.Context, id int64, dir parking.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	s, ok := m.sessions[id]
	if !ok {
		return parking.ErrNotFound
	}
	if dir == parking.DirectionEntry {
		s.EntryBarrierOpened = true
	} else {
		s.ExitBarrierOpened = true
	}
	return nil
}

func (m *MemoryStore) ExpiredSessions(_ context.Context, enteredBefore time.Time) ([]parking.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []parking.Session
	for _, s := range m.sessions {
		if s.Status == parking.SessionActive && s.EntryTime.Before(enteredBefore) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f parking.SessionFilter) ([]parking.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []parking.Session
	for _, s := range m.sessions {
		if f.Plate != "" && s.Plate != f.Plate {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.From != nil && s.EntryTime.Before(*f.From) {
			continue
		}
		if f.To != nil && s.EntryTime.After(*f.To) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].EntryTime.After(out[j].EntryTime)
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Sessions returns every stored session ordered by id.
func (m *MemoryStore) Sessions() []parking.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]parking.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutSession stores s as is, assigning an id when missing.
func (m *MemoryStore) PutSession(s parking.Session) parking.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	cp := s
	m.sessions[s.ID] = &cp
	return s
}

func (m *MemoryStore) PendingPayment(_ context.Context, sessionID int64) (*parking.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, p := range m.payments {
		if p.SessionID == sessionID && p.Status == parking.PaymentPending {
			cp := copyPayment(p)
			return &cp, nil
		}
	}
	return nil, parking.ErrNotFound
}

func (m *MemoryStore) CreatePayment(_ context.Context, p *parking.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, other := range m.payments {
		if other.SessionID == p.SessionID && other.Status == parking.PaymentPending {
			return parking.ErrConflict
		}
	}
	p.ID = m.id()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := copyPayment(p)
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) FindPayment(_ context.Context, identifiers ...string) (*parking.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var found *parking.Payment
	for _, p := range m.payments {
		if !matchesAny(p, identifiers) {
			continue
		}
		if found == nil || p.ID > found.ID {
			found = p
		}
	}
	if found == nil {
		return nil, parking.ErrNotFound
	}
	cp := copyPayment(found)
	return &cp, nil
}

func matchesAny(p *parking.Payment, identifiers []string) bool {
	for _, want := range identifiers {
		if p.OperationID == want {
			return true
		}
		for _, id := range p.Identifiers {
			if id.Value == want {
				return true
			}
		}
	}
	return false
}

func (m *MemoryStore) ApplyPaymentTransition(_ context.Context, paymentID int64, t parking.PaymentTransition) (*parking.TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, parking.ErrNotFound
	}
	res := &parking.TransitionResult{}
	if sess, ok := m.sessions[p.SessionID]; ok {
		cp := *sess
		res.Session = &cp
	}
	if p.Status.Final() {
		res.Payment = copyPayment(p)
		return res, nil
	}

	if t.ProviderStatus != "" {
		p.ProviderStatus = t.ProviderStatus
	}
	p.UpdatedAt = t.At
	if t.Status == parking.PaymentPending {
		res.Payment = copyPayment(p)
		return res, nil
	}

	p.Status = t.Status
	p.Source = t.Source
	res.Changed = true
	if t.Status == parking.PaymentPaid {
		at := t.At
		p.PaidAt = &at
		if sess, ok := m.sessions[p.SessionID]; ok {
			sess.PaymentReceived = true
			if !sess.ExitBarrierOpened {
				sess.ExitBarrierOpened = true
				res.ClaimedExitBarrier = true
			}
			cp := *sess
			res.Session = &cp
		}
	}
	res.Payment = copyPayment(p)
	return res, nil
}

func (m *MemoryStore) StalePendingPayments(_ context.Context, createdBefore time.Time, limit int) ([]parking.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []parking.Payment
	for _, p := range m.payments {
		if p.Status == parking.PaymentPending && !p.CreatedAt.After(createdBefore) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetPaymentCreatedAt backdates a payment for poller tests.
func (m *MemoryStore) SetPaymentCreatedAt(id int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[id]; ok {
		p.CreatedAt = at
	}
}

func copyPayment(p *parking.Payment) parking.Payment {
	cp := *p
	cp.Identifiers = append([]parking.PaymentIdentifier(nil), p.Identifiers...)
	return cp
}

func (m *MemoryStore) ActiveWhitelistEntry(_ context.Context, plate string, at time.Time) (*parking.WhitelistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, e := range m.whitelist {
		if e.Plate == plate && e.Covers(at) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, parking.ErrNotFound
}

func (m *MemoryStore) ListWhitelist(_ context.Context) ([]parking.WhitelistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]parking.WhitelistEntry, 0, len(m.whitelist))
	for _, e := range m.whitelist {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plate < out[j].Plate })
	return out, nil
}

func (m *MemoryStore) AddWhitelist(_ context.Context, e *parking.WhitelistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, other := range m.whitelist {
		if other.Plate == e.Plate {
			return parking.ErrConflict
		}
	}
	e.ID = m.id()
	e.CreatedAt = time.Now()
	cp := *e
	m.whitelist[e.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWhitelistEntry(_ context.Context, id int64) (*parking.WhitelistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	e, ok := m.whitelist[id]
	if !ok {
		return nil, parking.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) UpdateWhitelist(_ context.Context, e *parking.WhitelistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	cur, ok := m.whitelist[e.ID]
	if !ok {
		return parking.ErrNotFound
	}
	for id, other := range m.whitelist {
		if id != e.ID && other.Plate == e.Plate {
			return parking.ErrConflict
		}
	}
	e.CreatedAt = cur.CreatedAt
	cp := *e
	m.whitelist[e.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteWhitelist(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.whitelist[id]; !ok {
		return parking.ErrNotFound
	}
	delete(m.whitelist, id)
	return nil
}

func (m *MemoryStore) ActiveTariff(_ context.Context) (*parking.Tariff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, t := range m.tariffs {
		if t.IsActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, parking.ErrNotFound
}

func (m *MemoryStore) ListTariffs(_ context.Context) ([]parking.Tariff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]parking.Tariff, 0, len(m.tariffs))
	for _, t := range m.tariffs {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateTariff(_ context.Context, t *parking.Tariff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	t.ID = m.id()
	t.CreatedAt = time.Now()
	cp := *t
	cp.IsActive = false
	m.tariffs[t.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateTariff(_ context.Context, t *parking.Tariff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	cur, ok := m.tariffs[t.ID]
	if !ok {
		return parking.ErrNotFound
	}
	cp := *t
	cp.IsActive = cur.IsActive
	cp.CreatedAt = cur.CreatedAt
	m.tariffs[t.ID] = &cp
	t.IsActive = cur.IsActive
	return nil
}

func (m *MemoryStore) DeleteTariff(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	t, ok := m.tariffs[id]
	if !ok {
		return parking.ErrNotFound
	}
	if t.IsActive {
		return parking.ErrConflict
	}
	delete(m.tariffs, id)
	return nil
}

func (m *MemoryStore) ActivateTariff(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.tariffs[id]; !ok {
		return parking.ErrNotFound
	}
	for tid, t := range m.tariffs {
		t.IsActive = tid == id
	}
	return nil
}

func (m *MemoryStore) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	v, ok := m.settings[key]
	if !ok {
		return "", parking.ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.settings[key] = value
	return nil
}

func (m *MemoryStore) CreateCameraEvent(_ context.Context, e *parking.CameraEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	e.ID = m.id()
	m.events = append(m.events, *e)
	return nil
}

func (m *MemoryStore) DeleteEventsBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	kept := m.events[:0]
	var deleted int64
	for _, e := range m.events {
		if e.EventTime.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	for h, at := range m.eventHashes {
		if at.Before(before) {
			delete(m.eventHashes, h)
		}
	}
	return deleted, nil
}

func (m *MemoryStore) CameraEvents() []parking.CameraEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]parking.CameraEvent(nil), m.events...)
}

func (m *MemoryStore) InsertEventHash(_ context.Context, hash, _, _ string, since, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if seen, ok := m.eventHashes[hash]; ok && !seen.Before(since) {
		return false, nil
	}
	m.eventHashes[hash] = at
	return true, nil
}

// Whitelist is a test shorthand for an open-ended whitelist entry.
func (m *MemoryStore) Whitelist(plate string, from time.Time) {
	_ = m.AddWhitelist(context.Background(), &parking.WhitelistEntry{Plate: strings.ToUpper(plate), ValidFrom: from})
}
