package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"parking-service/internal/bank"
	"parking-service/internal/events"
)

// Barrier records commands per gate.
type Barrier struct {
	mu     sync.Mutex
	opens  map[string]int
	closes map[string]int
	// Fail makes every command report failure.
	Fail  bool
	State string
}

func NewBarrier() *Barrier {
	return &Barrier{opens: make(map[string]int), closes: make(map[string]int), State: "closed"}
}

func (b *Barrier) Open(_ context.Context, gate string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens[gate]++
	return !b.Fail
}

func (b *Barrier) Close(_ context.Context, gate string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes[gate]++
	return !b.Fail
}

func (b *Barrier) Status(_ context.Context, _ string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Fail {
		return "unknown", false
	}
	return b.State, true
}

func (b *Barrier) Opens(gate string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[gate]
}

func (b *Barrier) TotalOpens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.opens {
		n += c
	}
	return n
}

// Bank is a scriptable payment provider.
type Bank struct {
	mu       sync.Mutex
	statuses map[string]*bank.StatusResult
	issued   []string
	// BankIDPrefix, when set, makes GenerateQR return a distinct bank id.
	BankIDPrefix string
	GenerateErr  error
	StatusErr    error
	StatusCalls  int
}

func NewBank() *Bank {
	return &Bank{statuses: make(map[string]*bank.StatusResult)}
}

func (b *Bank) GenerateQR(_ context.Context, operationID string, _ decimal.Decimal) (*bank.QR, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.GenerateErr != nil {
		return nil, b.GenerateErr
	}
	b.issued = append(b.issued, operationID)
	qr := &bank.QR{QRImage: "data:image/png;base64,QR-" + operationID}
	if b.BankIDPrefix != "" {
		qr.BankOperationID = b.BankIDPrefix + operationID
	}
	return qr, nil
}

func (b *Bank) GetStatus(_ context.Context, operationID string) (*bank.StatusResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.StatusCalls++
	if b.StatusErr != nil {
		return nil, b.StatusErr
	}
	res, ok := b.statuses[operationID]
	if !ok {
		return nil, errors.New("operation not found")
	}
	cp := *res
	return &cp, nil
}

// SetStatus scripts the raw status GetStatus reports for operationID.
func (b *Bank) SetStatus(operationID, raw string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[operationID] = &bank.StatusResult{
		Status:    bank.Translate(raw),
		RawStatus: raw,
		Raw:       map[string]interface{}{"status": raw},
	}
}

func (b *Bank) Issued() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.issued...)
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *Publisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *Publisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *Publisher) Count(typ string) int {
	n := 0
	for _, t := range p.Types() {
		if t == typ {
			n++
		}
	}
	return n
}

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
