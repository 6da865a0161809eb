package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// OfflineGateway is an in-process provider for development, free shows
// and tests.  Authorizations succeed immediately unless the amount is above
// Ceiling, in which case they are declined.
type OfflineGateway struct {
	Currency string
	Ceiling  int64 // zero disables the ceiling

	mu       sync.Mutex
	payments map[string]*Info
	refunds  map[string]bool
}

// NewOfflineGateway returns an empty OfflineGateway.
func NewOfflineGateway(currency string, ceiling int64) *OfflineGateway {
	if currency == "" {
		currency = "inr"
	}
	return &OfflineGateway{
		Currency: currency,
		Ceiling:  ceiling,
		payments: make(map[string]*Info),
		refunds:  make(map[string]bool),
	}
}

func (g *OfflineGateway) Authorize(ctx context.Context, amount int64, md Metadata) (*Authorization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.Ceiling > 0 && amount > g.Ceiling {
		return nil, fmt.Errorf("amount %d above ceiling %d: %w", amount, g.Ceiling, ErrDeclined)
	}
	ref := "off_" + uuid.NewString()
	seats := append([]uint64(nil), md.SeatIDs...)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[ref] = &Info{
		Ref:      ref,
		Status:   StatusSucceeded,
		Amount:   amount,
		Currency: g.Currency,
		Metadata: Metadata{UserID: md.UserID, ShowID: md.ShowID, SeatIDs: seats},
	}
	return &Authorization{Ref: ref, ClientSecret: ref + "_secret", Amount: amount, Currency: g.Currency}, nil
}

func (g *OfflineGateway) RetrieveStatus(ctx context.Context, ref string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[ref]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Metadata.SeatIDs = append([]uint64(nil), p.Metadata.SeatIDs...)
	return &cp, nil
}

// Refund marks ref refunded.  Refunding it again is a no-op.
func (g *OfflineGateway) Refund(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.payments[ref]; !ok {
		return ErrNotFound
	}
	g.refunds[ref] = true
	return nil
}

// SetStatus overrides the recorded status of a payment.
func (g *OfflineGateway) SetStatus(ref string, s Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.payments[ref]; ok {
		p.Status = s
	}
}

// Refunded reports whether ref has been refunded.
func (g *OfflineGateway) Refunded(ref string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunds[ref]
}
