package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// guarded wraps a Capability with a circuit breaker and a per-call
// timeout.  Declines and unknown references are answers from a healthy
// provider and do not count as failures.
type guarded struct {
	next    Capability
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// declined smuggles a business error through the breaker as a success.
type declined struct{ err error }

// WithBreaker returns next guarded by a gobreaker circuit named name.
// The circuit opens after five consecutive failures and half-opens after
// thirty seconds.
func WithBreaker(next Capability, name string, timeout time.Duration, log *zap.Logger) Capability {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("payment circuit state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &guarded{next: next, cb: gobreaker.NewCircuitBreaker(st), timeout: timeout}
}

func (g *guarded) call(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		cctx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		out, err := fn(cctx)
		if err != nil && (errors.Is(err, ErrDeclined) || errors.Is(err, ErrNotFound)) {
			return declined{err: err}, nil
		}
		return out, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	if d, ok := res.(declined); ok {
		return nil, d.err
	}
	return res, nil
}

func (g *guarded) Authorize(ctx context.Context, amount int64, md Metadata) (*Authorization, error) {
	res, err := g.call(ctx, func(ctx context.Context) (interface{}, error) { return g.next.Authorize(ctx, amount, md) })
	if err != nil {
		return nil, err
	}
	return res.(*Authorization), nil
}

func (g *guarded) RetrieveStatus(ctx context.Context, ref string) (*Info, error) {
	res, err := g.call(ctx, func(ctx context.Context) (interface{}, error) { return g.next.RetrieveStatus(ctx, ref) })
	if err != nil {
		return nil, err
	}
	return res.(*Info), nil
}

func (g *guarded) Refund(ctx context.Context, ref string) error {
	_, err := g.call(ctx, func(ctx context.Context) (interface{}, error) { return nil, g.next.Refund(ctx, ref) })
	return err
}
