package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/queue"
)

// ExpiredReleaser frees locks older than a cutoff.
type ExpiredReleaser interface {
	ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepMutex keeps instances sharing one store from sweeping at the same
// time.  *redsync.Mutex satisfies it.
type SweepMutex interface {
	TryLockContext(ctx context.Context) error
	UnlockContext(ctx context.Context) (bool, error)
}

// ReaperStats is a snapshot of the reaper's activity.
type ReaperStats struct {
	Running       bool      `json:"running"`
	Sweeps        int64     `json:"sweeps"`
	TotalReleased int64     `json:"total_released"`
	LastSweep     time.Time `json:"last_sweep"`
	LastReleased  int64     `json:"last_released"`
	LastError     string    `json:"last_error,omitempty"`
}

// Reaper periodically returns seats whose lock lease has lapsed to FREE.
// It owns one goroutine between Start and Stop.
type Reaper struct {
	seats    ExpiredReleaser
	ttl      time.Duration
	interval time.Duration
	timeout  time.Duration
	mutex    SweepMutex
	now      func() time.Time
	log      *zap.Logger
	notify   queue.Notifier

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stats   ReaperStats
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithInterval overrides the sweep period, which defaults to the TTL.
func WithInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithMutex guards each sweep with m.
func WithMutex(m SweepMutex) ReaperOption {
	return func(r *Reaper) { r.mutex = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

// WithSweepTimeout bounds one sweep against the store.
func WithSweepTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.timeout = d }
}

// NewReaper builds a stopped Reaper.
func NewReaper(seats ExpiredReleaser, ttl time.Duration, log *zap.Logger, notify queue.Notifier, opts ...ReaperOption) *Reaper {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if notify == nil {
		notify = queue.Nop{}
	}
	r := &Reaper{
		seats:    seats,
		ttl:      ttl,
		interval: ttl,
		timeout:  DefaultStoreTimeout,
		now:      time.Now,
		log:      log,
		notify:   notify,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start sweeps once and then on every interval until Stop is called or
// ctx is done.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reaper already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.log.Info("expiry reaper started", zap.Duration("interval", r.interval), zap.Duration("ttl", r.ttl))
	r.wg.Add(1)
	go r.loop(ctx, r.stopCh)
	return nil
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("expiry reaper stopped")
}

func (r *Reaper) loop(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.safeSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			r.safeSweep(ctx)
		}
	}
}

func (r *Reaper) safeSweep(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("reaper sweep panicked", zap.Any("panic", p))
			r.record(0, fmt.Errorf("panic: %v", p))
		}
	}()
	_, _ = r.Sweep(ctx)
}

// Sweep releases every lock taken before now-TTL and returns the number
// of seats freed.  When another instance holds the sweep mutex it does
// nothing and returns zero.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if r.mutex != nil {
		if err := r.mutex.TryLockContext(ctx); err != nil {
			var taken *redsync.ErrTaken
			if errors.As(err, &taken) {
				r.log.Debug("sweep skipped, mutex held elsewhere")
				return 0, nil
			}
			// The sweep is idempotent, so a mutex backend outage does not stop it.
			r.log.Warn("reaper mutex unavailable, sweeping unguarded", zap.Error(err))
		} else {
			defer func() {
				if _, err := r.mutex.UnlockContext(context.Background()); err != nil {
					r.log.Warn("reaper mutex unlock failed", zap.Error(err))
				}
			}()
		}
	}

	now := r.now().UTC()
	n, err := r.seats.ReleaseExpired(ctx, now.Add(-r.ttl))
	r.record(n, err)
	if err != nil {
		r.log.Error("reaper sweep failed", zap.Error(err))
		r.notify.Notify(ctx, queue.Event{Type: queue.TypeReaperSweep, OccurredAt: now, Reason: err.Error()})
		return 0, storeErr("release expired locks", err)
	}
	if n > 0 {
		r.log.Info("expired locks released", zap.Int64("released", n))
		r.notify.Notify(ctx, queue.Event{Type: queue.TypeReaperSweep, OccurredAt: now, Released: n})
	}
	return n, nil
}

func (r *Reaper) record(n int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Sweeps++
	r.stats.LastSweep = r.now()
	r.stats.LastReleased = n
	r.stats.TotalReleased += n
	r.stats.LastError = ""
	if err != nil {
		r.stats.LastError = err.Error()
	}
}

// Stats returns a snapshot of the reaper's counters.
func (r *Reaper) Stats() ReaperStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Running = r.running
	return s
}
