package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/model"
	"github.com/iliyamo/seat-reservation-core/internal/queue"
	"github.com/iliyamo/seat-reservation-core/internal/repository"
)

// memStore is an in-memory store with the same conditional-update
// semantics as the MySQL repositories.  Transactions are serialised by a
// single mutex and roll back to a snapshot on error.
type memStore struct {
	mu        sync.Mutex
	seats     map[uint64]model.Seat
	shows     map[uint64]model.Show
	bookings  map[uint64]model.Booking
	nextSeat  uint64
	nextBook  uint64
	txCount   int
	failNext  map[string]error
	beforeOps map[string]func(s *memStore)
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		seats:     map[uint64]model.Seat{},
		shows:     map[uint64]model.Show{},
		bookings:  map[uint64]model.Booking{},
		failNext:  map[string]error{},
		beforeOps: map[string]func(s *memStore){},
	}
}

func (m *memStore) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// hook runs a registered failure or side effect for op.  Called with mu
// held.
func (m *memStore) hook(op string) error {
	if fn, ok := m.beforeOps[op]; ok {
		delete(m.beforeOps, op)
		fn(m)
	}
	if err, ok := m.failNext[op]; ok {
		delete(m.failNext, op)
		return err
	}
	return nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	seats, bookings := m.snapshot()
	nextSeat, nextBook := m.nextSeat, m.nextBook
	err := fn(context.WithValue(ctx, memTxKey{}, true))
	if err == nil {
		err = m.hook("commit")
	}
	if err != nil {
		m.seats, m.bookings = seats, bookings
		m.nextSeat, m.nextBook = nextSeat, nextBook
	}
	return err
}

func (m *memStore) snapshot() (map[uint64]model.Seat, map[uint64]model.Booking) {
	seats := make(map[uint64]model.Seat, len(m.seats))
	for k, v := range m.seats {
		seats[k] = v
	}
	bookings := make(map[uint64]model.Booking, len(m.bookings))
	for k, v := range m.bookings {
		bookings[k] = v
	}
	return seats, bookings
}

// fixtures

func (m *memStore) addShow(id uint64, startsAt time.Time, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shows[id] = model.Show{ID: id, Title: "show", StartsAt: startsAt, PriceCents: price}
}

// addSeats creates FREE seats labelled A1..An for the show and returns
// their ids.
func (m *memStore) addSeats(showID uint64, n int) []uint64 {
	seats := model.Layout{Rows: 1, SeatsPerRow: n}.Seats(showID)
	if err := m.CreateBulk(context.Background(), seats); err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, n)
	for id, s := range m.seats {
		if s.ShowID == showID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[len(ids)-n:]
}

func (m *memStore) seat(id uint64) model.Seat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seats[id]
}

func (m *memStore) booking(id uint64) model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id]
}

func (m *memStore) bookingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

// setLock forces a seat into LOCKED by user at t.
func (m *memStore) setLock(id, user uint64, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.seats[id]
	s.Status = model.SeatLocked
	s.LockedAt = &t
	s.LockedBy = &user
	m.seats[id] = s
}

func (m *memStore) failOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = err
}

// SeatStore

func (m *memStore) CountByShow(ctx context.Context, showID uint64) (int, error) {
	defer m.lock(ctx)()
	if err := m.hook("count"); err != nil {
		return 0, err
	}
	n := 0
	for _, s := range m.seats {
		if s.ShowID == showID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateBulk(ctx context.Context, seats []model.Seat) error {
	defer m.lock(ctx)()
	if err := m.hook("create_seats"); err != nil {
		return err
	}
	for _, s := range seats {
		for _, cur := range m.seats {
			if cur.ShowID == s.ShowID && cur.Label == s.Label {
				return repository.ErrDuplicate
			}
		}
		m.nextSeat++
		s.ID = m.nextSeat
		s.Status = model.SeatFree
		m.seats[s.ID] = s
	}
	return nil
}

func (m *memStore) ListByShow(ctx context.Context, showID uint64) ([]model.Seat, error) {
	defer m.lock(ctx)()
	out := []model.Seat{}
	for _, s := range m.seats {
		if s.ShowID == showID {
			out = append(out, s)
		}
	}
	// same order as the SQL: label length, label, seat number
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].RowLabel, out[j].RowLabel
		if len(ri) != len(rj) {
			return len(ri) < len(rj)
		}
		if ri != rj {
			return ri < rj
		}
		return out[i].SeatNumber < out[j].SeatNumber
	})
	return out, nil
}

func (m *memStore) GetByIDs(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	defer m.lock(ctx)()
	if err := m.hook("get_seats"); err != nil {
		return nil, err
	}
	out := []model.Seat{}
	for _, id := range ids {
		if s, ok := m.seats[id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) update(ids []uint64, match func(model.Seat) bool, apply func(*model.Seat)) int64 {
	var n int64
	for _, id := range ids {
		s, ok := m.seats[id]
		if !ok || !match(s) {
			continue
		}
		apply(&s)
		m.seats[id] = s
		n++
	}
	return n
}

func clearLock(s *model.Seat) {
	s.LockedAt = nil
	s.LockedBy = nil
}

func (m *memStore) Lock(ctx context.Context, userID uint64, ids []uint64, now, cutoff time.Time) (int64, error) {
	defer m.lock(ctx)()
	if err := m.hook("lock"); err != nil {
		return 0, err
	}
	return m.update(ids, func(s model.Seat) bool {
		return s.Status == model.SeatFree ||
			(s.Status == model.SeatLocked && (*s.LockedBy == userID || !s.LockedAt.After(cutoff)))
	}, func(s *model.Seat) {
		t, u := now, userID
		s.Status, s.LockedAt, s.LockedBy = model.SeatLocked, &t, &u
	}), nil
}

func (m *memStore) Unlock(ctx context.Context, userID uint64, ids []uint64) (int64, error) {
	defer m.lock(ctx)()
	if err := m.hook("unlock"); err != nil {
		return 0, err
	}
	return m.update(ids, func(s model.Seat) bool {
		return s.Status == model.SeatLocked && *s.LockedBy == userID
	}, func(s *model.Seat) {
		s.Status = model.SeatFree
		clearLock(s)
	}), nil
}

func (m *memStore) Book(ctx context.Context, userID uint64, ids []uint64, cutoff time.Time) (int64, error) {
	defer m.lock(ctx)()
	if err := m.hook("book"); err != nil {
		return 0, err
	}
	return m.update(ids, func(s model.Seat) bool {
		return s.Status == model.SeatLocked && *s.LockedBy == userID && s.LockedAt.After(cutoff)
	}, func(s *model.Seat) {
		s.Status = model.SeatBooked
		clearLock(s)
	}), nil
}

func (m *memStore) Free(ctx context.Context, ids []uint64) (int64, error) {
	defer m.lock(ctx)()
	if err := m.hook("free"); err != nil {
		return 0, err
	}
	return m.update(ids, func(s model.Seat) bool { return s.Status == model.SeatBooked }, func(s *model.Seat) {
		s.Status = model.SeatFree
		clearLock(s)
	}), nil
}

func (m *memStore) ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	defer m.lock(ctx)()
	if err := m.hook("release"); err != nil {
		return 0, err
	}
	ids := make([]uint64, 0, len(m.seats))
	for id := range m.seats {
		ids = append(ids, id)
	}
	return m.update(ids, func(s model.Seat) bool {
		return s.Status == model.SeatLocked && s.LockedAt.Before(cutoff)
	}, func(s *model.Seat) {
		s.Status = model.SeatFree
		clearLock(s)
	}), nil
}

// ShowCatalog

type memShows struct{ *memStore }

func (m memShows) GetByID(ctx context.Context, id uint64) (*model.Show, error) {
	defer m.lock(ctx)()
	if err := m.hook("get_show"); err != nil {
		return nil, err
	}
	s, ok := m.shows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m memShows) DeleteCascade(ctx context.Context, id uint64) error {
	return m.WithTx(ctx, func(ctx context.Context) error {
		if _, ok := m.shows[id]; !ok {
			return repository.ErrNotFound
		}
		for _, b := range m.bookings {
			if b.ShowID == id && b.Status == model.BookingConfirmed {
				return repository.ErrConflict
			}
		}
		for bid, b := range m.bookings {
			if b.ShowID == id {
				delete(m.bookings, bid)
			}
		}
		for sid, s := range m.seats {
			if s.ShowID == id {
				delete(m.seats, sid)
			}
		}
		delete(m.shows, id)
		return nil
	})
}

// BookingLedger

type memBookings struct{ *memStore }

func (m memBookings) Create(ctx context.Context, b *model.Booking) error {
	defer m.lock(ctx)()
	if err := m.hook("create_booking"); err != nil {
		return err
	}
	if b.PaymentRef != nil {
		for _, cur := range m.bookings {
			if cur.PaymentRef != nil && *cur.PaymentRef == *b.PaymentRef {
				return repository.ErrDuplicate
			}
		}
	}
	m.nextBook++
	b.ID = m.nextBook
	cp := *b
	cp.SeatIDs = append([]uint64(nil), b.SeatIDs...)
	m.bookings[b.ID] = cp
	return nil
}

func (m memBookings) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	defer m.lock(ctx)()
	if err := m.hook("get_booking"); err != nil {
		return nil, err
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	b.SeatIDs = append([]uint64(nil), b.SeatIDs...)
	return &b, nil
}

func (m memBookings) GetByPaymentRef(ctx context.Context, ref string) (*model.Booking, error) {
	defer m.lock(ctx)()
	for _, b := range m.bookings {
		if b.PaymentRef != nil && *b.PaymentRef == ref {
			b.SeatIDs = append([]uint64(nil), b.SeatIDs...)
			return &b, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memBookings) MarkCancelled(ctx context.Context, id uint64, ps model.PaymentStatus) (int64, error) {
	defer m.lock(ctx)()
	if err := m.hook("mark_cancelled"); err != nil {
		return 0, err
	}
	b, ok := m.bookings[id]
	if !ok || b.Status != model.BookingConfirmed {
		return 0, nil
	}
	b.Status = model.BookingCancelled
	b.PaymentStatus = ps
	m.bookings[id] = b
	return 1, nil
}

func (m memBookings) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]model.Booking, int, error) {
	defer m.lock(ctx)()
	all := []model.Booking{}
	for _, b := range m.bookings {
		if b.UserID == userID {
			all = append(all, b)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	if offset >= total {
		return []model.Booking{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m memBookings) Totals(ctx context.Context) (model.BookingTotals, error) {
	defer m.lock(ctx)()
	if err := m.hook("totals"); err != nil {
		return model.BookingTotals{}, err
	}
	var t model.BookingTotals
	for _, b := range m.bookings {
		switch b.Status {
		case model.BookingConfirmed:
			t.Confirmed++
			t.RevenueCents += b.TotalAmountCents
		case model.BookingCancelled:
			t.Cancelled++
		}
	}
	return t, nil
}

func (m memBookings) PopularShows(ctx context.Context, limit int) ([]model.ShowPopularity, error) {
	defer m.lock(ctx)()
	counts := map[uint64]int{}
	for _, b := range m.bookings {
		if b.Status == model.BookingConfirmed {
			counts[b.ShowID]++
		}
	}
	out := []model.ShowPopularity{}
	for id, n := range counts {
		out = append(out, model.ShowPopularity{ShowID: id, Title: m.shows[id].Title, Bookings: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bookings != out[j].Bookings {
			return out[i].Bookings > out[j].Bookings
		}
		return out[i].ShowID < out[j].ShowID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Occupancy(ctx context.Context) ([]model.ShowOccupancy, error) {
	defer m.lock(ctx)()
	byShow := map[uint64]*model.ShowOccupancy{}
	for _, s := range m.seats {
		o, ok := byShow[s.ShowID]
		if !ok {
			o = &model.ShowOccupancy{ShowID: s.ShowID, Title: m.shows[s.ShowID].Title}
			byShow[s.ShowID] = o
		}
		o.TotalSeats++
		if s.Status == model.SeatBooked {
			o.BookedSeats++
		}
	}
	out := []model.ShowOccupancy{}
	for _, o := range byShow {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShowID < out[j].ShowID })
	return out, nil
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []queue.Event
}

func (r *recorder) Notify(_ context.Context, ev queue.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) last(typ string) (queue.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return queue.Event{}, false
}

const testTTL = 5 * time.Minute

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture wires services over one memStore with a show starting a day
// after t0.
type fixture struct {
	store  *memStore
	events *recorder
	locks  *LockManager
	coord  *Coordinator
	seats  *SeatService
	showID uint64
	ids    []uint64
}

func newFixture(t *testing.T, price int64, nSeats int, opts ...CoordinatorOption) *fixture {
	t.Helper()
	st := newMemStore()
	st.addShow(1, t0.Add(24*time.Hour), price)
	ids := st.addSeats(1, nSeats)
	ev := &recorder{}
	log := zap.NewNop()
	return &fixture{
		store:  st,
		events: ev,
		locks:  NewLockManager(st, st, memShows{st}, testTTL, log, ev),
		coord:  NewCoordinator(st, st, memShows{st}, memBookings{st}, testTTL, log, ev, opts...),
		seats:  NewSeatService(st, st, memShows{st}, time.Second, log),
		showID: 1,
		ids:    ids,
	}
}
