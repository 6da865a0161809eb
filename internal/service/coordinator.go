package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/model"
	"github.com/iliyamo/seat-reservation-core/internal/payment"
	"github.com/iliyamo/seat-reservation-core/internal/queue"
	"github.com/iliyamo/seat-reservation-core/internal/repository"
)

// amountTolerance is the rounding slack, in minor units, allowed between a
// declared or charged amount and seat count × price.
const amountTolerance = 1

// Pagination bounds for ListBookings.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ChargeIntent is returned by InitiateCharge.  The client completes the
// payment with the provider using ClientSecret and then confirms with
// PaymentRef.
type ChargeIntent struct {
	PaymentRef   string   `json:"payment_ref"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Amount       int64    `json:"amount"`
	Currency     string   `json:"currency"`
	ShowID       uint64   `json:"show_id"`
	SeatIDs      []uint64 `json:"seat_ids"`
}

// Coordinator turns locked seats into bookings and back.  It is the only
// writer of BOOKED seats and of the booking ledger.  No store transaction
// is ever open while the payment provider is being called.
type Coordinator struct {
	tx       Transactor
	seats    SeatStore
	shows    ShowLookup
	bookings BookingLedger
	pay      payment.Capability
	ttl      time.Duration
	maxBatch int
	timeout  time.Duration
	log      *zap.Logger
	notify   queue.Notifier
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPayment wires a payment provider.  Without one, only direct
// bookings are possible.
func WithPayment(p payment.Capability) CoordinatorOption {
	return func(c *Coordinator) { c.pay = p }
}

// WithCoordinatorBatch caps the seats per booking.
func WithCoordinatorBatch(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxBatch = n
		}
	}
}

// WithStoreTimeout bounds each store phase of an operation.
func WithStoreTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.timeout = d }
}

// NewCoordinator builds a Coordinator.  ttl must match the LockManager's.
func NewCoordinator(tx Transactor, seats SeatStore, shows ShowLookup, bookings BookingLedger, ttl time.Duration,
	log *zap.Logger, notify queue.Notifier, opts ...CoordinatorOption) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if notify == nil {
		notify = queue.Nop{}
	}
	c := &Coordinator{
		tx:       tx,
		seats:    seats,
		shows:    shows,
		bookings: bookings,
		ttl:      ttl,
		maxBatch: DefaultMaxBatch,
		timeout:  DefaultStoreTimeout,
		log:      log,
		notify:   notify,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PaymentEnabled reports whether a payment provider is wired.
func (c *Coordinator) PaymentEnabled() bool { return c.pay != nil }

// InitiateCharge asks the payment provider to authorize seat count × price
// for seats the user currently holds.  Seat state is not changed.
func (c *Coordinator) InitiateCharge(ctx context.Context, userID uint64, seatIDs []uint64, showID uint64, now time.Time) (*ChargeIntent, error) {
	if c.pay == nil {
		return nil, newError(KindPaymentNotConfigured, "no payment provider configured")
	}
	ids := dedupe(seatIDs)
	if err := checkBatch(ids, c.maxBatch); err != nil {
		return nil, err
	}
	now = now.UTC()

	sctx, cancel := withTimeout(ctx, c.timeout)
	show, err := liveShow(sctx, c.shows, showID, now, KindShowStarted)
	if err == nil {
		var seats []model.Seat
		if seats, err = c.seats.GetByIDs(sctx, ids); err == nil {
			err = c.held(seats, ids, showID, userID, now, true)
		}
	}
	cancel()
	if err != nil {
		return nil, storeErr("load selection", err)
	}

	amount := int64(len(ids)) * show.PriceCents
	auth, err := c.pay.Authorize(ctx, amount, payment.Metadata{UserID: userID, ShowID: showID, SeatIDs: ids})
	if err != nil {
		return nil, paymentErr(err)
	}
	c.log.Debug("charge initiated", zap.Uint64("user_id", userID), zap.String("payment_ref", auth.Ref), zap.Int64("amount", amount))
	return &ChargeIntent{
		PaymentRef:   auth.Ref,
		ClientSecret: auth.ClientSecret,
		Amount:       auth.Amount,
		Currency:     auth.Currency,
		ShowID:       showID,
		SeatIDs:      ids,
	}, nil
}

// ConfirmAfterPayment books the seats recorded on a succeeded payment.
// The seat list and show come from the payment itself, never from the
// client.  Replaying a reference that already produced a booking returns
// that booking.  Once the provider has reported success, every failure
// carries the payment reference so the charge can be reconciled.
func (c *Coordinator) ConfirmAfterPayment(ctx context.Context, paymentRef string, userID uint64, now time.Time) (*model.Booking, error) {
	if paymentRef == "" {
		return nil, newError(KindInvalidInput, "payment reference required")
	}
	now = now.UTC()

	if b, err := c.replay(ctx, paymentRef, userID); b != nil || err != nil {
		return b, err
	}
	if c.pay == nil {
		return nil, newError(KindPaymentNotConfigured, "no payment provider configured")
	}

	info, err := c.pay.RetrieveStatus(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return nil, newError(KindPaymentNotAuthorized, "unknown payment %s", paymentRef)
		}
		return nil, paymentErr(err)
	}
	if info.Status != payment.StatusSucceeded {
		return nil, newError(KindPaymentNotAuthorized, "payment %s is %s", paymentRef, info.Status)
	}
	if info.Metadata.UserID != userID {
		return nil, newError(KindForbidden, "payment belongs to another user")
	}

	md := info.Metadata
	ids := dedupe(md.SeatIDs)
	b, err := c.confirmPaid(ctx, paymentRef, userID, md.ShowID, ids, info.Amount, now)
	if err != nil {
		// A concurrent confirmation of the same payment may have won.
		if b, rerr := c.replay(ctx, paymentRef, userID); rerr == nil && b != nil {
			return b, nil
		}
		return nil, c.unconsumed(ctx, paymentRef, userID, md.ShowID, ids, err, now)
	}
	c.confirmed(ctx, b, now)
	return b, nil
}

func (c *Coordinator) confirmPaid(ctx context.Context, ref string, userID, showID uint64, ids []uint64, charged int64, now time.Time) (*model.Booking, error) {
	if len(ids) == 0 {
		return nil, newError(KindInvalidInput, "payment carries no seats")
	}
	sctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	show, err := liveShow(sctx, c.shows, showID, now, KindShowStarted)
	if err != nil {
		return nil, err
	}
	amount := int64(len(ids)) * show.PriceCents
	if !withinTolerance(charged, amount) {
		return nil, newError(KindAmountMismatch, "charged %d, expected %d", charged, amount)
	}
	return c.validateAndFlip(sctx, userID, show, ids, amount, model.PaymentPaid, &ref, now)
}

// ConfirmDirect books held seats without a payment step.  It is only
// available for free shows once a payment provider is configured.
func (c *Coordinator) ConfirmDirect(ctx context.Context, userID uint64, seatIDs []uint64, showID uint64, declaredAmount int64, now time.Time) (*model.Booking, error) {
	ids := dedupe(seatIDs)
	if err := checkBatch(ids, c.maxBatch); err != nil {
		return nil, err
	}
	if declaredAmount < 0 {
		return nil, newError(KindInvalidInput, "amount must not be negative")
	}
	now = now.UTC()

	sctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	show, err := liveShow(sctx, c.shows, showID, now, KindShowStarted)
	if err != nil {
		return nil, storeErr("load show", err)
	}
	amount := int64(len(ids)) * show.PriceCents
	if c.pay != nil && amount > 0 {
		return nil, newError(KindPaymentNotAuthorized, "paid seats must be booked through a payment")
	}
	if !withinTolerance(declaredAmount, amount) {
		return nil, newError(KindAmountMismatch, "declared %d, expected %d", declaredAmount, amount)
	}

	b, err := c.validateAndFlip(sctx, userID, show, ids, amount, model.PaymentPending, nil, now)
	if err != nil {
		err = storeErr("confirm booking", err)
		c.failed(ctx, userID, showID, ids, "", err, now)
		return nil, err
	}
	c.confirmed(ctx, b, now)
	return b, nil
}

// validateAndFlip is the single path that creates bookings: re-read the
// seats FOR UPDATE, require each to be held by userID under a live lease,
// flip them to BOOKED with an exact row count and append the booking, all
// in one transaction.
func (c *Coordinator) validateAndFlip(ctx context.Context, userID uint64, show *model.Show, ids []uint64,
	amount int64, ps model.PaymentStatus, ref *string, now time.Time) (*model.Booking, error) {
	var b *model.Booking
	err := c.tx.WithTx(ctx, func(ctx context.Context) error {
		seats, err := c.seats.GetByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if err := c.held(seats, ids, show.ID, userID, now, false); err != nil {
			return err
		}
		n, err := c.seats.Book(ctx, userID, ids, now.Add(-c.ttl))
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return &Error{Kind: KindConcurrentBookingConflict, Reason: "seats changed while booking", SeatIDs: ids}
		}
		b = &model.Booking{
			UserID:           userID,
			ShowID:           show.ID,
			SeatIDs:          ids,
			TotalAmountCents: amount,
			Status:           model.BookingConfirmed,
			PaymentRef:       ref,
			PaymentStatus:    ps,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return c.bookings.Create(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// held checks that seats are exactly ids, belong to showID and are locked
// by userID under a live lease.  Any seat that is not is LockExpired.
// With split, seats booked or held by someone else are reported as
// SeatUnavailable instead; confirmations never split, since the caller's
// lease is gone either way.
func (c *Coordinator) held(seats []model.Seat, ids []uint64, showID, userID uint64, now time.Time, split bool) error {
	got, err := sameShow(seats, ids)
	if err != nil {
		return err
	}
	if got != showID {
		return newError(KindCrossShowSelection, "seats do not belong to show %d", showID)
	}
	if split {
		if err := available(seats, userID, now, c.ttl); err != nil {
			return err
		}
	}
	var lapsed []uint64
	for _, s := range seats {
		if !s.LockedByUser(userID) || !s.LockActive(now, c.ttl) {
			lapsed = append(lapsed, s.ID)
		}
	}
	if len(lapsed) > 0 {
		return &Error{Kind: KindLockExpired, Reason: "seat locks are missing or expired", SeatIDs: lapsed}
	}
	return nil
}

// replay returns the booking already recorded for ref, if any.
func (c *Coordinator) replay(ctx context.Context, ref string, userID uint64) (*model.Booking, error) {
	sctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	b, err := c.bookings.GetByPaymentRef(sctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, storeErr("load booking", err)
	}
	if b.UserID != userID {
		return nil, newError(KindForbidden, "payment belongs to another user")
	}
	return b, nil
}

// unconsumed decorates a failure that happened after the payment
// succeeded.  Store failures become ReconciliationRequired; domain
// failures keep their kind.  Either way the payment reference is attached
// and a reconciliation event is emitted.
func (c *Coordinator) unconsumed(ctx context.Context, ref string, userID, showID uint64, ids []uint64, cause error, now time.Time) error {
	var e *Error
	if errors.As(cause, &e) && e.Kind != KindStoreUnavailable {
		cp := *e
		e = &cp
	} else {
		e = &Error{Kind: KindReconciliationRequired, Reason: "payment captured but booking not recorded", Err: cause}
	}
	e.PaymentRef = ref

	c.log.Error("payment needs reconciliation",
		zap.String("payment_ref", ref), zap.Uint64("user_id", userID), zap.Uint64("show_id", showID),
		zap.Uint64s("seat_ids", ids), zap.Error(cause))
	c.notify.Notify(ctx, queue.Event{
		Type:       queue.TypeReconciliationRequired,
		OccurredAt: now,
		UserID:     userID,
		ShowID:     showID,
		SeatIDs:    ids,
		PaymentRef: ref,
		Reason:     e.Error(),
	})
	c.failed(ctx, userID, showID, ids, ref, e, now)
	return e
}

func (c *Coordinator) confirmed(ctx context.Context, b *model.Booking, now time.Time) {
	ev := queue.Event{
		Type:        queue.TypeBookingConfirmed,
		OccurredAt:  now,
		UserID:      b.UserID,
		ShowID:      b.ShowID,
		SeatIDs:     b.SeatIDs,
		BookingID:   b.ID,
		AmountCents: b.TotalAmountCents,
	}
	if b.PaymentRef != nil {
		ev.PaymentRef = *b.PaymentRef
	}
	c.log.Debug("booking confirmed", zap.Uint64("booking_id", b.ID), zap.Uint64("user_id", b.UserID))
	c.notify.Notify(ctx, ev)
}

func (c *Coordinator) failed(ctx context.Context, userID, showID uint64, ids []uint64, ref string, err error, now time.Time) {
	c.log.Warn("booking failed", zap.Uint64("user_id", userID), zap.Uint64("show_id", showID),
		zap.String("kind", string(KindOf(err))), zap.Error(err))
	c.notify.Notify(ctx, queue.Event{
		Type:       queue.TypeBookingFailed,
		OccurredAt: now,
		UserID:     userID,
		ShowID:     showID,
		SeatIDs:    ids,
		PaymentRef: ref,
		Reason:     string(KindOf(err)),
	})
}

// Cancel cancels a confirmed booking of a show that has not started.  A
// paid booking is refunded before anything local changes; if the refund
// fails nothing is mutated.  The booking flip and the release of its
// seats then commit together.
func (c *Coordinator) Cancel(ctx context.Context, bookingID, userID uint64, now time.Time) (*model.Booking, error) {
	now = now.UTC()

	sctx, cancel := withTimeout(ctx, c.timeout)
	b, err := c.owned(sctx, bookingID, userID)
	if err == nil && b.Status == model.BookingCancelled {
		err = newError(KindAlreadyCancelled, "booking %d is already cancelled", bookingID)
	}
	if err == nil {
		_, err = liveShow(sctx, c.shows, b.ShowID, now, KindShowAlreadyStarted)
	}
	cancel()
	if err != nil {
		return nil, storeErr("load booking", err)
	}

	var refundRef string
	if b.PaymentStatus == model.PaymentPaid && b.PaymentRef != nil {
		if c.pay == nil {
			return nil, newError(KindPaymentNotConfigured, "cannot refund without a payment provider")
		}
		if err := c.pay.Refund(ctx, *b.PaymentRef); err != nil {
			c.log.Warn("refund failed", zap.Uint64("booking_id", bookingID), zap.String("payment_ref", *b.PaymentRef), zap.Error(err))
			return nil, &Error{Kind: KindRefundFailed, Reason: "refund was not issued, try again", Err: err}
		}
		refundRef = *b.PaymentRef
	}

	sctx, cancel = withTimeout(ctx, c.timeout)
	defer cancel()
	err = c.tx.WithTx(sctx, func(ctx context.Context) error {
		cur, err := c.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		ps := cur.PaymentStatus
		if refundRef != "" {
			ps = model.PaymentRefunded
		}
		n, err := c.bookings.MarkCancelled(ctx, bookingID, ps)
		if err != nil {
			return err
		}
		if n == 0 {
			return newError(KindAlreadyCancelled, "booking %d is already cancelled", bookingID)
		}
		freed, err := c.seats.Free(ctx, cur.SeatIDs)
		if err != nil {
			return err
		}
		if freed != int64(len(cur.SeatIDs)) {
			c.log.Warn("cancelled booking had seats not in BOOKED state",
				zap.Uint64("booking_id", bookingID), zap.Int64("freed", freed), zap.Int("seats", len(cur.SeatIDs)))
		}
		b = cur
		b.Status = model.BookingCancelled
		b.PaymentStatus = ps
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		if refundRef != "" {
			return nil, c.unconsumed(ctx, refundRef, userID, b.ShowID, b.SeatIDs,
				&Error{Kind: KindReconciliationRequired, Reason: "refund issued but booking not cancelled", Err: err}, now)
		}
		return nil, storeErr("cancel booking", err)
	}

	ev := queue.Event{
		Type:        queue.TypeBookingCancelled,
		OccurredAt:  now,
		UserID:      userID,
		ShowID:      b.ShowID,
		SeatIDs:     b.SeatIDs,
		BookingID:   b.ID,
		PaymentRef:  refundRef,
		AmountCents: b.TotalAmountCents,
	}
	c.notify.Notify(ctx, ev)
	c.log.Debug("booking cancelled", zap.Uint64("booking_id", b.ID), zap.Bool("refunded", refundRef != ""))
	return b, nil
}

// GetBooking returns one of the user's bookings.
func (c *Coordinator) GetBooking(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	b, err := c.owned(ctx, bookingID, userID)
	if err != nil {
		return nil, storeErr("load booking", err)
	}
	return b, nil
}

func (c *Coordinator) owned(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	b, err := c.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "booking %d not found", bookingID)
		}
		return nil, err
	}
	if b.UserID != userID {
		return nil, newError(KindForbidden, "booking %d belongs to another user", bookingID)
	}
	return b, nil
}

// ListBookings returns one page of the user's bookings, newest first.
// page starts at 1; limit defaults to DefaultPageLimit and is capped at
// MaxPageLimit.
func (c *Coordinator) ListBookings(ctx context.Context, userID uint64, page, limit int) (*model.BookingPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	items, total, err := c.bookings.ListByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, storeErr("list bookings", err)
	}
	return &model.BookingPage{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: (total + limit - 1) / limit,
	}, nil
}

// HandlePaymentEvent applies an asynchronous provider notification.  A
// succeeded payment is confirmed exactly as if its owner had called
// ConfirmAfterPayment; other events are only recorded.
func (c *Coordinator) HandlePaymentEvent(ctx context.Context, ev *payment.Event, now time.Time) (*model.Booking, error) {
	switch ev.Type {
	case payment.EventSucceeded:
		return c.ConfirmAfterPayment(ctx, ev.Ref, ev.Metadata.UserID, now)
	case payment.EventFailed:
		c.failed(ctx, ev.Metadata.UserID, ev.Metadata.ShowID, ev.Metadata.SeatIDs, ev.Ref,
			newError(KindPaymentDeclined, "provider reported failure"), now.UTC())
	default:
		c.log.Debug("payment event ignored", zap.String("type", ev.Type), zap.String("payment_ref", ev.Ref))
	}
	return nil, nil
}

func withinTolerance(got, want int64) bool {
	d := got - want
	return d <= amountTolerance && d >= -amountTolerance
}

func paymentErr(err error) error {
	if errors.Is(err, payment.ErrDeclined) {
		return &Error{Kind: KindPaymentDeclined, Reason: "payment was declined", Err: err}
	}
	return &Error{Kind: KindPaymentUnavailable, Reason: "payment provider unavailable", Err: err}
}
