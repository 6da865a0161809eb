package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ReservationHandler exposes the customer flow: lock seats, pay, confirm,
// list and cancel bookings.  JWT authentication and role checks run in
// middleware before any of these methods.
type ReservationHandler struct {
	Locks    Locker
	Bookings Reservations
	Now      func() time.Time // defaults to time.Now
}

// NewReservationHandler wires the handler to the core services.
func NewReservationHandler(locks Locker, bookings Reservations) *ReservationHandler {
	if locks == nil || bookings == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{Locks: locks, Bookings: bookings, Now: time.Now}
}

func (h *ReservationHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

type seatsRequest struct {
	SeatIDs []uint64 `json:"seat_ids" validate:"required,min=1,dive,gt=0"`
}

type selectionRequest struct {
	ShowID  uint64   `json:"show_id" validate:"required,gt=0"`
	SeatIDs []uint64 `json:"seat_ids" validate:"required,min=1,dive,gt=0"`
}

type directRequest struct {
	ShowID  uint64   `json:"show_id" validate:"required,gt=0"`
	SeatIDs []uint64 `json:"seat_ids" validate:"required,min=1,dive,gt=0"`
	Amount  int64    `json:"amount" validate:"gte=0"` // minor units
}

type confirmRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required"`
}

// LockSeats handles POST /v1/locks.  It answers 201 with the lease; a
// conflict lists the seats that could not be taken.
func (h *ReservationHandler) LockSeats(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req seatsRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	lease, err := h.Locks.LockSeats(c.Request().Context(), userID, req.SeatIDs, h.now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, lease)
}

// UnlockSeats handles DELETE /v1/locks.  It always succeeds for stale
// selections and reports how many seats were actually released.
func (h *ReservationHandler) UnlockSeats(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req seatsRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	n, err := h.Locks.UnlockSeats(c.Request().Context(), userID, req.SeatIDs)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": n})
}

// InitiateCharge handles POST /v1/payments/intent.
func (h *ReservationHandler) InitiateCharge(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req selectionRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	intent, err := h.Bookings.InitiateCharge(c.Request().Context(), userID, req.SeatIDs, req.ShowID, h.now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, intent)
}

// ConfirmPayment handles POST /v1/payments/confirm.  Only the payment
// reference is read from the body; seats come from the payment itself.
func (h *ReservationHandler) ConfirmPayment(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req confirmRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	b, err := h.Bookings.ConfirmAfterPayment(c.Request().Context(), req.PaymentRef, userID, h.now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// ConfirmDirect handles POST /v1/bookings for bookings without a payment
// step.
func (h *ReservationHandler) ConfirmDirect(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req directRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	b, err := h.Bookings.ConfirmDirect(c.Request().Context(), userID, req.SeatIDs, req.ShowID, req.Amount, h.now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// ListBookings handles GET /v1/bookings?page=&limit=.
func (h *ReservationHandler) ListBookings(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	page, err := h.Bookings.ListBookings(c.Request().Context(), userID, queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// GetBooking handles GET /v1/bookings/:id.
func (h *ReservationHandler) GetBooking(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.Bookings.GetBooking(c.Request().Context(), id, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// CancelBooking handles POST /v1/bookings/:id/cancel.
func (h *ReservationHandler) CancelBooking(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.Bookings.Cancel(c.Request().Context(), id, userID, h.now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
