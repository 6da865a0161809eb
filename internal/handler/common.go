package handler // handler maps HTTP requests onto the reservation core

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-core/internal/model"
	"github.com/iliyamo/seat-reservation-core/internal/payment"
	"github.com/iliyamo/seat-reservation-core/internal/service"
)

// Locker is the lock manager as seen by the lock endpoints.
type Locker interface {
	LockSeats(ctx context.Context, userID uint64, seatIDs []uint64, now time.Time) (*service.Lease, error)
	UnlockSeats(ctx context.Context, userID uint64, seatIDs []uint64) (int64, error)
}

// Reservations is the coordinator as seen by the payment and booking
// endpoints.
type Reservations interface {
	InitiateCharge(ctx context.Context, userID uint64, seatIDs []uint64, showID uint64, now time.Time) (*service.ChargeIntent, error)
	ConfirmAfterPayment(ctx context.Context, paymentRef string, userID uint64, now time.Time) (*model.Booking, error)
	ConfirmDirect(ctx context.Context, userID uint64, seatIDs []uint64, showID uint64, declaredAmount int64, now time.Time) (*model.Booking, error)
	Cancel(ctx context.Context, bookingID, userID uint64, now time.Time) (*model.Booking, error)
	GetBooking(ctx context.Context, bookingID, userID uint64) (*model.Booking, error)
	ListBookings(ctx context.Context, userID uint64, page, limit int) (*model.BookingPage, error)
	HandlePaymentEvent(ctx context.Context, ev *payment.Event, now time.Time) (*model.Booking, error)
}

// SeatCharts is the seat service as seen by the chart endpoints.
type SeatCharts interface {
	GenerateSeatChart(ctx context.Context, showID uint64, layout model.Layout) (int, error)
	ListSeats(ctx context.Context, showID uint64) ([]model.Seat, error)
	DeleteShow(ctx context.Context, showID uint64) error
}

// RequestValidator adapts go-playground/validator to echo.Validator.
type RequestValidator struct {
	v *validator.Validate
}

// NewRequestValidator returns a validator for request bodies tagged with
// `validate:"..."`.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{v: validator.New()}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	SeatIDs    []uint64 `json:"seat_ids,omitempty"`
	PaymentRef string   `json:"payment_ref,omitempty"`
	Retryable  bool     `json:"retryable"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(k service.Kind) int {
	switch k {
	case service.KindInvalidInput, service.KindBatchTooLarge, service.KindCrossShowSelection, service.KindAmountMismatch:
		return http.StatusBadRequest
	case service.KindSeatNotFound, service.KindShowNotFound, service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindSeatUnavailable, service.KindPartialLockFailure, service.KindConcurrentBookingConflict,
		service.KindAlreadyCancelled, service.KindAlreadyGenerated, service.KindConflict:
		return http.StatusConflict
	case service.KindShowStarted, service.KindLockExpired, service.KindShowAlreadyStarted:
		return http.StatusGone
	case service.KindPaymentNotAuthorized, service.KindPaymentDeclined:
		return http.StatusPaymentRequired
	case service.KindPaymentUnavailable, service.KindRefundFailed:
		return http.StatusBadGateway
	case service.KindStoreUnavailable, service.KindPaymentNotConfigured:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error response.  Wrapped causes are never
// exposed to the client.
func fail(c echo.Context, err error) error {
	var e *service.Error
	if !errors.As(err, &e) {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Internal", Message: "internal error"})
	}
	if e.Err != nil {
		c.Set("error", e.Err.Error()) // picked up by the request logger
	}
	return c.JSON(statusFor(e.Kind), errorBody{
		Error:      string(e.Kind),
		Message:    e.Reason,
		SeatIDs:    e.SeatIDs,
		PaymentRef: e.PaymentRef,
		Retryable:  service.IsRetryable(e),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: string(service.KindInvalidInput), Message: msg})
}

// bind decodes the body into req and runs the registered validator.  The
// returned error is safe to show to the client.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errors.New("invalid request body")
	}
	return c.Validate(req)
}

// getUserID extracts the user_id set by the JWT middleware.  Token
// subjects are strings, but numeric forms are accepted too.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorBody{Error: "Unauthorized", Message: "missing or invalid identity"})
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// queryInt reads an integer query parameter, returning 0 when absent or
// malformed so the core applies its defaults.
func queryInt(c echo.Context, name string) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return n
}
