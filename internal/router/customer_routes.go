package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-core/internal/middleware"
)

// RegisterCustomer mounts the booking flow under /v1.  Every route needs a
// valid JWT with the CUSTOMER or ADMIN role; ownership of bookings is
// checked by the core.  Only the lock endpoint is rate limited since it is
// the one that contends on seat rows.
func RegisterCustomer(e *echo.Echo, d Deps) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin),
	)
	h := d.Reservations

	g.POST("/locks", h.LockSeats, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))
	g.DELETE("/locks", h.UnlockSeats)

	g.POST("/payments/intent", h.InitiateCharge)
	g.POST("/payments/confirm", h.ConfirmPayment)

	g.POST("/bookings", h.ConfirmDirect)
	g.GET("/bookings", h.ListBookings)
	g.GET("/bookings/:id", h.GetBooking)
	g.POST("/bookings/:id/cancel", h.CancelBooking)
}
