package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-core/internal/middleware"
)

// RegisterAdmin mounts seat chart administration and the sales overview
// under /v1/admin.  Shows themselves are owned by the catalog; these
// routes only generate their seats, cascade a show's removal and report
// on sales.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	g.POST("/shows/:id/seats", d.Seats.GenerateSeatChart)
	g.DELETE("/shows/:id", d.Seats.DeleteShow)
	g.GET("/stats", d.Stats.AdminStats)
}
