package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-core/internal/service"
)

// HealthHandler answers load balancer health checks.  When Reaper is set the
// response also carries the expiry reaper's counters.
type HealthHandler struct {
	Reaper func() service.ReaperStats
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(c echo.Context) error {
	body := echo.Map{"status": "ok"}
	if h.Reaper != nil {
		body["reaper"] = h.Reaper()
	}
	return c.JSON(http.StatusOK, body)
}
