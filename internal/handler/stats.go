package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-core/internal/model"
)

// StatsReader is the stats service as seen by the admin dashboard.
type StatsReader interface {
	AdminStats(ctx context.Context) (*model.AdminStats, error)
}

// StatsHandler serves the administrator's sales overview.
type StatsHandler struct {
	Stats StatsReader
}

// NewStatsHandler panics on a nil dependency.
func NewStatsHandler(stats StatsReader) *StatsHandler {
	if stats == nil {
		panic("nil stats service passed to NewStatsHandler")
	}
	return &StatsHandler{Stats: stats}
}

// AdminStats handles GET /v1/admin/stats.
func (h *StatsHandler) AdminStats(c echo.Context) error {
	stats, err := h.Stats.AdminStats(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
