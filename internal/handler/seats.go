package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-core/internal/model"
)

// SeatHandler serves seat charts: the public listing and the
// administrative generate and delete operations.
type SeatHandler struct {
	Seats SeatCharts
}

// NewSeatHandler panics on a nil dependency, like every handler
// constructor in this package.
func NewSeatHandler(seats SeatCharts) *SeatHandler {
	if seats == nil {
		panic("nil seat service passed to NewSeatHandler")
	}
	return &SeatHandler{Seats: seats}
}

// ListSeats handles GET /v1/shows/:id/seats.  The response may lag behind
// concurrent locks by the cache TTL.
func (h *SeatHandler) ListSeats(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	seats, err := h.Seats.ListSeats(c.Request().Context(), showID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"show_id": showID, "seats": seats})
}

type layoutRequest struct {
	Rows        int `json:"rows" validate:"omitempty,min=1,max=52"`
	SeatsPerRow int `json:"seats_per_row" validate:"omitempty,min=1,max=100"`
}

// GenerateSeatChart handles POST /v1/admin/shows/:id/seats.  An empty body
// selects the default 5 × 10 layout; missing dimensions take their
// defaults individually.
func (h *SeatHandler) GenerateSeatChart(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var req layoutRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	layout := model.DefaultLayout()
	if req.Rows > 0 {
		layout.Rows = req.Rows
	}
	if req.SeatsPerRow > 0 {
		layout.SeatsPerRow = req.SeatsPerRow
	}

	n, err := h.Seats.GenerateSeatChart(c.Request().Context(), showID, layout)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"show_id": showID, "created": n, "layout": layout})
}

// DeleteShow handles DELETE /v1/admin/shows/:id.
func (h *SeatHandler) DeleteShow(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	if err := h.Seats.DeleteShow(c.Request().Context(), showID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
