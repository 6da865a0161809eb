package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/handler"
	"github.com/iliyamo/seat-reservation-core/internal/utils"
)

const secret = "router-secret"

func newEcho(withWebhook bool) *echo.Echo {
	e := echo.New()
	d := Deps{
		JWTSecret:    secret,
		Log:          zap.NewNop(),
		Health:       &handler.HealthHandler{},
		Seats:        &handler.SeatHandler{},
		Reservations: &handler.ReservationHandler{},
		Stats:        &handler.StatsHandler{},
	}
	if withWebhook {
		d.Webhook = &handler.WebhookHandler{}
	}
	RegisterRoutes(e, d)
	return e
}

func TestRoutesRegistered(t *testing.T) {
	e := newEcho(true)
	got := map[string]bool{}
	for _, r := range e.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /healthz",
		"GET /v1/shows/:id/seats",
		"POST /v1/payments/webhook",
		"POST /v1/locks",
		"DELETE /v1/locks",
		"POST /v1/payments/intent",
		"POST /v1/payments/confirm",
		"POST /v1/bookings",
		"GET /v1/bookings",
		"GET /v1/bookings/:id",
		"POST /v1/bookings/:id/cancel",
		"POST /v1/admin/shows/:id/seats",
		"DELETE /v1/admin/shows/:id",
		"GET /v1/admin/stats",
	} {
		assert.True(t, got[want], want)
	}
}

func TestWebhookOnlyWithProvider(t *testing.T) {
	for _, r := range newEcho(false).Routes() {
		assert.NotEqual(t, "/v1/payments/webhook", r.Path)
	}
}

func TestGuards(t *testing.T) {
	e := newEcho(false)
	customer, err := utils.NewAccessToken(secret, 5, "CUSTOMER", time.Minute)
	require.NoError(t, err)

	send := func(method, path, tok string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if tok != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/healthz", ""))
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodPost, "/v1/locks", ""))
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodGet, "/v1/bookings", ""))
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, "/v1/admin/shows/1/seats", customer.Token))
	assert.Equal(t, http.StatusForbidden, send(http.MethodDelete, "/v1/admin/shows/1", customer.Token))
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodGet, "/v1/admin/stats", ""))
	assert.Equal(t, http.StatusForbidden, send(http.MethodGet, "/v1/admin/stats", customer.Token))
}
