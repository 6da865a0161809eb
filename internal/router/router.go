package router // package router registers the HTTP API on an echo instance

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/config"
	"github.com/iliyamo/seat-reservation-core/internal/handler"
	"github.com/iliyamo/seat-reservation-core/internal/middleware"
)

// Deps carries everything route registration needs.  Redis may be nil, in
// which case the cache and rate limiter pass requests through.  Webhook
// is nil unless the Stripe gateway is configured.
type Deps struct {
	JWTSecret    string
	Redis        *redis.Client
	Cache        config.CacheConfig
	RateLimit    config.RateLimitConfig
	Log          *zap.Logger
	Health       *handler.HealthHandler
	Seats        *handler.SeatHandler
	Reservations *handler.ReservationHandler
	Stats        *handler.StatsHandler
	Webhook      *handler.WebhookHandler
}

// RegisterRoutes mounts every route group.
func RegisterRoutes(e *echo.Echo, d Deps) {
	RegisterPublic(e, d)
	RegisterCustomer(e, d)
	RegisterAdmin(e, d)
}

// RegisterPublic mounts unauthenticated routes: the health check, the
// cached seat listing and the payment provider webhook.
func RegisterPublic(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health.Health)
	e.GET("/v1/shows/:id/seats", d.Seats.ListSeats, middleware.NewRedisCache(d.Cache, d.Redis, d.Log))
	if d.Webhook != nil {
		e.POST("/v1/payments/webhook", d.Webhook.Webhook)
	}
}
