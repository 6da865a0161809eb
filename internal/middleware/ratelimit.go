package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/config"
)

// tokenBucket refills continuously from the Redis server clock, so every
// API instance sees the same time, then takes one token.  ARGV is
// capacity, refill rate in tokens per millisecond and idle TTL in
// milliseconds.  It returns {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
	local capacity = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local t = redis.call('TIME')
	local now = t[1] * 1000 + math.floor(t[2] / 1000)

	local b = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
	local tokens = tonumber(b[1]) or capacity
	local ts = tonumber(b[2]) or now
	tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)

	local allowed, wait = 0, 0
	if tokens >= 1 then
		allowed = 1
		tokens = tokens - 1
	else
		wait = math.ceil((1 - tokens) / rate)
	end

	redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	return { allowed, math.floor(tokens), wait }
`)

// NewTokenBucket limits requests per key with a Redis token bucket.  It is
// placed in front of the lock endpoint so one client cannot hammer seat
// rows.  Redis errors let the request through: the limiter protects the
// store, it does not decide correctness.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}

	rate := float64(cfg.RefillTokens) / math.Max(1, float64(cfg.RefillInterval.Milliseconds()))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key},
				cfg.Capacity, rate, cfg.TTL.Milliseconds()).Int64Slice()
			if err != nil || len(vals) != 3 {
				log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			if !allowed {
				secs := int(math.Ceil(float64(retryMs) / 1000.0))
				h.Set("Retry-After", strconv.Itoa(secs))
				log.Debug("rate limited", zap.String("key", key), zap.Int64("retry_ms", retryMs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "TooManyRequests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := userID(c)
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
