package middleware

import "github.com/labstack/echo/v4"

// userID returns the authenticated subject, or "anon" before JWTAuth has
// run or on public routes.
func userID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
