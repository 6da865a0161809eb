package middleware // middleware holds echo guards composed in front of the handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// JWTAuth returns an echo middleware that validates an HS256 Bearer access
// token.  On success the subject is stored under "user_id" as a decimal
// string and the upper-cased role under "role".  Tokens issued by a
// different algorithm, expired tokens and tokens without a numeric subject
// are rejected with 401.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	key := []byte(secret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return denied(c, http.StatusUnauthorized, "missing bearer token")
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !tok.Valid {
				return denied(c, http.StatusUnauthorized, "invalid token")
			}

			sub, ok := subject(claims)
			if !ok {
				return denied(c, http.StatusUnauthorized, "invalid subject")
			}
			role, _ := claims["role"].(string)

			c.Set(ctxUserID, sub)
			c.Set(ctxRole, strings.ToUpper(role))
			return next(c)
		}
	}
}

// subject normalises the "sub" claim to a positive decimal string.  Older
// tokens carried it as a JSON number.
func subject(claims jwt.MapClaims) (string, bool) {
	switch v := claims["sub"].(type) {
	case string:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			return v, true
		}
	case float64:
		if v >= 1 && v == float64(uint64(v)) {
			return strconv.FormatUint(uint64(v), 10), true
		}
	}
	return "", false
}

// denied writes the same error shape the handlers use.
func denied(c echo.Context, status int, msg string) error {
	kind := "Unauthorized"
	if status == http.StatusForbidden {
		kind = "Forbidden"
	}
	return c.JSON(status, echo.Map{"error": kind, "message": msg})
}
