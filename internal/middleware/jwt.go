package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
    "github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers
)

// AdminAuth returns an Echo middleware that validates a Bearer access token
// on the admin surface.  Buyer endpoints never use this — buyer identity is
// the opaque X-User-Id header — but pause/resume/clear and event creation
// are operator actions and carry operator credentials.  When secret is
// empty the guard is disabled (local development), and the middleware
// passes every request through.
func AdminAuth(secret string) echo.MiddlewareFunc {
    if secret == "" {
        return func(next echo.HandlerFunc) echo.HandlerFunc {
            return func(c echo.Context) error { return next(c) }
        }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            // A valid header starts with "Bearer " followed by the JWT.
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            // Parse with HS256 and our secret; reject other signing methods.
            tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
                if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
                    return nil, echo.ErrUnauthorized
                }
                return []byte(secret), nil
            })
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            // Expose the subject for audit logging on admin actions.
            if claims, ok := tok.Claims.(jwt.MapClaims); ok {
                c.Set("admin_subject", claims["sub"])
            }
            return next(c)
        }
    }
}
