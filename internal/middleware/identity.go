package middleware

// identity.go resolves the caller's identity for buyer endpoints.  There is
// no account system: identity is the opaque X-User-Id header supplied by
// the caller, and authentication (if any) happens upstream.  Handlers read
// the resolved identity with UserID(c).

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
)

// userIDKey is the context key the middleware stores the identity under.
const userIDKey = "user_id"

// RequireUser extracts the X-User-Id header and stores it in the Echo
// context.  Requests without the header are rejected with a
// validation_error; buyer flows are meaningless without an identity.
func RequireUser() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            uid := strings.TrimSpace(c.Request().Header.Get("X-User-Id"))
            if uid == "" {
                return c.JSON(http.StatusBadRequest, echo.Map{
                    "error":   "validation_error",
                    "message": "X-User-Id header is required",
                })
            }
            c.Set(userIDKey, uid)
            return next(c)
        }
    }
}

// UserID returns the identity stored by RequireUser, or "" when the
// middleware did not run (public routes).
func UserID(c echo.Context) string {
    if v := c.Get(userIDKey); v != nil {
        if s, ok := v.(string); ok {
            return s
        }
    }
    return ""
}
