package handler

// errors.go is the single translation point between internal errors and
// the stable error envelope.  Every handler funnels its failure paths
// through fail(); recognised errors map onto a kind and status, anything
// else becomes a generic 500 carrying the request correlation id.

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"

    "github.com/iliyamo/ticket-rush/internal/repository"
    "github.com/iliyamo/ticket-rush/internal/waitingroom"
)

// kindStatus maps recognised sentinel errors to their envelope kind and
// HTTP status.
var kindStatus = []struct {
    err    error
    kind   string
    status int
}{
    {repository.ErrEventNotFound, "not_found", http.StatusNotFound},
    {repository.ErrTierNotFound, "not_found", http.StatusNotFound},
    {repository.ErrSessionNotFound, "not_found", http.StatusNotFound},
    {repository.ErrSalesPaused, "sales_paused", http.StatusForbidden},
    {repository.ErrPerTierLimitExceeded, "per_tier_limit_exceeded", http.StatusForbidden},
    {repository.ErrDoubleHold, "double_hold", http.StatusConflict},
    {repository.ErrInsufficientInventory, "insufficient_inventory", http.StatusConflict},
    {repository.ErrReservationInvalid, "reservation_expired_or_invalid", http.StatusConflict},
    {repository.ErrSessionStateMismatch, "session_state_mismatch", http.StatusConflict},
    {waitingroom.ErrInvalidToken, "invalid_token", http.StatusUnauthorized},
}

// fail writes the error envelope for err and returns the handler result.
func fail(c echo.Context, err error) error {
    var limitErr *repository.PurchaseLimitError
    if errors.As(err, &limitErr) {
        return c.JSON(http.StatusForbidden, echo.Map{
            "error":            "purchase_limit_exceeded",
            "alreadyPurchased": limitErr.AlreadyPurchased,
            "activeHeld":       limitErr.ActiveHeld,
            "requested":        limitErr.Requested,
            "limit":            limitErr.Limit,
        })
    }
    for _, m := range kindStatus {
        if errors.Is(err, m.err) {
            return c.JSON(m.status, echo.Map{"error": m.kind})
        }
    }
    if errors.Is(err, waitingroom.ErrUnavailable) {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{
            "error":      "service_unavailable",
            "request_id": requestID(c),
        })
    }
    c.Logger().Errorf("internal error (request_id=%s): %v", requestID(c), err)
    return c.JSON(http.StatusInternalServerError, echo.Map{
        "error":      "internal_error",
        "request_id": requestID(c),
    })
}

// validationError reports a malformed request with a human-readable hint.
func validationError(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": msg})
}

// notAdmitted reports a reservation attempt without a live admission grant.
func notAdmitted(c echo.Context) error {
    return c.JSON(http.StatusForbidden, echo.Map{"error": "not_admitted"})
}

// requestID returns the correlation id assigned by the RequestID
// middleware, present on every log line and 5xx envelope.
func requestID(c echo.Context) string {
    return c.Response().Header().Get(echomw.DefaultRequestIDConfig.TargetHeader)
}
