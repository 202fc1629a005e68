package handler

import (
    "net/http" // HTTP status codes
    "strings"  // trimming query parameters
    "time"     // status evaluation instant

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/iliyamo/ticket-rush/internal/middleware"
    "github.com/iliyamo/ticket-rush/internal/repository"
    "github.com/iliyamo/ticket-rush/internal/waitingroom"
)

// WaitingRoomHandler serves the queue endpoints: join before or during
// the sale, and poll for position and admission.  All state lives in the
// waiting room's Redis structures; the durable store is only consulted to
// resolve the event itself.
type WaitingRoomHandler struct {
    EventRepo *repository.EventRepo // resolves and gates the event
    Room      *waitingroom.Room     // queue, wave cursor and grants
}

// NewWaitingRoomHandler constructs a WaitingRoomHandler.
func NewWaitingRoomHandler(eventRepo *repository.EventRepo, room *waitingroom.Room) *WaitingRoomHandler {
    if eventRepo == nil || room == nil {
        panic("nil dependency passed to NewWaitingRoomHandler")
    }
    return &WaitingRoomHandler{EventRepo: eventRepo, Room: room}
}

// Join handles POST /events/:id/waiting-room/join.  Draft and missing
// events are indistinguishable to buyers; both fail with not_found.
// Joining is allowed before the sale opens — early joiners simply wait
// with a stable position once it does.
func (h *WaitingRoomHandler) Join(c echo.Context) error {
    user := middleware.UserID(c)
    eventID := c.Param("id")
    ctx := c.Request().Context()

    ev, err := h.EventRepo.GetVisible(ctx, eventID)
    if err != nil {
        return fail(c, err)
    }
    token, err := h.Room.Join(ctx, ev.ID, user)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"token": token})
}

// Status handles GET /events/:id/waiting-room/status?token=.  Polling is
// what drives the wave cursor forward; there is no dedicated ticker.  A
// token inside the current wave of a non-paused event receives its
// admission grant as a side effect of this call.
func (h *WaitingRoomHandler) Status(c echo.Context) error {
    eventID := c.Param("id")
    token := strings.TrimSpace(c.QueryParam("token"))
    if token == "" {
        return validationError(c, "token query parameter is required")
    }
    ctx := c.Request().Context()

    ev, err := h.EventRepo.GetVisible(ctx, eventID)
    if err != nil {
        return fail(c, err)
    }
    view, err := h.Room.Status(ctx, ev, token, time.Now().UTC())
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, view)
}
