package handler

import (
    "net/http" // HTTP status codes
    "time"     // availability evaluation instant

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/iliyamo/ticket-rush/internal/repository"
)

// PublicHandler serves the unauthenticated browse endpoints: event
// listing, event detail with tiers, and tier availability.  These routes
// sit behind the Redis response cache; the numbers they serve are
// advisory and a few seconds stale at worst.
type PublicHandler struct {
    EventRepo *repository.EventRepo
    TierRepo  *repository.TierRepo
}

// NewPublicHandler constructs a PublicHandler.
func NewPublicHandler(eventRepo *repository.EventRepo, tierRepo *repository.TierRepo) *PublicHandler {
    if eventRepo == nil || tierRepo == nil {
        panic("nil repository passed to NewPublicHandler")
    }
    return &PublicHandler{EventRepo: eventRepo, TierRepo: tierRepo}
}

// ListEvents handles GET /events.  Draft events never appear.
func (h *PublicHandler) ListEvents(c echo.Context) error {
    events, err := h.EventRepo.ListVisible(c.Request().Context())
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"events": events})
}

// GetEvent handles GET /events/:id, returning the event with its tiers.
func (h *PublicHandler) GetEvent(c echo.Context) error {
    ctx := c.Request().Context()
    ev, err := h.EventRepo.GetVisible(ctx, c.Param("id"))
    if err != nil {
        return fail(c, err)
    }
    tiers, err := h.TierRepo.ListByEvent(ctx, ev.ID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"event": ev, "tiers": tiers})
}

// GetAvailability handles GET /events/:id/availability: remaining units
// per tier after subtracting active holds and paid orders.
func (h *PublicHandler) GetAvailability(c echo.Context) error {
    ctx := c.Request().Context()
    ev, err := h.EventRepo.GetVisible(ctx, c.Param("id"))
    if err != nil {
        return fail(c, err)
    }
    availability, err := h.TierRepo.Availability(ctx, ev.ID, time.Now().UTC())
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"event_id": ev.ID, "availability": availability})
}
