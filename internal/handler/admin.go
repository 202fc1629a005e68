package handler

import (
    "net/http" // HTTP status codes
    "time"     // request time parsing and summary instant

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/repository"
    "github.com/iliyamo/ticket-rush/internal/waitingroom"
)

// AdminHandler exposes the operator surface: event and tier creation,
// lifecycle and pause toggles, the operational summary, and the
// waiting-room reset.  The whole group sits behind AdminAuth.
type AdminHandler struct {
    EventRepo *repository.EventRepo
    TierRepo  *repository.TierRepo
    Room      *waitingroom.Room
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(eventRepo *repository.EventRepo, tierRepo *repository.TierRepo, room *waitingroom.Room) *AdminHandler {
    if eventRepo == nil || tierRepo == nil || room == nil {
        panic("nil dependency passed to NewAdminHandler")
    }
    return &AdminHandler{EventRepo: eventRepo, TierRepo: tierRepo, Room: room}
}

// createEventRequest is the body of POST /admin/events.
type createEventRequest struct {
    Name     string    `json:"name"`
    Venue    string    `json:"venue"`
    StartsAt time.Time `json:"starts_at"`
    OnSaleAt time.Time `json:"on_sale_at"`
    Status   string    `json:"status"`
}

// CreateEvent handles POST /admin/events.  Omitted status defaults to
// draft, which keeps the event invisible until the operator schedules it.
func (h *AdminHandler) CreateEvent(c echo.Context) error {
    var body createEventRequest
    if err := c.Bind(&body); err != nil {
        return validationError(c, "invalid request body")
    }
    if body.Status == "" {
        body.Status = model.EventStatusDraft
    }
    ev := model.Event{
        Name:     body.Name,
        Venue:    body.Venue,
        StartsAt: body.StartsAt,
        OnSaleAt: body.OnSaleAt,
        Status:   body.Status,
    }
    if err := ev.Validate(); err != nil {
        return validationError(c, err.Error())
    }
    if err := h.EventRepo.Create(c.Request().Context(), &ev); err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{"event": ev})
}

// createTierRequest is the body of POST /admin/events/:id/tiers.
type createTierRequest struct {
    Name         string `json:"name"`
    PriceCents   int64  `json:"price_cents"`
    Capacity     int    `json:"capacity"`
    PerUserLimit int    `json:"per_user_limit"`
}

// CreateTier handles POST /admin/events/:id/tiers.
func (h *AdminHandler) CreateTier(c echo.Context) error {
    ctx := c.Request().Context()
    ev, err := h.EventRepo.GetByID(ctx, c.Param("id"))
    if err != nil {
        return fail(c, err)
    }
    var body createTierRequest
    if err := c.Bind(&body); err != nil {
        return validationError(c, "invalid request body")
    }
    if body.PerUserLimit == 0 {
        body.PerUserLimit = 1
    }
    tier := model.Tier{
        EventID:      ev.ID,
        Name:         body.Name,
        PriceCents:   body.PriceCents,
        Capacity:     body.Capacity,
        PerUserLimit: body.PerUserLimit,
    }
    if err := tier.Validate(); err != nil {
        return validationError(c, err.Error())
    }
    if err := h.TierRepo.Create(ctx, &tier); err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{"tier": tier})
}

// Pause handles POST /admin/events/:id/pause.  Pausing forbids admission
// grants and new holds; queued buyers keep their positions and live
// holds keep ticking toward their own expiry.
func (h *AdminHandler) Pause(c echo.Context) error {
    return h.setPaused(c, true)
}

// Resume handles POST /admin/events/:id/resume.
func (h *AdminHandler) Resume(c echo.Context) error {
    return h.setPaused(c, false)
}

func (h *AdminHandler) setPaused(c echo.Context, paused bool) error {
    id := c.Param("id")
    if err := h.EventRepo.SetPaused(c.Request().Context(), id, paused); err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"event_id": id, "paused": paused})
}

// updateStatusRequest is the body of POST /admin/events/:id/status.
type updateStatusRequest struct {
    Status string `json:"status"`
}

// UpdateStatus handles POST /admin/events/:id/status, moving the event
// through its lifecycle (scheduled → on_sale → closed, or canceled).
func (h *AdminHandler) UpdateStatus(c echo.Context) error {
    var body updateStatusRequest
    if err := c.Bind(&body); err != nil {
        return validationError(c, "invalid request body")
    }
    switch body.Status {
    case model.EventStatusDraft, model.EventStatusScheduled, model.EventStatusOnSale,
        model.EventStatusClosed, model.EventStatusCanceled:
    default:
        return validationError(c, "unknown event status")
    }
    id := c.Param("id")
    if err := h.EventRepo.UpdateStatus(c.Request().Context(), id, body.Status); err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"event_id": id, "status": body.Status})
}

// Status handles GET /admin/events/:id/status: the operational summary of
// holds, orders and issued tickets.
func (h *AdminHandler) Status(c echo.Context) error {
    summary, err := h.EventRepo.Summary(c.Request().Context(), c.Param("id"), time.Now().UTC())
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, summary)
}

// ClearQueue handles POST /admin/events/:id/clear: the administrative
// waiting-room reset.  Durable state (holds, orders, tickets) is
// untouched; only queue positions, grants and the wave cursor are lost.
func (h *AdminHandler) ClearQueue(c echo.Context) error {
    ctx := c.Request().Context()
    ev, err := h.EventRepo.GetByID(ctx, c.Param("id"))
    if err != nil {
        return fail(c, err)
    }
    if err := h.Room.Clear(ctx, ev.ID); err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"event_id": ev.ID, "cleared": true})
}
