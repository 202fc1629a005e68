package handler

import (
    "errors"   // errors.Is comparisons
    "net/http" // HTTP status codes
    "strings"  // input trimming
    "time"     // hold expiry computation

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/iliyamo/ticket-rush/internal/middleware"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/repository"
    "github.com/iliyamo/ticket-rush/internal/waitingroom"
)

// ReservationHandler places and looks up inventory holds.  The reserve
// path is the hot spot of the whole system: the entire check-then-insert
// runs inside one transaction holding the tier row lock, which is the
// serialisation point that makes overselling impossible.
type ReservationHandler struct {
    EventRepo       *repository.EventRepo
    TierRepo        *repository.TierRepo
    ReservationRepo *repository.ReservationRepo
    Room            *waitingroom.Room

    ReservationTTL     time.Duration // hold lifetime
    EventPurchaseLimit int           // per-event cap on paid + held units
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(eventRepo *repository.EventRepo, tierRepo *repository.TierRepo,
    reservationRepo *repository.ReservationRepo, room *waitingroom.Room,
    reservationTTL time.Duration, purchaseLimit int) *ReservationHandler {
    if eventRepo == nil || tierRepo == nil || reservationRepo == nil || room == nil {
        panic("nil dependency passed to NewReservationHandler")
    }
    return &ReservationHandler{
        EventRepo:          eventRepo,
        TierRepo:           tierRepo,
        ReservationRepo:    reservationRepo,
        Room:               room,
        ReservationTTL:     reservationTTL,
        EventPurchaseLimit: purchaseLimit,
    }
}

// reserveRequest is the body of POST /events/:id/reservations.
type reserveRequest struct {
    TierID   string `json:"tier_id"`
    Quantity int    `json:"quantity"`
    Token    string `json:"token"`
}

// Create handles POST /events/:id/reservations.  The caller must hold a
// live admission grant for its queue token; the grant is a short-lived
// bearer capability, not an authentication token.  On success the hold is
// active for the reservation TTL and the buyer proceeds to checkout.
func (h *ReservationHandler) Create(c echo.Context) error {
    user := middleware.UserID(c)
    eventID := c.Param("id")

    var body reserveRequest
    if err := c.Bind(&body); err != nil {
        return validationError(c, "invalid request body")
    }
    body.TierID = strings.TrimSpace(body.TierID)
    body.Token = strings.TrimSpace(body.Token)
    if body.TierID == "" {
        return validationError(c, "tier_id is required")
    }
    if body.Token == "" {
        return validationError(c, "token is required")
    }
    if body.Quantity < 1 {
        return validationError(c, "quantity must be at least 1")
    }

    ctx := c.Request().Context()

    // Grant check happens outside the transaction: a missing grant is the
    // common rejection under load and must not touch the database.
    ok, err := h.Room.HasGrant(ctx, eventID, body.Token)
    if err != nil {
        return fail(c, err)
    }
    if !ok {
        return notAdmitted(c)
    }
    // A grant is bound to the identity that joined the queue; a borrowed
    // token does not admit a different user.  A lapsed token record with
    // a still-live grant is tolerated.
    if owner, err := h.Room.TokenUser(ctx, eventID, body.Token); err == nil && owner != user {
        return notAdmitted(c)
    } else if err != nil && !errors.Is(err, waitingroom.ErrInvalidToken) {
        return fail(c, err)
    }

    now := time.Now().UTC()
    tx, err := h.ReservationRepo.DB().BeginTx(ctx, nil)
    if err != nil {
        return fail(c, err)
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    ev, err := h.EventRepo.GetByIDTx(ctx, tx, eventID)
    if err != nil {
        return fail(c, err)
    }
    if !ev.VisibleToBuyers() {
        return fail(c, repository.ErrEventNotFound)
    }
    if ev.Paused {
        return fail(c, repository.ErrSalesPaused)
    }

    // The tier lock serialises every concurrent reserve for this tier.
    tier, err := h.TierRepo.GetForUpdateTx(ctx, tx, eventID, body.TierID)
    if err != nil {
        return fail(c, err)
    }

    paid, held, err := h.ReservationRepo.UserTotalsTx(ctx, tx, eventID, user, now)
    if err != nil {
        return fail(c, err)
    }
    if paid+held+body.Quantity > h.EventPurchaseLimit {
        return fail(c, &repository.PurchaseLimitError{
            AlreadyPurchased: paid,
            ActiveHeld:       held,
            Requested:        body.Quantity,
            Limit:            h.EventPurchaseLimit,
        })
    }
    if body.Quantity > tier.PerUserLimit {
        return fail(c, repository.ErrPerTierLimitExceeded)
    }

    active, err := h.ReservationRepo.HasActiveTx(ctx, tx, eventID, user, now)
    if err != nil {
        return fail(c, err)
    }
    if active {
        return fail(c, repository.ErrDoubleHold)
    }

    reserved, sold, err := h.ReservationRepo.TierUsageTx(ctx, tx, tier.ID, now)
    if err != nil {
        return fail(c, err)
    }
    if tier.Capacity-reserved-sold < body.Quantity {
        // Oversell attempts are an alerting signal, not an anomaly.
        c.Logger().Infof("oversell attempt: event=%s tier=%s requested=%d available=%d (request_id=%s)",
            eventID, tier.ID, body.Quantity, tier.Capacity-reserved-sold, requestID(c))
        return fail(c, repository.ErrInsufficientInventory)
    }

    res := model.Reservation{
        EventID:   eventID,
        TierID:    tier.ID,
        UserID:    user,
        Quantity:  body.Quantity,
        Status:    model.ReservationStatusActive,
        ExpiresAt: now.Add(h.ReservationTTL),
    }
    if err := h.ReservationRepo.CreateTx(ctx, tx, &res); err != nil {
        return fail(c, err)
    }
    if err := tx.Commit(); err != nil {
        return fail(c, err)
    }
    committed = true

    return c.JSON(http.StatusCreated, echo.Map{"reservation": res, "tier": tier})
}

// Lookup handles GET /events/:id/reservations?token=.  It returns the
// caller's most recent active unexpired hold joined with its tier, for
// display while the buyer completes checkout.
func (h *ReservationHandler) Lookup(c echo.Context) error {
    user := middleware.UserID(c)
    eventID := c.Param("id")
    ctx := c.Request().Context()

    if _, err := h.EventRepo.GetVisible(ctx, eventID); err != nil {
        return fail(c, err)
    }
    view, err := h.ReservationRepo.LookupActive(ctx, eventID, user, time.Now().UTC())
    if err != nil {
        // No live hold reads as absence, not as a conflict.
        if errors.Is(err, repository.ErrReservationInvalid) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
        }
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, view)
}
