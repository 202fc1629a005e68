package handler

import (
    "context"      // detached publish context
    "database/sql" // sentinel comparisons for replay checks
    "errors"       // errors.Is comparisons
    "net/http"     // HTTP status codes
    "strings"      // input trimming
    "time"         // expiry evaluation

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/iliyamo/ticket-rush/internal/middleware"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/queue"
    "github.com/iliyamo/ticket-rush/internal/repository"
)

// CheckoutHandler drives the two-phase checkout state machine: session
// creation (the idempotency envelope) and confirmation (settlement and
// ticket issuance).  Both stages are replay-safe; retried requests
// return the original result without new side effects.
type CheckoutHandler struct {
    CheckoutRepo    *repository.CheckoutRepo
    ReservationRepo *repository.ReservationRepo
    TierRepo        *repository.TierRepo
    OrderRepo       *repository.OrderRepo
    TicketRepo      *repository.TicketRepo

    ReservationTTL time.Duration // payment window granted on session creation
    QRSecret       string        // ticket signing secret

    // Publish emits the order-confirmed event after a successful commit.
    // Optional; failures are logged and never surfaced to the buyer.
    Publish func(ctx context.Context, ev queue.OrderConfirmedEvent) error
}

// NewCheckoutHandler constructs a CheckoutHandler.
func NewCheckoutHandler(checkoutRepo *repository.CheckoutRepo, reservationRepo *repository.ReservationRepo,
    tierRepo *repository.TierRepo, orderRepo *repository.OrderRepo, ticketRepo *repository.TicketRepo,
    reservationTTL time.Duration, qrSecret string) *CheckoutHandler {
    if checkoutRepo == nil || reservationRepo == nil || tierRepo == nil || orderRepo == nil || ticketRepo == nil {
        panic("nil repository passed to NewCheckoutHandler")
    }
    return &CheckoutHandler{
        CheckoutRepo:    checkoutRepo,
        ReservationRepo: reservationRepo,
        TierRepo:        tierRepo,
        OrderRepo:       orderRepo,
        TicketRepo:      ticketRepo,
        ReservationTTL:  reservationTTL,
        QRSecret:        qrSecret,
    }
}

// createSessionRequest is the body of POST /checkout/sessions.  The
// idempotency key travels in the Idempotency-Key header.
type createSessionRequest struct {
    ReservationID string `json:"reservation_id"`
}

// CreateSession handles POST /checkout/sessions.  Repeats with the same
// Idempotency-Key return the original session verbatim with an
// idempotent marker; the unique index on the key settles races between
// parallel first attempts.  A successful creation extends the
// reservation so the buyer has a fresh window to pay.
func (h *CheckoutHandler) CreateSession(c echo.Context) error {
    user := middleware.UserID(c)
    key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
    if key == "" {
        return validationError(c, "Idempotency-Key header is required")
    }
    var body createSessionRequest
    if err := c.Bind(&body); err != nil {
        return validationError(c, "invalid request body")
    }
    body.ReservationID = strings.TrimSpace(body.ReservationID)
    if body.ReservationID == "" {
        return validationError(c, "reservation_id is required")
    }

    ctx := c.Request().Context()
    now := time.Now().UTC()

    // Replay fast path: an existing session for this key is returned
    // without touching the reservation again.
    if existing, err := h.CheckoutRepo.GetByKey(ctx, key); err == nil {
        return c.JSON(http.StatusOK, echo.Map{"session": existing, "idempotent": true})
    } else if !errors.Is(err, repository.ErrSessionNotFound) {
        return fail(c, err)
    }

    res, err := h.ReservationRepo.GetByID(ctx, body.ReservationID)
    if err != nil {
        return fail(c, err)
    }
    if res.UserID != user {
        // A foreign reservation is indistinguishable from a missing one.
        return fail(c, repository.ErrReservationInvalid)
    }
    if !res.Holding(now) {
        return fail(c, repository.ErrReservationInvalid)
    }

    tx, err := h.CheckoutRepo.DB().BeginTx(ctx, nil)
    if err != nil {
        return fail(c, err)
    }
    settled := false
    defer func() {
        if !settled {
            _ = tx.Rollback()
        }
    }()

    // A different pending session already referencing this hold wins;
    // parallel idempotency keys must not open competing sessions.
    if pending, err := h.CheckoutRepo.PendingByReservationTx(ctx, tx, res.ID); err == nil {
        _ = tx.Rollback()
        settled = true
        return c.JSON(http.StatusOK, echo.Map{"session": pending, "idempotent": true})
    } else if !errors.Is(err, repository.ErrSessionNotFound) {
        return fail(c, err)
    }

    if err := h.ReservationRepo.ExtendTx(ctx, tx, res.ID, now.Add(h.ReservationTTL)); err != nil {
        return fail(c, err)
    }

    session := model.CheckoutSession{
        ReservationID:  res.ID,
        UserID:         user,
        IdempotencyKey: key,
        Status:         model.SessionStatusPending,
    }
    if err := h.CheckoutRepo.CreateTx(ctx, tx, &session); err != nil {
        if errors.Is(err, repository.ErrDuplicateKey) {
            // A parallel caller won the unique-key insert; return the
            // winner's session.
            _ = tx.Rollback()
            settled = true
            winner, lookupErr := h.CheckoutRepo.GetByKey(ctx, key)
            if lookupErr != nil {
                return fail(c, lookupErr)
            }
            return c.JSON(http.StatusOK, echo.Map{"session": winner, "idempotent": true})
        }
        return fail(c, err)
    }
    if err := tx.Commit(); err != nil {
        return fail(c, err)
    }
    settled = true

    return c.JSON(http.StatusCreated, echo.Map{"session": session, "idempotent": false})
}

// confirmRequest is the body of POST /checkout/confirm.  Payment is a
// boolean oracle: simulate carries the outcome the external payment
// collaborator reported.
type confirmRequest struct {
    CheckoutID string `json:"checkout_id"`
    Simulate   string `json:"simulate"`
}

// Confirm handles POST /checkout/confirm.  The reservation row lock held
// across settlement guarantees that at most one of order creation,
// expiration or cancellation wins, and the order-per-session check makes
// retried success confirmations pure replays.
func (h *CheckoutHandler) Confirm(c echo.Context) error {
    user := middleware.UserID(c)
    var body confirmRequest
    if err := c.Bind(&body); err != nil {
        return validationError(c, "invalid request body")
    }
    body.CheckoutID = strings.TrimSpace(body.CheckoutID)
    if body.CheckoutID == "" {
        return validationError(c, "checkout_id is required")
    }
    success := false
    switch body.Simulate {
    case "success":
        success = true
    case "fail":
    default:
        return validationError(c, `simulate must be "success" or "fail"`)
    }

    ctx := c.Request().Context()
    now := time.Now().UTC()

    tx, err := h.CheckoutRepo.DB().BeginTx(ctx, nil)
    if err != nil {
        return fail(c, err)
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    session, err := h.CheckoutRepo.GetByIDTx(ctx, tx, body.CheckoutID)
    if err != nil {
        return fail(c, err)
    }
    if session.UserID != user {
        return fail(c, repository.ErrSessionNotFound)
    }

    // Idempotent replay: an order for this session means an earlier
    // success confirmation already settled everything.
    if order, err := h.OrderRepo.GetBySessionTx(ctx, tx, session.ID); err == nil {
        tickets, terr := h.TicketRepo.ListByOrderTx(ctx, tx, order.ID)
        if terr != nil {
            return fail(c, terr)
        }
        res, rerr := h.ReservationRepo.GetForUpdateTx(ctx, tx, session.ReservationID)
        if rerr != nil {
            return fail(c, rerr)
        }
        if err := tx.Commit(); err != nil {
            return fail(c, err)
        }
        committed = true
        return c.JSON(http.StatusOK, echo.Map{
            "order": order, "tickets": tickets, "session": session, "reservation": res, "idempotent": true,
        })
    } else if !errors.Is(err, sql.ErrNoRows) {
        return fail(c, err)
    }

    if session.Status != model.SessionStatusPending {
        return fail(c, repository.ErrSessionStateMismatch)
    }

    res, err := h.ReservationRepo.GetForUpdateTx(ctx, tx, session.ReservationID)
    if err != nil {
        return fail(c, err)
    }
    if !res.Holding(now) {
        // Settle both records to their terminal failure states before
        // reporting; the walk-away path must not leave a pending session.
        if res.Status == model.ReservationStatusActive {
            if err := h.ReservationRepo.UpdateStatusTx(ctx, tx, res.ID, model.ReservationStatusExpired); err != nil {
                return fail(c, err)
            }
            if err := h.CheckoutRepo.UpdateStatusTx(ctx, tx, session.ID, model.SessionStatusExpired); err != nil {
                return fail(c, err)
            }
        } else {
            if err := h.CheckoutRepo.UpdateStatusTx(ctx, tx, session.ID, model.SessionStatusFailed); err != nil {
                return fail(c, err)
            }
        }
        if err := tx.Commit(); err != nil {
            return fail(c, err)
        }
        committed = true
        return fail(c, repository.ErrReservationInvalid)
    }

    if !success {
        if err := h.CheckoutRepo.UpdateStatusTx(ctx, tx, session.ID, model.SessionStatusFailed); err != nil {
            return fail(c, err)
        }
        if err := h.ReservationRepo.UpdateStatusTx(ctx, tx, res.ID, model.ReservationStatusCanceled); err != nil {
            return fail(c, err)
        }
        if err := tx.Commit(); err != nil {
            return fail(c, err)
        }
        committed = true
        session.Status = model.SessionStatusFailed
        res.Status = model.ReservationStatusCanceled
        return c.JSON(http.StatusOK, echo.Map{"session": session, "reservation": res})
    }

    tier, err := h.TierRepo.GetTx(ctx, tx, res.TierID)
    if err != nil {
        return fail(c, err)
    }
    order := model.Order{
        SessionID:       session.ID,
        EventID:         res.EventID,
        TierID:          res.TierID,
        UserID:          res.UserID,
        Quantity:        res.Quantity,
        TotalPriceCents: int64(res.Quantity) * tier.PriceCents,
        Status:          model.OrderStatusPaid,
    }
    if err := h.OrderRepo.CreateTx(ctx, tx, &order); err != nil {
        return fail(c, err)
    }
    tickets, err := repository.Mint(&order, order.Quantity, h.QRSecret)
    if err != nil {
        return fail(c, err)
    }
    if err := h.TicketRepo.InsertIgnoreTx(ctx, tx, tickets); err != nil {
        return fail(c, err)
    }
    if err := h.CheckoutRepo.UpdateStatusTx(ctx, tx, session.ID, model.SessionStatusCompleted); err != nil {
        return fail(c, err)
    }
    if err := h.ReservationRepo.UpdateStatusTx(ctx, tx, res.ID, model.ReservationStatusConverted); err != nil {
        return fail(c, err)
    }
    if err := tx.Commit(); err != nil {
        return fail(c, err)
    }
    committed = true
    session.Status = model.SessionStatusCompleted
    res.Status = model.ReservationStatusConverted

    // Read the issued rows back so the response carries database
    // timestamps and so a concurrent recovery sweep's inserts are seen.
    issued, err := h.TicketRepo.ListByOrder(ctx, order.ID)
    if err != nil {
        return fail(c, err)
    }

    if h.Publish != nil {
        codes := make([]string, 0, len(issued))
        for _, t := range issued {
            codes = append(codes, t.Code)
        }
        ev := queue.OrderConfirmedEvent{
            OrderID:         order.ID,
            SessionID:       session.ID,
            EventID:         order.EventID,
            TierID:          order.TierID,
            UserID:          order.UserID,
            Quantity:        order.Quantity,
            TotalPriceCents: order.TotalPriceCents,
            TicketCodes:     codes,
            ConfirmedAt:     now.Format(time.RFC3339),
        }
        // Best effort; checkout already committed.
        if err := h.Publish(context.WithoutCancel(ctx), ev); err != nil {
            c.Logger().Warnf("order event publish failed: %v (request_id=%s)", err, requestID(c))
        }
    }

    return c.JSON(http.StatusCreated, echo.Map{
        "order": order, "tickets": issued, "session": session, "reservation": res, "idempotent": false,
    })
}
