package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/utils"
)

// EventRepo provides data access to the events table.  All timestamp
// columns are stored in UTC; callers receive time.Time values parsed by
// the driver (parseTime=true on the DSN).
type EventRepo struct {
    db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the provided database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle so handlers can open transactions that
// span multiple repositories.
func (r *EventRepo) DB() *sql.DB { return r.db }

const eventColumns = `id, name, venue, starts_at, on_sale_at, status, paused, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
    var e model.Event
    if err := row.Scan(&e.ID, &e.Name, &e.Venue, &e.StartsAt, &e.OnSaleAt,
        &e.Status, &e.Paused, &e.CreatedAt, &e.UpdatedAt); err != nil {
        return nil, err
    }
    return &e, nil
}

// Create inserts a new event after validating it.  The ID is minted here
// when the caller leaves it empty.
func (r *EventRepo) Create(ctx context.Context, e *model.Event) error {
    if err := e.Validate(); err != nil {
        return err
    }
    if e.ID == "" {
        e.ID = utils.NewID()
    }
    const q = `INSERT INTO events (id, name, venue, starts_at, on_sale_at, status, paused)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
    _, err := r.db.ExecContext(ctx, q, e.ID, e.Name, e.Venue,
        e.StartsAt.UTC(), e.OnSaleAt.UTC(), e.Status, e.Paused)
    if err != nil {
        return err
    }
    const sel = `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
    got, err := scanEvent(r.db.QueryRowContext(ctx, sel, e.ID))
    if err != nil {
        return err
    }
    *e = *got
    return nil
}

// GetByID returns the event with the given ID regardless of status.
// It returns ErrEventNotFound when no row exists.
func (r *EventRepo) GetByID(ctx context.Context, id string) (*model.Event, error) {
    const q = `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
    e, err := scanEvent(r.db.QueryRowContext(ctx, q, id))
    if err == sql.ErrNoRows {
        return nil, ErrEventNotFound
    }
    if err != nil {
        return nil, err
    }
    return e, nil
}

// GetVisible returns the event only when buyers may see it: the row must
// exist and must not be a draft.  Drafts are indistinguishable from
// missing events on the public surface.
func (r *EventRepo) GetVisible(ctx context.Context, id string) (*model.Event, error) {
    e, err := r.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    if !e.VisibleToBuyers() {
        return nil, ErrEventNotFound
    }
    return e, nil
}

// GetByIDTx is GetByID within an existing transaction.
func (r *EventRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Event, error) {
    const q = `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
    e, err := scanEvent(tx.QueryRowContext(ctx, q, id))
    if err == sql.ErrNoRows {
        return nil, ErrEventNotFound
    }
    if err != nil {
        return nil, err
    }
    return e, nil
}

// ListVisible returns all non-draft events ordered by sale open time.
// This feeds the public listing endpoint.
func (r *EventRepo) ListVisible(ctx context.Context) ([]model.Event, error) {
    const q = `SELECT ` + eventColumns + ` FROM events WHERE status <> 'draft' ORDER BY on_sale_at, starts_at`
    rows, err := r.db.QueryContext(ctx, q)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    events := make([]model.Event, 0)
    for rows.Next() {
        e, err := scanEvent(rows)
        if err != nil {
            return nil, err
        }
        events = append(events, *e)
    }
    return events, rows.Err()
}

// SetPaused flips the paused flag.  Pausing forbids admission grants and
// new holds; it does not evict queuers or cancel outstanding holds.
func (r *EventRepo) SetPaused(ctx context.Context, id string, paused bool) error {
    res, err := r.db.ExecContext(ctx, `UPDATE events SET paused = ? WHERE id = ?`, paused, id)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        // Either missing or already in the requested state; distinguish.
        if _, err := r.GetByID(ctx, id); err != nil {
            return err
        }
    }
    return nil
}

// UpdateStatus moves the event through its lifecycle (scheduled → on_sale
// → closed, or canceled).  Used by the admin surface.
func (r *EventRepo) UpdateStatus(ctx context.Context, id, status string) error {
    res, err := r.db.ExecContext(ctx, `UPDATE events SET status = ? WHERE id = ?`, status, id)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        if _, err := r.GetByID(ctx, id); err != nil {
            return err
        }
    }
    return nil
}

// AdminSummary aggregates the operational numbers the admin status
// endpoint reports for one event.
type AdminSummary struct {
    Event              model.Event `json:"event"`
    ActiveReservations int         `json:"active_reservations"`
    HeldQuantity       int         `json:"held_quantity"`
    PaidOrders         int         `json:"paid_orders"`
    SoldQuantity       int         `json:"sold_quantity"`
    TicketsIssued      int         `json:"tickets_issued"`
}

// Summary builds the admin view of one event: hold and order counts plus
// issued tickets, computed at the given instant.
func (r *EventRepo) Summary(ctx context.Context, id string, now time.Time) (*AdminSummary, error) {
    e, err := r.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    s := AdminSummary{Event: *e}
    const holdQ = `SELECT COUNT(*), COALESCE(SUM(quantity), 0)
                   FROM reservations
                   WHERE event_id = ? AND status = 'active' AND expires_at > ?`
    if err := r.db.QueryRowContext(ctx, holdQ, id, now.UTC()).Scan(&s.ActiveReservations, &s.HeldQuantity); err != nil {
        return nil, err
    }
    const orderQ = `SELECT COUNT(*), COALESCE(SUM(quantity), 0)
                    FROM orders WHERE event_id = ? AND status = 'paid'`
    if err := r.db.QueryRowContext(ctx, orderQ, id).Scan(&s.PaidOrders, &s.SoldQuantity); err != nil {
        return nil, err
    }
    const ticketQ = `SELECT COUNT(*) FROM tickets WHERE event_id = ?`
    if err := r.db.QueryRowContext(ctx, ticketQ, id).Scan(&s.TicketsIssued); err != nil {
        return nil, err
    }
    return &s, nil
}
