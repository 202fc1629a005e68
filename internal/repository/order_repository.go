package repository

import (
    "context"
    "database/sql"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/utils"
)

// OrderRepo provides data access to the orders table.  Orders are written
// exactly once per completed checkout session; the unique index on
// session_id backs that guarantee at the storage layer.
type OrderRepo struct {
    db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, session_id, event_id, tier_id, user_id, quantity, total_price_cents, status, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*model.Order, error) {
    var o model.Order
    if err := row.Scan(&o.ID, &o.SessionID, &o.EventID, &o.TierID, &o.UserID,
        &o.Quantity, &o.TotalPriceCents, &o.Status, &o.CreatedAt); err != nil {
        return nil, err
    }
    return &o, nil
}

// CreateTx inserts a paid order within the transaction.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
    if o.ID == "" {
        o.ID = utils.NewID()
    }
    const q = `INSERT INTO orders (id, session_id, event_id, tier_id, user_id, quantity, total_price_cents, status)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
    if _, err := tx.ExecContext(ctx, q, o.ID, o.SessionID, o.EventID, o.TierID,
        o.UserID, o.Quantity, o.TotalPriceCents, o.Status); err != nil {
        return err
    }
    const sel = `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
    got, err := scanOrder(tx.QueryRowContext(ctx, sel, o.ID))
    if err != nil {
        return err
    }
    *o = *got
    return nil
}

// GetBySessionTx returns the order created for a session, if any.  The
// confirmation flow uses this as its idempotent replay check: when an
// order already exists the earlier confirmation won and its result is
// returned verbatim.
func (r *OrderRepo) GetBySessionTx(ctx context.Context, tx *sql.Tx, sessionID string) (*model.Order, error) {
    const q = `SELECT ` + orderColumns + ` FROM orders WHERE session_id = ?`
    o, err := scanOrder(tx.QueryRowContext(ctx, q, sessionID))
    if err == sql.ErrNoRows {
        return nil, sql.ErrNoRows
    }
    if err != nil {
        return nil, err
    }
    return o, nil
}

// GetForUpdateTx locks an order row for the remainder of the transaction.
// The recovery worker holds this lock while repairing ticket shortfalls so
// a concurrent confirmation replay cannot interleave.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*model.Order, error) {
    const q = `SELECT ` + orderColumns + ` FROM orders WHERE id = ? FOR UPDATE`
    return scanOrder(tx.QueryRowContext(ctx, q, id))
}

// TicketShortfall describes a paid order whose issued ticket count is
// below its quantity.
type TicketShortfall struct {
    Order       model.Order
    TicketCount int
}

// ListTicketShortfalls finds paid orders with fewer tickets than quantity.
// The recovery worker walks this list each cycle; a fully ticketed order
// never appears, which makes the sweep a no-op at steady state.
func (r *OrderRepo) ListTicketShortfalls(ctx context.Context, limit int) ([]TicketShortfall, error) {
    const q = `SELECT o.id, o.session_id, o.event_id, o.tier_id, o.user_id,
                      o.quantity, o.total_price_cents, o.status, o.created_at,
                      COUNT(t.id)
               FROM orders o
               LEFT JOIN tickets t ON t.order_id = o.id
               WHERE o.status = 'paid'
               GROUP BY o.id
               HAVING COUNT(t.id) < o.quantity
               ORDER BY o.created_at
               LIMIT ?`
    rows, err := r.db.QueryContext(ctx, q, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []TicketShortfall
    for rows.Next() {
        var s TicketShortfall
        if err := rows.Scan(&s.Order.ID, &s.Order.SessionID, &s.Order.EventID,
            &s.Order.TierID, &s.Order.UserID, &s.Order.Quantity,
            &s.Order.TotalPriceCents, &s.Order.Status, &s.Order.CreatedAt,
            &s.TicketCount); err != nil {
            return nil, err
        }
        out = append(out, s)
    }
    return out, rows.Err()
}
