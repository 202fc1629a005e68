package repository

import (
    "context"
    "database/sql"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/utils"
)

// TicketRepo provides data access to the tickets table.  Inserts go
// through INSERT IGNORE on the unique code index so a confirmation replay
// and a concurrent recovery sweep can both attempt issuance without ever
// producing duplicate rows.
type TicketRepo struct {
    db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `id, order_id, event_id, tier_id, user_id, code, qr_sig, created_at`

func scanTicket(row interface{ Scan(...any) error }) (*model.Ticket, error) {
    var t model.Ticket
    if err := row.Scan(&t.ID, &t.OrderID, &t.EventID, &t.TierID, &t.UserID,
        &t.Code, &t.QRSig, &t.CreatedAt); err != nil {
        return nil, err
    }
    return &t, nil
}

// InsertIgnoreTx inserts tickets within the transaction, silently skipping
// any row whose code already exists.  Passing an empty slice is a no-op.
func (r *TicketRepo) InsertIgnoreTx(ctx context.Context, tx *sql.Tx, tickets []model.Ticket) error {
    if len(tickets) == 0 {
        return nil
    }
    query := `INSERT IGNORE INTO tickets (id, order_id, event_id, tier_id, user_id, code, qr_sig) VALUES `
    args := make([]interface{}, 0, len(tickets)*7)
    for i := range tickets {
        t := &tickets[i]
        if t.ID == "" {
            t.ID = utils.NewID()
        }
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?, ?, ?, ?, ?)"
        args = append(args, t.ID, t.OrderID, t.EventID, t.TierID, t.UserID, t.Code, t.QRSig)
    }
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

// CountByOrderTx returns the number of tickets issued for an order, read
// within the transaction.
func (r *TicketRepo) CountByOrderTx(ctx context.Context, tx *sql.Tx, orderID string) (int, error) {
    var n int
    err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE order_id = ?`, orderID).Scan(&n)
    return n, err
}

// ListByOrder returns all tickets of an order ordered by creation.
func (r *TicketRepo) ListByOrder(ctx context.Context, orderID string) ([]model.Ticket, error) {
    const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE order_id = ? ORDER BY created_at, code`
    return r.list(ctx, q, orderID)
}

// ListByOrderTx is ListByOrder within an existing transaction.
func (r *TicketRepo) ListByOrderTx(ctx context.Context, tx *sql.Tx, orderID string) ([]model.Ticket, error) {
    const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE order_id = ? ORDER BY created_at, code`
    rows, err := tx.QueryContext(ctx, q, orderID)
    if err != nil {
        return nil, err
    }
    return collectTickets(rows)
}

// ListByUser returns every ticket issued to a user across events, newest
// first.  This backs the buyer's ticket wallet endpoint.
func (r *TicketRepo) ListByUser(ctx context.Context, userID string) ([]model.Ticket, error) {
    const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE user_id = ? ORDER BY created_at DESC, code`
    return r.list(ctx, q, userID)
}

func (r *TicketRepo) list(ctx context.Context, query string, args ...any) ([]model.Ticket, error) {
    rows, err := r.db.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    return collectTickets(rows)
}

func collectTickets(rows *sql.Rows) ([]model.Ticket, error) {
    defer rows.Close()
    tickets := make([]model.Ticket, 0)
    for rows.Next() {
        t, err := scanTicket(rows)
        if err != nil {
            return nil, err
        }
        tickets = append(tickets, *t)
    }
    return tickets, rows.Err()
}

// Mint builds the ticket rows for an order: one per unit, each with a
// fresh unique code and its QR signature.  The caller inserts them with
// InsertIgnoreTx.
func Mint(o *model.Order, count int, secret string) ([]model.Ticket, error) {
    tickets := make([]model.Ticket, 0, count)
    for i := 0; i < count; i++ {
        code, err := utils.NewTicketCode()
        if err != nil {
            return nil, err
        }
        tickets = append(tickets, model.Ticket{
            OrderID: o.ID,
            EventID: o.EventID,
            TierID:  o.TierID,
            UserID:  o.UserID,
            Code:    code,
            QRSig:   utils.TicketSignature(secret, code, o.ID, o.EventID),
        })
    }
    return tickets, nil
}
