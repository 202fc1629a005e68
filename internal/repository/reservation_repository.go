package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/utils"
)

// ReservationRepo provides data access to the reservations table.  All
// mutation paths that matter for inventory accounting run inside caller
// supplied transactions; the Tx methods are the primitives the reserve
// and confirm flows compose while holding the tier or reservation row
// lock.  All timestamps are UTC.
type ReservationRepo struct {
    db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle so handlers can open transactions.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

const reservationColumns = `id, event_id, tier_id, user_id, quantity, status, expires_at, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (*model.Reservation, error) {
    var res model.Reservation
    if err := row.Scan(&res.ID, &res.EventID, &res.TierID, &res.UserID,
        &res.Quantity, &res.Status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
        return nil, err
    }
    return &res, nil
}

// UserTotalsTx computes the user's paid and actively-held quantities for
// one event at the given instant.  Called while the tier row lock is held
// so the numbers cannot move under the purchase-cap check.
func (r *ReservationRepo) UserTotalsTx(ctx context.Context, tx *sql.Tx, eventID, userID string, now time.Time) (paid, held int, err error) {
    const paidQ = `SELECT COALESCE(SUM(quantity), 0) FROM orders
                   WHERE event_id = ? AND user_id = ? AND status = 'paid'`
    if err = tx.QueryRowContext(ctx, paidQ, eventID, userID).Scan(&paid); err != nil {
        return 0, 0, err
    }
    const heldQ = `SELECT COALESCE(SUM(quantity), 0) FROM reservations
                   WHERE event_id = ? AND user_id = ? AND status = 'active' AND expires_at > ?`
    if err = tx.QueryRowContext(ctx, heldQ, eventID, userID, now.UTC()).Scan(&held); err != nil {
        return 0, 0, err
    }
    return paid, held, nil
}

// HasActiveTx reports whether the user already has an active unexpired
// reservation for the event.  One in-flight hold per user per event.
func (r *ReservationRepo) HasActiveTx(ctx context.Context, tx *sql.Tx, eventID, userID string, now time.Time) (bool, error) {
    const q = `SELECT EXISTS(SELECT 1 FROM reservations
               WHERE event_id = ? AND user_id = ? AND status = 'active' AND expires_at > ?)`
    var exists bool
    if err := tx.QueryRowContext(ctx, q, eventID, userID, now.UTC()).Scan(&exists); err != nil {
        return false, err
    }
    return exists, nil
}

// TierUsageTx computes the occupied inventory of one tier: quantities in
// active unexpired reservations plus quantities in paid orders.  Must be
// called with the tier row locked; together with CreateTx this is the
// linearised check-then-insert that forbids overselling.
func (r *ReservationRepo) TierUsageTx(ctx context.Context, tx *sql.Tx, tierID string, now time.Time) (reserved, sold int, err error) {
    const resQ = `SELECT COALESCE(SUM(quantity), 0) FROM reservations
                  WHERE tier_id = ? AND status = 'active' AND expires_at > ?`
    if err = tx.QueryRowContext(ctx, resQ, tierID, now.UTC()).Scan(&reserved); err != nil {
        return 0, 0, err
    }
    const soldQ = `SELECT COALESCE(SUM(quantity), 0) FROM orders
                   WHERE tier_id = ? AND status = 'paid'`
    if err = tx.QueryRowContext(ctx, soldQ, tierID).Scan(&sold); err != nil {
        return 0, 0, err
    }
    return reserved, sold, nil
}

// CreateTx inserts a new active reservation within the transaction and
// reads the full row back to populate generated timestamps.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
    if res.ID == "" {
        res.ID = utils.NewID()
    }
    const q = `INSERT INTO reservations (id, event_id, tier_id, user_id, quantity, status, expires_at)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
    if _, err := tx.ExecContext(ctx, q, res.ID, res.EventID, res.TierID,
        res.UserID, res.Quantity, res.Status, res.ExpiresAt.UTC()); err != nil {
        return err
    }
    const sel = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
    got, err := scanReservation(tx.QueryRowContext(ctx, sel, res.ID))
    if err != nil {
        return err
    }
    *res = *got
    return nil
}

// GetByID returns a reservation by primary key.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
    res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
    if err == sql.ErrNoRows {
        return nil, ErrReservationInvalid
    }
    if err != nil {
        return nil, err
    }
    return res, nil
}

// GetForUpdateTx loads a reservation under an exclusive row lock.  The
// confirmation flow serialises on this lock so at most one of order
// creation, expiration or cancellation wins per reservation.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
    res, err := scanReservation(tx.QueryRowContext(ctx, q, id))
    if err == sql.ErrNoRows {
        return nil, ErrReservationInvalid
    }
    if err != nil {
        return nil, err
    }
    return res, nil
}

// UpdateStatusTx transitions a reservation to the given status within the
// transaction.
func (r *ReservationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
    _, err := tx.ExecContext(ctx, `UPDATE reservations SET status = ? WHERE id = ?`, status, id)
    return err
}

// ExtendTx pushes the reservation's expiry to the given instant.  Session
// creation uses this to give the buyer a fresh payment window.
func (r *ReservationRepo) ExtendTx(ctx context.Context, tx *sql.Tx, id string, until time.Time) error {
    _, err := tx.ExecContext(ctx, `UPDATE reservations SET expires_at = ? WHERE id = ?`, until.UTC(), id)
    return err
}

// ActiveReservationView joins a reservation with its tier for display.
type ActiveReservationView struct {
    Reservation model.Reservation `json:"reservation"`
    Tier        model.Tier        `json:"tier"`
}

// LookupActive returns the most recently created active unexpired
// reservation for the user on the event, joined with its tier, or
// ErrReservationInvalid when none exists.
func (r *ReservationRepo) LookupActive(ctx context.Context, eventID, userID string, now time.Time) (*ActiveReservationView, error) {
    const q = `SELECT r.id, r.event_id, r.tier_id, r.user_id, r.quantity, r.status, r.expires_at, r.created_at, r.updated_at,
                      t.id, t.event_id, t.name, t.price_cents, t.capacity, t.per_user_limit, t.created_at
               FROM reservations r
               JOIN tiers t ON t.id = r.tier_id
               WHERE r.event_id = ? AND r.user_id = ? AND r.status = 'active' AND r.expires_at > ?
               ORDER BY r.created_at DESC
               LIMIT 1`
    var v ActiveReservationView
    err := r.db.QueryRowContext(ctx, q, eventID, userID, now.UTC()).Scan(
        &v.Reservation.ID, &v.Reservation.EventID, &v.Reservation.TierID, &v.Reservation.UserID,
        &v.Reservation.Quantity, &v.Reservation.Status, &v.Reservation.ExpiresAt,
        &v.Reservation.CreatedAt, &v.Reservation.UpdatedAt,
        &v.Tier.ID, &v.Tier.EventID, &v.Tier.Name, &v.Tier.PriceCents,
        &v.Tier.Capacity, &v.Tier.PerUserLimit, &v.Tier.CreatedAt,
    )
    if err == sql.ErrNoRows {
        return nil, ErrReservationInvalid
    }
    if err != nil {
        return nil, err
    }
    return &v, nil
}

// ExpireStale flips every active reservation whose expiry has passed to
// expired and returns the number of rows changed.  Availability is always
// computed from active unexpired rows, so the capacity accounting corrects
// itself the moment the status flips; no counter adjustment is needed.
// Idempotent: expired rows never re-match the WHERE clause.
func (r *ReservationRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
    const q = `UPDATE reservations SET status = 'expired'
               WHERE status = 'active' AND expires_at <= ?`
    res, err := r.db.ExecContext(ctx, q, now.UTC())
    if err != nil {
        return 0, err
    }
    return res.RowsAffected()
}
