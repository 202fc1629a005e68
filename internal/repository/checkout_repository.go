package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/go-sql-driver/mysql"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/utils"
)

// CheckoutRepo provides data access to the checkout_sessions table.  The
// unique index on idempotency_key is the coordination point for retried
// session creation: the first insert wins, later attempts observe the
// duplicate-key error and fall back to the lookup.
type CheckoutRepo struct {
    db *sql.DB
}

// NewCheckoutRepo returns a new CheckoutRepo bound to the database.
func NewCheckoutRepo(db *sql.DB) *CheckoutRepo { return &CheckoutRepo{db: db} }

// DB exposes the underlying handle so handlers can open transactions.
func (r *CheckoutRepo) DB() *sql.DB { return r.db }

const sessionColumns = `id, reservation_id, user_id, idempotency_key, status, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*model.CheckoutSession, error) {
    var s model.CheckoutSession
    if err := row.Scan(&s.ID, &s.ReservationID, &s.UserID, &s.IdempotencyKey,
        &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
        return nil, err
    }
    return &s, nil
}

// GetByKey returns the session with the given idempotency key, or
// ErrSessionNotFound.
func (r *CheckoutRepo) GetByKey(ctx context.Context, key string) (*model.CheckoutSession, error) {
    const q = `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE idempotency_key = ?`
    s, err := scanSession(r.db.QueryRowContext(ctx, q, key))
    if err == sql.ErrNoRows {
        return nil, ErrSessionNotFound
    }
    if err != nil {
        return nil, err
    }
    return s, nil
}

// GetByID returns the session by primary key, or ErrSessionNotFound.
func (r *CheckoutRepo) GetByID(ctx context.Context, id string) (*model.CheckoutSession, error) {
    const q = `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = ?`
    s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
    if err == sql.ErrNoRows {
        return nil, ErrSessionNotFound
    }
    if err != nil {
        return nil, err
    }
    return s, nil
}

// GetByIDTx is GetByID within an existing transaction.
func (r *CheckoutRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.CheckoutSession, error) {
    const q = `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = ?`
    s, err := scanSession(tx.QueryRowContext(ctx, q, id))
    if err == sql.ErrNoRows {
        return nil, ErrSessionNotFound
    }
    if err != nil {
        return nil, err
    }
    return s, nil
}

// PendingByReservationTx returns the pending session already referencing
// the reservation, if any.  Session creation uses this so two different
// idempotency keys cannot open competing sessions for the same hold.
func (r *CheckoutRepo) PendingByReservationTx(ctx context.Context, tx *sql.Tx, reservationID string) (*model.CheckoutSession, error) {
    const q = `SELECT ` + sessionColumns + ` FROM checkout_sessions
               WHERE reservation_id = ? AND status = 'pending'
               ORDER BY created_at LIMIT 1`
    s, err := scanSession(tx.QueryRowContext(ctx, q, reservationID))
    if err == sql.ErrNoRows {
        return nil, ErrSessionNotFound
    }
    if err != nil {
        return nil, err
    }
    return s, nil
}

// CreateTx inserts a new pending session within the transaction.  It
// returns ErrDuplicateKey when a parallel caller won the unique-key
// insert; the caller resolves the race by re-reading by key.
func (r *CheckoutRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.CheckoutSession) error {
    if s.ID == "" {
        s.ID = utils.NewID()
    }
    const q = `INSERT INTO checkout_sessions (id, reservation_id, user_id, idempotency_key, status)
               VALUES (?, ?, ?, ?, ?)`
    if _, err := tx.ExecContext(ctx, q, s.ID, s.ReservationID, s.UserID, s.IdempotencyKey, s.Status); err != nil {
        if isDuplicateKey(err) {
            return ErrDuplicateKey
        }
        return err
    }
    const sel = `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = ?`
    got, err := scanSession(tx.QueryRowContext(ctx, sel, s.ID))
    if err != nil {
        return err
    }
    *s = *got
    return nil
}

// UpdateStatusTx transitions a session to the given status within the
// transaction.
func (r *CheckoutRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
    _, err := tx.ExecContext(ctx, `UPDATE checkout_sessions SET status = ? WHERE id = ?`, status, id)
    return err
}

// ErrDuplicateKey is surfaced by CreateTx when the idempotency-key unique
// index rejects the insert.
var ErrDuplicateKey = errors.New("duplicate key")

// isDuplicateKey recognises MySQL error 1062 (ER_DUP_ENTRY).
func isDuplicateKey(err error) bool {
    var me *mysql.MySQLError
    if errors.As(err, &me) {
        return me.Number == 1062
    }
    return false
}
