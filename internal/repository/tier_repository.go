package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/utils"
)

// TierRepo provides data access to the tiers table.  The tier row is the
// serialisation point for reservation admission: GetForUpdateTx takes an
// exclusive lock that any concurrent reserve transaction must wait on.
type TierRepo struct {
    db *sql.DB
}

// NewTierRepo returns a new TierRepo bound to the provided database.
func NewTierRepo(db *sql.DB) *TierRepo { return &TierRepo{db: db} }

const tierColumns = `id, event_id, name, price_cents, capacity, per_user_limit, created_at`

func scanTier(row interface{ Scan(...any) error }) (*model.Tier, error) {
    var t model.Tier
    if err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.PriceCents,
        &t.Capacity, &t.PerUserLimit, &t.CreatedAt); err != nil {
        return nil, err
    }
    return &t, nil
}

// Create inserts a new tier after validating it.  The (event_id, name)
// unique index rejects duplicate names within an event.
func (r *TierRepo) Create(ctx context.Context, t *model.Tier) error {
    if err := t.Validate(); err != nil {
        return err
    }
    if t.ID == "" {
        t.ID = utils.NewID()
    }
    const q = `INSERT INTO tiers (id, event_id, name, price_cents, capacity, per_user_limit)
               VALUES (?, ?, ?, ?, ?, ?)`
    if _, err := r.db.ExecContext(ctx, q, t.ID, t.EventID, t.Name,
        t.PriceCents, t.Capacity, t.PerUserLimit); err != nil {
        return err
    }
    const sel = `SELECT ` + tierColumns + ` FROM tiers WHERE id = ?`
    got, err := scanTier(r.db.QueryRowContext(ctx, sel, t.ID))
    if err != nil {
        return err
    }
    *t = *got
    return nil
}

// GetByID returns the tier with the given ID, restricted to the given
// event.  Returns ErrTierNotFound when no such row exists.
func (r *TierRepo) GetByID(ctx context.Context, eventID, tierID string) (*model.Tier, error) {
    const q = `SELECT ` + tierColumns + ` FROM tiers WHERE id = ? AND event_id = ?`
    t, err := scanTier(r.db.QueryRowContext(ctx, q, tierID, eventID))
    if err == sql.ErrNoRows {
        return nil, ErrTierNotFound
    }
    if err != nil {
        return nil, err
    }
    return t, nil
}

// GetForUpdateTx loads the tier row under an exclusive lock for the
// remainder of the transaction.  Every reserve transaction for the same
// tier serialises on this lock, which is what keeps the availability
// check-then-insert oversell-safe.  Cross-tier traffic is unaffected.
func (r *TierRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, eventID, tierID string) (*model.Tier, error) {
    const q = `SELECT ` + tierColumns + ` FROM tiers WHERE id = ? AND event_id = ? FOR UPDATE`
    t, err := scanTier(tx.QueryRowContext(ctx, q, tierID, eventID))
    if err == sql.ErrNoRows {
        return nil, ErrTierNotFound
    }
    if err != nil {
        return nil, err
    }
    return t, nil
}

// GetTx loads a tier by primary key within a transaction, without a lock.
// The confirmation flow uses this for pricing; the reservation row lock it
// already holds is the serialisation point there.
func (r *TierRepo) GetTx(ctx context.Context, tx *sql.Tx, tierID string) (*model.Tier, error) {
    const q = `SELECT ` + tierColumns + ` FROM tiers WHERE id = ?`
    t, err := scanTier(tx.QueryRowContext(ctx, q, tierID))
    if err == sql.ErrNoRows {
        return nil, ErrTierNotFound
    }
    if err != nil {
        return nil, err
    }
    return t, nil
}

// ListByEvent returns all tiers under an event ordered by name.
func (r *TierRepo) ListByEvent(ctx context.Context, eventID string) ([]model.Tier, error) {
    const q = `SELECT ` + tierColumns + ` FROM tiers WHERE event_id = ? ORDER BY name`
    rows, err := r.db.QueryContext(ctx, q, eventID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    tiers := make([]model.Tier, 0)
    for rows.Next() {
        t, err := scanTier(rows)
        if err != nil {
            return nil, err
        }
        tiers = append(tiers, *t)
    }
    return tiers, rows.Err()
}

// TierAvailability is the public availability view for one tier:
// capacity minus currently held and sold units.
type TierAvailability struct {
    Tier      model.Tier `json:"tier"`
    Reserved  int        `json:"reserved"`
    Sold      int        `json:"sold"`
    Available int        `json:"available"`
}

// Availability computes the remaining units for every tier of an event at
// the given instant.  The numbers are advisory (the reservation
// transaction re-derives them under lock); this read takes no locks so it
// can serve high-volume polling.
func (r *TierRepo) Availability(ctx context.Context, eventID string, now time.Time) ([]TierAvailability, error) {
    tiers, err := r.ListByEvent(ctx, eventID)
    if err != nil {
        return nil, err
    }
    out := make([]TierAvailability, 0, len(tiers))
    const q = `SELECT
                   COALESCE((SELECT SUM(quantity) FROM reservations
                             WHERE tier_id = ? AND status = 'active' AND expires_at > ?), 0),
                   COALESCE((SELECT SUM(quantity) FROM orders
                             WHERE tier_id = ? AND status = 'paid'), 0)`
    for _, t := range tiers {
        var reserved, sold int
        if err := r.db.QueryRowContext(ctx, q, t.ID, now.UTC(), t.ID).Scan(&reserved, &sold); err != nil {
            return nil, err
        }
        avail := t.Capacity - reserved - sold
        if avail < 0 {
            avail = 0
        }
        out = append(out, TierAvailability{Tier: t, Reserved: reserved, Sold: sold, Available: avail})
    }
    return out, nil
}
