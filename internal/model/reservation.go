package model

import "time"

// Reservation statuses.  A reservation occupies inventory only while it is
// active and unexpired; the recovery worker flips stale active rows to
// expired, and checkout confirmation settles the hold to converted or
// canceled.
const (
    ReservationStatusActive    = "active"
    ReservationStatusExpired   = "expired"
    ReservationStatusConverted = "converted"
    ReservationStatusCanceled  = "canceled"
)

// Reservation is a TTL-bounded hold on a quantity of a tier.
//
// Fields:
//  ID        – primary key (UUID).
//  EventID   – event the hold belongs to.
//  TierID    – tier whose capacity is being claimed.
//  UserID    – opaque buyer identity.
//  Quantity  – units held (≥ 1).
//  Status    – lifecycle state (active/expired/converted/canceled).
//  ExpiresAt – instant after which the hold stops counting.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Reservation struct {
    ID        string    `json:"id"`
    EventID   string    `json:"event_id"`
    TierID    string    `json:"tier_id"`
    UserID    string    `json:"user_id"`
    Quantity  int       `json:"quantity"`
    Status    string    `json:"status"`
    ExpiresAt time.Time `json:"expires_at"`
    CreatedAt time.Time `json:"created_at"`
    UpdatedAt time.Time `json:"updated_at"`
}

// Holding reports whether the reservation occupies inventory at the given
// instant.
func (r *Reservation) Holding(now time.Time) bool {
    return r.Status == ReservationStatusActive && r.ExpiresAt.After(now)
}
