package model

import "time"

// Checkout session statuses.
const (
    SessionStatusPending   = "pending"
    SessionStatusCompleted = "completed"
    SessionStatusFailed    = "failed"
    SessionStatusExpired   = "expired"
)

// CheckoutSession is the idempotency envelope around a pending payment.
// The globally unique idempotency key lets a client retry session creation
// safely; the unique index on it is the coordination point.
//
// Fields:
//  ID             – primary key (UUID).
//  ReservationID  – the hold being paid for.
//  UserID         – opaque buyer identity.
//  IdempotencyKey – caller-chosen key; at most one session per key.
//  Status         – lifecycle state (pending/completed/failed/expired).
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type CheckoutSession struct {
    ID             string    `json:"id"`
    ReservationID  string    `json:"reservation_id"`
    UserID         string    `json:"user_id"`
    IdempotencyKey string    `json:"idempotency_key"`
    Status         string    `json:"status"`
    CreatedAt      time.Time `json:"created_at"`
    UpdatedAt      time.Time `json:"updated_at"`
}
