package model

import "time"

// Order statuses.  Orders are immutable records of settled purchases;
// refunded and canceled exist for back-office corrections and do not occur
// in the buyer flow.
const (
    OrderStatusPaid     = "paid"
    OrderStatusRefunded = "refunded"
    OrderStatusCanceled = "canceled"
)

// Order is the immutable record of a paid purchase.  Exactly one order
// exists per completed checkout session.
//
// Fields:
//  ID              – primary key (UUID).
//  SessionID       – completed checkout session (unique).
//  EventID         – event purchased.
//  TierID          – tier purchased.
//  UserID          – opaque buyer identity.
//  Quantity        – units purchased.
//  TotalPriceCents – quantity × tier price at purchase time.
//  Status          – paid/refunded/canceled.
//  CreatedAt       – creation timestamp.
type Order struct {
    ID              string    `json:"id"`
    SessionID       string    `json:"session_id"`
    EventID         string    `json:"event_id"`
    TierID          string    `json:"tier_id"`
    UserID          string    `json:"user_id"`
    Quantity        int       `json:"quantity"`
    TotalPriceCents int64     `json:"total_price_cents"`
    Status          string    `json:"status"`
    CreatedAt       time.Time `json:"created_at"`
}
