package model

import "time"

// Ticket is one issued seat.  Exactly order.Quantity tickets exist per paid
// order, eventually; the recovery worker repairs shortfalls.  Code is a
// globally unique opaque string and QRSig is a keyed MAC over the ticket's
// identifying fields so gate-side validators can verify without a database
// round trip.
//
// Fields:
//  ID        – primary key (UUID).
//  OrderID   – owning order.
//  EventID   – event the ticket admits to.
//  TierID    – tier the ticket was issued from.
//  UserID    – opaque buyer identity.
//  Code      – globally unique opaque admission code.
//  QRSig     – lowercase-hex HMAC-SHA256 over code, order and event.
//  CreatedAt – issuance timestamp.
type Ticket struct {
    ID        string    `json:"id"`
    OrderID   string    `json:"order_id"`
    EventID   string    `json:"event_id"`
    TierID    string    `json:"tier_id"`
    UserID    string    `json:"user_id"`
    Code      string    `json:"code"`
    QRSig     string    `json:"qr_sig"`
    CreatedAt time.Time `json:"created_at"`
}
