package model

import (
    "errors"
    "strings"
    "time"
)

// Tier is a named, quantity-only inventory bucket under an event.  Seats
// within a tier are interchangeable; there is no seat-level selection.
//
// Fields:
//  ID           – primary key (UUID).
//  EventID      – owning event.
//  Name         – unique within the event (e.g. "GA", "Balcony").
//  PriceCents   – unit price in cents.
//  Capacity     – total sellable units.
//  PerUserLimit – max units a single hold may request from this tier.
//  CreatedAt    – creation timestamp.
type Tier struct {
    ID           string    `json:"id"`
    EventID      string    `json:"event_id"`
    Name         string    `json:"name"`
    PriceCents   int64     `json:"price_cents"`
    Capacity     int       `json:"capacity"`
    PerUserLimit int       `json:"per_user_limit"`
    CreatedAt    time.Time `json:"created_at"`
}

// Validate checks tier invariants prior to persistence.
func (t *Tier) Validate() error {
    if strings.TrimSpace(t.Name) == "" {
        return errors.New("tier name is required")
    }
    if t.PriceCents < 0 {
        return errors.New("tier price cannot be negative")
    }
    if t.Capacity < 0 {
        return errors.New("tier capacity cannot be negative")
    }
    if t.PerUserLimit < 1 {
        return errors.New("tier per_user_limit must be at least 1")
    }
    return nil
}
