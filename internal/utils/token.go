package utils // package utils provides helpers for token minting and ticket signing

import (
    "crypto/rand"   // secure random number generation
    "encoding/hex"  // hex encoding of random bytes

    "github.com/google/uuid"
)

// RandomToken generates a random hexadecimal string of n bytes (2n hex
// characters).  The underlying call to crypto/rand ensures
// cryptographically secure random bytes.  Queue tokens use 32 bytes;
// ticket codes use 16.  On failure it returns an error.
func RandomToken(n int) (string, error) {
    b := make([]byte, n)
    if _, err := rand.Read(b); err != nil {
        return "", err
    }
    return hex.EncodeToString(b), nil
}

// NewID mints a fresh UUID string.  All durable rows (events, tiers,
// reservations, sessions, orders, tickets) are keyed by these.
func NewID() string {
    return uuid.NewString()
}

// NewTicketCode mints an opaque admission code.  16 random bytes keeps the
// code short enough for QR payloads while making collisions vanishingly
// unlikely; the unique index on tickets.code is the final arbiter.
func NewTicketCode() (string, error) {
    return RandomToken(16)
}
