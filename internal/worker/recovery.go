// Package worker contains the periodic recovery sweep: it expires stale
// inventory holds and repairs paid orders missing tickets.  The worker is
// the only component allowed to move reservations to expired without an
// explicit user action, and it is what makes ticket issuance eventually
// complete for any paid order holding fewer tickets than its quantity (for
// instance when INSERT IGNORE skipped a row whose code collided).
package worker

import (
    "context"
    "database/sql"
    "log"
    "time"

    "github.com/iliyamo/ticket-rush/internal/repository"
)

// shortfallBatch bounds how many orders a single repair pass touches.
const shortfallBatch = 500

// Recovery runs both maintenance passes on a fixed interval.  Every pass
// is transactional and idempotent, so replicas may run concurrently and
// overlapping invocations are safe.
type Recovery struct {
    db              *sql.DB
    reservationRepo *repository.ReservationRepo
    orderRepo       *repository.OrderRepo
    ticketRepo      *repository.TicketRepo
    qrSecret        string
    interval        time.Duration
}

// NewRecovery constructs the worker.
func NewRecovery(db *sql.DB, reservationRepo *repository.ReservationRepo,
    orderRepo *repository.OrderRepo, ticketRepo *repository.TicketRepo,
    qrSecret string, interval time.Duration) *Recovery {
    if db == nil || reservationRepo == nil || orderRepo == nil || ticketRepo == nil {
        panic("nil dependency passed to NewRecovery")
    }
    return &Recovery{
        db:              db,
        reservationRepo: reservationRepo,
        orderRepo:       orderRepo,
        ticketRepo:      ticketRepo,
        qrSecret:        qrSecret,
        interval:        interval,
    }
}

// Run loops until the context is cancelled.  Each cycle's errors are
// logged and swallowed; a failed sweep simply retries next tick.
func (w *Recovery) Run(ctx context.Context) {
    log.Printf("recovery-worker: starting (interval=%s)", w.interval)
    ticker := time.NewTicker(w.interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            log.Printf("recovery-worker: stopping: %v", ctx.Err())
            return
        case <-ticker.C:
            w.RunOnce(ctx)
        }
    }
}

// RunOnce executes one cycle: Pass A (expire stale holds) then Pass B
// (repair ticket shortfalls), each in its own transaction scope.  Exposed
// separately so deployments without an always-on process can drive it
// from an external timer.
func (w *Recovery) RunOnce(ctx context.Context) {
    if n, err := w.expireHolds(ctx); err != nil {
        log.Printf("recovery-worker: expire pass failed: %v", err)
    } else if n > 0 {
        log.Printf("recovery-worker: expired %d stale holds", n)
    }

    if n, err := w.repairTickets(ctx); err != nil {
        log.Printf("recovery-worker: repair pass failed: %v", err)
    } else if n > 0 {
        log.Printf("recovery-worker: issued %d missing tickets", n)
    }
}

// expireHolds is Pass A.  Availability is always computed from active
// unexpired rows, so flipping the status is the whole correction; expired
// rows never re-match the WHERE clause, which makes the pass idempotent.
func (w *Recovery) expireHolds(ctx context.Context) (int64, error) {
    return w.reservationRepo.ExpireStale(ctx, time.Now().UTC())
}

// repairTickets is Pass B.  For each paid order with fewer tickets than
// quantity it locks the order row, re-counts under the lock and inserts
// the shortfall with fresh codes.  INSERT IGNORE on the unique code index
// means a concurrent confirmation replay can never produce duplicates.
func (w *Recovery) repairTickets(ctx context.Context) (int, error) {
    shortfalls, err := w.orderRepo.ListTicketShortfalls(ctx, shortfallBatch)
    if err != nil {
        return 0, err
    }
    issued := 0
    for _, s := range shortfalls {
        n, err := w.repairOne(ctx, s.Order.ID)
        if err != nil {
            log.Printf("recovery-worker: repair order %s failed: %v", s.Order.ID, err)
            continue
        }
        issued += n
    }
    return issued, nil
}

func (w *Recovery) repairOne(ctx context.Context, orderID string) (int, error) {
    tx, err := w.db.BeginTx(ctx, nil)
    if err != nil {
        return 0, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    order, err := w.orderRepo.GetForUpdateTx(ctx, tx, orderID)
    if err != nil {
        return 0, err
    }
    have, err := w.ticketRepo.CountByOrderTx(ctx, tx, order.ID)
    if err != nil {
        return 0, err
    }
    missing := order.Quantity - have
    if missing <= 0 {
        // Someone else repaired it between the scan and the lock.
        _ = tx.Rollback()
        committed = true
        return 0, nil
    }
    tickets, err := repository.Mint(order, missing, w.qrSecret)
    if err != nil {
        return 0, err
    }
    if err := w.ticketRepo.InsertIgnoreTx(ctx, tx, tickets); err != nil {
        return 0, err
    }
    if err := tx.Commit(); err != nil {
        return 0, err
    }
    committed = true
    return missing, nil
}
