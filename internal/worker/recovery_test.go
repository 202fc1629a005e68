package worker

import (
    "context"
    "database/sql"
    "os"
    "testing"
    "time"

    "github.com/iliyamo/ticket-rush/internal/database"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/repository"
    "github.com/iliyamo/ticket-rush/internal/utils"
)

func newTestDB(t *testing.T) *sql.DB {
    t.Helper()
    dsn := os.Getenv("TEST_MYSQL_DSN")
    if dsn == "" {
        t.Skip("integration test requires TEST_MYSQL_DSN")
    }
    db, err := sql.Open("mysql", dsn)
    if err != nil {
        t.Fatalf("open mysql: %v", err)
    }
    ctx := context.Background()
    if err := db.PingContext(ctx); err != nil {
        t.Skipf("mysql unreachable: %v", err)
    }
    if err := database.Migrate(ctx, db); err != nil {
        t.Fatalf("migrate: %v", err)
    }
    for _, table := range []string{"tickets", "orders", "checkout_sessions", "reservations", "tiers", "events"} {
        if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
            t.Fatalf("clean %s: %v", table, err)
        }
    }
    t.Cleanup(func() { db.Close() })
    return db
}

// seedPaidOrder writes an event, tier, reservation, completed session and
// paid order for quantity units, issuing no tickets.
func seedPaidOrder(t *testing.T, db *sql.DB, quantity int) *model.Order {
    t.Helper()
    ctx := context.Background()
    now := time.Now().UTC()

    events := repository.NewEventRepo(db)
    tiers := repository.NewTierRepo(db)

    ev := model.Event{
        Name: "Repair Target", Venue: "Test Hall",
        StartsAt: now.Add(24 * time.Hour), OnSaleAt: now.Add(-time.Hour),
        Status: model.EventStatusOnSale,
    }
    if err := events.Create(ctx, &ev); err != nil {
        t.Fatalf("create event: %v", err)
    }
    tier := model.Tier{EventID: ev.ID, Name: "GA", PriceCents: 1000, Capacity: 50, PerUserLimit: 6}
    if err := tiers.Create(ctx, &tier); err != nil {
        t.Fatalf("create tier: %v", err)
    }

    resID, sessID, orderID := utils.NewID(), utils.NewID(), utils.NewID()
    if _, err := db.ExecContext(ctx,
        `INSERT INTO reservations (id, event_id, tier_id, user_id, quantity, status, expires_at)
         VALUES (?, ?, ?, 'worker-user', ?, 'converted', ?)`,
        resID, ev.ID, tier.ID, quantity, now.Add(3*time.Minute)); err != nil {
        t.Fatalf("seed reservation: %v", err)
    }
    if _, err := db.ExecContext(ctx,
        `INSERT INTO checkout_sessions (id, reservation_id, user_id, idempotency_key, status)
         VALUES (?, ?, 'worker-user', ?, 'completed')`,
        sessID, resID, utils.NewID()); err != nil {
        t.Fatalf("seed session: %v", err)
    }
    if _, err := db.ExecContext(ctx,
        `INSERT INTO orders (id, session_id, event_id, tier_id, user_id, quantity, total_price_cents, status)
         VALUES (?, ?, ?, ?, 'worker-user', ?, ?, 'paid')`,
        orderID, sessID, ev.ID, tier.ID, quantity, int64(quantity)*1000); err != nil {
        t.Fatalf("seed order: %v", err)
    }
    return &model.Order{ID: orderID, EventID: ev.ID, TierID: tier.ID, UserID: "worker-user", Quantity: quantity}
}

func newRecovery(db *sql.DB) *Recovery {
    return NewRecovery(db,
        repository.NewReservationRepo(db),
        repository.NewOrderRepo(db),
        repository.NewTicketRepo(db),
        "worker-test-secret", time.Minute)
}

func TestRepairMissingTickets(t *testing.T) {
    db := newTestDB(t)
    order := seedPaidOrder(t, db, 3)
    w := newRecovery(db)
    ctx := context.Background()

    w.RunOnce(ctx)

    tickets, err := repository.NewTicketRepo(db).ListByOrder(ctx, order.ID)
    if err != nil {
        t.Fatalf("list tickets: %v", err)
    }
    if len(tickets) != 3 {
        t.Fatalf("tickets = %d, want 3", len(tickets))
    }
    codes := map[string]bool{}
    for _, tk := range tickets {
        if codes[tk.Code] {
            t.Errorf("duplicate code %s", tk.Code)
        }
        codes[tk.Code] = true
        if !utils.VerifyTicketSignature("worker-test-secret", tk.Code, order.ID, order.EventID, tk.QRSig) {
            t.Errorf("ticket %s signature does not verify", tk.Code)
        }
    }
}

func TestWorkerIdempotence(t *testing.T) {
    db := newTestDB(t)
    order := seedPaidOrder(t, db, 3)
    w := newRecovery(db)
    ctx := context.Background()

    // Running the sweep repeatedly over the same state must change
    // nothing after the first pass.
    var firstCodes []string
    for i := 0; i < 3; i++ {
        w.RunOnce(ctx)
        tickets, err := repository.NewTicketRepo(db).ListByOrder(ctx, order.ID)
        if err != nil {
            t.Fatalf("list tickets: %v", err)
        }
        if len(tickets) != 3 {
            t.Fatalf("run %d: tickets = %d, want 3", i, len(tickets))
        }
        codes := make([]string, len(tickets))
        for j, tk := range tickets {
            codes[j] = tk.Code
        }
        if i == 0 {
            firstCodes = codes
            continue
        }
        for j := range codes {
            if codes[j] != firstCodes[j] {
                t.Errorf("run %d: ticket set changed: %v vs %v", i, codes, firstCodes)
                break
            }
        }
    }
}

func TestExpireStaleHolds(t *testing.T) {
    db := newTestDB(t)
    ctx := context.Background()
    now := time.Now().UTC()

    events := repository.NewEventRepo(db)
    tiers := repository.NewTierRepo(db)
    ev := model.Event{
        Name: "Expiry Target", Venue: "Test Hall",
        StartsAt: now.Add(24 * time.Hour), OnSaleAt: now.Add(-time.Hour),
        Status: model.EventStatusOnSale,
    }
    if err := events.Create(ctx, &ev); err != nil {
        t.Fatal(err)
    }
    tier := model.Tier{EventID: ev.ID, Name: "GA", PriceCents: 1000, Capacity: 50, PerUserLimit: 6}
    if err := tiers.Create(ctx, &tier); err != nil {
        t.Fatal(err)
    }

    insert := func(user string, expiresAt time.Time) string {
        id := utils.NewID()
        if _, err := db.ExecContext(ctx,
            `INSERT INTO reservations (id, event_id, tier_id, user_id, quantity, status, expires_at)
             VALUES (?, ?, ?, ?, 1, 'active', ?)`,
            id, ev.ID, tier.ID, user, expiresAt); err != nil {
            t.Fatalf("seed reservation: %v", err)
        }
        return id
    }
    stale := insert("stale-user", now.Add(-time.Minute))
    fresh := insert("fresh-user", now.Add(10*time.Minute))

    w := newRecovery(db)
    w.RunOnce(ctx)

    status := func(id string) string {
        var s string
        if err := db.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = ?`, id).Scan(&s); err != nil {
            t.Fatalf("status %s: %v", id, err)
        }
        return s
    }
    if got := status(stale); got != "expired" {
        t.Errorf("stale hold status = %s, want expired", got)
    }
    if got := status(fresh); got != "active" {
        t.Errorf("fresh hold status = %s, want active", got)
    }

    // A second pass must not touch the already-expired row.
    w.RunOnce(ctx)
    if got := status(stale); got != "expired" {
        t.Errorf("second pass changed stale hold to %s", got)
    }
}
