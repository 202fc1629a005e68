package handler_test

// End-to-end tests for the sale flow. They exercise the real router,
// handlers, repositories and waiting room against live MySQL and Redis
// instances and are skipped when TEST_MYSQL_DSN / TEST_REDIS_ADDR are not
// set. Suggested local setup:
//
//	TEST_MYSQL_DSN="root@tcp(localhost:3306)/ticketrush_test?charset=utf8mb4&parseTime=true&loc=UTC"
//	TEST_REDIS_ADDR="localhost:6379"

import (
    "bytes"
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "os"
    "sync"
    "testing"
    "time"

    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/ticket-rush/internal/config"
    "github.com/iliyamo/ticket-rush/internal/database"
    "github.com/iliyamo/ticket-rush/internal/handler"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/repository"
    "github.com/iliyamo/ticket-rush/internal/router"
    "github.com/iliyamo/ticket-rush/internal/utils"
    "github.com/iliyamo/ticket-rush/internal/waitingroom"

    "github.com/labstack/echo/v4"
)

const testQRSecret = "integration-test-secret"

type testEnv struct {
    db    *sql.DB
    rdb   *redis.Client
    e     *echo.Echo
    room  *waitingroom.Room
    repos struct {
        events       *repository.EventRepo
        tiers        *repository.TierRepo
        reservations *repository.ReservationRepo
        checkouts    *repository.CheckoutRepo
        orders       *repository.OrderRepo
        tickets      *repository.TicketRepo
    }
}

func newTestEnv(t *testing.T) *testEnv {
    t.Helper()
    dsn := os.Getenv("TEST_MYSQL_DSN")
    addr := os.Getenv("TEST_REDIS_ADDR")
    if dsn == "" || addr == "" {
        t.Skip("integration test requires TEST_MYSQL_DSN and TEST_REDIS_ADDR")
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

    rdb := redis.NewClient(&redis.Options{Addr: addr})
    if err := rdb.Ping(ctx).Err(); err != nil {
        t.Skipf("redis unreachable: %v", err)
    }
    if err := rdb.FlushDB(ctx).Err(); err != nil {
        t.Fatalf("flush redis: %v", err)
    }

    // Dependency order matters with foreign keys.
    for _, table := range []string{"tickets", "orders", "checkout_sessions", "reservations", "tiers", "events"} {
        if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
            t.Fatalf("clean %s: %v", table, err)
        }
    }

    env := &testEnv{db: db, rdb: rdb}
    env.repos.events = repository.NewEventRepo(db)
    env.repos.tiers = repository.NewTierRepo(db)
    env.repos.reservations = repository.NewReservationRepo(db)
    env.repos.checkouts = repository.NewCheckoutRepo(db)
    env.repos.orders = repository.NewOrderRepo(db)
    env.repos.tickets = repository.NewTicketRepo(db)

    env.room = waitingroom.New(rdb, waitingroom.Options{
        TokenTTL:     time.Hour,
        AdmissionTTL: 3 * time.Minute,
        WaveSize:     100,
        WaveInterval: 30 * time.Second,
    })

    handlers := router.Handlers{
        Health:      handler.NewHealthHandler(db, rdb),
        WaitingRoom: handler.NewWaitingRoomHandler(env.repos.events, env.room),
        Reservation: handler.NewReservationHandler(env.repos.events, env.repos.tiers,
            env.repos.reservations, env.room, 3*time.Minute, 6),
        Checkout: handler.NewCheckoutHandler(env.repos.checkouts, env.repos.reservations,
            env.repos.tiers, env.repos.orders, env.repos.tickets, 3*time.Minute, testQRSecret),
        Tickets: handler.NewTicketHandler(env.repos.tickets),
        Public:  handler.NewPublicHandler(env.repos.events, env.repos.tiers),
        Admin:   handler.NewAdminHandler(env.repos.events, env.repos.tiers, env.room),
    }

    env.e = echo.New()
    router.RegisterRoutes(env.e, handlers, rdb,
        config.CacheConfig{Enabled: false},
        config.RouteLimits{JoinPerMinute: 1000, SessionPerMinute: 1000, ConfirmPerMinute: 1000},
        "")

    t.Cleanup(func() {
        rdb.Close()
        db.Close()
    })
    return env
}

// do issues a request against the in-memory router.
func (env *testEnv) do(method, path, user string, body any, headers map[string]string) *httptest.ResponseRecorder {
    var buf bytes.Buffer
    if body != nil {
        _ = json.NewEncoder(&buf).Encode(body)
    }
    req := httptest.NewRequest(method, path, &buf)
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    if user != "" {
        req.Header.Set("X-User-Id", user)
    }
    for k, v := range headers {
        req.Header.Set(k, v)
    }
    rec := httptest.NewRecorder()
    env.e.ServeHTTP(rec, req)
    return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
    t.Helper()
    var body map[string]any
    if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
        t.Fatalf("response is not JSON (%d): %s", rec.Code, rec.Body.String())
    }
    return body
}

func (env *testEnv) createOnSaleEvent(t *testing.T, capacity, perUserLimit int) (*model.Event, *model.Tier) {
    t.Helper()
    now := time.Now().UTC()
    ev := model.Event{
        Name:     "Load Test Live",
        Venue:    "Test Hall",
        StartsAt: now.Add(24 * time.Hour),
        OnSaleAt: now.Add(-time.Minute),
        Status:   model.EventStatusOnSale,
    }
    if err := env.repos.events.Create(context.Background(), &ev); err != nil {
        t.Fatalf("create event: %v", err)
    }
    tier := model.Tier{
        EventID:      ev.ID,
        Name:         "GA",
        PriceCents:   2500,
        Capacity:     capacity,
        PerUserLimit: perUserLimit,
    }
    if err := env.repos.tiers.Create(context.Background(), &tier); err != nil {
        t.Fatalf("create tier: %v", err)
    }
    return &ev, &tier
}

// grantToken seeds an admission grant directly; the access key layout is
// part of the waiting room's Redis contract.
func (env *testEnv) grantToken(t *testing.T, eventID string) string {
    t.Helper()
    token, err := utils.RandomToken(32)
    if err != nil {
        t.Fatalf("mint token: %v", err)
    }
    key := fmt.Sprintf("access:%s:%s", eventID, token)
    if err := env.rdb.Set(context.Background(), key, "1", time.Minute).Err(); err != nil {
        t.Fatalf("seed grant: %v", err)
    }
    return token
}

func (env *testEnv) reserve(t *testing.T, ev *model.Event, tier *model.Tier, user string, qty int) *httptest.ResponseRecorder {
    t.Helper()
    token := env.grantToken(t, ev.ID)
    return env.do(http.MethodPost, "/events/"+ev.ID+"/reservations", user,
        map[string]any{"tier_id": tier.ID, "quantity": qty, "token": token}, nil)
}

// confirmFlow reserves, opens a session and confirms payment success for
// one user, returning the order id.
func (env *testEnv) confirmFlow(t *testing.T, ev *model.Event, tier *model.Tier, user string, qty int) string {
    t.Helper()
    rec := env.reserve(t, ev, tier, user, qty)
    if rec.Code != http.StatusCreated {
        t.Fatalf("reserve: status %d: %s", rec.Code, rec.Body.String())
    }
    resID := decodeBody(t, rec)["reservation"].(map[string]any)["id"].(string)

    key, _ := utils.RandomToken(8)
    rec = env.do(http.MethodPost, "/checkout/sessions", user,
        map[string]any{"reservation_id": resID}, map[string]string{"Idempotency-Key": key})
    if rec.Code != http.StatusCreated {
        t.Fatalf("create session: status %d: %s", rec.Code, rec.Body.String())
    }
    sessionID := decodeBody(t, rec)["session"].(map[string]any)["id"].(string)

    rec = env.do(http.MethodPost, "/checkout/confirm", user,
        map[string]any{"checkout_id": sessionID, "simulate": "success"}, nil)
    if rec.Code != http.StatusCreated {
        t.Fatalf("confirm: status %d: %s", rec.Code, rec.Body.String())
    }
    return decodeBody(t, rec)["order"].(map[string]any)["id"].(string)
}

func TestReserveOversellConcurrent(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 1, 1)

    const buyers = 10
    var wg sync.WaitGroup
    codes := make([]int, buyers)
    for i := 0; i < buyers; i++ {
        user := fmt.Sprintf("user-%d", i)
        token := env.grantToken(t, ev.ID)
        wg.Add(1)
        go func(i int, user, token string) {
            defer wg.Done()
            rec := env.do(http.MethodPost, "/events/"+ev.ID+"/reservations", user,
                map[string]any{"tier_id": tier.ID, "quantity": 1, "token": token}, nil)
            codes[i] = rec.Code
        }(i, user, token)
    }
    wg.Wait()

    created, conflicted := 0, 0
    for _, code := range codes {
        switch code {
        case http.StatusCreated:
            created++
        case http.StatusConflict:
            conflicted++
        default:
            t.Errorf("unexpected status %d", code)
        }
    }
    if created != 1 || conflicted != buyers-1 {
        t.Fatalf("created=%d conflicted=%d, want 1/%d", created, conflicted, buyers-1)
    }

    var active int
    if err := env.db.QueryRow(
        `SELECT COUNT(*) FROM reservations WHERE tier_id = ? AND status = 'active'`, tier.ID,
    ).Scan(&active); err != nil {
        t.Fatalf("count reservations: %v", err)
    }
    if active != 1 {
        t.Errorf("active reservations = %d, want 1", active)
    }
}

func TestSessionIdempotency(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 10, 4)

    rec := env.reserve(t, ev, tier, "buyer-1", 2)
    if rec.Code != http.StatusCreated {
        t.Fatalf("reserve: %d: %s", rec.Code, rec.Body.String())
    }
    resID := decodeBody(t, rec)["reservation"].(map[string]any)["id"].(string)

    headers := map[string]string{"Idempotency-Key": "k1"}
    first := env.do(http.MethodPost, "/checkout/sessions", "buyer-1",
        map[string]any{"reservation_id": resID}, headers)
    if first.Code != http.StatusCreated {
        t.Fatalf("first create: %d: %s", first.Code, first.Body.String())
    }
    firstID := decodeBody(t, first)["session"].(map[string]any)["id"].(string)

    second := env.do(http.MethodPost, "/checkout/sessions", "buyer-1",
        map[string]any{"reservation_id": resID}, headers)
    if second.Code != http.StatusOK {
        t.Fatalf("replay status = %d, want 200", second.Code)
    }
    body := decodeBody(t, second)
    if got := body["session"].(map[string]any)["id"].(string); got != firstID {
        t.Errorf("replayed session id %s, want %s", got, firstID)
    }
    if body["idempotent"] != true {
        t.Error("replay must carry the idempotent marker")
    }

    var n int
    if err := env.db.QueryRow(
        `SELECT COUNT(*) FROM checkout_sessions WHERE idempotency_key = 'k1'`,
    ).Scan(&n); err != nil {
        t.Fatalf("count sessions: %v", err)
    }
    if n != 1 {
        t.Errorf("sessions for key = %d, want 1", n)
    }
}

func TestConfirmIdempotency(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 10, 4)

    rec := env.reserve(t, ev, tier, "buyer-1", 2)
    resID := decodeBody(t, rec)["reservation"].(map[string]any)["id"].(string)
    rec = env.do(http.MethodPost, "/checkout/sessions", "buyer-1",
        map[string]any{"reservation_id": resID}, map[string]string{"Idempotency-Key": "confirm-k1"})
    sessionID := decodeBody(t, rec)["session"].(map[string]any)["id"].(string)

    confirmBody := map[string]any{"checkout_id": sessionID, "simulate": "success"}
    first := env.do(http.MethodPost, "/checkout/confirm", "buyer-1", confirmBody, nil)
    if first.Code != http.StatusCreated {
        t.Fatalf("first confirm: %d: %s", first.Code, first.Body.String())
    }
    firstOrder := decodeBody(t, first)["order"].(map[string]any)["id"].(string)

    second := env.do(http.MethodPost, "/checkout/confirm", "buyer-1", confirmBody, nil)
    if second.Code != http.StatusOK {
        t.Fatalf("replay confirm status = %d, want 200", second.Code)
    }
    body := decodeBody(t, second)
    if got := body["order"].(map[string]any)["id"].(string); got != firstOrder {
        t.Errorf("replayed order id %s, want %s", got, firstOrder)
    }
    if tickets := body["tickets"].([]any); len(tickets) != 2 {
        t.Errorf("replayed tickets = %d, want 2", len(tickets))
    }

    var orders, tickets int
    if err := env.db.QueryRow(`SELECT COUNT(*) FROM orders WHERE session_id = ?`, sessionID).Scan(&orders); err != nil {
        t.Fatal(err)
    }
    if err := env.db.QueryRow(`SELECT COUNT(*) FROM tickets WHERE order_id = ?`, firstOrder).Scan(&tickets); err != nil {
        t.Fatal(err)
    }
    if orders != 1 || tickets != 2 {
        t.Errorf("orders=%d tickets=%d, want 1/2", orders, tickets)
    }
}

func TestConfirmExpiredReservation(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 10, 4)

    rec := env.reserve(t, ev, tier, "buyer-1", 1)
    resID := decodeBody(t, rec)["reservation"].(map[string]any)["id"].(string)
    rec = env.do(http.MethodPost, "/checkout/sessions", "buyer-1",
        map[string]any{"reservation_id": resID}, map[string]string{"Idempotency-Key": "exp-k1"})
    sessionID := decodeBody(t, rec)["session"].(map[string]any)["id"].(string)

    // Let the hold lapse before payment arrives.
    if _, err := env.db.Exec(
        `UPDATE reservations SET expires_at = ? WHERE id = ?`,
        time.Now().UTC().Add(-time.Minute), resID,
    ); err != nil {
        t.Fatalf("age reservation: %v", err)
    }

    rec = env.do(http.MethodPost, "/checkout/confirm", "buyer-1",
        map[string]any{"checkout_id": sessionID, "simulate": "success"}, nil)
    if rec.Code != http.StatusConflict {
        t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
    }
    if body := decodeBody(t, rec); body["error"] != "reservation_expired_or_invalid" {
        t.Errorf("kind = %v", body["error"])
    }

    var orders int
    if err := env.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&orders); err != nil {
        t.Fatal(err)
    }
    if orders != 0 {
        t.Errorf("orders = %d, want 0", orders)
    }
    var resStatus, sessStatus string
    if err := env.db.QueryRow(`SELECT status FROM reservations WHERE id = ?`, resID).Scan(&resStatus); err != nil {
        t.Fatal(err)
    }
    if err := env.db.QueryRow(`SELECT status FROM checkout_sessions WHERE id = ?`, sessionID).Scan(&sessStatus); err != nil {
        t.Fatal(err)
    }
    if resStatus != "expired" || sessStatus != "expired" {
        t.Errorf("reservation=%s session=%s, want expired/expired", resStatus, sessStatus)
    }
}

func TestPurchaseLimitLadder(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 100, 6)
    user := "ladder-user"

    // Buy 3: succeeds.
    env.confirmFlow(t, ev, tier, user, 3)

    // Attempt 4: rejected with breakdown.
    rec := env.reserve(t, ev, tier, user, 4)
    if rec.Code != http.StatusForbidden {
        t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
    }
    body := decodeBody(t, rec)
    if body["error"] != "purchase_limit_exceeded" {
        t.Fatalf("kind = %v", body["error"])
    }
    if body["alreadyPurchased"] != float64(3) || body["requested"] != float64(4) {
        t.Errorf("breakdown = %v", body)
    }

    // Buy 3 more: exactly reaches the limit of 6.
    env.confirmFlow(t, ev, tier, user, 3)

    // One more unit must be rejected.
    rec = env.reserve(t, ev, tier, user, 1)
    if rec.Code != http.StatusForbidden {
        t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
    }
    body = decodeBody(t, rec)
    if body["alreadyPurchased"] != float64(6) {
        t.Errorf("alreadyPurchased = %v, want 6", body["alreadyPurchased"])
    }
}

func TestEndToEndHappyPath(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 100, 4)
    user := "happy-user"

    rec := env.do(http.MethodPost, "/events/"+ev.ID+"/waiting-room/join", user, nil, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("join: %d: %s", rec.Code, rec.Body.String())
    }
    token := decodeBody(t, rec)["token"].(string)

    rec = env.do(http.MethodGet, "/events/"+ev.ID+"/waiting-room/status?token="+token, user, nil, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("status: %d: %s", rec.Code, rec.Body.String())
    }
    status := decodeBody(t, rec)
    if status["state"] != "sale_open" {
        t.Fatalf("state = %v", status["state"])
    }
    if status["can_enter"] != true {
        t.Fatalf("can_enter = %v, want true (first wave)", status["can_enter"])
    }

    rec = env.do(http.MethodPost, "/events/"+ev.ID+"/reservations", user,
        map[string]any{"tier_id": tier.ID, "quantity": 2, "token": token}, nil)
    if rec.Code != http.StatusCreated {
        t.Fatalf("reserve: %d: %s", rec.Code, rec.Body.String())
    }
    resID := decodeBody(t, rec)["reservation"].(map[string]any)["id"].(string)

    rec = env.do(http.MethodPost, "/checkout/sessions", user,
        map[string]any{"reservation_id": resID}, map[string]string{"Idempotency-Key": "happy-k1"})
    if rec.Code != http.StatusCreated {
        t.Fatalf("session: %d: %s", rec.Code, rec.Body.String())
    }
    sessionID := decodeBody(t, rec)["session"].(map[string]any)["id"].(string)

    rec = env.do(http.MethodPost, "/checkout/confirm", user,
        map[string]any{"checkout_id": sessionID, "simulate": "success"}, nil)
    if rec.Code != http.StatusCreated {
        t.Fatalf("confirm: %d: %s", rec.Code, rec.Body.String())
    }
    orderID := decodeBody(t, rec)["order"].(map[string]any)["id"].(string)

    rec = env.do(http.MethodGet, "/me/tickets", user, nil, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("tickets: %d: %s", rec.Code, rec.Body.String())
    }
    tickets := decodeBody(t, rec)["tickets"].([]any)
    if len(tickets) != 2 {
        t.Fatalf("tickets = %d, want 2", len(tickets))
    }
    for _, raw := range tickets {
        tk := raw.(map[string]any)
        if !utils.VerifyTicketSignature(testQRSecret,
            tk["code"].(string), orderID, ev.ID, tk["qr_sig"].(string)) {
            t.Errorf("ticket %v signature does not verify", tk["code"])
        }
    }
}

func TestPausedEventRejectsReservations(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 10, 4)
    if err := env.repos.events.SetPaused(context.Background(), ev.ID, true); err != nil {
        t.Fatalf("pause: %v", err)
    }

    rec := env.reserve(t, ev, tier, "paused-user", 1)
    if rec.Code != http.StatusForbidden {
        t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
    }
    if body := decodeBody(t, rec); body["error"] != "sales_paused" {
        t.Errorf("kind = %v", body["error"])
    }
}

func TestReserveWithoutGrant(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 10, 4)

    rec := env.do(http.MethodPost, "/events/"+ev.ID+"/reservations", "nobody",
        map[string]any{"tier_id": tier.ID, "quantity": 1, "token": "not-a-real-token"}, nil)
    if rec.Code != http.StatusForbidden {
        t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
    }
    if body := decodeBody(t, rec); body["error"] != "not_admitted" {
        t.Errorf("kind = %v", body["error"])
    }
}

func TestDoubleHoldRejected(t *testing.T) {
    env := newTestEnv(t)
    ev, tier := env.createOnSaleEvent(t, 10, 4)

    if rec := env.reserve(t, ev, tier, "greedy", 1); rec.Code != http.StatusCreated {
        t.Fatalf("first reserve: %d", rec.Code)
    }
    rec := env.reserve(t, ev, tier, "greedy", 1)
    if rec.Code != http.StatusConflict {
        t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
    }
    if body := decodeBody(t, rec); body["error"] != "double_hold" {
        t.Errorf("kind = %v", body["error"])
    }
}
