package handler

import (
    "context"
    "database/sql"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
)

// HealthHandler serves the liveness and readiness probes.  Liveness only
// proves the process is up; readiness pings both stores so a load
// balancer can drain a replica that lost its database.  Redis is
// reported but never fails readiness: the service degrades without it,
// it does not stop selling what is already admitted.
type HealthHandler struct {
    DB    *sql.DB
    Redis *redis.Client // may be nil when the ephemeral store is down
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *sql.DB, rdb *redis.Client) *HealthHandler {
    return &HealthHandler{DB: db, Redis: rdb}
}

// Live handles GET /healthz.
func (h *HealthHandler) Live(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Ready handles GET /readyz.  Probes run on a short deadline so a wedged
// store cannot hang the balancer's check.
func (h *HealthHandler) Ready(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()

    dbState := "ok"
    ready := true
    if h.DB == nil {
        dbState, ready = "unconfigured", false
    } else if err := h.DB.PingContext(ctx); err != nil {
        dbState, ready = "unreachable", false
    }

    redisState := "ok"
    if h.Redis == nil {
        redisState = "unconfigured"
    } else if err := h.Redis.Ping(ctx).Err(); err != nil {
        redisState = "unreachable"
    }

    status := http.StatusOK
    if !ready {
        status = http.StatusServiceUnavailable
    }
    return c.JSON(status, echo.Map{
        "ready": ready,
        "db":    dbState,
        "redis": redisState,
    })
}
