package config

import (
    "os"
    "strconv"
    "time"
)

// RateLimitConfig describes the global token-bucket limiter that fronts the
// whole API.  Endpoint-specific buyer limits (queue join, checkout session,
// confirm) are configured separately on RouteLimits.
type RateLimitConfig struct {
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyStrategy    string
    Prefix         string
    Debug          bool
}

// RouteLimits carries the per-endpoint fixed-window limits the sale flow
// documents: joins per IP per event, checkout sessions per user and
// confirmations per user, all per minute.
type RouteLimits struct {
    JoinPerMinute    int
    SessionPerMinute int
    ConfirmPerMinute int
}

// LoadRateLimitConfig builds the global limiter configuration from the
// environment, with guard rails that keep every derived value sane.
func LoadRateLimitConfig() RateLimitConfig {
    def := RateLimitConfig{
        Enabled:        envBool("RATE_LIMIT_ENABLED", true),
        Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
        RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
        RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
        TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
        KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
        Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
        Debug:          envBool("RATE_LIMIT_DEBUG", false),
    }
    if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
        def.Capacity = b
    }
    if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
        def.RefillTokens = 1
        def.RefillInterval = every
    }
    if def.Capacity < 1 {
        def.Capacity = 1
    }
    if def.RefillTokens < 1 {
        def.RefillTokens = 1
    }
    if def.RefillInterval <= 0 {
        def.RefillInterval = time.Second
    }
    minTTL := 5 * def.RefillInterval
    if def.TTL < minTTL {
        def.TTL = minTTL
    }
    return def
}

// LoadRouteLimits reads the per-endpoint buyer limits.  Defaults follow the
// documented contract: 10 joins/min/IP/event, 5 sessions/min/user,
// 10 confirms/min/user.
func LoadRouteLimits() RouteLimits {
    return RouteLimits{
        JoinPerMinute:    envInt("JOIN_RATE_PER_MIN", 10),
        SessionPerMinute: envInt("SESSION_RATE_PER_MIN", 5),
        ConfirmPerMinute: envInt("CONFIRM_RATE_PER_MIN", 10),
    }
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    switch v {
    case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
        return true
    case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
        return false
    }
    return d
}

func envInt(k string, d int) int {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if n, err := strconv.Atoi(v); err == nil {
        return n
    }
    return d
}

func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if dur, err := time.ParseDuration(v); err == nil {
        return dur
    }
    return d
}
