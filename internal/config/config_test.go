package config

import (
    "testing"
    "time"
)

func TestEnvIntDefault(t *testing.T) {
    t.Setenv("X_INT", "42")
    if got := envIntDefault("X_INT", 7); got != 42 {
        t.Errorf("set var: got %d", got)
    }
    if got := envIntDefault("X_INT_UNSET", 7); got != 7 {
        t.Errorf("unset var: got %d", got)
    }
    t.Setenv("X_INT_BAD", "nope")
    if got := envIntDefault("X_INT_BAD", 7); got != 7 {
        t.Errorf("unparsable var: got %d", got)
    }
    t.Setenv("X_INT_ZERO", "0")
    if got := envIntDefault("X_INT_ZERO", 7); got != 7 {
        t.Errorf("sub-1 values must fall back: got %d", got)
    }
}

func TestEnvSeconds(t *testing.T) {
    t.Setenv("X_SECS", "90")
    if got := envSeconds("X_SECS", 30); got != 90*time.Second {
        t.Errorf("got %s", got)
    }
    if got := envSeconds("X_SECS_UNSET", 30); got != 30*time.Second {
        t.Errorf("default: got %s", got)
    }
}

func TestLoadRouteLimits(t *testing.T) {
    limits := LoadRouteLimits()
    if limits.JoinPerMinute != 10 {
        t.Errorf("join default = %d, want 10", limits.JoinPerMinute)
    }
    if limits.SessionPerMinute != 5 {
        t.Errorf("session default = %d, want 5", limits.SessionPerMinute)
    }
    if limits.ConfirmPerMinute != 10 {
        t.Errorf("confirm default = %d, want 10", limits.ConfirmPerMinute)
    }

    t.Setenv("SESSION_RATE_PER_MIN", "3")
    if got := LoadRouteLimits().SessionPerMinute; got != 3 {
        t.Errorf("override = %d, want 3", got)
    }
}

func TestLoadRateLimitConfigGuards(t *testing.T) {
    t.Setenv("RATE_LIMIT_CAPACITY", "-5")
    t.Setenv("RATE_LIMIT_TTL", "1s")
    t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1s")
    cfg := LoadRateLimitConfig()
    if cfg.Capacity < 1 {
        t.Errorf("capacity guard failed: %d", cfg.Capacity)
    }
    if cfg.TTL < 5*cfg.RefillInterval {
        t.Errorf("TTL guard failed: ttl=%s interval=%s", cfg.TTL, cfg.RefillInterval)
    }
}

func TestLoadCacheConfigDefaults(t *testing.T) {
    cfg := LoadCacheConfig()
    if !cfg.Methods["GET"] {
        t.Error("GET must be cacheable by default")
    }
    if cfg.Methods["POST"] {
        t.Error("POST must not be cacheable by default")
    }
    if cfg.TTL != 5*time.Second {
        t.Errorf("default TTL = %s, want 5s", cfg.TTL)
    }
}
