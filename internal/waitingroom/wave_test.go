package waitingroom

import (
    "testing"
    "time"
)

func TestETASeconds(t *testing.T) {
    const waveSize = 100
    const interval = 30 * time.Second

    tests := []struct {
        name     string
        position int64
        waveEnd  int64
        want     int64
    }{
        {"inside wave", 50, 100, 0},
        {"exactly at wave end", 100, 100, 0},
        {"first behind", 101, 100, 30},
        {"last of next wave", 200, 100, 30},
        {"first of wave after next", 201, 100, 60},
        {"deep in queue", 1000, 100, 270},
        {"ahead of cursor", 1, 500, 0},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            got := ETASeconds(tt.position, tt.waveEnd, waveSize, interval)
            if got != tt.want {
                t.Errorf("ETASeconds(%d, %d) = %d, want %d", tt.position, tt.waveEnd, got, tt.want)
            }
        })
    }
}

func TestETASecondsSmallWave(t *testing.T) {
    // A wave of 1 releases one position per interval.
    if got := ETASeconds(5, 2, 1, 10*time.Second); got != 30 {
        t.Errorf("expected 30, got %d", got)
    }
    // Degenerate wave size must not divide by zero.
    if got := ETASeconds(5, 2, 0, 10*time.Second); got != 0 {
        t.Errorf("expected 0 for zero wave size, got %d", got)
    }
}

func TestKeys(t *testing.T) {
    // Key layout is part of the operational contract (dashboards and
    // manual triage rely on it); pin it down.
    if got := queueKey("e1"); got != "queue:e1" {
        t.Errorf("queueKey = %q", got)
    }
    if got := waveKey("e1"); got != "queue:e1:wave" {
        t.Errorf("waveKey = %q", got)
    }
    if got := tokenKey("e1", "t1"); got != "queue:e1:token:t1" {
        t.Errorf("tokenKey = %q", got)
    }
    if got := accessKey("e1", "t1"); got != "access:e1:t1" {
        t.Errorf("accessKey = %q", got)
    }
}
