// Package waitingroom implements the per-event admission queue on Redis.
// Joiners receive opaque tokens ranked in a sorted set by join time;
// status polls drive a wave cursor forward and hand out short-lived
// admission grants to positions inside the current wave.  Everything in
// this package is reconstructible: losing Redis loses waiting-room state
// but never inventory, orders or tickets.
package waitingroom

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/utils"
)

// ErrInvalidToken is returned when a token record is absent or expired.
var ErrInvalidToken = errors.New("invalid token")

// ErrUnavailable is returned when the ephemeral store cannot be reached.
// Handlers surface this as a transient 5xx; the queue carries no
// money-bearing state, so the caller can simply retry.
var ErrUnavailable = errors.New("waiting room unavailable")

// Options carries the queue tunables.
type Options struct {
    TokenTTL     time.Duration // lifetime of a token record
    AdmissionTTL time.Duration // lifetime of an admission grant
    WaveSize     int           // positions released per wave
    WaveInterval time.Duration // minimum delay between wave advances
}

// Room is the waiting-room gateway for all events.  It is safe for
// concurrent use; all coordination happens inside Redis.
type Room struct {
    rdb  *redis.Client
    opts Options
}

// New returns a Room over the given client.  The client may be nil when
// Redis is unreachable at boot; every method then fails with
// ErrUnavailable so the HTTP layer degrades instead of panicking.
func New(rdb *redis.Client, opts Options) *Room {
    return &Room{rdb: rdb, opts: opts}
}

func queueKey(eventID string) string  { return "queue:" + eventID }
func waveKey(eventID string) string   { return "queue:" + eventID + ":wave" }
func tokenKey(eventID, token string) string {
    return "queue:" + eventID + ":token:" + token
}
func accessKey(eventID, token string) string {
    return "access:" + eventID + ":" + token
}

// waveScript initialises or advances the wave cursor atomically.  The
// first observation after sale open sets wave_end = min(total, wave_size).
// Later observations advance by wave_size at most once per interval.
// Concurrent pollers race harmlessly: the script is the compare-and-set,
// losers read the winner's cursor.  Returns {wave_end, last_advance_ms}.
var waveScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local total = tonumber(ARGV[2])
    local wave_size = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'wave_end', 'last_advance_ms')
    local wave_end = tonumber(state[1])
    local last_advance = tonumber(state[2])

    if wave_end == nil or last_advance == nil then
        wave_end = math.min(total, wave_size)
        last_advance = now_ms
    elseif total > wave_end and (now_ms - last_advance) >= interval_ms then
        wave_end = math.min(total, wave_end + wave_size)
        last_advance = now_ms
    end

    redis.call('HMSET', key, 'wave_end', wave_end, 'last_advance_ms', last_advance)
    redis.call('EXPIRE', key, ttl_seconds)

    return { wave_end, last_advance }
`)

// Join admits a caller into the queue for an event: it mints a fresh
// token, writes the token record with the configured TTL and appends the
// token to the ordered set with the join instant as its score.  The score
// is UnixMilli, so later joiners always rank behind earlier ones; equal
// scores fall back to Redis member ordering, which is stable and
// arbitrary for random tokens.
func (r *Room) Join(ctx context.Context, eventID, userID string) (string, error) {
    if r.rdb == nil {
        return "", ErrUnavailable
    }
    token, err := utils.RandomToken(32)
    if err != nil {
        return "", err
    }
    now := time.Now().UTC()
    pipe := r.rdb.TxPipeline()
    rec := tokenKey(eventID, token)
    pipe.HSet(ctx, rec, "user", userID, "joined_at", now.Format(time.RFC3339Nano))
    pipe.Expire(ctx, rec, r.opts.TokenTTL)
    pipe.ZAdd(ctx, queueKey(eventID), redis.Z{Score: float64(now.UnixMilli()), Member: token})
    if _, err := pipe.Exec(ctx); err != nil {
        return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
    }
    return token, nil
}

// TokenUser returns the user recorded for a token, or ErrInvalidToken
// when the record has lapsed.
func (r *Room) TokenUser(ctx context.Context, eventID, token string) (string, error) {
    if r.rdb == nil {
        return "", ErrUnavailable
    }
    user, err := r.rdb.HGet(ctx, tokenKey(eventID, token), "user").Result()
    if err == redis.Nil {
        return "", ErrInvalidToken
    }
    if err != nil {
        return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
    }
    return user, nil
}

// StatusView is the poll response.  Before sale open only the first three
// fields are populated; afterwards the queue fields are.
type StatusView struct {
    State               string    `json:"state"` // "waiting" or "sale_open"
    OnSaleAt            time.Time `json:"on_sale_at"`
    SecondsUntilOnSale  int64     `json:"seconds_until_on_sale,omitempty"`
    Position            int64     `json:"position,omitempty"`
    Total               int64     `json:"total,omitempty"`
    CanEnter            bool      `json:"can_enter"`
    ETASeconds          int64     `json:"eta_seconds"`
    Paused              bool      `json:"paused"`
}

// Status resolves the caller's place in the queue.  When the sale is open
// it also drives the wave cursor and, for positions inside the wave of a
// non-paused event, writes the admission grant.
//
// Position stability caveat: a token whose record TTL lapses silently
// leaves the queue, shifting later joiners forward.  That is accepted
// behaviour, not a defect to patch.
func (r *Room) Status(ctx context.Context, ev *model.Event, token string, now time.Time) (*StatusView, error) {
    if r.rdb == nil {
        return nil, ErrUnavailable
    }
    exists, err := r.rdb.Exists(ctx, tokenKey(ev.ID, token)).Result()
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
    }
    if exists == 0 {
        return nil, ErrInvalidToken
    }

    if !ev.SaleOpen(now) {
        wait := int64(ev.OnSaleAt.Sub(now) / time.Second)
        if wait < 0 {
            wait = 0
        }
        return &StatusView{State: "waiting", OnSaleAt: ev.OnSaleAt, SecondsUntilOnSale: wait}, nil
    }

    rank, err := r.rdb.ZRank(ctx, queueKey(ev.ID), token).Result()
    if err == redis.Nil {
        return nil, ErrInvalidToken
    }
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
    }
    position := rank + 1
    total, err := r.rdb.ZCard(ctx, queueKey(ev.ID)).Result()
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
    }

    waveEnd, err := r.advanceWave(ctx, ev.ID, total, now)
    if err != nil {
        return nil, err
    }

    canEnter := position <= waveEnd && !ev.Paused
    if canEnter {
        if err := r.rdb.SetEx(ctx, accessKey(ev.ID, token), "1", r.opts.AdmissionTTL).Err(); err != nil {
            return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
        }
    }

    return &StatusView{
        State:      "sale_open",
        OnSaleAt:   ev.OnSaleAt,
        Position:   position,
        Total:      total,
        CanEnter:   canEnter,
        ETASeconds: ETASeconds(position, waveEnd, r.opts.WaveSize, r.opts.WaveInterval),
        Paused:     ev.Paused,
    }, nil
}

// advanceWave runs the cursor script and returns the current wave end.
func (r *Room) advanceWave(ctx context.Context, eventID string, total int64, now time.Time) (int64, error) {
    ttl := int64(2 * r.opts.TokenTTL / time.Second)
    if ttl < 1 {
        ttl = 1
    }
    vals, err := waveScript.Run(ctx, r.rdb, []string{waveKey(eventID)},
        now.UnixMilli(), total, r.opts.WaveSize, r.opts.WaveInterval.Milliseconds(), ttl).Int64Slice()
    if err != nil {
        return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
    }
    if len(vals) != 2 {
        return 0, fmt.Errorf("%w: unexpected wave script result", ErrUnavailable)
    }
    return vals[0], nil
}

// ETASeconds estimates the wait until a position enters the wave:
// ceil(max(0, position−waveEnd) / waveSize) full wave intervals.
func ETASeconds(position, waveEnd int64, waveSize int, interval time.Duration) int64 {
    behind := position - waveEnd
    if behind <= 0 || waveSize <= 0 {
        return 0
    }
    waves := (behind + int64(waveSize) - 1) / int64(waveSize)
    return waves * int64(interval/time.Second)
}

// HasGrant reports whether the token currently holds an admission grant
// for the event.  Grants are bearer capabilities with their own TTL; they
// are checked, not consumed, and simply lapse.
func (r *Room) HasGrant(ctx context.Context, eventID, token string) (bool, error) {
    if r.rdb == nil {
        return false, ErrUnavailable
    }
    n, err := r.rdb.Exists(ctx, accessKey(eventID, token)).Result()
    if err != nil {
        return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
    }
    return n == 1, nil
}

// Clear performs the administrative reset of one event's waiting room:
// the ordered set, the wave cursor and all token and grant records are
// dropped.  Token records are discovered with SCAN so the reset never
// blocks Redis on a large queue.
func (r *Room) Clear(ctx context.Context, eventID string) error {
    if r.rdb == nil {
        return ErrUnavailable
    }
    if err := r.rdb.Del(ctx, queueKey(eventID), waveKey(eventID)).Err(); err != nil {
        return fmt.Errorf("%w: %v", ErrUnavailable, err)
    }
    for _, pattern := range []string{
        tokenKey(eventID, "*"),
        accessKey(eventID, "*"),
    } {
        var cursor uint64
        for {
            keys, next, err := r.rdb.Scan(ctx, cursor, pattern, 256).Result()
            if err != nil {
                return fmt.Errorf("%w: %v", ErrUnavailable, err)
            }
            if len(keys) > 0 {
                if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
                    return fmt.Errorf("%w: %v", ErrUnavailable, err)
                }
            }
            cursor = next
            if cursor == 0 {
                break
            }
        }
    }
    return nil
}
