// Package ratelimit guards the notify endpoint with a sliding window
// limiter: Redis-backed when an address is configured so replicas share
// one budget, with an in-process fallback otherwise or when Redis is down.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SlidingWindow limits to capacity requests per key per window.
type SlidingWindow struct {
	rdb      *redis.Client
	capacity int
	window   time.Duration
	local    *localWindow
	log      zerolog.Logger
}

// slidingScript trims expired timestamps from a sorted set and admits the
// request if the window still has room, atomically.
const slidingScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)
if count < capacity then
	redis.call('ZADD', key, now, now .. ':' .. redis.call('INCR', key .. ':seq'))
	redis.call('PEXPIRE', key, ttl_ms)
	return 1
end
return 0
`

// NewSlidingWindow creates a limiter. rdb may be nil; the limiter then
// runs purely in process.
func NewSlidingWindow(rdb *redis.Client, capacity int, window time.Duration, logger zerolog.Logger) *SlidingWindow {
	if capacity <= 0 {
		capacity = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		rdb:      rdb,
		capacity: capacity,
		window:   window,
		local:    newLocalWindow(capacity, window),
		log:      logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Allow reports whether one more request for key fits in the window.
func (s *SlidingWindow) Allow(ctx context.Context, key string) bool {
	if s.rdb == nil {
		return s.local.allow(key, time.Now())
	}

	now := time.Now()
	windowStart := now.Add(-s.window)
	res, err := s.rdb.Eval(ctx, slidingScript, []string{"edge:rl:" + key},
		float64(now.UnixMicro())/1e6,
		float64(windowStart.UnixMicro())/1e6,
		s.capacity,
		s.window.Milliseconds()+1000,
	).Int()
	if err != nil {
		s.log.Debug().Err(err).Msg("redis limiter unavailable, using local window")
		return s.local.allow(key, now)
	}
	return res == 1
}

// localWindow keeps per-key timestamps in memory. Good enough for a single
// replica and as a Redis outage fallback.
type localWindow struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	hits     map[string][]time.Time
}

func newLocalWindow(capacity int, window time.Duration) *localWindow {
	return &localWindow{
		capacity: capacity,
		window:   window,
		hits:     make(map[string][]time.Time),
	}
}

func (l *localWindow) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.capacity {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}
