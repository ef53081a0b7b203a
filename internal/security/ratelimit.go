package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/recon-engine/internal/recon"
)

// RedisTokenBucket is a token bucket per key kept in Redis, so every API
// replica draws from the same budget.
type RedisTokenBucket struct {
	Redis      *redis.Client
	Prefix     string
	Capacity   int
	RefillRate float64 // tokens per second

	now func() time.Time
}

// The script returns {allowed, remaining}; remaining is floored by the
// Lua-to-Redis integer conversion.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(data[1])
local last = tonumber(data[2])

if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local filled = math.min(capacity, tokens + (delta * refill_rate))

local allowed = 0
if filled >= 1 then
  allowed = 1
  filled = filled - 1
end

redis.call('HSET', key, 'tokens', filled, 'last', now)
redis.call('EXPIRE', key, ttl)

return {allowed, filled}
`)

func (l *RedisTokenBucket) key(raw string) string {
	if l.Prefix == "" {
		return "ratelimit:" + raw
	}
	return l.Prefix + ":ratelimit:" + raw
}

// Allow takes one token for key. A zero-capacity bucket allows everything.
func (l *RedisTokenBucket) Allow(ctx context.Context, key string) (bool, int, error) {
	if l.Redis == nil || l.Capacity <= 0 || l.RefillRate <= 0 {
		return true, l.Capacity, nil
	}

	now := time.Now
	if l.now != nil {
		now = l.now
	}
	ts := strconv.FormatFloat(float64(now().UnixNano())/1e9, 'f', 6, 64)
	ttl := int64(float64(l.Capacity)/l.RefillRate) + 1

	vals, err := tokenBucketScript.Run(ctx, l.Redis, []string{l.key(key)}, l.Capacity, l.RefillRate, ts, ttl).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to run token bucket: %w", err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply of length %d", len(vals))
	}
	return vals[0] == 1, int(vals[1]), nil
}

// RateLimitKey buckets callers by X-Actor identity, falling back to the
// client address.
func RateLimitKey(r *http.Request) string {
	if actor := recon.ActorFromContext(r.Context()); actor != recon.SystemActor {
		return "actor:" + actor
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}

func RateLimitMiddleware(l *RedisTokenBucket, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if keyFn != nil {
				key = keyFn(r)
			}
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, err := l.Allow(r.Context(), key)
			if err != nil {
				WriteJSONError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(1/l.RefillRate)+1))
				WriteJSONError(w, r, http.StatusTooManyRequests, "rate_limited")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
