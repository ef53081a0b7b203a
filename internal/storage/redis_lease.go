package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/recon-engine/internal/recon"
)

// RedisLeaser keeps session leases in Redis for deployments where several
// workers share one database.
type RedisLeaser struct {
	Redis  *redis.Client
	Prefix string
}

var acquireLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2], 'NX') then
  return 1
end
return 0
`)

var renewLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (l *RedisLeaser) key(sessionID string) string {
	if l.Prefix == "" {
		return "lease:" + sessionID
	}
	return l.Prefix + ":lease:" + sessionID
}

// Acquire sets the lease key if absent, or refreshes it when owner holds it.
func (l *RedisLeaser) Acquire(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	n, err := acquireLeaseScript.Run(ctx, l.Redis, []string{l.key(sessionID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if n == 0 {
		return recon.NewConflictError("session", sessionID, "another pass holds the session lease")
	}
	return nil
}

// Renew extends the lease if owner still holds it.
func (l *RedisLeaser) Renew(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	n, err := renewLeaseScript.Run(ctx, l.Redis, []string{l.key(sessionID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if n == 0 {
		return recon.NewConflictError("session", sessionID, "session lease lost")
	}
	return nil
}

// Release deletes the lease key if owner holds it.
func (l *RedisLeaser) Release(ctx context.Context, sessionID, owner string) error {
	if err := releaseLeaseScript.Run(ctx, l.Redis, []string{l.key(sessionID)}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
