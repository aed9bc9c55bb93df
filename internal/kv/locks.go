package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed run can hold a scheduler lock.
const DefaultLockTTL = 15 * time.Minute

// Lua compare-and-delete so a late release never removes another run's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// Lock is a held distributed lock. Release is idempotent and only deletes
// the key while this holder's token is still stored under it.
type Lock struct {
	store *Store
	key   string
	token string
}

// Key returns the lock's Redis key.
func (l *Lock) Key() string { return l.key }

// Token returns the fencing token stored under the key.
func (l *Lock) Token() string { return l.token }

// Release drops the lock if this holder still owns it. Expired or stolen
// locks release as a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.store == nil || l.store.disabled {
		return nil
	}
	if _, err := releaseScript.Run(ctx, l.store.client, []string{l.key}, l.token).Result(); err != nil {
		l.store.recordFailure()
		return fmt.Errorf("redis lock release %s failed: %w", l.key, err)
	}
	l.store.recordSuccess()
	return nil
}

// AcquireLock takes key with SET NX for ttl. It returns (nil, false, nil)
// when another holder owns the key. On a disabled store locking is bypassed
// and acquisition always succeeds, which is the single-process case.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error) {
	if s.disabled {
		return &Lock{key: key}, true, nil
	}
	s.checkHealth()
	if !s.IsHealthy() {
		return nil, false, ErrUnavailable
	}

	token := uuid.New().String()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		s.recordFailure()
		return nil, false, fmt.Errorf("redis lock acquire %s failed: %w", key, err)
	}
	s.recordSuccess()
	if !ok {
		return nil, false, nil
	}
	return &Lock{store: s, key: key, token: token}, true, nil
}
