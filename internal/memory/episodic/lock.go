package episodic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants short-lived exclusive leases on a key.
type Locker interface {
	// TryLock acquires key for ttl. ok is false when another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes a lock only while it still holds the caller's token,
// so a lease that outlived its ttl cannot free the next holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker leases keys with SET NX so every replica sees the same lock.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker { return &RedisLocker{rdb: rdb} }

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// the caller's ctx may already be done
		_ = releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}

type localLease struct {
	token   uint64
	expires time.Time
}

// LocalLocker is the in-process fallback used when redis is not configured.
type LocalLocker struct {
	mu     sync.Mutex
	seq    uint64
	leases map[string]localLease
}

func NewLocalLocker() *LocalLocker { return &LocalLocker{leases: make(map[string]localLease)} }

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if lease, held := l.leases[key]; held && now.Before(lease.expires) {
		return nil, false, nil
	}
	l.seq++
	token := l.seq
	l.leases[key] = localLease{token: token, expires: now.Add(ttl)}
	release := func() {
		l.mu.Lock()
		if l.leases[key].token == token {
			delete(l.leases, key)
		}
		l.mu.Unlock()
	}
	return release, true, nil
}

func sessionLockKey(userID, sessionID string) string {
	return "episodic:lock:" + userID + ":" + sessionID
}
