// Package lock provides the mutual exclusion guard that keeps two check or
// invalidation cycles from replacing the seen-set at the same time.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking mutual exclusion guard.
type Lock interface {
	// Acquire tries to take the lock. It returns false if another holder has it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this holder still owns it.
	Release(ctx context.Context) error
}

// New returns a Redis lock when client is non-nil, otherwise an in-process lock.
func New(client *redis.Client, key string, ttl time.Duration) Lock {
	if client != nil {
		return NewRedis(client, key, ttl)
	}
	return &Local{}
}

// Local guards cycles within one process.
type Local struct {
	mu sync.Mutex
}

// Acquire implements Lock.
func (l *Local) Acquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

// Release implements Lock.
func (l *Local) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis guards cycles across processes sharing one store, using SET NX with a TTL.
// The TTL bounds how long a crashed holder can block others.
type Redis struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// NewRedis creates a lock on key. Each instance has its own ownership token.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &Redis{
		client: client,
		key:    "lock:" + key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire implements Lock.
func (l *Redis) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release implements Lock. Releasing a lock held by someone else is a no-op.
func (l *Redis) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

