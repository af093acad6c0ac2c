// Package redislock provides a Redis-backed per-key lock so evolution
// attempts are serialised across API replicas.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/rewards_layer/internal/app/services/evolution"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("redislock: lock not held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ evolution.KeyLocker = (*Locker)(nil)

// Locker acquires keys with SET NX PX and releases them only if the stored
// token still matches.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

// Option tunes a Locker.
type Option func(*Locker)

// WithTTL sets the lock expiry. It bounds how long a crashed holder blocks others.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryInterval sets the polling interval while waiting for a held key.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithPrefix namespaces all lock keys.
func WithPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// WithLogger sets the logger used to report failed releases.
func WithLogger(log *logger.Logger) Option {
	return func(l *Locker) {
		if log != nil {
			l.log = log
		}
	}
}

// New wraps a Redis client.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client: client,
		prefix: "rewards:lock:",
		ttl:    10 * time.Second,
		retry:  25 * time.Millisecond,
		log:    logger.NewDefault("redislock"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	full := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func() { l.unlock(full, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// unlock releases a held key. A lock that expired while held is logged: the
// work it guarded may have overlapped with another holder.
func (l *Locker) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := l.release(ctx, key, token)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotHeld):
		l.log.WithField("key", key).WithField("ttl", l.ttl.String()).Warn("lock expired before release")
	default:
		l.log.WithError(err).WithField("key", key).Error("lock release failed")
	}
}

func (l *Locker) release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
