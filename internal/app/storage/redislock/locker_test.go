package redislock

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/rewards_layer/pkg/logger"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis lock test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return client
}

func TestLockExcludesSecondHolder(t *testing.T) {
	client := newClient(t)
	l := New(client, WithPrefix("test:"+uuid.NewString()+":"), WithRetryInterval(5*time.Millisecond))

	unlock, err := l.Lock(context.Background(), "u1:gold")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "u1:gold"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while held, got %v", err)
	}

	unlock()
	again, err := l.Lock(context.Background(), "u1:gold")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestReleaseChecksToken(t *testing.T) {
	client := newClient(t)
	l := New(client, WithPrefix("test:"+uuid.NewString()+":"))
	ctx := context.Background()

	if err := client.Set(ctx, l.prefix+"k", "someone-else", time.Minute).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := l.release(ctx, l.prefix+"k", "my-token"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if v, _ := client.Get(ctx, l.prefix+"k").Result(); v != "someone-else" {
		t.Fatalf("foreign lock must survive, got %q", v)
	}
}

func TestOptions(t *testing.T) {
	l := New(nil, WithTTL(time.Minute), WithRetryInterval(time.Second), WithPrefix("p:"), WithTTL(0), WithLogger(nil))
	if l.ttl != time.Minute || l.retry != time.Second || l.prefix != "p:" || l.log == nil {
		t.Fatalf("unexpected options %+v", l)
	}
}

func TestUnlockLogsExpiredLock(t *testing.T) {
	client := newClient(t)
	var buf bytes.Buffer
	log := logger.NewDefault("redislock-test")
	log.SetOutput(&buf)
	l := New(client, WithPrefix("test:"+uuid.NewString()+":"), WithLogger(log))

	unlock, err := l.Lock(context.Background(), "u1:gold")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// simulate TTL expiry while the holder is still working
	if err := client.Del(context.Background(), l.prefix+"u1:gold").Err(); err != nil {
		t.Fatalf("expire: %v", err)
	}
	unlock()

	if !strings.Contains(buf.String(), "lock expired before release") {
		t.Fatalf("expected expiry warning, got %q", buf.String())
	}
}
