package evolution

import (
	"context"
	"sync"
)

// KeyLocker serialises work on a key. Lock blocks until the key is free or
// ctx is done; the returned func releases it.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

var _ KeyLocker = (*MutexLocker)(nil)

// MutexLocker is an in-process KeyLocker. Entries are reference counted and
// dropped once no caller holds or waits on them.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMutexLocker returns an empty locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]*keyLock)}
}

func (m *MutexLocker) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.release(key, l)
		})
	}, nil
}

func (m *MutexLocker) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

func positionLockKey(userID, basePositionID string) string {
	return "evolution:" + userID + ":" + basePositionID
}
