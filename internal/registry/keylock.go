package registry

import (
	"sync"

	"remindcore/internal/reminder"
)

// keyLocks serializes work per reminder key without blocking unrelated keys.
// Entries are reference counted and dropped when no goroutine holds or waits on them.
type keyLocks struct {
	mu sync.Mutex
	m  map[reminder.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLocks) ref(k reminder.Key) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = map[reminder.Key]*keyLock{}
	}
	kl := l.m[k]
	if kl == nil {
		kl = &keyLock{}
		l.m[k] = kl
	}
	kl.refs++
	return kl
}

func (l *keyLocks) unref(k reminder.Key, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.m, k)
	}
	l.mu.Unlock()
}

// lock blocks until k is held and returns the release func.
func (l *keyLocks) lock(k reminder.Key) func() {
	kl := l.ref(k)
	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.unref(k, kl)
	}
}

// tryLock acquires k only if nobody holds it.
func (l *keyLocks) tryLock(k reminder.Key) (func(), bool) {
	kl := l.ref(k)
	if !kl.mu.TryLock() {
		l.unref(k, kl)
		return nil, false
	}
	return func() {
		kl.mu.Unlock()
		l.unref(k, kl)
	}, true
}

func (l *keyLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
