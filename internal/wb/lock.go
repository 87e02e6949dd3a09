package wb

import "sync"

// Locker serializes operations that mutate the same workbench. The engine
// historically relied solely on atomic directory renames with no internal
// locking; that behavior is preserved by NopLocker, the default. MutexLocker
// provides a stricter mode without touching callers.
type Locker interface {
	// Lock acquires the lock for the given workbench ID and returns the
	// release function.
	Lock(workbenchID string) func()
}

// NopLocker performs no serialization. Concurrent mutations of the same
// workbench can interleave unsafely; callers accept that for parity with the
// original engine.
type NopLocker struct{}

func (NopLocker) Lock(string) func() { return func() {} }

// MutexLocker serializes per workbench ID with a mutex.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MutexLocker) Lock(workbenchID string) func() {
	l.mu.Lock()
	m, ok := l.locks[workbenchID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[workbenchID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
