package concurrency

import "sync"

// KeyedMutex serializes work per key while letting different keys proceed in parallel.
type KeyedMutex struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock blocks until key is free and returns the matching unlock func.
func (m *KeyedMutex) Lock(key string) func() {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Forget drops the mutex for key. Callers must not hold it.
func (m *KeyedMutex) Forget(key string) {
	m.mu.Lock()
	delete(m.locks, key)
	m.mu.Unlock()
}
