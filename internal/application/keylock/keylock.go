// Package keylock provides per-key mutual exclusion for read-modify-write
// sequences against shared ledger state.
package keylock

import "sync"

// KeyedMutex hands out one mutex per key. Mutexes are created lazily and
// kept for the process lifetime; key cardinality is bounded by the number
// of chains/assets under management.
type KeyedMutex struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

// New creates an empty keyed mutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.RLock()
	m, ok := k.locks[key]
	k.mu.RUnlock()
	if ok {
		return m
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	// Double-check after acquiring the write lock.
	if m, ok := k.locks[key]; ok {
		return m
	}
	m = &sync.Mutex{}
	k.locks[key] = m
	return m
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}
