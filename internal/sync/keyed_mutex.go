package sync

import stdsync "sync"

// keyedMutex serializes callers per key. Entries are reference counted and
// removed when the last holder unlocks, so the map only holds keys in use.
type keyedMutex struct {
	mu    stdsync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   stdsync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// lock blocks until key is free and returns the unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()

	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}

	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--

		if l.refs == 0 {
			delete(k.locks, key)
		}

		k.mu.Unlock()
	}
}
