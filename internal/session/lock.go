package session

import "sync"

// identityLocks hands out one mutex per identity so turns for the same
// conversation serialize while turns for different identities run in
// parallel. Entries are reference-counted and removed once unused.
type identityLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the identity's lock is held and returns the release
// function. Release must be called exactly once.
func (l *identityLocks) Acquire(identity string) func() {
	l.mu.Lock()
	entry, ok := l.entries[identity]
	if !ok {
		entry = &lockEntry{}
		l.entries[identity] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.entries, identity)
			}
			l.mu.Unlock()
		})
	}
}
