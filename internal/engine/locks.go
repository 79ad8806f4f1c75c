package engine

import "sync"

// userLocks hands out one mutex per user id. Writes for the same user are
// serialized; writes for different users never contend, and there is no
// global lock on any hot path. Reads never touch these mutexes.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the user's write lock, minting it on first use, and returns
// the unlock func.
func (l *userLocks) Lock(userID string) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
