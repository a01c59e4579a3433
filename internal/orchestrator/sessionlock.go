package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type sessionLock struct {
	sem  *semaphore.Weighted
	refs int
}

// sessionLocks serializes turns per session. Waiters are admitted in the
// order they arrived. Entries exist only while some turn holds or waits on
// them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session is free or ctx is done. The returned
// func releases the session and must be called exactly once.
func (l *sessionLocks) acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[sessionID]
	if !ok {
		lk = &sessionLock{sem: semaphore.NewWeighted(1)}
		l.locks[sessionID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	if err := lk.sem.Acquire(ctx, 1); err != nil {
		l.unref(sessionID, lk)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.sem.Release(1)
			l.unref(sessionID, lk)
		})
	}, nil
}

func (l *sessionLocks) unref(sessionID string, lk *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, sessionID)
	}
}

// size reports how many sessions currently have an entry.
func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
