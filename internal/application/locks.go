package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// roomLocks serializes the read-validate-write sequence per room. An entry
// lives only while someone holds or waits on it.
type roomLocks struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{rooms: make(map[string]*roomLock)}
}

func (l *roomLocks) ref(roomID string) *roomLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.rooms[roomID]
	if !ok {
		lock = &roomLock{sem: semaphore.NewWeighted(1)}
		l.rooms[roomID] = lock
	}
	lock.refs++
	return lock
}

func (l *roomLocks) unref(roomID string, lock *roomLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.rooms, roomID)
	}
}

// acquire waits up to timeout for the room's lock. A timeout of zero waits
// until ctx is done. The caller must invoke the returned release func.
func (l *roomLocks) acquire(ctx context.Context, roomID string, timeout time.Duration) (func(), error) {
	lock := l.ref(roomID)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := lock.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(roomID, lock)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRoomBusy
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.sem.Release(1)
			l.unref(roomID, lock)
		})
	}, nil
}
