package callexec

import (
	"context"
	"slices"
	"sync"
	"time"
)

// lane serializes calls for one account. Ownership passes directly from the
// releasing holder to the next waiter, priority waiters first.
type lane struct {
	mu       sync.Mutex
	held     bool
	priority []chan struct{}
	normal   []chan struct{}

	// lastCall is only touched by the current holder.
	lastCall time.Time
}

func (l *lane) acquire(ctx context.Context, priority bool) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	if priority {
		l.priority = append(l.priority, ch)
	} else {
		l.normal = append(l.normal, ch)
	}
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		removed := l.remove(ch)
		l.mu.Unlock()
		if !removed {
			// Ownership was handed over while cancelling; pass it on.
			l.release()
		}
		return ctx.Err()
	}
}

func (l *lane) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case len(l.priority) > 0:
		next := l.priority[0]
		l.priority = l.priority[1:]
		close(next)
	case len(l.normal) > 0:
		next := l.normal[0]
		l.normal = l.normal[1:]
		close(next)
	default:
		l.held = false
	}
}

func (l *lane) remove(ch chan struct{}) bool {
	if i := slices.Index(l.priority, ch); i >= 0 {
		l.priority = slices.Delete(l.priority, i, i+1)
		return true
	}
	if i := slices.Index(l.normal, ch); i >= 0 {
		l.normal = slices.Delete(l.normal, i, i+1)
		return true
	}
	return false
}

func (l *lane) waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.priority) + len(l.normal)
}
