package session

import (
	"context"
	"errors"
	"sync"
)

var ErrWindowClosed = errors.New("session: flow-control window closed")

// Window tracks unacknowledged bytes sent on one subscription or query. A
// frame may be sent while the outstanding count is below the limit, so one
// frame larger than the whole limit still goes out once everything before it
// has been acknowledged.
type Window struct {
	mu          sync.Mutex
	limit       int64
	outstanding int64
	changed     chan struct{}
	closed      bool
}

func NewWindow(limit int64) *Window {
	return &Window{
		limit:   limit,
		changed: make(chan struct{}),
	}
}

// Acquire blocks until size bytes may be sent, then counts them as outstanding.
func (w *Window) Acquire(ctx context.Context, size int64) error {
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return ErrWindowClosed
		}
		if w.outstanding < w.limit {
			w.outstanding += size
			w.mu.Unlock()
			return nil
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryAcquire is Acquire without blocking.
func (w *Window) TryAcquire(size int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.outstanding >= w.limit {
		return false
	}
	w.outstanding += size
	return true
}

// Release returns n acknowledged bytes. Acknowledging more than is
// outstanding clamps at zero.
func (w *Window) Release(n int64) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outstanding -= n
	if w.outstanding < 0 {
		w.outstanding = 0
	}
	w.notifyLocked()
}

// Close wakes every waiter with ErrWindowClosed.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.notifyLocked()
}

func (w *Window) Outstanding() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outstanding
}

func (w *Window) Limit() int64 {
	return w.limit
}

func (w *Window) notifyLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}
