package waitreg

import "sync"

// Handle is a one-shot completion signal. It carries no payload: a
// resolved handle only means the surface it guards is gone.
type Handle struct {
	once sync.Once
	done chan struct{}
}

// NewHandle returns an unresolved handle.
func NewHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Resolve completes the handle. Only the first call has an effect; it
// reports whether this call was the one that resolved it.
func (h *Handle) Resolve() bool {
	fired := false
	h.once.Do(func() {
		close(h.done)
		fired = true
	})
	return fired
}

// Done is closed once the handle is resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Resolved reports whether the handle has been resolved.
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
