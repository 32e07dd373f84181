// Package waitreg tracks pending open/edit calls. Each call gets a Wait: a
// one-shot Handle bound to one surface, a host hook group name, and a
// single-use token the host sends back when a trigger fires.
package waitreg

import (
	"fmt"
	"strings"
	"sync"

	"github.com/codefionn/guise/internal/consts"
	"github.com/codefionn/guise/internal/host"
	"github.com/google/uuid"
)

// Wait is one live completion registration.
type Wait struct {
	Surface host.SurfaceID
	Group   string
	Token   string

	handle *Handle
}

// Handle returns the completion handle shared by every caller waiting on
// this surface.
func (w *Wait) Handle() *Handle {
	return w.handle
}

// Registry owns the live waits. A surface has at most one live wait.
type Registry struct {
	mu        sync.Mutex
	bySurface map[host.SurfaceID]*Wait
	byToken   map[string]*Wait
	teardown  func(group string)
	newID     func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithTeardown sets the function called exactly once per wait, after it is
// dropped from the registry and before its handle resolves. It is used to
// remove the wait's hook group from the host.
func WithTeardown(fn func(group string)) Option {
	return func(r *Registry) {
		r.teardown = fn
	}
}

// WithIDGenerator replaces the uuid-based id source.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		r.newID = fn
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		bySurface: make(map[host.SurfaceID]*Wait),
		byToken:   make(map[string]*Wait),
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the live wait for surface. If none exists a new one is
// registered and fresh is true; the caller must then install the host hooks.
func (r *Registry) Acquire(surface host.SurfaceID) (w *Wait, fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bySurface[surface]; ok {
		return existing, false
	}

	id := r.newID()
	w = &Wait{
		Surface: surface,
		Group:   fmt.Sprintf("%s%d_%d_%s", consts.HookGroupPrefix, surface.WindowID, surface.BufferID, strings.ReplaceAll(id, "-", "")),
		Token:   consts.TokenPrefix + id,
		handle:  NewHandle(),
	}
	r.bySurface[surface] = w
	r.byToken[w.Token] = w
	return w, true
}

// Fire resolves the wait registered under token. Unknown or already fired
// tokens are ignored and report false.
func (r *Registry) Fire(token string) bool {
	r.mu.Lock()
	w, ok := r.byToken[token]
	if ok {
		r.dropLocked(w)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.finish(w)
	return true
}

// Release drops w and resolves it, as if a trigger had fired. It is a no-op
// when w is no longer live.
func (r *Registry) Release(w *Wait) bool {
	r.mu.Lock()
	live := r.byToken[w.Token] == w
	if live {
		r.dropLocked(w)
	}
	r.mu.Unlock()

	if !live {
		return false
	}
	r.finish(w)
	return true
}

// ResolveAll resolves every live wait. It is used when the host shuts down
// or the connection to it is lost. It returns the number of waits resolved.
func (r *Registry) ResolveAll() int {
	r.mu.Lock()
	waits := make([]*Wait, 0, len(r.byToken))
	for _, w := range r.byToken {
		waits = append(waits, w)
	}
	for _, w := range waits {
		r.dropLocked(w)
	}
	r.mu.Unlock()

	for _, w := range waits {
		r.finish(w)
	}
	return len(waits)
}

// Pending returns the number of live waits.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

func (r *Registry) dropLocked(w *Wait) {
	delete(r.bySurface, w.Surface)
	delete(r.byToken, w.Token)
}

func (r *Registry) finish(w *Wait) {
	if r.teardown != nil {
		r.teardown(w.Group)
	}
	w.handle.Resolve()
}
