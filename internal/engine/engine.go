// Package engine implements open and edit against the host editor. Both
// create a surface, attach one-shot close and shutdown triggers to it, and
// then block until the surface is gone.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codefionn/guise/internal/actor"
	"github.com/codefionn/guise/internal/host"
	"github.com/codefionn/guise/internal/logger"
	"github.com/codefionn/guise/internal/waitreg"
)

// ErrCancelled is returned by Open and Edit when the engine's context ends
// before the surface is gone.
var ErrCancelled = errors.New("cancelled")

// ErrEmptyFilename is returned by Edit for an empty filename. No host
// command runs.
var ErrEmptyFilename = errors.New("filename must not be empty")

// Engine runs editor actions. All host access goes through one HostClient.
type Engine struct {
	ctx             context.Context
	host            *actor.HostClient
	registry        *waitreg.Registry
	defaultStrategy func() string
	log             *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultStrategy sets the source of the open strategy used when the
// host does not supply one. It is consulted on every Edit call.
func WithDefaultStrategy(fn func() string) Option {
	return func(e *Engine) {
		e.defaultStrategy = fn
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New creates an engine. ctx bounds every pending wait: when it ends,
// pending Open and Edit calls return ErrCancelled.
func New(ctx context.Context, hostClient *actor.HostClient, registry *waitreg.Registry, opts ...Option) *Engine {
	e := &Engine{
		ctx:             ctx,
		host:            hostClient,
		registry:        registry,
		defaultStrategy: func() string { return "tab drop" },
		log:             logger.Global().WithPrefix("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RemoveHooks removes a hook group on the host without waiting. It is meant
// to be installed as the registry's teardown.
func (e *Engine) RemoveHooks(group string) {
	err := e.host.Post("remove_hooks", func(ctx context.Context, editor host.Editor) error {
		return editor.RemoveHooks(ctx, group)
	})
	if err != nil {
		e.log.Warn("failed to queue removal of hook group %s: %v", group, err)
	}
}

// Open creates a scratch surface and returns once it is gone.
func (e *Engine) Open(ctx context.Context) error {
	w, err := e.attach(ctx, "open", func(ctx context.Context, editor host.Editor) (host.SurfaceID, error) {
		return editor.OpenScratch(ctx)
	})
	if err != nil {
		return err
	}
	return e.wait(ctx, w)
}

// Edit shows filename and returns once the surface showing it is gone.
func (e *Engine) Edit(ctx context.Context, filename string) error {
	if filename == "" {
		return ErrEmptyFilename
	}

	w, err := e.attach(ctx, "edit", func(ctx context.Context, editor host.Editor) (host.SurfaceID, error) {
		strategy, err := editor.OpenStrategy(ctx)
		if err != nil {
			e.log.Warn("failed to read open strategy, using default: %v", err)
		}
		if strings.TrimSpace(strategy) == "" {
			strategy = e.defaultStrategy()
		}
		return editor.OpenFile(ctx, filename, strategy)
	})
	if err != nil {
		return err
	}
	return e.wait(ctx, w)
}

// Echo shows msg in the host's error message area.
func (e *Engine) Echo(ctx context.Context, msg string) error {
	return e.host.Do(ctx, "echo_error", func(ctx context.Context, editor host.Editor) error {
		return editor.EchoError(ctx, msg)
	})
}

// Shutdown resolves every pending wait, as when the host exits.
func (e *Engine) Shutdown() int {
	return e.registry.ResolveAll()
}

// Pending returns the number of surfaces currently waited on.
func (e *Engine) Pending() int {
	return e.registry.Pending()
}

// attach creates the surface and installs its triggers in a single host
// actor message, so no other connection's host commands can run between
// creating the surface and reading back its identity.
func (e *Engine) attach(ctx context.Context, op string, create func(context.Context, host.Editor) (host.SurfaceID, error)) (*waitreg.Wait, error) {
	var w *waitreg.Wait
	err := e.host.Do(ctx, op, func(ctx context.Context, editor host.Editor) error {
		surface, err := create(ctx, editor)
		if err != nil {
			return err
		}

		acquired, fresh := e.registry.Acquire(surface)
		if !fresh {
			e.log.Debug("%s joins pending wait on %s", op, surface)
			w = acquired
			return nil
		}

		if err := editor.SetWipeOnHide(ctx, surface); err != nil {
			e.registry.Release(acquired)
			return err
		}
		hooks := host.Hooks{Group: acquired.Group, Surface: surface, Token: acquired.Token}
		if err := editor.DefineHooks(ctx, hooks); err != nil {
			e.registry.Release(acquired)
			if errors.Is(err, host.ErrSurfaceGone) {
				e.log.Debug("%s: %s was wiped before its hooks were set", op, surface)
				w = acquired
				return nil
			}
			return err
		}

		e.log.Debug("%s waits on %s (group %s)", op, surface, acquired.Group)
		w = acquired
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return w, nil
}

func (e *Engine) wait(ctx context.Context, w *waitreg.Wait) error {
	select {
	case <-w.Handle().Done():
		e.log.Debug("surface %s is gone", w.Surface)
		return nil
	case <-e.ctx.Done():
	case <-ctx.Done():
	}
	if w.Handle().Resolved() {
		return nil
	}
	return ErrCancelled
}
