// Package host defines the primitives the guise core needs from the editor
// it runs in. The editor itself (buffers, windows, rendering, events) is an
// external collaborator; implementations live in subpackages.
package host

import (
	"context"
	"errors"
	"fmt"
)

// ErrSurfaceGone reports that a surface no longer exists, for example
// because the user wiped its buffer before the hooks were installed.
var ErrSurfaceGone = errors.New("surface is gone")

// SurfaceID identifies an editable unit: a window showing a buffer.
type SurfaceID struct {
	WindowID int64
	BufferID int64
}

func (s SurfaceID) String() string {
	return fmt.Sprintf("win=%d,buf=%d", s.WindowID, s.BufferID)
}

// Hooks describes the one-shot triggers of one pending wait. Every trigger
// in the group delivers Token back to the core.
type Hooks struct {
	Group   string
	Surface SurfaceID
	Token   string
}

// Editor is the host editor as seen by the core. Implementations are not
// required to be safe for concurrent use; callers serialize access.
type Editor interface {
	// OpenScratch creates a disposable, unbacked surface and makes it current.
	OpenScratch(ctx context.Context) (SurfaceID, error)
	// OpenFile shows filename using the given open strategy and makes the
	// resulting surface current.
	OpenFile(ctx context.Context, filename, strategy string) (SurfaceID, error)
	// SetWipeOnHide makes the surface's buffer destroy itself once hidden.
	SetWipeOnHide(ctx context.Context, surface SurfaceID) error
	// DefineHooks registers the surface close trigger and the host shutdown
	// trigger under hooks.Group.
	DefineHooks(ctx context.Context, hooks Hooks) error
	// RemoveHooks deletes a hook group. Removing an absent group is not an
	// error.
	RemoveHooks(ctx context.Context, group string) error
	// EchoError shows msg in the user-visible message area.
	EchoError(ctx context.Context, msg string) error
	// OpenStrategy returns the user's configured open strategy, or "" when
	// the user has not set one.
	OpenStrategy(ctx context.Context) (string, error)
	// Setenv sets an environment variable inside the editor so processes it
	// starts later inherit it.
	Setenv(ctx context.Context, name, value string) error
}

// TriggerSink receives fired tokens from the host.
type TriggerSink interface {
	Fire(token string) bool
}

// Error reports a failed host editor operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("host %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err and a *Error otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
