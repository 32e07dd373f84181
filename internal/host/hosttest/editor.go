// Package hosttest provides an in-memory host.Editor with manual triggers,
// for tests that need to close surfaces or shut the host down on demand.
package hosttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codefionn/guise/internal/host"
)

// Surface is the fake editor's view of one window/buffer pair.
type Surface struct {
	ID         host.SurfaceID
	Filename   string // empty for scratch surfaces
	Strategy   string
	WipeOnHide bool
	HookGroups []string
}

// Editor is a deterministic host.Editor. It is safe for concurrent use so
// tests can trigger events from their own goroutine.
type Editor struct {
	mu       sync.Mutex
	sink     host.TriggerSink
	nextWin  int64
	nextBuf  int64
	surfaces map[host.SurfaceID]*Surface
	hooks    map[string]host.Hooks
	echoed   []string
	calls    []string
	failOps  map[string]error
	strategy string
	env      map[string]string

	// Opened receives every surface right after it is created.
	Opened chan host.SurfaceID
}

var _ host.Editor = (*Editor)(nil)

// New creates an editor delivering fired tokens to sink. sink may be set
// later with SetSink.
func New(sink host.TriggerSink) *Editor {
	return &Editor{
		sink:     sink,
		nextWin:  1000,
		nextBuf:  1,
		surfaces: make(map[host.SurfaceID]*Surface),
		hooks:    make(map[string]host.Hooks),
		failOps:  make(map[string]error),
		env:      make(map[string]string),
		Opened:   make(chan host.SurfaceID, 64),
	}
}

// SetSink replaces the trigger sink.
func (e *Editor) SetSink(sink host.TriggerSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// SetUserStrategy sets the value returned by OpenStrategy.
func (e *Editor) SetUserStrategy(strategy string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategy = strategy
}

// Fail makes every later call of op return err. A nil err clears it.
func (e *Editor) Fail(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failOps, op)
		return
	}
	e.failOps[op] = err
}

func (e *Editor) begin(op string) error {
	e.calls = append(e.calls, op)
	if err, ok := e.failOps[op]; ok {
		return host.Wrap(op, err)
	}
	return nil
}

func (e *Editor) OpenScratch(ctx context.Context) (host.SurfaceID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("open_scratch"); err != nil {
		return host.SurfaceID{}, err
	}
	return e.newSurfaceLocked("", "tabnew"), nil
}

// OpenFile reuses a surface already showing filename when the strategy is
// "tab drop" or "drop", mirroring the editor's behaviour; every other
// strategy creates a new surface.
func (e *Editor) OpenFile(ctx context.Context, filename, strategy string) (host.SurfaceID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("open_file"); err != nil {
		return host.SurfaceID{}, err
	}
	if strategy == "tab drop" || strategy == "drop" {
		for id, s := range e.surfaces {
			if s.Filename == filename {
				return id, nil
			}
		}
	}
	return e.newSurfaceLocked(filename, strategy), nil
}

func (e *Editor) newSurfaceLocked(filename, strategy string) host.SurfaceID {
	id := host.SurfaceID{WindowID: e.nextWin, BufferID: e.nextBuf}
	e.nextWin++
	e.nextBuf++
	e.surfaces[id] = &Surface{ID: id, Filename: filename, Strategy: strategy}
	select {
	case e.Opened <- id:
	default:
	}
	return id
}

func (e *Editor) SetWipeOnHide(ctx context.Context, surface host.SurfaceID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("set_wipe_on_hide"); err != nil {
		return err
	}
	s, ok := e.surfaces[surface]
	if !ok {
		return host.Wrap("set_wipe_on_hide", fmt.Errorf("no surface %s", surface))
	}
	s.WipeOnHide = true
	return nil
}

func (e *Editor) DefineHooks(ctx context.Context, hooks host.Hooks) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("define_hooks"); err != nil {
		return err
	}
	s, ok := e.surfaces[hooks.Surface]
	if !ok {
		return host.Wrap("define_hooks", fmt.Errorf("%w: %s", host.ErrSurfaceGone, hooks.Surface))
	}
	e.hooks[hooks.Group] = hooks
	s.HookGroups = append(s.HookGroups, hooks.Group)
	return nil
}

func (e *Editor) RemoveHooks(ctx context.Context, group string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("remove_hooks"); err != nil {
		return err
	}
	delete(e.hooks, group)
	return nil
}

func (e *Editor) EchoError(ctx context.Context, msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("echo_error"); err != nil {
		return err
	}
	e.echoed = append(e.echoed, msg)
	return nil
}

func (e *Editor) OpenStrategy(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("open_strategy"); err != nil {
		return "", err
	}
	return e.strategy, nil
}

func (e *Editor) Setenv(ctx context.Context, name, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("setenv"); err != nil {
		return err
	}
	e.env[name] = value
	return nil
}

// Close destroys a surface, as when the user closes its window, and fires
// the close trigger of every hook group attached to it.
func (e *Editor) Close(id host.SurfaceID) error {
	e.mu.Lock()
	s, ok := e.surfaces[id]
	if !ok {
		e.mu.Unlock()
		return errors.New("hosttest: no such surface")
	}
	delete(e.surfaces, id)
	var tokens []string
	for _, group := range s.HookGroups {
		if h, ok := e.hooks[group]; ok {
			tokens = append(tokens, h.Token)
			// the close trigger is registered once
			delete(e.hooks, group)
		}
	}
	sink := e.sink
	e.mu.Unlock()

	for _, token := range tokens {
		if sink != nil {
			sink.Fire(token)
		}
	}
	return nil
}

// CloseFile closes the surface showing filename.
func (e *Editor) CloseFile(filename string) error {
	e.mu.Lock()
	var found *host.SurfaceID
	for id, s := range e.surfaces {
		if s.Filename == filename {
			found = &id
			break
		}
	}
	e.mu.Unlock()
	if found == nil {
		return fmt.Errorf("hosttest: no surface shows %s", filename)
	}
	return e.Close(*found)
}

// Shutdown fires the host shutdown trigger of every registered hook group.
func (e *Editor) Shutdown() {
	e.mu.Lock()
	tokens := make([]string, 0, len(e.hooks))
	for group, h := range e.hooks {
		tokens = append(tokens, h.Token)
		delete(e.hooks, group)
	}
	sink := e.sink
	e.mu.Unlock()

	for _, token := range tokens {
		if sink != nil {
			sink.Fire(token)
		}
	}
}

// Surface returns a copy of the surface with the given id.
func (e *Editor) Surface(id host.SurfaceID) (Surface, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[id]
	if !ok {
		return Surface{}, false
	}
	cp := *s
	cp.HookGroups = append([]string(nil), s.HookGroups...)
	return cp, true
}

// Surfaces returns the number of live surfaces.
func (e *Editor) Surfaces() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.surfaces)
}

// HookGroups returns the number of registered hook groups.
func (e *Editor) HookGroups() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hooks)
}

// Echoed returns the messages passed to EchoError.
func (e *Editor) Echoed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.echoed...)
}

// Getenv returns a variable set through Setenv.
func (e *Editor) Getenv(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.env[name]
	return v, ok
}

// Calls returns the operations invoked so far, in order.
func (e *Editor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}
