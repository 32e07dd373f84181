package actor

import (
	"context"
	"fmt"

	"github.com/codefionn/guise/internal/host"
	"github.com/codefionn/guise/internal/logger"
)

// HostCall runs Fn against the host editor on the host actor's goroutine.
type HostCall struct {
	Op         string
	Fn         func(ctx context.Context, editor host.Editor) error
	RequestCtx context.Context
	ResponseCh chan error // nil for fire-and-forget calls
}

func (m *HostCall) Type() string {
	return "host_call"
}

// HostActor is the single serialization point for the host editor. Since
// only its goroutine touches the editor, multi-step sequences issued from
// concurrent connections cannot interleave.
type HostActor struct {
	id     string
	editor host.Editor
}

// NewHostActor creates an actor owning editor.
func NewHostActor(id string, editor host.Editor) *HostActor {
	return &HostActor{id: id, editor: editor}
}

func (a *HostActor) ID() string {
	return a.id
}

func (a *HostActor) Start(ctx context.Context) error {
	logger.Debug("HostActor %s started", a.id)
	return nil
}

func (a *HostActor) Stop(ctx context.Context) error {
	logger.Debug("HostActor %s stopped", a.id)
	return nil
}

func (a *HostActor) Receive(ctx context.Context, msg Message) error {
	call, ok := msg.(*HostCall)
	if !ok {
		return fmt.Errorf("unknown message type: %s", msg.Type())
	}

	callCtx := call.RequestCtx
	if callCtx == nil {
		callCtx = ctx
	}

	err := a.invoke(callCtx, call)
	if call.ResponseCh != nil {
		call.ResponseCh <- err
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", call.Op, err)
	}
	return nil
}

func (a *HostActor) invoke(ctx context.Context, call *HostCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = host.Wrap(call.Op, fmt.Errorf("panic: %v", r))
		}
	}()
	return call.Fn(ctx, a.editor)
}
