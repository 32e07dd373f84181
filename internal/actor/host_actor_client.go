package actor

import (
	"context"
	"fmt"

	"github.com/codefionn/guise/internal/host"
)

// HostClient provides typed access to a HostActor.
type HostClient struct {
	ref *ActorRef
}

// NewHostClient creates a new client for the host actor behind ref.
func NewHostClient(ref *ActorRef) *HostClient {
	return &HostClient{ref: ref}
}

// Do runs fn on the host actor and waits for its result.
func (c *HostClient) Do(ctx context.Context, op string, fn func(ctx context.Context, editor host.Editor) error) error {
	responseCh := make(chan error, 1)

	msg := &HostCall{
		Op:         op,
		Fn:         fn,
		RequestCtx: ctx,
		ResponseCh: responseCh,
	}

	if err := c.ref.SendWait(ctx, msg); err != nil {
		return fmt.Errorf("failed to queue host call %s: %w", op, err)
	}

	select {
	case err := <-responseCh:
		return err
	case <-c.ref.stopCh:
		select {
		case err := <-responseCh:
			return err
		default:
			return fmt.Errorf("host call %s: actor %s is stopped", op, c.ref.ID())
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn on the host actor without waiting. Failures are logged by
// the actor.
func (c *HostClient) Post(op string, fn func(ctx context.Context, editor host.Editor) error) error {
	return c.ref.Send(&HostCall{Op: op, Fn: fn})
}
