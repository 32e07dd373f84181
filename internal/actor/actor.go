package actor

import (
	"context"
	"fmt"
	"sync"

	"github.com/codefionn/guise/internal/logger"
)

// Message represents a message sent between actors
type Message interface {
	Type() string
}

// Actor represents an actor in the actor model
type Actor interface {
	// Receive processes incoming messages
	Receive(ctx context.Context, msg Message) error
	// Start starts the actor
	Start(ctx context.Context) error
	// Stop stops the actor gracefully
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// ActorRef is a reference to a running actor. Messages are processed one at
// a time, in the order they were enqueued, on a single goroutine.
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.RWMutex
	stopped bool
	stopCh  chan struct{}
}

// NewActorRef creates a new actor reference with the given ID, actor
// implementation and mailbox size.
func NewActorRef(id string, actor Actor, mailboxSize int) *ActorRef {
	return &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
		stopCh:  make(chan struct{}),
	}
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Send enqueues msg without blocking. It fails when the actor is stopped or
// its mailbox is full.
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	if ref.stopped {
		return fmt.Errorf("actor %s is stopped", ref.id)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("actor %s mailbox is full", ref.id)
	}
}

// SendWait enqueues msg, blocking while the mailbox is full until ctx is
// done or the actor stops.
func (ref *ActorRef) SendWait(ctx context.Context, msg Message) error {
	ref.mu.RLock()
	if ref.stopped {
		ref.mu.RUnlock()
		return fmt.Errorf("actor %s is stopped", ref.id)
	}
	ref.mu.RUnlock()

	select {
	case ref.mailbox <- msg:
		return nil
	case <-ref.stopCh:
		return fmt.Errorf("actor %s is stopped", ref.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	ref.cancel = cancel

	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}

	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop stops the actor gracefully. Messages still queued are dropped.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped {
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	close(ref.stopCh)
	ref.mu.Unlock()

	if ref.cancel != nil {
		ref.cancel()
	}

	done := make(chan struct{})
	go func() {
		ref.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return ref.actor.Stop(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ref.mailbox:
			if ctx.Err() != nil {
				return
			}
			if err := ref.actor.Receive(ctx, msg); err != nil {
				logger.Error("Actor %s error processing %s message: %v", ref.id, msg.Type(), err)
			}
		}
	}
}
