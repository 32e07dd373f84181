// Package dispatch routes named operations from every listener to the
// engine. The table is open, edit and error; any other name is tried as a
// single-use wait token.
package dispatch

import (
	"context"
	"fmt"
)

// Operation names.
const (
	MethodOpen  = "open"
	MethodEdit  = "edit"
	MethodError = "error"
)

// Engine is the subset of the editor action engine the dispatcher drives.
type Engine interface {
	Open(ctx context.Context) error
	Edit(ctx context.Context, filename string) error
	Echo(ctx context.Context, msg string) error
}

// Tokens fires single-use wait tokens.
type Tokens interface {
	Fire(token string) bool
}

// ArgumentError reports a missing or mistyped operation argument.
type ArgumentError struct {
	Method string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Reason)
}

// UnknownMethodError reports a name that is neither an operation nor a live
// token.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown method '%s'", e.Method)
}

// Dispatcher is the shared dispatch table.
type Dispatcher struct {
	engine Engine
	tokens Tokens
}

// New creates a dispatcher. tokens may be nil.
func New(engine Engine, tokens Tokens) *Dispatcher {
	return &Dispatcher{engine: engine, tokens: tokens}
}

// Call invokes method with args.
func (d *Dispatcher) Call(ctx context.Context, method string, args []any) error {
	switch method {
	case MethodOpen:
		return d.Open(ctx, args)
	case MethodEdit:
		return d.Edit(ctx, args)
	case MethodError:
		return d.Error(ctx, args)
	}

	if d.tokens != nil && d.tokens.Fire(method) {
		return nil
	}
	return &UnknownMethodError{Method: method}
}

// Open creates a scratch surface and returns once it is gone. Extra
// arguments are ignored.
func (d *Dispatcher) Open(ctx context.Context, args []any) error {
	return d.engine.Open(ctx)
}

// Edit expects a non-empty filename and returns once its surface is gone.
func (d *Dispatcher) Edit(ctx context.Context, args []any) error {
	filename, err := stringArg(MethodEdit, args, 0, "filename")
	if err != nil {
		return err
	}
	if filename == "" {
		return &ArgumentError{Method: MethodEdit, Reason: "filename must not be empty"}
	}
	return d.engine.Edit(ctx, filename)
}

// Error expects exception and throwpoint strings and shows them in the
// host's message area.
func (d *Dispatcher) Error(ctx context.Context, args []any) error {
	exception, err := stringArg(MethodError, args, 0, "exception")
	if err != nil {
		return err
	}
	throwpoint, err := stringArg(MethodError, args, 1, "throwpoint")
	if err != nil {
		return err
	}

	msg := exception
	if throwpoint != "" {
		msg = fmt.Sprintf("%s\n%s", exception, throwpoint)
	}
	return d.engine.Echo(ctx, msg)
}

func stringArg(method string, args []any, index int, name string) (string, error) {
	if index >= len(args) {
		return "", &ArgumentError{Method: method, Reason: fmt.Sprintf("missing %s", name)}
	}
	switch v := args[index].(type) {
	case string:
		return v, nil
	case []byte:
		// msgpack peers may send strings as bin
		return string(v), nil
	default:
		return "", &ArgumentError{Method: method, Reason: fmt.Sprintf("%s must be a string, got %T", name, args[index])}
	}
}
