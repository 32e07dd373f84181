// Package msgrpc implements a msgpack-rpc endpoint. The same endpoint type
// serves incoming calls (registered handlers) and issues outgoing calls, so
// it works for both sides of a connection.
//
// Wire format:
//
//	request      [0, msgid, method, params]
//	response     [1, msgid, error, result]
//	notification [2, method, params]
package msgrpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	typeRequest      = 0
	typeResponse     = 1
	typeNotification = 2
)

// ErrClosed is returned by calls made on, or pending when, the endpoint
// closes.
var ErrClosed = errors.New("msgrpc: endpoint closed")

// Handler serves one method. Its error, or a panic, becomes the error
// member of the response.
type Handler func(ctx context.Context, args []any) (any, error)

// FallbackHandler serves methods without a registered Handler.
type FallbackHandler func(ctx context.Context, method string, args []any) (any, error)

// RemoteError is the error member of a response received from the peer.
type RemoteError struct {
	Value any
}

func (e *RemoteError) Error() string {
	switch v := e.Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case []any:
		// Neovim sends [type, message]
		if len(v) == 2 {
			if msg, ok := v[1].(string); ok {
				return msg
			}
		}
	}
	return fmt.Sprintf("%v", e.Value)
}

// ProtocolError reports a frame that is not valid msgpack-rpc.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "msgrpc: " + e.Reason
}

type response struct {
	err    any
	result msgpack.RawMessage
}

// Endpoint is one side of a msgpack-rpc connection.
type Endpoint struct {
	conn io.ReadWriteCloser
	dec  *msgpack.Decoder
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	fallback FallbackHandler
	pending  map[uint64]chan *response
	nextID   uint64
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger sets the endpoint's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		e.log = l
	}
}

// WithFallback sets the handler for unregistered methods.
func WithFallback(fn FallbackHandler) Option {
	return func(e *Endpoint) {
		e.fallback = fn
	}
}

// NewEndpoint creates an endpoint over conn. Call Serve to start reading.
func NewEndpoint(conn io.ReadWriteCloser, opts ...Option) *Endpoint {
	e := &Endpoint{
		conn:     conn,
		dec:      msgpack.NewDecoder(bufio.NewReader(conn)),
		log:      slog.New(slog.DiscardHandler),
		handlers: make(map[string]Handler),
		pending:  make(map[uint64]chan *response),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register installs h for method, replacing any previous handler.
func (e *Endpoint) Register(method string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = h
}

// Serve reads frames until the connection ends or ctx is done. Each request
// and notification is handled on its own goroutine with ctx, so a slow
// handler never delays later frames. Serve returns nil when the peer closes
// the connection.
func (e *Endpoint) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = e.Close()
		case <-stop:
		}
	}()

	defer e.shutdown()

	for {
		if err := e.readFrame(ctx); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || e.isClosed() {
				return nil
			}
			e.log.Warn("dropping connection", "error", err)
			return err
		}
	}
}

func (e *Endpoint) readFrame(ctx context.Context) error {
	n, err := e.dec.DecodeArrayLen()
	if err != nil {
		return err
	}

	kind, err := e.dec.DecodeInt()
	if err != nil {
		return err
	}

	switch {
	case kind == typeRequest && n == 4:
		msgid, err := e.dec.DecodeUint64()
		if err != nil {
			return err
		}
		method, err := e.dec.DecodeString()
		if err != nil {
			return err
		}
		args, err := e.decodeParams()
		if err != nil {
			return err
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			result, herr := e.handle(ctx, method, args)
			e.respond(msgid, method, result, herr)
		}()

	case kind == typeResponse && n == 4:
		msgid, err := e.dec.DecodeUint64()
		if err != nil {
			return err
		}
		errVal, err := e.dec.DecodeInterfaceLoose()
		if err != nil {
			return err
		}
		var result msgpack.RawMessage
		if err := e.dec.Decode(&result); err != nil {
			return err
		}
		e.deliver(msgid, &response{err: errVal, result: result})

	case kind == typeNotification && n == 3:
		method, err := e.dec.DecodeString()
		if err != nil {
			return err
		}
		args, err := e.decodeParams()
		if err != nil {
			return err
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if _, herr := e.handle(ctx, method, args); herr != nil {
				e.log.Warn("notification failed", "method", method, "error", herr)
			}
		}()

	default:
		return &ProtocolError{Reason: fmt.Sprintf("unexpected message type %d with %d elements", kind, n)}
	}
	return nil
}

func (e *Endpoint) decodeParams() ([]any, error) {
	n, err := e.dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []any{}, nil
	}
	args := make([]any, n)
	for i := range args {
		if args[i], err = e.dec.DecodeInterfaceLoose(); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func (e *Endpoint) handle(ctx context.Context, method string, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("handler panicked", "method", method, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s: internal error: %v", method, r)
		}
	}()

	e.mu.Lock()
	h, ok := e.handlers[method]
	fallback := e.fallback
	e.mu.Unlock()

	switch {
	case ok:
		return h(ctx, args)
	case fallback != nil:
		return fallback(ctx, method, args)
	default:
		return nil, fmt.Errorf("unknown method '%s'", method)
	}
}

func (e *Endpoint) respond(msgid uint64, method string, result any, herr error) {
	var errVal any
	if herr != nil {
		errVal = herr.Error()
		result = nil
	}
	if err := e.write([]any{typeResponse, msgid, errVal, result}); err != nil {
		e.log.Debug("response not delivered", "method", method, "msgid", msgid, "error", err)
	}
}

func (e *Endpoint) deliver(msgid uint64, resp *response) {
	e.mu.Lock()
	ch, ok := e.pending[msgid]
	delete(e.pending, msgid)
	e.mu.Unlock()

	if !ok {
		e.log.Warn("response for unknown request", "msgid", msgid)
		return
	}
	ch <- resp
}

// Call invokes method on the peer and decodes the result into result, which
// may be nil to discard it.
func (e *Endpoint) Call(ctx context.Context, method string, result any, args ...any) error {
	if args == nil {
		args = []any{}
	}

	ch := make(chan *response, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.nextID++
	msgid := e.nextID
	e.pending[msgid] = ch
	e.mu.Unlock()

	if err := e.write([]any{typeRequest, msgid, method, args}); err != nil {
		e.forget(msgid)
		return fmt.Errorf("msgrpc: send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return &RemoteError{Value: resp.err}
		}
		if result == nil || len(resp.result) == 0 {
			return nil
		}
		if err := msgpack.Unmarshal(resp.result, result); err != nil {
			return fmt.Errorf("msgrpc: decode %s result: %w", method, err)
		}
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		e.forget(msgid)
		return ctx.Err()
	}
}

// Notify sends a notification; no response is expected.
func (e *Endpoint) Notify(method string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	return e.write([]any{typeNotification, method, args})
}

func (e *Endpoint) forget(msgid uint64) {
	e.mu.Lock()
	delete(e.pending, msgid)
	e.mu.Unlock()
}

func (e *Endpoint) write(msg []any) error {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err = e.conn.Write(data)
	return err
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		err = e.conn.Close()
	})
	return err
}

func (e *Endpoint) shutdown() {
	_ = e.Close()
	close(e.done)
}

// Wait blocks until every in-flight handler has returned.
func (e *Endpoint) Wait() {
	e.wg.Wait()
}
