package socketserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/guise/internal/consts"
	"github.com/codefionn/guise/internal/logger"
	"github.com/codefionn/guise/internal/proxyproto"
	"golang.org/x/sync/errgroup"
)

// Listener names
const (
	ListenerVim   = "vim"
	ListenerNvim  = "nvim"
	ListenerProxy = "proxy"
)

// Dispatcher routes a named operation. The legacy channel and msgpack-rpc
// listeners use it.
type Dispatcher interface {
	Call(ctx context.Context, method string, args []any) error
}

// Engine runs open and edit for the proxy listener.
type Engine interface {
	Open(ctx context.Context) error
	Edit(ctx context.Context, filename string) error
}

type listener struct {
	name    string
	envName string
	ln      net.Listener
	addr    proxyproto.Address
	serve   func(ctx context.Context, id string, conn net.Conn)
}

// Server runs the three loopback listeners
type Server struct {
	host       string
	dispatcher Dispatcher
	engine     Engine
	publisher  Publisher
	hub        *Hub
	log        *logger.Logger

	mu        sync.Mutex
	listeners []*listener
	running   bool

	connIDCounter atomic.Uint64
	wg            sync.WaitGroup
}

// Option configures a Server
type Option func(*Server)

// WithPublisher sets where listener addresses are published
func WithPublisher(p Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithLogger sets the server's logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// NewServer creates a server binding its listeners on host, which must be a
// loopback address.
func NewServer(host string, dispatcher Dispatcher, eng Engine, opts ...Option) *Server {
	s := &Server{
		host:       host,
		dispatcher: dispatcher,
		engine:     eng,
		publisher:  EnvPublisher(),
		hub:        NewHub(),
		log:        logger.Global().WithPrefix("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds every listener to a fresh ephemeral port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners != nil {
		return fmt.Errorf("server is already listening")
	}

	specs := []struct {
		name    string
		envName string
		serve   func(ctx context.Context, id string, conn net.Conn)
	}{
		{ListenerVim, consts.EnvVimAddress, func(ctx context.Context, id string, conn net.Conn) {
			NewClient(id, conn, s.dispatcher, s.log).Serve(ctx)
		}},
		{ListenerNvim, consts.EnvNvimAddress, func(ctx context.Context, id string, conn net.Conn) {
			serveRPC(ctx, id, conn, s.dispatcher, s.log)
		}},
		{ListenerProxy, consts.EnvProxyAddress, func(ctx context.Context, id string, conn net.Conn) {
			serveProxy(ctx, id, conn, s.engine, s.log)
		}},
	}

	bound := make([]*listener, 0, len(specs))
	for _, spec := range specs {
		ln, err := net.Listen("tcp", net.JoinHostPort(s.host, "0"))
		if err != nil {
			for _, l := range bound {
				_ = l.ln.Close()
			}
			return fmt.Errorf("failed to listen for %s: %w", spec.name, err)
		}
		addr, err := proxyproto.AddressOf(ln.Addr())
		if err != nil {
			_ = ln.Close()
			for _, l := range bound {
				_ = l.ln.Close()
			}
			return fmt.Errorf("failed to resolve %s address: %w", spec.name, err)
		}
		bound = append(bound, &listener{
			name:    spec.name,
			envName: spec.envName,
			ln:      ln,
			addr:    addr,
			serve:   spec.serve,
		})
		s.log.Info("Listening for %s connections on %s", spec.name, addr.HostPort())
	}

	s.listeners = bound
	return nil
}

// Address returns the bound address of a listener.
func (s *Server) Address(name string) (proxyproto.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		if l.name == name {
			return l.addr, true
		}
	}
	return proxyproto.Address{}, false
}

// Addresses returns every bound address keyed by its published name.
func (s *Server) Addresses() map[string]proxyproto.Address {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]proxyproto.Address, len(s.listeners))
	for _, l := range s.listeners {
		out[l.envName] = l.addr
	}
	return out
}

// Serve publishes the listener addresses and accepts connections until ctx
// is done. It returns once every connection handler has finished.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.listeners == nil {
		s.mu.Unlock()
		return fmt.Errorf("server is not listening")
	}
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		if err := s.publisher.Publish(ctx, l.envName, l.addr); err != nil {
			s.log.Warn("Failed to publish %s: %v", l.envName, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error {
			return s.acceptLoop(gctx, l)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, l := range listeners {
			if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.log.Error("Error closing %s listener: %v", l.name, err)
			}
		}
		// proxy connections stay open so a pending call can still send
		// its cancel reply
		for _, name := range []string{ListenerVim, ListenerNvim} {
			if n := s.hub.CountOn(name); n > 0 {
				s.log.Debug("Closing %d %s connections", n, name)
				s.hub.CloseOn(name)
			}
		}
		return nil
	})

	err := g.Wait()
	s.wg.Wait()
	s.log.Info("Server stopped")
	return err
}

// Run binds and serves.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// ConnectionCount returns the number of open connections on all listeners
func (s *Server) ConnectionCount() int {
	return s.hub.Count()
}

// acceptLoop accepts connections on one listener. Errors on a single
// connection never end the loop.
func (s *Server) acceptLoop(ctx context.Context, l *listener) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.log.Debug("Listener %s closed, exiting accept loop", l.name)
				return nil
			}

			s.log.Error("Error accepting %s connection: %v", l.name, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		id := fmt.Sprintf("%s_%d", l.name, s.connIDCounter.Add(1))
		s.hub.Register(id, l.name, conn)
		s.wg.Add(1)
		go s.serveConn(ctx, l, id, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, l *listener, id string, conn net.Conn) {
	defer s.wg.Done()
	defer s.hub.Unregister(id)
	defer func() {
		_ = conn.Close()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Handler for %s panicked: %v\n%s", id, r, debug.Stack())
		}
	}()

	s.log.Debug("New %s connection accepted: %s", l.name, id)
	l.serve(ctx, id, conn)
}
