package socketclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/codefionn/guise/internal/consts"
	"github.com/codefionn/guise/internal/logger"
	"github.com/codefionn/guise/internal/proxyproto"
)

// ConnectionError represents a transport failure talking to the proxy
// listener
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Config holds client configuration
type Config struct {
	// Address is the proxy listener address
	Address proxyproto.Address
	// ConnectTimeout is the timeout for each connection attempt
	ConnectTimeout time.Duration
}

// DefaultConfig returns a default configuration for addr
func DefaultConfig(addr proxyproto.Address) *Config {
	return &Config{
		Address:        addr,
		ConnectTimeout: consts.Timeout5Seconds,
	}
}

// Client sends single-shot proxy requests. Every request uses a fresh
// connection.
type Client struct {
	config *Config
	log    *logger.Logger
}

// NewClient creates a new proxy client
func NewClient(config *Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewWriter(logger.LevelNone, io.Discard, "")
	}
	return &Client{config: config, log: log}
}

// Send writes msg as the only request frame and returns the only response
// frame. The wait for the response is unbounded unless ctx ends.
func (c *Client) Send(ctx context.Context, msg proxyproto.Message) (proxyproto.Response, error) {
	addr := c.config.Address.HostPort()

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return proxyproto.Response{}, &ConnectionError{Op: "connect", Addr: addr, Err: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	c.log.Debug("sending: %s", msg)
	if err := proxyproto.WriteFrame(conn, []byte(msg.String())); err != nil {
		return proxyproto.Response{}, &ConnectionError{Op: "send", Addr: addr, Err: err}
	}

	c.log.Debug("waiting for response...")
	body, err := proxyproto.ReadFrame(conn)
	if err != nil {
		return proxyproto.Response{}, &ConnectionError{Op: "receive", Addr: addr, Err: err}
	}
	c.log.Debug("received: %s", body)

	return proxyproto.ParseResponse(body)
}
