package socketserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/codefionn/guise/internal/logger"
)

// Client is a connection on the legacy channel listener. It carries many
// request/reply round trips, handled one at a time in arrival order.
type Client struct {
	// Connection identifier
	ID string

	conn       net.Conn
	dispatcher Dispatcher
	log        *logger.Logger

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewClient creates a new legacy channel client
func NewClient(id string, conn net.Conn, dispatcher Dispatcher, log *logger.Logger) *Client {
	return &Client{
		ID:         id,
		conn:       conn,
		dispatcher: dispatcher,
		log:        log,
		stopChan:   make(chan struct{}),
	}
}

// Serve reads requests until the peer disconnects, a message fails to parse
// as JSON, or ctx is done.
func (c *Client) Serve(ctx context.Context) {
	defer c.Stop()

	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.stopChan:
		}
	}()

	dec := json.NewDecoder(bufio.NewReader(c.conn))
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			var syntaxErr *json.SyntaxError
			switch {
			case errors.Is(err, io.EOF):
				c.log.Debug("Client %s disconnected (EOF)", c.ID)
			case errors.Is(err, net.ErrClosed):
				c.log.Debug("Client %s connection closed", c.ID)
			case errors.As(err, &syntaxErr):
				c.log.Error("Client %s sent invalid JSON, closing: %v", c.ID, err)
			default:
				c.log.Error("Error reading from client %s: %v", c.ID, err)
			}
			return
		}

		if err := c.handleMessage(ctx, raw); err != nil {
			c.log.Error("Failed to reply to client %s: %v", c.ID, err)
			return
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, raw json.RawMessage) error {
	req, err := ParseChannelRequest(raw)
	if req == nil {
		c.log.Warn("Dropping message from client %s: %v", c.ID, err)
		return nil
	}

	result := ""
	if err != nil {
		result = err.Error()
	} else if err := c.dispatcher.Call(ctx, req.Command, req.Args); err != nil {
		c.log.Debug("Client %s: %s failed: %v", c.ID, req.Command, err)
		result = err.Error()
	}

	reply, err := EncodeChannelReply(req.MsgID, result)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(reply)
	return err
}

// Stop closes the connection
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Debug("Error closing client %s: %v", c.ID, err)
		}
	})
}
