package socketserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/codefionn/guise/internal/consts"
	"github.com/codefionn/guise/internal/engine"
	"github.com/codefionn/guise/internal/logger"
	"github.com/codefionn/guise/internal/proxyproto"
)

// serveProxy answers the single request frame of a proxy connection.
func serveProxy(ctx context.Context, id string, conn net.Conn, eng Engine, log *logger.Logger) {
	if err := conn.SetReadDeadline(time.Now().Add(consts.Timeout60Seconds)); err != nil {
		log.Error("Failed to set read deadline for %s: %v", id, err)
		return
	}
	// unblock the read on shutdown but keep the write side for a cancel reply
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	body, err := proxyproto.ReadFrame(conn)
	var resp proxyproto.Response
	var protoErr *proxyproto.ProtocolError
	switch {
	case err == nil:
		_ = conn.SetReadDeadline(time.Time{})
		resp = handleProxyFrame(ctx, body, eng)
	case errors.Is(err, proxyproto.ErrNoData):
		resp = proxyproto.Err(err.Error())
	case errors.As(err, &protoErr):
		resp = proxyproto.Err(protoErr.Msg)
	default:
		log.Warn("Proxy connection %s: %v", id, err)
		return
	}

	log.Debug("Proxy connection %s: %q -> %q", id, body, resp.String())
	if err := proxyproto.WriteFrame(conn, []byte(resp.String())); err != nil {
		log.Warn("Failed to send proxy response on %s: %v", id, err)
	}
}

func handleProxyFrame(ctx context.Context, body []byte, eng Engine) proxyproto.Response {
	msg, err := proxyproto.ParseMessage(body)
	if err != nil {
		return proxyproto.Err(err.Error())
	}

	switch msg.Command {
	case proxyproto.CommandOpen:
		err = eng.Open(ctx)
	case proxyproto.CommandEdit:
		err = eng.Edit(ctx, msg.Value)
	default:
		return proxyproto.Err(proxyproto.UnknownCommand(msg.Command).Error())
	}

	switch {
	case err == nil:
		return proxyproto.OK()
	case errors.Is(err, engine.ErrCancelled):
		return proxyproto.Cancel()
	default:
		return proxyproto.Err(err.Error())
	}
}
