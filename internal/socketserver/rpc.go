package socketserver

import (
	"context"
	"net"

	"github.com/codefionn/guise/internal/dispatch"
	"github.com/codefionn/guise/internal/logger"
	"github.com/codefionn/guise/internal/msgrpc"
)

// serveRPC runs one msgpack-rpc connection. open, edit and error are
// registered by name; anything else goes to the dispatcher as a token.
func serveRPC(ctx context.Context, id string, conn net.Conn, d Dispatcher, log *logger.Logger) {
	call := func(method string) msgrpc.Handler {
		return func(ctx context.Context, args []any) (any, error) {
			return nil, d.Call(ctx, method, args)
		}
	}

	endpoint := msgrpc.NewEndpoint(conn,
		msgrpc.WithLogger(logger.Slog(log).With("conn", id)),
		msgrpc.WithFallback(func(ctx context.Context, method string, args []any) (any, error) {
			return nil, d.Call(ctx, method, args)
		}),
	)
	for _, method := range []string{dispatch.MethodOpen, dispatch.MethodEdit, dispatch.MethodError} {
		endpoint.Register(method, call(method))
	}

	err := endpoint.Serve(ctx)
	// pending edits outlive the connection; keep the handler tracked until
	// they are answered
	endpoint.Wait()
	if err != nil {
		log.Warn("RPC connection %s ended: %v", id, err)
		return
	}
	log.Debug("RPC connection %s closed", id)
}
