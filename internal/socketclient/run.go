package socketclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/codefionn/guise/internal/consts"
	"github.com/codefionn/guise/internal/logger"
	"github.com/codefionn/guise/internal/proxyproto"
)

// Exit statuses of the proxy client.
const (
	ExitOK   = 0
	ExitFail = 1
)

const diagPrefix = "guise-proxy: "

// Run sends open (no args) or one edit per filename, in order, and returns
// the process exit status. The first reply that is not ok ends the run.
func Run(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer) int {
	debug := debugLogger(getenv(consts.EnvDebug))
	defer debug.Close()

	debug.Debug("args: %q", args)

	raw := getenv(consts.EnvProxyAddress)
	if strings.TrimSpace(raw) == "" {
		fmt.Fprintf(stderr, "%s%s environment variable is required\n", diagPrefix, consts.EnvProxyAddress)
		return ExitFail
	}
	addr, err := proxyproto.ParseAddress(raw)
	if err != nil {
		fmt.Fprintf(stderr, "%s%v\n", diagPrefix, err)
		return ExitFail
	}
	debug.Debug("addr: %s", addr.JSON())

	client := NewClient(DefaultConfig(addr), debug)

	messages := []proxyproto.Message{{Command: proxyproto.CommandOpen}}
	if len(args) > 0 {
		messages = messages[:0]
		for _, filename := range args {
			messages = append(messages, proxyproto.Message{Command: proxyproto.CommandEdit, Value: filename})
		}
	}

	for _, msg := range messages {
		resp, err := client.Send(ctx, msg)
		if err != nil {
			var connErr *ConnectionError
			if errors.As(err, &connErr) && errors.Is(err, proxyproto.ErrNoData) {
				err = fmt.Errorf("connection to %s closed without a response", connErr.Addr)
			}
			debug.Debug("failed: %v", err)
			fmt.Fprintf(stderr, "%s%v\n", diagPrefix, err)
			return ExitFail
		}

		switch resp.Status {
		case proxyproto.StatusOK:
			continue
		case proxyproto.StatusCancel:
			debug.Debug("exiting with code %d (cancel)", ExitFail)
			return ExitFail
		case proxyproto.StatusErr:
			debug.Debug("exiting with code %d (err: %s)", ExitFail, resp.Value)
			fmt.Fprintln(stderr, resp.Value)
			return ExitFail
		default:
			debug.Debug("unexpected status: %s", resp.Status)
			fmt.Fprintf(stderr, "%sUnexpected status '%s' is received\n", diagPrefix, resp.Status)
			return ExitFail
		}
	}

	debug.Debug("exiting with code %d", ExitOK)
	return ExitOK
}

// debugLogger appends to path, or discards when path is empty or cannot be
// opened.
func debugLogger(path string) *logger.Logger {
	l, err := logger.New(logger.LevelDebug, path, "guise:proxy")
	if err != nil {
		return logger.NewWriter(logger.LevelNone, io.Discard, "")
	}
	return l
}
