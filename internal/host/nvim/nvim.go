// Package nvim implements host.Editor for a running Neovim instance,
// reached over its msgpack-rpc socket ($NVIM).
package nvim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/codefionn/guise/internal/consts"
	"github.com/codefionn/guise/internal/host"
	"github.com/codefionn/guise/internal/msgrpc"
	"github.com/vmihailenco/msgpack/v5"
)

// Dial connects to a Neovim listen address: a unix socket path or host:port.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	if address == "" {
		return nil, errors.New("no Neovim address given")
	}

	var d net.Dialer
	network := "unix"
	if isTCPAddress(address) {
		network = "tcp"
	}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Neovim at %s: %w", address, err)
	}
	return conn, nil
}

func isTCPAddress(address string) bool {
	if strings.ContainsAny(address, `/\`) {
		return false
	}
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return false
	}
	_, err = strconv.Atoi(port)
	return err == nil
}

// TokenSink returns a msgrpc fallback that fires every incoming method name
// as a wait token. Neovim delivers triggers as rpcnotify(channel, token).
func TokenSink(sink host.TriggerSink) msgrpc.FallbackHandler {
	return func(ctx context.Context, method string, args []any) (any, error) {
		if sink.Fire(method) {
			return nil, nil
		}
		return nil, fmt.Errorf("no pending wait for '%s'", method)
	}
}

// Editor drives Neovim through its API.
type Editor struct {
	rpc *msgrpc.Endpoint

	mu      sync.Mutex
	channel int64
}

var _ host.Editor = (*Editor)(nil)

// New creates an editor over an endpoint connected to Neovim. The endpoint
// must be served by the caller.
func New(rpc *msgrpc.Endpoint) *Editor {
	return &Editor{rpc: rpc}
}

// ChannelID returns the id Neovim assigned to this connection, used as the
// rpcnotify target of hook commands.
func (e *Editor) ChannelID(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.channel != 0 {
		return e.channel, nil
	}

	var info []msgpack.RawMessage
	if err := e.rpc.Call(ctx, "nvim_get_api_info", &info); err != nil {
		return 0, err
	}
	if len(info) == 0 {
		return 0, errors.New("nvim_get_api_info returned no channel id")
	}
	var channel int64
	if err := msgpack.Unmarshal(info[0], &channel); err != nil {
		return 0, fmt.Errorf("invalid channel id: %w", err)
	}

	e.channel = channel
	return channel, nil
}

func (e *Editor) command(ctx context.Context, cmd string) error {
	return e.rpc.Call(ctx, "nvim_command", nil, cmd)
}

func (e *Editor) callFunction(ctx context.Context, result any, fn string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	return e.rpc.Call(ctx, "nvim_call_function", result, fn, args)
}

func (e *Editor) current(ctx context.Context) (host.SurfaceID, error) {
	var ids []int64
	if err := e.rpc.Call(ctx, "nvim_eval", &ids, "[win_getid(), bufnr('%')]"); err != nil {
		return host.SurfaceID{}, err
	}
	if len(ids) != 2 {
		return host.SurfaceID{}, fmt.Errorf("unexpected surface identity %v", ids)
	}
	return host.SurfaceID{WindowID: ids[0], BufferID: ids[1]}, nil
}

func (e *Editor) OpenScratch(ctx context.Context) (host.SurfaceID, error) {
	if err := e.command(ctx, "tabnew"); err != nil {
		return host.SurfaceID{}, err
	}
	return e.current(ctx)
}

func (e *Editor) OpenFile(ctx context.Context, filename, strategy string) (host.SurfaceID, error) {
	var escaped string
	if err := e.callFunction(ctx, &escaped, "fnameescape", filename); err != nil {
		return host.SurfaceID{}, err
	}
	if err := e.command(ctx, strategy+" "+escaped); err != nil {
		return host.SurfaceID{}, err
	}
	return e.current(ctx)
}

func (e *Editor) SetWipeOnHide(ctx context.Context, surface host.SurfaceID) error {
	return e.callFunction(ctx, nil, "setbufvar", surface.BufferID, "&bufhidden", "wipe")
}

// DefineHooks registers a BufWipeout trigger for the surface's buffer and a
// VimLeave trigger, both notifying this connection with the wait token.
func (e *Editor) DefineHooks(ctx context.Context, hooks host.Hooks) error {
	channel, err := e.ChannelID(ctx)
	if err != nil {
		return err
	}

	notify := fmt.Sprintf("call rpcnotify(%d, '%s')", channel, hooks.Token)
	cmds := []string{
		fmt.Sprintf("augroup %s | augroup END", hooks.Group),
		fmt.Sprintf("autocmd %s BufWipeout <buffer=%d> ++once %s", hooks.Group, hooks.Surface.BufferID, notify),
		fmt.Sprintf("autocmd %s VimLeave * ++once %s", hooks.Group, notify),
	}
	for _, cmd := range cmds {
		if err := e.command(ctx, cmd); err != nil {
			if isInvalidBuffer(err) {
				return fmt.Errorf("%w: %w", host.ErrSurfaceGone, err)
			}
			return err
		}
	}
	return nil
}

// isInvalidBuffer matches E680, raised by <buffer=N> for a wiped buffer.
func isInvalidBuffer(err error) bool {
	var remote *msgrpc.RemoteError
	return errors.As(err, &remote) && strings.Contains(remote.Error(), "E680")
}

// RemoveHooks deletes the group's autocmds and the group itself. Both
// commands are silent so an absent group is not an error.
func (e *Editor) RemoveHooks(ctx context.Context, group string) error {
	if err := e.command(ctx, "silent! autocmd! "+group); err != nil {
		return err
	}
	return e.command(ctx, "silent! augroup! "+group)
}

func (e *Editor) EchoError(ctx context.Context, msg string) error {
	chunks := []any{[]any{msg, "ErrorMsg"}}
	return e.rpc.Call(ctx, "nvim_echo", nil, chunks, true, map[string]any{})
}

func (e *Editor) OpenStrategy(ctx context.Context) (string, error) {
	var strategy string
	expr := fmt.Sprintf("get(g:, '%s', '')", consts.OpenStrategyVar)
	if err := e.rpc.Call(ctx, "nvim_eval", &strategy, expr); err != nil {
		return "", err
	}
	return strategy, nil
}

func (e *Editor) Setenv(ctx context.Context, name, value string) error {
	return e.callFunction(ctx, nil, "setenv", name, value)
}
