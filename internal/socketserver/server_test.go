package socketserver

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codefionn/guise/internal/actor"
	"github.com/codefionn/guise/internal/consts"
	"github.com/codefionn/guise/internal/dispatch"
	"github.com/codefionn/guise/internal/engine"
	"github.com/codefionn/guise/internal/host/hosttest"
	"github.com/codefionn/guise/internal/msgrpc"
	"github.com/codefionn/guise/internal/proxyproto"
	"github.com/codefionn/guise/internal/waitreg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type harness struct {
	srv    *Server
	editor *hosttest.Editor
	reg    *waitreg.Registry
	cancel context.CancelFunc
	done   chan error

	mu        sync.Mutex
	published map[string]string
}

type harnessOptions struct {
	dispatcher Dispatcher
	regOpts    []waitreg.Option
}

func newHarness(t *testing.T, o harnessOptions) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{cancel: cancel, done: make(chan error, 1), published: make(map[string]string)}

	var eng *engine.Engine
	h.reg = waitreg.New(append(o.regOpts, waitreg.WithTeardown(func(group string) { eng.RemoveHooks(group) }))...)
	h.editor = hosttest.New(h.reg)

	ref := actor.NewActorRef("host", actor.NewHostActor("host", h.editor), 64)
	require.NoError(t, ref.Start(ctx))
	eng = engine.New(ctx, actor.NewHostClient(ref), h.reg)

	d := o.dispatcher
	if d == nil {
		d = dispatch.New(eng, h.reg)
	}

	h.srv = NewServer("127.0.0.1", d, eng, WithPublisher(PublisherFunc(func(_ context.Context, name string, addr proxyproto.Address) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.published[name] = addr.JSON()
		return nil
	})))
	require.NoError(t, h.srv.Listen())
	go func() { h.done <- h.srv.Serve(ctx) }()

	t.Cleanup(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("server did not stop")
		}
		_ = ref.Stop(context.Background())
	})
	return h
}

func (h *harness) addr(t *testing.T, name string) string {
	t.Helper()
	a, ok := h.srv.Address(name)
	require.True(t, ok)
	return a.HostPort()
}

func (h *harness) requirePending(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.reg.Pending() == n && h.editor.HookGroups() == n
	}, waitFor, 5*time.Millisecond)
}

func proxyCall(addr, body string) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := proxyproto.WriteFrame(conn, []byte(body)); err != nil {
		return "", err
	}
	resp, err := proxyproto.ReadFrame(conn)
	return string(resp), err
}

func asyncProxyCall(addr, body string) <-chan string {
	ch := make(chan string, 1)
	go func() {
		resp, err := proxyCall(addr, body)
		if err != nil {
			resp = "transport: " + err.Error()
		}
		ch <- resp
	}()
	return ch
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("no response")
		return ""
	}
}

func TestListenersBindLoopbackAndPublish(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	addrs := h.srv.Addresses()
	require.Len(t, addrs, 3)
	ports := map[int]bool{}
	for _, name := range []string{consts.EnvVimAddress, consts.EnvNvimAddress, consts.EnvProxyAddress} {
		a, ok := addrs[name]
		require.True(t, ok, name)
		assert.Equal(t, "127.0.0.1", a.Hostname)
		assert.Positive(t, a.Port)
		ports[a.Port] = true
	}
	assert.Len(t, ports, 3)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.published) == 3
	}, waitFor, 5*time.Millisecond)
	h.mu.Lock()
	assert.Equal(t, addrs[consts.EnvProxyAddress].JSON(), h.published[consts.EnvProxyAddress])
	h.mu.Unlock()
}

func TestLegacyChannelEditRepliesAfterClose(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	conn, err := net.Dial("tcp", h.addr(t, ListenerVim))
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte(`[1,["edit","a.txt"]]` + "\n" + `[2,["error","E1","here"]]` + "\n"))
	require.NoError(t, err)
	h.requirePending(t, 1)

	// the error request waits behind the pending edit on the same connection
	assert.Empty(t, h.editor.Echoed())

	require.NoError(t, h.editor.CloseFile("a.txt"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `[1,""]`+"\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `[2,""]`+"\n", line)
	assert.Equal(t, []string{"E1\nhere"}, h.editor.Echoed())
}

func TestLegacyChannelErrorReplies(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	conn, err := net.Dial("tcp", h.addr(t, ListenerVim))
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))

	tests := []struct {
		request string
		reply   string
	}{
		{`[3,["edit",""]]`, `[3,"edit: filename must not be empty"]`},
		{`[4,["write"]]`, `[4,"unknown method 'write'"]`},
		{`[5,["error","only one"]]`, `[5,"error: missing throwpoint"]`},
		{`[6,[]]`, `[6,"request must be [command, ...args]: empty request"]`},
	}
	for _, tt := range tests {
		_, err := conn.Write([]byte(tt.request + "\n"))
		require.NoError(t, err)
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, tt.reply+"\n", line, tt.request)
	}

	// a message without a msgid is dropped and the connection stays usable
	_, err = conn.Write([]byte(`"hello"` + "\n" + `[7,["edit",""]]` + "\n"))
	require.NoError(t, err)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `[7,"edit: filename must not be empty"]`+"\n", line)
}

func TestLegacyChannelClosesOnInvalidJSON(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	conn, err := net.Dial("tcp", h.addr(t, ListenerVim))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("[1, {oops\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = bufio.NewReader(conn).ReadString('\n')
	assert.Error(t, err)
}

func TestRPCEditDoesNotBlockOtherRequests(t *testing.T) {
	h := newHarness(t, harnessOptions{regOpts: []waitreg.Option{
		waitreg.WithIDGenerator(func() string { return "tok1" }),
	}})

	conn, err := net.Dial("tcp", h.addr(t, ListenerNvim))
	require.NoError(t, err)
	client := msgrpc.NewEndpoint(conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Serve(ctx) }()

	edit := make(chan error, 1)
	go func() { edit <- client.Call(context.Background(), "edit", nil, "a.txt") }()
	h.requirePending(t, 1)

	require.NoError(t, client.Call(context.Background(), "error", nil, "E1", ""))
	assert.Equal(t, []string{"E1"}, h.editor.Echoed())

	var remote *msgrpc.RemoteError
	require.ErrorAs(t, client.Call(context.Background(), "edit", nil), &remote)
	assert.Equal(t, "edit: missing filename", remote.Error())

	// the host fires the wait's token through any listener
	require.NoError(t, client.Call(context.Background(), "guise:tok1", nil))
	select {
	case err := <-edit:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("edit did not return")
	}

	require.ErrorAs(t, client.Call(context.Background(), "guise:tok1", nil), &remote)
	assert.Equal(t, "unknown method 'guise:tok1'", remote.Error())
}

func TestProxyEditAndOpen(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	addr := h.addr(t, ListenerProxy)

	edit := asyncProxyCall(addr, "edit:a.txt")
	h.requirePending(t, 1)
	require.NoError(t, h.editor.CloseFile("a.txt"))
	assert.Equal(t, "ok:", receive(t, edit))

	open := asyncProxyCall(addr, "open:")
	h.requirePending(t, 1)
	h.editor.Shutdown()
	assert.Equal(t, "ok:", receive(t, open))
}

func TestProxyConcurrentEditsDoNotCrossResolve(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	addr := h.addr(t, ListenerProxy)

	a := asyncProxyCall(addr, "edit:a.txt")
	b := asyncProxyCall(addr, "edit:b.txt")
	h.requirePending(t, 2)

	require.NoError(t, h.editor.CloseFile("a.txt"))
	assert.Equal(t, "ok:", receive(t, a))

	select {
	case resp := <-b:
		t.Fatalf("b resolved early: %s", resp)
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, h.editor.CloseFile("b.txt"))
	assert.Equal(t, "ok:", receive(t, b))
}

func TestProxyProtocolErrors(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	addr := h.addr(t, ListenerProxy)

	tests := []struct {
		body string
		want string
	}{
		{"garbage", "err:Unexpected record 'garbage'"},
		{"write:x", "err:Unknown command 'write'"},
		{"edit:", "err:filename must not be empty"},
	}
	for _, tt := range tests {
		resp, err := proxyCall(addr, tt.body)
		require.NoError(t, err)
		assert.Equal(t, tt.want, resp)
	}

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	resp, err := proxyproto.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "err:No data received", string(resp))
}

func TestProxyTruncatedFramesGetErrorReply(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	addr := h.addr(t, ListenerProxy)

	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"short header", []byte{0, 0}, "err:Truncated frame header (2 of 4 bytes)"},
		{"short body", append([]byte{0, 0, 0, 10}, "edit:"...), "err:Truncated frame body (5 of 10 bytes)"},
		{"header only", []byte{0, 0, 0, 10}, "err:Truncated frame body (0 of 10 bytes)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := net.Dial("tcp", addr)
			require.NoError(t, err)
			defer conn.Close()

			_, err = conn.Write(tt.raw)
			require.NoError(t, err)
			require.NoError(t, conn.(*net.TCPConn).CloseWrite())

			resp, err := proxyproto.ReadFrame(conn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(resp))
		})
	}
	assert.Equal(t, 0, h.reg.Pending())
}

func TestProxyHostErrorIsReported(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.editor.Fail("open_file", errors.New("E212: Can't open file for writing"))

	resp, err := proxyCall(h.addr(t, ListenerProxy), "edit:a.txt")
	require.NoError(t, err)
	assert.Regexp(t, `^err:.*E212: Can't open file for writing$`, resp)
	assert.Equal(t, 0, h.reg.Pending())
}

func TestProxyCancelOnShutdown(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	edit := asyncProxyCall(h.addr(t, ListenerProxy), "edit:a.txt")
	h.requirePending(t, 1)

	h.cancel()
	assert.Equal(t, "cancel:", receive(t, edit))
}

func TestShutdownClosesIdleConnections(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var conns []net.Conn
	for _, name := range []string{ListenerVim, ListenerNvim} {
		conn, err := net.Dial("tcp", h.addr(t, name))
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool { return h.srv.ConnectionCount() == 2 }, waitFor, 5*time.Millisecond)

	h.cancel()

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
		_, err := conn.Read(make([]byte, 1))
		require.Error(t, err)
		var netErr net.Error
		assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection was not closed")
	}
	assert.Eventually(t, func() bool { return h.srv.ConnectionCount() == 0 }, waitFor, 5*time.Millisecond)
}

type flakyDispatcher struct {
	calls atomic.Int32
}

func (d *flakyDispatcher) Call(ctx context.Context, method string, args []any) error {
	if d.calls.Add(1) == 1 {
		panic("handler exploded")
	}
	return nil
}

func TestPanickingHandlerDoesNotStopAcceptLoop(t *testing.T) {
	h := newHarness(t, harnessOptions{dispatcher: &flakyDispatcher{}})
	addr := h.addr(t, ListenerVim)

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Write([]byte(`[1,["open"]]` + "\n"))
	require.NoError(t, err)
	require.NoError(t, first.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = bufio.NewReader(first).ReadString('\n')
	assert.Error(t, err, "connection of the panicking handler is closed")

	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write([]byte(`[1,["open"]]` + "\n"))
	require.NoError(t, err)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(waitFor)))
	line, err := bufio.NewReader(second).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `[1,""]`+"\n", line)
}

func TestServeRequiresListen(t *testing.T) {
	srv := NewServer("127.0.0.1", &flakyDispatcher{}, nil)
	assert.Error(t, srv.Serve(context.Background()))
}
