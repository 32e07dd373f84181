// Package socketserver runs the three loopback listeners of guised.
//
// Every listener binds an ephemeral port on a loopback host, publishes its
// address as JSON ({"hostname":"127.0.0.1","port":40123}) under a
// well-known name, and accepts connections until the server context ends.
// Each connection runs on its own goroutine; a failing or panicking handler
// is logged and never stops the accept loop.
//
// # Architecture
//
//   - Server: binds the listeners, publishes addresses and runs the accept
//     loops under an errgroup
//   - Hub: tracks open connections across listeners
//   - Client: one legacy channel connection
//
// # Protocols
//
// GUISE_VIM_ADDRESS is the Vim JSON channel protocol. Each request is
// [msgid, [command, ...args]] and is answered with [msgid, ""] on success or
// [msgid, "error text"]. Requests on one connection are handled in arrival
// order.
//
//	[1, ["edit", "/tmp/COMMIT_EDITMSG"]]
//	[1, ""]
//
// GUISE_NVIM_ADDRESS is msgpack-rpc. open, edit and error are callable as
// methods, as is any live wait token. Each request is served concurrently.
//
// GUISE_PROXY_ADDRESS is the single-shot proxy protocol: one length-framed
// "command:value" request, one "status:value" response, then close.
//
//	open:            -> ok: | cancel: | err:<text>
//	edit:<filename>  -> ok: | cancel: | err:<text>
//
// Usage
//
//	srv := socketserver.NewServer("127.0.0.1", dispatcher, eng)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package socketserver
