// Package socketclient is the proxy client: the program external tools run
// as their editor.
//
// It reads the proxy listener address from GUISE_PROXY_ADDRESS and speaks the
// single-shot proxy protocol, one connection per request:
//
//	guise-proxy                 -> open:
//	guise-proxy a.txt b.txt     -> edit:a.txt, then edit:b.txt after ok:
//
// The reply decides the exit status: ok exits 0 once every file is done,
// cancel exits 1 silently, err prints its text to stderr and exits 1.
// Anything else is reported with a "guise-proxy:" diagnostic and exits 1.
// Nothing is retried.
//
// Setting GUISE_DEBUG to a file path appends a trace of the run to that file.
package socketclient
