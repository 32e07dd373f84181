// Package proxyproto is the wire codec of the single-shot proxy protocol.
//
// A connection carries exactly one request frame and one response frame.
// Each frame is a 4-byte big-endian body length followed by the body. The
// request body is "command:value" and the response body is "status:value".
package proxyproto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/codefionn/guise/internal/consts"
)

// MaxFrameSize bounds a frame body.
const MaxFrameSize = consts.BufferSize1MB

// Commands.
const (
	CommandOpen = "open"
	CommandEdit = "edit"
)

// Response statuses.
const (
	StatusOK     = "ok"
	StatusCancel = "cancel"
	StatusErr    = "err"
)

// ErrNoData is returned when the peer closed the connection without sending
// a frame, or sent an empty one.
var ErrNoData = errors.New("No data received")

// ProtocolError reports a malformed or unknown frame. Its message is the
// text sent back to the peer.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return e.Msg
}

// UnexpectedRecord reports a body without a separator.
func UnexpectedRecord(raw string) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf("Unexpected record '%s'", raw)}
}

// UnknownCommand reports a command outside the protocol.
func UnknownCommand(name string) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf("Unknown command '%s'", name)}
}

// TruncatedFrame reports a connection that ended inside a frame.
func TruncatedFrame(part string, got, want int) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf("Truncated frame %s (%d of %d bytes)", part, got, want)}
}

// ReadFrame reads one frame body. A connection closed before the first byte
// yields ErrNoData; one closed inside a frame yields a *ProtocolError.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if n, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoData
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, TruncatedFrame("header", n, len(header))
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return nil, ErrNoData
	}
	if n > MaxFrameSize {
		return nil, &ProtocolError{Msg: fmt.Sprintf("Frame too large (%d bytes)", n)}
	}

	body := make([]byte, n)
	if got, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, TruncatedFrame("body", got, int(n))
		}
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes body as one frame.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame too large (%d bytes)", len(body))
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err := w.Write(buf)
	return err
}

// Message is a request frame.
type Message struct {
	Command string
	Value   string
}

// ParseMessage splits a request body at the first ':'.
func ParseMessage(body []byte) (Message, error) {
	raw := string(body)
	command, value, ok := strings.Cut(raw, ":")
	if !ok || command == "" {
		return Message{}, UnexpectedRecord(raw)
	}
	return Message{Command: command, Value: value}, nil
}

// String formats the message as a request body.
func (m Message) String() string {
	return m.Command + ":" + m.Value
}

// Response is a response frame.
type Response struct {
	Status string
	Value  string
}

// OK is a successful response.
func OK() Response { return Response{Status: StatusOK} }

// Cancel reports that the wait ended without the surface closing.
func Cancel() Response { return Response{Status: StatusCancel} }

// Err carries diagnostic text.
func Err(msg string) Response { return Response{Status: StatusErr, Value: msg} }

// ParseResponse splits a response body at the first ':'. The status is not
// checked against the known set.
func ParseResponse(body []byte) (Response, error) {
	raw := string(body)
	status, value, ok := strings.Cut(raw, ":")
	if !ok || status == "" {
		return Response{}, &ProtocolError{Msg: fmt.Sprintf("Unexpected result '%s'", raw)}
	}
	return Response{Status: status, Value: value}, nil
}

// String formats the response as a response body.
func (r Response) String() string {
	return r.Status + ":" + r.Value
}

// Address is a published listener address.
type Address struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
}

// AddressOf converts a listener address.
func AddressOf(addr net.Addr) (Address, error) {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Address{}, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port %q: %w", port, err)
	}
	return Address{Hostname: host, Port: p}, nil
}

// ParseAddress decodes the JSON form of an address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if a.Hostname == "" || a.Port <= 0 || a.Port > 65535 {
		return Address{}, fmt.Errorf("invalid address %q: hostname and port are required", s)
	}
	return a, nil
}

// JSON encodes the address, e.g. {"hostname":"127.0.0.1","port":40123}.
func (a Address) JSON() string {
	data, _ := json.Marshal(a)
	return string(data)
}

// HostPort returns the address in dialable form.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Hostname, strconv.Itoa(a.Port))
}
