package socketserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ChannelRequest is one legacy channel request: [msgid, [command, ...args]].
type ChannelRequest struct {
	MsgID   json.RawMessage
	Command string
	Args    []any
}

// errBadEnvelope marks a message that cannot be answered because it carries
// no usable msgid.
var errBadEnvelope = errors.New("message is not a [msgid, payload] pair")

// ParseChannelRequest decodes one legacy channel message. When the envelope
// is valid but the payload is not, the returned request still carries the
// msgid so the caller can reply with the error.
func ParseChannelRequest(raw json.RawMessage) (*ChannelRequest, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope) != 2 {
		return nil, errBadEnvelope
	}

	var msgid int64
	if err := json.Unmarshal(envelope[0], &msgid); err != nil {
		return nil, errBadEnvelope
	}
	req := &ChannelRequest{MsgID: envelope[0]}

	var payload []any
	dec := json.NewDecoder(bytes.NewReader(envelope[1]))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return req, fmt.Errorf("request must be [command, ...args]: %w", err)
	}
	if len(payload) == 0 {
		return req, errors.New("request must be [command, ...args]: empty request")
	}
	command, ok := payload[0].(string)
	if !ok {
		return req, fmt.Errorf("command must be a string, got %T", payload[0])
	}

	req.Command = command
	req.Args = payload[1:]
	return req, nil
}

// EncodeChannelReply formats [msgid, result] followed by a newline. result is
// "" on success or the error text.
func EncodeChannelReply(msgid json.RawMessage, result string) ([]byte, error) {
	data, err := json.Marshal([]any{msgid, result})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
