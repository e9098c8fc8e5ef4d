// Package transport implements the correlator: message codec, function
// registry, waiter table, and dispatch worker that sit between the link
// framing layer and registered handler functions.
package transport

import (
	"bytes"
	"errors"

	"github.com/watchlink/tinyrpc/pkg/protocol"
)

// Message is a parsed transport message: a payload interpreted as
// type | seq | name\0 | args.
type Message struct {
	Type protocol.MessageType
	Seq  byte
	Name string
	Args []byte
}

var (
	ErrInvalidType    = errors.New("transport: invalid message type")
	ErrNameOutOfRange = errors.New("transport: name length out of range")
	ErrArgsTooLarge   = errors.New("transport: args length exceeds MaxArgs")
	ErrPayloadSize    = errors.New("transport: serialized payload out of bounds")
	ErrNoTerminator   = errors.New("transport: missing name terminator")
)

// BuildPayload serializes a transport message into a link-layer payload:
// type(1) | seq(1) | name_bytes | 0x00 | arg_bytes. It validates every
// bound spec.md's codec contract requires and returns an error instead of
// a payload on any violation (the original C API returned a length of 0;
// Go spells that as a nil slice and an error).
func BuildPayload(typ protocol.MessageType, seq byte, name string, args []byte) ([]byte, error) {
	if !typ.Valid() {
		return nil, ErrInvalidType
	}
	if len(name) < protocol.MinNameLen || len(name) > protocol.MaxNameLen {
		return nil, ErrNameOutOfRange
	}
	if len(args) > protocol.MaxArgs {
		return nil, ErrArgsTooLarge
	}

	total := 2 + len(name) + 1 + len(args)
	if total < protocol.MinPayloadSize || total > protocol.MaxPayloadSize {
		return nil, ErrPayloadSize
	}

	payload := make([]byte, 0, total)
	payload = append(payload, byte(typ), seq)
	payload = append(payload, name...)
	payload = append(payload, 0x00)
	payload = append(payload, args...)
	return payload, nil
}

// ParsePayload parses a link-layer payload back into a Message. Args is
// returned as a sub-slice of payload (zero-copy); callers that retain a
// parsed Message past the lifetime of the buffer it came from must copy
// Args themselves. Name is a Go string and is necessarily copied.
func ParsePayload(payload []byte) (Message, error) {
	if len(payload) < protocol.MinPayloadSize || len(payload) > protocol.MaxPayloadSize {
		return Message{}, ErrPayloadSize
	}

	typ := protocol.MessageType(payload[0])
	if !typ.Valid() {
		return Message{}, ErrInvalidType
	}
	seq := payload[1]

	rest := payload[2:]
	nul := bytes.IndexByte(rest, 0x00)
	if nul < 0 {
		return Message{}, ErrNoTerminator
	}
	nameLen := nul
	if nameLen < protocol.MinNameLen || nameLen > protocol.MaxNameLen {
		return Message{}, ErrNameOutOfRange
	}

	args := rest[nameLen+1:]
	if len(args) > protocol.MaxArgs {
		return Message{}, ErrArgsTooLarge
	}

	return Message{
		Type: typ,
		Seq:  seq,
		Name: string(rest[:nameLen]),
		Args: args,
	}, nil
}
