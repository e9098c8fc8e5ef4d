// Package link implements the byte-framing layer of the RPC pipeline: a
// state machine that assembles and validates frames off an arbitrary byte
// stream, and a builder that produces frames for transmission.
//
// Wire format (little-endian length):
//
//	SOF | len_lo | len_hi | hdr_crc | SOD | payload... | pkt_crc | EOF
//
// hdr_crc is CRC8 over the three header bytes preceding it. pkt_crc is
// CRC8 over [SOD | payload]. length counts everything from SOD through
// EOF inclusive, so payload_len = length - 3.
//
// The parser never returns an error: any validation failure resets it to
// WAIT_SOF and resumes scanning for the next SOF. Corruption is resync,
// not failure, matching the framing discipline the teacher's own
// byte-at-a-time UART state machine used for the same problem (see
// DESIGN.md for the file this was generalized from).
package link

import (
	"errors"
	"log"

	"github.com/watchlink/tinyrpc/pkg/crc8"
	"github.com/watchlink/tinyrpc/pkg/protocol"
)

// ErrInvalidPayloadSize is returned by Build when the payload is outside
// [protocol.MinPayloadSize, protocol.MaxPayloadSize].
var ErrInvalidPayloadSize = errors.New("link: payload size out of bounds")

var crcTable = crc8.MakeTable(protocol.CRC8Poly)

// parserState enumerates the frame-assembly states. Names follow
// spec.md's §4.1 state list.
type parserState int

const (
	stateWaitSOF parserState = iota
	stateReadLenLo
	stateReadLenHi
	stateReadHdrCRC
	stateWaitSOD
	stateReadPayload
	stateReadPktCRC
	stateWaitEOF
)

// Parser drives the link-layer state machine. It is not safe for
// concurrent use: only a single RX goroutine may call Feed, matching the
// single-threaded ownership spec.md describes for the link parser.
type Parser struct {
	state    parserState
	hdr      [3]byte // SOF, len_lo, len_hi
	length   uint16  // SOD..EOF inclusive
	payload  []byte
	out      chan<- []byte
	done     <-chan struct{}
	trace    bool
	resyncs  int
	frames   int
}

// NewParser creates a parser that emits completed payloads on out. A
// completed frame blocks trying to send on out until it succeeds or done
// is closed — this is the back-pressure mechanism spec.md §4.1 describes:
// the RX side will not pull more bytes off the wire than the transport
// layer can absorb. trace enables per-byte logging for debugging corrupt
// streams; it is normally left off since it is extremely noisy.
func NewParser(out chan<- []byte, done <-chan struct{}, trace bool) *Parser {
	return &Parser{
		state:   stateWaitSOF,
		payload: make([]byte, 0, protocol.MaxPayloadSize),
		out:     out,
		done:    done,
		trace:   trace,
	}
}

// Reset returns the parser to WAIT_SOF and clears all scratch state,
// discarding any partially assembled frame.
func (p *Parser) Reset() {
	p.state = stateWaitSOF
	p.length = 0
	p.payload = p.payload[:0]
}

// Stats returns the number of frames successfully emitted and the number
// of times the parser has resynced after a validation failure.
func (p *Parser) Stats() (frames, resyncs int) {
	return p.frames, p.resyncs
}

func (p *Parser) resync(format string, args ...interface{}) {
	p.resyncs++
	if p.trace {
		log.Printf("link: resync: "+format, args...)
	}
	p.Reset()
}

// Feed drives the state machine with an arbitrary run of bytes. It may be
// called with a single byte at a time (the common case for a byte-at-a-
// time UART read) or with a larger chunk; the result is identical either
// way.
func (p *Parser) Feed(data []byte) {
	for _, b := range data {
		p.step(b)
	}
}

func (p *Parser) step(b byte) {
	if p.trace {
		log.Printf("link: byte=0x%02x state=%d", b, p.state)
	}

	switch p.state {
	case stateWaitSOF:
		if b == protocol.SOF {
			p.hdr[0] = b
			p.state = stateReadLenLo
		}
		// Non-SOF bytes while waiting are silently discarded.

	case stateReadLenLo:
		p.hdr[1] = b
		p.state = stateReadLenHi

	case stateReadLenHi:
		p.hdr[2] = b
		p.length = uint16(p.hdr[1]) | uint16(p.hdr[2])<<8
		if p.length < protocol.MinPktLen || p.length > protocol.MaxPktLen {
			p.resync("invalid packet length %d (want [%d,%d])", p.length, protocol.MinPktLen, protocol.MaxPktLen)
			return
		}
		p.state = stateReadHdrCRC

	case stateReadHdrCRC:
		want := crcTable.Checksum(p.hdr[:], protocol.CRC8Init)
		if want != b {
			p.resync("header CRC mismatch: want 0x%02x got 0x%02x", want, b)
			return
		}
		p.state = stateWaitSOD

	case stateWaitSOD:
		if b != protocol.SOD {
			p.resync("expected SOD 0x%02x, got 0x%02x", protocol.SOD, b)
			return
		}
		p.payload = p.payload[:0]
		p.state = stateReadPayload

	case stateReadPayload:
		payloadLen := int(p.length) - 3
		if len(p.payload) >= cap(p.payload) || len(p.payload) >= payloadLen {
			p.resync("payload overflow at %d bytes", len(p.payload))
			return
		}
		p.payload = append(p.payload, b)
		if len(p.payload) == payloadLen {
			p.state = stateReadPktCRC
		}

	case stateReadPktCRC:
		want := pktCRC(p.payload)
		if want != b {
			p.resync("packet CRC mismatch: want 0x%02x got 0x%02x", want, b)
			return
		}
		p.state = stateWaitEOF

	case stateWaitEOF:
		if b != protocol.EOF {
			p.resync("expected EOF 0x%02x, got 0x%02x", protocol.EOF, b)
			return
		}
		p.emit()
		p.Reset()
	}
}

func (p *Parser) emit() {
	out := make([]byte, len(p.payload))
	copy(out, p.payload)
	p.frames++
	select {
	case p.out <- out:
	case <-p.done:
	}
}

// pktCRC computes the packet CRC over [SOD | payload].
func pktCRC(payload []byte) byte {
	crc := crcTable.Checksum([]byte{protocol.SOD}, protocol.CRC8Init)
	return crcTable.Checksum(payload, crc)
}

// Build constructs a complete wire frame around payload. len(payload)
// must be within [protocol.MinPayloadSize, protocol.MaxPayloadSize].
func Build(payload []byte) ([]byte, error) {
	if len(payload) < protocol.MinPayloadSize || len(payload) > protocol.MaxPayloadSize {
		return nil, ErrInvalidPayloadSize
	}

	length := uint16(len(payload) + 3)
	frame := make([]byte, 0, 4+1+len(payload)+1+1)
	frame = append(frame, protocol.SOF, byte(length), byte(length>>8))

	hdrCRC := crcTable.Checksum(frame, protocol.CRC8Init)
	frame = append(frame, hdrCRC, protocol.SOD)
	frame = append(frame, payload...)

	pc := pktCRC(payload)
	frame = append(frame, pc, protocol.EOF)

	return frame, nil
}
