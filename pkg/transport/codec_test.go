package transport

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/watchlink/tinyrpc/pkg/protocol"
)

func TestBuildParseRoundTrip(t *testing.T) {
	cases := []struct {
		typ  protocol.MessageType
		seq  byte
		name string
		args []byte
	}{
		{protocol.TypeReq, 1, "ping", nil},
		{protocol.TypeResp, 1, "ping", []byte("pong")},
		{protocol.TypeErr, 2, "nope", []byte("NOFUNC")},
		{protocol.TypeStream, 0, "log", bytes.Repeat([]byte{0xAB}, 8)},
		{protocol.TypeReq, 255, "a", nil},
	}

	for _, c := range cases {
		payload, err := BuildPayload(c.typ, c.seq, c.name, c.args)
		if err != nil {
			t.Fatalf("BuildPayload(%v): %v", c, err)
		}
		msg, err := ParsePayload(payload)
		if err != nil {
			t.Fatalf("ParsePayload(%v): %v", c, err)
		}
		if msg.Type != c.typ || msg.Seq != c.seq || msg.Name != c.name || !bytes.Equal(msg.Args, c.args) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", msg, c)
		}
	}
}

func TestBuildPayloadRandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	types := []protocol.MessageType{protocol.TypeReq, protocol.TypeStream, protocol.TypeResp, protocol.TypeErr}

	for i := 0; i < 300; i++ {
		typ := types[rng.Intn(len(types))]
		seq := byte(rng.Intn(256))
		nameLen := protocol.MinNameLen + rng.Intn(protocol.MaxNameLen-protocol.MinNameLen+1)
		name := make([]byte, nameLen)
		for j := range name {
			name[j] = byte('a' + rng.Intn(26))
		}
		argsLen := rng.Intn(protocol.MaxArgs + 1)
		args := make([]byte, argsLen)
		rng.Read(args)

		payload, err := BuildPayload(typ, seq, string(name), args)
		if err != nil {
			t.Fatalf("BuildPayload: %v (nameLen=%d argsLen=%d)", err, nameLen, argsLen)
		}
		msg, err := ParsePayload(payload)
		if err != nil {
			t.Fatalf("ParsePayload: %v", err)
		}
		if msg.Type != typ || msg.Seq != seq || msg.Name != string(name) || !bytes.Equal(msg.Args, args) {
			t.Fatalf("round trip mismatch for nameLen=%d argsLen=%d", nameLen, argsLen)
		}
	}
}

func TestBuildPayloadRejectsBounds(t *testing.T) {
	if _, err := BuildPayload(protocol.MessageType(99), 1, "ping", nil); err == nil {
		t.Fatalf("expected error for invalid type")
	}
	if _, err := BuildPayload(protocol.TypeReq, 1, "", nil); err == nil {
		t.Fatalf("expected error for empty name")
	}
	longName := string(bytes.Repeat([]byte{'x'}, protocol.MaxNameLen+1))
	if _, err := BuildPayload(protocol.TypeReq, 1, longName, nil); err == nil {
		t.Fatalf("expected error for oversize name")
	}
	if _, err := BuildPayload(protocol.TypeReq, 1, "ping", bytes.Repeat([]byte{0}, protocol.MaxArgs+1)); err == nil {
		t.Fatalf("expected error for oversize args")
	}
}

func TestParsePayloadRequiresTerminator(t *testing.T) {
	// type(1) seq(1) "ping" with no NUL terminator.
	bad := append([]byte{byte(protocol.TypeReq), 1}, "ping"...)
	if _, err := ParsePayload(bad); err == nil {
		t.Fatalf("expected error for missing terminator")
	}
}
