// Package codec provides an optional structured-payload convenience
// layer on top of the RPC runtime's raw byte args/results. Handlers are
// free to interpret args as opaque bytes (as the wire format itself
// does); this package exists for the common case of a handler that
// wants a typed request/response, encoded compactly enough to fit the
// link layer's bounded payload.
//
// CBOR is used instead of JSON because it is what this codebase's own
// device-communication layer already encodes structured messages with
// (see the teacher's UART message helpers), and it is far more compact
// than JSON for the small fixed-shape structs handlers tend to pass.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/watchlink/tinyrpc/pkg/protocol"
)

// Marshal encodes v as CBOR and verifies the result fits within a
// single payload's argument budget.
func Marshal(v interface{}) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	if len(b) > protocol.MaxArgs {
		return nil, fmt.Errorf("codec: encoded size %d exceeds MaxArgs %d", len(b), protocol.MaxArgs)
	}
	return b, nil
}

// Unmarshal decodes CBOR-encoded bytes into v.
func Unmarshal(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}
