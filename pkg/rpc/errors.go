package rpc

import (
	"errors"

	"github.com/watchlink/tinyrpc/pkg/protocol"
	"github.com/watchlink/tinyrpc/pkg/transport"
)

// Result mirrors the outcome codes a Request call can resolve to.
// Aliased from pkg/protocol so callers of this package need only one
// import for the whole public surface.
type Result = protocol.Result

const (
	Success      = protocol.Success
	GenericError = protocol.GenericError
	Overflow     = protocol.Overflow
	Timeout      = protocol.Timeout
	InvalidArgs  = protocol.InvalidArgs
)

// Observer is notified after every handler invocation; see
// pkg/metrics/redissink for a Redis-backed implementation.
type Observer = transport.Observer

// ErrNotStarted reports that a runtime has not been started. No Runtime
// method currently returns it.
var ErrNotStarted = errors.New("rpc: runtime not started")

// ErrAlreadyStarted is returned by Start if called more than once, and
// by Register once Start has been called — registration is only valid
// before the handler workers begin draining the request queue.
var ErrAlreadyStarted = errors.New("rpc: runtime already started")

// ErrClosed is returned by Request/Stream once Close has been called.
var ErrClosed = transport.ErrClosed
