package transport

import (
	"time"

	"github.com/watchlink/tinyrpc/pkg/protocol"
)

// Observer is an optional sink for call-completion events, notified from
// the dispatch worker after each handler invocation. It exists so a
// process can ship RPC activity to an external system (see
// pkg/metrics/redissink) without the transport layer knowing anything
// about where the events end up.
type Observer interface {
	// ObserveRequest is called once a REQ has been dispatched, whatever
	// the outcome, including a name with no registered handler.
	ObserveRequest(name string, result protocol.Result, dur time.Duration)
	// ObserveStream is called once a STREAM has been dispatched,
	// including a name with no registered handler. STREAM has no
	// wire-level result, so there is nothing to report beyond that.
	ObserveStream(name string, dur time.Duration)
}
