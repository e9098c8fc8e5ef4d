package transport

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/watchlink/tinyrpc/pkg/protocol"
)

// ErrHandlerInvalidArgs is a sentinel a registered Handler can return to
// signal that args failed handler-specific validation; the dispatch
// worker maps it to the INVALID_ARGS wire tag.
var ErrHandlerInvalidArgs = errors.New("transport: handler rejected arguments")

// Request is a decoded inbound REQ or STREAM message, queued for a
// handler worker to process.
type Request struct {
	Type protocol.MessageType
	Seq  byte
	Name string
	Args []byte
}

// Dispatcher looks up and invokes registered handlers for queued
// requests, then (for REQ only) builds the RESP/ERR payload to send
// back over the link.
type Dispatcher struct {
	registry       *Registry
	handlerTimeout time.Duration
	observer       Observer
}

// NewDispatcher creates a dispatcher bound to registry, giving every
// handler invocation a budget of handlerTimeout. observer may be nil.
func NewDispatcher(registry *Registry, handlerTimeout time.Duration, observer Observer) *Dispatcher {
	return &Dispatcher{registry: registry, handlerTimeout: handlerTimeout, observer: observer}
}

// Run drains requests until it is closed or ctx is cancelled, invoking
// handlers and forwarding RESP/ERR payloads onto outbound. Multiple
// goroutines may call Run concurrently over the same requests channel to
// form a pool of handler workers; spec.md §5 notes invocation order is
// then FIFO across the shared queue but response emission may reorder
// under differing handler durations.
func (d *Dispatcher) Run(ctx context.Context, requests <-chan Request, outbound chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			d.handle(ctx, req, outbound)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, req Request, outbound chan<- []byte) {
	start := time.Now()
	msgType, body := d.invoke(ctx, req)
	dur := time.Since(start)

	if req.Type != protocol.TypeReq {
		if d.observer != nil {
			d.observer.ObserveStream(req.Name, dur)
		}
		return // STREAM: result is discarded, no response traffic generated.
	}

	if d.observer != nil {
		result := protocol.Success
		if msgType == protocol.TypeErr {
			result = protocol.GenericError
		}
		d.observer.ObserveRequest(req.Name, result, dur)
	}

	payload, err := BuildPayload(msgType, req.Seq, req.Name, body)
	if err != nil {
		log.Printf("transport: dropping response for %q seq=%d: %v", req.Name, req.Seq, err)
		return
	}

	select {
	case outbound <- payload:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) invoke(ctx context.Context, req Request) (protocol.MessageType, []byte) {
	handler, ok := d.registry.Lookup(req.Name)
	if !ok {
		return protocol.TypeErr, protocol.TagNoFunc
	}

	hctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	out, err := handler(hctx, req.Args)
	switch {
	case err != nil:
		return protocol.TypeErr, errorTag(err)
	case len(out) > protocol.MaxArgs:
		// Handler bug: it returned more than the out_cap contract allows.
		return protocol.TypeErr, protocol.TagOverflow
	default:
		return protocol.TypeResp, out
	}
}

func errorTag(err error) []byte {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.TagTimeout
	case errors.Is(err, ErrHandlerInvalidArgs):
		return protocol.TagInvalidArgs
	default:
		return protocol.TagFail
	}
}
