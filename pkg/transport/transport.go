package transport

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/watchlink/tinyrpc/pkg/protocol"
)

// Config bundles the transport's tunables. These are local resource
// sizes: none of them is carried on the wire or defined in pkg/protocol.
type Config struct {
	RegistryCapacity  int
	WaiterTableSize   int
	RequestQueueDepth int
	HandlerTimeout    time.Duration
	HandlerWorkers    int

	// Observer, if non-nil, is notified after every handler invocation.
	Observer Observer
}

// ErrClosed is returned by Request/Stream once the transport has been
// closed.
var ErrClosed = errors.New("transport: closed")

var errInvalidName = errors.New("transport: name length out of range")

// Correlator is the transport layer: it owns the registry, the waiter
// table, the pending-request queue, and the dispatcher pool, and
// presents the Register/Request/Stream surface that pkg/rpc's public
// API is built on.
type Correlator struct {
	cfg      Config
	registry *Registry
	waiters  *WaiterTable
	requests chan Request
	outbound chan<- []byte // payloads destined for the link TX side (q_trans_to_link)

	dispatcher *Dispatcher

	closed chan struct{}
}

// New creates a Correlator. outbound is the channel the link layer's TX
// worker drains; it is owned by the caller (pkg/rpc wires it to the link
// builder/PHY writer).
func New(cfg Config, outbound chan<- []byte) *Correlator {
	return &Correlator{
		cfg:      cfg,
		registry: NewRegistry(cfg.RegistryCapacity),
		waiters:  NewWaiterTable(cfg.WaiterTableSize),
		requests: make(chan Request, cfg.RequestQueueDepth),
		outbound: outbound,
		closed:   make(chan struct{}),
	}
}

// Register adds fn under name to the function registry.
func (c *Correlator) Register(name string, fn Handler) error {
	return c.registry.Register(name, fn)
}

// StartWorkers launches cfg.HandlerWorkers handler-dispatch goroutines
// and the single transport-routing goroutine that demultiplexes inbound
// payloads from the link layer. It returns immediately; workers run
// until ctx is cancelled or Close is called.
func (c *Correlator) StartWorkers(ctx context.Context, inbound <-chan []byte) {
	c.dispatcher = NewDispatcher(c.registry, c.cfg.HandlerTimeout, c.cfg.Observer)

	workers := c.cfg.HandlerWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go c.dispatcher.Run(ctx, c.requests, c.outbound)
	}
	go c.routeInbound(ctx, inbound)
}

// routeInbound is the transport worker of spec.md §4 item 3: it parses
// every payload handed up from the link layer and either wakes a waiter
// (RESP/ERR) or enqueues a request record (REQ/STREAM). Enqueueing to
// the request queue uses a non-blocking send: a full queue drops the
// request and logs it, per spec.md §5 ("zero timeout... STREAM/REQ
// back-pressure is intentional").
func (c *Correlator) routeInbound(ctx context.Context, inbound <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-inbound:
			if !ok {
				return
			}
			c.route(payload)
		}
	}
}

func (c *Correlator) route(payload []byte) {
	msg, err := ParsePayload(payload)
	if err != nil {
		log.Printf("transport: dropping unparsable payload: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypeResp, protocol.TypeErr:
		result := protocol.Success
		if msg.Type == protocol.TypeErr {
			result = protocol.GenericError
		}
		if !c.waiters.Complete(msg.Seq, result, msg.Args) {
			log.Printf("transport: response for unknown or expired seq=%d dropped", msg.Seq)
		}

	case protocol.TypeReq, protocol.TypeStream:
		req := Request{
			Type: msg.Type,
			Seq:  msg.Seq,
			Name: msg.Name,
			Args: append([]byte(nil), msg.Args...), // copy: msg.Args aliases the link buffer
		}
		select {
		case c.requests <- req:
		default:
			log.Printf("transport: request queue full, dropping %s %q seq=%d", msg.Type, msg.Name, msg.Seq)
		}

	default:
		log.Printf("transport: unexpected message type %s dropped", msg.Type)
	}
}

// Request performs a synchronous call: it validates name and resp
// capacity, allocates a waiter, builds and enqueues a REQ payload, and
// blocks until the response arrives or timeout elapses.
//
// resp must have length at least protocol.MaxArgs — the caller must
// present a full-capacity buffer, matching spec.md §4.6's precondition
// that the waiter's recorded capacity is a binding contract.
func (c *Correlator) Request(name string, args []byte, resp []byte, timeout time.Duration) (n int, result protocol.Result, err error) {
	if len(name) < protocol.MinNameLen || len(name) > protocol.MaxNameLen {
		return 0, protocol.InvalidArgs, errInvalidName
	}
	if len(resp) < protocol.MaxArgs {
		return 0, protocol.InvalidArgs, errors.New("transport: resp buffer must have capacity >= MaxArgs")
	}
	select {
	case <-c.closed:
		return 0, protocol.GenericError, ErrClosed
	default:
	}

	w, err := c.waiters.Allocate(resp)
	if err != nil {
		return 0, protocol.GenericError, err
	}

	payload, err := BuildPayload(protocol.TypeReq, w.Seq(), name, args)
	if err != nil {
		c.waiters.free(w.idx)
		return 0, protocol.GenericError, err
	}

	select {
	case c.outbound <- payload:
	case <-c.closed:
		c.waiters.free(w.idx)
		return 0, protocol.GenericError, ErrClosed
	}

	n, result = w.Wait(timeout)
	return n, result, nil
}

// Stream sends a one-way message with no correlation and no response.
// It returns only local-side errors; by design there is no way for a
// remote error to surface from Stream.
func (c *Correlator) Stream(name string, args []byte) error {
	if len(name) < protocol.MinNameLen || len(name) > protocol.MaxNameLen {
		return errInvalidName
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	payload, err := BuildPayload(protocol.TypeStream, protocol.StreamSeq, name, args)
	if err != nil {
		return err
	}

	select {
	case c.outbound <- payload:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// Close unblocks any Request/Stream callers waiting to enqueue and stops
// accepting new work. It is an ambient addition for clean test/process
// teardown; the wire protocol itself has no shutdown handshake
// (spec.md's Non-goals explicitly exclude one).
func (c *Correlator) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}
