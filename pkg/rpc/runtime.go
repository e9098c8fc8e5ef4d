// Package rpc is the public API of the embedded RPC runtime: it wires a
// pkg/phy.PHY, a pkg/link parser/builder, and a pkg/transport.Correlator
// into the four-worker pipeline spec.md describes (RX, TX, transport
// routing, N handler workers) behind a single Runtime type.
package rpc

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/watchlink/tinyrpc/pkg/link"
	"github.com/watchlink/tinyrpc/pkg/phy"
	"github.com/watchlink/tinyrpc/pkg/protocol"
	"github.com/watchlink/tinyrpc/pkg/transport"
)

// Handler is the capability abstraction a registered function
// implements; aliased from pkg/transport so callers need only import
// pkg/rpc.
type Handler = transport.Handler

// Runtime owns one end of a link: a PHY, the link framing goroutines,
// and the transport correlator. Two Runtimes, each wrapping one end of
// a shared byte channel (a pipe, a UART, a socket), can call each
// other's registered functions.
type Runtime struct {
	cfg        Config
	phy        phy.PHY
	correlator *transport.Correlator

	linkToTrans chan []byte // RX link parser -> transport router
	transToLink chan []byte // transport -> TX link builder

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{} // closed once RX/TX goroutines have exited
}

// New creates a Runtime over p. Register must be called, if at all,
// before Start; Start launches the worker goroutines that begin
// draining the request queue.
func New(p phy.PHY, cfg Config) *Runtime {
	cfg = cfg.withDefaults()

	transToLink := make(chan []byte, cfg.LinkQueueDepth)

	tcfg := transport.Config{
		RegistryCapacity:  cfg.RegistryCapacity,
		WaiterTableSize:   cfg.WaiterTableSize,
		RequestQueueDepth: cfg.RequestQueueDepth,
		HandlerTimeout:    cfg.HandlerTimeout,
		HandlerWorkers:    cfg.HandlerWorkers,
		Observer:          cfg.Observer,
	}

	return &Runtime{
		cfg:         cfg,
		phy:         p,
		correlator:  transport.New(tcfg, transToLink),
		linkToTrans: make(chan []byte, cfg.LinkQueueDepth),
		transToLink: transToLink,
	}
}

// Register adds fn under name to the function table. It must be called
// before Start.
func (r *Runtime) Register(name string, fn Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	return r.correlator.Register(name, fn)
}

// Start opens the PHY and launches the RX, TX, transport-routing, and
// handler worker goroutines. ctx bounds the lifetime of every worker;
// cancelling it (or calling Close) stops them. Start returns once the
// PHY is open and workers are running; it does not block for the
// lifetime of the link.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	if err := r.phy.Init(); err != nil {
		return fmt.Errorf("rpc: phy init: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	parser := link.NewParser(r.linkToTrans, runCtx.Done(), r.cfg.Trace)

	r.correlator.StartWorkers(runCtx, r.linkToTrans)

	var wg sync.WaitGroup
	wg.Add(2)
	go r.runRX(runCtx, parser, &wg)
	go r.runTX(runCtx, &wg)
	go func() {
		wg.Wait()
		close(r.done)
	}()

	return nil
}

// runRX reads bytes off the PHY and feeds them to the link parser until
// ctx is cancelled or the PHY returns an error (which, for a closed
// PHY, is the expected way this loop ends).
func (r *Runtime) runRX(ctx context.Context, parser *link.Parser, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := r.phy.Receive(buf)
		if n > 0 {
			parser.Feed(buf[:n])
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("rpc: phy receive error, rx loop exiting: %v", err)
				return
			}
		}
	}
}

// runTX drains built payloads, frames them, and writes them to the PHY.
func (r *Runtime) runTX(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-r.transToLink:
			if !ok {
				return
			}
			frame, err := link.Build(payload)
			if err != nil {
				log.Printf("rpc: dropping unbuildable payload: %v", err)
				continue
			}
			if _, err := r.phy.Send(frame); err != nil {
				log.Printf("rpc: phy send error: %v", err)
			}
		}
	}
}

// Request performs a synchronous call and blocks for at most timeout
// (or DefaultRequestTimeout if timeout is zero or negative) waiting for a
// correlated response. resp must have length at least protocol.MaxArgs.
func (r *Runtime) Request(name string, args, resp []byte, timeout time.Duration) (n int, result protocol.Result, err error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return r.correlator.Request(name, args, resp, timeout)
}

// Stream sends a one-way, uncorrelated message.
func (r *Runtime) Stream(name string, args []byte) error {
	return r.correlator.Stream(name, args)
}

// Close stops all workers, closes the PHY, and waits for the RX/TX
// goroutines to exit. It is safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.correlator.Close()
	if r.cancel != nil {
		r.cancel()
	}
	err := r.phy.Close()
	if r.done != nil {
		<-r.done
	}
	return err
}
