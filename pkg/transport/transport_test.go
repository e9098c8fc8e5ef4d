package transport

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/watchlink/tinyrpc/pkg/protocol"
)

// newLoopbackCorrelator wires a Correlator to itself: whatever it writes
// to "outbound" is pumped straight back in as "inbound", as if it were
// both ends of a link with no actual wire in between. This isolates the
// transport layer's request/response correlation and dispatch behavior
// from the byte-framing layer, which pkg/link and pkg/rpc test
// separately.
func newLoopbackCorrelator(t *testing.T, cfg Config) (*Correlator, context.CancelFunc) {
	t.Helper()
	outbound := make(chan []byte, cfg.RequestQueueDepth+cfg.WaiterTableSize+8)
	inbound := make(chan []byte, cap(outbound))

	c := New(cfg, outbound)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-outbound:
				select {
				case inbound <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	c.StartWorkers(ctx, inbound)
	return c, cancel
}

func defaultTestConfig() Config {
	return Config{
		RegistryCapacity:  8,
		WaiterTableSize:   8,
		RequestQueueDepth: 16,
		HandlerTimeout:    time.Second,
		HandlerWorkers:    2,
	}
}

func TestScenarioPing(t *testing.T) {
	c, cancel := newLoopbackCorrelator(t, defaultTestConfig())
	defer cancel()

	if err := c.Register("ping", func(ctx context.Context, args []byte) ([]byte, error) {
		return []byte("pong"), nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp := make([]byte, protocol.MaxArgs)
	n, result, err := c.Request("ping", nil, resp, time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result != protocol.Success {
		t.Fatalf("result = %v, want Success", result)
	}
	if n != 4 || !bytes.Equal(resp[:n], []byte("pong")) {
		t.Fatalf("resp = %q (n=%d), want \"pong\"", resp[:n], n)
	}
}

func TestScenarioUnknownFunction(t *testing.T) {
	c, cancel := newLoopbackCorrelator(t, defaultTestConfig())
	defer cancel()

	resp := make([]byte, protocol.MaxArgs)
	n, result, err := c.Request("nope", nil, resp, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result != protocol.GenericError {
		t.Fatalf("result = %v, want GenericError", result)
	}
	if n != 6 || string(resp[:n]) != "NOFUNC" {
		t.Fatalf("resp = %q (n=%d), want NOFUNC", resp[:n], n)
	}
}

func TestScenarioOversizeResponse(t *testing.T) {
	cfg := defaultTestConfig()
	c, cancel := newLoopbackCorrelator(t, cfg)
	defer cancel()

	body := bytes.Repeat([]byte{0x42}, protocol.MaxArgs)
	if err := c.Register("big", func(ctx context.Context, args []byte) ([]byte, error) {
		return body, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fullResp := make([]byte, protocol.MaxArgs)
	n, result, err := c.Request("big", nil, fullResp, time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result != protocol.Success || n != protocol.MaxArgs {
		t.Fatalf("result=%v n=%d, want Success/%d", result, n, protocol.MaxArgs)
	}

	// A too-small caller buffer is rejected locally before any waiter is
	// even allocated — it never reaches the wire.
	smallResp := make([]byte, 10)
	_, result, _ = c.Request("big", nil, smallResp, time.Second)
	if result != protocol.InvalidArgs {
		t.Fatalf("result = %v, want InvalidArgs for undersize caller buffer", result)
	}
}

func TestScenarioStreamDeliversAllMessagesInOrderWithNoResponse(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.RequestQueueDepth = 256
	cfg.HandlerWorkers = 1 // one worker: invocation order is queue order

	// Wired by hand rather than through newLoopbackCorrelator so that
	// anything the correlator sends after the streams is observable.
	outbound := make(chan []byte, 256)
	inbound := make(chan []byte, 256)
	c := New(cfg, outbound)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartWorkers(ctx, inbound)

	var mu sync.Mutex
	var received [][]byte
	done := make(chan struct{})

	if err := c.Register("log", func(ctx context.Context, args []byte) ([]byte, error) {
		mu.Lock()
		received = append(received, append([]byte(nil), args...))
		n := len(received)
		mu.Unlock()
		if n == 100 {
			close(done)
		}
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 100; i++ {
		if err := c.Stream("log", []byte{byte(i), 0, 0, 0, 0, 0, 0, 0}); err != nil {
			t.Fatalf("Stream #%d: %v", i, err)
		}
		inbound <- <-outbound // loop the STREAM payload straight back in
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for 100 stream deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 100 {
		t.Fatalf("received %d stream messages, want 100", len(received))
	}
	for i, args := range received {
		if args[0] != byte(i) {
			t.Fatalf("message %d carried index %d, want in-order delivery", i, args[0])
		}
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(outbound); n != 0 {
		t.Fatalf("%d payloads sent in response to STREAM messages, want 0", n)
	}
}

func TestScenarioConcurrentRequests(t *testing.T) {
	cfg := Config{
		RegistryCapacity:  4,
		WaiterTableSize:   8,
		RequestQueueDepth: 64,
		HandlerTimeout:    time.Second,
		HandlerWorkers:    4,
	}
	c, cancel := newLoopbackCorrelator(t, cfg)
	defer cancel()

	if err := c.Register("ping", func(ctx context.Context, args []byte) ([]byte, error) {
		return []byte("pong"), nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	const clients = 8
	const perClient = 50
	var wg sync.WaitGroup
	errs := make(chan error, clients*perClient)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := make([]byte, protocol.MaxArgs)
			for j := 0; j < perClient; j++ {
				n, result, err := c.Request("ping", nil, resp, 2*time.Second)
				if err != nil {
					errs <- err
					continue
				}
				if result != protocol.Success || n != 4 || string(resp[:n]) != "pong" {
					errs <- context.DeadlineExceeded
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("request failed: %v", err)
	}
}
