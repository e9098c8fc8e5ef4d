// Command rpc-ping-pong is a demo client/server exercising the RPC
// runtime over a pair of named pipes, replacing the original reference
// implementation's pthread-based ping_pong.c demo: run one instance
// with -server and another with -client, server first.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/watchlink/tinyrpc/pkg/metrics/redissink"
	"github.com/watchlink/tinyrpc/pkg/phy/pipefifo"
	"github.com/watchlink/tinyrpc/pkg/protocol"
	"github.com/watchlink/tinyrpc/pkg/rpc"
)

var (
	mode       = flag.String("mode", "", "run as \"server\" or \"client\"")
	pipeFirst  = flag.String("pipe-first", "/tmp/fifo_first", "first named pipe path")
	pipeSecond = flag.String("pipe-second", "/tmp/fifo_second", "second named pipe path")
	redisAddr  = flag.String("redis-addr", "", "optional Redis address for call-completion metrics; empty disables the sink")
	sendDelay  = flag.Duration("send-delay", time.Second, "client: delay between ping calls")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	switch *mode {
	case "server":
		runServer()
	case "client":
		runClient()
	default:
		log.Fatalf("must pass -mode=server or -mode=client")
	}
}

func newRuntime(cfg rpc.Config) *rpc.Runtime {
	// The server reads fifo_first/writes fifo_second; the client reads
	// fifo_second/writes fifo_first — a FIFO is half-duplex so the two
	// peers must swap in/out paths, matching the reference demo's
	// wiring of PATH_FIFO_FIRST/PATH_FIFO_SECOND.
	var p *pipefifo.PHY
	if *mode == "server" {
		p = pipefifo.New(*pipeFirst, *pipeSecond)
	} else {
		p = pipefifo.New(*pipeSecond, *pipeFirst)
	}
	return rpc.New(p, cfg)
}

func buildConfig() rpc.Config {
	cfg := rpc.Config{}
	if *redisAddr == "" {
		return cfg
	}
	sink, err := redissink.New(*redisAddr, "", 0, "rpc-ping-pong:calls", "rpc-ping-pong:events")
	if err != nil {
		log.Printf("metrics: disabled, could not reach redis at %s: %v", *redisAddr, err)
		return cfg
	}
	cfg.Observer = sink
	return cfg
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func runServer() {
	log.Printf("===== RPC Server Activated =====")

	r := newRuntime(buildConfig())
	if err := r.Register("ping", func(ctx context.Context, args []byte) ([]byte, error) {
		return []byte("pong"), nil
	}); err != nil {
		log.Fatalf("Register: %v", err)
	}

	if err := r.Start(context.Background()); err != nil {
		log.Fatalf("Start: %v", err)
	}
	defer r.Close()

	waitForSignal()
	log.Printf("Shutting down...")
}

func runClient() {
	log.Printf("===== RPC Client Activated =====")

	r := newRuntime(buildConfig())
	if err := r.Start(context.Background()); err != nil {
		log.Fatalf("Start: %v", err)
	}
	defer r.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp := make([]byte, protocol.MaxArgs)
		for {
			n, result, err := r.Request("ping", nil, resp, 2*time.Second)
			if err != nil {
				log.Printf("Request error: %v", err)
			} else if result != protocol.Success {
				log.Printf("Response: error %s", result)
			} else {
				log.Printf("Response: %s", resp[:n])
			}
			time.Sleep(*sendDelay)
		}
	}()

	waitForSignal()
	log.Printf("Shutting down...")
}
