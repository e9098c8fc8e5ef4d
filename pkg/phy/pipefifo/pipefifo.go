// Package pipefifo implements pkg/phy.PHY over a pair of POSIX named
// pipes, the same transport the reference implementation's ping-pong
// demo used (one FIFO per direction, since a FIFO is half-duplex).
package pipefifo

import (
	"fmt"
	"log"
	"os"
	"syscall"
)

// PHY is a PHY implementation backed by two named pipes: one this side
// reads from, one it writes to. The two peers must use swapped in/out
// paths.
type PHY struct {
	inPath  string
	outPath string
	in      *os.File
	out     *os.File
}

// New creates a PHY that reads from inPath and writes to outPath,
// creating either FIFO that does not already exist.
func New(inPath, outPath string) *PHY {
	return &PHY{inPath: inPath, outPath: outPath}
}

// Init creates the FIFOs (if needed) and opens both ends. The inbound
// FIFO is opened read-write so that opening it does not wait for a
// writer; opening the outbound FIFO for write blocks until the peer has
// opened it, so Init may block until the peer starts; this matches
// named-pipe semantics and is not itself an error condition.
func (p *PHY) Init() error {
	if err := mkfifoIfMissing(p.inPath); err != nil {
		return fmt.Errorf("pipefifo: create %s: %w", p.inPath, err)
	}
	if err := mkfifoIfMissing(p.outPath); err != nil {
		return fmt.Errorf("pipefifo: create %s: %w", p.outPath, err)
	}

	log.Printf("pipefifo: opening %s for read", p.inPath)
	in, err := os.OpenFile(p.inPath, os.O_RDWR, os.ModeNamedPipe)
	if err != nil {
		return fmt.Errorf("pipefifo: open %s for read: %w", p.inPath, err)
	}
	p.in = in

	log.Printf("pipefifo: opening %s for write", p.outPath)
	out, err := os.OpenFile(p.outPath, os.O_WRONLY, os.ModeNamedPipe)
	if err != nil {
		in.Close()
		return fmt.Errorf("pipefifo: open %s for write: %w", p.outPath, err)
	}
	p.out = out

	return nil
}

func mkfifoIfMissing(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := syscall.Mkfifo(path, 0o600); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// Send writes b to the outbound FIFO in a single call.
func (p *PHY) Send(b []byte) (int, error) {
	n, err := p.out.Write(b)
	if err != nil {
		return n, fmt.Errorf("pipefifo: write: %w", err)
	}
	return n, nil
}

// Receive reads up to len(buf) bytes from the inbound FIFO. A short read
// (including a single byte) is legal and expected.
func (p *PHY) Receive(buf []byte) (int, error) {
	n, err := p.in.Read(buf)
	if err != nil {
		return n, fmt.Errorf("pipefifo: read: %w", err)
	}
	return n, nil
}

// Close closes both FIFO file descriptors.
func (p *PHY) Close() error {
	var firstErr error
	if p.in != nil {
		if err := p.in.Close(); err != nil {
			firstErr = err
		}
	}
	if p.out != nil {
		if err := p.out.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
