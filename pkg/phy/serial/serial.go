// Package serial implements pkg/phy.PHY over a UART, using the same
// github.com/tarm/serial driver this codebase's byte-framing code has
// always used for real hardware links.
package serial

import (
	"fmt"

	"github.com/tarm/serial"
)

// PHY is a PHY implementation backed by a UART.
type PHY struct {
	device string
	baud   int
	port   *serial.Port
}

// New creates a PHY for the given device path and baud rate. The port is
// not opened until Init is called.
func New(device string, baud int) *PHY {
	return &PHY{device: device, baud: baud}
}

// Init opens the serial port with 8N1 framing and no read timeout — the
// link parser reads one byte at a time and blocks indefinitely between
// bytes, exactly as spec.md's PHY contract allows.
func (p *PHY) Init() error {
	cfg := &serial.Config{
		Name:        p.device,
		Baud:        p.baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 0,
	}

	port, err := serial.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", p.device, err)
	}
	p.port = port
	return nil
}

// Send writes b to the UART in a single call.
func (p *PHY) Send(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// Receive reads up to len(buf) bytes from the UART.
func (p *PHY) Receive(buf []byte) (int, error) {
	n, err := p.port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

// Close closes the underlying serial port.
func (p *PHY) Close() error {
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}
