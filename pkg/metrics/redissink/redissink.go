// Package redissink implements a pkg/transport.Observer that ships RPC
// call-completion events to Redis over pkg/redis.Client, the same
// write-and-publish wrapper this module's other Redis-facing components
// use. Wiring the runtime's own activity through the identical client
// keeps RPC metrics visible next to every other piece of state this
// process publishes, instead of inventing a parallel metrics stack.
package redissink

import (
	"fmt"
	"log"
	"time"

	"github.com/watchlink/tinyrpc/pkg/protocol"
	"github.com/watchlink/tinyrpc/pkg/redis"
)

// Sink publishes one Redis hash field per function (last result, last
// duration) and a pub/sub event per completed call.
type Sink struct {
	client  *redis.Client
	hashKey string
	channel string
}

// New connects to the Redis instance at addr and verifies it is
// reachable before returning.
func New(addr, password string, db int, hashKey, channel string) (*Sink, error) {
	client, err := redis.New(addr, password, db)
	if err != nil {
		return nil, fmt.Errorf("redissink: %w", err)
	}
	return &Sink{client: client, hashKey: hashKey, channel: channel}, nil
}

// ObserveRequest implements transport.Observer for REQ calls.
func (s *Sink) ObserveRequest(name string, result protocol.Result, dur time.Duration) {
	s.record(name, "req", result.String(), dur)
}

// ObserveStream implements transport.Observer for STREAM calls. STREAM
// has no wire-level result, so the recorded result is always "ok".
func (s *Sink) ObserveStream(name string, dur time.Duration) {
	s.record(name, "stream", "ok", dur)
}

func (s *Sink) record(name, kind, result string, dur time.Duration) {
	field := fmt.Sprintf("%s:%s", kind, name)
	value := fmt.Sprintf("%s:%dus", result, dur.Microseconds())

	if err := s.client.WriteAndPublish(s.hashKey, field, value); err != nil {
		log.Printf("redissink: record %s failed: %v", field, err)
	}
}

// Close closes the underlying Redis client.
func (s *Sink) Close() error {
	return s.client.Close()
}
