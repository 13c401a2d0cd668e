// Package mock provides an in-memory [sink.Sink] that records every emitted
// event for assertions in unit tests.
//
// The recorder is safe for concurrent use and exposes exported fields for
// configuring return values:
//
//	rec := &mock.Sink{}
//	coord := coordinator.New(bus, rec, ...)
//	...
//	if got := rec.CountOf(sink.EventAgentThinking); got != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hotseat/internal/sink"
)

// EmitCall records the arguments of a single [Sink.Emit] invocation.
type EmitCall struct {
	// Event is the event name passed to Emit.
	Event string

	// Payload is the payload passed to Emit.
	Payload any
}

// Sink is a mock implementation of [sink.Sink].
type Sink struct {
	mu sync.Mutex

	// EmitErr, if non-nil, is returned by every Emit call. Events are
	// still recorded.
	EmitErr error

	// EmitCalls records all Emit invocations in order.
	EmitCalls []EmitCall
}

// Emit records the call and returns EmitErr.
func (s *Sink) Emit(_ context.Context, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EmitCalls = append(s.EmitCalls, EmitCall{Event: event, Payload: payload})
	return s.EmitErr
}

// Calls returns a copy of all recorded calls.
func (s *Sink) Calls() []EmitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EmitCall, len(s.EmitCalls))
	copy(out, s.EmitCalls)
	return out
}

// Of returns all recorded calls with the given event name, in order.
func (s *Sink) Of(event string) []EmitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EmitCall
	for _, c := range s.EmitCalls {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

// CountOf returns how many times the given event was emitted.
func (s *Sink) CountOf(event string) int {
	return len(s.Of(event))
}

// Last returns the most recent call with the given event name.
func (s *Sink) Last(event string) (EmitCall, bool) {
	calls := s.Of(event)
	if len(calls) == 0 {
		return EmitCall{}, false
	}
	return calls[len(calls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EmitCalls = nil
}

// Ensure Sink implements sink.Sink at compile time.
var _ sink.Sink = (*Sink)(nil)
