// Package event provides the in-process pub/sub bus that connects the live
// session components: the transcription gate, agent runners, the
// coordinator, claim extraction and the journal.
//
// Delivery is asynchronous: every subscriber owns a buffered queue drained
// by its own goroutine, so publishers never block on slow handlers. Per
// subscriber, events arrive in publish order; ordering across subscribers
// is unspecified. When a subscriber's queue is full the event is dropped
// for that subscriber — the bus favors liveness over completeness.
package event

import "time"

// Type identifies a kind of bus event.
type Type string

// Bus event types.
const (
	TranscriptUpdate  Type = "TRANSCRIPT_UPDATE"
	TranscriptInterim Type = "TRANSCRIPT_INTERIM"
	SlideChanged      Type = "SLIDE_CHANGED"
	ClaimsReady       Type = "CLAIMS_READY"
	HandRaised        Type = "HAND_RAISED"
	HandLowered       Type = "HAND_LOWERED"
	AgentCalledOn     Type = "AGENT_CALLED_ON"
	AgentSpoke        Type = "AGENT_SPOKE"
	ExchangeStarted   Type = "EXCHANGE_STARTED"
	ExchangeResolved  Type = "EXCHANGE_RESOLVED"
	SessionEnding     Type = "SESSION_ENDING"
)

// Event is a single bus message. Data holds the concrete payload struct for
// the event's Type (see payloads.go).
type Event struct {
	Type      Type
	Data      any
	Source    string
	Timestamp time.Time
}

// Handler consumes events delivered to a subscriber.
type Handler func(Event)
