// Package sink defines the one-way event stream from the session runtime to
// the presenter's client.
//
// Every user-visible moment — an agent raising a hand, a question with its
// audio, the moderator bridging back to the presentation — is emitted as a
// named event with a JSON-serializable payload. The gateway forwards these
// frames over the session WebSocket; headless runs swap in the slog sink.
// Emit must be cheap and non-blocking from the caller's point of view;
// implementations own their delivery guarantees.
package sink

import (
	"context"
	"log/slog"
)

// Client event names.
const (
	EventAgentQuestion    = "agent_question"
	EventAgentFollowUp    = "agent_follow_up"
	EventFollowUpAudio    = "agent_follow_up_audio"
	EventAgentThinking    = "agent_thinking"
	EventAgentFiller      = "agent_filler"
	EventAgentHandRaise   = "agent_hand_raise"
	EventAgentHandLowered = "agent_hand_lowered"
	EventHandRaiseQueue   = "hand_raise_queue"
	EventAgentLoaded      = "agent_loaded"
	EventModeratorMessage = "moderator_message"
	EventSessionState     = "session_state"
	EventExchangeResolved = "exchange_resolved"
	EventSessionEnded     = "session_ended"
	EventTranscript       = "transcript_segment"
	EventFillerURLs       = "filler_urls"
)

// Sink delivers session events to the client.
type Sink interface {
	// Emit sends one named event. Payload must marshal to JSON.
	Emit(ctx context.Context, event string, payload any) error
}

// AgentQuestion announces a delivered question. AudioURL is null when
// synthesis failed; AudioURLs carries one URL per spoken sentence.
type AgentQuestion struct {
	AgentID    string   `json:"agentId"`
	AgentName  string   `json:"agentName"`
	AgentRole  string   `json:"agentRole"`
	AgentTitle string   `json:"agentTitle"`
	Text       string   `json:"text"`
	AudioURL   *string  `json:"audioUrl"`
	AudioURLs  []string `json:"audioUrls"`
	SlideRef   int      `json:"slideRef"`
}

// AgentFollowUp announces a follow-up question inside an exchange. It is
// emitted text-first: AudioURL is null and AudioURLs empty, with audio
// arriving later via [AgentFollowUpAudio] chunks.
type AgentFollowUp struct {
	AgentID    string   `json:"agentId"`
	AgentName  string   `json:"agentName"`
	AgentRole  string   `json:"agentRole"`
	Text       string   `json:"text"`
	AudioURL   *string  `json:"audioUrl"`
	AudioURLs  []string `json:"audioUrls"`
	TurnNumber int      `json:"turnNumber"`
	MaxTurns   int      `json:"maxTurns"`
	ExchangeID string   `json:"exchangeId"`
}

// AgentFollowUpAudio delivers one synthesized sentence of a follow-up.
// AudioURLs accumulates every chunk delivered so far.
type AgentFollowUpAudio struct {
	AgentID     string   `json:"agentId"`
	ExchangeID  string   `json:"exchangeId"`
	AudioURL    string   `json:"audioUrl"`
	AudioURLs   []string `json:"audioUrls"`
	ChunkIndex  int      `json:"chunkIndex"`
	TotalChunks int      `json:"totalChunks"`
}

// AgentThinking signals that an agent's model call is in flight.
type AgentThinking struct {
	AgentID string `json:"agentId"`
}

// AgentFiller points the client at a pre-recorded filler clip to play while
// the agent thinks.
type AgentFiller struct {
	AgentID  string `json:"agentId"`
	AudioURL string `json:"audioUrl"`
}

// AgentHandRaise signals a queued question candidate.
type AgentHandRaise struct {
	AgentID string `json:"agentId"`
}

// AgentHandLowered signals a withdrawn candidate.
type AgentHandLowered struct {
	AgentID string `json:"agentId"`
}

// QueuePosition is one entry of [HandRaiseQueue], in queue order.
type QueuePosition struct {
	AgentID  string `json:"agentId"`
	Position int    `json:"position"`
}

// HandRaiseQueue mirrors the coordinator's queue after every mutation.
type HandRaiseQueue struct {
	Queue []QueuePosition `json:"queue"`
}

// AgentLoaded signals that an agent runner finished loading. ClaimCount is
// how many extracted claims the agent can see at that point.
type AgentLoaded struct {
	AgentID    string `json:"agentId"`
	ClaimCount int    `json:"claimCount"`
}

// ModeratorMessage carries moderator speech. AudioURL is null when
// synthesis failed and the line is delivered text-only.
type ModeratorMessage struct {
	Text      string  `json:"text"`
	AudioURL  *string `json:"audioUrl"`
	AgentName string  `json:"agentName"`
	AgentRole string  `json:"agentRole"`
}

// SessionState announces a phase change. AgentID, ExchangeID and MaxTurns
// are set only when entering an exchange.
type SessionState struct {
	State      string `json:"state"`
	AgentID    string `json:"agentId,omitempty"`
	ExchangeID string `json:"exchangeId,omitempty"`
	MaxTurns   int    `json:"maxTurns,omitempty"`
}

// ExchangeResolved announces an exchange outcome.
type ExchangeResolved struct {
	ExchangeID string `json:"exchangeId"`
	AgentID    string `json:"agentId"`
	Outcome    string `json:"outcome"`
}

// SessionEnded is the final event of a session. Reason is "completed",
// "client" or "error".
type SessionEnded struct {
	Reason string `json:"reason"`
}

// TranscriptSegment mirrors a transcription result to the client. Start and
// End are seconds from session start; interims carry zeros.
type TranscriptSegment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    string  `json:"speaker"`
}

// FillerURLs publishes the per-agent filler clip library once at session
// start.
type FillerURLs struct {
	Fillers map[string][]string `json:"fillers"`
}

// FirstURL returns a pointer to the first URL, or nil for an empty list.
// Payload audioUrl fields use it to emit JSON null when no audio exists.
func FirstURL(urls []string) *string {
	if len(urls) == 0 {
		return nil
	}
	return &urls[0]
}

// logSink writes every event to slog. Headless runs use it in place of a
// connected client.
type logSink struct{}

// NewLog returns a [Sink] that logs each event at info level.
func NewLog() Sink { return logSink{} }

func (logSink) Emit(_ context.Context, event string, payload any) error {
	slog.Info("client event", "event", event, "payload", payload)
	return nil
}

// multi fans out to several sinks.
type multi []Sink

// Multi returns a [Sink] that emits to every given sink in order. All sinks
// receive the event; the first error is returned.
func Multi(sinks ...Sink) Sink {
	m := make(multi, len(sinks))
	copy(m, sinks)
	return m
}

func (m multi) Emit(ctx context.Context, event string, payload any) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
