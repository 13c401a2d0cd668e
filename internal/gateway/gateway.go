// Package gateway is the WebSocket transport between a presenting client and
// its session runtime. Each session is driven by exactly one socket: inbound
// frames carry control ops and microphone audio, outbound frames carry the
// session's event stream via [Sink].
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/hotseat/internal/deck"
	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/coder/websocket"
)

// maxFrameBytes bounds a single inbound frame. Base64 audio chunks from the
// client stay well under this.
const maxFrameBytes = 1 << 20

// Runtime is the per-session surface the gateway drives. It is implemented
// by the app's session runtime.
type Runtime interface {
	// Start brings the session live: moderator greeting, claim extraction
	// kickoff, agent runners.
	Start(ctx context.Context) error

	// SlideChanged records that the presenter moved to slide index.
	SlideChanged(index int)

	// PresenterTyped ingests a typed presenter answer as a final transcript
	// segment with full confidence.
	PresenterTyped(text string)

	// AudioChunk feeds raw PCM from the presenter's microphone to the
	// transcription gate.
	AudioChunk(chunk []byte) error
}

// Manager creates and tracks session runtimes by id.
type Manager interface {
	// Create builds and registers the runtime for id, attaching events as
	// the session's client sink. It fails when a runtime for id is already
	// live.
	Create(ctx context.Context, id string, events sink.Sink, req StartRequest) (Runtime, error)

	// Get returns the live runtime for id, if any.
	Get(id string) (Runtime, bool)

	// Stop ends the runtime for id and releases it. Unknown ids are a no-op.
	Stop(id, reason string)
}

// StartRequest is the client's start_session payload. Zero-value fields fall
// back to the server's configured session defaults; Deck falls back to the
// server's default manifest when omitted.
type StartRequest struct {
	Intensity    string         `json:"intensity"`
	DurationSecs int            `json:"durationSecs"`
	Agents       []string       `json:"agents"`
	Deck         *deck.Manifest `json:"deck"`
}

// inboundFrame is the envelope for every client-to-server frame. Type selects
// the op; the remaining fields are op-specific.
type inboundFrame struct {
	Type string `json:"type"`

	// audio_chunk: base64-encoded PCM.
	Data string `json:"data,omitempty"`

	// slide_change
	SlideIndex int `json:"slideIndex,omitempty"`

	// presenter_response
	Text string `json:"text,omitempty"`

	// start_session
	Intensity    string         `json:"intensity,omitempty"`
	DurationSecs int            `json:"durationSecs,omitempty"`
	Agents       []string       `json:"agents,omitempty"`
	Deck         *deck.Manifest `json:"deck,omitempty"`
}

// Server exposes the session WebSocket endpoint and the media file tree.
type Server struct {
	manager      Manager
	mediaDir     string
	origins      []string
	writeTimeout time.Duration
	log          *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithAllowedOrigins sets the origin patterns accepted during the WebSocket
// handshake. The default allows any origin, which suits a UI served from a
// separate dev server.
func WithAllowedOrigins(patterns []string) Option {
	return func(s *Server) {
		s.origins = patterns
	}
}

// WithWriteTimeout bounds each outbound frame write. The default is 5 seconds.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// NewServer returns a gateway over manager, serving synthesized audio and
// filler clips from mediaDir.
func NewServer(manager Manager, mediaDir string, opts ...Option) *Server {
	s := &Server{
		manager:      manager,
		mediaDir:     mediaDir,
		origins:      []string{"*"},
		writeTimeout: 5 * time.Second,
		log:          slog.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers the gateway's endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/session/{id}", s.handleSession)
	mux.Handle("GET /api/files/", http.StripPrefix("/api/files/", http.FileServer(http.Dir(s.mediaDir))))
}

// handleSession owns one socket for one session: it upgrades, then reads ops
// until the client leaves. The runtime is stopped when the socket goes away,
// whatever the reason.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	// One socket per session. Racing starts are caught again in Create.
	if _, live := s.manager.Get(id); live {
		http.Error(w, "session already has a connected client", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "session_id", id, "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	defer conn.Close(websocket.StatusInternalError, "session handler exited")

	s.log.Info("client connected", "session_id", id)
	s.readLoop(r.Context(), conn, id)
}

// readLoop dispatches inbound ops for one socket. It returns when the client
// disconnects, the session ends, or the frame stream turns invalid.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, id string) {
	var rt Runtime
	started := false

	defer func() {
		if started {
			s.manager.Stop(id, "client disconnected")
		}
		s.log.Info("client disconnected", "session_id", id)
	}()

	events := NewSink(conn, WithSinkWriteTimeout(s.writeTimeout))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("dropping malformed frame", "session_id", id, "err", err)
			continue
		}

		switch f.Type {
		case "start_session":
			if started {
				s.log.Warn("duplicate start_session ignored", "session_id", id)
				continue
			}
			req := StartRequest{
				Intensity:    f.Intensity,
				DurationSecs: f.DurationSecs,
				Agents:       f.Agents,
				Deck:         f.Deck,
			}
			created, err := s.manager.Create(ctx, id, events, req)
			if err != nil {
				s.log.Error("session create failed", "session_id", id, "err", err)
				conn.Close(websocket.StatusPolicyViolation, "session unavailable")
				return
			}
			if err := created.Start(ctx); err != nil {
				s.log.Error("session start failed", "session_id", id, "err", err)
				s.manager.Stop(id, "start failed")
				conn.Close(websocket.StatusInternalError, "session start failed")
				return
			}
			rt = created
			started = true
			s.log.Info("session started", "session_id", id, "intensity", f.Intensity)

		case "audio_chunk":
			if rt == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				s.log.Warn("dropping undecodable audio chunk", "session_id", id, "err", err)
				continue
			}
			if err := rt.AudioChunk(pcm); err != nil {
				s.log.Warn("audio chunk rejected", "session_id", id, "err", err)
			}

		case "slide_change":
			if rt == nil {
				continue
			}
			rt.SlideChanged(f.SlideIndex)

		case "presenter_response":
			if rt == nil || f.Text == "" {
				continue
			}
			rt.PresenterTyped(f.Text)

		case "end_session":
			if started {
				s.manager.Stop(id, "client ended session")
				started = false
			}
			conn.Close(websocket.StatusNormalClosure, "session ended")
			return

		default:
			s.log.Warn("unknown op", "session_id", id, "type", f.Type)
		}
	}
}
