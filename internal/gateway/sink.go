package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/coder/websocket"
)

var _ sink.Sink = (*Sink)(nil)

// frame is the envelope for every server-to-client event.
type frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Sink delivers session events to the connected client as {event, payload}
// JSON frames. It implements sink.Sink. Emit is safe for concurrent use;
// the connection serializes frame writes internally.
type Sink struct {
	conn    *websocket.Conn
	timeout time.Duration

	closeOnce sync.Once
}

// SinkOption configures a [Sink].
type SinkOption func(*Sink)

// WithSinkWriteTimeout bounds each frame write so a stalled client cannot
// back up the session. The default is 5 seconds.
func WithSinkWriteTimeout(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSink wraps conn as an event sink.
func NewSink(conn *websocket.Conn, opts ...SinkOption) *Sink {
	s := &Sink{
		conn:    conn,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit marshals the event and writes it to the client. A write failure closes
// the socket: a client that cannot keep up within the write timeout is gone as
// far as the session is concerned, and closing unblocks the read loop so the
// runtime gets torn down.
func (s *Sink) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(frame{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("gateway: marshal %s frame: %w", event, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.closeOnce.Do(func() {
			s.conn.Close(websocket.StatusInternalError, "event delivery failed")
		})
		return fmt.Errorf("gateway: write %s frame: %w", event, err)
	}
	return nil
}
