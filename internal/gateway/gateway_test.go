package gateway_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hotseat/internal/gateway"
	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/coder/websocket"
)

// ---- fakes ----

type fakeRuntime struct {
	mu       sync.Mutex
	startErr error
	started  bool
	chunks   [][]byte
	slides   []int
	typed    []string
}

func (r *fakeRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	return nil
}

func (r *fakeRuntime) SlideChanged(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slides = append(r.slides, index)
}

func (r *fakeRuntime) PresenterTyped(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typed = append(r.typed, text)
}

func (r *fakeRuntime) AudioChunk(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	return nil
}

func (r *fakeRuntime) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

type stopCall struct {
	id     string
	reason string
}

type fakeManager struct {
	mu        sync.Mutex
	createErr error
	runtime   *fakeRuntime
	live      map[string]bool
	lastID    string
	lastReq   gateway.StartRequest
	lastSink  sink.Sink
	stops     []stopCall
}

func newFakeManager() *fakeManager {
	return &fakeManager{runtime: &fakeRuntime{}, live: map[string]bool{}}
}

func (m *fakeManager) Create(ctx context.Context, id string, events sink.Sink, req gateway.StartRequest) (gateway.Runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.live[id] = true
	m.lastID = id
	m.lastReq = req
	m.lastSink = events
	return m.runtime, nil
}

func (m *fakeManager) Get(id string) (gateway.Runtime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[id] {
		return m.runtime, true
	}
	return nil, false
}

func (m *fakeManager) Stop(id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, id)
	m.stops = append(m.stops, stopCall{id: id, reason: reason})
}

func (m *fakeManager) stopCalls() []stopCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stopCall(nil), m.stops...)
}

func (m *fakeManager) created() (string, gateway.StartRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastID, m.lastReq, m.lastID != ""
}

// ---- helpers ----

func startGateway(t *testing.T, m gateway.Manager, mediaDir string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	gateway.NewServer(m, mediaDir).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialSession(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/" + id
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendOp(t *testing.T, conn *websocket.Conn, op map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("marshal op: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write op: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---- tests ----

func TestStartSessionCreatesRuntime(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-42")

	sendOp(t, conn, map[string]any{
		"type":         "start_session",
		"intensity":    "adversarial",
		"durationSecs": 900,
		"agents":       []string{"skeptic", "ceo"},
	})

	waitFor(t, "runtime creation", func() bool {
		_, _, ok := m.created()
		return ok
	})
	waitFor(t, "runtime start", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return m.runtime.started
	})

	m.mu.Lock()
	events := m.lastSink
	m.mu.Unlock()
	if events == nil {
		t.Error("Create received a nil sink")
	}

	// Duplicate starts on the same socket are ignored.
	sendOp(t, conn, map[string]any{"type": "start_session"})
	sendOp(t, conn, map[string]any{"type": "slide_change", "slideIndex": 2})
	waitFor(t, "op after duplicate start", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return len(m.runtime.slides) == 1
	})
}

func TestAudioChunkForwardedDecoded(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-1")

	sendOp(t, conn, map[string]any{"type": "start_session"})
	waitFor(t, "runtime start", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return m.runtime.started
	})

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sendOp(t, conn, map[string]any{
		"type": "audio_chunk",
		"data": base64.StdEncoding.EncodeToString(pcm),
	})

	waitFor(t, "audio chunk", func() bool { return m.runtime.chunkCount() == 1 })

	m.runtime.mu.Lock()
	got := m.runtime.chunks[0]
	m.runtime.mu.Unlock()
	if string(got) != string(pcm) {
		t.Errorf("chunk = %v, want %v", got, pcm)
	}
}

func TestUndecodableAudioChunkDropped(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-2")

	sendOp(t, conn, map[string]any{"type": "start_session"})
	waitFor(t, "runtime start", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return m.runtime.started
	})

	sendOp(t, conn, map[string]any{"type": "audio_chunk", "data": "%%% not base64 %%%"})
	sendOp(t, conn, map[string]any{
		"type": "audio_chunk",
		"data": base64.StdEncoding.EncodeToString([]byte("ok")),
	})

	waitFor(t, "good chunk after bad one", func() bool { return m.runtime.chunkCount() == 1 })
}

func TestSlideChangeForwarded(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-3")

	sendOp(t, conn, map[string]any{"type": "start_session"})
	sendOp(t, conn, map[string]any{"type": "slide_change", "slideIndex": 7})

	waitFor(t, "slide change", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return len(m.runtime.slides) == 1 && m.runtime.slides[0] == 7
	})
}

func TestPresenterResponseForwarded(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-4")

	sendOp(t, conn, map[string]any{"type": "start_session"})
	sendOp(t, conn, map[string]any{"type": "presenter_response", "text": ""})
	sendOp(t, conn, map[string]any{"type": "presenter_response", "text": "Margins recover in Q3."})

	waitFor(t, "typed response", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return len(m.runtime.typed) == 1 && m.runtime.typed[0] == "Margins recover in Q3."
	})
}

func TestOpsBeforeStartIgnored(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-5")

	sendOp(t, conn, map[string]any{"type": "audio_chunk", "data": base64.StdEncoding.EncodeToString([]byte("x"))})
	sendOp(t, conn, map[string]any{"type": "slide_change", "slideIndex": 1})
	sendOp(t, conn, map[string]any{"type": "start_session"})

	waitFor(t, "runtime start", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return m.runtime.started
	})

	if n := m.runtime.chunkCount(); n != 0 {
		t.Errorf("chunks before start = %d, want 0", n)
	}
}

func TestEndSessionStopsRuntimeAndClosesSocket(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-6")

	sendOp(t, conn, map[string]any{"type": "start_session"})
	sendOp(t, conn, map[string]any{"type": "end_session"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want %v", websocket.CloseStatus(err), websocket.StatusNormalClosure)
	}

	waitFor(t, "stop call", func() bool { return len(m.stopCalls()) == 1 })
	if calls := m.stopCalls(); calls[0].id != "board-6" || calls[0].reason != "client ended session" {
		t.Errorf("stop = %+v, want board-6 / client ended session", calls[0])
	}
}

func TestClientDisconnectStopsRuntime(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-7")

	sendOp(t, conn, map[string]any{"type": "start_session"})
	waitFor(t, "runtime start", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return m.runtime.started
	})

	conn.Close(websocket.StatusNormalClosure, "leaving")

	waitFor(t, "stop on disconnect", func() bool { return len(m.stopCalls()) == 1 })
	if calls := m.stopCalls(); calls[0].reason != "client disconnected" {
		t.Errorf("stop reason = %q, want %q", calls[0].reason, "client disconnected")
	}
}

func TestSecondSocketForLiveSessionRejected(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	m.live["board-8"] = true
	srv := startGateway(t, m, t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/board-8"
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "unexpected")
		t.Fatal("Dial succeeded, want rejection for live session")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("handshake status = %v, want %d", resp, http.StatusConflict)
	}
}

func TestCreateFailureClosesSocket(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	m.createErr = io.ErrUnexpectedEOF
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-9")

	sendOp(t, conn, map[string]any{"type": "start_session"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want %v", websocket.CloseStatus(err), websocket.StatusPolicyViolation)
	}
	if len(m.stopCalls()) != 0 {
		t.Errorf("stop calls = %d, want 0 when create fails", len(m.stopCalls()))
	}
}

func TestUnknownOpIgnored(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-10")

	sendOp(t, conn, map[string]any{"type": "jazz_hands"})
	sendOp(t, conn, map[string]any{"type": "start_session"})

	waitFor(t, "runtime start after unknown op", func() bool {
		m.runtime.mu.Lock()
		defer m.runtime.mu.Unlock()
		return m.runtime.started
	})
}

func TestFilesEndpointServesMediaDir(t *testing.T) {
	t.Parallel()

	mediaDir := t.TempDir()
	wav := []byte("RIFF fake wav payload")
	if err := os.WriteFile(filepath.Join(mediaDir, "answer_01.wav"), wav, 0o644); err != nil {
		t.Fatalf("write media file: %v", err)
	}

	srv := startGateway(t, newFakeManager(), mediaDir)

	resp, err := srv.Client().Get(srv.URL + "/api/files/answer_01.wav")
	if err != nil {
		t.Fatalf("GET media file: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != string(wav) {
		t.Errorf("body = %q, want %q", body, wav)
	}
}

func TestStartRequestPassedThrough(t *testing.T) {
	t.Parallel()

	m := newFakeManager()
	srv := startGateway(t, m, t.TempDir())
	conn := dialSession(t, srv, "board-11")

	sendOp(t, conn, map[string]any{
		"type":         "start_session",
		"intensity":    "friendly",
		"durationSecs": 300,
		"agents":       []string{"analyst"},
		"deck": map[string]any{
			"title": "Series B",
			"slides": []map[string]any{
				{"title": "Traction", "bullets": []string{"ARR up 3x"}},
			},
		},
	})

	waitFor(t, "create call", func() bool {
		_, _, ok := m.created()
		return ok
	})

	id, req, _ := m.created()
	if id != "board-11" {
		t.Errorf("session id = %q, want %q", id, "board-11")
	}
	if req.Intensity != "friendly" || req.DurationSecs != 300 {
		t.Errorf("request = %+v, want friendly/300", req)
	}
	if len(req.Agents) != 1 || req.Agents[0] != "analyst" {
		t.Errorf("agents = %v, want [analyst]", req.Agents)
	}
	if req.Deck == nil || req.Deck.Title != "Series B" || len(req.Deck.Slides) != 1 {
		t.Fatalf("deck = %+v, want Series B with one slide", req.Deck)
	}
	if req.Deck.Slides[0].Bullets[0] != "ARR up 3x" {
		t.Errorf("slide bullets = %v", req.Deck.Slides[0].Bullets)
	}
}
