package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hotseat/internal/agent"
	"github.com/MrWong99/hotseat/internal/config"
	"github.com/MrWong99/hotseat/internal/coordinator"
	"github.com/MrWong99/hotseat/internal/deck"
	"github.com/MrWong99/hotseat/internal/gateway"
	"github.com/MrWong99/hotseat/internal/observe"
	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/MrWong99/hotseat/internal/voice"
	"github.com/MrWong99/hotseat/pkg/provider/tts"
)

// ManagerConfig carries everything a [SessionManager] needs to assemble
// session runtimes. Providers, Defaults and MediaDir are required; the rest
// default sensibly (Clock to time.Now, Metrics to the process-wide set,
// Timings and Pacing to the component defaults when nil).
type ManagerConfig struct {
	Providers    *Providers
	Defaults     session.Config
	Recall       config.RecallConfig
	MediaDir     string
	TemplatesDir string
	Fillers      *voice.Fillers
	Metrics      *observe.Metrics
	DefaultDeck  *deck.Manifest
	ExtraSink    sink.Sink
	Clock        func() time.Time
	Voices       map[string]tts.VoiceProfile
	DefaultVoice tts.VoiceProfile
	Timings      *agent.Timings
	Pacing       *coordinator.Pacing
}

// SessionManager owns the live sessions: it builds a [SessionRuntime] per
// Create, hands running ones out by id, and tears them down on Stop. At most
// one runtime exists per session id. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	providers    *Providers
	mediaDir     string
	templatesDir string
	fillers      *voice.Fillers
	metrics      *observe.Metrics
	defaultDeck  *deck.Manifest
	extraSink    sink.Sink
	clock        func() time.Time
	voices       map[string]tts.VoiceProfile
	defaultVoice tts.VoiceProfile
	timings      *agent.Timings
	pacing       *coordinator.Pacing
	phrases      *coordinator.Phrases

	mu       sync.Mutex
	defaults session.Config
	recall   config.RecallConfig
	runtimes map[string]*SessionRuntime

	// Bus counters of stopped sessions, folded in so the process totals
	// stay monotonic as runtimes come and go.
	retiredPublished atomic.Uint64
	retiredDropped   atomic.Uint64
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg ManagerConfig) *SessionManager {
	m := &SessionManager{
		providers:    cfg.Providers,
		defaults:     cfg.Defaults,
		recall:       cfg.Recall,
		mediaDir:     cfg.MediaDir,
		templatesDir: cfg.TemplatesDir,
		fillers:      cfg.Fillers,
		metrics:      cfg.Metrics,
		defaultDeck:  cfg.DefaultDeck,
		extraSink:    cfg.ExtraSink,
		clock:        cfg.Clock,
		voices:       cfg.Voices,
		defaultVoice: cfg.DefaultVoice,
		timings:      cfg.Timings,
		pacing:       cfg.Pacing,
		phrases:      coordinator.LoadPhrases(cfg.TemplatesDir),
		runtimes:     map[string]*SessionRuntime{},
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.fillers == nil {
		m.fillers = &voice.Fillers{}
	}
	return m
}

// Create assembles and registers the runtime for a new session. events is
// the client-facing sink for this session; req's fields override the
// configured defaults where set. The runtime is returned unstarted.
func (m *SessionManager) Create(ctx context.Context, id string, events sink.Sink, req gateway.StartRequest) (*SessionRuntime, error) {
	if events == nil {
		events = sink.NewLog()
	}
	if m.extraSink != nil {
		events = sink.Multi(events, m.extraSink)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runtimes[id]; ok {
		return nil, fmt.Errorf("app: session %s already running", id)
	}

	cfg := m.defaults
	intensity := session.Intensity(req.Intensity)
	switch intensity {
	case "", session.IntensityFriendly, session.IntensityModerate, session.IntensityAdversarial:
	default:
		return nil, fmt.Errorf("app: unknown intensity %q", req.Intensity)
	}
	if intensity != "" {
		cfg.Intensity = intensity
	}
	if req.DurationSecs > 0 {
		cfg.Duration = time.Duration(req.DurationSecs) * time.Second
	}
	if len(req.Agents) > 0 {
		cfg.Agents = req.Agents
	}
	manifest := req.Deck
	if manifest == nil {
		manifest = m.defaultDeck
	}
	if manifest != nil {
		manifest.Normalize()
	}

	rt, err := m.newRuntime(id, events, cfg, manifest)
	if err != nil {
		return nil, err
	}
	m.runtimes[id] = rt

	_ = ctx // reserved for async provider warmup
	return rt, nil
}

// Get returns the live runtime for id, if any.
func (m *SessionManager) Get(id string) (*SessionRuntime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[id]
	return rt, ok
}

// Stop tears down the session with the given id. Unknown ids are a no-op.
// The runtime is unregistered before it drains, so the id is immediately
// free for a new session.
func (m *SessionManager) Stop(id, reason string) {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	delete(m.runtimes, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	rt.Stop(reason)
	published, dropped := rt.BusStats()
	m.retiredPublished.Add(published)
	m.retiredDropped.Add(dropped)
}

// StopAll tears down every live session, used at server shutdown.
func (m *SessionManager) StopAll(reason string) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id, reason)
	}
}

// Active reports the number of live sessions.
func (m *SessionManager) Active() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.runtimes))
}

// QueueDepth reports pending hand raises across all live sessions.
func (m *SessionManager) QueueDepth() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rt := range m.runtimes {
		n += int64(rt.QueueDepth())
	}
	return n
}

// BusPublished reports events published across all session buses, stopped
// sessions included.
func (m *SessionManager) BusPublished() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.retiredPublished.Load()
	for _, rt := range m.runtimes {
		published, _ := rt.BusStats()
		n += published
	}
	return n
}

// BusDropped reports events dropped across all session buses, stopped
// sessions included.
func (m *SessionManager) BusDropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.retiredDropped.Load()
	for _, rt := range m.runtimes {
		_, dropped := rt.BusStats()
		n += dropped
	}
	return n
}

// UpdateDefaults replaces the session defaults applied to future sessions.
// Live sessions keep the config they started with.
func (m *SessionManager) UpdateDefaults(cfg session.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = cfg
}

// UpdateRecall replaces the recall settings applied to future sessions.
func (m *SessionManager) UpdateRecall(cfg config.RecallConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recall = cfg
}

var _ gateway.Manager = gatewayRuntimes{}

// gatewayRuntimes adapts [SessionManager] to the gateway's interface view,
// converting the concrete runtime to [gateway.Runtime] without handing out
// a typed nil.
type gatewayRuntimes struct {
	m *SessionManager
}

func (g gatewayRuntimes) Create(ctx context.Context, id string, events sink.Sink, req gateway.StartRequest) (gateway.Runtime, error) {
	rt, err := g.m.Create(ctx, id, events, req)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (g gatewayRuntimes) Get(id string) (gateway.Runtime, bool) {
	rt, ok := g.m.Get(id)
	if !ok {
		return nil, false
	}
	return rt, true
}

func (g gatewayRuntimes) Stop(id, reason string) {
	g.m.Stop(id, reason)
}
