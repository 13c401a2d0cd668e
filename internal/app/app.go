// Package app wires all hotseat subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates the session manager,
// the client gateway and the ops endpoint, Run serves until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSink, WithClock,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hotseat/internal/config"
	"github.com/MrWong99/hotseat/internal/deck"
	"github.com/MrWong99/hotseat/internal/gateway"
	"github.com/MrWong99/hotseat/internal/health"
	"github.com/MrWong99/hotseat/internal/observe"
	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/MrWong99/hotseat/internal/voice"
	"github.com/MrWong99/hotseat/pkg/archive"
	"github.com/MrWong99/hotseat/pkg/provider/embeddings"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	sttprovider "github.com/MrWong99/hotseat/pkg/provider/stt"
	"github.com/MrWong99/hotseat/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. LLM, STT and TTS
// are required; nil elsewhere means the capability is not configured.
// Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        sttprovider.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
	Archive    Archive
}

// Archive bundles the persistence facets sessions write to and recall reads
// from. The zero value disables archiving: journals fall back to
// [archive.Discard] and recall stays off.
type Archive struct {
	Log       archive.Log
	Questions archive.QuestionIndex
}

// App owns all subsystem lifetimes: the session manager, the public gateway
// server and the ops server.
type App struct {
	cfg       *config.Config
	providers *Providers
	manager   *SessionManager
	gateway   *gateway.Server
	public    *http.Server
	ops       *http.Server

	// Injected via options; defaulted in New.
	extraSink   sink.Sink
	clock       func() time.Time
	defaultDeck *deck.Manifest
	metrics     *observe.Metrics
	checks      []health.Checker

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink mirrors every session's client events into s, in addition to the
// per-session websocket sink.
func WithSink(s sink.Sink) Option {
	return func(a *App) { a.extraSink = s }
}

// WithClock injects the time source threaded through every session.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.clock = now }
}

// WithDefaultDeck sets the deck manifest used by sessions that start
// without one of their own.
func WithDefaultDeck(m *deck.Manifest) Option {
	return func(a *App) { a.defaultDeck = m }
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHealthCheck adds a readiness checker to the ops endpoint.
func WithHealthCheck(c health.Checker) Option {
	return func(a *App) { a.checks = append(a.checks, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); LLM, STT and TTS
// must be set. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	switch {
	case providers == nil:
		return nil, fmt.Errorf("app: providers are required")
	case providers.LLM == nil:
		return nil, fmt.Errorf("app: an LLM provider is required")
	case providers.STT == nil:
		return nil, fmt.Errorf("app: an STT provider is required")
	case providers.TTS == nil:
		return nil, fmt.Errorf("app: a TTS provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Media directory + filler library ─────────────────────────────
	fillers, err := a.initMedia()
	if err != nil {
		return nil, fmt.Errorf("app: init media: %w", err)
	}

	// ── 2. Session manager ───────────────────────────────────────────────
	a.manager = NewSessionManager(ManagerConfig{
		Providers: &Providers{
			LLM:        meteredLLM{inner: providers.LLM, metrics: a.metrics},
			STT:        providers.STT,
			TTS:        meteredTTS{inner: providers.TTS, metrics: a.metrics},
			Embeddings: providers.Embeddings,
			Archive:    providers.Archive,
		},
		Defaults:     cfg.Session.Resolve(),
		Recall:       cfg.Recall,
		MediaDir:     cfg.Server.MediaDir,
		TemplatesDir: cfg.TemplatesDir,
		Fillers:      fillers,
		Metrics:      a.metrics,
		DefaultDeck:  a.defaultDeck,
		ExtraSink:    a.extraSink,
		Clock:        a.clock,
		Voices:       voiceProfiles(cfg),
		DefaultVoice: defaultVoice(cfg),
	})

	// ── 3. Gauge registration ────────────────────────────────────────────
	unregister, err := a.metrics.Observe(observe.Sources{
		QueueDepth:     a.manager.QueueDepth,
		SessionsActive: a.manager.Active,
		BusPublished:   a.manager.BusPublished,
		BusDropped:     a.manager.BusDropped,
	})
	if err != nil {
		return nil, fmt.Errorf("app: register metrics: %w", err)
	}
	a.closers = append(a.closers, unregister)

	// ── 4. Public gateway server ─────────────────────────────────────────
	a.gateway = gateway.NewServer(gatewayRuntimes{m: a.manager}, cfg.Server.MediaDir)
	mux := http.NewServeMux()
	a.gateway.Routes(mux)
	a.public = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── 5. Ops server (metrics + health) ─────────────────────────────────
	opsMux := http.NewServeMux()
	opsMux.Handle("GET /metrics", promhttp.Handler())
	health.New(append([]health.Checker{providersCheck(providers)}, a.checks...)...).Register(opsMux)
	a.ops = &http.Server{
		Addr:              cfg.Server.OpsAddr,
		Handler:           opsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initMedia ensures the media directory exists and scans the filler library.
func (a *App) initMedia() (*voice.Fillers, error) {
	if err := os.MkdirAll(a.cfg.Server.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("media dir: %w", err)
	}
	fillers, err := voice.ScanFillers(a.cfg.Server.MediaDir)
	if err != nil {
		return nil, fmt.Errorf("scan fillers: %w", err)
	}
	return fillers, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the public gateway and the ops endpoint until ctx is cancelled
// or a listener fails. A cancelled context is a graceful stop and returns
// nil; call Shutdown afterwards to drain sessions.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		slog.Info("ops listening", "addr", a.ops.Addr)
		if err := a.ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("app: ops listener: %w", err)
		}
	}()

	go func() {
		tls := a.cfg.Server.TLS
		var err error
		if tls != nil {
			slog.Info("gateway listening", "addr", a.public.Addr, "tls", true)
			err = a.public.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("gateway listening", "addr", a.public.Addr)
			err = a.public.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("app: gateway listener: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains all live sessions, stops both HTTP servers and runs the
// closers in reverse order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.manager.Active())

		// Sessions first, so clients see session_ended before the
		// sockets go away.
		a.manager.StopAll("server shutdown")

		if err := a.public.Shutdown(ctx); err != nil {
			slog.Warn("gateway shutdown error", "error", err)
		}
		if err := a.ops.Shutdown(ctx); err != nil {
			slog.Warn("ops shutdown error", "error", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfigChange applies a watched config diff to the running app.
// Session and recall defaults take effect for future sessions; changes that
// need a process restart are logged and skipped.
func (a *App) ApplyConfigChange(next *config.Config, diff config.ConfigDiff) {
	if diff.SessionChanged {
		a.manager.UpdateDefaults(next.Session.Resolve())
		slog.Info("session defaults updated")
	}
	if diff.RecallChanged {
		a.manager.UpdateRecall(next.Recall)
		slog.Info("recall settings updated")
	}
	if diff.RestartRequired {
		slog.Warn("config change requires restart to take effect")
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// providersCheck reports readiness of the configured provider slots.
func providersCheck(p *Providers) health.Checker {
	return health.Named("providers", func(ctx context.Context) error {
		switch {
		case p.LLM == nil:
			return fmt.Errorf("llm provider missing")
		case p.STT == nil:
			return fmt.Errorf("stt provider missing")
		case p.TTS == nil:
			return fmt.Errorf("tts provider missing")
		}
		return nil
	})
}

// voiceProfiles reads the per-agent voice map from the first TTS provider
// entry's options, if present:
//
//	options:
//	  voices:
//	    skeptic: "pNInz6obpgDQGcFmaJgB"
func voiceProfiles(cfg *config.Config) map[string]tts.VoiceProfile {
	if len(cfg.Providers.TTS) == 0 {
		return nil
	}
	entry := cfg.Providers.TTS[0]
	raw, ok := entry.Options["voices"].(map[string]any)
	if !ok {
		return nil
	}
	profiles := make(map[string]tts.VoiceProfile, len(raw))
	for agentID, v := range raw {
		id, ok := v.(string)
		if !ok {
			continue
		}
		profiles[agentID] = tts.VoiceProfile{ID: id, Provider: entry.Name}
	}
	return profiles
}

// defaultVoice reads the fallback voice from the first TTS provider entry.
func defaultVoice(cfg *config.Config) tts.VoiceProfile {
	if len(cfg.Providers.TTS) == 0 {
		return tts.VoiceProfile{}
	}
	entry := cfg.Providers.TTS[0]
	if entry.Voice == "" {
		return tts.VoiceProfile{}
	}
	return tts.VoiceProfile{ID: entry.Voice, Provider: entry.Name}
}
