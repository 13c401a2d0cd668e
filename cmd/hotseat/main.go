// Command hotseat is the main entry point for the hotseat boardroom server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/hotseat/internal/app"
	"github.com/MrWong99/hotseat/internal/config"
	"github.com/MrWong99/hotseat/internal/deck"
	"github.com/MrWong99/hotseat/internal/health"
	"github.com/MrWong99/hotseat/internal/observe"
	"github.com/MrWong99/hotseat/internal/resilience"
	"github.com/MrWong99/hotseat/pkg/archive/postgres"
	"github.com/MrWong99/hotseat/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/hotseat/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/hotseat/pkg/provider/embeddings/openai"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	"github.com/MrWong99/hotseat/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/hotseat/pkg/provider/llm/openai"
	"github.com/MrWong99/hotseat/pkg/provider/stt"
	"github.com/MrWong99/hotseat/pkg/provider/stt/deepgram"
	"github.com/MrWong99/hotseat/pkg/provider/stt/whisper"
	"github.com/MrWong99/hotseat/pkg/provider/tts"
	"github.com/MrWong99/hotseat/pkg/provider/tts/coqui"
	"github.com/MrWong99/hotseat/pkg/provider/tts/elevenlabs"
)

// defaultEmbeddingDims sizes the pgvector column when the archive is enabled
// but no embeddings provider is configured to report its own dimensionality.
const defaultEmbeddingDims = 1536

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	deckPath := flag.String("deck", "", "path to a deck manifest used as the default for new sessions")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// .env values feed the ${VAR} references in the config file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "hotseat: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hotseat: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hotseat: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	lvl := cfg.Server.LogLevel
	if *logLevel != "" {
		override := config.LogLevel(*logLevel)
		if !override.IsValid() {
			fmt.Fprintf(os.Stderr, "hotseat: invalid --log-level %q (valid: debug, info, warn, error)\n", *logLevel)
			return 1
		}
		lvl = override
	}
	logger, level := newLogger(lvl.Level())
	slog.SetDefault(logger)

	slog.Info("hotseat starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"ops_addr", cfg.Server.OpsAddr,
		"log_level", lvl,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "hotseat"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Session archive (optional) ────────────────────────────────────────────
	var appOpts []app.Option
	if cfg.Archive.Enabled {
		dims := defaultEmbeddingDims
		if providers.Embeddings != nil {
			dims = providers.Embeddings.Dimensions()
		}
		store, err := postgres.NewStore(ctx, cfg.Archive.PostgresDSN, dims)
		if err != nil {
			slog.Error("failed to connect session archive", "err", err)
			return 1
		}
		defer store.Close()
		providers.Archive = app.Archive{Log: store.Log(), Questions: store.Questions()}
		appOpts = append(appOpts, app.WithHealthCheck(health.Named("postgres", store.Ping)))
		slog.Info("session archive connected", "embedding_dims", dims)
	}

	// ── Default deck (optional) ───────────────────────────────────────────────
	if *deckPath != "" {
		manifest, err := deck.LoadManifest(*deckPath)
		if err != nil {
			slog.Error("failed to load deck manifest", "path", *deckPath, "err", err)
			return 1
		}
		appOpts = append(appOpts, app.WithDefaultDeck(manifest))
		slog.Info("default deck loaded", "title", manifest.Title, "slides", len(manifest.Slides))
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config reload ─────────────────────────────────────────────────────────
	// Session and recall defaults apply to new sessions; the log level takes
	// effect immediately unless pinned by --log-level.
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		d := config.Diff(old, next)
		if d.Empty() {
			return
		}
		if d.LogLevelChanged && *logLevel == "" {
			level.Set(d.NewLogLevel.Level())
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		application.ApplyConfigChange(next, d)
	})
	if err != nil {
		slog.Warn("config reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai talks to the first-party SDK client; the other hosted providers
	// share the any-llm pattern of optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. The first entry of each list is the primary; further entries are
// folded into a fallback chain with per-provider circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	fbCfg := resilience.FallbackConfig{}

	llms, names, err := buildChain("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	switch len(llms) {
	case 0:
	case 1:
		ps.LLM = llms[0]
	default:
		fb := resilience.NewLLMFallback(llms[0], names[0], fbCfg)
		for i, p := range llms[1:] {
			fb.AddFallback(names[i+1], p)
		}
		ps.LLM = fb
	}
	logChain("llm", names)

	stts, names, err := buildChain("stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	switch len(stts) {
	case 0:
	case 1:
		ps.STT = stts[0]
	default:
		fb := resilience.NewSTTFallback(stts[0], names[0], fbCfg)
		for i, p := range stts[1:] {
			fb.AddFallback(names[i+1], p)
		}
		ps.STT = fb
	}
	logChain("stt", names)

	ttss, names, err := buildChain("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	switch len(ttss) {
	case 0:
	case 1:
		ps.TTS = ttss[0]
	default:
		fb := resilience.NewTTSFallback(ttss[0], names[0], fbCfg)
		for i, p := range ttss[1:] {
			fb.AddFallback(names[i+1], p)
		}
		ps.TTS = fb
	}
	logChain("tts", names)

	embs, names, err := buildChain("embeddings", cfg.Providers.Embeddings, reg.CreateEmbeddings)
	if err != nil {
		return nil, err
	}
	if len(embs) > 0 {
		ps.Embeddings = embs[0]
		if len(embs) > 1 {
			slog.Warn("embeddings fallbacks are not supported; using the first entry", "name", names[0])
		}
	}
	logChain("embeddings", names)

	return ps, nil
}

// buildChain instantiates providers for entries in list order, skipping names
// with no registered factory, and returns the providers alongside the names
// that produced them.
func buildChain[T any](kind string, entries []config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]T, []string, error) {
	var (
		providers []T
		names     []string
	)
	for _, e := range entries {
		p, err := create(e)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("skipping unregistered provider", "kind", kind, "name", e.Name)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("create %s provider %q: %w", kind, e.Name, err)
		}
		providers = append(providers, p)
		names = append(names, e.Name)
	}
	return providers, names, nil
}

func logChain(kind string, names []string) {
	switch len(names) {
	case 0:
	case 1:
		slog.Info("provider created", "kind", kind, "name", names[0])
	default:
		slog.Info("provider chain created", "kind", kind, "primary", names[0], "fallbacks", names[1:])
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          hotseat — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printChain("LLM", cfg.Providers.LLM)
	printChain("STT", cfg.Providers.STT)
	printChain("TTS", cfg.Providers.TTS)
	printChain("Embeddings", cfg.Providers.Embeddings)
	printLine("Archive", onOff(cfg.Archive.Enabled))
	printLine("Recall", onOff(cfg.Recall.Enabled))
	printLine("Board agents", strings.Join(cfg.Session.Agents, ", "))
	printLine("Listen addr", cfg.Server.ListenAddr)
	printLine("Ops addr", cfg.Server.OpsAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printChain(kind string, entries []config.ProviderEntry) {
	value := "(not configured)"
	if len(entries) > 0 {
		value = entries[0].Name
		if entries[0].Model != "" {
			value += " / " + entries[0].Model
		}
		if extra := len(entries) - 1; extra > 0 {
			value += fmt.Sprintf(" +%d", extra)
		}
	}
	printLine(kind, value)
}

func printLine(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger with a mutable level so config reloads
// can adjust verbosity without a restart.
func newLogger(level slog.Level) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
