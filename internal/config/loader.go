package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"github.com/MrWong99/hotseat/internal/agent"
	"github.com/MrWong99/hotseat/internal/session"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"tts":        {"elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
}

// envPattern matches ${VAR} references in the raw config text.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, applies defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} references with environment values before the
// YAML is decoded, so secrets never have to live in the file itself. Unset
// variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		return []byte(os.Getenv(name))
	})
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.OpsAddr == "" {
		cfg.Server.OpsAddr = DefaultOpsAddr
	}
	if cfg.Server.MediaDir == "" {
		cfg.Server.MediaDir = DefaultMediaDir
	}
	if cfg.Session.Intensity == "" {
		cfg.Session.Intensity = DefaultIntensity
	}
	if cfg.Session.DurationSecs == 0 {
		cfg.Session.DurationSecs = DefaultDurationSecs
	}
	if len(cfg.Session.Agents) == 0 {
		cfg.Session.Agents = slices.Clone(DefaultAgents)
	}
	if cfg.Session.WarmupWords == 0 {
		cfg.Session.WarmupWords = DefaultWarmupWords
	}
	if cfg.Session.LLMConcurrency == 0 {
		cfg.Session.LLMConcurrency = DefaultLLMConcurrency
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Session defaults
	switch session.Intensity(cfg.Session.Intensity) {
	case session.IntensityFriendly, session.IntensityModerate, session.IntensityAdversarial:
	default:
		if cfg.Session.Intensity != "" {
			errs = append(errs, fmt.Errorf("session.intensity %q is invalid; valid values: friendly, moderate, adversarial", cfg.Session.Intensity))
		}
	}
	if cfg.Session.DurationSecs < 0 {
		errs = append(errs, fmt.Errorf("session.duration_secs %d must be positive", cfg.Session.DurationSecs))
	}
	if cfg.Session.WarmupWords < 0 {
		errs = append(errs, fmt.Errorf("session.warmup_words %d must not be negative", cfg.Session.WarmupWords))
	}
	if cfg.Session.LLMConcurrency < 0 {
		errs = append(errs, fmt.Errorf("session.llm_concurrency %d must be at least 1", cfg.Session.LLMConcurrency))
	}

	// Seated agents: duplicates and unknown personas are hard errors because
	// session creation would fail anyway; the moderator seat is reserved.
	agentsSeen := make(map[string]int, len(cfg.Session.Agents))
	for i, id := range cfg.Session.Agents {
		prefix := fmt.Sprintf("session.agents[%d]", i)
		if id == agent.ModeratorID {
			errs = append(errs, fmt.Errorf("%s: %q is reserved for the moderator and cannot be seated", prefix, id))
			continue
		}
		if _, ok := agent.Builtin(id); !ok {
			errs = append(errs, fmt.Errorf("%s: unknown persona %q", prefix, id))
		}
		if prev, ok := agentsSeen[id]; ok {
			errs = append(errs, fmt.Errorf("%s: %q is a duplicate of session.agents[%d]", prefix, id, prev))
		}
		agentsSeen[id] = i
	}

	// Providers
	validateEntries("llm", cfg.Providers.LLM, &errs)
	validateEntries("stt", cfg.Providers.STT, &errs)
	validateEntries("tts", cfg.Providers.TTS, &errs)
	validateEntries("embeddings", cfg.Providers.Embeddings, &errs)

	// Provider availability warnings
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("no LLM provider configured; the board will not be able to generate questions")
	}
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT provider configured; presenter audio will not be transcribed")
	}
	if len(cfg.Providers.TTS) == 0 {
		slog.Warn("no TTS provider configured; agents will be text-only")
	}

	// Feature ↔ provider cross-validation
	if cfg.Recall.Enabled && len(cfg.Providers.Embeddings) == 0 {
		errs = append(errs, errors.New("recall.enabled requires an embeddings provider but providers.embeddings is empty"))
	}
	if cfg.Recall.Threshold < 0 || cfg.Recall.Threshold > 1 {
		errs = append(errs, fmt.Errorf("recall.threshold %.2f is out of range (0, 1]", cfg.Recall.Threshold))
	}
	if cfg.Archive.Enabled && cfg.Archive.PostgresDSN == "" {
		errs = append(errs, errors.New("archive.enabled requires archive.postgres_dsn"))
	}

	return errors.Join(errs...)
}

// validateEntries checks one provider list: names are required and unique
// within their kind; unrecognised names only warn, since the registry may
// hold third-party factories.
func validateEntries(kind string, entries []ProviderEntry, errs *[]error) {
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if e.Name == "" {
			*errs = append(*errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			*errs = append(*errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, e.Name, kind, prev))
		}
		seen[e.Name] = i
		validateProviderName(kind, e.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
