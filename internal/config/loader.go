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
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"whisper"},
	"llm":   {"openai"},
	"video": {"freepik"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references anywhere in the document are expanded from the
// environment before decoding, so credentials can stay out of the file.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = expandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envRef matches ${VAR} references in the raw config document.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values. Unlike
// [os.ExpandEnv] it leaves bare $VAR and unset ${VAR} untouched, so YAML
// documents containing literal dollar signs survive.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return match
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Upstream
	if cfg.Upstream.URL != "" && !strings.HasPrefix(cfg.Upstream.URL, "ws://") && !strings.HasPrefix(cfg.Upstream.URL, "wss://") {
		errs = append(errs, fmt.Errorf("upstream.url %q must use the ws:// or wss:// scheme", cfg.Upstream.URL))
	}
	if cfg.Upstream.URL != "" && cfg.Upstream.APIKey == "" {
		slog.Warn("upstream.api_key is empty; the relay will dial the upstream without credentials")
	}

	// Session tuning ranges. Zero means "use the default", so only reject
	// values that are set and nonsensical.
	if cfg.Session.SpeechThreshold < 0 || cfg.Session.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("session.speech_threshold %.3f is out of range [0, 1]", cfg.Session.SpeechThreshold))
	}
	if cfg.Session.SilenceHoldMs < 0 {
		errs = append(errs, fmt.Errorf("session.silence_hold_ms %d must not be negative", cfg.Session.SilenceHoldMs))
	}
	if cfg.Session.CommitIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("session.commit_interval_ms %d must not be negative", cfg.Session.CommitIntervalMs))
	}
	if cfg.Session.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate %d must not be negative", cfg.Session.SampleRate))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("video", cfg.Providers.Video.Name)

	// Provider availability warnings. Each stage degrades on its own, so a
	// missing provider is never a hard error.
	if cfg.Providers.STT.Name != "" && cfg.Providers.STT.APIKey == "" {
		slog.Warn("providers.stt has no api_key; transcription requests will fail")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; dream interpretation and chat will be unavailable")
	}
	if cfg.Providers.Video.Name == "" {
		slog.Warn("providers.video is not configured; dream submissions will fail at video generation")
	}

	// Archive availability
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; completed dreams will not be persisted")
	}

	return errors.Join(errs...)
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
