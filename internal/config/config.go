package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"livemeet/internal/rules"
)

// Config stores runtime configuration. Values come from defaults, then the
// optional YAML file, then environment variables.
type Config struct {
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Terms    TermsConfig    `yaml:"terms"`
	Audio    AudioConfig    `yaml:"audio"`
	Rules    RulesConfig    `yaml:"rules"`
	Session  SessionConfig  `yaml:"session"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
	Diarize     bool   `yaml:"diarize"`
}

type GeminiConfig struct {
	APIKey            string        `yaml:"api_key"`
	LiveBaseURL       string        `yaml:"live_base_url"`
	LiveModel         string        `yaml:"live_model"`
	SystemInstruction string        `yaml:"system_instruction"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// TermsConfig selects the term extractor. Provider is gemini, openai,
// anthropic or off.
type TermsConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"ffmpeg_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
}

type RulesConfig struct {
	Path           string   `yaml:"path"`
	AssistantNames []string `yaml:"assistant_names"`
}

type SessionConfig struct {
	FrameDuration       time.Duration `yaml:"frame_duration"`
	SilenceAfter        time.Duration `yaml:"silence_after"`
	ContextPushInterval time.Duration `yaml:"context_push_interval"`
	TriggerMinInterval  time.Duration `yaml:"trigger_min_interval"`
	LongSpeech          time.Duration `yaml:"long_speech"`
	WindowSize          int           `yaml:"window_size"`
	WatchdogInterval    time.Duration `yaml:"watchdog_interval"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	DurationWarning     time.Duration `yaml:"duration_warning"`
	DurationLimit       time.Duration `yaml:"duration_limit"`
	TermFlushChars      int           `yaml:"term_flush_chars"`
	TermDebounce        time.Duration `yaml:"term_debounce"`
	TermTimeout         time.Duration `yaml:"term_timeout"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load resolves configuration. path names an optional YAML file; when empty,
// LIVEMEET_CONFIG is consulted and a missing file is not an error.
func Load(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := defaults(home)

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("LIVEMEET_CONFIG"))
		explicit = path != ""
	}
	if !explicit {
		path = filepath.Join(home, ".config", "livemeet", "config.yml")
	}
	if err := loadFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func defaults(home string) Config {
	configDir := filepath.Join(home, ".config", "livemeet")
	return Config{
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
			Diarize:     true,
		},
		Gemini: GeminiConfig{
			LiveBaseURL:  "wss://generativelanguage.googleapis.com",
			LiveModel:    "models/gemini-2.0-flash-live-001",
			DialTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Terms: TermsConfig{Provider: "gemini"},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Rules: RulesConfig{
			Path:           firstExisting(filepath.Join(configDir, "triggers.rules")),
			AssistantNames: []string{rules.DefaultAssistantName},
		},
		Session: SessionConfig{
			FrameDuration:       100 * time.Millisecond,
			SilenceAfter:        10 * time.Second,
			ContextPushInterval: 10 * time.Second,
			TriggerMinInterval:  120 * time.Second,
			LongSpeech:          30 * time.Second,
			WindowSize:          20,
			WatchdogInterval:    10 * time.Second,
			IdleTimeout:         180 * time.Second,
			DurationWarning:     2*time.Hour + 50*time.Minute,
			DurationLimit:       3 * time.Hour,
			TermFlushChars:      250,
			TermDebounce:        5 * time.Second,
			TermTimeout:         30 * time.Second,
		},
		Storage: StorageConfig{Path: filepath.Join(home, ".local", "share", "livemeet", "livemeet.sqlite")},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

func loadFile(cfg *Config, path string, required bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)
	cfg.Deepgram.Diarize = envOrDefaultBool("DEEPGRAM_DIARIZE", cfg.Deepgram.Diarize)

	cfg.Gemini.APIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"), cfg.Gemini.APIKey)
	cfg.Gemini.LiveBaseURL = envOrDefault("GEMINI_LIVE_BASE_URL", cfg.Gemini.LiveBaseURL)
	cfg.Gemini.LiveModel = envOrDefault("GEMINI_LIVE_MODEL", cfg.Gemini.LiveModel)
	cfg.Gemini.SystemInstruction = envOrDefault("LIVEMEET_SYSTEM_INSTRUCTION", cfg.Gemini.SystemInstruction)
	cfg.Gemini.DialTimeout = envOrDefaultDuration("GEMINI_DIAL_TIMEOUT", cfg.Gemini.DialTimeout)
	cfg.Gemini.WriteTimeout = envOrDefaultDuration("GEMINI_WRITE_TIMEOUT", cfg.Gemini.WriteTimeout)

	cfg.Terms.Provider = envOrDefault("LIVEMEET_TERMS_PROVIDER", cfg.Terms.Provider)
	cfg.Terms.APIKey = envOrDefault("LIVEMEET_TERMS_API_KEY", cfg.Terms.APIKey)
	cfg.Terms.Model = envOrDefault("LIVEMEET_TERMS_MODEL", cfg.Terms.Model)
	cfg.Terms.BaseURL = envOrDefault("LIVEMEET_TERMS_BASE_URL", cfg.Terms.BaseURL)

	cfg.Audio.RecorderCommand = envOrDefault("LIVEMEET_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("LIVEMEET_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("LIVEMEET_AUDIO_INPUT_DEVICE"), os.Getenv("PULSE_SOURCE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("LIVEMEET_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("LIVEMEET_CHANNELS", cfg.Audio.Channels)

	cfg.Rules.Path = envOrDefault("LIVEMEET_RULES_FILE", cfg.Rules.Path)
	if names := splitList(os.Getenv("LIVEMEET_ASSISTANT_NAMES")); len(names) > 0 {
		cfg.Rules.AssistantNames = names
	}

	s := &cfg.Session
	s.FrameDuration = envOrDefaultDuration("LIVEMEET_FRAME_DURATION", s.FrameDuration)
	s.SilenceAfter = envOrDefaultDuration("LIVEMEET_SILENCE_AFTER", s.SilenceAfter)
	s.ContextPushInterval = envOrDefaultDuration("LIVEMEET_CONTEXT_PUSH_INTERVAL", s.ContextPushInterval)
	s.TriggerMinInterval = envOrDefaultDuration("LIVEMEET_TRIGGER_MIN_INTERVAL", s.TriggerMinInterval)
	s.LongSpeech = envOrDefaultDuration("LIVEMEET_LONG_SPEECH", s.LongSpeech)
	s.WindowSize = envOrDefaultInt("LIVEMEET_WINDOW_SIZE", s.WindowSize)
	s.WatchdogInterval = envOrDefaultDuration("LIVEMEET_WATCHDOG_INTERVAL", s.WatchdogInterval)
	s.IdleTimeout = envOrDefaultDuration("LIVEMEET_IDLE_TIMEOUT", s.IdleTimeout)
	s.DurationWarning = envOrDefaultDuration("LIVEMEET_DURATION_WARNING", s.DurationWarning)
	s.DurationLimit = envOrDefaultDuration("LIVEMEET_DURATION_LIMIT", s.DurationLimit)
	s.TermFlushChars = envOrDefaultInt("LIVEMEET_TERM_FLUSH_CHARS", s.TermFlushChars)
	s.TermDebounce = envOrDefaultDuration("LIVEMEET_TERM_DEBOUNCE", s.TermDebounce)
	s.TermTimeout = envOrDefaultDuration("LIVEMEET_TERM_TIMEOUT", s.TermTimeout)

	cfg.Storage.Path = envOrDefault("LIVEMEET_DB_PATH", cfg.Storage.Path)
	cfg.Redis.URL = envOrDefault("LIVEMEET_REDIS_URL", cfg.Redis.URL)
	cfg.Log.Level = envOrDefault("LIVEMEET_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("LIVEMEET_LOG_FORMAT", cfg.Log.Format)
}

// normalize replaces unusable values; zero durations fall back to the
// controller defaults later on.
func normalize(cfg *Config) {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.WindowSize <= 0 {
		cfg.Session.WindowSize = 20
	}
	if cfg.Session.TermFlushChars <= 0 {
		cfg.Session.TermFlushChars = 250
	}
	cfg.Terms.Provider = strings.ToLower(strings.TrimSpace(cfg.Terms.Provider))
	if cfg.Terms.Provider == "gemini" && cfg.Terms.APIKey == "" {
		cfg.Terms.APIKey = cfg.Gemini.APIKey
	}
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("90s") or plain milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		if ms < 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
