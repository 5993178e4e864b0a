package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the conversation companion service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	AgentMode         string
	AgentHTTPURL      string
	AgentModelID      string
	AgentTimeout      time.Duration
	AgentMaxToolIters int
	PromptRecentLimit int

	TranscriberMode    string
	TranscriberHTTPURL string

	RelayURL           string
	RelayRetryInterval time.Duration

	TurnSilenceThreshold time.Duration
	TurnMinUtterance     time.Duration
	TurnMaxBuffered      time.Duration
	TurnActivationLevel  int
	AudioSampleRate      int

	ConversationIdleTTL time.Duration
	SummaryTimeout      time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "mira"),
		AllowAnyOrigin:   false,
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		AgentMode:        envOrDefault("AGENT_MODE", "auto"),
		AgentHTTPURL:     envTrimmed("AGENT_HTTP_URL"),
		// Default to the small instruct model the glasses prototype shipped with.
		AgentModelID:       envOrDefault("AGENT_MODEL_ID", "nvidia/nvidia-nemotron-nano-9b-v2"),
		TranscriberMode:    envOrDefault("TRANSCRIBER_MODE", "auto"),
		TranscriberHTTPURL: envTrimmed("TRANSCRIBER_HTTP_URL"),
		RelayURL:           envTrimmed("RELAY_URL"),

		ShutdownTimeout:    15 * time.Second,
		AgentTimeout:       20 * time.Second,
		AgentMaxToolIters:  4,
		PromptRecentLimit:  12,
		RelayRetryInterval: 5 * time.Second,

		TurnSilenceThreshold: 1500 * time.Millisecond,
		TurnMinUtterance:     300 * time.Millisecond,
		TurnMaxBuffered:      30 * time.Second,
		TurnActivationLevel:  500,
		AudioSampleRate:      16000,

		ConversationIdleTTL: 2 * time.Minute,
		SummaryTimeout:      30 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentTimeout, err = durationFromEnv("AGENT_TIMEOUT", cfg.AgentTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentMaxToolIters, err = intFromEnv("AGENT_MAX_TOOL_ITERATIONS", cfg.AgentMaxToolIters)
	if err != nil {
		return Config{}, err
	}
	cfg.PromptRecentLimit, err = intFromEnv("PROMPT_RECENT_MESSAGES", cfg.PromptRecentLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayRetryInterval, err = durationFromEnv("RELAY_RETRY_INTERVAL", cfg.RelayRetryInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnSilenceThreshold, err = durationFromEnv("TURN_SILENCE_THRESHOLD", cfg.TurnSilenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnMinUtterance, err = durationFromEnv("TURN_MIN_UTTERANCE", cfg.TurnMinUtterance)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnMaxBuffered, err = durationFromEnv("TURN_MAX_BUFFERED", cfg.TurnMaxBuffered)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnActivationLevel, err = intFromEnv("TURN_ACTIVATION_LEVEL", cfg.TurnActivationLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioSampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.AudioSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationIdleTTL, err = durationFromEnv("CONVERSATION_IDLE_TTL", cfg.ConversationIdleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryTimeout, err = durationFromEnv("SUMMARY_TIMEOUT", cfg.SummaryTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConversationIdleTTL < 5*time.Second {
		return Config{}, fmt.Errorf("CONVERSATION_IDLE_TTL must be at least 5s")
	}
	if cfg.TurnSilenceThreshold <= 0 {
		return Config{}, fmt.Errorf("TURN_SILENCE_THRESHOLD must be positive")
	}
	if cfg.TurnMaxBuffered <= cfg.TurnSilenceThreshold {
		return Config{}, fmt.Errorf("TURN_MAX_BUFFERED must exceed TURN_SILENCE_THRESHOLD")
	}
	if cfg.TurnMinUtterance < 0 {
		return Config{}, fmt.Errorf("TURN_MIN_UTTERANCE must be >= 0")
	}
	if cfg.AudioSampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.AgentMaxToolIters <= 0 {
		return Config{}, fmt.Errorf("AGENT_MAX_TOOL_ITERATIONS must be positive")
	}
	if cfg.PromptRecentLimit <= 0 {
		return Config{}, fmt.Errorf("PROMPT_RECENT_MESSAGES must be positive")
	}
	if cfg.RelayRetryInterval <= 0 {
		return Config{}, fmt.Errorf("RELAY_RETRY_INTERVAL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
