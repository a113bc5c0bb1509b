package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates all service configuration, loaded once at startup.
type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Google    GoogleConfig
	Pipeline  PipelineConfig
	Cache     CacheConfig
	Messaging MessagingConfig
	Metrics   MetricsConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// OpenAIConfig covers both the transcription and chat-completion clients.
type OpenAIConfig struct {
	APIKey          string
	TranscribeModel string
	ChatModel       string
	SupportModel    string
}

// Enabled reports whether the OpenAI-backed providers can be used.
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

// GoogleConfig covers the Google Speech diarization client. Credentials
// themselves are resolved by pkg/security from the environment.
type GoogleConfig struct {
	DefaultMinSpeakers int
	DefaultMaxSpeakers int
	LanguageCode       string
}

// PipelineConfig bounds provider calls. A timeout is treated like any
// other upstream failure and triggers the same fallback path.
type PipelineConfig struct {
	ProviderTimeout time.Duration
}

// CacheConfig bounds the support-metrics cache.
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// MessagingConfig configures the optional AMQP result publisher.
// An empty URL disables publishing entirely.
type MessagingConfig struct {
	URL          string
	ExchangeName string
	RoutingKey   string
}

// Enabled reports whether result publishing is configured.
func (c MessagingConfig) Enabled() bool {
	return c.URL != ""
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port, err := intEnv("PORT", 8080)
	if err != nil {
		return nil, err
	}

	minSpeakers, err := intEnv("DIARIZE_MIN_SPEAKERS", 2)
	if err != nil {
		return nil, err
	}
	maxSpeakers, err := intEnv("DIARIZE_MAX_SPEAKERS", 4)
	if err != nil {
		return nil, err
	}
	if minSpeakers < 1 {
		return nil, fmt.Errorf("DIARIZE_MIN_SPEAKERS must be at least 1, got %d", minSpeakers)
	}
	if maxSpeakers < minSpeakers {
		return nil, fmt.Errorf("DIARIZE_MAX_SPEAKERS (%d) must be >= DIARIZE_MIN_SPEAKERS (%d)", maxSpeakers, minSpeakers)
	}

	providerTimeout, err := durationEnv("PROVIDER_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	cacheEntries, err := intEnv("METRICS_CACHE_MAX_ENTRIES", 1024)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := durationEnv("METRICS_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	metricsEnabled, err := boolEnv("ENABLE_METRICS", true)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port:         port,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		OpenAI: OpenAIConfig{
			APIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			TranscribeModel: stringEnv("OPENAI_TRANSCRIBE_MODEL", "gpt-4o-mini-transcribe"),
			ChatModel:       stringEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			SupportModel:    stringEnv("OPENAI_SUPPORT_MODEL", "gpt-4o-mini"),
		},
		Google: GoogleConfig{
			DefaultMinSpeakers: minSpeakers,
			DefaultMaxSpeakers: maxSpeakers,
			LanguageCode:       stringEnv("GOOGLE_SPEECH_LANGUAGE", "en-US"),
		},
		Pipeline: PipelineConfig{
			ProviderTimeout: providerTimeout,
		},
		Cache: CacheConfig{
			MaxEntries: cacheEntries,
			TTL:        cacheTTL,
		},
		Messaging: MessagingConfig{
			URL:          strings.TrimSpace(os.Getenv("AMQP_URL")),
			ExchangeName: stringEnv("AMQP_EXCHANGE", "callinsight"),
			RoutingKey:   stringEnv("AMQP_ROUTING_KEY", "analysis.completed"),
		},
		Metrics: MetricsConfig{
			Enabled: metricsEnabled,
		},
	}, nil
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return v, nil
}
