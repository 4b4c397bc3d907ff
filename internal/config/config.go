package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EngineClient drives the speech recognizer running on the connected client.
	EngineClient = "client"
	// EngineDeepgram streams client microphone audio to Deepgram.
	EngineDeepgram = "deepgram"
)

// Config holds all configuration for the voice-guard service
type Config struct {
	// Server configuration
	Port      string `envconfig:"PORT" default:"8080"`
	PublicURL string `envconfig:"PUBLIC_URL" default:""` // Used only for logging the socket endpoint

	// Recognition session tunables
	RecognitionEngine   string  `envconfig:"RECOGNITION_ENGINE" default:"client"` // client, deepgram
	ConfidenceThreshold float64 `envconfig:"RECOGNITION_CONFIDENCE_THRESHOLD" default:"0.1"`
	MinWordCount        int     `envconfig:"RECOGNITION_MIN_WORD_COUNT" default:"1"`
	InactivityTimeoutMs int     `envconfig:"RECOGNITION_INACTIVITY_TIMEOUT_MS" default:"20000"`
	MaxRestarts         int     `envconfig:"RECOGNITION_MAX_RESTARTS" default:"5"`
	RestartBackoffMs    int     `envconfig:"RECOGNITION_RESTART_BACKOFF_MS" default:"500"`
	RestartMaxBackoffMs int     `envconfig:"RECOGNITION_RESTART_MAX_BACKOFF_MS" default:"1000"`

	// Deepgram STT configuration (RECOGNITION_ENGINE=deepgram)
	DeepgramAPIKey     string  `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel      string  `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage   string  `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	DeepgramSampleRate int     `envconfig:"DEEPGRAM_SAMPLE_RATE" default:"16000"` // linear16 mono from the client
	DeepgramNoSpeechMs int     `envconfig:"DEEPGRAM_NO_SPEECH_MS" default:"8000"`
	SilenceRMS         float64 `envconfig:"DEEPGRAM_SILENCE_RMS" default:"500.0"`
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"65536"` // bytes held while the stream restarts

	// Remote voice synthesis (high quality path); empty URL disables it
	SynthesisURL       string  `envconfig:"SYNTHESIS_URL" default:""`
	SynthesisAPIKey    string  `envconfig:"SYNTHESIS_API_KEY" default:""`
	SynthesisVoiceID   string  `envconfig:"SYNTHESIS_VOICE_ID" default:"EXAVITQu4vr4xnSDxMaL"`
	SynthesisTimeoutMs int     `envconfig:"SYNTHESIS_TIMEOUT_MS" default:"10000"`
	LocalSpeechRate    float64 `envconfig:"LOCAL_SPEECH_RATE" default:"1.0"`
	LocalSpeechPitch   float64 `envconfig:"LOCAL_SPEECH_PITCH" default:"1.0"`

	// Chat backend (gRPC); empty URL uses the built-in fixed reply
	ChatURL        string `envconfig:"CHAT_URL" default:""`
	ChatTLSEnabled bool   `envconfig:"CHAT_TLS_ENABLED" default:"false"`
	ChatTimeout    int    `envconfig:"CHAT_TIMEOUT" default:"30"` // seconds

	// Emergency fan-out over MQTT; empty broker disables publishing
	AlertMQTTBroker      string `envconfig:"ALERT_MQTT_BROKER" default:""`
	AlertMQTTClientID    string `envconfig:"ALERT_MQTT_CLIENT_ID" default:"voice-guard"`
	AlertMQTTUsername    string `envconfig:"ALERT_MQTT_USERNAME" default:""`
	AlertMQTTPassword    string `envconfig:"ALERT_MQTT_PASSWORD" default:""`
	AlertMQTTTopicPrefix string `envconfig:"ALERT_MQTT_TOPIC_PREFIX" default:"safecircle"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.RecognitionEngine {
	case EngineClient:
	case EngineDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when RECOGNITION_ENGINE=%s", EngineDeepgram)
		}
	default:
		return fmt.Errorf("RECOGNITION_ENGINE must be %q or %q, got %q", EngineClient, EngineDeepgram, c.RecognitionEngine)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("RECOGNITION_CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.MinWordCount < 1 {
		return fmt.Errorf("RECOGNITION_MIN_WORD_COUNT must be at least 1, got %d", c.MinWordCount)
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("RECOGNITION_MAX_RESTARTS must not be negative, got %d", c.MaxRestarts)
	}

	positive := map[string]int{
		"RECOGNITION_INACTIVITY_TIMEOUT_MS":  c.InactivityTimeoutMs,
		"RECOGNITION_RESTART_BACKOFF_MS":     c.RestartBackoffMs,
		"RECOGNITION_RESTART_MAX_BACKOFF_MS": c.RestartMaxBackoffMs,
		"SYNTHESIS_TIMEOUT_MS":               c.SynthesisTimeoutMs,
		"CHAT_TIMEOUT":                       c.ChatTimeout,
		"AUDIO_BUFFER_SIZE":                  c.AudioBufferSize,
	}
	for key, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}
	return nil
}

// InactivityTimeout returns the recognition watchdog duration.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutMs) * time.Millisecond
}

// SynthesisTimeout returns the remote synthesis request timeout.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeoutMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
