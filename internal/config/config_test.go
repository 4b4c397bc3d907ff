package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RECOGNITION_ENGINE", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.RecognitionEngine != EngineClient {
		t.Errorf("Expected default engine %q, got %q", EngineClient, cfg.RecognitionEngine)
	}
	if cfg.ConfidenceThreshold != 0.1 {
		t.Errorf("Expected default ConfidenceThreshold 0.1, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.MinWordCount != 1 {
		t.Errorf("Expected default MinWordCount 1, got %d", cfg.MinWordCount)
	}
	if cfg.InactivityTimeout() != 20*time.Second {
		t.Errorf("Expected default inactivity timeout 20s, got %v", cfg.InactivityTimeout())
	}
	if cfg.MaxRestarts != 5 {
		t.Errorf("Expected default MaxRestarts 5, got %d", cfg.MaxRestarts)
	}
	if cfg.RestartBackoffMs != 500 || cfg.RestartMaxBackoffMs != 1000 {
		t.Errorf("Expected restart backoff 500/1000ms, got %d/%d", cfg.RestartBackoffMs, cfg.RestartMaxBackoffMs)
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestLoad_DeepgramRequiresKey(t *testing.T) {
	t.Setenv("RECOGNITION_ENGINE", EngineDeepgram)
	t.Setenv("DEEPGRAM_API_KEY", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when DEEPGRAM_API_KEY is missing for the deepgram engine")
	}

	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown engine", "RECOGNITION_ENGINE", "whisper"},
		{"confidence above one", "RECOGNITION_CONFIDENCE_THRESHOLD", "1.5"},
		{"zero word count", "RECOGNITION_MIN_WORD_COUNT", "0"},
		{"zero inactivity", "RECOGNITION_INACTIVITY_TIMEOUT_MS", "0"},
		{"not a number", "RECOGNITION_MAX_RESTARTS", "five"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SYNTHESIS_URL", "https://tts.example.com/v1/speak")
	t.Setenv("RECOGNITION_INACTIVITY_TIMEOUT_MS", "5000")
	t.Setenv("CHAT_URL", "chat:50051")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.SynthesisURL != "https://tts.example.com/v1/speak" {
		t.Errorf("Unexpected SynthesisURL %q", cfg.SynthesisURL)
	}
	if cfg.InactivityTimeout() != 5*time.Second {
		t.Errorf("Expected 5s inactivity timeout, got %v", cfg.InactivityTimeout())
	}
	if cfg.ChatURL != "chat:50051" {
		t.Errorf("Unexpected ChatURL %q", cfg.ChatURL)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "test-value")

	if value := GetEnv("TEST_KEY", "default"); value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}
	if value := GetEnv("NON_EXISTENT_KEY", "default"); value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
