// Package tts is the client for the remote voice-synthesis service.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/safecircle/voice-guard/internal/audio"
	"github.com/safecircle/voice-guard/internal/config"
	"github.com/safecircle/voice-guard/internal/observability"
	"github.com/safecircle/voice-guard/internal/resilience"
)

// ErrNoAudio is returned when the service answered without an audio payload.
var ErrNoAudio = errors.New("synthesis response contained no audio")

// defaultPCMSampleRate applies to raw PCM responses that do not state a rate.
const defaultPCMSampleRate = 24000

// Audio is a playable synthesis result.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Request represents the request payload for the synthesis API
type Request struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

// jsonResponse is the JSON form of a synthesis response.
type jsonResponse struct {
	Audio      string `json:"audio"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Error      string `json:"error,omitempty"`
}

// synthesisRetry allows one quick retry; a slow answer is worse than the
// local fallback.
var synthesisRetry = &resilience.RetryConfig{
	MaxAttempts:       2,
	InitialBackoff:    100 * time.Millisecond,
	MaxBackoff:        100 * time.Millisecond,
	BackoffMultiplier: 1,
}

// Client calls the remote synthesis endpoint.
type Client struct {
	apiURL         string
	apiKey         string
	defaultVoiceID string
	httpClient     *http.Client
	breaker        *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewClient creates a synthesis client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiURL:         cfg.SynthesisURL,
		apiKey:         cfg.SynthesisAPIKey,
		defaultVoiceID: cfg.SynthesisVoiceID,
		httpClient:     &http.Client{Timeout: cfg.SynthesisTimeout()},
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:         "synthesis",
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
			OnStateChange: func(name string, _, to resilience.CircuitState) {
				observability.UpdateCircuitBreakerState(name, int(to))
			},
		}),
		logger: observability.Component("synthesis"),
	}
}

// Enabled reports whether a synthesis endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.apiURL != ""
}

// Synthesize converts text to audio. An empty voiceID selects the configured
// default voice.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (*Audio, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("synthesis service not configured")
	}
	if voiceID == "" {
		voiceID = c.defaultVoiceID
	}

	ctx, span := observability.StartSpan(ctx, "tts.synthesize")
	var result *Audio
	err := c.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			result, err = c.synthesize(ctx, text, voiceID)
			return err
		}, synthesisRetry, resilience.IsRetryable)
	})
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) synthesize(ctx context.Context, text, voiceID string) (*Audio, error) {
	jsonData, err := json.Marshal(Request{Text: text, VoiceID: voiceID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*, application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("synthesis API returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}

	mediaType, params, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return decodeJSON(body)
	}

	if len(body) == 0 {
		return nil, ErrNoAudio
	}
	if isRawPCM(mediaType) {
		rate := defaultPCMSampleRate
		if r, err := parseRate(params["rate"]); err == nil {
			rate = r
		}
		return wrapPCM(body, rate)
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = sniffAudioType(body)
	}

	c.logger.Debug().Int("bytes", len(body)).Str("mime", mediaType).Msg("Synthesized audio")
	return &Audio{Data: body, MIMEType: mediaType}, nil
}

func decodeJSON(body []byte) (*Audio, error) {
	var payload jsonResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("synthesis API error: %s", payload.Error)
	}
	if payload.Audio == "" {
		return nil, ErrNoAudio
	}

	data, err := base64.StdEncoding.DecodeString(payload.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoAudio
	}

	format := strings.ToLower(payload.Format)
	switch format {
	case "pcm", "l16", "linear16":
		rate := payload.SampleRate
		if rate <= 0 {
			rate = defaultPCMSampleRate
		}
		return wrapPCM(data, rate)
	case "wav":
		return &Audio{Data: data, MIMEType: "audio/wav"}, nil
	case "mp3", "mpeg":
		return &Audio{Data: data, MIMEType: "audio/mpeg"}, nil
	case "ogg", "opus":
		return &Audio{Data: data, MIMEType: "audio/ogg"}, nil
	default:
		return &Audio{Data: data, MIMEType: sniffAudioType(data)}, nil
	}
}

func wrapPCM(pcm []byte, rate int) (*Audio, error) {
	wav, err := audio.EncodeWAV(pcm, rate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap PCM audio: %w", err)
	}
	return &Audio{Data: wav, MIMEType: "audio/wav"}, nil
}

func isRawPCM(mediaType string) bool {
	switch mediaType {
	case "audio/pcm", "audio/l16", "audio/x-pcm":
		return true
	default:
		return false
	}
}

func parseRate(s string) (int, error) {
	var rate int
	if _, err := fmt.Sscanf(s, "%d", &rate); err != nil {
		return 0, err
	}
	if rate <= 0 {
		return 0, fmt.Errorf("invalid rate %d", rate)
	}
	return rate, nil
}

// sniffAudioType guesses the container of an untyped payload.
func sniffAudioType(data []byte) string {
	switch {
	case audio.IsWAV(data):
		return "audio/wav"
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return "audio/ogg"
	case len(data) >= 3 && string(data[:3]) == "ID3",
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
