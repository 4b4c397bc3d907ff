// Package alert hands detected emergencies to the notification fan-out.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/safecircle/voice-guard/internal/config"
	"github.com/safecircle/voice-guard/internal/observability"
)

// Sources of an emergency.
const (
	SourceVoice = "voice"
	SourceText  = "text"
)

// Emergency describes one detected trigger occurrence.
type Emergency struct {
	SessionID  string    `json:"session_id"`
	Phrase     string    `json:"phrase"`
	Fuzzy      bool      `json:"fuzzy"`
	Source     string    `json:"source"`
	Transcript string    `json:"transcript"`
	DetectedAt time.Time `json:"detected_at"`
}

// Publisher delivers emergencies to whatever notifies emergency contacts.
type Publisher interface {
	PublishEmergency(ctx context.Context, e Emergency) error
	Close()
}

// NopPublisher drops emergencies; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishEmergency(context.Context, Emergency) error { return nil }
func (NopPublisher) Close()                                             {}

// TopicEmergency is the topic emergencies of one session are published on.
func TopicEmergency(prefix, sessionID string) string {
	return fmt.Sprintf("%s/emergency/%s", prefix, sessionID)
}

// MQTTPublisher publishes emergencies as JSON over MQTT with QoS 1.
type MQTTPublisher struct {
	client paho.Client
	prefix string
	logger zerolog.Logger
}

// NewMQTTPublisher creates a publisher for the configured broker. Call
// Connect before publishing.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	logger := observability.Component("alert")

	opts := paho.NewClientOptions().
		AddBroker(cfg.AlertMQTTBroker).
		SetClientID(cfg.AlertMQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if cfg.AlertMQTTUsername != "" {
		opts.SetUsername(cfg.AlertMQTTUsername)
		opts.SetPassword(cfg.AlertMQTTPassword)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error().Err(err).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info().Str("broker", cfg.AlertMQTTBroker).Msg("MQTT connected")
	})

	return newMQTTPublisher(paho.NewClient(opts), cfg.AlertMQTTTopicPrefix, logger)
}

func newMQTTPublisher(client paho.Client, prefix string, logger zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, logger: logger}
}

// Connect connects to the broker. With connect retry enabled the token
// completes once the first attempt has been made; later attempts continue
// in the background.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	return wait(ctx, p.client.Connect())
}

// PublishEmergency publishes e and waits for the broker acknowledgement.
func (p *MQTTPublisher) PublishEmergency(ctx context.Context, e Emergency) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal emergency: %w", err)
	}

	topic := TopicEmergency(p.prefix, e.SessionID)
	err = wait(ctx, p.client.Publish(topic, 1, false, body))
	observability.RecordEmergencyPublish(err == nil)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish emergency")
		return fmt.Errorf("failed to publish emergency: %w", err)
	}

	p.logger.Info().Str("topic", topic).Str("phrase", e.Phrase).Msg("Emergency published")
	return nil
}

// IsConnected reports whether the client is connected to the broker.
func (p *MQTTPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// HealthCheck fails while the broker connection is down.
func (p *MQTTPublisher) HealthCheck(context.Context) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt broker not connected")
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
