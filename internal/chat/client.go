// Package chat forwards user messages to the chat backend and returns its
// replies.
package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/safecircle/voice-guard/internal/config"
	"github.com/safecircle/voice-guard/internal/observability"
	"github.com/safecircle/voice-guard/internal/resilience"
)

const (
	// ServiceName is the fully qualified chat service name.
	ServiceName = "safecircle.chat.v1.ChatService"
	// SendMessageMethod is the unary method that returns one reply per message.
	SendMessageMethod = "/" + ServiceName + "/SendMessage"
)

// ErrEmptyReply is returned when the backend answered without reply text.
var ErrEmptyReply = errors.New("chat backend returned an empty reply")

// Processor turns a user message into a textual reply.
type Processor interface {
	Reply(ctx context.Context, sessionID, text string) (string, error)
}

// Client manages the gRPC connection to the chat backend
type Client struct {
	target         string
	timeout        time.Duration
	conn           *grpc.ClientConn
	health         healthpb.HealthClient
	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Processor = (*Client)(nil)

// NewClient creates a chat client. The connection is established lazily on
// the first call.
func NewClient(cfg *config.Config, extra ...grpc.DialOption) (*Client, error) {
	var opts []grpc.DialOption

	if cfg.ChatTLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.ChatURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client for %s: %w", cfg.ChatURL, err)
	}

	c := &Client{
		target:  cfg.ChatURL,
		timeout: time.Duration(cfg.ChatTimeout) * time.Second,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		circuitBreaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:         "chat",
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
			OnStateChange: func(name string, _, to resilience.CircuitState) {
				observability.UpdateCircuitBreakerState(name, int(to))
			},
		}),
		logger: observability.Component("chat"),
	}

	c.logger.Info().Str("target", cfg.ChatURL).Bool("tls", cfg.ChatTLSEnabled).Msg("Chat client configured")
	return c, nil
}

// Reply sends text to the chat backend and returns its reply
func (c *Client) Reply(ctx context.Context, sessionID, text string) (string, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("chat client is closed")
	}

	req, err := structpb.NewStruct(map[string]any{
		"session_id": sessionID,
		"message":    text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}

	ctx, span := observability.StartSpan(ctx, "chat.reply")
	start := time.Now()

	var reply string
	err = c.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			resp := &structpb.Struct{}
			if err := c.conn.Invoke(callCtx, SendMessageMethod, req, resp); err != nil {
				return err
			}

			reply = strings.TrimSpace(resp.GetFields()["reply"].GetStringValue())
			if reply == "" {
				return ErrEmptyReply
			}
			return nil
		}, c.retryConfig, isRetryableError)
	})

	observability.RecordChat(err == nil, time.Since(start))
	observability.EndSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("failed to call SendMessage: %w", err)
	}
	return reply, nil
}

// HealthCheck checks if the chat backend is serving
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("chat backend status %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// isRetryableError checks if an error is retryable
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.Unimplemented:
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}
