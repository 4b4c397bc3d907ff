package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/safecircle/voice-guard/internal/alert"
	"github.com/safecircle/voice-guard/internal/chat"
	"github.com/safecircle/voice-guard/internal/config"
	"github.com/safecircle/voice-guard/internal/observability"
	"github.com/safecircle/voice-guard/internal/transport"
	"github.com/safecircle/voice-guard/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("recognition_engine", cfg.RecognitionEngine).
		Str("chat_url", cfg.ChatURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Guard service starting")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]observability.HealthCheckFunc)
	deps := transport.Deps{}

	synth := tts.NewClient(cfg)
	if synth.Enabled() {
		deps.Remote = synth
	} else {
		logger.Warn().Msg("SYNTHESIS_URL not set, speech uses the client's local synthesizer only")
	}

	if cfg.ChatURL != "" {
		client, err := chat.NewClient(cfg)
		if err != nil {
			return fmt.Errorf("failed to create chat client: %w", err)
		}
		defer client.Close()
		deps.Processor = client
		checks["chat"] = func(ctx context.Context) (bool, error) {
			if err := client.HealthCheck(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	} else {
		logger.Warn().Msg("CHAT_URL not set, using built-in replies")
	}

	if cfg.AlertMQTTBroker != "" {
		publisher := alert.NewMQTTPublisher(cfg)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := publisher.Connect(connectCtx); err != nil {
			// The client keeps retrying in the background.
			logger.Warn().Err(err).Str("broker", cfg.AlertMQTTBroker).Msg("MQTT broker not reachable yet")
		}
		cancel()
		defer publisher.Close()
		deps.Publisher = publisher
		checks["mqtt"] = func(ctx context.Context) (bool, error) {
			if err := publisher.HealthCheck(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	} else {
		logger.Warn().Msg("ALERT_MQTT_BROKER not set, emergencies are only reported to the client")
	}

	gateway := transport.NewGateway(cfg, deps)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(checks))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}
	r.Get("/voice/ws", gateway.ServeHTTP)

	// No read or write timeout: voice sockets are long lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		endpoint := cfg.PublicURL
		if endpoint == "" {
			endpoint = fmt.Sprintf("ws://localhost:%s", cfg.Port)
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint+"/voice/ws").
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		// Hijacked sockets are not tracked by the server. Drain them before
		// the publisher and chat client are closed.
		if err := gateway.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("voice connections not drained: %w", err)
		}
		return nil
	})

	return g.Wait()
}
