package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_guard_active_sessions",
		Help: "Number of connected voice assistant surfaces",
	})

	recognitionStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_guard_recognition_starts_total",
		Help: "Manual starts of a recognition session",
	})

	recognitionRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_guard_recognition_restarts_total",
		Help: "Automatic recognition restarts by outcome",
	}, []string{"outcome"}) // outcome: scheduled, started, failed, exhausted

	recognitionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_guard_recognition_errors_total",
		Help: "Recognition engine errors by reason",
	}, []string{"reason"})

	inactivityStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_guard_inactivity_stops_total",
		Help: "Sessions stopped by the inactivity watchdog",
	})

	triggersDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_guard_triggers_total",
		Help: "Detected trigger phrases",
	}, []string{"phrase", "source", "kind"}) // source: voice|text, kind: exact|fuzzy

	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_guard_synthesis_requests_total",
		Help: "Speech output requests by path and status",
	}, []string{"path", "status"}) // path: remote|local

	synthesisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_guard_synthesis_latency_seconds",
		Help:    "Time from speak request to completion",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"path"})

	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_guard_chat_requests_total",
		Help: "Message-processing backend requests by status",
	}, []string{"status"})

	chatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_guard_chat_latency_seconds",
		Help:    "Message-processing backend latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	emergencyPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_guard_emergency_publishes_total",
		Help: "Emergency events handed to the alert publisher",
	}, []string{"status"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_guard_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// SessionOpened increments the active session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { activeSessions.Dec() }

// RecordRecognitionStart counts a manual recognition start.
func RecordRecognitionStart() { recognitionStarts.Inc() }

// RecordRestart counts a restart step.
func RecordRestart(outcome string) { recognitionRestarts.WithLabelValues(outcome).Inc() }

// RecordRecognitionError counts an engine error by reason.
func RecordRecognitionError(reason string) { recognitionErrors.WithLabelValues(reason).Inc() }

// RecordInactivityStop counts a watchdog stop.
func RecordInactivityStop() { inactivityStops.Inc() }

// RecordTrigger counts a detected trigger phrase.
func RecordTrigger(phrase, source string, fuzzy bool) {
	kind := "exact"
	if fuzzy {
		kind = "fuzzy"
	}
	triggersDetected.WithLabelValues(phrase, source, kind).Inc()
}

// RecordSynthesis records one speech output attempt on a path.
func RecordSynthesis(path string, success bool, elapsed time.Duration) {
	synthesisRequests.WithLabelValues(path, statusLabel(success)).Inc()
	synthesisLatency.WithLabelValues(path).Observe(elapsed.Seconds())
}

// RecordChat records one message-processing call.
func RecordChat(success bool, elapsed time.Duration) {
	chatRequests.WithLabelValues(statusLabel(success)).Inc()
	chatLatency.Observe(elapsed.Seconds())
}

// RecordEmergencyPublish records the outcome of handing an alert off.
func RecordEmergencyPublish(success bool) {
	emergencyPublishes.WithLabelValues(statusLabel(success)).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
