// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookDeliveriesTotal tracks inbound webhook deliveries by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Inbound webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	// DispatchTotal tracks inbound message dispatch outcomes by message type.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_total",
			Help: "Inbound message dispatch outcomes",
		},
		[]string{"type", "outcome"},
	)

	// GenerationDuration tracks reply generation duration.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_duration_seconds",
			Help:    "Reply generation duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// GenerationTokensTotal tracks tokens processed during generation.
	GenerationTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_tokens_total",
			Help: "Tokens processed during reply generation",
		},
		[]string{"model", "direction"},
	)

	// ToolExecutionsTotal tracks tool invocations inside the generation loop.
	ToolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_executions_total",
			Help: "Tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)

	// MessagesTotal tracks stored messages by direction.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Messages stored",
		},
		[]string{"tenant", "direction"},
	)

	// WindowTransitionsTotal tracks messaging-window state transitions.
	WindowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_window_transitions_total",
			Help: "Messaging window state transitions",
		},
		[]string{"to"},
	)

	// NotificationsTotal tracks notification consumer results by class.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_notifications_total",
			Help: "Tenant configuration notifications by result",
		},
		[]string{"result"},
	)

	// NotificationsInFlight tracks notification handlers currently running.
	NotificationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_notifications_in_flight",
			Help: "Notification handlers currently running",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordWebhook records one webhook delivery outcome.
func RecordWebhook(outcome string) {
	WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatch records one inbound dispatch outcome.
func RecordDispatch(messageType, outcome string) {
	DispatchTotal.WithLabelValues(messageType, outcome).Inc()
}

// RecordGeneration records metrics for one reply generation.
func RecordGeneration(model, status string, duration float64, tokensIn, tokensOut int) {
	GenerationDuration.WithLabelValues(model, status).Observe(duration)
	GenerationTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	GenerationTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordToolExecution records one tool invocation.
func RecordToolExecution(tool, status string) {
	ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// RecordMessage records one stored message.
func RecordMessage(tenant, direction string) {
	MessagesTotal.WithLabelValues(tenant, direction).Inc()
}

// RecordWindowTransition records one messaging-window transition.
func RecordWindowTransition(to string) {
	WindowTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordNotification records one notification consumer result.
func RecordNotification(result string) {
	NotificationsTotal.WithLabelValues(result).Inc()
}
