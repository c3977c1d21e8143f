package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/facturabot/facturabot/internal/engine"
	"github.com/facturabot/facturabot/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_messages_total",
			Help: "Total number of webhook messages received labeled by outcome",
		},
		[]string{"outcome"},
	)
	invoicesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoices_total",
			Help: "Total number of invoice submissions labeled by status",
		},
		[]string{"status"},
	)
	stepTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "step_transitions_total",
			Help: "Total number of conversation step transitions",
		},
		[]string{"from", "to"},
	)
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of upstream API requests labeled by service, operation and result",
		},
		[]string{"service", "operation", "result"},
	)
	upstreamDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of upstream API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Current number of open conversation sessions",
		},
	)
	sessionsByStep = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessions_by_step",
			Help: "Number of open sessions per script step",
		},
		[]string{"step"},
	)
)

func init() {
	engine.RegisterStepRecorder(RecordStepTransition)
}

// RecordMessage counts an inbound webhook message by its processing outcome.
func RecordMessage(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}

	webhookMessagesTotal.WithLabelValues(outcome).Inc()
}

// RecordInvoice counts an invoice submission attempt by status.
func RecordInvoice(status string) {
	if status == "" {
		status = "unknown"
	}

	invoicesTotal.WithLabelValues(status).Inc()
}

// RecordStepTransition tracks conversation cursor movements.
func RecordStepTransition(from, to int) {
	stepTransitionsTotal.WithLabelValues(strconv.Itoa(from), strconv.Itoa(to)).Inc()
}

// ObserveUpstreamRequest records the duration and result of a call to an
// external API such as the messaging or billing provider.
func ObserveUpstreamRequest(service, operation string, duration time.Duration, success bool) {
	if service == "" {
		service = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}

	result := "ok"
	if !success {
		result = "error"
	}

	upstreamRequestsTotal.WithLabelValues(service, operation, result).Inc()
	upstreamDurationSeconds.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetActiveSessions updates the gauge for currently open sessions.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// SessionCollector periodically gathers session counts and emits gauge metrics.
type SessionCollector struct {
	store session.Store
}

// NewSessionCollector builds a metrics collector bound to the provided store.
func NewSessionCollector(store session.Store) *SessionCollector {
	return &SessionCollector{store: store}
}

// Run polls the store every 10 seconds, updating session gauges until ctx is cancelled.
func (c *SessionCollector) Run(ctx context.Context) {
	if c == nil || c.store == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		_ = c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func (c *SessionCollector) collect(ctx context.Context) error {
	sessions, err := c.store.All(ctx)
	if err != nil {
		return err
	}

	SetActiveSessions(len(sessions))

	stepCounts := make(map[int]int, len(sessions))
	for _, s := range sessions {
		if s == nil {
			continue
		}
		stepCounts[s.Step]++
	}

	sessionsByStep.Reset()

	for step, count := range stepCounts {
		sessionsByStep.WithLabelValues(strconv.Itoa(step)).Set(float64(count))
	}

	return nil
}
