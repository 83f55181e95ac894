package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	WSWriteErrors    *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	LLMFallbacks     *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	AgentIterations  prometheus.Histogram
	TurnLatency      *prometheus.HistogramVec

	window *latencyWindow
}

type metricsOptions struct {
	windowSize   int
	stageTargets map[string]time.Duration
}

type Option func(*metricsOptions)

// WithLatencyWindow sets how many recent samples per stage the perf
// snapshot covers.
func WithLatencyWindow(size int) Option {
	return func(o *metricsOptions) { o.windowSize = size }
}

// WithStageTargets overrides p95 targets per stage on top of
// DefaultStageTargets.
func WithStageTargets(targets map[string]time.Duration) Option {
	return func(o *metricsOptions) { o.stageTargets = targets }
}

func NewMetrics(namespace string, opts ...Option) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace, opts...)
}

// NewMetricsWith registers instruments on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string, opts ...Option) *Metrics {
	var o metricsOptions
	for _, opt := range opts {
		opt(&o)
	}
	f := promauto.With(reg)
	return &Metrics{
		window: newLatencyWindow(o.windowSize, o.stageTargets),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live voice websocket sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by stage.",
		}, []string{"stage"}),
		OutboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound queue results by message type.",
		}, []string{"type", "result"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		LLMFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_fallbacks_total",
			Help:      "LLM calls served by the fallback provider.",
		}, []string{"primary"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Domain tool executions by tool and status.",
		}, []string{"tool", "status"}),
		AgentIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_iterations",
			Help:      "LLM calls needed to resolve one turn.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		TurnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Turn stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		}, []string{"stage"}),
	}
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

// ObserveTurnStage feeds both the histogram and the rolling window served on /api/voice/perf/latency.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	m.TurnLatency.WithLabelValues(stage).Observe(float64(d.Microseconds()) / 1000)
	m.window.add(stage, d)
}

func (m *Metrics) ObserveIndicator(name string) {
	m.window.count(name)
}

func (m *Metrics) SnapshotTurnStages() StageSnapshot {
	return m.window.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
