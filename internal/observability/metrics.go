package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	checkpointDuration *prometheus.HistogramVec
	checkpointErrors   *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	llmCallTotal     *prometheus.CounterVec
	llmCallDuration  *prometheus.HistogramVec
	llmFallbackTotal *prometheus.CounterVec

	turnTotal        *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	routingDecisions *prometheus.CounterVec
	activeTurns      prometheus.Gauge
	filteredTotal    prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "menubot_queue_size",
					Help: "Current queue size by lane kind.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_enqueue_total",
					Help: "Total enqueue operations by lane kind.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_dequeue_total",
					Help: "Total task completions by lane kind and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "menubot_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane kind.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			checkpointDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "menubot_checkpoint_duration_seconds",
					Help:    "Checkpoint store operation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"driver", "op"},
			),
			checkpointErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_checkpoint_errors_total",
					Help: "Total failed checkpoint store operations.",
				},
				[]string{"driver", "op"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_tool_executions_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "menubot_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_tool_errors_total",
					Help: "Total tool errors by tool.",
				},
				[]string{"tool"},
			),
			llmCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_llm_calls_total",
					Help: "Total language model calls by provider, model and status.",
				},
				[]string{"provider", "model", "status"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "menubot_llm_call_duration_seconds",
					Help:    "Language model call duration in seconds.",
					Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
				},
				[]string{"provider", "model"},
			),
			llmFallbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_llm_fallback_total",
					Help: "Total switches to the fallback model.",
				},
				[]string{"from", "to"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_turns_total",
					Help: "Total conversation turns by node and status.",
				},
				[]string{"node", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "menubot_turn_duration_seconds",
					Help:    "Conversation turn duration in seconds.",
					Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64, 128},
				},
				[]string{"node"},
			),
			routingDecisions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "menubot_routing_decisions_total",
					Help: "Total orchestrator routing decisions by node and reason.",
				},
				[]string{"node", "reason"},
			),
			activeTurns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "menubot_active_turns",
					Help: "Turns currently executing.",
				},
			),
			filteredTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "menubot_filtered_messages_total",
					Help: "Inbound messages rejected by the content filter.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.checkpointDuration,
			m.checkpointErrors,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.llmCallTotal,
			m.llmCallDuration,
			m.llmFallbackTotal,
			m.turnTotal,
			m.turnDuration,
			m.routingDecisions,
			m.activeTurns,
			m.filteredTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// laneKind keeps per-session lanes from exploding label cardinality.
func laneKind(lane string) string {
	if i := strings.Index(lane, "-"); i > 0 {
		return lane[:i]
	}
	return lane
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(laneKind(lane)).Inc()
	m.queueSize.WithLabelValues(laneKind(lane)).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(laneKind(lane)).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	kind := laneKind(lane)
	m.dequeueTotal.WithLabelValues(kind, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(kind).Set(float64(queueSize))
}

func RecordCheckpoint(driver, op string, duration time.Duration, err error) {
	m := getMetrics()
	m.checkpointDuration.WithLabelValues(driver, op).Observe(duration.Seconds())
	if err != nil {
		m.checkpointErrors.WithLabelValues(driver, op).Inc()
	}
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordLLMCall(provider, model string, duration time.Duration, success bool) {
	m := getMetrics()
	m.llmCallTotal.WithLabelValues(provider, model, statusLabel(success)).Inc()
	m.llmCallDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func RecordLLMFallback(from, to string) {
	getMetrics().llmFallbackTotal.WithLabelValues(from, to).Inc()
}

func RecordTurn(node string, duration time.Duration, success bool) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(node, statusLabel(success)).Inc()
	m.turnDuration.WithLabelValues(node).Observe(duration.Seconds())
}

func RecordRoutingDecision(node, reason string) {
	getMetrics().routingDecisions.WithLabelValues(node, reason).Inc()
}

func AddActiveTurns(delta int) {
	getMetrics().activeTurns.Add(float64(delta))
}

func RecordFilteredMessage() {
	getMetrics().filteredTotal.Inc()
}
