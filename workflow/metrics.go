package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects scheduler and dispatch metrics for production
// monitoring. All metrics are namespaced "agentflow_".
//
// Metrics:
//   - superstep_latency_ms (histogram): one drain-and-dispatch cycle,
//     labeled by workflow_id.
//   - superstep_deliveries (histogram): deliveries per superstep, labeled by
//     workflow_id.
//   - dispatches_total (counter): handler dispatches, labeled by
//     workflow_id and executor_id.
//   - executor_failures_total (counter): handler failures, labeled by
//     workflow_id and executor_id.
//   - pending_requests (gauge): outstanding external-input requests,
//     labeled by workflow_id.
//   - outputs_total (counter): workflow outputs yielded, labeled by
//     workflow_id.
//
// Expose with promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := workflow.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	superstepLatency    *prometheus.HistogramVec
	superstepDeliveries *prometheus.HistogramVec
	dispatches          *prometheus.CounterVec
	executorFailures    *prometheus.CounterVec
	pendingRequests     *prometheus.GaugeVec
	outputs             *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the metric set with registry.
// Use prometheus.DefaultRegisterer for the global registry.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(registry)
	return &PrometheusMetrics{
		superstepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "superstep_latency_ms",
			Help:      "Duration of one superstep (drain, route, dispatch) in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"workflow_id"}),
		superstepDeliveries: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "superstep_deliveries",
			Help:      "Number of handler deliveries per superstep.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"workflow_id"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "dispatches_total",
			Help:      "Handler dispatches by executor.",
		}, []string{"workflow_id", "executor_id"}),
		executorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "executor_failures_total",
			Help:      "Handler failures by executor.",
		}, []string{"workflow_id", "executor_id"}),
		pendingRequests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "pending_requests",
			Help:      "Outstanding external-input requests.",
		}, []string{"workflow_id"}),
		outputs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "outputs_total",
			Help:      "Workflow outputs yielded.",
		}, []string{"workflow_id"}),
	}
}

func (m *PrometheusMetrics) recordSuperstep(workflowID string, elapsed time.Duration, deliveries int) {
	m.superstepLatency.WithLabelValues(workflowID).Observe(float64(elapsed.Milliseconds()))
	m.superstepDeliveries.WithLabelValues(workflowID).Observe(float64(deliveries))
}

func (m *PrometheusMetrics) recordEvent(workflowID string, ev Event) {
	switch e := ev.(type) {
	case ExecutorInvokedEvent:
		m.dispatches.WithLabelValues(workflowID, e.ExecutorID).Inc()
	case ExecutorFailedEvent:
		m.executorFailures.WithLabelValues(workflowID, e.ExecutorID).Inc()
	case RequestInfoEvent:
		m.pendingRequests.WithLabelValues(workflowID).Inc()
	case WorkflowOutputEvent:
		m.outputs.WithLabelValues(workflowID).Inc()
	case WorkflowStatusEvent:
		if e.State == RunStateIdle {
			m.pendingRequests.WithLabelValues(workflowID).Set(0)
		}
	}
}
