package iotcore

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exposed for a Library: queue
// depth, request latency and count by action and result, and plugin
// pipeline latency are useful to any embedder running this agent unattended.
type Metrics struct {
	queueDepth      prometheus.Gauge
	requestLatency  *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	pipelineLatency *prometheus.HistogramVec
	registry        *prometheus.Registry
	server          *http.Server
}

// NewMetrics creates and registers the collector set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iotcore_request_queue_depth",
			Help: "Requests currently queued awaiting dispatch.",
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iotcore_request_latency_seconds",
			Help:    "Action dispatch latency by action name and result.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"action", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iotcore_requests_total",
			Help: "Total dispatched requests by action name and result.",
		}, []string{"action", "status"}),
		pipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iotcore_pipeline_latency_seconds",
			Help:    "Plugin pipeline traversal latency by operation.",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"operation"}),
		registry: reg,
	}
	reg.MustRegister(m.queueDepth, m.requestLatency, m.requestTotal, m.pipelineLatency)
	return m
}

// ObserveRequest records one completed dispatch.
func (m *Metrics) ObserveRequest(action string, status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(action, status.Error()).Observe(elapsed.Seconds())
	m.requestTotal.WithLabelValues(action, status.Error()).Inc()
}

// ObservePipeline records one Perform traversal's wall time.
func (m *Metrics) ObservePipeline(op Operation, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pipelineLatency.WithLabelValues(operationName(op)).Observe(elapsed.Seconds())
}

// SetQueueDepth reports the dispatcher's current queue occupancy.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Serve starts an HTTP server exposing /metrics on addr.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return withMessage(IOError, "starting metrics listener on %q: %v", addr, err)
	}
	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go m.server.Serve(ln)
	return nil
}

// Shutdown stops the metrics HTTP server, if running.
func (m *Metrics) Shutdown() {
	if m == nil || m.server == nil {
		return
	}
	_ = m.server.Close()
}

func operationName(op Operation) string {
	switch op {
	case OpActionRegister:
		return "action_register"
	case OpActionDeregister:
		return "action_deregister"
	case OpActionComplete:
		return "action_complete"
	case OpTelemetryRegister:
		return "telemetry_register"
	case OpTelemetryDeregister:
		return "telemetry_deregister"
	case OpTelemetryPublish:
		return "telemetry_publish"
	case OpAlarmRegister:
		return "alarm_register"
	case OpAlarmDeregister:
		return "alarm_deregister"
	case OpAlarmPublish:
		return "alarm_publish"
	case OpEventPublish:
		return "event_publish"
	case OpAttributePublish:
		return "attribute_publish"
	case OpFileUpload:
		return "file_upload"
	case OpFileDownload:
		return "file_download"
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}
