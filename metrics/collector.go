// Package metrics accumulates pipeline and relay counters.
//
// The Collector keeps mutex-guarded totals for snapshots and mirrors every
// observation into its own Prometheus registry, served by Handler. All
// methods are nil-receiver safe so components can run without metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome values recorded per frame.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
)

// Pipeline stages timed per frame.
const (
	StageInference = "local_inference"
	StageOCR       = "ocr"
	StageTTS       = "tts"
	StageTotal     = "total"
)

// Snapshot is an immutable point-in-time view of the counters.
type Snapshot struct {
	FramesProcessed int64
	FramesExcluded  int64
	Outcomes        map[string]int64
	StatusEvents    map[string]int64

	OrdersSent int64

	DiagnosticUploads  int64
	DiagnosticSkipped  int64
	DiagnosticFailures int64

	Relayed          int64
	RelayFailures    int64
	FeedbackReceived int64

	// Dimensions
	Component string
	DeviceID  string
	StoreID   string
}

// Collector accumulates metrics for one process.
type Collector struct {
	mu sync.Mutex

	framesProcessed int64
	framesExcluded  int64
	outcomes        map[string]int64
	statusEvents    map[string]int64

	ordersSent int64

	diagnosticUploads  int64
	diagnosticSkipped  int64
	diagnosticFailures int64

	relayed          int64
	relayFailures    int64
	feedbackReceived int64

	component string
	deviceID  string
	storeID   string

	registry *prometheus.Registry
	prom     promMetrics
}

type promMetrics struct {
	frames       *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	statusEvents *prometheus.CounterVec
	orders       prometheus.Counter
	diagnostics  *prometheus.CounterVec
	relays       *prometheus.CounterVec
	feedback     prometheus.Counter
	stages       *prometheus.HistogramVec
}

// NewCollector creates a Collector labelled with the given dimensions.
func NewCollector(component, deviceID, storeID string) *Collector {
	labels := prometheus.Labels{"component": component, "device_id": deviceID, "store_id": storeID}
	c := &Collector{
		outcomes:     make(map[string]int64),
		statusEvents: make(map[string]int64),
		component:    component,
		deviceID:     deviceID,
		storeID:      storeID,
		registry:     prometheus.NewRegistry(),
		prom: promMetrics{
			frames: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "labelreader_frames_total", Help: "Frames taken from the mailbox.", ConstLabels: labels,
			}, []string{"disposition"}),
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "labelreader_outcomes_total", Help: "Frame outcomes by type.", ConstLabels: labels,
			}, []string{"outcome"}),
			statusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "labelreader_status_events_total", Help: "Status events emitted by error sub-type.", ConstLabels: labels,
			}, []string{"code"}),
			orders: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "labelreader_orders_sent_total", Help: "Order notifications sent.", ConstLabels: labels,
			}),
			diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "labelreader_diagnostic_uploads_total", Help: "Diagnostic frame uploads by result.", ConstLabels: labels,
			}, []string{"result"}),
			relays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "labelreader_relay_total", Help: "Hub relays by topic and result.", ConstLabels: labels,
			}, []string{"topic", "result"}),
			feedback: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "labelreader_feedback_total", Help: "User feedback messages received.", ConstLabels: labels,
			}),
			stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:        "labelreader_stage_seconds",
				Help:        "Per-frame stage latency.",
				ConstLabels: labels,
				Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}, []string{"stage"}),
		},
	}
	c.registry.MustRegister(
		c.prom.frames, c.prom.outcomes, c.prom.statusEvents, c.prom.orders,
		c.prom.diagnostics, c.prom.relays, c.prom.feedback, c.prom.stages,
	)
	return c
}

// Handler serves the Prometheus exposition for this collector.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// --- Pipeline ---

// IncFrame records a frame whose metrics are logged.
func (c *Collector) IncFrame() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesProcessed++
	c.mu.Unlock()
	c.prom.frames.WithLabelValues("logged").Inc()
}

// IncExcluded records a frame excluded from metrics logging (no cup in
// view, or a detector failure).
func (c *Collector) IncExcluded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesExcluded++
	c.mu.Unlock()
	c.prom.frames.WithLabelValues("excluded").Inc()
}

// IncOutcome records a frame outcome.
func (c *Collector) IncOutcome(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.outcomes[outcome]++
	c.mu.Unlock()
	c.prom.outcomes.WithLabelValues(outcome).Inc()
}

// IncStatusEvent records an emitted status event.
func (c *Collector) IncStatusEvent(code string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.statusEvents[code]++
	c.mu.Unlock()
	c.prom.statusEvents.WithLabelValues(code).Inc()
}

// IncOrderSent records a delivered order notification.
func (c *Collector) IncOrderSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ordersSent++
	c.mu.Unlock()
	c.prom.orders.Inc()
}

// ObserveStage records a stage duration.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.prom.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// --- Diagnostics ---

// IncDiagnosticUpload records an uploaded diagnostic frame.
func (c *Collector) IncDiagnosticUpload() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.diagnosticUploads++
	c.mu.Unlock()
	c.prom.diagnostics.WithLabelValues("uploaded").Inc()
}

// IncDiagnosticSkipped records an upload suppressed by the sampler.
func (c *Collector) IncDiagnosticSkipped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.diagnosticSkipped++
	c.mu.Unlock()
	c.prom.diagnostics.WithLabelValues("skipped").Inc()
}

// IncDiagnosticFailure records a failed diagnostic upload.
func (c *Collector) IncDiagnosticFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.diagnosticFailures++
	c.mu.Unlock()
	c.prom.diagnostics.WithLabelValues("failed").Inc()
}

// --- Hub ---

// IncRelayed records a relay that reached every recipient.
func (c *Collector) IncRelayed(topic string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.relayed++
	c.mu.Unlock()
	c.prom.relays.WithLabelValues(topic, "ok").Inc()
}

// IncRelayFailure records a relay that failed for at least one recipient.
func (c *Collector) IncRelayFailure(topic string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.relayFailures++
	c.mu.Unlock()
	c.prom.relays.WithLabelValues(topic, "failed").Inc()
}

// IncFeedback records a received feedback message.
func (c *Collector) IncFeedback() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.feedbackReceived++
	c.mu.Unlock()
	c.prom.feedback.Inc()
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Outcomes: map[string]int64{}, StatusEvents: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make(map[string]int64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}
	statusEvents := make(map[string]int64, len(c.statusEvents))
	for k, v := range c.statusEvents {
		statusEvents[k] = v
	}

	return Snapshot{
		FramesProcessed:    c.framesProcessed,
		FramesExcluded:     c.framesExcluded,
		Outcomes:           outcomes,
		StatusEvents:       statusEvents,
		OrdersSent:         c.ordersSent,
		DiagnosticUploads:  c.diagnosticUploads,
		DiagnosticSkipped:  c.diagnosticSkipped,
		DiagnosticFailures: c.diagnosticFailures,
		Relayed:            c.relayed,
		RelayFailures:      c.relayFailures,
		FeedbackReceived:   c.feedbackReceived,
		Component:          c.component,
		DeviceID:           c.deviceID,
		StoreID:            c.storeID,
	}
}
