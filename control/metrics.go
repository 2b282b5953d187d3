// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus instrumentation for event loops, channels and buffer pools.
// A nil *Metrics is valid and records nothing.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/hioload-nio/api"
)

const namespace = "hioload"

// Metrics holds all Prometheus collectors.
type Metrics struct {
	reg prometheus.Registerer

	TasksExecuted    *prometheus.CounterVec
	PendingTasks     *prometheus.GaugeVec
	Channels         *prometheus.GaugeVec
	BytesRead        *prometheus.CounterVec
	BytesWritten     *prometheus.CounterVec
	Exceptions       *prometheus.CounterVec
	Accepted         *prometheus.CounterVec
	ConnectFailures  *prometheus.CounterVec
	TaskPanics       *prometheus.CounterVec
	ShutdownDuration prometheus.Histogram
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		TasksExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loop", Name: "tasks_executed_total",
			Help: "Tasks executed by the event loop.",
		}, []string{"loop"}),
		PendingTasks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "loop", Name: "pending_tasks",
			Help: "Tasks waiting in the loop queue at the end of the last iteration.",
		}, []string{"loop"}),
		Channels: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "loop", Name: "channels",
			Help: "Channels registered on the loop.",
		}, []string{"loop"}),
		BytesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "read_bytes_total",
			Help: "Bytes read from sockets.",
		}, []string{"loop"}),
		BytesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "written_bytes_total",
			Help: "Bytes written to sockets.",
		}, []string{"loop"}),
		Exceptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "exceptions_total",
			Help: "Exceptions fired through channel pipelines.",
		}, []string{"loop"}),
		Accepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "accepted_total",
			Help: "Connections accepted by listening channels.",
		}, []string{"loop"}),
		ConnectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "client", Name: "connect_failures_total",
			Help: "Outbound connects that failed or timed out.",
		}, []string{"loop"}),
		TaskPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loop", Name: "task_panics_total",
			Help: "Tasks or I/O callbacks that panicked.",
		}, []string{"loop"}),
		ShutdownDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "loop", Name: "shutdown_duration_seconds",
			Help:    "Time from shutdown request to loop termination.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

// RegisterBufferStats exposes pool counters read from stats at scrape time.
func (m *Metrics) RegisterBufferStats(stats func() api.BufferPoolStats) {
	if m == nil || m.reg == nil {
		return
	}
	factory := promauto.With(m.reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "buffer", Name: "allocated_total",
		Help: "Buffers handed out by pool allocators.",
	}, func() float64 { return float64(stats().TotalAlloc) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "buffer", Name: "released_total",
		Help: "Buffers whose reference count reached zero.",
	}, func() float64 { return float64(stats().TotalFree) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "buffer", Name: "reused_total",
		Help: "Allocations served from a free list.",
	}, func() float64 { return float64(stats().Reused) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "buffer", Name: "in_use",
		Help: "Buffers currently live.",
	}, func() float64 { return float64(stats().InUse) })
}

// LoopMetrics is a view of Metrics bound to one loop label.
type LoopMetrics struct {
	tasks           prometheus.Counter
	read            prometheus.Counter
	written         prometheus.Counter
	exceptions      prometheus.Counter
	accepted        prometheus.Counter
	connectFailures prometheus.Counter
	panics          prometheus.Counter
	pending         prometheus.Gauge
	channels        prometheus.Gauge
	shutdown        prometheus.Observer
}

// ForLoop binds the loop label. Returns nil if m is nil.
func (m *Metrics) ForLoop(loop string) *LoopMetrics {
	if m == nil {
		return nil
	}
	return &LoopMetrics{
		tasks:           m.TasksExecuted.WithLabelValues(loop),
		read:            m.BytesRead.WithLabelValues(loop),
		written:         m.BytesWritten.WithLabelValues(loop),
		exceptions:      m.Exceptions.WithLabelValues(loop),
		accepted:        m.Accepted.WithLabelValues(loop),
		connectFailures: m.ConnectFailures.WithLabelValues(loop),
		panics:          m.TaskPanics.WithLabelValues(loop),
		pending:         m.PendingTasks.WithLabelValues(loop),
		channels:        m.Channels.WithLabelValues(loop),
		shutdown:        m.ShutdownDuration,
	}
}

func (lm *LoopMetrics) TasksExecuted(n int) {
	if lm != nil && n > 0 {
		lm.tasks.Add(float64(n))
	}
}

func (lm *LoopMetrics) SetPending(n int) {
	if lm != nil {
		lm.pending.Set(float64(n))
	}
}

func (lm *LoopMetrics) ChannelAdded() {
	if lm != nil {
		lm.channels.Inc()
	}
}

func (lm *LoopMetrics) ChannelRemoved() {
	if lm != nil {
		lm.channels.Dec()
	}
}

func (lm *LoopMetrics) BytesRead(n int) {
	if lm != nil && n > 0 {
		lm.read.Add(float64(n))
	}
}

func (lm *LoopMetrics) BytesWritten(n int) {
	if lm != nil && n > 0 {
		lm.written.Add(float64(n))
	}
}

func (lm *LoopMetrics) Exception() {
	if lm != nil {
		lm.exceptions.Inc()
	}
}

func (lm *LoopMetrics) Accepted() {
	if lm != nil {
		lm.accepted.Inc()
	}
}

func (lm *LoopMetrics) ConnectFailed() {
	if lm != nil {
		lm.connectFailures.Inc()
	}
}

func (lm *LoopMetrics) Panic() {
	if lm != nil {
		lm.panics.Inc()
	}
}

func (lm *LoopMetrics) ShutdownTook(seconds float64) {
	if lm != nil {
		lm.shutdown.Observe(seconds)
	}
}
