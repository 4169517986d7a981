package dispatch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report dispatcher activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	tasks       *prometheus.CounterVec
	taskLatency *prometheus.HistogramVec
	queueDepth  prometheus.Gauge
	busyWorkers prometheus.Gauge
	workers     prometheus.Gauge
}

// Task outcome label values.
const (
	statusSubmitted = "submitted"
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusDropped   = "dropped"
	statusRejected  = "rejected"
)

// MustNewMetrics constructs Metrics on reg, reusing collectors that are
// already registered. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xyz",
			Subsystem: "dispatcher",
			Name:      "tasks_total",
			Help:      "Tasks seen by the dispatcher, by outcome.",
		}, []string{"status"}),
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xyz",
			Subsystem: "dispatcher",
			Name:      "task_duration_seconds",
			Help:      "Time from dequeue to callback return.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xyz",
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Tasks waiting for a worker.",
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xyz",
			Subsystem: "dispatcher",
			Name:      "busy_workers",
			Help:      "Workers currently executing a task.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xyz",
			Subsystem: "dispatcher",
			Name:      "workers",
			Help:      "Worker goroutines in the pool.",
		}),
	}

	m.tasks = register(reg, m.tasks)
	m.taskLatency = register(reg, m.taskLatency)
	m.queueDepth = register(reg, m.queueDepth)
	m.busyWorkers = register(reg, m.busyWorkers)
	m.workers = register(reg, m.workers)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) incTask(status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status).Inc()
}

func (m *Metrics) addDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.tasks.WithLabelValues(statusDropped).Add(float64(n))
}

func (m *Metrics) observe(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status).Inc()
	m.taskLatency.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) addBusy(delta float64) {
	if m == nil {
		return
	}
	m.busyWorkers.Add(delta)
}

func (m *Metrics) setWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}
