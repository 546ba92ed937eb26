package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats is a point-in-time snapshot of scheduler health, advisory only.
type Stats struct {
	QueueDepth  int
	InFlight    int
	BusyWorkers int
	IdleWorkers int
	Completed   uint64
	Failures    uint64
	Restarts    uint64
	Stale       uint64
}

// metrics mirrors Stats onto a Prometheus registry. A nil registerer keeps
// the collectors unregistered, which is fine for tests.
type metrics struct {
	queueDepth  prometheus.Gauge
	busyWorkers prometheus.Gauge
	completed   prometheus.Counter
	failures    prometheus.Counter
	restarts    prometheus.Counter
	stale       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "terrain_scheduler_queue_depth",
			Help: "Pending chunk tasks waiting for dispatch.",
		}),
		busyWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "terrain_scheduler_busy_workers",
			Help: "Worker slots currently executing a task.",
		}),
		completed: f.NewCounter(prometheus.CounterOpts{
			Name: "terrain_scheduler_tasks_completed_total",
			Help: "Chunk tasks that finished successfully.",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Name: "terrain_scheduler_tasks_failed_total",
			Help: "Chunk tasks that returned an error or panicked.",
		}),
		restarts: f.NewCounter(prometheus.CounterOpts{
			Name: "terrain_scheduler_worker_restarts_total",
			Help: "Worker slots restarted after getting stuck or failing repeatedly.",
		}),
		stale: f.NewCounter(prometheus.CounterOpts{
			Name: "terrain_scheduler_stale_results_total",
			Help: "Results discarded because their worker identity was retired.",
		}),
	}
}
