package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Pollers ─────────────────────────────────────────────────────────────────

	PollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollsync",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Completed fetch cycles, labelled by poller and outcome.",
	}, []string{"poller", "result"})

	PollFetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pollsync",
		Subsystem: "poller",
		Name:      "fetch_duration_seconds",
		Help:      "Wall time of one remote fetch.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"poller"})

	LogPollersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pollsync",
		Subsystem: "poller",
		Name:      "log_pollers_active",
		Help:      "Log pollers currently tailing a run.",
	})

	// ─── Snapshot / reconciliation ───────────────────────────────────────────────

	SnapshotVersionChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pollsync",
		Subsystem: "snapshot",
		Name:      "version_changes_total",
		Help:      "Snapshot fetches whose state version advanced.",
	})

	QueueEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pollsync",
		Subsystem: "queue",
		Name:      "entries",
		Help:      "Entries in the last snapshot, labelled by bucket.",
	}, []string{"bucket"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollsync",
		Subsystem: "reconcile",
		Name:      "transitions_total",
		Help:      "Derived lifecycle transitions, labelled by kind.",
	}, []string{"kind"})

	// ─── Log tailing ─────────────────────────────────────────────────────────────

	LogLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pollsync",
		Subsystem: "log",
		Name:      "lines_total",
		Help:      "Log lines delivered to subscribers.",
	})

	RunsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollsync",
		Subsystem: "log",
		Name:      "runs_completed_total",
		Help:      "Runs whose logs were fully drained, labelled by terminal status.",
	}, []string{"status"})

	// ─── Service status / sinks ──────────────────────────────────────────────────

	ServiceStatusNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollsync",
		Subsystem: "notify",
		Name:      "service_status_total",
		Help:      "Delivered service-status notifications, labelled by direction.",
	}, []string{"direction"})

	SinkPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollsync",
		Subsystem: "sink",
		Name:      "publish_total",
		Help:      "Transition events handed to optional sinks, labelled by sink and outcome.",
	}, []string{"sink", "result"})
)
