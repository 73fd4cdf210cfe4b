package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every aefi collector and is what /metrics serves.
var Registry = prometheus.NewRegistry()

var (
	// QueueDepth is the number of commands waiting per channel.
	// channel: priority/normal
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aefi_queue_depth",
			Help: "Commands waiting in each motion channel.",
		},
		[]string{"channel"},
	)

	// CommandsTotal counts executed commands.
	// result: ok/failed/refused
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aefi_commands_total",
			Help: "Motion commands executed by the worker, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// CommandDuration observes wall time spent on the hardware link per command.
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aefi_command_duration_seconds",
			Help:    "Time spent executing a motion command.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	// SubmissionsRejected counts synchronous refusals.
	// reason: gate_locked, stopped, busy, closed, invalid_config, foreign_segment or malformed
	SubmissionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aefi_submissions_rejected_total",
			Help: "Submissions refused at the API boundary.",
		},
		[]string{"reason"},
	)

	CommandsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aefi_commands_purged_total",
			Help: "Queued commands dropped by a batch start or a stop.",
		},
	)

	ScanPoints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aefi_scan_points_total",
			Help: "Grid points completed across all scans.",
		},
	)

	// ScansTotal counts finished scans.
	// outcome: completed/cancelled/failed/refused
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aefi_scans_total",
			Help: "Scans by outcome.",
		},
		[]string{"outcome"},
	)

	// WorkerState is 0 idle, 1 moving, 2 scanning, 3 stopped.
	WorkerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aefi_worker_state",
			Help: "Current motion worker state (0=idle, 1=moving, 2=scanning, 3=stopped).",
		},
	)

	// PositionPolls counts background position reads.
	// result: ok/error
	PositionPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aefi_position_polls_total",
			Help: "Background position reads by result.",
		},
		[]string{"result"},
	)

	// EventsDropped counts events a bridge could not deliver.
	// sink: mqtt/archive
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aefi_events_dropped_total",
			Help: "Events a downstream bridge failed to deliver.",
		},
		[]string{"sink"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		QueueDepth,
		CommandsTotal,
		CommandDuration,
		SubmissionsRejected,
		CommandsPurged,
		ScanPoints,
		ScansTotal,
		WorkerState,
		PositionPolls,
		EventsDropped,
	)
}
