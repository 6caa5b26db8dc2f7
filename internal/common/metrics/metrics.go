// Package metrics holds the prometheus collectors shared by the pipeline services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "judgeflow"

var (
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Messages written to the bus by topic and result.",
	}, []string{"topic", "result"})

	BusConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "consumed_total",
		Help:      "Messages consumed by topic and delivery outcome.",
	}, []string{"topic", "outcome"})

	BusRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "retries_total",
		Help:      "Handler retries by topic.",
	}, []string{"topic"})

	BusDuplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "duplicates_total",
		Help:      "Deliveries skipped by the dedup marker.",
	}, []string{"topic"})

	BusHandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "handle_duration_seconds",
		Help:      "Time spent delivering one message, retries included.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"topic"})

	JudgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "judge",
		Name:      "calls_total",
		Help:      "Judge gateway calls by result.",
	}, []string{"result"})

	JudgeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "judge",
		Name:      "call_duration_seconds",
		Help:      "Judge gateway call latency, retries included.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "solution",
		Name:      "verdicts_total",
		Help:      "Terminal verdicts by status and source.",
	}, []string{"status", "source"})

	StaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "solution",
		Name:      "stale_results_total",
		Help:      "Results ignored because the submission was no longer pending.",
	})

	ReaperSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "sweeps_total",
		Help:      "Reaper sweeps by result.",
	}, []string{"result"})

	ConfidenceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "progress",
		Name:      "confidence_updates_total",
		Help:      "Confidence updates by verdict kind.",
	}, []string{"kind"})
)
