// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics
var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameOperationsTotal,
			Help: HelpTextOperationsTotal,
		},
		[]string{LabelOutcome},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameQueueDepth,
			Help: HelpTextQueueDepth,
		},
	)

	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameDrainDuration,
			Help:    HelpTextDrainDuration,
			Buckets: DrainLatencyBuckets,
		},
	)

	DrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameDrainsTotal,
			Help: HelpTextDrainsTotal,
		},
		[]string{LabelResult},
	)

	ConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameConflictsTotal,
			Help: HelpTextConflictsTotal,
		},
	)

	LedgerBumpsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameLedgerBumpsTotal,
			Help: HelpTextLedgerBumpsTotal,
		},
	)
)

// Cache metrics
var (
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameCacheLookupTotal,
			Help: HelpTextCacheLookupTotal,
		},
		[]string{LabelLayer, LabelResult},
	)
)

// Transport metrics
var (
	TransportLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameTransportLatency,
			Help:    HelpTextTransportLatency,
			Buckets: TransportLatencyBuckets,
		},
		[]string{LabelMethod, LabelStatus},
	)
)
