package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery kinds.
const (
	KindText = "text"
	KindFile = "file"
)

// Drop reasons.
const (
	DropOverflow = "overflow"
	DropClosed   = "closed"
	DropShutdown = "shutdown"
	DropRate     = "rate"
)

var (
	Enqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tglogsink_enqueued_total",
			Help: "Total number of log messages accepted into the delivery queue",
		},
	)

	Dropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tglogsink_dropped_total",
			Help: "Total number of log messages dropped before delivery",
		},
		[]string{"reason"}, // overflow, closed, shutdown, rate
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tglogsink_queue_depth",
			Help: "Number of log messages waiting for delivery",
		},
	)

	Sent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tglogsink_sent_total",
			Help: "Total number of log messages delivered",
		},
		[]string{"kind"}, // text, file
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tglogsink_send_failures_total",
			Help: "Total number of failed delivery attempts",
		},
		[]string{"kind"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tglogsink_send_duration_seconds",
			Help:    "Duration of delivery attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)
