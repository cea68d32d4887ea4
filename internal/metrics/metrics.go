// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uniattend_sessions_opened_total",
		Help: "Attendance sessions created.",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniattend_sessions_closed_total",
		Help: "Attendance sessions closed, by reason.",
	}, []string{"reason"})

	AttendanceMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniattend_attendance_marked_total",
		Help: "Attendance records written, by source (self or override).",
	}, []string{"source"})

	DuplicateMarks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uniattend_attendance_duplicates_total",
		Help: "Mark attempts rejected as already recorded.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uniattend_sweep_duration_seconds",
		Help:    "Duration of expiry sweeps.",
		Buckets: prometheus.DefBuckets,
	})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniattend_broadcasts_total",
		Help: "Realtime events published, by event and result.",
	}, []string{"event", "result"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uniattend_ws_connections",
		Help: "Open websocket connections.",
	})

	RosterRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniattend_roster_rows_total",
		Help: "Roster upload rows, by outcome.",
	}, []string{"outcome"})
)

// Close reasons used as label values.
const (
	ReasonRep     = "rep"
	ReasonAdmin   = "admin"
	ReasonExpired = "expired"
)
