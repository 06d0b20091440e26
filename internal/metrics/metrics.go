package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BirdQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdingester_bird_queries_total",
			Help: "Control socket queries by command and result.",
		},
		[]string{"command", "result"},
	)

	BirdQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdingester_bird_query_duration_seconds",
			Help:    "Control socket round-trip latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"command"},
	)

	BirdReplyBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdingester_bird_reply_bytes",
			Help:    "Size of control socket replies.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"command"},
	)

	DecodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdingester_decode_duration_seconds",
			Help:    "Time spent decoding a reply.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"kind"},
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdingester_db_write_duration_seconds",
			Help:    "DB write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"pipeline", "op"},
	)

	DBRowsAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdingester_db_rows_affected_total",
			Help: "DB rows written or deleted.",
		},
		[]string{"pipeline", "table", "op"},
	)

	HistoryDedupConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdingester_history_dedup_conflicts_total",
			Help: "History dedup hits (ON CONFLICT DO NOTHING skips).",
		},
		[]string{"table_name"},
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdingester_parse_errors_total",
			Help: "Decode failures by stage.",
		},
		[]string{"stage", "reason"},
	)

	RoutesCurrent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "birdingester_routes",
			Help: "Route sources in the last snapshot of a table.",
		},
		[]string{"router_id", "table_name", "afi"},
	)

	RouteEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdingester_route_events_total",
			Help: "Route change events derived from snapshots.",
		},
		[]string{"table_name", "action"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdingester_events_published_total",
			Help: "Route change events produced to Kafka.",
		},
		[]string{"topic", "result"},
	)

	LastPollTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "birdingester_last_poll_timestamp_seconds",
			Help: "Unix timestamp of the last successful table snapshot.",
		},
		[]string{"router_id", "table_name"},
	)

	BatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdingester_batch_size",
			Help:    "Batch sizes flushed to DB.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000, 5000},
		},
		[]string{"pipeline"},
	)

	RoutesPurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdingester_routes_purged_total",
			Help: "Routes purged (snapshot_stale, table_gone).",
		},
		[]string{"reason"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			BirdQueriesTotal,
			BirdQueryDuration,
			BirdReplyBytes,
			DecodeDuration,
			DBWriteDuration,
			DBRowsAffectedTotal,
			HistoryDedupConflictsTotal,
			ParseErrorsTotal,
			RoutesCurrent,
			RouteEventsTotal,
			EventsPublishedTotal,
			LastPollTimestamp,
			BatchSize,
			RoutesPurgedTotal,
		)
	})
}
