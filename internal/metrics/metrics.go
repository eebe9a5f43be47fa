// Package metrics exposes the Prometheus instrumentation for the ETL
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns counts finished ETL runs by job and terminal status.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplesync_job_runs_total",
		Help: "Finished ETL job runs by terminal status.",
	}, []string{"job", "status"})

	// JobDuration observes wall-clock seconds per finished run.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "peoplesync_job_duration_seconds",
		Help:    "Wall-clock duration of ETL job runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"job"})

	// RecordsFetched counts records pulled from the upstream API.
	RecordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplesync_records_fetched_total",
		Help: "Records fetched from the upstream HR API by domain.",
	}, []string{"domain"})

	// RowsInserted counts warehouse rows inserted by table.
	RowsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplesync_rows_inserted_total",
		Help: "Warehouse rows inserted during reconciliation.",
	}, []string{"table"})

	// RowsUpdated counts warehouse rows updated by table.
	RowsUpdated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplesync_rows_updated_total",
		Help: "Warehouse rows updated during reconciliation.",
	}, []string{"table"})

	// MalformedRecords counts upstream records skipped during
	// flattening.
	MalformedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplesync_malformed_records_total",
		Help: "Upstream records skipped because required fields were missing.",
	}, []string{"domain"})
)
