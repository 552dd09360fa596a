package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_loader_rows_written_total",
			Help: "Total number of rows written to warehouse tables",
		},
		[]string{"table"},
	)

	ChunksExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_loader_chunks_executed_total",
			Help: "Total number of batch chunks executed",
		},
		[]string{"table", "status"},
	)

	RowsClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_loader_rows_classified_total",
			Help: "Total number of candidate rows classified during loads",
		},
		[]string{"table", "kind"},
	)

	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warehouse_loader_load_duration_seconds",
			Help:    "Duration of dimension loads and fact merges",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~164s
		},
		[]string{"table", "load_type"},
	)
)
