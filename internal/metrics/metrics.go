// Package metrics exposes Prometheus metrics for the proposal store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// storeOperationsTotal counts store operations by operation and result
	// (ok, not_found, invalid, error).
	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_store_operations_total",
			Help: "Total number of proposal store operations",
		},
		[]string{"op", "result"},
	)

	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proposal_store_operation_duration_seconds",
			Help:    "Duration of proposal store operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	// markWritesTotal counts persisted marks. kind is auto or locked.
	markWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_mark_writes_total",
			Help: "Total number of persisted mark records",
		},
		[]string{"kind"},
	)

	mergeRekeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proposal_merge_rekeyed_versions_total",
			Help: "Versions that received a new id during a merge because of a collision",
		},
	)

	backupSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_backup_syncs_total",
			Help: "Backup sync attempts by result (clean, committed, pushed, error)",
		},
		[]string{"result"},
	)

	lockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_lock_acquisitions_total",
			Help: "Destructive-operation lock attempts by backend and result",
		},
		[]string{"backend", "result"},
	)
)

func init() {
	prometheus.MustRegister(storeOperationsTotal)
	prometheus.MustRegister(storeOperationDuration)
	prometheus.MustRegister(markWritesTotal)
	prometheus.MustRegister(mergeRekeysTotal)
	prometheus.MustRegister(backupSyncsTotal)
	prometheus.MustRegister(lockAcquisitionsTotal)
}

// ObserveStoreOperation records one store call.
func ObserveStoreOperation(op, result string, started time.Time) {
	storeOperationsTotal.WithLabelValues(op, result).Inc()
	storeOperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func RecordMarkWrite(locked bool) {
	kind := "auto"
	if locked {
		kind = "locked"
	}
	markWritesTotal.WithLabelValues(kind).Inc()
}

func RecordMergeRekey() {
	mergeRekeysTotal.Inc()
}

func RecordBackupSync(result string) {
	backupSyncsTotal.WithLabelValues(result).Inc()
}

func RecordLockAcquisition(backend, result string) {
	lockAcquisitionsTotal.WithLabelValues(backend, result).Inc()
}
