package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	indexerSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwt",
		Subsystem: "indexer",
		Name:      "sync_cycles_total",
		Help:      "Count of indexer sync cycles.",
	}, []string{"network", "status"})

	indexerSyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bwt",
		Subsystem: "indexer",
		Name:      "sync_cycle_duration_seconds",
		Help:      "Duration of indexer sync cycles.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})

	indexerChangesPerCycle = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bwt",
		Subsystem: "indexer",
		Name:      "changes_per_cycle",
		Help:      "Number of index changes produced per sync cycle.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"network"})

	indexerTipHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bwt",
		Subsystem: "indexer",
		Name:      "tip_height",
		Help:      "Best block height observed at the last sync cycle.",
	}, []string{"network"})

	indexerReorgsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwt",
		Subsystem: "indexer",
		Name:      "reorgs_total",
		Help:      "Count of chain reorganizations handled.",
	}, []string{"network"})

	importBatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwt",
		Subsystem: "importer",
		Name:      "batches_total",
		Help:      "Count of importmulti batches submitted.",
	}, []string{"network", "status"})

	importBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bwt",
		Subsystem: "importer",
		Name:      "batch_duration_seconds",
		Help:      "Duration of importmulti batches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})

	importBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bwt",
		Subsystem: "importer",
		Name:      "batch_size",
		Help:      "Number of scripts per importmulti batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"network"})
)

// Indexer tracks metrics for the sync pipeline.
type Indexer struct {
	network string
}

// NewIndexer constructs an Indexer metrics collector.
func NewIndexer(network string) *Indexer {
	if network == "" {
		network = "unknown"
	}
	return &Indexer{network: network}
}

// ObserveSyncCycle records one sync cycle outcome, duration and change count.
func (m Indexer) ObserveSyncCycle(err error, changes int, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	indexerSyncTotal.WithLabelValues(m.network, status).Inc()
	indexerSyncDuration.WithLabelValues(m.network, status).Observe(time.Since(started).Seconds())
	if err == nil {
		indexerChangesPerCycle.WithLabelValues(m.network).Observe(float64(changes))
	}
}

// ObserveTip records the tip height after a successful cycle.
func (m Indexer) ObserveTip(height int32) {
	indexerTipHeight.WithLabelValues(m.network).Set(float64(height))
}

// ObserveReorg records a handled reorganization.
func (m Indexer) ObserveReorg() {
	indexerReorgsTotal.WithLabelValues(m.network).Inc()
}

// ObserveImportBatch records one importmulti batch.
func (m Indexer) ObserveImportBatch(err error, scripts int, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	importBatchTotal.WithLabelValues(m.network, status).Inc()
	importBatchDuration.WithLabelValues(m.network, status).Observe(time.Since(started).Seconds())
	importBatchSize.WithLabelValues(m.network).Observe(float64(scripts))
}
