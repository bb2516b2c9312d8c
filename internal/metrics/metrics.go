// Package metrics exposes mongofuse's Prometheus metrics: one registry
// covering the FUSE op surface, the block store's dedup behavior, the
// extent/commit path, snapshot generations, and advisory lock
// contention.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultLatencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Handle is the set of instruments the rest of mongofuse records
// against. A nil *Handle is valid and records nothing, so components
// can be constructed without metrics during tests.
type Handle struct {
	opsCount      *prometheus.CounterVec
	opsErrorCount *prometheus.CounterVec
	opsLatency    *prometheus.HistogramVec

	blockPutCount    *prometheus.CounterVec
	blockBytesIn     prometheus.Counter
	blockBytesStored prometheus.Counter

	extentCommitCount prometheus.Counter
	extentBlockCount  prometheus.Histogram

	snapshotGenerationCount prometheus.Counter

	lockWaitLatency    prometheus.Histogram
	lockContentedCount prometheus.Counter
}

// New registers mongofuse's instruments against reg and returns the
// Handle used to record them. Passing prometheus.NewRegistry() keeps
// tests isolated from the global default registry.
func New(reg prometheus.Registerer) *Handle {
	factory := promauto.With(reg)

	return &Handle{
		opsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mongofuse_fs_ops_total",
			Help: "Count of filesystem operations processed, by op.",
		}, []string{"op"}),
		opsErrorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mongofuse_fs_ops_errors_total",
			Help: "Count of filesystem operations that returned an error, by op and error kind.",
		}, []string{"op", "kind"}),
		opsLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mongofuse_fs_ops_latency_ms",
			Help:    "Distribution of filesystem operation latency in milliseconds, by op.",
			Buckets: defaultLatencyBuckets,
		}, []string{"op"}),

		blockPutCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mongofuse_block_put_total",
			Help: "Count of block store Put calls, partitioned by whether the block already existed.",
		}, []string{"outcome"}),
		blockBytesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "mongofuse_block_bytes_in_total",
			Help: "Cumulative uncompressed bytes offered to the block store.",
		}),
		blockBytesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "mongofuse_block_bytes_stored_total",
			Help: "Cumulative compressed bytes actually written to the block store, after dedup.",
		}),

		extentCommitCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "mongofuse_extent_commits_total",
			Help: "Count of read/write-path Write calls that committed extent documents.",
		}),
		extentBlockCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mongofuse_extent_blocks_per_commit",
			Help:    "Distribution of the number of blocks touched per Write call.",
			Buckets: prometheus.LinearBuckets(1, 4, 10),
		}),

		snapshotGenerationCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "mongofuse_snapshot_generations_total",
			Help: "Count of snapshot generations created.",
		}),

		lockWaitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mongofuse_lock_wait_ms",
			Help:    "Distribution of time spent waiting to acquire an inode's advisory lock.",
			Buckets: defaultLatencyBuckets,
		}),
		lockContentedCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "mongofuse_lock_contended_total",
			Help: "Count of advisory lock acquisitions that had to poll at least once.",
		}),
	}
}

// RecordOp records the outcome and latency of one filesystem operation.
// err may be nil.
func (h *Handle) RecordOp(op string, start time.Time, err error, kind string) {
	if h == nil {
		return
	}
	h.opsCount.WithLabelValues(op).Inc()
	h.opsLatency.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		h.opsErrorCount.WithLabelValues(op, kind).Inc()
	}
}

// RecordBlockPut records one blockstore.Put call: whether it deduped
// against an existing block, and how many bytes were considered versus
// actually persisted.
func (h *Handle) RecordBlockPut(deduped bool, rawBytes, storedBytes int) {
	if h == nil {
		return
	}
	outcome := "new"
	if deduped {
		outcome = "deduped"
	}
	h.blockPutCount.WithLabelValues(outcome).Inc()
	h.blockBytesIn.Add(float64(rawBytes))
	if !deduped {
		h.blockBytesStored.Add(float64(storedBytes))
	}
}

// RecordExtentCommit records one rw.Write call committing blockCount
// new extents.
func (h *Handle) RecordExtentCommit(blockCount int) {
	if h == nil {
		return
	}
	h.extentCommitCount.Inc()
	h.extentBlockCount.Observe(float64(blockCount))
}

// RecordSnapshotGeneration records one snapshot.CreateGeneration call.
func (h *Handle) RecordSnapshotGeneration() {
	if h == nil {
		return
	}
	h.snapshotGenerationCount.Inc()
}

// RecordLockWait records how long a lock acquisition waited, and
// whether it had to poll (contended) or succeeded immediately.
func (h *Handle) RecordLockWait(wait time.Duration, contended bool) {
	if h == nil {
		return
	}
	h.lockWaitLatency.Observe(float64(wait.Microseconds()) / 1000)
	if contended {
		h.lockContentedCount.Inc()
	}
}

// Serve starts a blocking HTTP server exposing reg on addr at /metrics,
// shutting down cleanly when ctx is canceled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
