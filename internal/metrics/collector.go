package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus instrument the engine records against.
type Collector struct {
	// Storage (write path, spec §4.6)
	memoriesStoredTotal *prometheus.CounterVec
	memoryDeletesTotal  *prometheus.CounterVec
	storeDuration       *prometheus.HistogramVec

	// Embedding adapter and batcher (spec §4.2, §4.3)
	embeddingsComputedTotal *prometheus.CounterVec
	embeddingErrorsTotal    *prometheus.CounterVec
	embeddingDuration       *prometheus.HistogramVec
	batchFlushesTotal       *prometheus.CounterVec
	batchSize               prometheus.Histogram

	// Indexer and Linker (spec §4.4, §4.5)
	indexJobsTotal     *prometheus.CounterVec
	autoLinkEdgesTotal *prometheus.CounterVec

	// Retrieval and Reflect (spec §4.7, §4.10)
	recallDuration     *prometheus.HistogramVec
	recallResultsCount prometheus.Histogram
	reflectionsTotal   *prometheus.CounterVec

	// Backend (spec §4.11)
	backendOpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector registers every instrument under namespace into a private
// Registry and returns the Collector. Each Collector owns its own
// registry rather than the global promauto default, so building more than
// one Engine in a process — or in the same test binary — never panics on
// duplicate registration even when namespace is reused.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	c := &Collector{registry: reg, logger: logger.With(zap.String("component", "metrics"))}

	c.memoriesStoredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_stored_total",
			Help:      "Total number of memories persisted via the storage service",
		},
		[]string{"type", "scope"},
	)

	c.memoryDeletesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_deletes_total",
			Help:      "Total number of memories deleted",
		},
		[]string{"status"},
	)

	c.storeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Storage service write-path latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	c.embeddingsComputedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_computed_total",
			Help:      "Total number of texts embedded by the adapter",
		},
		[]string{"provider", "model"},
	)

	c.embeddingErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_errors_total",
			Help:      "Total number of embedding adapter errors by kind",
		},
		[]string{"provider", "kind"},
	)

	c.embeddingDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Embedding adapter call latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	c.batchFlushesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Total number of batcher flushes by trigger",
		},
		[]string{"trigger"}, // "size" or "timeout"
	)

	c.batchSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_flush_size",
			Help:      "Number of entries in each flushed batch",
			Buckets:   prometheus.LinearBuckets(1, 4, 10),
		},
	)

	c.indexJobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_jobs_total",
			Help:      "Total number of indexer jobs by mode and outcome",
		},
		[]string{"mode", "status"},
	)

	c.autoLinkEdgesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_link_edges_total",
			Help:      "Total number of relates_to edges created by the linker",
		},
		[]string{"status"},
	)

	c.recallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_duration_seconds",
			Help:      "Retrieval service recall latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"expand_graph"},
	)

	c.recallResultsCount = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_results_count",
			Help:      "Number of hits returned per recall",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		},
	)

	c.reflectionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reflections_total",
			Help:      "Total number of reflect operations by outcome",
		},
		[]string{"status"},
	)

	c.backendOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_op_duration_seconds",
			Help:      "Backend operation latency by op",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordMemoryStored records a successful or failed storage write.
func (c *Collector) RecordMemoryStored(memType, scope string, duration time.Duration, status string) {
	if status == "success" {
		c.memoriesStoredTotal.WithLabelValues(memType, scope).Inc()
	}
	c.storeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordMemoryDeleted records a delete outcome.
func (c *Collector) RecordMemoryDeleted(status string) {
	c.memoryDeletesTotal.WithLabelValues(status).Inc()
}

// RecordEmbedding records an adapter call's latency and count; kind is
// empty on success or the embedding.ErrorKind on failure.
func (c *Collector) RecordEmbedding(provider, model string, duration time.Duration, kind string) {
	c.embeddingDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if kind == "" {
		c.embeddingsComputedTotal.WithLabelValues(provider, model).Inc()
		return
	}
	c.embeddingErrorsTotal.WithLabelValues(provider, kind).Inc()
}

// RecordBatchFlush records a batcher flush and its size.
func (c *Collector) RecordBatchFlush(trigger string, size int) {
	c.batchFlushesTotal.WithLabelValues(trigger).Inc()
	c.batchSize.Observe(float64(size))
}

// RecordIndexJob records an indexer job outcome.
func (c *Collector) RecordIndexJob(mode, status string) {
	c.indexJobsTotal.WithLabelValues(mode, status).Inc()
}

// RecordAutoLinkEdge records a linker edge creation attempt.
func (c *Collector) RecordAutoLinkEdge(status string) {
	c.autoLinkEdgesTotal.WithLabelValues(status).Inc()
}

// RecordRecall records a retrieval service call's latency and hit count.
func (c *Collector) RecordRecall(expandGraph bool, duration time.Duration, hits int) {
	c.recallDuration.WithLabelValues(boolLabel(expandGraph)).Observe(duration.Seconds())
	c.recallResultsCount.Observe(float64(hits))
}

// RecordReflection records a reflect orchestrator outcome.
func (c *Collector) RecordReflection(status string) {
	c.reflectionsTotal.WithLabelValues(status).Inc()
}

// RecordBackendOp records a backend operation's latency.
func (c *Collector) RecordBackendOp(backendName, op string, duration time.Duration) {
	c.backendOpDuration.WithLabelValues(backendName, op).Observe(duration.Seconds())
}

// Registry returns the private registry this Collector's instruments are
// registered against, for wiring a /metrics endpoint via promhttp.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
