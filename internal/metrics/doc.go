// Package metrics records Prometheus counters and histograms for the
// storage, embedding, batching, indexing, linking, retrieval, and
// reflection subsystems, grouped under a single Collector so the engine
// registers its instruments once per process.
package metrics
