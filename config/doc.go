// Package config loads and validates the process configuration for a memkit
// engine instance: backend selection, embedding provider, batcher, indexer,
// linker, retrieval and reduction defaults, logging and telemetry.
package config
