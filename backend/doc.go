// Package backend implements the storage contract (spec §4.11): two
// implementations — [MemoryBackend] (in-process, for development and
// tests) and [RelationalBackend] (GORM + pgvector) — share identical
// read-path access filtering and traversal semantics.
package backend
