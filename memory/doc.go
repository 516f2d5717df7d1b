// Package memory defines the engine's core value types.
//
// # Core types
//
//   - [Memory]: a typed text record with an optional embedding.
//   - [Edge]: a typed weighted directed link between two memories.
//   - [AccessContext]: caller identity and capabilities, checked on every
//     read and write.
//
// Construction ([NewMemory], [NewEdge]) enforces the invariants of the data
// model: confidence below 0.7 forces private scope, embeddings must match
// the configured dimensionality when present, and enum fields are validated
// at the boundary rather than trusted from callers.
package memory
