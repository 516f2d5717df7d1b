// Package main provides the memkitd process entry point: it loads
// configuration, wires the engine, and runs until an interrupt signal.
//
// Usage:
//
//	memkitd serve                      # start the engine
//	memkitd serve --config memkit.yaml # use a specific config file
//	memkitd version                    # print version information
//
// The CLI/HTTP surface this binary would sit behind (request routing,
// auth, rate limiting) is outside the core engine's scope; memkitd only
// proves the engine wires up and runs.
package main
