// Package metrics provides lock-free counters and a latency histogram for the
// access-control engine.
//
// Counters live in cache-line-padded uint64 slots and are incremented with
// sync/atomic. The histogram uses 8 fixed buckets (5ms up to +Inf). The write
// path does not allocate.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Import goGate or any sibling package.
//   - Expose global registries.
package metrics
