// Package store provides SQLite-backed durable storage for recorded traces.
//
// A database holds any number of traces. Each trace is an append-only
// sequence of values, exactly what the record engine emits through the
// storage port: thread id, call id, optional payload, repeated. The store
// does not interpret the values; it only keeps them in order.
//
// # Layout
//
//   - traces:       one row per trace (UUIDv7 id, name, closed flag)
//   - trace_values: one row per Put (trace_id, seq, data)
//
// Values are JSON encoded with HTML escaping disabled. Reads are always
// ORDER BY seq ASC so a replay sees values in exactly the order they were
// written.
//
// # Atomic records
//
// TraceWriter buffers values until Flush, then writes them in a single
// transaction. The record engine flushes once per record, so a crash never
// leaves a record with a thread id but no call id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
