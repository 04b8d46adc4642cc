// Package engine implements deterministic record and replay of wrapped calls
// made by concurrent goroutines.
//
// ARCHITECTURE:
//
// Application code routes non-deterministic operations (clock reads, random
// numbers, values derived from I/O) through a Dispatcher:
//
//	n, err := engine.Wrap(ctx, d, "rng.next", func() int { return rng.Intn(100) })
//
// The Dispatcher holds exactly one Mode:
//   - Passthrough: fn runs, nothing is stored
//   - *Recorder:   fn runs, then (thread, call, result) is appended to storage
//   - *Replayer:   fn never runs; the recorded result is returned once the
//     trace says it is this thread's turn
//
// Thread identity:
// Go has no thread-local storage, so each participating goroutine carries a
// *Thread handle in its context (WithThread, Group.Go). Engines map handles
// to logical ThreadIDs. The Recorder assigns ids in order of first recorded
// call. The Replayer binds a handle lazily to the recorded id at the cursor
// the first time that handle asks for the cursor's call, so replay does not
// depend on goroutine start order.
//
// Ordering:
// Records are appended under one lock after fn returns, so the trace order
// is the order in which calls completed. The Replayer admits exactly one
// goroutine per trace entry and makes every other goroutine wait until the
// cursor moves, which reproduces that completion order exactly.
//
// CRITICAL PATTERNS:
//
// Unbounded waits:
// A goroutine whose turn never comes waits forever. A hang means the code
// and the trace have drifted apart. WithStallWarning logs long waits without
// ever timing out; only the caller's context can release a waiter.
//
// End of trace:
// When the trace is exhausted the on-end callback runs exactly once, then
// the exit function (os.Exit(0) by default). If a custom exit function
// returns, the Replayer finishes: Done is closed and every call returns
// ErrReplayFinished.
package engine
