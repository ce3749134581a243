// Package conc executes a logically concurrent computation by deterministic
// interleaving: exactly one user thread runs between scheduler calls, and
// every shared-state operation is a scheduling point.
//
// It is intentionally split into:
//   - The program surface (Ctx and its primitives): the smallest set of
//     operations that exercises every action the trace model names
//   - The executor: gate/park handshake with user-thread goroutines, memory
//     model simulation with phantom commit threads, trace recording
//   - Snapshot support: capture the state left by a deterministic setup
//     phase once, restore it before every subsequent execution
//
// User threads are real goroutines, but between scheduling points a thread
// may only touch thread-local data; all shared state lives in the engine
// and is reached through Ctx primitives. The engine itself therefore needs
// no locks.
package conc
