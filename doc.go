// Package interleave explores the interleavings of a concurrent
// computation. The systematic way enumerates schedules with bounded
// partial-order reduction; the random ways sample them uniformly or with
// per-thread weights. Every distinct outcome is reported together with
// the schedule that produced it, and replaying that schedule reproduces
// the outcome exactly.
//
// The exploration is an explicit iterator: each call to Next performs
// executions only until one yields an outcome, so the caller controls how
// much of the space is actually visited.
//
//	set := interleave.ResultsSet(
//		interleave.Systematically(interleave.NoBounds()),
//		interleave.SequentialConsistency,
//		program,
//	)
package interleave
