package strategy

import (
	"interleave/conc"
	"interleave/internal/dpor"
	"interleave/sched"
)

// Bounds configures the systematic search's pruning. A nil field disables
// that bound.
type Bounds struct {
	Preemption *int
	Fair       *int
	Length     *int
}

// Enabled reports whether any bound is active.
func (b Bounds) Enabled() bool {
	return b.Preemption != nil || b.Fair != nil || b.Length != nil
}

// BoundKey is the accumulator threaded through a single execution and
// checked after each step. It is a value: bounds return an updated copy so
// the scheduler can test several candidates against the same state.
type BoundKey struct {
	// Preemptions and LastNonCommit track the preemption bound: the count
	// of preemptive context switches, and the last user thread that ran
	// (commit phantoms are transparent to it).
	Preemptions   int
	LastNonCommit sched.ThreadID
	haveLast      bool

	// Yields counts yields per scheduled thread. Every scheduled thread is
	// present until it terminates, so a never-yielding live thread anchors
	// the window at zero.
	Yields map[sched.ThreadID]int

	// Steps counts primitive steps for the length bound.
	Steps int
}

// seenRunnable registers every runnable user thread with the yield
// tracker. A thread that is runnable but never scheduled must still anchor
// the fairness window at zero yields, or a spinloop could starve it
// without ever tripping the bound.
func (k BoundKey) seenRunnable(runnable []conc.Runnable) BoundKey {
	yields := make(map[sched.ThreadID]int, len(k.Yields)+len(runnable))
	for t, c := range k.Yields {
		yields[t] = c
	}
	for _, r := range runnable {
		if r.ID.IsCommit() {
			continue
		}
		if _, ok := yields[r.ID]; !ok {
			yields[r.ID] = 0
		}
	}
	k.Yields = yields
	return k
}

// PriorInfo is what a bound learns about the step that just ran.
type PriorInfo struct {
	Thread sched.ThreadID
	Action sched.ThreadAction
}

// Candidate is a step the scheduler is considering.
type Candidate struct {
	Thread    sched.ThreadID
	Lookahead sched.Lookahead
}

// IncrementalBound accepts or rejects a candidate step. prior is nil
// before the first step. The updated key is meaningful even on rejection,
// so prefix replay can thread state through without re-deciding.
type IncrementalBound func(k BoundKey, prior *PriorInfo, next Candidate) (BoundKey, bool)

// PreemptionBound counts preemptive context switches: a switch to a
// different thread whose predecessor neither blocked, yielded, nor died.
//
// Commit phantoms are special-cased: entering one is free and leaves the
// remembered user thread untouched; leaving one back to that same thread
// is free, leaving to any other user thread costs one preemption.
func PreemptionBound(pb int) IncrementalBound {
	return func(k BoundKey, prior *PriorInfo, next Candidate) (BoundKey, bool) {
		tid := next.Thread
		if prior == nil {
			if !tid.IsCommit() {
				k.LastNonCommit = tid
				k.haveLast = true
			}
			return k, k.Preemptions <= pb
		}
		if next.Lookahead.WillCommitRef() {
			return k, k.Preemptions <= pb
		}

		cost := 0
		if prior.Thread.IsCommit() {
			if !k.haveLast || tid != k.LastNonCommit {
				cost = 1
			}
		} else if tid != prior.Thread && !switchIsFree(prior.Action) {
			cost = 1
		}

		k.Preemptions += cost
		k.LastNonCommit = tid
		k.haveLast = true
		return k, k.Preemptions <= pb
	}
}

// switchIsFree reports whether moving off the prior thread costs nothing:
// it blocked, yielded, or terminated.
func switchIsFree(a sched.ThreadAction) bool {
	if a.IsBlock() {
		return true
	}
	switch a.Kind {
	case sched.ActionYield, sched.ActionStop:
		return true
	case sched.ActionThrow:
		return !a.Caught
	default:
		return false
	}
}

// FairBound keeps the spread between the most- and least-yielding threads
// within fb, so unfair schedules that starve a thread behind a spinloop
// are cut off.
func FairBound(fb int) IncrementalBound {
	return func(k BoundKey, prior *PriorInfo, next Candidate) (BoundKey, bool) {
		yields := make(map[sched.ThreadID]int, len(k.Yields)+1)
		for t, c := range k.Yields {
			yields[t] = c
		}
		if _, ok := yields[next.Thread]; !ok && !next.Thread.IsCommit() {
			yields[next.Thread] = 0
		}
		if next.Lookahead.WillYield() {
			yields[next.Thread]++
		}
		k.Yields = yields

		if !next.Lookahead.WillYield() {
			return k, true
		}
		lo, hi, first := 0, 0, true
		for _, c := range yields {
			if first {
				lo, hi, first = c, c, false
				continue
			}
			if c < lo {
				lo = c
			}
			if c > hi {
				hi = c
			}
		}
		return k, hi-lo <= fb
	}
}

// LengthBound cuts every execution off after lb steps. LengthBound(0)
// rejects even the first step, so no execution completes.
func LengthBound(lb int) IncrementalBound {
	return func(k BoundKey, _ *PriorInfo, _ Candidate) (BoundKey, bool) {
		ok := k.Steps < lb
		k.Steps++
		return k, ok
	}
}

// CombineBounds builds the composite bound (a step is permitted iff every
// enabled bound permits it) and the composite backtrack function. The
// backtrack augmentation follows the first enabled bound, in the order
// preemption, fair, length; with nothing enabled both collapse to plain
// backtracking.
func CombineBounds(b Bounds) (IncrementalBound, dpor.BacktrackFunc) {
	if !b.Enabled() {
		return nil, dpor.BacktrackAt
	}

	var funcs []IncrementalBound
	if b.Preemption != nil {
		funcs = append(funcs, PreemptionBound(*b.Preemption))
	}
	if b.Fair != nil {
		funcs = append(funcs, FairBound(*b.Fair))
	}
	if b.Length != nil {
		funcs = append(funcs, LengthBound(*b.Length))
	}

	bound := func(k BoundKey, prior *PriorInfo, next Candidate) (BoundKey, bool) {
		accept := true
		for _, f := range funcs {
			var ok bool
			k, ok = f(k, prior, next)
			accept = accept && ok
		}
		return k, accept
	}

	switch {
	case b.Preemption != nil:
		return bound, PreemptionBacktrack
	case b.Fair != nil:
		return bound, FairBacktrack
	default:
		return bound, dpor.BacktrackAt
	}
}

// PreemptionBacktrack pairs every primary point with a conservative point
// at the most recent earlier context switch whose frames are both user
// threads. Bounding can hide interleavings the unbounded search would
// reach; the conservative point recovers them at the cost of redundancy.
func PreemptionBacktrack(steps []dpor.BacktrackStep, i int, tid sched.ThreadID) {
	dpor.BacktrackAt(steps, i, tid)
	for j := i - 1; j > 0; j-- {
		before, at := steps[j-1].Thread, steps[j].Thread
		if before != at && !before.IsCommit() && !at.IsCommit() {
			dpor.AddBacktrack(steps, j, tid, true)
			return
		}
	}
}

// FairBacktrack adds, at any release point, every thread runnable there:
// fairness must not hide a starvation bug behind the bound by exploring
// only the dependent threads.
func FairBacktrack(steps []dpor.BacktrackStep, i int, tid sched.ThreadID) {
	dpor.BacktrackAt(steps, i, tid)
	la, ok := steps[i].Runnable[tid]
	if !ok || !la.WillRelease() {
		return
	}
	for u := range steps[i].Runnable {
		dpor.AddBacktrack(steps, i, u, false)
	}
}
