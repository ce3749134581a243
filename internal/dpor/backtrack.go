package dpor

import (
	"interleave/conc"
	"interleave/sched"
)

// BacktrackStep is the analysis view of one trace index: the thread that
// ran, the runnable set observed there, and the backtracking targets
// computed for it (thread → conservative flag).
type BacktrackStep struct {
	Thread     sched.ThreadID
	Decision   sched.Decision
	Runnable   map[sched.ThreadID]sched.Lookahead
	Backtracks map[sched.ThreadID]bool
}

// BacktrackFunc records that thread tid must be explored from index i.
// Bound-specific implementations add extra conservative points to recover
// interleavings the bound can hide.
type BacktrackFunc func(steps []BacktrackStep, i int, tid sched.ThreadID)

// BacktrackAt is the plain backtrack function: mark (i, tid) and nothing
// else.
func BacktrackAt(steps []BacktrackStep, i int, tid sched.ThreadID) {
	AddBacktrack(steps, i, tid, false)
}

// AddBacktrack marks tid for exploration at index i. A non-conservative
// mark overrides a conservative one, never the reverse.
func AddBacktrack(steps []BacktrackStep, i int, tid sched.ThreadID, conservative bool) {
	if existing, ok := steps[i].Backtracks[tid]; ok {
		steps[i].Backtracks[tid] = existing && conservative
		return
	}
	steps[i].Backtracks[tid] = conservative
}

// FindBacktrackSteps computes, for each index of the trace, the threads
// whose next action there is dependent with some later action of another
// thread and must therefore be explored from that index. In addition, each
// executed action is paired with the latest earlier dependent action of
// another thread; that earlier index gains the later thread, or every
// thread runnable there when the later thread was not.
//
// points carries the per-step runnable sets recorded by the scheduler;
// backtrack inserts each point found (plus any bound-specific
// conservative companions). When the execution was killed by a bound the
// suffix never ran, so no points are produced from it: only the complete
// traces contribute to-do work, and the bound's conservative companions
// recover what bounding hides.
func FindBacktrackSteps(model conc.MemType, backtrack BacktrackFunc, boundKill bool, points [][]conc.Runnable, trace sched.Trace) []BacktrackStep {
	if boundKill || len(trace) == 0 {
		return nil
	}

	n := len(trace)
	if len(points) < n {
		n = len(points)
	}

	steps := make([]BacktrackStep, n)
	tids := make([]sched.ThreadID, n)
	var prev sched.ThreadID
	for i := 0; i < n; i++ {
		tid := trace[i].Decision.Target(prev)
		tids[i] = tid
		runnable := make(map[sched.ThreadID]sched.Lookahead, len(points[i]))
		for _, r := range points[i] {
			runnable[r.ID] = r.Lookahead
		}
		steps[i] = BacktrackStep{
			Thread:     tid,
			Decision:   trace[i].Decision,
			Runnable:   runnable,
			Backtracks: make(map[sched.ThreadID]bool),
		}
		prev = tid
	}

	for i := 0; i < n; i++ {
		for u, la := range steps[i].Runnable {
			if u == tids[i] {
				continue
			}
			if conflictsBefore(model, u, la, tids, trace, i) {
				backtrack(steps, i, u)
			}
		}
	}
	for j := 0; j < n; j++ {
		for i := j - 1; i >= 0; i-- {
			if tids[i] == tids[j] || !Dependent(model, trace[i].Action, trace[j].Action) {
				continue
			}
			_, direct := steps[i].Runnable[tids[j]]
			for u := range steps[i].Runnable {
				if u != tids[i] && (!direct || u == tids[j]) {
					backtrack(steps, i, u)
				}
			}
			break
		}
	}
	return steps
}

// conflictsBefore reports whether some step at index >= i, by a thread
// other than u and before u next runs, is dependent with u's lookahead at
// index i.
func conflictsBefore(model conc.MemType, u sched.ThreadID, la sched.Lookahead, tids []sched.ThreadID, trace sched.Trace, i int) bool {
	for j := i; j < len(tids); j++ {
		if tids[j] == u {
			return false
		}
		if DependentLookahead(model, trace[j].Action, la) {
			return true
		}
	}
	return false
}
