package strategy

import (
	"interleave/conc"
	"interleave/internal/dpor"
	"interleave/sched"
)

// DPOR is the scheduler of the systematic way: it replays a schedule
// prefix chosen from the exploration tree, then schedules freely —
// lowest-id first among threads that are neither sleeping nor rejected by
// the bound — while recording the per-step runnable sets the backtrack
// analysis needs.
type DPOR struct {
	model conc.MemType

	prefix []sched.ThreadID
	sleep  map[sched.ThreadID]sched.ThreadAction
	bound  IncrementalBound

	key      BoundKey
	prevTid  sched.ThreadID
	havePrev bool

	ignore    bool
	boundKill bool
	points    [][]conc.Runnable
}

// NewDPOR builds the scheduler for one execution. sleep is the initial
// sleep set of the chosen prefix; bound may be nil for an unbounded
// search.
func NewDPOR(model conc.MemType, prefix []sched.ThreadID, sleep map[sched.ThreadID]sched.ThreadAction, bound IncrementalBound) *DPOR {
	owned := make(map[sched.ThreadID]sched.ThreadAction, len(sleep))
	for t, a := range sleep {
		owned[t] = a
	}
	return &DPOR{model: model, prefix: prefix, sleep: owned, bound: bound}
}

// Ignored reports that the execution must be discarded entirely: the
// prefix became unrunnable, or every runnable thread was asleep.
func (d *DPOR) Ignored() bool { return d.ignore }

// BoundKilled reports that the bound rejected every candidate; the
// execution was cut short and its result must be dropped, but its partial
// trace still folds into the exploration state.
func (d *DPOR) BoundKilled() bool { return d.boundKill }

// Points returns the runnable set observed at each step, for backtrack
// computation.
func (d *DPOR) Points() [][]conc.Runnable { return d.points }

func (d *DPOR) Schedule(prior *conc.PriorStep, runnable []conc.Runnable) (sched.ThreadID, bool) {
	d.points = append(d.points, append([]conc.Runnable(nil), runnable...))

	if prior != nil {
		d.wake(prior.Action)
	}

	var pinfo *PriorInfo
	if prior != nil && d.havePrev {
		pinfo = &PriorInfo{Thread: d.prevTid, Action: prior.Action}
	}
	if d.bound != nil {
		d.key = d.key.seenRunnable(runnable)
		if pinfo != nil && (pinfo.Action.Kind == sched.ActionStop || (pinfo.Action.Kind == sched.ActionThrow && !pinfo.Action.Caught)) {
			// A finished thread cannot be starved; it leaves the window.
			delete(d.key.Yields, pinfo.Thread)
		}
	}

	if len(d.prefix) > 0 {
		head := d.prefix[0]
		la, ok := lookaheadOf(runnable, head)
		if !ok {
			// A replayed decision no longer runnable is structurally
			// impossible for a faithful replay; the execution is dropped.
			d.ignore = true
			return 0, false
		}
		d.prefix = d.prefix[1:]
		if d.bound != nil {
			k, admitted := d.bound(d.key, pinfo, Candidate{Thread: head, Lookahead: la})
			d.key = k
			if !admitted {
				// A conservative point can land outside the bound; the
				// bound defines the search space, so the replay dies here.
				d.boundKill = true
				return 0, false
			}
		}
		d.prevTid = head
		d.havePrev = true
		return head, true
	}

	candidates := make([]conc.Runnable, 0, len(runnable))
	for _, r := range runnable {
		if _, sleeping := d.sleep[r.ID]; sleeping {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		d.ignore = true
		return 0, false
	}

	for _, c := range candidates {
		if d.bound == nil {
			d.prevTid = c.ID
			d.havePrev = true
			return c.ID, true
		}
		k, ok := d.bound(d.key, pinfo, Candidate{Thread: c.ID, Lookahead: c.Lookahead})
		if ok {
			d.key = k
			d.prevTid = c.ID
			d.havePrev = true
			return c.ID, true
		}
	}

	d.boundKill = true
	return 0, false
}

// wake drops sleep entries invalidated by the action that just ran: the
// running thread itself, and anything dependent with the action.
func (d *DPOR) wake(action sched.ThreadAction) {
	for t, a := range d.sleep {
		if t == d.prevTid || dpor.Dependent(d.model, a, action) {
			delete(d.sleep, t)
		}
	}
}

func lookaheadOf(runnable []conc.Runnable, tid sched.ThreadID) (sched.Lookahead, bool) {
	for _, r := range runnable {
		if r.ID == tid {
			return r.Lookahead, true
		}
	}
	return sched.Lookahead{}, false
}
