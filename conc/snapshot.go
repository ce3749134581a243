package conc

import (
	"errors"

	"interleave/sched"
)

// Snapshot captures the shared state left behind by a WithSetup program's
// setup phase, so the main phase can replay from it without re-running the
// prefix.
//
// Captured values are copied shallowly: a setup phase that stores pointers
// inside Ref/MVar/TVar values and mutates the pointees from the main phase
// defeats the capture. Keep setup values immutable or value-like.
type Snapshot struct {
	prog   WithSetup
	handle any

	refVals  []any
	mvars    []mvarSnap
	tvarVals []any
}

type mvarSnap struct {
	full bool
	val  any
}

// CanSnapshot reports whether p exposes a snapshottable setup phase.
func CanSnapshot(p Program) bool {
	_, ok := p.(WithSetup)
	return ok
}

// setupSched keeps the single setup thread running; any other runnable
// thread means the setup phase forked and cannot be snapshotted.
type setupSched struct{ tainted bool }

func (s *setupSched) Schedule(_ *PriorStep, runnable []Runnable) (sched.ThreadID, bool) {
	if len(runnable) != 1 || runnable[0].ID != sched.InitialThread {
		s.tainted = true
		return 0, false
	}
	return sched.InitialThread, true
}

// NewSnapshot runs p's setup phase once, single-threaded under sequential
// consistency, and captures the state it leaves. It fails if the setup
// phase forks, blocks, or errors; callers fall back to full replay.
func NewSnapshot(p Program) (*Snapshot, error) {
	prog, ok := p.(WithSetup)
	if !ok {
		return nil, errors.New("program has no setup phase")
	}

	guard := &setupSched{}
	ex := newExecution(guard, SequentialConsistency)
	res, _ := ex.run(func(ctx *Ctx) (any, error) {
		return prog.Setup(ctx)
	})

	if guard.tainted || ex.sawFork {
		return nil, errors.New("setup phase forked; snapshot requires a single-threaded prefix")
	}
	if ex.sawBlock {
		return nil, errors.New("setup phase blocked; snapshot requires a non-blocking prefix")
	}
	if res.Err != nil {
		return nil, res.Err
	}

	sn := &Snapshot{
		prog:     prog,
		handle:   res.Value,
		refVals:  append([]any(nil), ex.mem.committed...),
		tvarVals: append([]any(nil), ex.tvarVals...),
	}
	sn.mvars = make([]mvarSnap, len(ex.mvars))
	for i, mv := range ex.mvars {
		sn.mvars[i] = mvarSnap{full: mv.full, val: mv.val}
	}
	return sn, nil
}

// Threads returns the runnable threads at the snapshot point. The setup
// phase is single-threaded, so this is always just the initial thread.
func (sn *Snapshot) Threads() []sched.ThreadID {
	return []sched.ThreadID{sched.InitialThread}
}

// ExecuteWithSnapshot restores the snapshot state and runs the program's
// main phase once under the given scheduler and memory model.
func ExecuteWithSnapshot(s Scheduler, model MemType, sn *Snapshot) (Result, sched.Trace) {
	ex := newExecution(s, model)

	ex.mem.committed = append([]any(nil), sn.refVals...)
	ex.tvarVals = append([]any(nil), sn.tvarVals...)
	ex.mvars = make([]*mvarState, len(sn.mvars))
	for i, mv := range sn.mvars {
		st := newMVarState()
		st.full = mv.full
		st.val = mv.val
		ex.mvars[i] = st
	}

	return ex.run(func(ctx *Ctx) (any, error) {
		return sn.prog.Main(ctx, sn.handle)
	})
}
