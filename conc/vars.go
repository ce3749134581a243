package conc

import "interleave/sched"

// Ref is a handle to a shared mutable reference. Handles carry only the
// id; the value lives in the execution (or snapshot) that owns it, so a
// handle captured by a setup phase stays valid across replays.
type Ref struct{ id sched.RefID }

// ID returns the reference's execution-stable id.
func (r Ref) ID() sched.RefID { return r.id }

// MVar is a handle to a shared synchronizing cell: either empty or full.
// Put blocks while full; Take and Read block while empty.
type MVar struct{ id sched.MVarID }

// ID returns the MVar's execution-stable id.
func (m MVar) ID() sched.MVarID { return m.id }

// TVar is a handle to a transactional variable, readable and writable only
// inside Atomically.
type TVar struct{ id sched.TVarID }

// ID returns the TVar's execution-stable id.
func (t TVar) ID() sched.TVarID { return t.id }

// mvarState is the engine-side state of one MVar.
type mvarState struct {
	full bool
	val  any

	// waiting records threads blocked on this MVar and why.
	waiting map[sched.ThreadID]blockKind
}

func newMVarState() *mvarState {
	return &mvarState{waiting: make(map[sched.ThreadID]blockKind)}
}
