package dpor

import (
	"interleave/conc"
	"interleave/sched"
)

// footprint is the shared-state surface of an action or lookahead, reduced
// to what the dependency relation needs.
type footprint struct {
	kind       sched.ActionKind
	ref        sched.RefID
	mvar       sched.MVarID
	tvars      []sched.TVarID
	tvarsKnown bool
}

func footprintOfAction(a sched.ThreadAction) footprint {
	return footprint{
		kind:       normalizeKind(a.Kind),
		ref:        a.Ref,
		mvar:       a.MVar,
		tvars:      a.TVars,
		tvarsKnown: true,
	}
}

func footprintOfLookahead(l sched.Lookahead) footprint {
	// A transaction's touched set is unknown before it runs; the relation
	// is conservative for STM lookaheads.
	return footprint{
		kind:       normalizeKind(l.Kind),
		ref:        l.Ref,
		mvar:       l.MVar,
		tvars:      l.TVars,
		tvarsKnown: l.Kind != sched.ActionSTM,
	}
}

// normalizeKind folds blocked attempts onto the operation they attempt:
// a blocked take is still a take for dependency purposes.
func normalizeKind(k sched.ActionKind) sched.ActionKind {
	switch k {
	case sched.ActionBlockedPut:
		return sched.ActionPutMVar
	case sched.ActionBlockedTake:
		return sched.ActionTakeMVar
	case sched.ActionBlockedRead:
		return sched.ActionReadMVar
	case sched.ActionBlockedSTM:
		return sched.ActionSTM
	default:
		return k
	}
}

// Dependent reports whether two actions can observe each other under the
// given memory model. Independent actions commute: exploring both orders
// of an independent pair cannot reveal a new outcome.
func Dependent(model conc.MemType, a, b sched.ThreadAction) bool {
	return dependentFootprints(model, footprintOfAction(a), footprintOfAction(b))
}

// DependentLookahead reports whether an executed action and another
// thread's next action can observe each other. Conservative where the
// lookahead erases detail.
func DependentLookahead(model conc.MemType, a sched.ThreadAction, l sched.Lookahead) bool {
	return dependentFootprints(model, footprintOfAction(a), footprintOfLookahead(l))
}

func dependentFootprints(model conc.MemType, a, b footprint) bool {
	if isRefKind(a.kind) && isRefKind(b.kind) {
		if a.ref != b.ref {
			return false
		}
		return dependentRef(model, a.kind, b.kind)
	}
	if isMVarKind(a.kind) && isMVarKind(b.kind) {
		if a.mvar != b.mvar {
			return false
		}
		// Reads commute; everything else on the same MVar conflicts.
		return !(a.kind == sched.ActionReadMVar && b.kind == sched.ActionReadMVar)
	}
	if a.kind == sched.ActionSTM && b.kind == sched.ActionSTM {
		if !a.tvarsKnown || !b.tvarsKnown {
			return true
		}
		return tvarsIntersect(a.tvars, b.tvars)
	}
	// Fork, Yield, Stop, Throw and allocations touch no shared state
	// another thread can already reach.
	return false
}

func isRefKind(k sched.ActionKind) bool {
	switch k {
	case sched.ActionReadRef, sched.ActionWriteRef, sched.ActionModRef, sched.ActionCommitRef:
		return true
	default:
		return false
	}
}

func isMVarKind(k sched.ActionKind) bool {
	switch k {
	case sched.ActionPutMVar, sched.ActionTakeMVar, sched.ActionReadMVar:
		return true
	default:
		return false
	}
}

// dependentRef decides same-reference conflicts. Under a relaxed model a
// write only appends to a private buffer: it conflicts with nothing but
// the barrier of a modify; visibility conflicts move to the commit.
func dependentRef(model conc.MemType, a, b sched.ActionKind) bool {
	if a == sched.ActionReadRef && b == sched.ActionReadRef {
		return false
	}
	if a == sched.ActionModRef || b == sched.ActionModRef {
		return true
	}
	sc := model == conc.SequentialConsistency
	pair := func(x, y sched.ActionKind) bool {
		return (a == x && b == y) || (a == y && b == x)
	}
	switch {
	case pair(sched.ActionWriteRef, sched.ActionWriteRef):
		return sc
	case pair(sched.ActionWriteRef, sched.ActionReadRef):
		return sc
	case pair(sched.ActionWriteRef, sched.ActionCommitRef):
		return false
	case pair(sched.ActionCommitRef, sched.ActionReadRef):
		return true
	case pair(sched.ActionCommitRef, sched.ActionCommitRef):
		return true
	default:
		return false
	}
}

func tvarsIntersect(a, b []sched.TVarID) bool {
	// Touched sets are small and sorted ascending.
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}
