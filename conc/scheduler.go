package conc

import "interleave/sched"

// PriorStep describes the step that ran immediately before a scheduling
// point: the decision that chose it and the action it performed.
type PriorStep struct {
	Decision sched.Decision
	Action   sched.ThreadAction
}

// Runnable pairs a runnable thread with the lookahead of its next action.
type Runnable struct {
	ID        sched.ThreadID
	Lookahead sched.Lookahead
}

// Scheduler chooses the next thread to run.
//
// Schedule receives the prior step (nil before the first step) and the
// runnable set in ascending thread-id order; the set is never empty.
// Returning ok == false aborts the execution: the engine stops, reports an
// Abort failure, and hands back the partial trace.
//
// Implementations are stateful; the executor calls Schedule from a single
// goroutine, so no synchronization is required.
type Scheduler interface {
	Schedule(prior *PriorStep, runnable []Runnable) (tid sched.ThreadID, ok bool)
}
