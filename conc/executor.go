package conc

import (
	"fmt"
	"sort"

	"interleave/sched"
)

// blockKind records why a thread is not runnable.
type blockKind uint8

const (
	notBlocked blockKind = iota
	blockedPut
	blockedTake
	blockedRead
	blockedSTM
)

// killSentinel unwinds a parked thread goroutine when the execution ends
// before the thread does.
type killSentinel struct{}

// thrownError unwinds a thread after Throw, up to the nearest Catch or the
// thread's top.
type thrownError struct{ err error }

// thread is the engine-side state of one user thread.
type thread struct {
	id   sched.ThreadID
	gate chan struct{}

	// la is the lookahead of the thread's next action, valid while parked.
	la sched.Lookahead

	// pending is the action completed since the last resume. It travels
	// with the thread's next park so the engine can record the step.
	pending *sched.ThreadAction

	block  blockKind
	watch  []sched.TVarID // TVars a retried transaction waits on
	killed bool

	started bool
	done    bool
}

// parkMsg is what a thread goroutine hands back to the engine loop: its
// completed action (nil on the very first park), and either the lookahead
// it is parked on or its exit value.
type parkMsg struct {
	t      *thread
	action *sched.ThreadAction
	la     sched.Lookahead
	exit   bool
	val    any
	err    error
}

// execution owns all shared state of one run. Exactly one user thread
// executes an effect at a time; between effects threads only run
// thread-local code, so none of this needs locking.
type execution struct {
	scheduler Scheduler
	mem       *memory

	threads map[sched.ThreadID]*thread
	order   []sched.ThreadID
	nextTid sched.ThreadID

	mvars    []*mvarState
	tvarVals []any

	parkCh   chan parkMsg
	awaiting int

	trace      sched.Trace
	prior      *PriorStep
	prevTid    sched.ThreadID
	havePrev   bool
	lastAction sched.ThreadAction

	// snapshot guards: a setup phase must stay deterministic.
	sawFork  bool
	sawBlock bool

	mainDone bool
	result   Result
}

func newExecution(s Scheduler, model MemType) *execution {
	return &execution{
		scheduler: s,
		mem:       newMemory(model),
		threads:   make(map[sched.ThreadID]*thread),
		nextTid:   sched.InitialThread,
		parkCh:    make(chan parkMsg),
	}
}

// Execute runs p once under the given scheduler and memory model,
// returning the main thread's result and the trace of the run.
func Execute(s Scheduler, model MemType, p Program) (Result, sched.Trace) {
	var body Basic
	switch prog := p.(type) {
	case Basic:
		body = prog
	case WithSetup:
		body = prog.flatten()
	default:
		return Result{Err: &sched.Failure{
			Kind: sched.FailInternalError,
			Err:  fmt.Errorf("unknown program type %T", p),
		}}, nil
	}
	ex := newExecution(s, model)
	return ex.run(body)
}

// run drives the execution to completion.
func (ex *execution) run(body Basic) (Result, sched.Trace) {
	ex.spawn(body)
	ex.drainParks()

	for !ex.mainDone {
		runnable := ex.runnableList()
		if len(runnable) == 0 {
			ex.result = Result{Err: ex.deadlockFailure()}
			break
		}

		chosen, ok := ex.scheduler.Schedule(ex.prior, runnable)
		if !ok {
			ex.result = Result{Err: &sched.Failure{Kind: sched.FailAbort}}
			break
		}
		if !runnableContains(runnable, chosen) {
			ex.result = Result{Err: &sched.Failure{
				Kind: sched.FailInternalError,
				Err:  fmt.Errorf("scheduler chose non-runnable thread %s", chosen),
			}}
			break
		}

		decision, alts := ex.decisionFor(chosen, runnable)

		if chosen.IsCommit() {
			ref, writer, committed := ex.mem.commit(chosen)
			if !committed {
				ex.result = Result{Err: &sched.Failure{
					Kind: sched.FailInternalError,
					Err:  fmt.Errorf("commit thread %s has no pending write", chosen),
				}}
				break
			}
			ex.recordStep(chosen, decision, alts, sched.ThreadAction{
				Kind:  sched.ActionCommitRef,
				Child: writer,
				Ref:   ref,
			})
			continue
		}

		t := ex.threads[chosen]
		t.started = true
		// The park accounting must be ordered before the gate send: a Fork
		// effect increments awaiting from the released goroutine, and that
		// increment must land on top of this write, not race with it.
		ex.awaiting = 1
		t.gate <- struct{}{}
		ex.drainParks()
		ex.recordStep(chosen, decision, alts, ex.lastAction)
	}

	ex.killRemaining()
	return ex.result, ex.trace
}

// spawn registers a new user thread and starts its goroutine. The caller
// must account for the thread's initial park (drainParks awaits it).
func (ex *execution) spawn(body Basic) *thread {
	id := ex.nextTid
	ex.nextTid++
	t := &thread{id: id, gate: make(chan struct{})}
	ex.threads[id] = t
	ex.order = append(ex.order, id)
	ex.awaiting++

	ctx := &Ctx{ex: ex, t: t}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(killSentinel); ok {
					return
				}
				panic(r)
			}
		}()
		ctx.runThread(body)
	}()
	return t
}

// drainParks waits until every thread the engine is owed a park from has
// parked or exited. The count covers the resumed thread plus any threads
// it forked during its step.
func (ex *execution) drainParks() {
	for ex.awaiting > 0 {
		msg := <-ex.parkCh
		ex.awaiting--
		if msg.action != nil {
			ex.lastAction = *msg.action
		}
		if msg.exit {
			msg.t.done = true
			if msg.t.id == sched.InitialThread {
				ex.mainDone = true
				ex.result = ex.mainResult(msg)
			}
			continue
		}
		msg.t.la = msg.la
	}
}

// mainResult shapes the main thread's exit into the execution result.
func (ex *execution) mainResult(msg parkMsg) Result {
	if msg.err != nil {
		return Result{Err: &sched.Failure{Kind: sched.FailUncaughtException, Err: msg.err}}
	}
	return Result{Value: msg.val}
}

// runnableList collects the schedulable threads: live unblocked user
// threads plus phantom commit threads with pending writes, ascending.
func (ex *execution) runnableList() []Runnable {
	out := ex.mem.commitRunnable()
	for _, id := range ex.order {
		t := ex.threads[id]
		if t.done || t.block != notBlocked {
			continue
		}
		out = append(out, Runnable{ID: t.id, Lookahead: t.la})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// decisionFor computes the decision that schedules chosen, and the
// alternative decisions for the rest of the runnable set.
func (ex *execution) decisionFor(chosen sched.ThreadID, runnable []Runnable) (sched.Decision, []sched.Decision) {
	started := func(tid sched.ThreadID) bool {
		if tid.IsCommit() {
			return false
		}
		return ex.threads[tid].started
	}

	var decision sched.Decision
	if !ex.havePrev {
		decision = sched.Start(chosen)
	} else {
		decision = sched.DecisionOf(ex.prevTid, chosen, started(chosen))
	}

	alts := make([]sched.Decision, 0, len(runnable)-1)
	for _, r := range runnable {
		if r.ID == chosen {
			continue
		}
		if !ex.havePrev {
			alts = append(alts, sched.Start(r.ID))
			continue
		}
		alts = append(alts, sched.DecisionOf(ex.prevTid, r.ID, started(r.ID)))
	}
	return decision, alts
}

// recordStep appends the completed step to the trace and advances the
// prior-step state handed to the scheduler.
func (ex *execution) recordStep(chosen sched.ThreadID, decision sched.Decision, alts []sched.Decision, action sched.ThreadAction) {
	ex.trace = append(ex.trace, sched.TraceStep{
		Decision:     decision,
		Alternatives: alts,
		Action:       action,
	})
	ex.prior = &PriorStep{Decision: decision, Action: action}
	ex.prevTid = chosen
	ex.havePrev = true
}

// deadlockFailure classifies an all-blocked state: STMDeadlock when every
// blocked thread waits inside a transaction, Deadlock otherwise.
func (ex *execution) deadlockFailure() *sched.Failure {
	allSTM := true
	anyBlocked := false
	for _, id := range ex.order {
		t := ex.threads[id]
		if t.done {
			continue
		}
		anyBlocked = true
		if t.block != blockedSTM {
			allSTM = false
		}
	}
	if anyBlocked && allSTM {
		return &sched.Failure{Kind: sched.FailSTMDeadlock}
	}
	return &sched.Failure{Kind: sched.FailDeadlock}
}

// killRemaining unwinds every live thread goroutine. They are all parked
// on their gates; closing a gate with the killed flag set makes the next
// resume panic out of the thread body.
func (ex *execution) killRemaining() {
	for _, id := range ex.order {
		t := ex.threads[id]
		if t.done {
			continue
		}
		t.killed = true
		close(t.gate)
	}
}

// wake unblocks every thread in mv.waiting matching one of kinds and
// returns their ids, ascending. The woken threads stay parked; they become
// runnable and re-attempt their operation when next scheduled.
func (ex *execution) wake(mv *mvarState, kinds ...blockKind) []sched.ThreadID {
	var woken []sched.ThreadID
	for tid, bk := range mv.waiting {
		for _, k := range kinds {
			if bk == k {
				woken = append(woken, tid)
				break
			}
		}
	}
	sort.Slice(woken, func(i, j int) bool { return woken[i] < woken[j] })
	for _, tid := range woken {
		delete(mv.waiting, tid)
		ex.threads[tid].block = notBlocked
	}
	return woken
}

// wakeSTM unblocks every transaction-blocked thread watching one of the
// written TVars.
func (ex *execution) wakeSTM(written []sched.TVarID) []sched.ThreadID {
	if len(written) == 0 {
		return nil
	}
	hit := make(map[sched.TVarID]bool, len(written))
	for _, tv := range written {
		hit[tv] = true
	}
	var woken []sched.ThreadID
	for _, id := range ex.order {
		t := ex.threads[id]
		if t.block != blockedSTM {
			continue
		}
		for _, tv := range t.watch {
			if hit[tv] {
				woken = append(woken, t.id)
				break
			}
		}
	}
	sort.Slice(woken, func(i, j int) bool { return woken[i] < woken[j] })
	for _, tid := range woken {
		t := ex.threads[tid]
		t.block = notBlocked
		t.watch = nil
	}
	return woken
}

func runnableContains(rs []Runnable, tid sched.ThreadID) bool {
	for _, r := range rs {
		if r.ID == tid {
			return true
		}
	}
	return false
}
