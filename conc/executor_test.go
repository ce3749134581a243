package conc

import (
	"errors"
	"testing"

	"interleave/sched"
)

// lowestSched always picks the lowest runnable id. Commit phantoms have
// negative ids, so buffered writes drain eagerly under this policy.
type lowestSched struct{}

func (lowestSched) Schedule(_ *PriorStep, runnable []Runnable) (sched.ThreadID, bool) {
	return runnable[0].ID, true
}

// highestSched always picks the highest runnable id: newest user thread
// first, commit phantoms never (unless nothing else is runnable). It also
// records the largest number of commit phantoms observed at one point.
type highestSched struct {
	maxCommits int
}

func (h *highestSched) Schedule(_ *PriorStep, runnable []Runnable) (sched.ThreadID, bool) {
	commits := 0
	for _, r := range runnable {
		if r.ID.IsCommit() {
			commits++
		}
	}
	if commits > h.maxCommits {
		h.maxCommits = commits
	}
	return runnable[len(runnable)-1].ID, true
}

// replaySched replays a recorded schedule and aborts past its end.
type replaySched struct {
	decisions []sched.Decision
	prev      sched.ThreadID
	next      int
}

func (r *replaySched) Schedule(_ *PriorStep, _ []Runnable) (sched.ThreadID, bool) {
	if r.next >= len(r.decisions) {
		return 0, false
	}
	tid := r.decisions[r.next].Target(r.prev)
	r.prev = tid
	r.next++
	return tid, true
}

// abortSched declines immediately.
type abortSched struct{}

func (abortSched) Schedule(*PriorStep, []Runnable) (sched.ThreadID, bool) { return 0, false }

func TestExecute_PureValue(t *testing.T) {
	res, trace := Execute(lowestSched{}, SequentialConsistency, Basic(func(*Ctx) (any, error) {
		return 42, nil
	}))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != 42 {
		t.Fatalf("value mismatch: got %v want 42", res.Value)
	}
	if len(trace) != 1 || trace[0].Action.Kind != sched.ActionStop {
		t.Fatalf("pure program must trace a single Stop step, got %v", trace)
	}
}

func forkAndTake() Program {
	return Basic(func(c *Ctx) (any, error) {
		box := c.NewMVar()
		c.Fork(func(cc *Ctx) error {
			cc.PutMVar(box, 1)
			return nil
		})
		return c.TakeMVar(box), nil
	})
}

func TestExecute_ForkAndMVar(t *testing.T) {
	var box MVar
	prog := Basic(func(c *Ctx) (any, error) {
		box = c.NewMVar()
		c.Fork(func(cc *Ctx) error {
			cc.PutMVar(box, 1)
			return nil
		})
		return c.TakeMVar(box), nil
	})

	res, trace := Execute(lowestSched{}, SequentialConsistency, prog)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != 1 {
		t.Fatalf("value mismatch: got %v want 1", res.Value)
	}

	sawFork, sawPut, sawTake := false, false, false
	for _, step := range trace {
		switch step.Action.Kind {
		case sched.ActionFork:
			sawFork = true
		case sched.ActionPutMVar, sched.ActionTakeMVar:
			if step.Action.MVar != box.ID() {
				t.Fatalf("step %v names the wrong MVar: got %d want %d", step.Action, step.Action.MVar, box.ID())
			}
			if step.Action.Kind == sched.ActionPutMVar {
				sawPut = true
			} else {
				sawTake = true
			}
		}
	}
	if !sawFork || !sawPut || !sawTake {
		t.Fatalf("trace missing expected actions: %v", trace)
	}
}

func TestExecute_ReplayRoundTrip(t *testing.T) {
	res, trace := Execute(lowestSched{}, SequentialConsistency, forkAndTake())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	replayed, trace2 := Execute(&replaySched{decisions: trace.Decisions()}, SequentialConsistency, forkAndTake())
	if replayed.Err != nil {
		t.Fatalf("replay failed: %v", replayed.Err)
	}
	if replayed.Value != res.Value {
		t.Fatalf("replay result mismatch: got %v want %v", replayed.Value, res.Value)
	}

	h1, err := trace.Hash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := trace2.Hash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("replaying a schedule must reproduce the trace:\n%s\n%s", trace, trace2)
	}
}

func TestExecute_Deadlock(t *testing.T) {
	res, _ := Execute(lowestSched{}, SequentialConsistency, Basic(func(c *Ctx) (any, error) {
		box := c.NewMVar()
		return c.TakeMVar(box), nil
	}))
	if !sched.IsFailureKind(res.Err, sched.FailDeadlock) {
		t.Fatalf("expected deadlock, got %v", res.Err)
	}
}

func TestExecute_STMDeadlock(t *testing.T) {
	res, _ := Execute(lowestSched{}, SequentialConsistency, Basic(func(c *Ctx) (any, error) {
		tv := c.NewTVar(0)
		v := c.Atomically(func(tx *Tx) (any, error) {
			if tx.Read(tv).(int) == 0 {
				tx.Retry()
			}
			return tx.Read(tv), nil
		})
		return v, nil
	}))
	if !sched.IsFailureKind(res.Err, sched.FailSTMDeadlock) {
		t.Fatalf("expected STM deadlock, got %v", res.Err)
	}
}

func TestExecute_STM_RetryWakesOnCommit(t *testing.T) {
	var tv TVar
	prog := Basic(func(c *Ctx) (any, error) {
		tv = c.NewTVar(0)
		done := c.NewMVar()
		c.Fork(func(cc *Ctx) error {
			v := cc.Atomically(func(tx *Tx) (any, error) {
				if tx.Read(tv).(int) == 0 {
					tx.Retry()
				}
				return tx.Read(tv), nil
			})
			cc.PutMVar(done, v)
			return nil
		})
		c.Atomically(func(tx *Tx) (any, error) {
			tx.Write(tv, 1)
			return nil, nil
		})
		return c.TakeMVar(done), nil
	})

	s := &highestSched{}
	res, trace := Execute(s, SequentialConsistency, prog)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != 1 {
		t.Fatalf("value mismatch: got %v want 1", res.Value)
	}

	sawBlocked := false
	for _, step := range trace {
		if step.Action.Kind != sched.ActionBlockedSTM {
			continue
		}
		sawBlocked = true
		if len(step.Action.TVars) != 1 || step.Action.TVars[0] != tv.ID() {
			t.Fatalf("retry must watch the TVar it read: %v", step.Action)
		}
	}
	if !sawBlocked {
		t.Fatalf("child transaction should have retried once: %v", trace)
	}
}

// tsoWitness writes a ref, forks an observer, and reports what each
// thread saw. Under TSO with commits held back the observer reads the old
// committed value while the writer reads through its own buffer.
func tsoWitness() Program {
	return Basic(func(c *Ctx) (any, error) {
		x := c.NewRef(0)
		obs := c.NewMVar()
		c.WriteRef(x, 1)
		c.Fork(func(cc *Ctx) error {
			cc.PutMVar(obs, cc.ReadRef(x))
			return nil
		})
		childSaw := c.TakeMVar(obs).(int)
		mainSaw := c.ReadRef(x).(int)
		return [2]int{childSaw, mainSaw}, nil
	})
}

func TestExecute_TSO_BufferedWriteInvisibleUntilCommit(t *testing.T) {
	res, _ := Execute(&highestSched{}, TotalStoreOrder, tsoWitness())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != [2]int{0, 1} {
		t.Fatalf("TSO: got %v want [0 1] (buffered write invisible to observer)", res.Value)
	}
}

func TestExecute_SC_WriteImmediatelyVisible(t *testing.T) {
	res, _ := Execute(&highestSched{}, SequentialConsistency, tsoWitness())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != [2]int{1, 1} {
		t.Fatalf("SC: got %v want [1 1]", res.Value)
	}
}

func TestExecute_TSO_EagerCommitBehavesLikeSC(t *testing.T) {
	res, _ := Execute(lowestSched{}, TotalStoreOrder, tsoWitness())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != [2]int{1, 1} {
		t.Fatalf("TSO with eager commits: got %v want [1 1]", res.Value)
	}
}

func TestExecute_CommitThreadsPerBuffer(t *testing.T) {
	prog := Basic(func(c *Ctx) (any, error) {
		a := c.NewRef(0)
		b := c.NewRef(0)
		c.WriteRef(a, 1)
		c.WriteRef(b, 1)
		c.Yield()
		return nil, nil
	})

	tso := &highestSched{}
	if res, _ := Execute(tso, TotalStoreOrder, prog); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if tso.maxCommits != 1 {
		t.Fatalf("TSO buffers per thread: got %d commit threads, want 1", tso.maxCommits)
	}

	pso := &highestSched{}
	if res, _ := Execute(pso, PartialStoreOrder, prog); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if pso.maxCommits != 2 {
		t.Fatalf("PSO buffers per thread-per-ref: got %d commit threads, want 2", pso.maxCommits)
	}
}

func TestExecute_ModRefIsBarrier(t *testing.T) {
	var x Ref
	res, trace := Execute(&highestSched{}, TotalStoreOrder, Basic(func(c *Ctx) (any, error) {
		x = c.NewRef(0)
		obs := c.NewMVar()
		c.WriteRef(x, 1)
		c.ModRef(x, func(v any) any { return v.(int) + 1 })
		c.Fork(func(cc *Ctx) error {
			cc.PutMVar(obs, cc.ReadRef(x))
			return nil
		})
		return c.TakeMVar(obs), nil
	}))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != 2 {
		t.Fatalf("modify must flush the buffer and commit: got %v want 2", res.Value)
	}

	sawMod := false
	for _, step := range trace {
		if step.Action.Kind == sched.ActionModRef && step.Action.Ref == x.ID() {
			sawMod = true
		}
	}
	if !sawMod {
		t.Fatalf("trace must record the modify against the right ref: %v", trace)
	}
}

func TestExecute_Abort(t *testing.T) {
	res, trace := Execute(abortSched{}, SequentialConsistency, forkAndTake())
	if !sched.IsFailureKind(res.Err, sched.FailAbort) {
		t.Fatalf("expected abort, got %v", res.Err)
	}
	if len(trace) != 0 {
		t.Fatalf("aborting before the first step must leave an empty trace, got %v", trace)
	}
}

func TestExecute_UncaughtException(t *testing.T) {
	boom := errors.New("boom")
	res, trace := Execute(lowestSched{}, SequentialConsistency, Basic(func(c *Ctx) (any, error) {
		return nil, boom
	}))
	if !sched.IsFailureKind(res.Err, sched.FailUncaughtException) {
		t.Fatalf("expected uncaught exception, got %v", res.Err)
	}
	if !errors.Is(res.Err, boom) {
		t.Fatalf("failure must wrap the user error, got %v", res.Err)
	}
	if len(trace) == 0 || trace[len(trace)-1].Action.Kind != sched.ActionThrow {
		t.Fatalf("trace must end in a Throw step, got %v", trace)
	}
}

func TestExecute_ThrowCatch(t *testing.T) {
	boom := errors.New("boom")
	res, _ := Execute(lowestSched{}, SequentialConsistency, Basic(func(c *Ctx) (any, error) {
		return c.Catch(
			func() (any, error) {
				c.Throw(boom)
				return "unreachable", nil
			},
			func(err error) (any, error) {
				if !errors.Is(err, boom) {
					return nil, err
				}
				return "caught", nil
			},
		)
	}))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != "caught" {
		t.Fatalf("value mismatch: got %v want caught", res.Value)
	}
}

func TestExecute_ChildExceptionDoesNotFailMain(t *testing.T) {
	boom := errors.New("boom")
	res, _ := Execute(lowestSched{}, SequentialConsistency, Basic(func(c *Ctx) (any, error) {
		box := c.NewMVar()
		c.Fork(func(cc *Ctx) error {
			cc.PutMVar(box, "ok")
			return boom
		})
		return c.TakeMVar(box), nil
	}))
	if res.Err != nil {
		t.Fatalf("a child's uncaught exception must not fail the main thread: %v", res.Err)
	}
	if res.Value != "ok" {
		t.Fatalf("value mismatch: got %v want ok", res.Value)
	}
}
