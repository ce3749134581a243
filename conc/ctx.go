package conc

import (
	"interleave/sched"
)

// Ctx is a thread's view of the execution. Every method that touches
// shared state is a scheduling point; between calls the thread may only
// use thread-local data.
//
// A Ctx is bound to its thread and must not be shared with forked threads
// (each fork receives its own).
type Ctx struct {
	ex *execution
	t  *thread

	catchDepth int
}

// Me returns the id of the calling thread.
func (c *Ctx) Me() sched.ThreadID { return c.t.id }

// runThread is the top of every thread goroutine: run the body, then take
// a final scheduled step for the thread's termination.
func (c *Ctx) runThread(body Basic) {
	t := c.t
	ex := c.ex

	var val any
	var err error
	thrown := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				if te, ok := r.(thrownError); ok {
					err = te.err
					thrown = true
					return
				}
				panic(r)
			}
		}()
		val, err = body(c)
	}()

	if err != nil && !thrown {
		// An error return is an uncaught exception that never took a
		// Throw step; give it one so the trace accounts for it.
		ex.parkCh <- parkMsg{t: t, action: t.pending, la: sched.Lookahead{Kind: sched.ActionThrow}}
		c.await()
		a := sched.ThreadAction{Kind: sched.ActionThrow}
		t.pending = &a
		thrown = true
	}

	if !thrown {
		ex.parkCh <- parkMsg{t: t, action: t.pending, la: sched.Lookahead{Kind: sched.ActionStop}}
		c.await()
		a := sched.ThreadAction{Kind: sched.ActionStop}
		t.pending = &a
	}

	ex.parkCh <- parkMsg{t: t, action: t.pending, exit: true, val: val, err: err}
}

// await parks the thread on its gate until the engine resumes it.
func (c *Ctx) await() {
	<-c.t.gate
	if c.t.killed {
		panic(killSentinel{})
	}
}

// step performs one scheduled step: park with the lookahead, wait to be
// chosen, run the effect exclusively, and stage its action for the next
// park. The effect reports blocked == true when the thread must re-attempt
// the operation; step then parks again with the same lookahead.
func (c *Ctx) step(la sched.Lookahead, effect func() (act sched.ThreadAction, out any, blocked bool)) any {
	t := c.t
	for {
		c.ex.parkCh <- parkMsg{t: t, action: t.pending, la: la}
		c.await()
		act, out, blocked := effect()
		a := act
		t.pending = &a
		if !blocked {
			return out
		}
		c.ex.sawBlock = true
	}
}

// Fork starts a new thread running body and returns its id. The child's
// return value is discarded; an error is the child's uncaught exception.
func (c *Ctx) Fork(body func(ctx *Ctx) error) sched.ThreadID {
	out := c.step(sched.Lookahead{Kind: sched.ActionFork}, func() (sched.ThreadAction, any, bool) {
		c.ex.sawFork = true
		child := c.ex.spawn(func(cc *Ctx) (any, error) {
			return nil, body(cc)
		})
		return sched.ThreadAction{Kind: sched.ActionFork, Child: child.id}, child.id, false
	})
	return out.(sched.ThreadID)
}

// Yield gives up the scheduler voluntarily. A switch away from a yielding
// thread does not count as a preemption.
func (c *Ctx) Yield() {
	c.step(sched.Lookahead{Kind: sched.ActionYield}, func() (sched.ThreadAction, any, bool) {
		return sched.ThreadAction{Kind: sched.ActionYield}, nil, false
	})
}

// NewRef allocates a shared reference holding initial.
func (c *Ctx) NewRef(initial any) Ref {
	out := c.step(sched.Lookahead{Kind: sched.ActionNewRef}, func() (sched.ThreadAction, any, bool) {
		id := c.ex.mem.newRef(initial)
		return sched.ThreadAction{Kind: sched.ActionNewRef, Ref: id}, Ref{id: id}, false
	})
	return out.(Ref)
}

// ReadRef returns the reference's value as seen by this thread: its own
// newest buffered write under a relaxed model, the committed value
// otherwise.
func (c *Ctx) ReadRef(r Ref) any {
	return c.step(sched.Lookahead{Kind: sched.ActionReadRef, Ref: r.id}, func() (sched.ThreadAction, any, bool) {
		v := c.ex.mem.read(c.t.id, r.id)
		return sched.ThreadAction{Kind: sched.ActionReadRef, Ref: r.id}, v, false
	})
}

// WriteRef writes the reference. Under a relaxed model the write is
// buffered and becomes visible to other threads when committed.
func (c *Ctx) WriteRef(r Ref, val any) {
	c.step(sched.Lookahead{Kind: sched.ActionWriteRef, Ref: r.id}, func() (sched.ThreadAction, any, bool) {
		c.ex.mem.write(c.t.id, r.id, val)
		return sched.ThreadAction{Kind: sched.ActionWriteRef, Ref: r.id}, nil, false
	})
}

// ModRef atomically applies f to the reference and returns the new value.
// It is a barrier: the thread's pending writes covering the reference
// commit first.
func (c *Ctx) ModRef(r Ref, f func(any) any) any {
	return c.step(sched.Lookahead{Kind: sched.ActionModRef, Ref: r.id}, func() (sched.ThreadAction, any, bool) {
		mem := c.ex.mem
		mem.flush(c.t.id, r.id)
		next := f(mem.committed[r.id])
		mem.committed[r.id] = next
		return sched.ThreadAction{Kind: sched.ActionModRef, Ref: r.id}, next, false
	})
}

// NewMVar allocates an empty MVar.
func (c *Ctx) NewMVar() MVar {
	out := c.step(sched.Lookahead{Kind: sched.ActionNewMVar}, func() (sched.ThreadAction, any, bool) {
		c.ex.mvars = append(c.ex.mvars, newMVarState())
		id := sched.MVarID(len(c.ex.mvars) - 1)
		return sched.ThreadAction{Kind: sched.ActionNewMVar, MVar: id}, MVar{id: id}, false
	})
	return out.(MVar)
}

// PutMVar fills the MVar, blocking while it is full. Filling wakes every
// thread blocked taking or reading it.
func (c *Ctx) PutMVar(m MVar, val any) {
	c.step(sched.Lookahead{Kind: sched.ActionPutMVar, MVar: m.id}, func() (sched.ThreadAction, any, bool) {
		mv := c.ex.mvars[m.id]
		if mv.full {
			mv.waiting[c.t.id] = blockedPut
			c.t.block = blockedPut
			return sched.ThreadAction{Kind: sched.ActionBlockedPut, MVar: m.id}, nil, true
		}
		mv.full = true
		mv.val = val
		woken := c.ex.wake(mv, blockedTake, blockedRead)
		return sched.ThreadAction{Kind: sched.ActionPutMVar, MVar: m.id, Woken: woken}, nil, false
	})
}

// TakeMVar empties the MVar and returns its value, blocking while it is
// empty. Emptying wakes every thread blocked putting into it.
func (c *Ctx) TakeMVar(m MVar) any {
	return c.step(sched.Lookahead{Kind: sched.ActionTakeMVar, MVar: m.id}, func() (sched.ThreadAction, any, bool) {
		mv := c.ex.mvars[m.id]
		if !mv.full {
			mv.waiting[c.t.id] = blockedTake
			c.t.block = blockedTake
			return sched.ThreadAction{Kind: sched.ActionBlockedTake, MVar: m.id}, nil, true
		}
		v := mv.val
		mv.full = false
		mv.val = nil
		woken := c.ex.wake(mv, blockedPut)
		return sched.ThreadAction{Kind: sched.ActionTakeMVar, MVar: m.id, Woken: woken}, v, false
	})
}

// ReadMVar returns the MVar's value without emptying it, blocking while it
// is empty.
func (c *Ctx) ReadMVar(m MVar) any {
	return c.step(sched.Lookahead{Kind: sched.ActionReadMVar, MVar: m.id}, func() (sched.ThreadAction, any, bool) {
		mv := c.ex.mvars[m.id]
		if !mv.full {
			mv.waiting[c.t.id] = blockedRead
			c.t.block = blockedRead
			return sched.ThreadAction{Kind: sched.ActionBlockedRead, MVar: m.id}, nil, true
		}
		return sched.ThreadAction{Kind: sched.ActionReadMVar, MVar: m.id}, mv.val, false
	})
}

// NewTVar allocates a transactional variable holding initial.
func (c *Ctx) NewTVar(initial any) TVar {
	out := c.step(sched.Lookahead{Kind: sched.ActionNewTVar}, func() (sched.ThreadAction, any, bool) {
		c.ex.tvarVals = append(c.ex.tvarVals, initial)
		id := sched.TVarID(len(c.ex.tvarVals) - 1)
		return sched.ThreadAction{Kind: sched.ActionNewTVar, TVars: []sched.TVarID{id}}, TVar{id: id}, false
	})
	return out.(TVar)
}

// Atomically runs body as a single transaction and a single scheduling
// event. A retried transaction blocks until another transaction writes a
// TVar it read, then reruns. An error from body aborts the transaction
// (all writes discarded) and is rethrown as an exception.
func (c *Ctx) Atomically(body func(tx *Tx) (any, error)) any {
	var thrown error
	out := c.step(sched.Lookahead{Kind: sched.ActionSTM}, func() (sched.ThreadAction, any, bool) {
		outcome, val, err, touched, written := c.ex.runTx(body)
		switch outcome {
		case txRetried:
			c.t.block = blockedSTM
			c.t.watch = touched
			return sched.ThreadAction{Kind: sched.ActionBlockedSTM, TVars: touched}, nil, true
		case txThrew:
			thrown = err
			return sched.ThreadAction{Kind: sched.ActionSTM, TVars: touched}, nil, false
		default:
			woken := c.ex.wakeSTM(written)
			return sched.ThreadAction{
				Kind:      sched.ActionSTM,
				TVars:     touched,
				Woken:     woken,
				Committed: true,
			}, val, false
		}
	})
	if thrown != nil {
		panic(thrownError{err: thrown})
	}
	return out
}

// Throw raises err as an exception in the calling thread. It unwinds to
// the nearest enclosing Catch, or terminates the thread; an uncaught
// throw on the main thread fails the execution.
func (c *Ctx) Throw(err error) {
	caught := c.catchDepth > 0
	c.step(sched.Lookahead{Kind: sched.ActionThrow}, func() (sched.ThreadAction, any, bool) {
		return sched.ThreadAction{Kind: sched.ActionThrow, Caught: caught}, nil, false
	})
	panic(thrownError{err: err})
}

// Catch runs body; if it throws, handler receives the error. Errors
// returned (rather than thrown) by body are also routed to handler so the
// two styles behave alike.
func (c *Ctx) Catch(body func() (any, error), handler func(err error) (any, error)) (any, error) {
	c.catchDepth++
	var caught *thrownError
	v, err := func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				if te, ok := r.(thrownError); ok {
					caught = &te
					return
				}
				panic(r)
			}
		}()
		return body()
	}()
	c.catchDepth--
	if caught != nil {
		return handler(caught.err)
	}
	if err != nil {
		return handler(err)
	}
	return v, nil
}
