package interleave

import (
	"interleave/conc"
	"interleave/internal/dpor"
	"interleave/internal/strategy"
	"interleave/sched"
)

// Outcome pairs a result with the trace that produced it. The trace is
// nil when the discard function dropped it.
type Outcome struct {
	Result Result
	Trace  sched.Trace
}

// Exploration walks the schedule space one execution at a time. It is the
// single yielding point of the engine: Next performs executions until one
// produces a non-discarded outcome, so the caller controls how many
// executions actually happen.
type Exploration struct {
	step func() (*Outcome, bool)
	done bool
}

// Next returns the next outcome. ok is false when the exploration is
// exhausted (tree done, or random budget spent).
func (e *Exploration) Next() (Outcome, bool) {
	for !e.done {
		o, more := e.step()
		if !more {
			e.done = true
			break
		}
		if o != nil {
			return *o, true
		}
	}
	return Outcome{}, false
}

// All drains the exploration, forcing every remaining execution.
func (e *Exploration) All() []Outcome {
	var out []Outcome
	for {
		o, ok := e.Next()
		if !ok {
			return out
		}
		out = append(out, o)
	}
}

// runner performs one execution, replaying from a snapshot when the
// program's setup phase allowed one.
type runner struct {
	settings Settings
	program  conc.Program
	snapshot *conc.Snapshot
}

func newRunner(settings Settings, p conc.Program) *runner {
	r := &runner{settings: settings, program: p}
	if conc.CanSnapshot(p) {
		snap, err := conc.NewSnapshot(p)
		if err != nil {
			logger := settings.Logger()
			logger.Debug().Err(err).
				Msg("snapshot unavailable, falling back to full replay")
		} else {
			r.snapshot = snap
		}
	}
	return r
}

func (r *runner) run(s conc.Scheduler) (Result, sched.Trace) {
	if r.snapshot != nil {
		return conc.ExecuteWithSnapshot(s, r.settings.MemType(), r.snapshot)
	}
	return conc.Execute(s, r.settings.MemType(), r.program)
}

// shape applies the discard policy to a finished execution. A nil outcome
// with more == true means "suppressed, keep going".
func (r *runner) shape(res Result, trace sched.Trace) *Outcome {
	if d := r.settings.Discard(); d != nil {
		switch disc := d(res); {
		case disc == nil:
		case *disc == DiscardResultAndTrace:
			return nil
		case *disc == DiscardTrace:
			return &Outcome{Result: res}
		}
	}
	return &Outcome{Result: res, Trace: trace}
}

// Explore starts an exploration of p under the given settings.
func Explore(settings Settings, p conc.Program) *Exploration {
	run := newRunner(settings, p)
	way := settings.Way()
	switch way.kind {
	case waySystematic:
		return systematicExploration(settings, run)
	default:
		return randomExploration(settings, run)
	}
}

// systematicExploration drives BPOR: pick a prefix from the tree, execute
// under the DPOR scheduler, fold the trace and its backtrack steps back
// in, repeat until the tree is exhausted.
func systematicExploration(settings Settings, run *runner) *Exploration {
	logger := settings.Logger()
	bounds := strategy.Bounds{
		Preemption: settings.Way().bounds.Preemption,
		Fair:       settings.Way().bounds.Fair,
		Length:     settings.Way().bounds.Length,
	}
	boundFn, backtrackFn := strategy.CombineBounds(bounds)
	tree := dpor.New(settings.MemType(), []sched.ThreadID{sched.InitialThread})

	step := func() (*Outcome, bool) {
		prefix, conservative, sleep, ok := tree.FindSchedulePrefix()
		if !ok {
			return nil, false
		}

		s := strategy.NewDPOR(settings.MemType(), prefix, sleep, boundFn)
		res, trace := run.run(s)

		if s.Ignored() {
			logger.Debug().Msg("execution ignored (unrunnable prefix or sleep-blocked)")
			return nil, true
		}

		tree.IncorporateTrace(conservative, trace)
		steps := dpor.FindBacktrackSteps(settings.MemType(), backtrackFn, s.BoundKilled(), s.Points(), trace)
		tree.IncorporateBacktrackSteps(steps)

		if s.BoundKilled() {
			logger.Debug().Msg("execution cut by bound; trace folded, result dropped")
			return nil, true
		}

		logger.Debug().Str("result", settings.DebugShow()(res)).Msg("execution complete")
		return run.shape(res, trace), true
	}
	return &Exploration{step: step}
}

// randomExploration drives the uniform and weighted ways: a fixed budget
// of executions sharing one scheduler, with weight redraws for the swarm.
func randomExploration(settings Settings, run *runner) *Exploration {
	way := settings.Way()
	remaining := way.n

	var scheduler conc.Scheduler
	var weighted *strategy.Weighted
	if way.kind == wayWeighted {
		weighted = strategy.NewWeighted(way.rand)
		scheduler = weighted
	} else {
		scheduler = strategy.NewUniform(way.rand)
	}

	sinceRedraw := 0
	step := func() (*Outcome, bool) {
		if remaining <= 0 {
			return nil, false
		}
		remaining--

		res, trace := run.run(scheduler)

		if weighted != nil {
			sinceRedraw++
			if way.reuse > 0 && sinceRedraw >= way.reuse {
				weighted.Redraw()
				sinceRedraw = 0
			}
		}
		return run.shape(res, trace), true
	}
	return &Exploration{step: step}
}
