package conc

// Result is the outcome of one execution: the main thread's value, or an
// error. Engine-detected outcomes (deadlock, abort, uncaught exception)
// are reported as *sched.Failure in Err; they are data, not engine errors.
type Result struct {
	Value any
	Err   error
}

// Program is a computation the executor can run. It is either a Basic
// function or a WithSetup pair.
type Program interface {
	isProgram()
}

// Basic is a program with no snapshot support: the whole computation
// replays on every execution.
type Basic func(ctx *Ctx) (any, error)

func (Basic) isProgram() {}

// WithSetup splits a program into a deterministic setup phase and a main
// phase. The setup phase must be deterministic and single-threaded: no
// forking, no blocking, no scheduling nondeterminism. In exchange the
// engine can snapshot the state it leaves behind and replay only the main
// phase on every execution.
type WithSetup struct {
	// Setup allocates shared state and returns a handle passed to Main.
	Setup func(ctx *Ctx) (any, error)

	// Main is the computation under test.
	Main func(ctx *Ctx, handle any) (any, error)
}

func (WithSetup) isProgram() {}

// flatten joins the two phases into a single body, for executions that do
// not use a snapshot.
func (p WithSetup) flatten() Basic {
	return func(ctx *Ctx) (any, error) {
		handle, err := p.Setup(ctx)
		if err != nil {
			return nil, err
		}
		return p.Main(ctx, handle)
	}
}
