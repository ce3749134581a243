package interleave

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"interleave/conc"
)

// MemType selects the simulated memory model.
type MemType = conc.MemType

const (
	SequentialConsistency = conc.SequentialConsistency
	TotalStoreOrder       = conc.TotalStoreOrder
	PartialStoreOrder     = conc.PartialStoreOrder
)

// Result is the outcome of one execution of the program under test.
type Result = conc.Result

// Rand is the randomness source consumed by the random ways.
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// Bounds configures the systematic search. A nil field disables that
// bound entirely; see Limit.
type Bounds struct {
	Preemption *int
	Fair       *int
	Length     *int
}

// Limit is a convenience for filling Bounds fields.
func Limit(n int) *int { return &n }

// NoBounds disables all bounds: the search is plain (unbounded) DPOR.
func NoBounds() Bounds { return Bounds{} }

// DefaultBounds bounds preemptions at 2 and fairness at 5, which finds
// most bugs while keeping the search small.
func DefaultBounds() Bounds {
	return Bounds{Preemption: Limit(2), Fair: Limit(5)}
}

type wayKind uint8

const (
	waySystematic wayKind = iota
	wayUniform
	wayWeighted
)

// Way is how the exploration walks the schedule space.
type Way struct {
	kind   wayKind
	bounds Bounds
	rand   Rand
	n      int
	reuse  int
}

// Systematically explores every schedule the bounds admit, pruning
// dependency-equivalent interleavings.
func Systematically(b Bounds) Way {
	return Way{kind: waySystematic, bounds: b}
}

// Uniformly performs n executions, scheduling uniformly at random.
func Uniformly(r Rand, n int) Way {
	return Way{kind: wayUniform, rand: r, n: n}
}

// Swarmily performs n executions with weighted random scheduling,
// redrawing the per-thread weights every reuse executions: a swarm of
// fixed scheduling policies.
func Swarmily(r Rand, n, reuse int) Way {
	return Way{kind: wayWeighted, rand: r, n: n, reuse: reuse}
}

// Discard says how much of an outcome to drop.
type Discard uint8

const (
	// DiscardTrace keeps the result but drops its trace.
	DiscardTrace Discard = iota
	// DiscardResultAndTrace drops the outcome entirely.
	DiscardResultAndTrace
)

// DiscardFunc inspects a result and decides what to drop; nil means keep
// everything.
type DiscardFunc func(Result) *Discard

// Settings is the full configuration of an exploration. Build one with
// FromWayAndMemType and adjust it through the setters; the zero value is
// not meaningful.
type Settings struct {
	way       Way
	memType   MemType
	discard   DiscardFunc
	debugShow func(Result) string
	logger    zerolog.Logger
}

// debugSpew renders values deterministically for debug output and result
// keying: map keys are sorted, pointer addresses suppressed.
var debugSpew = &spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// FromWayAndMemType builds settings with sensible defaults for the rest:
// no discarding, spew-based debug rendering, no logging.
func FromWayAndMemType(way Way, memType MemType) Settings {
	return Settings{
		way:       way,
		memType:   memType,
		debugShow: func(r Result) string { return debugSpew.Sdump(r) },
		logger:    zerolog.Nop(),
	}
}

// Way returns the configured exploration way.
func (s Settings) Way() Way { return s.way }

// SetWay replaces the exploration way.
func (s *Settings) SetWay(w Way) { s.way = w }

// MemType returns the configured memory model.
func (s Settings) MemType() MemType { return s.memType }

// SetMemType replaces the memory model.
func (s *Settings) SetMemType(m MemType) { s.memType = m }

// Discard returns the discard function; nil keeps everything.
func (s Settings) Discard() DiscardFunc { return s.discard }

// SetDiscard replaces the discard function.
func (s *Settings) SetDiscard(d DiscardFunc) { s.discard = d }

// DebugShow returns the result renderer used in debug output.
func (s Settings) DebugShow() func(Result) string { return s.debugShow }

// SetDebugShow replaces the result renderer.
func (s *Settings) SetDebugShow(f func(Result) string) { s.debugShow = f }

// Logger returns the engine's diagnostic logger.
func (s Settings) Logger() zerolog.Logger { return s.logger }

// SetLogger replaces the engine's diagnostic logger. The engine only
// writes at debug level.
func (s *Settings) SetLogger(l zerolog.Logger) { s.logger = l }
