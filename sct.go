package interleave

import (
	"interleave/conc"
)

// RunSCT explores p the given way under the given memory model, yielding
// every discovered outcome with its trace.
func RunSCT(way Way, memType MemType, p conc.Program) *Exploration {
	return Explore(FromWayAndMemType(way, memType), p)
}

// RunSCTDiscard is RunSCT with a discard policy applied as results are
// produced, so dropped executions cost no retention.
func RunSCTDiscard(discard DiscardFunc, way Way, memType MemType, p conc.Program) *Exploration {
	settings := FromWayAndMemType(way, memType)
	settings.SetDiscard(discard)
	return Explore(settings, p)
}

// RunSCTWithSettings is the primitive form the other entry points wrap.
func RunSCTWithSettings(settings Settings, p conc.Program) *Exploration {
	return Explore(settings, p)
}

// SCTBound is sugar for the systematic way with the given bounds.
func SCTBound(memType MemType, bounds Bounds, p conc.Program) *Exploration {
	return RunSCT(Systematically(bounds), memType, p)
}

// SCTUniformRandom performs n uniformly scheduled executions.
func SCTUniformRandom(memType MemType, r Rand, n int, p conc.Program) *Exploration {
	return RunSCT(Uniformly(r, n), memType, p)
}

// SCTWeightedRandom performs n weighted-random executions, redrawing the
// weights every reuse executions.
func SCTWeightedRandom(memType MemType, r Rand, n, reuse int, p conc.Program) *Exploration {
	return RunSCT(Swarmily(r, n, reuse), memType, p)
}

// ResultsSet explores p, drops every trace, and deduplicates the results.
// Order is first-discovery order, which is deterministic for every way.
func ResultsSet(way Way, memType MemType, p conc.Program) []Result {
	dt := DiscardTrace
	exp := RunSCTDiscard(func(Result) *Discard { return &dt }, way, memType, p)

	seen := make(map[string]bool)
	var out []Result
	for {
		o, ok := exp.Next()
		if !ok {
			return out
		}
		key := debugSpew.Sdump(o.Result)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, o.Result)
	}
}

// RunSCTStrict is RunSCT forced to completion: the whole outcome sequence
// is materialised before returning. In a lazy setting strictness is a
// separate variant; here it is simply the drained iterator, and the two
// produce the same sequence.
func RunSCTStrict(way Way, memType MemType, p conc.Program) []Outcome {
	return RunSCT(way, memType, p).All()
}

// RunSCTDiscardStrict is RunSCTDiscard forced to completion.
func RunSCTDiscardStrict(discard DiscardFunc, way Way, memType MemType, p conc.Program) []Outcome {
	return RunSCTDiscard(discard, way, memType, p).All()
}

// RunSCTWithSettingsStrict is RunSCTWithSettings forced to completion.
func RunSCTWithSettingsStrict(settings Settings, p conc.Program) []Outcome {
	return RunSCTWithSettings(settings, p).All()
}
