package sched

import (
	"strings"
	"testing"
)

func TestThreadID_CommitOrdering(t *testing.T) {
	if InitialThread.IsCommit() {
		t.Fatalf("initial thread must not be a commit thread")
	}
	if !(InitialThread - 1).IsCommit() {
		t.Fatalf("ids below the initial thread must be commit threads")
	}
	if (InitialThread + 1).IsCommit() {
		t.Fatalf("forked thread ids must not be commit threads")
	}
}

func TestDecision_Target(t *testing.T) {
	prev := ThreadID(3)
	if got := Continue().Target(prev); got != prev {
		t.Fatalf("Continue target: got %v want %v", got, prev)
	}
	if got := Start(7).Target(prev); got != 7 {
		t.Fatalf("Start target: got %v want 7", got)
	}
	if got := SwitchTo(1).Target(prev); got != 1 {
		t.Fatalf("SwitchTo target: got %v want 1", got)
	}
}

func TestDecisionOf(t *testing.T) {
	if d := DecisionOf(2, 2, true); d.Kind != DecisionContinue {
		t.Fatalf("same thread must yield Continue, got %v", d)
	}
	if d := DecisionOf(2, 4, true); d.Kind != DecisionSwitchTo || d.Thread != 4 {
		t.Fatalf("started thread must yield SwitchTo, got %v", d)
	}
	if d := DecisionOf(2, 4, false); d.Kind != DecisionStart || d.Thread != 4 {
		t.Fatalf("unstarted thread must yield Start, got %v", d)
	}
}

func TestLookahead_Predicates(t *testing.T) {
	if !(Lookahead{Kind: ActionYield}).WillYield() {
		t.Fatalf("yield lookahead must report WillYield")
	}
	if (Lookahead{Kind: ActionReadRef}).WillYield() {
		t.Fatalf("read lookahead must not report WillYield")
	}

	releasing := []ActionKind{ActionPutMVar, ActionTakeMVar, ActionReadMVar, ActionSTM, ActionThrow, ActionStop}
	for _, k := range releasing {
		if !(Lookahead{Kind: k}).WillRelease() {
			t.Fatalf("%v lookahead must report WillRelease", k)
		}
	}
	if (Lookahead{Kind: ActionWriteRef}).WillRelease() {
		t.Fatalf("write lookahead must not report WillRelease")
	}
}

func TestThreadAction_Predicates(t *testing.T) {
	if !(ThreadAction{Kind: ActionCommitRef}).IsCommitRef() {
		t.Fatalf("commit action must report IsCommitRef")
	}
	blocked := []ActionKind{ActionBlockedPut, ActionBlockedTake, ActionBlockedRead, ActionBlockedSTM}
	for _, k := range blocked {
		if !(ThreadAction{Kind: k}).IsBlock() {
			t.Fatalf("%v must report IsBlock", k)
		}
	}
	if (ThreadAction{Kind: ActionPutMVar}).IsBlock() {
		t.Fatalf("successful put must not report IsBlock")
	}
}

func sampleTrace() Trace {
	return Trace{
		{
			Decision: Start(0),
			Action:   ThreadAction{Kind: ActionNewRef, Ref: 0},
		},
		{
			Decision:     Continue(),
			Alternatives: []Decision{SwitchTo(1)},
			Action:       ThreadAction{Kind: ActionFork, Child: 1},
		},
		{
			Decision:     SwitchTo(1),
			Alternatives: []Decision{Continue()},
			Action:       ThreadAction{Kind: ActionWriteRef, Ref: 0},
		},
		{
			Decision: SwitchTo(0),
			Action:   ThreadAction{Kind: ActionStop},
		},
	}
}

func TestTrace_Decisions(t *testing.T) {
	tr := sampleTrace()
	ds := tr.Decisions()
	if len(ds) != len(tr) {
		t.Fatalf("decisions length mismatch: got %d want %d", len(ds), len(tr))
	}
	prev := ThreadID(0)
	want := []ThreadID{0, 0, 1, 0}
	for i, d := range ds {
		prev = d.Target(prev)
		if prev != want[i] {
			t.Fatalf("step %d resolves to %v, want %v", i, prev, want[i])
		}
	}
}

func TestTrace_CanonicalJSON_Stable(t *testing.T) {
	tr := sampleTrace()
	a, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical encoding not stable:\n%s\n%s", a, b)
	}
	if !strings.HasPrefix(string(a), "[{\"decision\":{\"kind\":\"Start\",\"thread\":0}") {
		t.Fatalf("unexpected canonical prefix: %s", a)
	}
}

func TestTrace_Hash(t *testing.T) {
	tr := sampleTrace()
	h1, err := tr.Hash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := tr.Hash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 == "" || h1 != h2 {
		t.Fatalf("hash not stable: %q vs %q", h1, h2)
	}

	other := sampleTrace()
	other[2].Decision = SwitchTo(0)
	h3, err := other.Hash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h3 == h1 {
		t.Fatalf("different schedules must hash differently")
	}
}

func TestFailure_Error(t *testing.T) {
	f := &Failure{Kind: FailDeadlock}
	if f.Error() != "deadlock" {
		t.Fatalf("unexpected message: %q", f.Error())
	}
	if !IsFailureKind(f, FailDeadlock) {
		t.Fatalf("IsFailureKind must match the kind")
	}
	if IsFailureKind(f, FailAbort) {
		t.Fatalf("IsFailureKind must reject other kinds")
	}
}
