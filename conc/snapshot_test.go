package conc

import (
	"testing"

	"interleave/sched"
)

func snapProgram() WithSetup {
	return WithSetup{
		Setup: func(c *Ctx) (any, error) {
			return c.NewRef(10), nil
		},
		Main: func(c *Ctx, handle any) (any, error) {
			r := handle.(Ref)
			v := c.ReadRef(r).(int)
			c.WriteRef(r, v+1)
			return c.ReadRef(r), nil
		},
	}
}

func TestCanSnapshot(t *testing.T) {
	if !CanSnapshot(snapProgram()) {
		t.Fatalf("WithSetup programs must be snapshottable")
	}
	if CanSnapshot(Basic(func(*Ctx) (any, error) { return nil, nil })) {
		t.Fatalf("basic programs must not be snapshottable")
	}
}

func TestSnapshot_ReplaySkipsPrefix(t *testing.T) {
	prog := snapProgram()
	snap, err := NewSnapshot(prog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := snap.Threads(); len(got) != 1 || got[0] != sched.InitialThread {
		t.Fatalf("snapshot threads: got %v want [initial]", got)
	}

	res, snapTrace := ExecuteWithSnapshot(lowestSched{}, SequentialConsistency, snap)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != 11 {
		t.Fatalf("value mismatch: got %v want 11", res.Value)
	}

	full, fullTrace := Execute(lowestSched{}, SequentialConsistency, prog)
	if full.Err != nil {
		t.Fatalf("unexpected error: %v", full.Err)
	}
	if full.Value != 11 {
		t.Fatalf("full replay value mismatch: got %v want 11", full.Value)
	}
	if len(snapTrace) >= len(fullTrace) {
		t.Fatalf("snapshot replay must skip the setup steps: %d vs %d steps", len(snapTrace), len(fullTrace))
	}
}

func TestSnapshot_RestoresStateBetweenExecutions(t *testing.T) {
	snap, err := NewSnapshot(snapProgram())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		res, _ := ExecuteWithSnapshot(lowestSched{}, SequentialConsistency, snap)
		if res.Err != nil {
			t.Fatalf("execution %d: unexpected error: %v", i, res.Err)
		}
		if res.Value != 11 {
			t.Fatalf("execution %d: state leaked across replays: got %v want 11", i, res.Value)
		}
	}
}

func TestSnapshot_RejectsForkingSetup(t *testing.T) {
	prog := WithSetup{
		Setup: func(c *Ctx) (any, error) {
			c.Fork(func(*Ctx) error { return nil })
			return nil, nil
		},
		Main: func(c *Ctx, _ any) (any, error) { return nil, nil },
	}
	if _, err := NewSnapshot(prog); err == nil {
		t.Fatalf("a forking setup phase must not snapshot")
	}
}

func TestSnapshot_RejectsBlockingSetup(t *testing.T) {
	prog := WithSetup{
		Setup: func(c *Ctx) (any, error) {
			box := c.NewMVar()
			return c.TakeMVar(box), nil
		},
		Main: func(c *Ctx, _ any) (any, error) { return nil, nil },
	}
	if _, err := NewSnapshot(prog); err == nil {
		t.Fatalf("a blocking setup phase must not snapshot")
	}
}
