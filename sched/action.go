package sched

import (
	"fmt"
	"strings"
)

// RefID identifies a shared mutable reference within one execution.
type RefID int32

// MVarID identifies an MVar within one execution.
type MVarID int32

// TVarID identifies a transactional variable within one execution.
type TVarID int32

// ActionKind discriminates thread actions and lookaheads. The two share a
// kind space: a lookahead is an action with runtime-unknown values erased.
type ActionKind uint8

const (
	ActionFork ActionKind = iota
	ActionYield
	ActionNewRef
	ActionReadRef
	ActionWriteRef
	ActionModRef
	ActionCommitRef
	ActionNewMVar
	ActionPutMVar
	ActionBlockedPut
	ActionTakeMVar
	ActionBlockedTake
	ActionReadMVar
	ActionBlockedRead
	ActionNewTVar
	ActionSTM
	ActionBlockedSTM
	ActionThrow
	ActionStop
)

var actionKindNames = map[ActionKind]string{
	ActionFork:        "Fork",
	ActionYield:       "Yield",
	ActionNewRef:      "NewRef",
	ActionReadRef:     "ReadRef",
	ActionWriteRef:    "WriteRef",
	ActionModRef:      "ModRef",
	ActionCommitRef:   "CommitRef",
	ActionNewMVar:     "NewMVar",
	ActionPutMVar:     "PutMVar",
	ActionBlockedPut:  "BlockedPut",
	ActionTakeMVar:    "TakeMVar",
	ActionBlockedTake: "BlockedTake",
	ActionReadMVar:    "ReadMVar",
	ActionBlockedRead: "BlockedRead",
	ActionNewTVar:     "NewTVar",
	ActionSTM:         "STM",
	ActionBlockedSTM:  "BlockedSTM",
	ActionThrow:       "Throw",
	ActionStop:        "Stop",
}

func (k ActionKind) String() string {
	if s, ok := actionKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ActionKind(%d)", k)
}

// ThreadAction describes what a thread just did. It is a tagged variant:
// Kind selects the case and the optional fields carry its payload.
//
// Field usage by kind:
//   - Fork: Child
//   - NewRef/ReadRef/WriteRef/ModRef/CommitRef: Ref (CommitRef also sets
//     Child to the buffering thread's id)
//   - NewMVar/PutMVar/TakeMVar/ReadMVar and Blocked* variants: MVar;
//     successful put/take also record Woken (ids unblocked, ascending)
//   - NewTVar/STM/BlockedSTM: TVars (touched set, ascending); STM sets
//     Committed and records Woken
//   - Throw: Caught
type ThreadAction struct {
	Kind      ActionKind
	Child     ThreadID
	Ref       RefID
	MVar      MVarID
	TVars     []TVarID
	Woken     []ThreadID
	Caught    bool
	Committed bool
}

// IsCommitRef reports whether the action is a relaxed-memory commit.
func (a ThreadAction) IsCommitRef() bool { return a.Kind == ActionCommitRef }

// IsBlock reports whether the action left the thread blocked.
func (a ThreadAction) IsBlock() bool {
	switch a.Kind {
	case ActionBlockedPut, ActionBlockedTake, ActionBlockedRead, ActionBlockedSTM:
		return true
	default:
		return false
	}
}

// Lookahead projects the action ThreadAction will record: enough detail to
// decide dependency before the step executes.
func (a ThreadAction) Lookahead() Lookahead {
	return Lookahead{Kind: a.Kind, Ref: a.Ref, MVar: a.MVar, TVars: a.TVars}
}

func (a ThreadAction) String() string {
	var b strings.Builder
	b.WriteString(a.Kind.String())
	switch a.Kind {
	case ActionFork, ActionCommitRef:
		fmt.Fprintf(&b, "[%s]", a.Child)
	}
	switch a.Kind {
	case ActionNewRef, ActionReadRef, ActionWriteRef, ActionModRef, ActionCommitRef:
		fmt.Fprintf(&b, "(r%d)", a.Ref)
	case ActionNewMVar, ActionPutMVar, ActionBlockedPut, ActionTakeMVar,
		ActionBlockedTake, ActionReadMVar, ActionBlockedRead:
		fmt.Fprintf(&b, "(m%d)", a.MVar)
	}
	return b.String()
}

// Lookahead is the value-erased projection of the next action a thread
// will perform. Blocked variants never appear as lookaheads: a thread
// about to attempt an MVar or STM operation looks like the successful
// variant, and blocking is only known after the step runs.
type Lookahead struct {
	Kind  ActionKind
	Ref   RefID
	MVar  MVarID
	TVars []TVarID
}

// WillYield reports whether the next action voluntarily gives up the
// scheduler. A switch away from a yielding thread is not a preemption.
func (l Lookahead) WillYield() bool { return l.Kind == ActionYield }

// WillRelease reports whether the next action may release a shared
// resource and thereby unblock other threads.
func (l Lookahead) WillRelease() bool {
	switch l.Kind {
	case ActionPutMVar, ActionTakeMVar, ActionReadMVar, ActionSTM, ActionThrow, ActionStop:
		return true
	default:
		return false
	}
}

// WillCommitRef reports whether the next action is a buffered-write commit.
func (l Lookahead) WillCommitRef() bool { return l.Kind == ActionCommitRef }

func (l Lookahead) String() string {
	return "Will" + ThreadAction{Kind: l.Kind, Ref: l.Ref, MVar: l.MVar, TVars: l.TVars}.String()
}
