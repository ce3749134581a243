package sched

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// TraceStep is one primitive step of an execution: the decision the
// scheduler made, the alternative decisions it could have made at that
// point, and the action the chosen thread performed.
type TraceStep struct {
	Decision     Decision
	Alternatives []Decision
	Action       ThreadAction
}

// Trace is the ordered record of one execution, one entry per primitive
// step. Unlike an event log it is already canonical: step order is the
// execution order and is part of the trace's identity.
//
// Determinism constraints:
//   - No timestamps.
//   - No fields derived from pointer identity or map iteration.
//   - Woken/TVars payloads are recorded in ascending id order.
type Trace []TraceStep

// Decisions projects the trace onto its schedule: replaying these
// decisions through the executor reproduces the trace exactly.
func (t Trace) Decisions() []Decision {
	if len(t) == 0 {
		return nil
	}
	ds := make([]Decision, len(t))
	for i := range t {
		ds[i] = t[i].Decision
	}
	return ds
}

// CanonicalJSON returns the canonical byte encoding of the trace.
// Byte-for-byte stability is required: the encoding fixes field order and
// omits absent optional fields.
func (t Trace) CanonicalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		sb, err := t[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(sb)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Hash returns the deterministic trace hash (sha256 hex) of the canonical
// encoding. It must be stable across architectures and runs.
func (t Trace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return computeHash(b), nil
}

func computeHash(canonical []byte) string {
	if len(canonical) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// String renders the schedule compactly, one token per step.
func (t Trace) String() string {
	var b strings.Builder
	for i := range t {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t[i].Decision.String())
		b.WriteByte(':')
		b.WriteString(t[i].Action.String())
	}
	return b.String()
}

// MarshalJSON ensures canonical field ordering and omission rules.
func (s TraceStep) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"decision\":")
	db, err := marshalDecision(s.Decision)
	if err != nil {
		return nil, err
	}
	buf.Write(db)

	if len(s.Alternatives) > 0 {
		buf.WriteString(",\"alternatives\":[")
		for i, alt := range s.Alternatives {
			if i > 0 {
				buf.WriteByte(',')
			}
			ab, err := marshalDecision(alt)
			if err != nil {
				return nil, err
			}
			buf.Write(ab)
		}
		buf.WriteByte(']')
	}

	buf.WriteString(",\"action\":")
	ab, err := marshalAction(s.Action)
	if err != nil {
		return nil, err
	}
	buf.Write(ab)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalDecision(d Decision) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	switch d.Kind {
	case DecisionStart:
		buf.WriteString("\"kind\":\"Start\"")
	case DecisionContinue:
		buf.WriteString("\"kind\":\"Continue\"")
	case DecisionSwitchTo:
		buf.WriteString("\"kind\":\"SwitchTo\"")
	default:
		return nil, errors.New("unknown decision kind")
	}
	if d.Kind != DecisionContinue {
		buf.WriteString(",\"thread\":")
		tb, _ := json.Marshal(int32(d.Thread))
		buf.Write(tb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalAction(a ThreadAction) ([]byte, error) {
	name, ok := actionKindNames[a.Kind]
	if !ok {
		return nil, errors.New("unknown action kind")
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString("\"kind\":")
	kb, _ := json.Marshal(name)
	buf.Write(kb)

	switch a.Kind {
	case ActionFork, ActionCommitRef:
		buf.WriteString(",\"child\":")
		cb, _ := json.Marshal(int32(a.Child))
		buf.Write(cb)
	}
	switch a.Kind {
	case ActionNewRef, ActionReadRef, ActionWriteRef, ActionModRef, ActionCommitRef:
		buf.WriteString(",\"ref\":")
		rb, _ := json.Marshal(int32(a.Ref))
		buf.Write(rb)
	case ActionNewMVar, ActionPutMVar, ActionBlockedPut, ActionTakeMVar,
		ActionBlockedTake, ActionReadMVar, ActionBlockedRead:
		buf.WriteString(",\"mvar\":")
		mb, _ := json.Marshal(int32(a.MVar))
		buf.Write(mb)
	}
	if len(a.TVars) > 0 {
		buf.WriteString(",\"tvars\":[")
		for i, tv := range a.TVars {
			if i > 0 {
				buf.WriteByte(',')
			}
			tb, _ := json.Marshal(int32(tv))
			buf.Write(tb)
		}
		buf.WriteByte(']')
	}
	if len(a.Woken) > 0 {
		buf.WriteString(",\"woken\":[")
		for i, w := range a.Woken {
			if i > 0 {
				buf.WriteByte(',')
			}
			wb, _ := json.Marshal(int32(w))
			buf.Write(wb)
		}
		buf.WriteByte(']')
	}
	if a.Kind == ActionThrow && a.Caught {
		buf.WriteString(",\"caught\":true")
	}
	if a.Kind == ActionSTM && a.Committed {
		buf.WriteString(",\"committed\":true")
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
