package conc

import (
	"sort"

	"interleave/sched"
)

// MemType selects the memory model the executor simulates for Ref writes.
type MemType uint8

const (
	// SequentialConsistency: writes are visible to every thread as soon
	// as they happen. No buffering, no commit threads.
	SequentialConsistency MemType = iota

	// TotalStoreOrder: each thread has a FIFO write buffer. A write
	// becomes visible to other threads when a phantom commit thread
	// flushes it; the writer reads through its own buffer.
	TotalStoreOrder

	// PartialStoreOrder: like TotalStoreOrder, but buffered per
	// thread-per-reference, so writes to different references by the
	// same thread may commit in either order.
	PartialStoreOrder
)

func (m MemType) String() string {
	switch m {
	case SequentialConsistency:
		return "SequentialConsistency"
	case TotalStoreOrder:
		return "TotalStoreOrder"
	case PartialStoreOrder:
		return "PartialStoreOrder"
	default:
		return "MemType(?)"
	}
}

// bufKey identifies a write buffer: per-thread under TSO (ref == -1),
// per thread-per-ref under PSO.
type bufKey struct {
	tid sched.ThreadID
	ref sched.RefID
}

const tsoAllRefs sched.RefID = -1

type bufferedWrite struct {
	ref sched.RefID
	val any
}

type writeBuffer struct {
	key      bufKey
	commitID sched.ThreadID
	writes   []bufferedWrite // FIFO; index 0 commits first
}

// memory holds the committed Ref values and the model-dependent write
// buffers for one execution.
type memory struct {
	model MemType

	committed []any // by RefID

	bufs       map[bufKey]*writeBuffer
	byCommitID map[sched.ThreadID]*writeBuffer
	nextCommit sched.ThreadID
}

func newMemory(model MemType) *memory {
	return &memory{
		model:      model,
		bufs:       make(map[bufKey]*writeBuffer),
		byCommitID: make(map[sched.ThreadID]*writeBuffer),
		nextCommit: sched.InitialThread - 1,
	}
}

// newRef allocates a reference with the given initial committed value.
func (m *memory) newRef(initial any) sched.RefID {
	m.committed = append(m.committed, initial)
	return sched.RefID(len(m.committed) - 1)
}

// keyFor maps (thread, ref) to the buffer key under the active model.
// SequentialConsistency has no buffers and must not call this.
func (m *memory) keyFor(tid sched.ThreadID, ref sched.RefID) bufKey {
	if m.model == TotalStoreOrder {
		return bufKey{tid: tid, ref: tsoAllRefs}
	}
	return bufKey{tid: tid, ref: ref}
}

// read returns the value of ref as seen by tid: the newest buffered write
// by tid if one exists, the committed value otherwise.
func (m *memory) read(tid sched.ThreadID, ref sched.RefID) any {
	if m.model != SequentialConsistency {
		if buf, ok := m.bufs[m.keyFor(tid, ref)]; ok {
			for i := len(buf.writes) - 1; i >= 0; i-- {
				if buf.writes[i].ref == ref {
					return buf.writes[i].val
				}
			}
		}
	}
	return m.committed[ref]
}

// write records a write by tid. Under SequentialConsistency it commits
// immediately; otherwise it is appended to the thread's buffer, allocating
// the buffer's phantom commit thread on first use.
func (m *memory) write(tid sched.ThreadID, ref sched.RefID, val any) {
	if m.model == SequentialConsistency {
		m.committed[ref] = val
		return
	}
	key := m.keyFor(tid, ref)
	buf, ok := m.bufs[key]
	if !ok {
		buf = &writeBuffer{key: key, commitID: m.nextCommit}
		m.nextCommit--
		m.bufs[key] = buf
		m.byCommitID[buf.commitID] = buf
	}
	buf.writes = append(buf.writes, bufferedWrite{ref: ref, val: val})
}

// flush applies every buffered write by tid that covers ref, oldest first,
// and is the barrier behind atomic read-modify-write operations.
func (m *memory) flush(tid sched.ThreadID, ref sched.RefID) {
	if m.model == SequentialConsistency {
		return
	}
	buf, ok := m.bufs[m.keyFor(tid, ref)]
	if !ok {
		return
	}
	for _, w := range buf.writes {
		m.committed[w.ref] = w.val
	}
	buf.writes = nil
}

// commit pops the oldest write of the buffer owned by the phantom commit
// thread and applies it. It reports the committed reference and the
// buffering thread, and whether any write was pending.
func (m *memory) commit(commitTid sched.ThreadID) (ref sched.RefID, writer sched.ThreadID, ok bool) {
	buf, found := m.byCommitID[commitTid]
	if !found || len(buf.writes) == 0 {
		return 0, 0, false
	}
	w := buf.writes[0]
	buf.writes = buf.writes[1:]
	m.committed[w.ref] = w.val
	return w.ref, buf.key.tid, true
}

// commitRunnable lists the phantom commit threads with pending writes,
// each with the lookahead of its next commit, in ascending id order.
func (m *memory) commitRunnable() []Runnable {
	out := make([]Runnable, 0, len(m.bufs))
	for _, buf := range m.bufs {
		if len(buf.writes) == 0 {
			continue
		}
		out = append(out, Runnable{
			ID: buf.commitID,
			Lookahead: sched.Lookahead{
				Kind: sched.ActionCommitRef,
				Ref:  buf.writes[0].ref,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
