package conc

import (
	"sort"

	"interleave/sched"
)

// retrySentinel unwinds a transaction body back to Atomically.
type retrySentinel struct{}

// Tx is the view of transactional state inside one Atomically call.
// Reads and writes are staged against the transaction; they become visible
// to other threads only if the whole transaction commits.
type Tx struct {
	ex     *execution
	reads  map[sched.TVarID]bool
	writes map[sched.TVarID]any
}

// Read returns the transactional value of tv.
func (tx *Tx) Read(tv TVar) any {
	if v, ok := tx.writes[tv.id]; ok {
		return v
	}
	tx.reads[tv.id] = true
	return tx.ex.tvarVals[tv.id]
}

// Write stages a write of tv.
func (tx *Tx) Write(tv TVar, val any) {
	tx.writes[tv.id] = val
}

// Retry abandons the transaction and blocks the thread until some TVar it
// read is written by another transaction, after which the transaction
// reruns from the start.
func (tx *Tx) Retry() {
	panic(retrySentinel{})
}

// txOutcome classifies one attempt at running a transaction body.
type txOutcome uint8

const (
	txCommitted txOutcome = iota
	txRetried
	txThrew
)

// runTx executes body against the current TVar values. On commit the
// staged writes are applied and the touched set returned; on retry or
// throw all writes are discarded and only the read set is reported.
func (ex *execution) runTx(body func(*Tx) (any, error)) (out txOutcome, val any, err error, touched []sched.TVarID, written []sched.TVarID) {
	tx := &Tx{
		ex:     ex,
		reads:  make(map[sched.TVarID]bool),
		writes: make(map[sched.TVarID]any),
	}

	retried := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(retrySentinel); ok {
					retried = true
					return
				}
				panic(r)
			}
		}()
		val, err = body(tx)
	}()

	readSet := make([]sched.TVarID, 0, len(tx.reads))
	for tv := range tx.reads {
		readSet = append(readSet, tv)
	}
	sort.Slice(readSet, func(i, j int) bool { return readSet[i] < readSet[j] })

	if retried {
		return txRetried, nil, nil, readSet, nil
	}
	if err != nil {
		return txThrew, nil, err, readSet, nil
	}

	written = make([]sched.TVarID, 0, len(tx.writes))
	for tv, v := range tx.writes {
		ex.tvarVals[tv] = v
		written = append(written, tv)
	}
	sort.Slice(written, func(i, j int) bool { return written[i] < written[j] })

	seen := make(map[sched.TVarID]bool, len(readSet)+len(written))
	touched = touched[:0]
	for _, tv := range readSet {
		if !seen[tv] {
			seen[tv] = true
			touched = append(touched, tv)
		}
	}
	for _, tv := range written {
		if !seen[tv] {
			seen[tv] = true
			touched = append(touched, tv)
		}
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })

	return txCommitted, val, nil, touched, written
}
