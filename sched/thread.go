package sched

import "fmt"

// ThreadID identifies a thread within one execution. IDs are totally
// ordered; the order is load-bearing for the engine:
//
//   - InitialThread is the first user thread.
//   - User threads created by Fork count upwards from InitialThread.
//   - IDs strictly below InitialThread are commit threads: phantoms that
//     flush buffered writes under relaxed memory models. They are
//     allocated from a descending counter and never run user code.
type ThreadID int32

// InitialThread is the id of the first user thread.
const InitialThread ThreadID = 0

// IsCommit reports whether the id denotes a phantom commit thread.
func (t ThreadID) IsCommit() bool { return t < InitialThread }

// String renders user threads as "T<n>" and commit threads as "C<n>".
func (t ThreadID) String() string {
	if t.IsCommit() {
		return fmt.Sprintf("C%d", -int32(t))
	}
	return fmt.Sprintf("T%d", int32(t))
}
