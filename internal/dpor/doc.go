// Package dpor tracks the state of a bounded partial-order-reduction
// exploration: a trie of explored schedule prefixes, the dependency
// relation between thread actions, and the computation of backtracking
// points that must still be explored.
//
// It is intentionally split into:
//   - The dependency relation (depend.go): which actions can observe each
//     other under a given memory model
//   - The tree (tree.go): prefix trie with to-do, done, taken and sleep
//     bookkeeping per node
//   - Backtracking (backtrack.go): per-trace-index backtrack sets derived
//     from the dependency relation, merged into the tree
//
// Invariants:
//   - A node's to-do set is disjoint from its done set.
//   - A sleeping thread is never also to-do at the same node.
package dpor
