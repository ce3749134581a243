package dpor

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"interleave/conc"
	"interleave/sched"
)

// node is one explored schedule prefix. Nodes live in the tree's arena;
// edges are (scheduled thread → child index) maps.
type node struct {
	// runnable is the set of threads runnable at this point, as observed
	// by executions passing through it.
	runnable mapset.Set[sched.ThreadID]

	// todo maps yet-to-explore decisions to their conservative flag.
	todo map[sched.ThreadID]bool

	// done holds decisions already taken from this node.
	done mapset.Set[sched.ThreadID]

	// taken records the action each done decision performed, for sleep-set
	// construction when a sibling branch is explored.
	taken map[sched.ThreadID]sched.ThreadAction

	// sleep holds thread/action pairs known to lead to an already-explored
	// equivalence class from this point.
	sleep map[sched.ThreadID]sched.ThreadAction

	children map[sched.ThreadID]int
}

func newNode() *node {
	return &node{
		runnable: mapset.NewThreadUnsafeSet[sched.ThreadID](),
		todo:     make(map[sched.ThreadID]bool),
		done:     mapset.NewThreadUnsafeSet[sched.ThreadID](),
		taken:    make(map[sched.ThreadID]sched.ThreadAction),
		sleep:    make(map[sched.ThreadID]sched.ThreadAction),
		children: make(map[sched.ThreadID]int),
	}
}

// Tree is the mutable exploration state: a trie keyed by schedule
// prefixes. It is born empty at the start of an exploration and dies with
// it; nothing else may hold a reference.
type Tree struct {
	model conc.MemType
	nodes []*node
}

// New returns a tree whose root carries the given runnable set, with the
// lowest of those thread ids as the initial decision to explore.
func New(model conc.MemType, threads []sched.ThreadID) *Tree {
	root := newNode()
	first := threads[0]
	for _, tid := range threads {
		root.runnable.Add(tid)
		if tid < first {
			first = tid
		}
	}
	root.todo[first] = false
	return &Tree{model: model, nodes: []*node{root}}
}

// FindSchedulePrefix picks a prefix of thread decisions whose terminal
// node has a nonempty to-do set, preferring the leftmost-deepest
// candidate. The chosen to-do entry is removed at pick time, so a
// suppressed execution cannot be picked again. Returns ok == false when
// the tree is exhausted.
//
// The returned sleep set is the terminal node's sleep plus its already
// taken siblings: interleavings known to reach explored classes. For a
// conservative pick it is empty.
func (tr *Tree) FindSchedulePrefix() (prefix []sched.ThreadID, conservative bool, sleep map[sched.ThreadID]sched.ThreadAction, ok bool) {
	return tr.findPrefix(0)
}

func (tr *Tree) findPrefix(idx int) ([]sched.ThreadID, bool, map[sched.ThreadID]sched.ThreadAction, bool) {
	n := tr.nodes[idx]

	for _, tid := range sortedChildKeys(n.children) {
		if rest, cons, sleep, ok := tr.findPrefix(n.children[tid]); ok {
			return append([]sched.ThreadID{tid}, rest...), cons, sleep, true
		}
	}

	if len(n.todo) == 0 {
		return nil, false, nil, false
	}

	tid := lowestTodo(n.todo)
	cons := n.todo[tid]
	delete(n.todo, tid)

	// A conservative point deliberately re-explores: it starts awake.
	sleep := make(map[sched.ThreadID]sched.ThreadAction, len(n.sleep)+len(n.taken))
	if !cons {
		for t, a := range n.sleep {
			sleep[t] = a
		}
		for t, a := range n.taken {
			if t != tid {
				sleep[t] = a
			}
		}
	}
	return []sched.ThreadID{tid}, cons, sleep, true
}

// IncorporateTrace walks the trace from the root, materialising nodes,
// recording taken decisions and evolving sleep sets for new nodes.
// conservative is the flag of the to-do entry that seeded the execution.
func (tr *Tree) IncorporateTrace(conservative bool, trace sched.Trace) {
	idx := 0
	var prev sched.ThreadID
	for i := range trace {
		step := trace[i]
		n := tr.nodes[idx]
		tid := step.Decision.Target(prev)

		n.runnable.Add(tid)
		for _, alt := range step.Alternatives {
			n.runnable.Add(alt.Target(prev))
		}

		n.done.Add(tid)
		if !conservative {
			// Conservative explorations duplicate coverage reached
			// elsewhere; their decisions must not put siblings to sleep.
			n.taken[tid] = step.Action
		}
		delete(n.todo, tid)
		delete(n.sleep, tid)

		child, ok := n.children[tid]
		if !ok {
			child = tr.addChild(n, tid, step.Action)
		}
		idx = child
		prev = tid
	}
}

// addChild creates the node reached by taking tid's action from n. The
// child's sleep set is n's sleep plus n's other taken siblings, minus
// every entry woken by the action just performed.
func (tr *Tree) addChild(n *node, tid sched.ThreadID, action sched.ThreadAction) int {
	child := newNode()
	for t, a := range n.sleep {
		child.sleep[t] = a
	}
	for t, a := range n.taken {
		if t != tid {
			child.sleep[t] = a
		}
	}
	for t, a := range child.sleep {
		if t == tid || Dependent(tr.model, a, action) {
			delete(child.sleep, t)
		}
	}
	tr.nodes = append(tr.nodes, child)
	ci := len(tr.nodes) - 1
	n.children[tid] = ci
	return ci
}

// IncorporateBacktrackSteps merges computed backtrack points into the
// tree's to-do sets, honouring the sleep-set discipline: a target that is
// done, sleeping, or not runnable at its node is skipped. A
// non-conservative point overrides a conservative one, never the reverse.
func (tr *Tree) IncorporateBacktrackSteps(steps []BacktrackStep) {
	idx := 0
	for i := range steps {
		n := tr.nodes[idx]
		for _, tid := range sortedBacktrackKeys(steps[i].Backtracks) {
			cons := steps[i].Backtracks[tid]
			if !n.runnable.Contains(tid) || n.done.Contains(tid) {
				continue
			}
			if _, sleeping := n.sleep[tid]; sleeping {
				continue
			}
			if existing, present := n.todo[tid]; present {
				n.todo[tid] = existing && cons
				continue
			}
			n.todo[tid] = cons
		}

		child, ok := n.children[steps[i].Thread]
		if !ok {
			return
		}
		idx = child
	}
}

func sortedChildKeys(m map[sched.ThreadID]int) []sched.ThreadID {
	keys := make([]sched.ThreadID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedBacktrackKeys(m map[sched.ThreadID]bool) []sched.ThreadID {
	keys := make([]sched.ThreadID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func lowestTodo(m map[sched.ThreadID]bool) sched.ThreadID {
	first := true
	var low sched.ThreadID
	for k := range m {
		if first || k < low {
			low = k
			first = false
		}
	}
	return low
}
