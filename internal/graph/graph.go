package graph

import "container/heap"

// Graph is the frozen arena produced by Builder.Build. The dependency
// relation is guaranteed acyclic; accessors return copies, so a Graph can be
// shared across goroutines without synchronization.
type Graph struct {
	arena  []Activity
	succ   [][]Handle
	byName map[string]Handle
	topo   []Handle
	roots  []Handle
	leaves []Handle
}

// Len returns the number of activities.
func (g *Graph) Len() int { return len(g.arena) }

// Activity resolves a handle to its activity.
func (g *Graph) Activity(h Handle) (*Activity, bool) {
	if h < 0 || int(h) >= len(g.arena) {
		return nil, false
	}
	return &g.arena[h], true
}

// Lookup resolves an activity name to its handle.
func (g *Graph) Lookup(name string) (Handle, bool) {
	h, ok := g.byName[name]
	return h, ok
}

// Activities returns every activity in declaration order.
func (g *Graph) Activities() []*Activity {
	out := make([]*Activity, len(g.arena))
	for i := range g.arena {
		out[i] = &g.arena[i]
	}
	return out
}

// Dependencies returns the predecessors of h in declared order.
func (g *Graph) Dependencies(h Handle) []*Activity {
	act, ok := g.Activity(h)
	if !ok {
		return nil
	}
	out := make([]*Activity, 0, len(act.deps))
	for _, dep := range act.deps {
		out = append(out, &g.arena[dep])
	}
	return out
}

// Dependents returns the activities that depend on h, ascending by handle.
func (g *Graph) Dependents(h Handle) []*Activity {
	if h < 0 || int(h) >= len(g.succ) {
		return nil
	}
	out := make([]*Activity, 0, len(g.succ[h]))
	for _, s := range g.succ[h] {
		out = append(out, &g.arena[s])
	}
	return out
}

// TopoOrder returns a topological ordering of all handles. The order is
// deterministic: the ready queue is a min-heap over handles, so activities
// with no dependency relation come out in declaration order. Repeated calls
// and repeated builds over identical input yield the identical sequence.
func (g *Graph) TopoOrder() []Handle {
	return cloneHandles(g.topo)
}

// Roots returns the handles with no predecessors, ascending.
func (g *Graph) Roots() []Handle { return cloneHandles(g.roots) }

// Leaves returns the handles nothing depends on, ascending.
func (g *Graph) Leaves() []Handle { return cloneHandles(g.leaves) }

type handleMinHeap []Handle

func (h handleMinHeap) Len() int           { return len(h) }
func (h handleMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h handleMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *handleMinHeap) Push(x any)        { *h = append(*h, x.(Handle)) }
func (h *handleMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a handle min-heap as the ready queue.
// The caller guarantees acyclicity, so every handle is emitted.
func topoOrder(succ [][]Handle, indeg []int) []Handle {
	remaining := make([]int, len(indeg))
	copy(remaining, indeg)

	ready := &handleMinHeap{}
	heap.Init(ready)
	for i := range remaining {
		if remaining[i] == 0 {
			heap.Push(ready, Handle(i))
		}
	}

	out := make([]Handle, 0, len(remaining))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(Handle)
		out = append(out, n)
		for _, m := range succ[n] {
			remaining[m]--
			if remaining[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}
