package graph

// Builder accumulates activities and dependency edges, then Build validates
// the whole set and freezes it into a Graph. Per-activity input checks fail
// fast at Add; cycle detection runs once over the full edge set at Build, so
// edges may reference activities declared in any order.
type Builder struct {
	activities []Activity
	byName     map[string]Handle
	extra      [][2]Handle
	edgeSet    map[[2]Handle]bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		byName:  make(map[string]Handle),
		edgeSet: make(map[[2]Handle]bool),
	}
}

// Add validates cfg and appends the activity to the arena, returning its
// handle. Dependencies given here must reference previously added handles.
func (b *Builder) Add(cfg ActivityConfig) (Handle, error) {
	if cfg.Name == "" {
		return 0, invalidf("activity name must not be empty")
	}
	if _, dup := b.byName[cfg.Name]; dup {
		return 0, invalidf("duplicate activity name %q", cfg.Name)
	}
	if cfg.Duration < 0 {
		return 0, invalidf("activity %q: negative duration %s", cfg.Name, cfg.Duration)
	}
	if cfg.RiskOfImpounding < 0 || cfg.RiskOfImpounding > 100 {
		return 0, invalidf("activity %q: impounding risk %d out of range [0,100]", cfg.Name, cfg.RiskOfImpounding)
	}
	if cfg.RiskOfExtendedDuration < 0 || cfg.RiskOfExtendedDuration > 100 {
		return 0, invalidf("activity %q: extended-duration risk %d out of range [0,100]", cfg.Name, cfg.RiskOfExtendedDuration)
	}
	if cfg.Resource == nil {
		return 0, invalidf("activity %q: missing resource", cfg.Name)
	}
	h := Handle(len(b.activities))
	for _, dep := range cfg.Dependencies {
		if dep < 0 || dep >= h {
			return 0, invalidf("activity %q: unknown dependency handle %d", cfg.Name, dep)
		}
	}
	deps := make([]Handle, 0, len(cfg.Dependencies))
	for _, dep := range cfg.Dependencies {
		key := [2]Handle{dep, h}
		if b.edgeSet[key] {
			continue
		}
		b.edgeSet[key] = true
		deps = append(deps, dep)
	}
	b.activities = append(b.activities, Activity{
		handle:         h,
		name:           cfg.Name,
		duration:       cfg.Duration,
		resource:       cfg.Resource,
		deps:           deps,
		riskImpounding: cfg.RiskOfImpounding,
		riskExtended:   cfg.RiskOfExtendedDuration,
		revealing:      cfg.Revealing,
	})
	b.byName[cfg.Name] = h
	return h, nil
}

// Depend records that successor requires predecessor to complete first. Both
// must already exist; self-loops are rejected, duplicate edges are ignored.
// The edge participates in cycle detection at Build.
func (b *Builder) Depend(successor, predecessor Handle) error {
	if !b.valid(successor) {
		return invalidf("unknown activity handle %d", successor)
	}
	if !b.valid(predecessor) {
		return invalidf("unknown activity handle %d", predecessor)
	}
	if successor == predecessor {
		return invalidf("activity %q cannot depend on itself", b.activities[successor].name)
	}
	if b.edgeSet[[2]Handle{predecessor, successor}] {
		return nil
	}
	b.edgeSet[[2]Handle{predecessor, successor}] = true
	b.extra = append(b.extra, [2]Handle{predecessor, successor})
	return nil
}

func (b *Builder) valid(h Handle) bool {
	return h >= 0 && int(h) < len(b.activities)
}

// Build runs cycle detection over the accumulated edges and returns the
// frozen Graph. Construction is all-or-nothing: on any failure no partial
// graph is observable and the Builder is left untouched.
func (b *Builder) Build() (*Graph, error) {
	n := len(b.activities)
	arena := make([]Activity, n)
	copy(arena, b.activities)
	for _, e := range b.extra {
		pred, succ := e[0], e[1]
		arena[succ].deps = append(cloneHandles(arena[succ].deps), pred)
	}

	succ := make([][]Handle, n)
	indeg := make([]int, n)
	for i := range arena {
		for _, dep := range arena[i].deps {
			succ[dep] = append(succ[dep], Handle(i))
			indeg[i]++
		}
	}

	if path := findCycle(arena, succ); path != nil {
		return nil, cycleError(path)
	}

	g := &Graph{
		arena:  arena,
		succ:   succ,
		byName: make(map[string]Handle, n),
	}
	for i := range arena {
		g.byName[arena[i].name] = Handle(i)
	}
	g.topo = topoOrder(succ, indeg)
	for i := range arena {
		if len(arena[i].deps) == 0 {
			g.roots = append(g.roots, Handle(i))
		}
		if len(succ[i]) == 0 {
			g.leaves = append(g.leaves, Handle(i))
		}
	}
	return g, nil
}

// findCycle walks the successor lists with DFS coloring: white (unvisited),
// gray (in progress), black (done). It returns one cycle as a name path in
// forward order, or nil when the graph is acyclic. Starting handles ascend,
// so the witness is stable for identical input.
func findCycle(arena []Activity, succ [][]Handle) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(arena))
	parent := make([]Handle, len(arena))

	var dfs func(node Handle) []string
	dfs = func(node Handle) []string {
		color[node] = gray
		for _, next := range succ[node] {
			if color[next] == gray {
				cycle := []string{arena[next].name, arena[node].name}
				cur := node
				for cur != next {
					cur = parent[cur]
					cycle = append(cycle, arena[cur].name)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	for h := range arena {
		if color[h] == white {
			if cycle := dfs(Handle(h)); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func cloneHandles(in []Handle) []Handle {
	out := make([]Handle, len(in))
	copy(out, in)
	return out
}
