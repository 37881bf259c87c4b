package driver

import (
	"fmt"

	"nb/internal/graph"
)

// want tracks, per edge the plan has touched, how badly it still needs to
// run.
type want int8

const (
	wantNothing want = iota
	wantToStart
	wantToFinish
)

// Plan is the set of edges a build still needs to run, in priority order.
// It owns no execution logic itself: Builder drives it by calling
// FindWork/EdgeFinished as commands start and complete.
type Plan struct {
	want  map[*graph.Edge]want
	ready readyQueue

	targets []*graph.Node

	commandEdges int
	wantedEdges  int

	// onEdgeWanted/onEdgeUnwanted notify the status printer as the plan's
	// denominator changes, mirroring EdgeAddedToPlan/EdgeRemovedFromPlan.
	onEdgeWanted   func(*graph.Edge)
	onEdgeUnwanted func(*graph.Edge)

	// loadDyndep is called in place of scheduling when nodeFinished finds a
	// node whose dyndep file hasn't been loaded yet.
	loadDyndep func(*graph.Node) error
}

// NewPlan returns an empty plan. Callers normally follow with one or more
// AddTarget calls and then PrepareQueue before starting the build.
func NewPlan() *Plan {
	return &Plan{want: map[*graph.Edge]want{}, ready: newReadyQueue()}
}

// AddTarget records target as something the build must produce, walking
// its producer edge (if any) and every transitive input.
func (p *Plan) AddTarget(target *graph.Node) error {
	p.targets = append(p.targets, target)
	_, err := p.addSubTarget(target, nil, nil)
	return err
}

// addSubTarget is the recursive walk AddTarget and dyndep re-validation
// both use. dyndepWalk, when non-nil, collects every edge visited during a
// single dyndep file's re-walk from DyndepsLoaded; during a dyndep walk an
// edge already wantToFinish is left alone rather than re-added.
func (p *Plan) addSubTarget(node, dependent *graph.Node, dyndepWalk map[*graph.Edge]bool) (bool, error) {
	edge := node.InEdge()
	if edge == nil {
		if node.Dirty() && !node.GeneratedByDepLoader() {
			if dependent != nil {
				return false, fmt.Errorf("%q, needed by %q, missing and no known rule to make it",
					node.Path(), dependent.Path())
			}
			return false, fmt.Errorf("%q missing and no known rule to make it", node.Path())
		}
		return false, nil
	}
	if edge.OutputsReady {
		return false, nil
	}

	w := p.want[edge]
	if dyndepWalk != nil && w == wantToFinish {
		return false, nil
	}

	if node.Dirty() && w == wantNothing {
		w = wantToStart
		p.want[edge] = w
		p.edgeWanted(edge)
	} else {
		p.want[edge] = w
	}

	if dyndepWalk != nil {
		dyndepWalk[edge] = true
	}

	for _, in := range edge.AllInputs() {
		if _, err := p.addSubTarget(in, node, dyndepWalk); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (p *Plan) edgeWanted(e *graph.Edge) {
	p.wantedEdges++
	if e.IsPhony() {
		return
	}
	p.commandEdges++
	if p.onEdgeWanted != nil {
		p.onEdgeWanted(e)
	}
}

func (p *Plan) edgeUnwanted(e *graph.Edge) {
	p.wantedEdges--
	if e.IsPhony() {
		return
	}
	p.commandEdges--
	if p.onEdgeUnwanted != nil {
		p.onEdgeUnwanted(e)
	}
}

// MoreToDo reports whether any wanted edge still has work left to do.
func (p *Plan) MoreToDo() bool { return p.wantedEdges > 0 && p.commandEdges > 0 }

// CommandEdgeCount returns how many non-phony edges have been added to the
// plan, less those later dropped from it; finishing an edge does not lower
// the count.
func (p *Plan) CommandEdgeCount() int { return p.commandEdges }

// FindWork pops the highest-priority ready edge, or nil if none are ready.
func (p *Plan) FindWork() *graph.Edge {
	if p.ready.IsEmpty() {
		return nil
	}
	return p.ready.Poll().(*graph.Edge)
}

// PrepareQueue primes the ready queue from the set of wanted edges: it
// weighs every edge by its position on the critical path, then admits
// every edge whose inputs are already satisfied.
func (p *Plan) PrepareQueue() {
	p.computeCriticalPath()
	p.scheduleInitialEdges()
}

func edgeWeight(e *graph.Edge) int64 {
	if e.IsPhony() {
		return 0
	}
	return 1
}

// computeCriticalPath topologically sorts every edge reachable from the
// plan's targets, then walks it in reverse assigning each edge the length
// of the longest downstream command-edge chain through it.
func (p *Plan) computeCriticalPath() {
	visited := map[*graph.Edge]bool{}
	var sorted []*graph.Edge
	var visit func(e *graph.Edge)
	visit = func(e *graph.Edge) {
		if visited[e] {
			return
		}
		visited[e] = true
		for _, in := range e.AllInputs() {
			if producer := in.InEdge(); producer != nil {
				visit(producer)
			}
		}
		sorted = append(sorted, e)
	}
	for _, t := range p.targets {
		if producer := t.InEdge(); producer != nil {
			visit(producer)
		}
	}

	for _, e := range sorted {
		e.CriticalPathWeight = edgeWeight(e)
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		for _, in := range e.AllInputs() {
			producer := in.InEdge()
			if producer == nil {
				continue
			}
			candidate := e.CriticalPathWeight + edgeWeight(producer)
			if candidate > producer.CriticalPathWeight {
				producer.CriticalPathWeight = candidate
			}
		}
	}
}

// scheduleInitialEdges admits every wantToStart edge whose inputs are
// already ready. Pool-gated edges are collected and retried once per pool
// at the end, so higher-priority edges reach the ready queue first.
func (p *Plan) scheduleInitialEdges() {
	pools := map[*graph.Pool]bool{}
	for edge, w := range p.want {
		if w != wantToStart || !edge.AllInputsReady() {
			continue
		}
		pool := edge.Pool
		if pool.ShouldDelayEdge() {
			pool.DelayEdge(edge)
			pools[pool] = true
		} else {
			p.scheduleWork(edge)
		}
	}
	for pool := range pools {
		pool.RetrieveReadyEdges(func(e *graph.Edge) { p.ready.Add(e) })
	}
}

func (p *Plan) scheduleWork(edge *graph.Edge) {
	if p.want[edge] == wantToFinish {
		// Already scheduled once; a dyndep re-walk can revisit an edge that
		// made it here before without this being an error.
		return
	}
	p.want[edge] = wantToFinish
	pool := edge.Pool
	if pool.ShouldDelayEdge() {
		pool.DelayEdge(edge)
		pool.RetrieveReadyEdges(func(e *graph.Edge) { p.ready.Add(e) })
	} else {
		pool.EdgeScheduled(edge)
		p.ready.Add(edge)
	}
}

// EdgeFinished records that edge has run (or been skipped via a restat
// cascade) with the given outcome, releasing its pool slot and propagating
// readiness to whatever it produced.
func (p *Plan) EdgeFinished(edge *graph.Edge, succeeded bool) error {
	w, ok := p.want[edge]
	if !ok {
		return fmt.Errorf("driver: edge finished that the plan never wanted")
	}
	directlyWanted := w != wantNothing

	if directlyWanted {
		edge.Pool.EdgeFinished(edge)
	}
	edge.Pool.RetrieveReadyEdges(func(e *graph.Edge) { p.ready.Add(e) })

	if directlyWanted {
		p.wantedEdges--
	}
	delete(p.want, edge)
	edge.OutputsReady = true

	if !succeeded {
		return nil
	}

	for _, out := range edge.Outputs {
		if err := p.nodeFinished(out); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) nodeFinished(node *graph.Node) error {
	if node.DyndepPending() {
		if p.loadDyndep == nil {
			return fmt.Errorf("driver: %q needs its dyndep file loaded but no loader is installed", node.Path())
		}
		return p.loadDyndep(node)
	}
	for _, oe := range node.OutEdges() {
		if _, wanted := p.want[oe]; !wanted {
			continue
		}
		if err := p.edgeMaybeReady(oe); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) edgeMaybeReady(edge *graph.Edge) error {
	if !edge.AllInputsReady() {
		return nil
	}
	if p.want[edge] != wantNothing {
		p.scheduleWork(edge)
		return nil
	}
	// Not actually wanted (e.g. only a dependency of a now-skipped edge):
	// finish it immediately so its own outputs propagate in turn.
	return p.EdgeFinished(edge, true)
}

// CleanNode is called when a restat edge's output turned out unchanged: it
// recomputes whether the edges downstream of out are still dirty, and
// removes any that turn out not to need building from the plan, cascading
// further downstream wherever that unwinds another edge's only reason to
// run.
func (p *Plan) CleanNode(out *graph.Node, buildLog graph.BuildLog, depsLog graph.DepsLog) error {
	out.SetDirty(false)

	for _, edge := range out.OutEdges() {
		stillDirty := false
		for _, in := range edge.AllInputs() {
			if in.Dirty() {
				stillDirty = true
				break
			}
		}
		if stillDirty {
			continue
		}

		var mostRecentInput *graph.Node
		for _, in := range edge.Inputs[:edge.ExplicitDeps+edge.ImplicitDeps] {
			if mostRecentInput == nil || in.Mtime() > mostRecentInput.Mtime() {
				mostRecentInput = in
			}
		}
		if edge.DepsType() != "" && depsLog != nil && len(edge.Outputs) > 0 {
			if rec, ok := depsLog.Deps(edge.Outputs[0]); ok {
				for _, dn := range rec.Nodes {
					if mostRecentInput == nil || dn.Mtime() > mostRecentInput.Mtime() {
						mostRecentInput = dn
					}
				}
			}
		}

		hash := edge.CommandHash()
		upToDate := true
		if buildLog != nil {
			for _, o := range edge.Outputs {
				entry, ok := buildLog.Entry(o.Path())
				if !ok || entry.CommandHash != hash {
					upToDate = false
					break
				}
			}
		} else {
			upToDate = false
		}
		if upToDate {
			for _, o := range edge.Outputs {
				if mostRecentInput != nil && o.Mtime() < mostRecentInput.Mtime() {
					upToDate = false
					break
				}
			}
		}
		if !upToDate {
			continue
		}

		for _, o := range edge.Outputs {
			o.SetDirty(false)
		}

		if w, wanted := p.want[edge]; wanted {
			if w != wantNothing {
				p.edgeUnwanted(edge)
			}
			delete(p.want, edge)
		}
		edge.OutputsReady = true

		for _, o := range edge.Outputs {
			if err := p.CleanNode(o, buildLog, depsLog); err != nil {
				return err
			}
		}
	}
	return nil
}

// DyndepsLoaded folds a freshly-loaded dyndep file's new edges into the
// plan: each updated edge is re-walked as if it had just been added as a
// target, so any new implicit inputs it declared get picked up too.
func (p *Plan) DyndepsLoaded(updated []*graph.Edge) error {
	walked := map[*graph.Edge]bool{}
	for _, edge := range updated {
		for _, in := range edge.AllInputs() {
			if _, err := p.addSubTarget(in, edge.Outputs[0], walked); err != nil {
				return err
			}
		}
		if err := p.edgeMaybeReady(edge); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears every want/ready-queue entry and both edge counters, leaving
// targets intact.
func (p *Plan) Reset() {
	p.want = map[*graph.Edge]want{}
	p.ready.Clear()
	p.commandEdges = 0
	p.wantedEdges = 0
}
