package graph

import (
	"fmt"
	"sort"

	"nb/internal/eval"
)

// State is the build graph's single owning container: every node, edge,
// rule, and pool discovered while parsing the manifest (and later, while
// ingesting depfiles and dyndep files) lives here. It is threaded through
// the parser and driver as an explicit parameter — never a package-level
// singleton.
type State struct {
	Nodes map[string]*Node
	Edges []*Edge
	Pools map[string]*Pool

	Bindings       *eval.BindingEnv
	DefaultTargets []*Node

	nextEdgeID int
}

func NewState() *State {
	s := &State{
		Nodes:    map[string]*Node{},
		Pools:    map[string]*Pool{"": DefaultPool()},
		Bindings: eval.NewBindingEnv(nil),
	}
	// "phony" is the one builtin rule; every manifest can use it undeclared.
	s.Bindings.AddRule(eval.NewRule("phony"))
	return s
}

// GetNode returns the node for canon, creating it (with the given
// slashBits) if this is the first time it's been referenced.
func (s *State) GetNode(canon string, slashBits uint64) *Node {
	if n, ok := s.Nodes[canon]; ok {
		return n
	}
	n := NewNode(canon, slashBits)
	s.Nodes[canon] = n
	return n
}

// LookupNode returns the node for canon if it has already been referenced,
// or nil.
func (s *State) LookupNode(canon string) *Node { return s.Nodes[canon] }

func (s *State) AddPool(p *Pool) error {
	if _, ok := s.Pools[p.Name]; ok {
		return fmt.Errorf("duplicate pool %q", p.Name)
	}
	s.Pools[p.Name] = p
	return nil
}

func (s *State) LookupPool(name string) *Pool { return s.Pools[name] }

// AddEdge creates a new edge bound to rule and registers it in discovery
// order, which the ready-queue comparator uses as a stable tiebreaker.
func (s *State) AddEdge(rule *eval.Rule) *Edge {
	e := &Edge{Rule: rule, Pool: s.Pools[""], id: s.nextEdgeID}
	s.nextEdgeID++
	s.Edges = append(s.Edges, e)
	return e
}

// AddOut records node as one of edge's outputs (explicit unless implicit is
// true), enforcing the "at most one edge per output" invariant.
func (s *State) AddOut(e *Edge, n *Node, implicit bool) error {
	if n.inEdge != nil {
		return fmt.Errorf("multiple rules generate %q", n.Path())
	}
	n.setInEdge(e)
	e.Outputs = append(e.Outputs, n)
	if !implicit {
		e.ExplicitOuts++
	}
	return nil
}

// AddIn records node as one of edge's inputs in the given slot (explicit,
// implicit, or order-only — callers must add in that order within a single
// edge since the three ranges are tracked as counts, not separate slices).
func (s *State) AddIn(e *Edge, n *Node, kind InputKind) {
	e.Inputs = append(e.Inputs, n)
	switch kind {
	case Explicit:
		e.ExplicitDeps++
	case Implicit:
		e.ImplicitDeps++
	case OrderOnly:
		e.OrderOnlyDeps++
	}
	n.addOutEdge(e)
}

// InsertImplicitInput inserts n as an additional implicit input of e, placed
// after the explicit/implicit inputs already present and before any
// order-only inputs — the slot a dyndep-discovered dependency belongs in,
// since appending at the tail would silently reclassify it as order-only.
func (s *State) InsertImplicitInput(e *Edge, n *Node) {
	insertAt := len(e.Inputs) - e.OrderOnlyDeps
	e.Inputs = append(e.Inputs, nil)
	copy(e.Inputs[insertAt+1:], e.Inputs[insertAt:])
	e.Inputs[insertAt] = n
	e.ImplicitDeps++
	n.addOutEdge(e)
}

type InputKind int

const (
	Explicit InputKind = iota
	Implicit
	OrderOnly
)

// AddValidation records node as a validation edge's subject: validation
// must run whenever e runs.
func (s *State) AddValidation(e *Edge, n *Node) {
	e.Validations = append(e.Validations, n)
	n.addValidationOutEdge(e)
}

// RootNodes returns every node with no out-edges: the leaves a build of
// "everything" would target.
func (s *State) RootNodes() []*Node {
	var roots []*Node
	for _, n := range s.Nodes {
		if len(n.outEdges) == 0 {
			roots = append(roots, n)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Path() < roots[j].Path() })
	return roots
}

// DefaultNodes returns the manifest's `default` targets, or RootNodes if
// none were declared.
func (s *State) DefaultNodes() []*Node {
	if len(s.DefaultTargets) > 0 {
		return s.DefaultTargets
	}
	return s.RootNodes()
}
