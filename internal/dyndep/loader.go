package dyndep

import (
	"fmt"

	"nb/internal/graph"
)

// Explain receives a human-readable trace line, mirroring the `-d explain`
// hook package graph's dirty-state computation uses.
type Explain func(format string, args ...interface{})

// Loader loads a dyndep file for a node and folds its discoveries into the
// graph: new implicit inputs/outputs on the edges it names, and (optionally)
// turning restat on for the edge.
type Loader struct {
	state    *graph.State
	readFile ReadFile
	explain  Explain
}

func NewLoader(state *graph.State, readFile ReadFile, explain Explain) *Loader {
	if explain == nil {
		explain = func(string, ...interface{}) {}
	}
	return &Loader{state: state, readFile: readFile, explain: explain}
}

// Load reads node's dyndep file and applies every record in it to the edges
// that declared node as their `dyndep` binding.
func (l *Loader) Load(node *graph.Node) error {
	node.SetDyndepPending(false)
	l.explain("loading dyndep file %q", node.Path())

	contents, err := l.readFile(node.Path())
	if err != nil {
		return fmt.Errorf("loading %q: %w", node.Path(), err)
	}
	p := NewParser(l.state)
	file, err := p.Parse(node.Path(), contents)
	if err != nil {
		return err
	}

	for _, edge := range node.OutEdges() {
		if edge.Dyndep != node {
			continue
		}
		record, ok := file[edge]
		if !ok {
			return fmt.Errorf("%q not mentioned in its dyndep file %q",
				edge.Outputs[0].Path(), node.Path())
		}
		record.Used = true
		if err := l.updateEdge(edge, record); err != nil {
			return err
		}
	}

	for edge, record := range file {
		if !record.Used {
			return fmt.Errorf("dyndep file %q mentions output %q whose build statement "+
				"does not have a dyndep binding for the file", node.Path(), edge.Outputs[0].Path())
		}
	}
	return nil
}

func (l *Loader) updateEdge(edge *graph.Edge, record *Record) error {
	if record.Restat {
		edge.Env.AddBinding("restat", "1")
	}
	for _, n := range record.ImplicitOutputs {
		if err := l.state.AddOut(edge, n, true); err != nil {
			return err
		}
	}
	for _, n := range record.ImplicitInputs {
		l.state.InsertImplicitInput(edge, n)
	}
	return nil
}
