package graph

import (
	"strings"

	"nb/internal/eval"
)

// Edge is one rule invocation: it consumes inputs and produces outputs.
// Inputs is explicit, then implicit, then order-only inputs concatenated;
// Outputs is explicit, then implicit outputs concatenated. The split points
// are recorded as counts rather than separate slices to match how the
// manifest parser builds them incrementally and how $in/$out need to slice
// just the explicit prefix.
type Edge struct {
	Rule *eval.Rule
	Pool *Pool
	Env  *eval.BindingEnv

	Inputs        []*Node
	ExplicitDeps  int
	ImplicitDeps  int
	OrderOnlyDeps int

	Outputs      []*Node
	ExplicitOuts int

	Validations []*Node

	// Dyndep points at the node carrying this edge's dyndep file, if any.
	Dyndep *Node

	// id is assigned in discovery order and used as a stable tiebreaker in
	// the ready queue.
	id int

	OutputsReady bool

	// CriticalPathWeight is set by the scheduler before the ready queue is
	// primed: the longest chain of command-edges downstream of this one,
	// used to prioritize the edges most likely to gate the build's finish
	// time.
	CriticalPathWeight int64

	command      string
	commandKnown bool
	commandHash  uint64
	hashKnown    bool
}

// ID returns the edge's discovery-order index.
func (e *Edge) ID() int { return e.id }

func (e *Edge) AllInputs() []*Node { return e.Inputs }

func (e *Edge) ExplicitInputs() []*Node { return e.Inputs[:e.ExplicitDeps] }

func (e *Edge) ImplicitInputs() []*Node {
	return e.Inputs[e.ExplicitDeps : e.ExplicitDeps+e.ImplicitDeps]
}

func (e *Edge) OrderOnlyInputs() []*Node {
	return e.Inputs[e.ExplicitDeps+e.ImplicitDeps:]
}

func (e *Edge) ExplicitOutputs() []*Node { return e.Outputs[:e.ExplicitOuts] }

func (e *Edge) ImplicitOutputs() []*Node { return e.Outputs[e.ExplicitOuts:] }

// IsPhony reports whether the edge has no rule or uses the builtin "phony"
// rule, the marker used to group targets without running anything.
func (e *Edge) IsPhony() bool {
	return e.Rule == nil || e.Rule.Name == "phony"
}

// AllInputsReady reports whether every input that has a producing edge has
// seen that edge's outputs marked ready — the condition for this edge to
// enter the ready queue.
func (e *Edge) AllInputsReady() bool {
	for _, in := range e.Inputs {
		if producer := in.InEdge(); producer != nil && !producer.OutputsReady {
			return false
		}
	}
	return true
}

func (e *Edge) GetBindingBool(key string) bool { return e.GetBinding(key) != "" }

// GetBinding evaluates key in this edge's scope: edge-local bindings first,
// then the rule's template evaluated in edge scope, then the enclosing file
// scope.
func (e *Edge) GetBinding(key string) string {
	return e.LookupVariable(key)
}

// LookupVariable implements eval.Env so rule templates (including nested
// $in/$out references from other bindings) resolve through the edge.
func (e *Edge) LookupVariable(name string) string {
	switch name {
	case "in":
		return joinPaths(e.ExplicitInputs(), " ", true)
	case "in_newline":
		return joinPaths(e.ExplicitInputs(), "\n", false)
	case "out":
		return joinPaths(e.ExplicitOutputs(), " ", true)
	}
	if e.Rule != nil {
		if binding := e.Rule.Binding(name); binding != nil {
			return e.Env.LookupWithFallback(name, binding, e)
		}
	}
	if e.Env != nil {
		return e.Env.LookupVariable(name)
	}
	return ""
}

func joinPaths(nodes []*Node, sep string, shellEscape bool) string {
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteString(sep)
		}
		if shellEscape {
			b.WriteString(ShellEscape(n.Path()))
		} else {
			b.WriteString(n.Path())
		}
	}
	return b.String()
}

// ShellEscape quotes path for safe inclusion in a POSIX shell command line,
// matching the escaping $in/$out apply to explicit dependencies.
func ShellEscape(path string) string {
	if path == "" {
		return "''"
	}
	safe := true
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '+' || c == '-' || c == '.' || c == '/' || c == '@' || c == '%' || c == ':':
		default:
			safe = false
		}
		if !safe {
			break
		}
	}
	if safe {
		return path
	}
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// Command returns the fully evaluated command string, computed once and
// cached — the manifest's "lazy template string" materialized on first use.
func (e *Edge) Command() string {
	if !e.commandKnown {
		e.command = e.GetBinding("command")
		e.commandKnown = true
	}
	return e.command
}

// CommandHash returns a 64-bit fingerprint of the evaluated command (and, if
// present, the rspfile content), stable across process runs and sensitive
// to any byte change, so the build log can tell whether the command that
// produced an output has changed since the last run.
func (e *Edge) CommandHash() uint64 {
	if !e.hashKnown {
		e.commandHash = HashCommand(e.Command(), e.GetBinding("rspfile_content"))
		e.hashKnown = true
	}
	return e.commandHash
}

// Description returns the human-facing progress line for this edge, or the
// empty string if the rule did not set one.
func (e *Edge) Description() string { return e.GetBinding("description") }

func (e *Edge) Depfile() string { return e.GetBinding("depfile") }

func (e *Edge) DepsType() string { return e.GetBinding("deps") }

func (e *Edge) IsGenerator() bool { return e.GetBindingBool("generator") }

func (e *Edge) IsRestat() bool { return e.GetBindingBool("restat") }

func (e *Edge) RspFile() string { return e.GetBinding("rspfile") }

func (e *Edge) RspFileContent() string { return e.GetBinding("rspfile_content") }
