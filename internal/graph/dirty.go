package graph

import (
	"fmt"
	"strings"
)

// Disk is the narrow filesystem surface dirty computation needs: current
// mtime of a path, or "missing". Real (os-backed) and fake (in-memory)
// implementations live in package diskutil.
type Disk interface {
	Stat(path string) (TimeStamp, error)
}

// LogEntry is what the build log remembers about an output: the mtime it
// had right after the command that produced it last ran, and that
// command's hash.
type LogEntry struct {
	Mtime       TimeStamp
	CommandHash uint64
}

// BuildLog is the read side of the append-only command-hash/mtime log.
type BuildLog interface {
	Entry(output string) (LogEntry, bool)
}

// DepsRecord is what the deps log remembers about an output: the mtime at
// record time and the discovered input nodes.
type DepsRecord struct {
	Mtime TimeStamp
	Nodes []*Node
}

// DepsLog is the read side of the binary discovered-dependency log.
type DepsLog interface {
	Deps(output *Node) (DepsRecord, bool)
}

// Explain receives a human-readable reason each time a dirty decision is
// made, for `-v`/`-d explain` tracing. A nil Explain is a no-op.
type Explain func(format string, args ...interface{})

// CycleError reports a dependency cycle discovered during dirty
// recomputation, naming the full cycle path rather than overflowing the
// stack.
type CycleError struct {
	Path []*Node
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Path))
	for i, n := range e.Path {
		names[i] = n.Path()
	}
	return "dependency cycle: " + strings.Join(names, " -> ")
}

type dirtyComputer struct {
	disk     Disk
	buildLog BuildLog
	depsLog  DepsLog
	explain  Explain

	visiting map[*Edge]bool
	done     map[*Node]bool
}

// RecomputeDirty walks the graph rooted at n post-order, deciding which
// edges need to run. It is idempotent and safe to call once per requested
// target: already-visited nodes are memoized, so diamonds in the graph are
// each stat'd only once.
func RecomputeDirty(n *Node, disk Disk, buildLog BuildLog, depsLog DepsLog, explain Explain) error {
	if explain == nil {
		explain = func(string, ...interface{}) {}
	}
	c := &dirtyComputer{
		disk: disk, buildLog: buildLog, depsLog: depsLog, explain: explain,
		visiting: map[*Edge]bool{}, done: map[*Node]bool{},
	}
	return c.visit(n, nil)
}

func (c *dirtyComputer) statNode(n *Node) error {
	if n.StatusKnown() {
		return nil
	}
	mtime, err := c.disk.Stat(n.Path())
	if err != nil {
		return fmt.Errorf("stat %s: %w", n.Path(), err)
	}
	n.SetMtime(mtime)
	if mtime == Missing {
		n.MarkMissing()
	} else {
		n.exists = existenceExists
	}
	return nil
}

func (c *dirtyComputer) visit(n *Node, stack []*Node) error {
	if c.done[n] {
		return nil
	}
	e := n.InEdge()
	if e == nil {
		if err := c.statNode(n); err != nil {
			return err
		}
		n.SetDirty(!n.Exists())
		c.done[n] = true
		return nil
	}

	if c.visiting[e] {
		return &CycleError{Path: append(append([]*Node{}, stack...), n)}
	}
	c.visiting[e] = true
	nextStack := append(append([]*Node{}, stack...), n)
	for _, in := range e.AllInputs() {
		if err := c.visit(in, nextStack); err != nil {
			return err
		}
	}
	delete(c.visiting, e)

	for _, out := range e.Outputs {
		if err := c.statNode(out); err != nil {
			return err
		}
	}

	dirty := false
	var maxInputMtime TimeStamp = Missing
	for _, in := range e.Inputs[:e.ExplicitDeps+e.ImplicitDeps] {
		if in.Dirty() {
			dirty = true
		}
		if in.Mtime() > maxInputMtime {
			maxInputMtime = in.Mtime()
		}
	}
	// Order-only inputs must exist and be built first, but neither their
	// mtime nor their own dirty state makes this edge dirty; that ordering
	// is enforced separately via outputs_ready.

	if !e.IsPhony() {
		hash := e.CommandHash()
		if c.buildLog != nil {
			for _, out := range e.Outputs {
				entry, ok := c.buildLog.Entry(out.Path())
				if !ok || entry.CommandHash != hash {
					dirty = true
					c.explain("command line changed for %s", out.Path())
					break
				}
			}
		} else {
			dirty = true
		}

		if e.DepsType() != "" && c.depsLog != nil && len(e.Outputs) > 0 {
			rec, ok := c.depsLog.Deps(e.Outputs[0])
			if !ok {
				dirty = true
				c.explain("deps for %s are missing", e.Outputs[0].Path())
			} else {
				for _, dn := range rec.Nodes {
					if err := c.statNode(dn); err != nil {
						return err
					}
					if dn.Mtime() > maxInputMtime {
						maxInputMtime = dn.Mtime()
					}
					if !dn.Exists() {
						dirty = true
						c.explain("dep %s for %s is missing", dn.Path(), e.Outputs[0].Path())
					}
				}
			}
		}

		if !dirty {
			for _, out := range e.Outputs {
				if !out.Exists() || out.Mtime() < maxInputMtime {
					dirty = true
					c.explain("output %s older than its inputs", out.Path())
					break
				}
			}
		}
	}

	for _, out := range e.Outputs {
		out.SetDirty(dirty)
	}
	c.done[n] = true
	return nil
}
