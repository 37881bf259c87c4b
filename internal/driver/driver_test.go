package driver

import (
	"testing"

	"nb/internal/config"
	"nb/internal/diskutil"
	"nb/internal/eval"
	"nb/internal/graph"
	"nb/internal/nblog"
)

// newCatEdge adds an edge to s that "produces" out from in via a cat-style
// rule, mirroring the fixture buildlog's tests use.
func newCatEdge(s *graph.State, in, out string) *graph.Edge {
	rule := eval.NewRule("cat")
	cmd := &eval.String{}
	cmd.AddText("cat " + in + " > " + out)
	rule.AddBinding("command", cmd)
	e := s.AddEdge(rule)
	e.Env = eval.NewBindingEnv(s.Bindings)

	inCanon, inSlash := graph.CanonicalizePath(in)
	outCanon, outSlash := graph.CanonicalizePath(out)
	s.AddIn(e, s.GetNode(inCanon, inSlash), graph.Explicit)
	if err := s.AddOut(e, s.GetNode(outCanon, outSlash), false); err != nil {
		panic(err)
	}
	return e
}

// boundString wraps a literal as the already-evaluated eval.String a rule
// binding expects.
func boundString(text string) *eval.String {
	s := &eval.String{}
	s.AddText(text)
	return s
}

// newPhonyEdge adds a phony edge grouping ins under out.
func newPhonyEdge(s *graph.State, out string, ins ...string) *graph.Edge {
	e := s.AddEdge(nil)
	outCanon, outSlash := graph.CanonicalizePath(out)
	if err := s.AddOut(e, s.GetNode(outCanon, outSlash), false); err != nil {
		panic(err)
	}
	for _, in := range ins {
		inCanon, inSlash := graph.CanonicalizePath(in)
		s.AddIn(e, s.GetNode(inCanon, inSlash), graph.Explicit)
	}
	return e
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Verbosity = config.Quiet
	return cfg
}

func testLogger() *nblog.Logger { return nblog.New() }

// newTestBuilder wires a Builder with a quiet status printer, a fake disk,
// and no build/deps log, the shape most tests in this package start from.
func newTestBuilder(t *testing.T, state *graph.State, disk *diskutil.Fake) *Builder {
	t.Helper()
	return NewBuilder(state, testConfig(), disk, nil, nil, testLogger())
}

// fakeCommandRunner "runs" a command by writing its outputs to disk
// immediately and queuing a successful result, so Builder's scheduling loop
// can be exercised without spawning real processes.
type fakeCommandRunner struct {
	disk       *diskutil.Fake
	stamp      graph.TimeStamp
	started    []*graph.Edge
	pending    []*Result
	shouldFail map[*graph.Edge]bool
	// failAfterPartialWrite behaves like shouldFail but writes the edge's
	// outputs to disk first, simulating a command that produced a partial
	// (and therefore untrustworthy) output before exiting nonzero.
	failAfterPartialWrite map[*graph.Edge]bool
}

func newFakeCommandRunner(disk *diskutil.Fake) *fakeCommandRunner {
	return &fakeCommandRunner{
		disk:                  disk,
		stamp:                 100,
		shouldFail:            map[*graph.Edge]bool{},
		failAfterPartialWrite: map[*graph.Edge]bool{},
	}
}

func (f *fakeCommandRunner) StartCommand(edge *graph.Edge) error {
	f.started = append(f.started, edge)

	if f.shouldFail[edge] {
		f.pending = append(f.pending, &Result{Edge: edge, Status: 1, Output: "boom"})
		return nil
	}
	if f.failAfterPartialWrite[edge] {
		for _, out := range edge.Outputs {
			f.stamp++
			f.disk.WriteFile(out.Path(), "partial")
		}
		f.pending = append(f.pending, &Result{Edge: edge, Status: 1, Output: "boom"})
		return nil
	}
	for _, out := range edge.Outputs {
		f.stamp++
		f.disk.SetMtime(out.Path(), f.stamp)
	}
	f.pending = append(f.pending, &Result{Edge: edge, Status: 0})
	return nil
}

func (f *fakeCommandRunner) WaitForCommand() (*Result, error) {
	r := f.pending[0]
	f.pending = f.pending[1:]
	return r, nil
}

func (f *fakeCommandRunner) CanRunMore() bool { return true }

func (f *fakeCommandRunner) Abort() {}
