package status

import (
	"bytes"
	"strings"
	"testing"

	"nb/internal/config"
	"nb/internal/eval"
	"nb/internal/graph"
)

func newEdge(s *graph.State, out, command string) *graph.Edge {
	rule := eval.NewRule("cc")
	cmd := &eval.String{}
	cmd.AddText(command)
	rule.AddBinding("command", cmd)
	e := s.AddEdge(rule)
	e.Env = eval.NewBindingEnv(s.Bindings)
	canon, slash := graph.CanonicalizePath(out)
	if err := s.AddOut(e, s.GetNode(canon, slash), false); err != nil {
		panic(err)
	}
	return e
}

func newPrinter(cfg *config.Config) (*Printer, *bytes.Buffer) {
	p := New(cfg)
	buf := &bytes.Buffer{}
	p.out = buf
	return p, buf
}

func TestEdgeStartedPrintsFormattedStatus(t *testing.T) {
	cfg := config.Default()
	p, buf := newPrinter(cfg)
	p.format = "[%s/%t] "
	s := graph.NewState()
	e := newEdge(s, "out.o", "cc -c a.c")

	p.BuildStarted()
	p.EdgeAddedToPlan(e)
	p.EdgeStarted(e)

	got := buf.String()
	if !strings.Contains(got, "[1/1]") {
		t.Fatalf("output = %q, missing progress prefix", got)
	}
	if !strings.Contains(got, "cc -c a.c") {
		t.Fatalf("output = %q, missing command", got)
	}
}

func TestQuietVerbositySuppressesStatusLines(t *testing.T) {
	cfg := config.Default()
	cfg.Verbosity = config.Quiet
	p, buf := newPrinter(cfg)
	s := graph.NewState()
	e := newEdge(s, "out.o", "cc -c a.c")

	p.BuildStarted()
	p.EdgeStarted(e)
	p.EdgeFinished(e, true, "")

	if buf.Len() != 0 {
		t.Fatalf("expected no output in quiet mode, got %q", buf.String())
	}
}

func TestFailedEdgePrintsFailedBlockAndOutput(t *testing.T) {
	cfg := config.Default()
	p, buf := newPrinter(cfg)
	s := graph.NewState()
	e := newEdge(s, "out.o", "cc -c a.c")

	p.BuildStarted()
	p.EdgeStarted(e)
	p.EdgeFinished(e, false, "a.c:1: error\n")

	got := buf.String()
	if !strings.Contains(got, "FAILED") {
		t.Fatalf("output = %q, missing FAILED marker", got)
	}
	if !strings.Contains(got, "out.o") {
		t.Fatalf("output = %q, missing failed output path", got)
	}
	if !strings.Contains(got, "a.c:1: error") {
		t.Fatalf("output = %q, missing captured output", got)
	}
}

func TestExplainerIsConsultedBeforeStatusLine(t *testing.T) {
	cfg := config.Default()
	p, _ := newPrinter(cfg)
	s := graph.NewState()
	e := newEdge(s, "out.o", "cc -c a.c")

	var seen []string
	p.SetExplainer(func(n *graph.Node) []string {
		seen = append(seen, n.Path())
		return []string{"output does not exist"}
	})
	p.BuildStarted()
	p.EdgeStarted(e)

	if len(seen) != 1 || seen[0] != "out.o" {
		t.Fatalf("explain seen = %v", seen)
	}
}

func TestFormatProgressHandlesAllPlaceholders(t *testing.T) {
	cfg := config.Default()
	p, _ := newPrinter(cfg)
	p.total = 4
	p.started = 2
	p.finished = 1
	p.running = 1

	got := p.formatProgress("%s/%t/%r/%u/%f %%")
	if got != "2/4/1/2/1 %" {
		t.Fatalf("formatProgress = %q", got)
	}
}
