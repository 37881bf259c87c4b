package dyndep

import (
	"strings"
	"testing"

	"nb/internal/eval"
	"nb/internal/graph"
)

func setupEdge(s *graph.State, out string, dyndep string) *graph.Edge {
	rule := eval.NewRule("cc")
	cmd := &eval.String{}
	cmd.AddText("cc")
	rule.AddBinding("command", cmd)
	s.Bindings.AddRule(rule)

	e := s.AddEdge(rule)
	e.Env = eval.NewBindingEnv(s.Bindings)
	canon, slash := graph.CanonicalizePath(out)
	if err := s.AddOut(e, s.GetNode(canon, slash), false); err != nil {
		panic(err)
	}
	if dyndep != "" {
		canon, slash := graph.CanonicalizePath(dyndep)
		dd := s.GetNode(canon, slash)
		e.Dyndep = dd
		s.AddIn(e, dd, graph.Implicit)
	}
	return e
}

func TestLoadDyndepAddsImplicitInputsAndOutputs(t *testing.T) {
	s := graph.NewState()
	e := setupEdge(s, "out.o", "out.o.dd")

	content := "ninja_dyndep_version = 1.0\n" +
		"build out.o | out.o.extra: dyndep | header.h\n"
	reads := map[string]string{"out.o.dd": content}
	loader := NewLoader(s, func(p string) (string, error) { return reads[p], nil }, nil)

	node := s.LookupNode("out.o.dd")
	if err := loader.Load(node); err != nil {
		t.Fatalf("Load: %v", err)
	}

	found := false
	for _, n := range e.ImplicitInputs() {
		if n.Path() == "header.h" {
			found = true
		}
	}
	if !found {
		t.Fatalf("implicit inputs = %v, want header.h among them", e.ImplicitInputs())
	}
	if len(e.ImplicitOutputs()) != 1 || e.ImplicitOutputs()[0].Path() != "out.o.extra" {
		t.Fatalf("implicit outputs = %v", e.ImplicitOutputs())
	}
}

func TestLoadDyndepRestat(t *testing.T) {
	s := graph.NewState()
	e := setupEdge(s, "out.o", "out.o.dd")

	content := "ninja_dyndep_version = 1.0\n" +
		"build out.o: dyndep\n  restat = 1\n"
	reads := map[string]string{"out.o.dd": content}
	loader := NewLoader(s, func(p string) (string, error) { return reads[p], nil }, nil)

	node := s.LookupNode("out.o.dd")
	if err := loader.Load(node); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !e.IsRestat() {
		t.Fatalf("expected restat binding to be set")
	}
}

func TestLoadDyndepUnmentionedOutputErrors(t *testing.T) {
	s := graph.NewState()
	setupEdge(s, "out.o", "out.o.dd")
	setupEdge(s, "other.o", "out.o.dd")

	content := "ninja_dyndep_version = 1.0\n" +
		"build out.o: dyndep\n"
	reads := map[string]string{"out.o.dd": content}
	loader := NewLoader(s, func(p string) (string, error) { return reads[p], nil }, nil)

	node := s.LookupNode("out.o.dd")
	err := loader.Load(node)
	if err == nil || !strings.Contains(err.Error(), "not mentioned") {
		t.Fatalf("got %v", err)
	}
}

func TestLoadDyndepExtraOutputErrors(t *testing.T) {
	s := graph.NewState()
	setupEdge(s, "out.o", "out.o.dd")
	setupEdge(s, "other.o", "")

	content := "ninja_dyndep_version = 1.0\n" +
		"build out.o: dyndep\nbuild other.o: dyndep\n"
	reads := map[string]string{"out.o.dd": content}
	loader := NewLoader(s, func(p string) (string, error) { return reads[p], nil }, nil)

	node := s.LookupNode("out.o.dd")
	err := loader.Load(node)
	if err == nil || !strings.Contains(err.Error(), "does not have a dyndep binding") {
		t.Fatalf("got %v", err)
	}
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	p := NewParser(graph.NewState())
	_, err := p.Parse("dd", "ninja_dyndep_version = 2.0\n")
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("got %v", err)
	}
}

func TestParseRejectsMissingVersion(t *testing.T) {
	p := NewParser(graph.NewState())
	_, err := p.Parse("dd", "build out.o: dyndep\n")
	if err == nil || !strings.Contains(err.Error(), "expected 'ninja_dyndep_version") {
		t.Fatalf("got %v", err)
	}
}

func TestParseRejectsOrderOnlyInputs(t *testing.T) {
	s := graph.NewState()
	setupEdge(s, "out.o", "out.o.dd")
	p := NewParser(s)
	_, err := p.Parse("dd", "ninja_dyndep_version = 1.0\nbuild out.o: dyndep || extra.h\n")
	if err == nil || !strings.Contains(err.Error(), "order-only inputs not supported") {
		t.Fatalf("got %v", err)
	}
}
