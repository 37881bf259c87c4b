package manifest

import (
	"strings"
	"testing"

	"nb/internal/graph"
)

func noReadFile(path string) (string, error) {
	return "", nil
}

func parse(t *testing.T, input string) *graph.State {
	t.Helper()
	s := graph.NewState()
	p := New(s, noReadFile, Options{})
	if err := p.ParseString("build.ninja", input); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestHelloWorldManifest(t *testing.T) {
	s := parse(t, "rule cat\n  command = cat $in > $out\nbuild out: cat a b\n")
	if len(s.Edges) != 1 {
		t.Fatalf("want 1 edge, got %d", len(s.Edges))
	}
	e := s.Edges[0]
	if got := e.Command(); got != "cat a b > out" {
		t.Fatalf("Command() = %q", got)
	}
	if len(e.ExplicitInputs()) != 2 || len(e.ExplicitOutputs()) != 1 {
		t.Fatalf("unexpected in/out counts: %d/%d", len(e.ExplicitInputs()), len(e.ExplicitOutputs()))
	}
}

func TestImplicitAndOrderOnlyAndValidation(t *testing.T) {
	s := parse(t, "rule cc\n  command = cc $in -o $out\n"+
		"build out.o: cc a.c | header.h || dir/.stamp |@ lint.ok\n")
	e := s.Edges[0]
	if len(e.ExplicitInputs()) != 1 {
		t.Fatalf("explicit ins = %d", len(e.ExplicitInputs()))
	}
	if len(e.ImplicitInputs()) != 1 || e.ImplicitInputs()[0].Path() != "header.h" {
		t.Fatalf("implicit ins = %v", e.ImplicitInputs())
	}
	if len(e.OrderOnlyInputs()) != 1 || e.OrderOnlyInputs()[0].Path() != "dir/.stamp" {
		t.Fatalf("order-only ins = %v", e.OrderOnlyInputs())
	}
	if len(e.Validations) != 1 || e.Validations[0].Path() != "lint.ok" {
		t.Fatalf("validations = %v", e.Validations)
	}
}

func TestPoolBinding(t *testing.T) {
	s := parse(t, "pool link_pool\n  depth = 2\n"+
		"rule link\n  command = link $in $out\n"+
		"build out: link a\n  pool = link_pool\n")
	p := s.LookupPool("link_pool")
	if p == nil || p.Depth != 2 {
		t.Fatalf("pool = %+v", p)
	}
	if s.Edges[0].Pool != p {
		t.Fatalf("edge did not bind to link_pool")
	}
}

func TestDuplicateRuleErrors(t *testing.T) {
	s := graph.NewState()
	p := New(s, noReadFile, Options{})
	err := p.ParseString("b.ninja", "rule cc\n  command = x\nrule cc\n  command = y\n")
	if err == nil || !strings.Contains(err.Error(), "duplicate rule") {
		t.Fatalf("got %v", err)
	}
}

func TestDuplicateOutputErrors(t *testing.T) {
	s := graph.NewState()
	p := New(s, noReadFile, Options{})
	err := p.ParseString("b.ninja", "rule cc\n  command = x\nbuild out: cc a\nbuild out: cc b\n")
	if err == nil || !strings.Contains(err.Error(), "multiple rules generate") {
		t.Fatalf("got %v", err)
	}
}

func TestUnknownRuleErrors(t *testing.T) {
	s := graph.NewState()
	p := New(s, noReadFile, Options{})
	err := p.ParseString("b.ninja", "build out: missingrule a\n")
	if err == nil || !strings.Contains(err.Error(), "unknown build rule") {
		t.Fatalf("got %v", err)
	}
}

func TestDefaultUnknownTargetErrors(t *testing.T) {
	s := graph.NewState()
	p := New(s, noReadFile, Options{})
	err := p.ParseString("b.ninja", "default nope\n")
	if err == nil || !strings.Contains(err.Error(), "unknown target") {
		t.Fatalf("got %v", err)
	}
}

func TestIncludeSharesScopeSubninjaDoesNot(t *testing.T) {
	s := graph.NewState()
	reads := map[string]string{
		"inc.ninja": "x = included\n",
		"sub.ninja": "y = sub\n",
	}
	p := New(s, func(path string) (string, error) { return reads[path], nil }, Options{})
	err := p.ParseString("b.ninja", "include inc.ninja\nsubninja sub.ninja\nz = $x\n")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Bindings.LookupVariable("z"); got != "included" {
		t.Fatalf("include did not share scope: z=%q", got)
	}
	if got := s.Bindings.LookupVariable("y"); got != "" {
		t.Fatalf("subninja leaked into parent scope: y=%q", got)
	}
}

func TestDefaultTargets(t *testing.T) {
	s := parse(t, "rule cc\n  command = x\nbuild a: cc\nbuild b: cc\ndefault a\n")
	if len(s.DefaultNodes()) != 1 || s.DefaultNodes()[0].Path() != "a" {
		t.Fatalf("default nodes = %v", s.DefaultNodes())
	}
}
