package buildlog

import (
	"os"
	"path/filepath"
	"testing"

	"nb/internal/eval"
	"nb/internal/graph"
)

func newCatEdge(s *graph.State, out string) *graph.Edge {
	rule := eval.NewRule("cat")
	cmd := &eval.String{}
	cmd.AddText("cat in > " + out)
	rule.AddBinding("command", cmd)
	e := s.AddEdge(rule)
	e.Env = eval.NewBindingEnv(s.Bindings)
	canon, slash := graph.CanonicalizePath(out)
	if err := s.AddOut(e, s.GetNode(canon, slash), false); err != nil {
		panic(err)
	}
	return e
}

func TestRecordAndLookupInMemory(t *testing.T) {
	s := graph.NewState()
	e := newCatEdge(s, "out.txt")

	l := New()
	if err := l.RecordCommand(e, 1, 2, graph.TimeStamp(100)); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	entry, ok := l.Entry("out.txt")
	if !ok {
		t.Fatal("expected entry for out.txt")
	}
	if entry.CommandHash != e.CommandHash() {
		t.Fatalf("hash mismatch: got %x want %x", entry.CommandHash, e.CommandHash())
	}
	if entry.Mtime != 100 {
		t.Fatalf("mtime = %d", entry.Mtime)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "does-not-exist.ninja_log"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := l.Entry("anything"); ok {
		t.Fatal("expected empty log")
	}
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_log")

	s := graph.NewState()
	e := newCatEdge(s, "out.txt")

	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := l.OpenForWrite(path, nil); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	if err := l.RecordCommand(e, 10, 20, graph.TimeStamp(12345)); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	entry, ok := reloaded.Entry("out.txt")
	if !ok {
		t.Fatal("expected reloaded entry")
	}
	if entry.CommandHash != e.CommandHash() || entry.Mtime != 12345 {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestCorruptTrailingLineIsTolerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_log")
	content := "# ninja log v7\n" +
		"1\t2\t100\tgood.txt\tdeadbeef\n" +
		"garbage that is not tab separated at all\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := l.Entry("good.txt"); !ok {
		t.Fatal("expected the entry before the corrupt line to survive")
	}
}

func TestRecompactDropsDeadEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_log")

	s := graph.NewState()
	e1 := newCatEdge(s, "live.txt")
	e2 := newCatEdge(s, "dead.txt")

	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.OpenForWrite(path, nil); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordCommand(e1, 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordCommand(e2, 0, 1, 1); err != nil {
		t.Fatal(err)
	}

	if err := l.Recompact(path, func(output string) bool { return output == "dead.txt" }); err != nil {
		t.Fatalf("Recompact: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.Entry("dead.txt"); ok {
		t.Fatal("dead.txt should have been dropped")
	}
	if _, ok := reloaded.Entry("live.txt"); !ok {
		t.Fatal("live.txt should have survived recompaction")
	}
}
