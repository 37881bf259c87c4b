package main

import (
	"os"
	"strings"
	"testing"

	"nb/internal/config"
	"nb/internal/diskutil"
	"nb/internal/graph"
	"nb/internal/manifest"
	"nb/internal/nblog"
)

func parseState(t *testing.T, input string) *graph.State {
	t.Helper()
	s := graph.NewState()
	p := manifest.New(s, func(string) (string, error) { return "", nil }, manifest.Options{})
	if err := p.ParseString("build.ninja", input); err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return s
}

func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stdout
	os.Stdout = w
	f()
	w.Close()
	os.Stdout = old
	var buf strings.Builder
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err != nil {
			break
		}
	}
	return buf.String()
}

func TestToolTargetsAllListsEveryOutput(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\n"+
		"build a.o: cc a.c\nbuild b.o: cc b.c\n")
	out := captureStdout(t, func() { toolTargets(s, []string{"all"}, nblog.New()) })
	if !strings.Contains(out, "a.o: cc") || !strings.Contains(out, "b.o: cc") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestToolTargetsUnknownModeSuggestsClosest(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\nbuild a.o: cc a.c\n")
	var errBuf strings.Builder
	logger := nblog.NewTo(&strings.Builder{}, &errBuf)
	if code := toolTargets(s, []string{"al"}, logger); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(errBuf.String(), `did you mean "all"`) {
		t.Fatalf("expected a suggestion, got %q", errBuf.String())
	}
}

func TestToolCommandsPrintsWholeChainByDefault(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\n"+
		"rule link\n  command = link $in -o $out\n"+
		"build a.o: cc a.c\nbuild app: link a.o\n")
	out := captureStdout(t, func() { toolCommands(s, []string{"app"}, nblog.New()) })
	if !strings.Contains(out, "cc a.c -o a.o") || !strings.Contains(out, "link a.o -o app") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestToolCommandsSingleFlagSkipsDependencyChain(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\n"+
		"rule link\n  command = link $in -o $out\n"+
		"build a.o: cc a.c\nbuild app: link a.o\n")
	out := captureStdout(t, func() { toolCommands(s, []string{"-s", "app"}, nblog.New()) })
	if strings.Contains(out, "cc a.c") {
		t.Fatalf("expected -s to skip the dependency chain, got %q", out)
	}
	if !strings.Contains(out, "link a.o -o app") {
		t.Fatalf("missing target command: %q", out)
	}
}

func TestToolCommandsSkipsPhonyEdges(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\n"+
		"build a.o: cc a.c\nbuild all: phony a.o\n")
	out := captureStdout(t, func() { toolCommands(s, []string{"all"}, nblog.New()) })
	if !strings.Contains(out, "cc a.c -o a.o") {
		t.Fatalf("missing real command: %q", out)
	}
	if strings.Contains(out, "phony") {
		t.Fatalf("phony edge should never print a command: %q", out)
	}
}

func TestToolCleanRemovesOutputsAndDepfile(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\n  depfile = $out.d\n"+
		"build a.o: cc a.c\n")
	disk := diskutil.NewFake()
	disk.WriteFile("a.o", "object")
	disk.WriteFile("a.o.d", "a.o: a.h")

	code := toolClean(config.Default(), s, disk, nblog.New())
	if code != 0 {
		t.Fatalf("toolClean returned %d", code)
	}
	if _, err := disk.ReadFile("a.o"); err == nil {
		t.Fatal("a.o should have been removed")
	}
	if _, err := disk.ReadFile("a.o.d"); err == nil {
		t.Fatal("a.o.d should have been removed")
	}
}

func TestToolCleanDryRunDoesNotTouchDisk(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\nbuild a.o: cc a.c\n")
	disk := diskutil.NewFake()
	disk.WriteFile("a.o", "object")

	cfg := config.Default()
	cfg.DryRun = true
	toolClean(cfg, s, disk, nblog.New())
	if _, err := disk.ReadFile("a.o"); err != nil {
		t.Fatal("dry run should not have removed a.o")
	}
}

func TestToolCleanSkipsGeneratorOutputsUnlessFlagged(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\n  generator = 1\nbuild a.o: cc a.c\n")
	disk := diskutil.NewFake()
	disk.WriteFile("a.o", "object")

	cfg := config.Default()
	toolClean(cfg, s, disk, nblog.New())
	if _, err := disk.ReadFile("a.o"); err != nil {
		t.Fatal("generator output should survive a plain clean")
	}

	cfg.ToolArgs = []string{"-g"}
	toolClean(cfg, s, disk, nblog.New())
	if _, err := disk.ReadFile("a.o"); err == nil {
		t.Fatal("-g should remove generator output")
	}
}

func TestToolCompdbEmitsOneEntryPerNonPhonyEdge(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\n"+
		"build a.o: cc a.c\nbuild all: phony a.o\n")
	out := captureStdout(t, func() { toolCompdb(s, nil, nblog.New()) })
	if !strings.Contains(out, `"command": "cc a.c -o a.o"`) {
		t.Fatalf("unexpected compdb output: %q", out)
	}
	if strings.Count(out, `"directory"`) != 1 {
		t.Fatalf("want exactly one entry (phony excluded), got %q", out)
	}
}

func TestToolQueryUnknownTargetReportsError(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\nbuild a.o: cc a.c\n")
	disk := diskutil.NewFake()
	code := toolQuery(s, disk, []string{"missing.o"}, nblog.New())
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestToolQueryPrintsInputsAndOutputs(t *testing.T) {
	s := parseState(t, "rule cc\n  command = cc $in -o $out\n"+
		"build a.o: cc a.c | header.h || dir/.stamp\n"+
		"rule link\n  command = link $in -o $out\nbuild app: link a.o\n")
	disk := diskutil.NewFake()
	out := captureStdout(t, func() { toolQuery(s, disk, []string{"a.o"}, nblog.New()) })
	if !strings.Contains(out, "input: cc") {
		t.Fatalf("missing input rule: %q", out)
	}
	if !strings.Contains(out, "| header.h") {
		t.Fatalf("missing labeled implicit input: %q", out)
	}
	if !strings.Contains(out, "|| dir/.stamp") {
		t.Fatalf("missing labeled order-only input: %q", out)
	}
	if !strings.Contains(out, "app") {
		t.Fatalf("missing consuming edge's output: %q", out)
	}
}
