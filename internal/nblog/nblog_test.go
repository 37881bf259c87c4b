package nblog

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfoWritesToOutWithPrefix(t *testing.T) {
	var out, errBuf bytes.Buffer
	l := NewTo(&out, &errBuf)
	l.Info("building %d targets", 3)
	if got := out.String(); !strings.Contains(got, "nb: building 3 targets") {
		t.Fatalf("out = %q", got)
	}
	if errBuf.Len() != 0 {
		t.Fatalf("expected nothing on stderr, got %q", errBuf.String())
	}
}

func TestWarningAndErrorWriteToErr(t *testing.T) {
	var out, errBuf bytes.Buffer
	l := NewTo(&out, &errBuf)
	l.Warning("log corrupted, recreating")
	l.Error("missing input %q", "a.c")

	got := errBuf.String()
	if !strings.Contains(got, "nb: warning: log corrupted, recreating") {
		t.Fatalf("errBuf = %q", got)
	}
	if !strings.Contains(got, `nb: error: missing input "a.c"`) {
		t.Fatalf("errBuf = %q", got)
	}
}

func TestTraceOnlyPrintsWhenVerbose(t *testing.T) {
	var out, errBuf bytes.Buffer
	l := NewTo(&out, &errBuf)
	l.Trace("considering edge for %s", "out.o")
	if errBuf.Len() != 0 {
		t.Fatalf("expected no trace output before SetVerbose, got %q", errBuf.String())
	}

	l.SetVerbose(true)
	l.Trace("considering edge for %s", "out.o")
	if !strings.Contains(errBuf.String(), "considering edge for out.o") {
		t.Fatalf("errBuf = %q", errBuf.String())
	}
}

func TestExplanationsRecordAndLookup(t *testing.T) {
	e := NewExplanations()
	key := "out.o"
	e.Record(key, "output %s does not exist", "out.o")
	e.Record(key, "command line changed")

	got := e.LookupAndAppend(key, nil)
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if got[0] != "output out.o does not exist" || got[1] != "command line changed" {
		t.Fatalf("got %v", got)
	}
}

func TestExplanationsNilIsSafe(t *testing.T) {
	var e *Explanations
	e.Record("x", "should be a no-op")
	if got := e.LookupAndAppend("x", nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
