package diskutil

import (
	"os"
	"path/filepath"
	"testing"

	"nb/internal/graph"
)

func TestRealStatMissing(t *testing.T) {
	r := NewReal()
	mtime, err := r.Stat(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mtime != graph.Missing {
		t.Fatalf("mtime = %d, want Missing", mtime)
	}
}

func TestRealWriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.txt")
	r := NewReal()

	if err := r.MakeDirs(path); err != nil {
		t.Fatalf("MakeDirs: %v", err)
	}
	if err := r.WriteFile(path, "hello"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := r.ReadFile(path)
	if err != nil || got != "hello" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}
	mtime, err := r.Stat(path)
	if err != nil || mtime == graph.Missing {
		t.Fatalf("Stat after write = %d, %v", mtime, err)
	}
	if err := r.RemoveFile(path); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists after RemoveFile")
	}
	if err := r.RemoveFile(path); err != nil {
		t.Fatalf("RemoveFile on missing file should be a no-op, got %v", err)
	}
}

func TestFakeRoundTrips(t *testing.T) {
	f := NewFake()
	if err := f.WriteFile("out.txt", "data"); err != nil {
		t.Fatal(err)
	}
	got, err := f.ReadFile("out.txt")
	if err != nil || got != "data" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}
	mtime, _ := f.Stat("out.txt")
	if mtime == graph.Missing {
		t.Fatal("expected non-missing mtime after write")
	}
	f.SetMtime("out.txt", graph.TimeStamp(999))
	mtime, _ = f.Stat("out.txt")
	if mtime != 999 {
		t.Fatalf("mtime = %d", mtime)
	}
}

func TestFakeMissingFileReadErrors(t *testing.T) {
	f := NewFake()
	if _, err := f.ReadFile("nope"); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
