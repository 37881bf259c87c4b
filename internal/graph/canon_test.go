package graph

import "testing"

func TestCanonicalizePathCollapses(t *testing.T) {
	cases := map[string]string{
		"foo.c":              "foo.c",
		"./foo.c":             "foo.c",
		"foo//bar.c":          "foo/bar.c",
		"foo/./bar.c":         "foo/bar.c",
		"foo/bar/../baz.c":    "foo/baz.c",
		"a\\b\\c.c":           "a/b/c.c",
		"../a/b.c":            "../a/b.c",
		"/abs/../a.c":         "/a.c",
	}
	for in, want := range cases {
		got, _ := CanonicalizePath(in)
		if got != want {
			t.Errorf("CanonicalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{"foo.c", "./a/../b.c", "a//b///c", `a\b\c`, "../x/y.c", "/a/b/../../c.c"}
	for _, in := range inputs {
		once, bits1 := CanonicalizePath(in)
		twice, bits2 := CanonicalizePath(once)
		// An already-canonical path holds only '/' separators, so
		// re-canonicalizing it records no backslash bits.
		if once != twice || bits2 != 0 {
			t.Errorf("canon(canon(%q)) = %q (bits %d), canon(%q) = %q (bits %d)", in, twice, bits2, in, once, bits1)
		}
	}
}

func TestSlashBitsRoundTrip(t *testing.T) {
	canon, bits := CanonicalizePath(`a\b/c`)
	if canon != "a/b/c" {
		t.Fatalf("canon = %q", canon)
	}
	restored := PathDecanonicalized(canon, bits)
	if restored != `a\b/c` {
		t.Fatalf("PathDecanonicalized = %q, want %q", restored, `a\b/c`)
	}
}
