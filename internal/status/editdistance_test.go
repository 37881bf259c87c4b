package status

import "testing"

func TestEditDistanceIdenticalStringsIsZero(t *testing.T) {
	if d := EditDistance("hello", "hello", true, 0); d != 0 {
		t.Fatalf("distance = %d, want 0", d)
	}
}

func TestEditDistanceSingleSubstitution(t *testing.T) {
	if d := EditDistance("cat", "bat", true, 0); d != 1 {
		t.Fatalf("distance = %d, want 1", d)
	}
}

func TestEditDistanceInsertionDeletion(t *testing.T) {
	if d := EditDistance("cat", "cats", true, 0); d != 1 {
		t.Fatalf("distance = %d, want 1", d)
	}
	if d := EditDistance("", "abc", true, 0); d != 3 {
		t.Fatalf("distance = %d, want 3", d)
	}
}

func TestEditDistanceNoReplacementsCostsTwice(t *testing.T) {
	// Without substitutions a single differing character costs a
	// delete-then-insert pair instead of one replacement.
	if d := EditDistance("cat", "bat", false, 0); d != 2 {
		t.Fatalf("distance = %d, want 2", d)
	}
}

func TestSuggestTargetFindsCloseMatch(t *testing.T) {
	got := SuggestTarget("buld", []string{"build", "clean", "install"})
	if got != "build" {
		t.Fatalf("suggestion = %q, want %q", got, "build")
	}
}

func TestSuggestTargetNoneCloseEnough(t *testing.T) {
	got := SuggestTarget("xyz", []string{"completely", "different", "words"})
	if got != "" {
		t.Fatalf("suggestion = %q, want none", got)
	}
}
