package config

import "testing"

func TestDefaultMatchesUnconfiguredBehavior(t *testing.T) {
	c := Default()
	if c.Verbosity != Normal {
		t.Fatalf("Verbosity = %v, want Normal", c.Verbosity)
	}
	if c.Parallelism != 1 {
		t.Fatalf("Parallelism = %d, want 1", c.Parallelism)
	}
	if c.FailuresAllowed != 1 {
		t.Fatalf("FailuresAllowed = %d, want 1 (stop after first failure)", c.FailuresAllowed)
	}
	if c.DryRun {
		t.Fatal("DryRun should default to false")
	}
	if c.MaxLoadAverage >= 0 {
		t.Fatal("MaxLoadAverage should default to disabled (negative)")
	}
}
