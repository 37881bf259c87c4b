package jobserver

import (
	"os"
	"testing"
)

func TestFromMakeflagsMissingDegradesToImplicitOnly(t *testing.T) {
	c := fromMakeflags("")
	if c.Available() {
		t.Fatal("expected no FIFO without --jobserver-auth in MAKEFLAGS")
	}
	if !c.TryAcquire() {
		t.Fatal("implicit token should always be available")
	}
	if c.TryAcquire() {
		t.Fatal("second acquire should fail with no FIFO backing it")
	}
}

func TestFromMakeflagsParsesJobserverAuth(t *testing.T) {
	c := fromMakeflags("-j8 --jobserver-auth=9,10 -- ")
	if c.readFD != 9 || c.writeFD != 10 {
		t.Fatalf("readFD=%d writeFD=%d, want 9,10", c.readFD, c.writeFD)
	}
}

func TestFromMakeflagsParsesLegacyJobserverFds(t *testing.T) {
	c := fromMakeflags("--jobserver-fds=3,4 -j4")
	if c.readFD != 3 || c.writeFD != 4 {
		t.Fatalf("readFD=%d writeFD=%d, want 3,4", c.readFD, c.writeFD)
	}
}

func TestTryAcquireAndReleaseRoundTripThroughFIFO(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	c := newForFiles(r, w)
	defer c.Close()

	if !c.TryAcquire() {
		t.Fatal("implicit token should always be available")
	}

	// No byte in the pipe yet: the second acquire must fail without
	// blocking.
	if c.TryAcquire() {
		t.Fatal("expected second acquire to fail with an empty FIFO")
	}

	// Put a token in the pipe (as a peer client would on Release) and
	// confirm it can be claimed non-blockingly.
	if _, err := w.Write([]byte{'+'}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	if !c.TryAcquire() {
		t.Fatal("expected to acquire the seeded token")
	}

	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := c.Release(); err == nil {
		t.Fatal("expected error releasing with no tokens held")
	}
}
