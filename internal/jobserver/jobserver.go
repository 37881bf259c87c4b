// Package jobserver implements a client for the GNU make jobserver
// protocol: a cooperative concurrency token pool shared between a parent
// build tool and the children it launches, so a build invoked from inside
// another build doesn't oversubscribe the machine.
package jobserver

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// Client hands out tokens non-blockingly. The implicit token (one per
// client, matching the one make always grants its direct child) is always
// available and never touches the shared FIFO.
type Client struct {
	readFD, writeFD int
	file            *os.File // the read end, opened for non-blocking Read
	writeFile       *os.File
	implicitHeld    bool
	held            int
}

var makeflagsJobserverRE = regexp.MustCompile(`--jobserver-(?:auth|fds)=(\d+),(\d+)`)

// FromEnvironment parses MAKEFLAGS looking for a --jobserver-auth= or
// --jobserver-fds= token and, if found, opens a client bound to the
// inherited file descriptors. It returns a client with no FIFO (implicit
// token only) if the variable is absent or malformed, degrading
// gracefully rather than failing the build.
func FromEnvironment() *Client {
	return fromMakeflags(os.Getenv("MAKEFLAGS"))
}

func fromMakeflags(makeflags string) *Client {
	m := makeflagsJobserverRE.FindStringSubmatch(makeflags)
	if m == nil {
		return &Client{readFD: -1, writeFD: -1}
	}
	r, err1 := strconv.Atoi(m[1])
	w, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return &Client{readFD: -1, writeFD: -1}
	}
	c := &Client{readFD: r, writeFD: w}
	if f := os.NewFile(uintptr(r), "jobserver-read"); f != nil {
		c.file = f
	} else {
		c.readFD = -1
	}
	if f := os.NewFile(uintptr(w), "jobserver-write"); f != nil {
		c.writeFile = f
	} else {
		c.writeFD = -1
	}
	return c
}

// newForFiles builds a client directly from already-open file handles,
// bypassing MAKEFLAGS parsing — used by tests that simulate the jobserver
// FIFO with an os.Pipe instead of real inherited descriptors.
func newForFiles(read, write *os.File) *Client {
	return &Client{readFD: 0, writeFD: 0, file: read, writeFile: write}
}

// Available reports whether the client is backed by a real shared FIFO
// (as opposed to implicit-token-only, the degraded mode).
func (c *Client) Available() bool { return c.readFD >= 0 && c.writeFD >= 0 }

// TryAcquire attempts to obtain one token without blocking. The very first
// call per client succeeds via the implicit token with no I/O; subsequent
// calls try to read a single byte from the jobserver FIFO, waiting at most
// about a millisecond when none is available.
func (c *Client) TryAcquire() bool {
	if !c.implicitHeld {
		c.implicitHeld = true
		c.held++
		return true
	}
	if !c.Available() {
		return false
	}
	// A deadline already in the past fails the read before it is tried, so
	// the deadline sits just ahead: a byte already waiting is read at once,
	// and an empty FIFO reports a timeout, treated as "no token free".
	_ = c.file.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, 1)
	n, err := c.file.Read(buf)
	_ = c.file.SetReadDeadline(time.Time{})
	if err != nil || n != 1 {
		return false
	}
	c.held++
	return true
}

// Release returns one previously acquired token. The implicit token is
// released by simply marking it free again; a FIFO-backed token is
// returned by writing its byte back.
func (c *Client) Release() error {
	if c.held == 0 {
		return fmt.Errorf("jobserver: Release called with no token held")
	}
	c.held--
	if c.held == 0 {
		c.implicitHeld = false
		return nil
	}
	if !c.Available() {
		return fmt.Errorf("jobserver: held %d FIFO tokens with no FIFO open", c.held)
	}
	_, err := c.writeFile.Write([]byte{'+'})
	return err
}

// Close releases every held token and closes the client's file handles.
func (c *Client) Close() error {
	for c.held > 0 {
		if err := c.Release(); err != nil {
			return err
		}
	}
	var err error
	if c.file != nil {
		err = c.file.Close()
	}
	if c.writeFile != nil {
		if werr := c.writeFile.Close(); err == nil {
			err = werr
		}
	}
	return err
}
