// Package subprocess runs the shell commands edges bind and multiplexes
// waiting on however many are in flight at once, the same "launch a batch,
// then block until at least one finishes" loop a build driver needs
// regardless of how many jobs run in parallel.
package subprocess

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/edwingeng/deque"
	loadavg "github.com/mikoim/go-loadavg"
	"github.com/tevino/abool/v2"
)

// ExitStatus mirrors the three outcomes a driver cares about: the command's
// own exit code only matters as "succeeded" vs "failed"; a command killed
// by an in-flight cancellation is reported distinctly so the driver doesn't
// log it as a normal failure.
type ExitStatus int8

const (
	ExitSuccess     ExitStatus = 0
	ExitFailure     ExitStatus = 1
	ExitInterrupted ExitStatus = 2
)

// Subprocess is one in-flight (or just-finished) command.
type Subprocess struct {
	command    string
	useConsole bool

	cmd    *exec.Cmd
	buf    bytes.Buffer
	cancel context.CancelFunc
	done   chan struct{}
	status ExitStatus
}

func newSubprocess(command string, useConsole bool) *Subprocess {
	return &Subprocess{command: command, useConsole: useConsole, done: make(chan struct{})}
}

// start launches the command through the platform shell, exactly as a
// manifest's `command =` line expects to be interpreted.
func (s *Subprocess) start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.cmd = shellCommand(ctx, s.command)
	if s.useConsole {
		s.cmd.Stdout = nil
		s.cmd.Stderr = nil
	} else {
		s.cmd.Stdout = &s.buf
		s.cmd.Stderr = &s.buf
	}
	if err := s.cmd.Start(); err != nil {
		return err
	}
	go func() {
		err := s.cmd.Wait()
		switch {
		case ctx.Err() == context.Canceled:
			s.status = ExitInterrupted
		case err != nil:
			s.status = ExitFailure
		default:
			s.status = ExitSuccess
		}
		close(s.done)
	}()
	return nil
}

// Done reports whether the command has finished (successfully, with a
// failure, or because it was interrupted).
func (s *Subprocess) Done() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Finish blocks until the command exits and returns its final status.
func (s *Subprocess) Finish() ExitStatus {
	<-s.done
	return s.status
}

// Output returns everything the command wrote to stdout/stderr, merged in
// the order the OS delivered it — real ninja merges the two streams too,
// since interleaving them separately would lose ordering information a
// failing command's output needs to stay readable.
func (s *Subprocess) Output() string { return s.buf.String() }

func (s *Subprocess) Command() string { return s.command }

// Set tracks every in-flight Subprocess plus a FIFO of ones that have
// finished but whose result the driver hasn't consumed yet.
type Set struct {
	running     []*Subprocess
	finished    deque.Deque
	ctx         context.Context
	cancelAll   context.CancelFunc
	interrupted *abool.AtomicBool
}

func NewSet() *Set {
	ctx, cancel := context.WithCancel(context.Background())
	return &Set{
		finished:    deque.NewDeque(),
		ctx:         ctx,
		cancelAll:   cancel,
		interrupted: abool.New(),
	}
}

// Add starts command and begins tracking it.
func (s *Set) Add(command string, useConsole bool) (*Subprocess, error) {
	sp := newSubprocess(command, useConsole)
	if err := sp.start(s.ctx); err != nil {
		return nil, err
	}
	s.running = append(s.running, sp)
	return sp, nil
}

// DoWork blocks up to timeout for at least one running subprocess to
// finish, moving it from running to the finished queue. It returns true if
// the set was interrupted (via Stop) while waiting.
func (s *Set) DoWork(timeout time.Duration) bool {
	if len(s.running) == 0 {
		return s.interrupted.IsSet()
	}
	deadline := time.After(timeout)
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()
	for {
		for i, sp := range s.running {
			if sp.Done() {
				s.running = append(s.running[:i], s.running[i+1:]...)
				s.finished.PushBack(sp)
				return s.interrupted.IsSet()
			}
		}
		if s.interrupted.IsSet() {
			return true
		}
		select {
		case <-deadline:
			return s.interrupted.IsSet()
		case <-poll.C:
		}
	}
}

// NextFinished pops the next subprocess whose result hasn't been consumed
// yet, or nil if none are ready.
func (s *Set) NextFinished() *Subprocess {
	if s.finished.Empty() {
		return nil
	}
	return s.finished.PopFront().(*Subprocess)
}

// Running reports how many subprocesses are currently in flight, for pool
// and parallelism accounting.
func (s *Set) Running() int { return len(s.running) }

// Stop asks every running subprocess to terminate and marks the set
// interrupted so DoWork callers unblock promptly instead of waiting out
// whatever's still running.
func (s *Set) Stop() {
	s.interrupted.Set()
	s.cancelAll()
}

// Interrupted reports whether Stop has been called.
func (s *Set) Interrupted() bool { return s.interrupted.IsSet() }

// Clear cancels every in-flight subprocess and drops them; used when the
// build is abandoned (Ctrl-C, a fatal error) rather than completing
// normally.
func (s *Set) Clear() {
	s.cancelAll()
	s.running = nil
	for !s.finished.Empty() {
		s.finished.PopFront()
	}
}

// GuessParallelism suggests a default job count from the number of CPUs and
// (where available) the current load average — a lightly loaded many-core
// box gets more concurrent jobs than one already busy.
func GuessParallelism() int {
	n := runtime.NumCPU()
	guess := 0
	switch {
	case n <= 1:
		guess = 2
	case n == 2:
		guess = 3
	default:
		guess = n + 2
	}
	if load, err := CurrentLoadAverage(); err == nil && load >= float64(n) {
		// Already loaded past one job per core: don't pile on the
		// generous +2 headroom, just let each core take one job.
		return n
	}
	return guess
}

// CurrentLoadAverage reports the system's 1-minute load average, the value
// `-l` compares a candidate new job against. Returns an error on platforms
// go-loadavg has no reading for (e.g. it shells out to `/proc/loadavg` on
// Linux and has no Windows implementation), which callers treat as
// "unavailable" rather than fatal.
func CurrentLoadAverage() (float64, error) {
	avg, err := loadavg.Parse()
	if err != nil {
		return 0, err
	}
	return avg.LoadAverage1, nil
}

