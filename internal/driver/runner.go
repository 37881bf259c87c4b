package driver

import (
	"errors"
	"fmt"
	"time"

	"nb/internal/graph"
	"nb/internal/jobserver"
	"nb/internal/subprocess"
)

// waitForever is DoWork's timeout when at least one subprocess is known to
// be running: DoWork itself polls every 5ms, so this just needs to be
// longer than any real build could take.
const waitForever = 24 * time.Hour

// Result is the outcome of one finished command.
type Result struct {
	Edge   *graph.Edge
	Status subprocess.ExitStatus
	Output string
}

func (r *Result) Success() bool { return r.Status == subprocess.ExitSuccess }

// ErrNoToken is returned by CommandRunner.StartCommand when a jobserver
// client is configured and no token is currently available; the caller is
// expected to retry the same edge once another command finishes and
// releases one.
var ErrNoToken = errors.New("driver: no jobserver token available")

// CommandRunner starts and waits for the commands a build's ready edges
// bind, behind dry-run and real execution.
type CommandRunner interface {
	StartCommand(edge *graph.Edge) error
	WaitForCommand() (*Result, error)
	CanRunMore() bool
	Abort()
}

// realCommandRunner runs commands as real subprocesses, capped by
// Parallelism, a shared jobserver token pool (if configured), and
// maxLoadAverage (if positive, the `-l` flag's ceiling).
type realCommandRunner struct {
	procs          *subprocess.Set
	jobs           *jobserver.Client
	parallelism    int
	maxLoadAverage float64

	edgeBySubprocess map[*subprocess.Subprocess]*graph.Edge
	tokenHeld        map[*graph.Edge]bool
}

func newRealCommandRunner(parallelism int, maxLoadAverage float64, jobs *jobserver.Client) *realCommandRunner {
	return &realCommandRunner{
		procs:            subprocess.NewSet(),
		jobs:             jobs,
		parallelism:      parallelism,
		maxLoadAverage:   maxLoadAverage,
		edgeBySubprocess: map[*subprocess.Subprocess]*graph.Edge{},
		tokenHeld:        map[*graph.Edge]bool{},
	}
}

func (r *realCommandRunner) CanRunMore() bool {
	if r.parallelism > 0 && r.procs.Running() >= r.parallelism {
		return false
	}
	// Never block the very first job on load: a build that can't start
	// anything would hang forever if the box happens to be busy.
	if r.maxLoadAverage > 0 && r.procs.Running() > 0 {
		if load, err := subprocess.CurrentLoadAverage(); err == nil && load > r.maxLoadAverage {
			return false
		}
	}
	return true
}

func (r *realCommandRunner) StartCommand(edge *graph.Edge) error {
	if r.jobs != nil {
		if !r.jobs.TryAcquire() {
			return ErrNoToken
		}
		r.tokenHeld[edge] = true
	}
	sp, err := r.procs.Add(edge.Command(), edge.GetBindingBool("console"))
	if err != nil {
		if r.tokenHeld[edge] {
			_ = r.jobs.Release()
			delete(r.tokenHeld, edge)
		}
		return fmt.Errorf("starting %q: %w", edge.Command(), err)
	}
	r.edgeBySubprocess[sp] = edge
	return nil
}

func (r *realCommandRunner) WaitForCommand() (*Result, error) {
	for {
		interrupted := r.procs.DoWork(waitForever)
		sp := r.procs.NextFinished()
		if sp == nil {
			if interrupted {
				return nil, fmt.Errorf("driver: build interrupted")
			}
			continue
		}
		edge := r.edgeBySubprocess[sp]
		delete(r.edgeBySubprocess, sp)
		if r.tokenHeld[edge] {
			_ = r.jobs.Release()
			delete(r.tokenHeld, edge)
		}
		return &Result{Edge: edge, Status: sp.Finish(), Output: sp.Output()}, nil
	}
}

func (r *realCommandRunner) Abort() { r.procs.Stop() }

// dryRunCommandRunner records edges as if they ran instantly and
// successfully, for `-n`.
type dryRunCommandRunner struct {
	finished []*graph.Edge
}

func newDryRunCommandRunner() *dryRunCommandRunner { return &dryRunCommandRunner{} }

func (d *dryRunCommandRunner) StartCommand(edge *graph.Edge) error {
	d.finished = append(d.finished, edge)
	return nil
}

func (d *dryRunCommandRunner) WaitForCommand() (*Result, error) {
	if len(d.finished) == 0 {
		return nil, fmt.Errorf("driver: no dry-run command pending")
	}
	edge := d.finished[0]
	d.finished = d.finished[1:]
	return &Result{Edge: edge, Status: subprocess.ExitSuccess}, nil
}

func (d *dryRunCommandRunner) CanRunMore() bool { return true }

func (d *dryRunCommandRunner) Abort() {}
