// Package driver schedules and runs a build: Plan decides what's ready and
// in what order, Builder drives a CommandRunner through it and feeds the
// results back into build log, deps log, and dyndep re-evaluation.
package driver

import (
	"errors"
	"fmt"
	"time"

	"nb/internal/buildlog"
	"nb/internal/config"
	"nb/internal/depslog"
	"nb/internal/dyndep"
	"nb/internal/graph"
	"nb/internal/jobserver"
	"nb/internal/nblog"
	"nb/internal/status"
	"nb/internal/subprocess"
)

// Disk is the filesystem surface the driver needs beyond graph.Disk's
// read-only Stat: creating output directories, writing rspfiles, reading
// depfiles, and removing stale ones. diskutil.Real and diskutil.Fake both
// implement it.
type Disk interface {
	graph.Disk
	MakeDirs(path string) error
	WriteFile(path, contents string) error
	ReadFile(path string) (string, error)
	RemoveFile(path string) error
}

// Builder owns one build from AddTarget calls through Build's scheduling
// loop to the final build/deps log writes.
type Builder struct {
	state *graph.State
	cfg   *config.Config

	disk     Disk
	buildLog *buildlog.Log
	depsLog  *depslog.Log

	plan          *Plan
	dyndepLoader  *dyndep.Loader
	statusPrinter *status.Printer
	log           *nblog.Logger
	jobs          *jobserver.Client

	runner       CommandRunner
	runningStart map[*graph.Edge]time.Time
	startTime    time.Time

	// keepDepfile disables the usual post-extraction cleanup of deps=gcc
	// depfiles, for debugging a failing extraction.
	keepDepfile bool
}

// NewBuilder wires a Builder around an already-parsed graph. buildLog and
// depsLog may be nil (no persisted history; every target looks dirty).
func NewBuilder(state *graph.State, cfg *config.Config, disk Disk, buildLog *buildlog.Log, depsLog *depslog.Log, logger *nblog.Logger) *Builder {
	b := &Builder{
		state:         state,
		cfg:           cfg,
		disk:          disk,
		buildLog:      buildLog,
		depsLog:       depsLog,
		plan:          NewPlan(),
		statusPrinter: status.New(cfg),
		log:           logger,
		runningStart:  map[*graph.Edge]time.Time{},
	}
	b.plan.onEdgeWanted = b.statusPrinter.EdgeAddedToPlan
	b.plan.onEdgeUnwanted = b.statusPrinter.EdgeRemovedFromPlan
	b.plan.loadDyndep = b.loadDyndep
	b.dyndepLoader = dyndep.NewLoader(state, disk.ReadFile, b.explain)

	jobs := jobserver.FromEnvironment()
	if jobs.Available() {
		b.jobs = jobs
	}
	return b
}

func (b *Builder) explain(format string, args ...interface{}) {
	if b.cfg.Explain {
		b.log.Trace(format, args...)
	}
}

func (b *Builder) graphBuildLog() graph.BuildLog {
	if b.buildLog == nil {
		return nil
	}
	return b.buildLog
}

func (b *Builder) graphDepsLog() graph.DepsLog {
	if b.depsLog == nil {
		return nil
	}
	return b.depsLog
}

// AddTarget computes path's current dirty state and, if it (or anything it
// depends on) needs to run, adds it to the plan.
func (b *Builder) AddTarget(path string) (*graph.Node, error) {
	canon, slashBits := graph.CanonicalizePath(path)
	node := b.state.GetNode(canon, slashBits)
	if err := graph.RecomputeDirty(node, b.disk, b.graphBuildLog(), b.graphDepsLog(), b.explain); err != nil {
		return nil, err
	}
	if edge := node.InEdge(); edge == nil || !edge.OutputsReady {
		if err := b.plan.AddTarget(node); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// AlreadyUpToDate reports whether every added target turned out clean, so
// the caller can print "nothing to do" instead of running Build.
func (b *Builder) AlreadyUpToDate() bool { return b.plan.CommandEdgeCount() == 0 }

// SetKeepDepfile disables the usual post-extraction removal of deps=gcc
// depfiles, mirroring the teacher's `-d keepdepfile` debug flag.
func (b *Builder) SetKeepDepfile(keep bool) { b.keepDepfile = keep }

// SetCommandRunner overrides the runner Build will drive instead of picking
// a real-or-dry-run one itself, for tests that need to control exactly when
// and how each command "finishes".
func (b *Builder) SetCommandRunner(r CommandRunner) { b.runner = r }

// Plan exposes the underlying Plan for callers that need to inspect it.
func (b *Builder) Plan() *Plan { return b.plan }

// loadDyndep is Plan's hook for a node whose producing edges are pending a
// dyndep file: load it, then re-walk the edges it updated so their new
// implicit inputs enter the plan too.
func (b *Builder) loadDyndep(node *graph.Node) error {
	if err := b.dyndepLoader.Load(node); err != nil {
		return err
	}
	var updated []*graph.Edge
	for _, e := range node.OutEdges() {
		if e.Dyndep == node {
			updated = append(updated, e)
		}
	}
	return b.plan.DyndepsLoaded(updated)
}

// Build runs every plan edge to completion, in priority order, bounded by
// config.Parallelism (and a jobserver token pool, if one is inherited).
func (b *Builder) Build() error {
	b.plan.PrepareQueue()

	if b.runner == nil {
		if b.cfg.DryRun {
			b.runner = newDryRunCommandRunner()
		} else {
			b.runner = newRealCommandRunner(maxInt(b.cfg.Parallelism, 1), b.cfg.MaxLoadAverage, b.jobs)
		}
	}

	b.startTime = time.Now()
	b.statusPrinter.BuildStarted()

	pendingCommands := 0
	failures := 0
	var stashed *graph.Edge

	for {
		for (b.cfg.FailuresAllowed == 0 || failures < b.cfg.FailuresAllowed) && b.runner.CanRunMore() {
			edge := stashed
			stashed = nil
			if edge == nil {
				edge = b.plan.FindWork()
			}
			if edge == nil {
				break
			}

			if edge.IsGenerator() && b.buildLog != nil {
				if err := b.buildLog.Close(); err != nil {
					return err
				}
			}

			if edge.IsPhony() {
				// Phony edges have no command to run or wait for: tell the
				// plan it's done without ever touching the runner or the
				// status printer.
				if err := b.plan.EdgeFinished(edge, true); err != nil {
					return err
				}
				continue
			}

			if err := b.startEdge(edge); err != nil {
				if errors.Is(err, ErrNoToken) {
					stashed = edge
					break
				}
				return err
			}
			pendingCommands++
		}

		if pendingCommands == 0 {
			if stashed != nil {
				return fmt.Errorf("driver: no jobserver token free and no command in flight to release one")
			}
			break
		}

		result, err := b.runner.WaitForCommand()
		if err != nil {
			return err
		}
		pendingCommands--
		if result.Status == subprocess.ExitInterrupted {
			return fmt.Errorf("build interrupted")
		}
		if err := b.finishCommand(result); err != nil {
			return err
		}
		if !result.Success() {
			failures++
		}
	}

	b.statusPrinter.BuildFinished()

	if failures > 0 {
		plural := ""
		if failures > 1 {
			plural = "s"
		}
		return fmt.Errorf("build stopped: %d job%s failed", failures, plural)
	}
	if b.plan.MoreToDo() {
		return fmt.Errorf("build did not complete: remaining work never became ready (cycle or pool deadlock)")
	}
	return nil
}

// startEdge runs a non-phony edge's command: Build never calls this for a
// phony edge, which it finishes directly against the plan instead.
func (b *Builder) startEdge(edge *graph.Edge) error {
	for _, out := range edge.Outputs {
		if err := b.disk.MakeDirs(out.Path()); err != nil {
			return fmt.Errorf("creating directory for %q: %w", out.Path(), err)
		}
	}
	if df := edge.Depfile(); df != "" {
		if err := b.disk.MakeDirs(df); err != nil {
			return fmt.Errorf("creating directory for depfile %q: %w", df, err)
		}
	}
	if rsp := edge.RspFile(); rsp != "" {
		if err := b.disk.WriteFile(rsp, edge.RspFileContent()); err != nil {
			return fmt.Errorf("writing rspfile %q: %w", rsp, err)
		}
	}
	if err := b.runner.StartCommand(edge); err != nil {
		return err
	}
	b.statusPrinter.EdgeStarted(edge)
	b.runningStart[edge] = time.Now()
	return nil
}

// finishCommand folds one command's result back into the build: deps
// extraction, the build/deps log, restat cascade, and finally telling the
// plan the edge is done so it can schedule whatever it unblocked. Build
// never calls this for a phony edge.
func (b *Builder) finishCommand(result *Result) error {
	edge := result.Edge
	startedAt, hadStart := b.runningStart[edge]
	delete(b.runningStart, edge)

	// Extraction must happen before anything else: it filters the
	// captured output (msvc's /showIncludes lines) even on a failing
	// command, and a failure to extract turns a successful command into
	// a failed one from the build's perspective.
	depsNodes, err := b.extractDeps(edge, result)
	if err != nil && result.Success() {
		if result.Output != "" {
			result.Output += "\n"
		}
		result.Output += err.Error()
		result.Status = subprocess.ExitFailure
	}

	b.statusPrinter.EdgeFinished(edge, result.Success(), result.Output)

	if !result.Success() {
		b.removeFailedOutputs(edge)
		return b.plan.EdgeFinished(edge, false)
	}

	if !b.cfg.DryRun {
		if err := b.restatOutputs(edge); err != nil {
			return err
		}
	}

	if err := b.plan.EdgeFinished(edge, true); err != nil {
		return err
	}

	if rsp := edge.RspFile(); rsp != "" {
		_ = b.disk.RemoveFile(rsp)
	}

	if b.buildLog != nil {
		startMs, endMs := 0, 0
		if hadStart {
			startMs = int(startedAt.Sub(b.startTime).Milliseconds())
			endMs = int(time.Since(b.startTime).Milliseconds())
		}
		mtime := graph.Missing
		if len(edge.Outputs) > 0 {
			mtime = edge.Outputs[0].Mtime()
		}
		if err := b.buildLog.RecordCommand(edge, startMs, endMs, mtime); err != nil {
			return fmt.Errorf("writing build log: %w", err)
		}
	}

	if edge.DepsType() != "" && !b.cfg.DryRun && b.depsLog != nil {
		for _, o := range edge.Outputs {
			if err := b.depsLog.RecordDeps(o, o.Mtime(), depsNodes); err != nil {
				return fmt.Errorf("writing deps log: %w", err)
			}
		}
	}
	return nil
}

// restatOutputs re-stats edge's outputs after a successful run. For a
// restat edge whose output mtime didn't actually change, it tells the plan
// to cascade the skip to whatever depends only on that output.
func (b *Builder) restatOutputs(edge *graph.Edge) error {
	restat := edge.IsRestat()
	generator := edge.IsGenerator()
	if !restat && !generator {
		for _, o := range edge.Outputs {
			if _, err := o.StatNode(b.disk); err != nil {
				return err
			}
		}
		return nil
	}
	for _, o := range edge.Outputs {
		prev := o.Mtime()
		mtime, err := o.StatNode(b.disk)
		if err != nil {
			return err
		}
		if restat && mtime == prev {
			if err := b.plan.CleanNode(o, b.graphBuildLog(), b.graphDepsLog()); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeFailedOutputs deletes a failed edge's outputs and depfile so a
// partially-written file can never look up to date on the next build,
// unless the edge is restat or generator: those are expected to leave
// their previous output in place across a failed rerun.
func (b *Builder) removeFailedOutputs(edge *graph.Edge) {
	if edge.IsRestat() || edge.IsGenerator() {
		return
	}
	for _, o := range edge.Outputs {
		_ = b.disk.RemoveFile(o.Path())
	}
	if df := edge.Depfile(); df != "" && !b.keepDepfile {
		_ = b.disk.RemoveFile(df)
	}
}

// Cleanup aborts any in-flight commands and removes the outputs (and
// depfile) of edges that were still running, so a build killed mid-flight
// doesn't leave a half-written output looking up to date.
func (b *Builder) Cleanup() {
	if b.runner != nil {
		b.runner.Abort()
	}
	for edge := range b.runningStart {
		for _, o := range edge.Outputs {
			_ = b.disk.RemoveFile(o.Path())
		}
		if df := edge.Depfile(); df != "" {
			_ = b.disk.RemoveFile(df)
		}
	}
	b.runningStart = map[*graph.Edge]time.Time{}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
