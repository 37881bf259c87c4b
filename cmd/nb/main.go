// Command nb is the command-line front end over the build driver: it
// parses flags, loads a manifest, and either runs a build or dispatches to
// a `-t` tool subcommand.
package main

import (
	"fmt"
	"os"
	"os/signal"

	"nb/internal/buildlog"
	"nb/internal/config"
	"nb/internal/depslog"
	"nb/internal/diskutil"
	"nb/internal/driver"
	"nb/internal/graph"
	"nb/internal/manifest"
	"nb/internal/nblog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	logger := nblog.New()

	pf, err := readFlags(argv)
	if err != nil {
		if _, ok := err.(usageError); ok {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		logger.Error("%s", err)
		return 2
	}
	cfg := pf.cfg
	logger.SetVerbose(cfg.Verbosity == config.Verbose || cfg.Explain)

	if cfg.WorkingDir != "" {
		if cfg.Tool == "" && cfg.Verbosity != config.NoStatusUpdate {
			logger.Info("Entering directory `%s'", cfg.WorkingDir)
		}
		if err := os.Chdir(cfg.WorkingDir); err != nil {
			logger.Error("chdir to %q: %v", cfg.WorkingDir, err)
			return 2
		}
	}

	inputFile := cfg.InputFile
	if inputFile == "" {
		inputFile = "build.ninja"
	}

	disk := diskutil.NewReal()
	state := graph.NewState()

	if err := loadManifest(state, disk, inputFile); err != nil {
		logger.Error("%s", err)
		return 2
	}

	if cfg.Tool != "" && earlyTool(cfg.Tool) {
		return runTool(cfg, state, disk, logger, nil, nil)
	}

	buildLog, err := openBuildLog(state)
	if err != nil {
		logger.Error("loading build log: %s", err)
		return 1
	}
	defer buildLog.Close()

	depsLog, err := openDepsLog(state)
	if err != nil {
		logger.Error("loading deps log: %s", err)
		return 1
	}
	defer depsLog.Close()

	if cfg.Tool != "" {
		return runTool(cfg, state, disk, logger, buildLog, depsLog)
	}

	return runBuild(cfg, pf.keepDepfile, state, disk, buildLog, depsLog, logger, pf.rest)
}

// earlyTool reports whether a tool needs to run before the build/deps logs
// are opened (they don't touch persisted history at all).
func earlyTool(name string) bool {
	switch name {
	case "targets", "query", "commands", "compdb":
		return true
	}
	return false
}

func loadManifest(state *graph.State, disk driver.Disk, path string) error {
	readFile := func(p string) (string, error) { return disk.ReadFile(p) }
	contents, err := disk.ReadFile(path)
	if err != nil {
		return fmt.Errorf("loading %q: %w", path, err)
	}
	p := manifest.New(state, readFile, manifest.Options{})
	if err := p.ParseString(path, contents); err != nil {
		return fmt.Errorf("%q: %w", path, err)
	}
	return nil
}

// isDeadFor returns a predicate reporting whether a path is no longer referenced by the
// freshly-parsed graph, the criterion both logs use to drop stale entries
// during recompaction.
func isDeadFor(state *graph.State) func(string) bool {
	return func(path string) bool { return state.LookupNode(path) == nil }
}

func openBuildLog(state *graph.State) (*buildlog.Log, error) {
	l, err := buildlog.Load(".ninja_log")
	if err != nil {
		return nil, err
	}
	if err := l.OpenForWrite(".ninja_log", isDeadFor(state)); err != nil {
		return nil, err
	}
	return l, nil
}

func openDepsLog(state *graph.State) (*depslog.Log, error) {
	l, err := depslog.Load(".ninja_deps", state)
	if err != nil {
		return nil, err
	}
	if err := l.OpenForWrite(".ninja_deps"); err != nil {
		return nil, err
	}
	return l, nil
}

func runBuild(cfg *config.Config, keepDepfile bool, state *graph.State, disk driver.Disk,
	buildLog *buildlog.Log, depsLog *depslog.Log, logger *nblog.Logger, targets []string) int {

	b := driver.NewBuilder(state, cfg, disk, buildLog, depsLog, logger)
	b.SetKeepDepfile(keepDepfile)

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-interrupted:
			b.Cleanup()
			os.Exit(130)
		case <-done:
		}
	}()

	paths := targets
	if len(paths) == 0 {
		for _, n := range state.DefaultNodes() {
			paths = append(paths, n.Path())
		}
	}
	if len(paths) == 0 {
		logger.Error("no targets given and no default target declared")
		return 1
	}

	for _, path := range paths {
		if _, err := b.AddTarget(path); err != nil {
			logger.Error("%s", err)
			return 1
		}
	}

	if b.AlreadyUpToDate() {
		logger.Info("no work to do.")
		return 0
	}

	if err := b.Build(); err != nil {
		logger.Error("%s", err)
		return 1
	}
	return 0
}
