package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"nb/internal/buildlog"
	"nb/internal/config"
	"nb/internal/depslog"
	"nb/internal/driver"
	"nb/internal/dyndep"
	"nb/internal/graph"
	"nb/internal/nblog"
	"nb/internal/status"
)

// runTool dispatches a `-t` subcommand against the parsed graph. buildLog
// and depsLog are nil for tools that run before the logs are opened (see
// earlyTool in main.go).
func runTool(cfg *config.Config, state *graph.State, disk driver.Disk, logger *nblog.Logger,
	buildLog *buildlog.Log, depsLog *depslog.Log) int {

	switch cfg.Tool {
	case "clean":
		return toolClean(cfg, state, disk, logger)
	case "targets":
		return toolTargets(state, cfg.ToolArgs, logger)
	case "query":
		return toolQuery(state, disk, cfg.ToolArgs, logger)
	case "commands":
		return toolCommands(state, cfg.ToolArgs, logger)
	case "compdb":
		return toolCompdb(state, cfg.ToolArgs, logger)
	case "recompact":
		return toolRecompact(state, buildLog, depsLog, logger)
	default:
		logger.Error("unknown tool %q", cfg.Tool)
		return 2
	}
}

// collectTargets resolves a list of target paths against state, defaulting
// to state.DefaultNodes() when none are given, and suggests a close match
// via status.SuggestTarget when a name isn't found.
func collectTargets(state *graph.State, args []string) ([]*graph.Node, error) {
	if len(args) == 0 {
		return state.DefaultNodes(), nil
	}
	var names []string
	for p := range state.Nodes {
		names = append(names, p)
	}
	var nodes []*graph.Node
	for _, a := range args {
		canon, _ := graph.CanonicalizePath(a)
		n := state.LookupNode(canon)
		if n == nil {
			if s := status.SuggestTarget(canon, names); s != "" {
				return nil, fmt.Errorf("unknown target %q, did you mean %q?", a, s)
			}
			return nil, fmt.Errorf("unknown target %q", a)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// toolClean removes every output and depfile/rspfile the graph can produce
// (or just those reachable from the given targets), without running
// anything.
func toolClean(cfg *config.Config, state *graph.State, disk driver.Disk, logger *nblog.Logger) int {
	generator := false
	cleanRules := false
	targets := cfg.ToolArgs
	for len(targets) > 0 {
		switch targets[0] {
		case "-g":
			generator = true
			targets = targets[1:]
		case "-r":
			cleanRules = true
			targets = targets[1:]
		default:
			goto argsDone
		}
	}
argsDone:

	if cleanRules && len(targets) == 0 {
		logger.Error("expected a rule to clean")
		return 1
	}

	c := newCleaner(state, disk, cfg.Verbosity == config.Verbose || cfg.DryRun, cfg.DryRun)
	var err error
	switch {
	case cleanRules:
		err = c.cleanRules(targets)
	case len(targets) > 0:
		err = c.cleanTargets(targets)
	default:
		err = c.cleanAll(generator)
	}
	if err != nil {
		logger.Error("%s", err)
		return 1
	}
	fmt.Printf("Cleaning... %d files.\n", c.removedCount)
	return 0
}

// cleaner removes files the way the manifest says a rule produced them,
// tracking what's already gone so repeated inputs (an output shared by two
// requested targets) are only reported once.
type cleaner struct {
	state   *graph.State
	disk    driver.Disk
	verbose bool
	dryRun  bool

	removed      map[string]bool
	removedCount int
}

func newCleaner(state *graph.State, disk driver.Disk, verbose, dryRun bool) *cleaner {
	return &cleaner{state: state, disk: disk, verbose: verbose, dryRun: dryRun, removed: map[string]bool{}}
}

func (c *cleaner) remove(path string) {
	if c.removed[path] {
		return
	}
	c.removed[path] = true
	if c.dryRun {
		if mtime, err := c.disk.Stat(path); err == nil && mtime != graph.Missing {
			c.report(path)
		}
		return
	}
	if err := c.disk.RemoveFile(path); err == nil {
		c.report(path)
	}
}

func (c *cleaner) report(path string) {
	c.removedCount++
	if c.verbose {
		fmt.Printf("Remove %s\n", path)
	}
}

func (c *cleaner) removeEdgeFiles(e *graph.Edge) {
	if df := e.Depfile(); df != "" {
		c.remove(df)
	}
	if rsp := e.RspFile(); rsp != "" {
		c.remove(rsp)
	}
}

func (c *cleaner) cleanAll(generator bool) error {
	for _, e := range c.state.Edges {
		if e.IsPhony() {
			continue
		}
		if e.IsGenerator() && !generator {
			continue
		}
		for _, out := range e.Outputs {
			c.remove(out.Path())
		}
		c.removeEdgeFiles(e)
	}
	return nil
}

func (c *cleaner) cleanTargets(targets []string) error {
	nodes, err := collectTargets(c.state, targets)
	if err != nil {
		return err
	}
	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		e := n.InEdge()
		if e == nil || e.IsPhony() {
			return
		}
		for _, out := range e.Outputs {
			c.remove(out.Path())
		}
		c.removeEdgeFiles(e)
		for _, in := range e.AllInputs() {
			walk(in)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return nil
}

func (c *cleaner) cleanRules(ruleNames []string) error {
	want := map[string]bool{}
	for _, r := range ruleNames {
		want[r] = true
	}
	for _, e := range c.state.Edges {
		if e.Rule == nil || !want[e.Rule.Name] {
			continue
		}
		for _, out := range e.Outputs {
			c.remove(out.Path())
		}
		c.removeEdgeFiles(e)
	}
	return nil
}

// toolTargets implements `-t targets [rule [name] | depth [N] | all]`.
func toolTargets(state *graph.State, args []string, logger *nblog.Logger) int {
	depth := 1
	if len(args) >= 1 {
		switch args[0] {
		case "rule":
			rule := ""
			if len(args) > 1 {
				rule = args[1]
			}
			if rule == "" {
				return targetsSourceList(state)
			}
			return targetsByRule(state, rule)
		case "depth":
			if len(args) > 1 {
				d, err := strconv.Atoi(args[1])
				if err != nil {
					logger.Error("invalid depth %q", args[1])
					return 1
				}
				depth = d
			}
		case "all":
			return targetsAll(state)
		default:
			suggestion := status.SuggestTarget(args[0], []string{"rule", "depth", "all"})
			if suggestion != "" {
				logger.Error("unknown target tool mode %q, did you mean %q?", args[0], suggestion)
			} else {
				logger.Error("unknown target tool mode %q", args[0])
			}
			return 1
		}
	}
	return targetsByDepth(state.RootNodes(), depth, 0)
}

func targetsAll(state *graph.State) int {
	for _, e := range state.Edges {
		for _, out := range e.Outputs {
			ruleName := "phony"
			if e.Rule != nil {
				ruleName = e.Rule.Name
			}
			fmt.Printf("%s: %s\n", out.Path(), ruleName)
		}
	}
	return 0
}

func targetsSourceList(state *graph.State) int {
	for _, e := range state.Edges {
		for _, in := range e.AllInputs() {
			if in.InEdge() == nil {
				fmt.Println(in.Path())
			}
		}
	}
	return 0
}

func targetsByRule(state *graph.State, rule string) int {
	seen := map[string]bool{}
	var outs []string
	for _, e := range state.Edges {
		if e.Rule != nil && e.Rule.Name == rule {
			for _, out := range e.Outputs {
				if !seen[out.Path()] {
					seen[out.Path()] = true
					outs = append(outs, out.Path())
				}
			}
		}
	}
	sort.Strings(outs)
	for _, o := range outs {
		fmt.Println(o)
	}
	return 0
}

func targetsByDepth(nodes []*graph.Node, depth, indent int) int {
	for _, n := range nodes {
		for i := 0; i < indent; i++ {
			fmt.Print("  ")
		}
		if e := n.InEdge(); e != nil {
			ruleName := "phony"
			if e.Rule != nil {
				ruleName = e.Rule.Name
			}
			fmt.Printf("%s: %s\n", n.Path(), ruleName)
			if depth > 1 || depth <= 0 {
				targetsByDepth(e.AllInputs(), depth-1, indent+1)
			}
		} else {
			fmt.Println(n.Path())
		}
	}
	return 0
}

// toolQuery implements `-t query TARGET...`: prints a target's producing
// rule, its full input list (labeled implicit/order-only), its
// validations, and every edge that consumes it.
func toolQuery(state *graph.State, disk driver.Disk, args []string, logger *nblog.Logger) int {
	if len(args) == 0 {
		logger.Error("expected a target to query")
		return 1
	}
	loader := dyndep.NewLoader(state, disk.ReadFile, nil)

	for _, arg := range args {
		nodes, err := collectTargets(state, []string{arg})
		if err != nil {
			logger.Error("%s", err)
			return 1
		}
		n := nodes[0]
		fmt.Printf("%s:\n", n.Path())
		if e := n.InEdge(); e != nil {
			if e.Dyndep != nil && e.Dyndep.DyndepPending() {
				if err := loader.Load(e.Dyndep); err != nil {
					logger.Warning("%s", err)
				}
			}
			ruleName := "phony"
			if e.Rule != nil {
				ruleName = e.Rule.Name
			}
			fmt.Printf("  input: %s\n", ruleName)
			for i, in := range e.AllInputs() {
				label := ""
				switch {
				case i >= e.ExplicitDeps && i < e.ExplicitDeps+e.ImplicitDeps:
					label = "| "
				case i >= e.ExplicitDeps+e.ImplicitDeps:
					label = "|| "
				}
				fmt.Printf("    %s%s\n", label, in.Path())
			}
			if len(e.Validations) > 0 {
				fmt.Println("  validations:")
				for _, v := range e.Validations {
					fmt.Printf("    %s\n", v.Path())
				}
			}
		}
		fmt.Println("  outputs:")
		for _, e := range n.OutEdges() {
			for _, out := range e.Outputs {
				fmt.Printf("    %s\n", out.Path())
			}
		}
		if vs := n.ValidationOutEdges(); len(vs) > 0 {
			fmt.Println("  validation for:")
			for _, e := range vs {
				for _, out := range e.Outputs {
					fmt.Printf("    %s\n", out.Path())
				}
			}
		}
	}
	return 0
}

// toolCommands implements `-t commands [-s] TARGET...`: prints the
// commands that would build the given targets, in dependency order unless
// -s restricts it to just the target's own edge.
func toolCommands(state *graph.State, args []string, logger *nblog.Logger) int {
	single := false
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-s":
			single = true
		default:
			logger.Error("unknown commands option %q", args[0])
			return 1
		}
		args = args[1:]
	}
	nodes, err := collectTargets(state, args)
	if err != nil {
		logger.Error("%s", err)
		return 1
	}
	seen := map[*graph.Edge]bool{}
	for _, n := range nodes {
		printCommands(n.InEdge(), seen, single)
	}
	return 0
}

func printCommands(e *graph.Edge, seen map[*graph.Edge]bool, single bool) {
	if e == nil || seen[e] {
		return
	}
	seen[e] = true
	if !single {
		for _, in := range e.AllInputs() {
			printCommands(in.InEdge(), seen, single)
		}
	}
	if !e.IsPhony() {
		fmt.Println(e.Command())
	}
}

// toolCompdb implements `-t compdb [-x] [RULE...]`: emits a JSON
// compilation database of every non-phony edge whose rule matches (or
// every edge, if no rule names are given).
func toolCompdb(state *graph.State, args []string, logger *nblog.Logger) int {
	expandRspfile := false
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-x":
			expandRspfile = true
		default:
			logger.Error("unknown compdb option %q", args[0])
			return 1
		}
		args = args[1:]
	}
	want := map[string]bool{}
	for _, r := range args {
		want[r] = true
	}

	dir, err := os.Getwd()
	if err != nil {
		logger.Error("%s", err)
		return 1
	}

	type compdbEntry struct {
		Directory string `json:"directory"`
		Command   string `json:"command"`
		File      string `json:"file"`
		Output    string `json:"output"`
	}
	var entries []compdbEntry
	for _, e := range state.Edges {
		if len(e.AllInputs()) == 0 || e.IsPhony() {
			continue
		}
		if len(want) > 0 {
			if e.Rule == nil || !want[e.Rule.Name] {
				continue
			}
		}
		command := e.Command()
		if expandRspfile {
			if rsp := e.RspFile(); rsp != "" {
				command = command + " # " + e.RspFileContent()
			}
		}
		entries = append(entries, compdbEntry{
			Directory: dir,
			Command:   command,
			File:      e.AllInputs()[0].Path(),
			Output:    e.Outputs[0].Path(),
		})
	}
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		logger.Error("%s", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

// toolRecompact implements `-t recompact`: it rewrites both logs from
// scratch without running a build, whether or not loading flagged them as
// due for compaction, and drops build-log entries for outputs the current
// graph no longer has. main.go opens the logs before dispatching any tool
// that isn't in earlyTool.
func toolRecompact(state *graph.State, buildLog *buildlog.Log, depsLog *depslog.Log, logger *nblog.Logger) int {
	if buildLog == nil || depsLog == nil {
		logger.Error("no build directory to recompact")
		return 1
	}
	if err := buildLog.Recompact(".ninja_log", isDeadFor(state)); err != nil {
		logger.Error("recompacting build log: %s", err)
		return 1
	}
	if err := depsLog.Recompact(".ninja_deps"); err != nil {
		logger.Error("recompacting deps log: %s", err)
		return 1
	}
	return 0
}
