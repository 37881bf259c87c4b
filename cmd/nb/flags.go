package main

import (
	"fmt"
	"math"
	"strconv"

	getopt "git.sr.ht/~sircmpwn/getopt"

	"nb/internal/config"
	"nb/internal/subprocess"
)

// parsedFlags is what readFlags extracts from argv before any manifest has
// been read: the build configuration plus whatever positional arguments
// (explicit targets, or a tool name and its own arguments) followed the
// recognized options.
type parsedFlags struct {
	cfg         *config.Config
	keepDepfile bool
	rest        []string
}

// readFlags parses a `-d`/`-f`/`-j`/`-k`/`-l`/`-n`/`-t`/`-v`/`-C` argument
// line the way the teacher's ReadFlags does, stopping at the first
// unrecognized or tool-introducing option the same way getopt does: `-t`
// consumes the rest of the line as the tool's own arguments.
func readFlags(args []string) (*parsedFlags, error) {
	cfg := config.Default()
	pf := &parsedFlags{cfg: cfg}

	opts, optind, err := getopt.Getopts(args, "d:f:j:k:l:nt:vC:h")
	if err != nil {
		return nil, err
	}
	rest := args[optind:]
	sawParallelism := false

	for _, o := range opts {
		switch o.Option {
		case 'd':
			switch o.Value {
			case "explain":
				cfg.Explain = true
			case "keepdepfile":
				pf.keepDepfile = true
			case "keeprsp":
				// Accepted for compatibility; this driver always removes a
				// successfully-consumed rspfile, so there is nothing to keep.
			default:
				return nil, fmt.Errorf("nb: unknown debug mode %q (use explain, keepdepfile)", o.Value)
			}
		case 'f':
			cfg.InputFile = o.Value
		case 'j':
			n, err := strconv.Atoi(o.Value)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("nb: invalid -j parameter %q", o.Value)
			}
			if n == 0 {
				n = math.MaxInt32
			}
			cfg.Parallelism = n
			sawParallelism = true
		case 'k':
			n, err := strconv.Atoi(o.Value)
			if err != nil {
				return nil, fmt.Errorf("nb: -k parameter not numeric; did you mean -k 0?")
			}
			if n <= 0 {
				n = math.MaxInt32
			}
			cfg.FailuresAllowed = n
		case 'l':
			f, err := strconv.ParseFloat(o.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("nb: -l parameter not numeric: did you mean -l 0.0?")
			}
			cfg.MaxLoadAverage = f
		case 'n':
			cfg.DryRun = true
		case 't':
			cfg.Tool = o.Value
			cfg.ToolArgs = rest
			rest = nil
		case 'v':
			cfg.Verbosity = config.Verbose
		case 'C':
			cfg.WorkingDir = o.Value
		case 'h':
			return nil, usageError{}
		}
	}

	if !sawParallelism {
		// Mirrors the teacher's DeferGuessParallelism: the guess is only
		// computed once flag parsing is done, so an explicit -j always
		// wins regardless of where it appears on the command line.
		cfg.Parallelism = subprocess.GuessParallelism()
	}

	pf.rest = rest
	return pf, nil
}

// usageError signals that usage text should be printed instead of a plain
// error message, but still ends the invocation with exit code 2.
type usageError struct{}

func (usageError) Error() string { return usage }

const usage = `usage: nb [options] [targets...]

if targets are unspecified, builds every default (or root) target.

options:
  -C DIR   change to DIR before doing anything else
  -f FILE  specify input build file [default=build.ninja]
  -j N     run N jobs in parallel (0 means infinity)
  -k N     keep going until N jobs fail (0 means infinity) [default=1]
  -l N     do not start new jobs if the load average is greater than N
  -n       dry run (don't run commands but act like they succeeded)
  -v       show all command lines while building
  -d MODE  enable a debug mode (explain, keepdepfile)
  -t TOOL  run a subtool (clean, targets, query, commands, compdb, recompact)
`
