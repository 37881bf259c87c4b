// Package status prints build progress: a one-line running total by
// default, full command lines in verbose mode, and "FAILED:" blocks with
// captured output for edges that didn't succeed. The progress line's
// format is configurable via $NINJA_STATUS, matching make/ninja's own
// convention so existing CI log scrapers keep working unmodified.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"nb/internal/config"
	"nb/internal/graph"
)

// Printer tracks edge counts and renders progress/failure output.
type Printer struct {
	mu sync.Mutex

	verbosity config.Verbosity
	format    string
	out       io.Writer

	started, finished, total, running int
	startTime                         time.Time

	explain func(output *graph.Node) []string

	rate *slidingRate
}

// New builds a Printer for cfg, reading $NINJA_STATUS for the progress
// format (defaulting to "[%f/%t] " when unset, matching real ninja).
func New(cfg *config.Config) *Printer {
	format := os.Getenv("NINJA_STATUS")
	if format == "" {
		format = "[%f/%t] "
	}
	return &Printer{
		verbosity: cfg.Verbosity,
		format:    format,
		out:       os.Stdout,
		rate:      newSlidingRate(max(cfg.Parallelism, 1)),
	}
}

// SetExplainer installs a callback consulted for every printed edge to
// surface `-d explain` reasoning; nil disables it, the default.
func (p *Printer) SetExplainer(f func(output *graph.Node) []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.explain = f
}

// BuildStarted resets the running counters for a fresh build.
func (p *Printer) BuildStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started, p.finished, p.running = 0, 0, 0
	p.startTime = time.Now()
}

// EdgeAddedToPlan/EdgeRemovedFromPlan track the denominator ("%t") as the
// plan discovers or prunes edges mid-build (restat-skip cascades shrink
// it after the fact).
func (p *Printer) EdgeAddedToPlan(*graph.Edge) {
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
}

func (p *Printer) EdgeRemovedFromPlan(*graph.Edge) {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// EdgeStarted records an edge beginning execution and prints its status
// line unless verbosity suppresses it.
func (p *Printer) EdgeStarted(e *graph.Edge) {
	p.mu.Lock()
	p.started++
	p.running++
	p.mu.Unlock()
	p.printStatus(e)
}

// EdgeFinished records an edge's completion, prints a FAILED block plus
// captured output when it didn't succeed, and otherwise prints the usual
// status line.
func (p *Printer) EdgeFinished(e *graph.Edge, success bool, output string) {
	p.mu.Lock()
	p.finished++
	p.running--
	p.rate.update(p.finished, time.Now())
	quiet := p.verbosity == config.Quiet
	p.mu.Unlock()
	if quiet {
		return
	}
	if !success {
		outputs := strings.Join(outputPaths(e), " ")
		fmt.Fprintln(p.out, color.RedString("FAILED:")+" "+outputs)
		fmt.Fprintln(p.out, e.Command())
	} else {
		p.printStatus(e)
	}
	if output != "" {
		fmt.Fprint(p.out, output)
		if !strings.HasSuffix(output, "\n") {
			fmt.Fprintln(p.out)
		}
	}
}

// BuildFinished prints the trailing newline that separates the build's
// progress output from whatever the front end prints after it.
func (p *Printer) BuildFinished() {
	fmt.Fprintln(p.out)
}

func outputPaths(e *graph.Edge) []string {
	paths := make([]string, 0, len(e.Outputs))
	for _, n := range e.Outputs {
		paths = append(paths, n.Path())
	}
	return paths
}

func (p *Printer) printStatus(e *graph.Edge) {
	p.mu.Lock()
	explain := p.explain
	line := p.format
	p.mu.Unlock()

	if explain != nil {
		var reasons []string
		for _, out := range e.Outputs {
			reasons = append(reasons, explain(out)...)
		}
		for _, r := range reasons {
			fmt.Fprintf(os.Stderr, "nb explain: %s\n", r)
		}
	}

	if p.verbosity == config.Quiet || p.verbosity == config.NoStatusUpdate {
		return
	}

	rendered := p.formatProgress(line)
	desc := e.GetBinding("description")
	if desc == "" || p.verbosity == config.Verbose {
		desc = e.Command()
	}
	fmt.Fprintln(p.out, rendered+desc)
}

// formatProgress expands $NINJA_STATUS-style placeholders against the
// current counters.
func (p *Printer) formatProgress(format string) string {
	p.mu.Lock()
	started, finished, total, running := p.started, p.finished, p.total, p.running
	elapsed := time.Since(p.startTime)
	rate := p.rate.rate()
	p.mu.Unlock()

	var out strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			out.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case '%':
			out.WriteByte('%')
		case 's':
			fmt.Fprintf(&out, "%d", started)
		case 't':
			fmt.Fprintf(&out, "%d", total)
		case 'r':
			fmt.Fprintf(&out, "%d", running)
		case 'u':
			fmt.Fprintf(&out, "%d", total-started)
		case 'f':
			fmt.Fprintf(&out, "%d", finished)
		case 'o':
			if elapsed <= 0 {
				out.WriteByte('?')
			} else {
				fmt.Fprintf(&out, "%.1f", float64(finished)/elapsed.Seconds())
			}
		case 'c':
			if rate < 0 {
				out.WriteByte('?')
			} else {
				fmt.Fprintf(&out, "%.1f", rate)
			}
		case 'p':
			pct := 0
			if total > 0 {
				pct = 100 * finished / total
			}
			fmt.Fprintf(&out, "%3d%%", pct)
		case 'e':
			fmt.Fprintf(&out, "%.3f", elapsed.Seconds())
		case 'w':
			out.WriteString(formatDuration(elapsed))
		default:
			out.WriteByte('%')
			out.WriteByte(format[i])
		}
	}
	return out.String()
}

func formatDuration(d time.Duration) string {
	sec := int64(d.Seconds())
	if sec >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// slidingRate tracks finished-edges-per-second averaged over the last N
// completions, so "%c" reports a current rate rather than an overall
// average dragged down by a slow start.
type slidingRate struct {
	n        int
	times    []time.Time
	lastHint int
	have     bool
}

func newSlidingRate(n int) *slidingRate { return &slidingRate{n: n, lastHint: -1} }

func (r *slidingRate) update(hint int, now time.Time) {
	if hint == r.lastHint {
		return
	}
	r.lastHint = hint
	if len(r.times) == r.n {
		r.times = r.times[1:]
	}
	r.times = append(r.times, now)
	r.have = len(r.times) > 1
}

func (r *slidingRate) rate() float64 {
	if !r.have {
		return -1
	}
	span := r.times[len(r.times)-1].Sub(r.times[0]).Seconds()
	if span <= 0 {
		return -1
	}
	return float64(len(r.times)) / span
}
