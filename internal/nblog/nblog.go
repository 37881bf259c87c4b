// Package nblog is the one sink every diagnostic funnels through: build-log
// corruption warnings, verbose tracing, and the fatal messages a manifest or
// graph error prints before exit. It stays on the standard library's log
// package rather than a structured-logging framework: these are terse,
// human-facing "nb: ..." lines to a terminal, not structured events meant
// for a log pipeline, so there is nothing for a heavier logging library to
// buy here.
package nblog

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger prints "nb: ", "nb: warning: ", and "nb: error: "-prefixed lines,
// matching the teacher's Info/Warning/Error helpers.
type Logger struct {
	out, err *log.Logger
	verbose  bool
}

// New creates a Logger writing info lines to stdout and warning, error and
// trace lines to stderr.
func New() *Logger {
	return &Logger{
		out: log.New(os.Stdout, "", 0),
		err: log.New(os.Stderr, "", 0),
	}
}

// NewTo creates a Logger writing both info and error lines to the given
// writers, for tests that need to capture output.
func NewTo(out, err io.Writer) *Logger {
	return &Logger{out: log.New(out, "", 0), err: log.New(err, "", 0)}
}

// SetVerbose controls whether Trace actually prints anything.
func (l *Logger) SetVerbose(v bool) { l.verbose = v }

func (l *Logger) Info(format string, args ...interface{}) {
	l.out.Printf("nb: "+format, args...)
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.err.Printf("nb: warning: "+format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.err.Printf("nb: error: "+format, args...)
}

// Trace prints only when verbose tracing (`-v`/`-d explain`) is enabled.
func (l *Logger) Trace(format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.err.Printf("nb: "+format, args...)
}

// Fatal prints an error line and exits with status 2, matching a manifest
// error's exit code.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.Error(format, args...)
	os.Exit(2)
}

// Explanations records, per graph item (by arbitrary key, typically a
// *graph.Node or *graph.Edge), the reasons the driver considered it dirty,
// so the status printer can surface them under `-d explain` without the
// driver needing to know how they're displayed.
type Explanations struct {
	byItem map[interface{}][]string
}

func NewExplanations() *Explanations {
	return &Explanations{byItem: map[interface{}][]string{}}
}

// Record appends one formatted explanation for item.
func (e *Explanations) Record(item interface{}, format string, args ...interface{}) {
	if e == nil {
		return
	}
	e.byItem[item] = append(e.byItem[item], fmt.Sprintf(format, args...))
}

// LookupAndAppend returns every explanation recorded for item, or nil.
func (e *Explanations) LookupAndAppend(item interface{}, out []string) []string {
	if e == nil {
		return out
	}
	return append(out, e.byItem[item]...)
}
