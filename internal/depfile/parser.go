// Package depfile parses the Makefile-style dependency fragments a
// compiler's `-M`/`-MMD` flags (or `/showIncludes`, once post-processed)
// write out: one or more targets, a colon, and the prerequisites that
// produced them.
package depfile

import (
	"fmt"
	"strings"
)

// File is a parsed depfile: the (usually one) target name(s) on the left of
// ':' and every prerequisite path found on the right, across every
// colon-bearing statement in the file.
type File struct {
	Targets []string
	Prereqs []string
}

// Parse accepts the Makefile subset a compiler's `-M`/`-MD` output actually
// produces: targets, ':', prerequisites, `\`-newline continuation, `\ ` for
// a literal space, `$$` for a literal '$', and CRLF line endings. Recipe
// lines (starting with a tab) and statements with no ':' at all (such as a
// `VAR = value` assignment) are skipped; every other statement, including a
// pattern rule or a `VAR := value` assignment, is read as targets and
// prerequisites.
func Parse(content []byte) (*File, error) {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	f := &File{}
	sawColon := false

	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	inPrereqs := false
	atLineStart := true
	endStatement := func() error {
		flush()
		if inPrereqs {
			f.Prereqs = append(f.Prereqs, tokens...)
		} else if len(tokens) > 0 {
			// A statement that never saw a ':' before EOF/newline is a
			// plain variable assignment or similar; ignore it.
		}
		tokens = nil
		inPrereqs = false
		return nil
	}

	i := 0
	for i < len(text) {
		c := text[i]

		if atLineStart && c == '\t' {
			// Recipe line: skip to the next (unescaped) newline.
			for i < len(text) && text[i] != '\n' {
				i++
			}
			if i < len(text) {
				i++
			}
			atLineStart = true
			continue
		}
		atLineStart = false

		switch {
		case c == '\\' && i+1 < len(text) && text[i+1] == '\n':
			// Line continuation: acts as a token separator, not a
			// statement terminator.
			flush()
			i += 2
			atLineStart = false
		case c == '\\' && i+1 < len(text) && text[i+1] == ' ':
			cur.WriteByte(' ')
			i += 2
		case c == '\\' && i+1 < len(text) && text[i+1] == '#':
			cur.WriteByte('#')
			i += 2
		case c == '$' && i+1 < len(text) && text[i+1] == '$':
			cur.WriteByte('$')
			i += 2
		case c == '\\' && i+1 >= len(text):
			return nil, fmt.Errorf("depfile: unterminated escape at end of input")
		case c == '\\':
			cur.WriteByte(text[i+1])
			i += 2
		case c == ':' && !inPrereqs:
			flush()
			if len(tokens) == 0 {
				return nil, fmt.Errorf("depfile: empty rule (no target before ':')")
			}
			f.Targets = append(f.Targets, tokens...)
			tokens = nil
			inPrereqs = true
			sawColon = true
			i++
		case c == ' ' || c == '\t':
			flush()
			i++
		case c == '\n':
			if err := endStatement(); err != nil {
				return nil, err
			}
			atLineStart = true
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	if err := endStatement(); err != nil {
		return nil, err
	}

	if !sawColon {
		return nil, fmt.Errorf("depfile: expected ':'")
	}
	return f, nil
}
