// Package lexer tokenizes ninja-style manifest text: rule/build/pool/default
// statements, $-escaped paths and values, and the significant leading
// whitespace that continues a binding's value.
package lexer

import (
	"fmt"
	"strings"

	"nb/internal/eval"
)

// Token identifies a lexical class recognized by the manifest grammar.
type Token int

const (
	ERROR Token = iota
	BUILD
	COLON
	DEFAULT
	EQUALS
	IDENT
	INCLUDE
	INDENT
	NEWLINE
	PIPE
	PIPE2
	PIPEAT
	POOL
	RULE
	SUBNINJA
	TEOF
)

func (t Token) String() string {
	switch t {
	case ERROR:
		return "lexing error"
	case BUILD:
		return "'build'"
	case COLON:
		return "':'"
	case DEFAULT:
		return "'default'"
	case EQUALS:
		return "'='"
	case IDENT:
		return "identifier"
	case INCLUDE:
		return "'include'"
	case INDENT:
		return "indent"
	case NEWLINE:
		return "newline"
	case PIPE:
		return "'|'"
	case PIPE2:
		return "'||'"
	case PIPEAT:
		return "'|@'"
	case POOL:
		return "'pool'"
	case RULE:
		return "'rule'"
	case SUBNINJA:
		return "'subninja'"
	case TEOF:
		return "eof"
	}
	return "?"
}

var keywords = map[string]Token{
	"build":    BUILD,
	"default":  DEFAULT,
	"include":  INCLUDE,
	"pool":     POOL,
	"rule":     RULE,
	"subninja": SUBNINJA,
}

// Lexer is a pure function of its input buffer: the same (filename, input)
// always produces the same token stream. It never mutates anything outside
// itself.
type Lexer struct {
	filename string
	input    string
	pos      int
	// lastTokenStart lets UnreadToken put back exactly one token.
	lastTokenStart int
	lastToken      Token
	lastText       string
	atLineStart    bool
}

// New returns a lexer positioned at the start of input.
func New(filename, input string) *Lexer {
	return &Lexer{filename: filename, input: input, atLineStart: true}
}

// Error formats a message with file:line:col context and the offending
// source line quoted, matching the driver's manifest-error diagnostics.
func (l *Lexer) Error(msg string) error {
	return l.errorAt(l.pos, msg)
}

func (l *Lexer) errorAt(pos int, msg string) error {
	line, col, lineText := l.lineAndColumn(pos)
	return fmt.Errorf("%s:%d:%d: %s\n%s", l.filename, line, col, msg, lineText)
}

func (l *Lexer) lineAndColumn(pos int) (line, col int, lineText string) {
	line = 1
	lineStart := 0
	for i := 0; i < pos && i < len(l.input); i++ {
		if l.input[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	col = pos - lineStart + 1
	end := strings.IndexByte(l.input[lineStart:], '\n')
	if end < 0 {
		lineText = l.input[lineStart:]
	} else {
		lineText = l.input[lineStart : lineStart+end]
	}
	return
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// skipLineWhitespace consumes spaces/tabs (not newlines) and returns the
// number consumed, so callers can tell an INDENT from a bare space run.
func (l *Lexer) skipLineWhitespace() int {
	start := l.pos
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t') {
		l.pos++
	}
	return l.pos - start
}

func (l *Lexer) skipComment() {
	for l.pos < len(l.input) && l.input[l.pos] != '\n' {
		l.pos++
	}
}

// ReadToken returns the next token. Significant leading whitespace at the
// start of a line is reported as INDENT; whitespace elsewhere is
// insignificant and skipped.
func (l *Lexer) ReadToken() (Token, error) {
	if l.atLineStart {
		n := l.skipLineWhitespace()
		l.atLineStart = false
		if n > 0 && l.pos < len(l.input) && l.input[l.pos] != '\n' && l.input[l.pos] != '#' {
			l.lastTokenStart = l.pos - n
			l.lastToken, l.lastText = INDENT, ""
			return INDENT, nil
		}
	} else {
		l.skipLineWhitespace()
	}

	for l.pos < len(l.input) && l.input[l.pos] == '#' {
		l.skipComment()
		if l.pos < len(l.input) && l.input[l.pos] == '\n' {
			l.pos++
			l.atLineStart = true
			l.skipLineWhitespace()
			if l.pos < len(l.input) && (l.input[l.pos] == '\n' || l.input[l.pos] == '#') {
				continue
			}
			l.atLineStart = false
		}
	}

	l.lastTokenStart = l.pos
	if l.pos >= len(l.input) {
		l.lastToken, l.lastText = TEOF, ""
		return TEOF, nil
	}

	c := l.input[l.pos]
	switch {
	case c == '\n':
		l.pos++
		l.atLineStart = true
		l.lastToken, l.lastText = NEWLINE, ""
		return NEWLINE, nil
	case c == '\r':
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '\n' {
			l.pos++
		}
		l.atLineStart = true
		l.lastToken, l.lastText = NEWLINE, ""
		return NEWLINE, nil
	case c == ':':
		l.pos++
		l.lastToken, l.lastText = COLON, ""
		return COLON, nil
	case c == '=':
		l.pos++
		l.lastToken, l.lastText = EQUALS, ""
		return EQUALS, nil
	case c == '|':
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '|' {
			l.pos++
			l.lastToken, l.lastText = PIPE2, ""
			return PIPE2, nil
		}
		if l.pos < len(l.input) && l.input[l.pos] == '@' {
			l.pos++
			l.lastToken, l.lastText = PIPEAT, ""
			return PIPEAT, nil
		}
		l.lastToken, l.lastText = PIPE, ""
		return PIPE, nil
	case isIdentByte(c) && !(c >= '0' && c <= '9'):
		start := l.pos
		for l.pos < len(l.input) && isIdentByte(l.input[l.pos]) {
			l.pos++
		}
		text := l.input[start:l.pos]
		if tok, ok := keywords[text]; ok {
			l.lastToken, l.lastText = tok, text
			return tok, nil
		}
		l.lastToken, l.lastText = IDENT, text
		return IDENT, nil
	default:
		l.lastToken, l.lastText = ERROR, ""
		return ERROR, l.errorAt(l.pos, fmt.Sprintf("lexing error: unexpected character %q", c))
	}
}

// UnreadToken rewinds the lexer so the most recently returned token will be
// re-read on the next ReadToken call. Only one level of pushback is
// supported, matching the manifest parser's single-token lookahead.
func (l *Lexer) UnreadToken() {
	l.pos = l.lastTokenStart
	if l.lastToken == INDENT {
		l.atLineStart = false
	}
}

// PeekToken consumes the next token iff it equals want, reporting whether it
// matched.
func (l *Lexer) PeekToken(want Token) (bool, error) {
	tok, err := l.ReadToken()
	if err != nil {
		return false, err
	}
	if tok == want {
		return true, nil
	}
	l.UnreadToken()
	return false, nil
}

// ExpectToken requires the next token to equal want, producing a descriptive
// error otherwise.
func (l *Lexer) ExpectToken(want Token) error {
	tok, err := l.ReadToken()
	if err != nil {
		return err
	}
	if tok != want {
		return l.errorAt(l.lastTokenStart, fmt.Sprintf("expected %s, got %s", want, tok))
	}
	return nil
}

// ReadIdent reads a bare identifier (a rule, pool, or variable name) that is
// not wrapped in $-escapes.
func (l *Lexer) ReadIdent() (string, error) {
	tok, err := l.ReadToken()
	if err != nil {
		return "", err
	}
	if tok != IDENT {
		if name, ok := keywordText(tok); ok {
			return name, nil
		}
		return "", l.errorAt(l.lastTokenStart, "expected identifier")
	}
	return l.lastText, nil
}

func keywordText(tok Token) (string, bool) {
	for name, t := range keywords {
		if t == tok {
			return name, true
		}
	}
	return "", false
}

// PeekRawSpace consumes a run of plain (unescaped) spaces, reporting
// whether there was at least one. Used between path tokens in a `build`
// line's input/output lists, where the lexer's path-stop rule leaves the
// separating space unconsumed.
func (l *Lexer) PeekRawSpace() (bool, error) {
	if l.pos < len(l.input) && l.input[l.pos] == ' ' {
		for l.pos < len(l.input) && l.input[l.pos] == ' ' {
			l.pos++
		}
		return true, nil
	}
	return false, nil
}

// ReadEvalString reads a $-escaped template string up to (but not
// consuming) an unescaped newline, or — when isPath is true — up to an
// unescaped space, ':' or '|' as well. `$ ` yields a literal space, `$:` a
// literal colon, `$$` a literal dollar, `$\n` (and leading whitespace on
// the following line) is a line continuation that contributes nothing, and
// `$identifier` / `${identifier}` become a variable reference.
func (l *Lexer) ReadEvalString(out *eval.String, isPath bool) error {
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			out.AddText(lit.String())
			lit.Reset()
		}
	}
	for {
		if l.pos >= len(l.input) {
			break
		}
		c := l.input[l.pos]
		if c == '\n' {
			break
		}
		if isPath && (c == ' ' || c == ':' || c == '|') {
			break
		}
		if c == '$' {
			l.pos++
			if l.pos >= len(l.input) {
				return l.errorAt(l.pos, "unterminated $-escape")
			}
			switch esc := l.input[l.pos]; {
			case esc == ' ':
				lit.WriteByte(' ')
				l.pos++
			case esc == ':':
				lit.WriteByte(':')
				l.pos++
			case esc == '$':
				lit.WriteByte('$')
				l.pos++
			case esc == '\n' || esc == '\r':
				if esc == '\r' {
					l.pos++
					if l.pos < len(l.input) && l.input[l.pos] == '\n' {
					} else {
						return l.errorAt(l.pos, "unterminated $-escape")
					}
				}
				l.pos++ // consume \n
				l.skipLineWhitespace()
			case esc == '{':
				l.pos++
				start := l.pos
				for l.pos < len(l.input) && l.input[l.pos] != '}' {
					l.pos++
				}
				if l.pos >= len(l.input) {
					return l.errorAt(start, "unterminated ${varname}")
				}
				name := l.input[start:l.pos]
				l.pos++
				flush()
				out.AddSpecial(name)
			case isIdentByte(esc) && !(esc >= '0' && esc <= '9'):
				start := l.pos
				for l.pos < len(l.input) && isIdentByte(l.input[l.pos]) {
					l.pos++
				}
				flush()
				out.AddSpecial(l.input[start:l.pos])
			default:
				return l.errorAt(l.pos, fmt.Sprintf("bad $-escape (literal $ must be written as $$): %q", esc))
			}
			continue
		}
		lit.WriteByte(c)
		l.pos++
	}
	flush()
	l.atLineStart = false
	return nil
}
