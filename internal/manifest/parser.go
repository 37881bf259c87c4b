// Package manifest turns tokenized manifest text into a fully materialized
// graph.State: every rule, pool, build edge, and default target the static
// manifest describes, with no commands run and no files touched.
package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"nb/internal/eval"
	"nb/internal/graph"
	"nb/internal/lexer"
)

// ReadFile loads the contents of an included or sub-ninja'd file.
type ReadFile func(path string) (string, error)

// Options controls a handful of parser behaviors that are policy, not
// grammar — currently just what to do about a phony cycle.
type Options struct {
	// PhonyCycleShouldErr turns a phony-only cycle (harmless in real ninja)
	// into a hard error instead of a warning.
	PhonyCycleShouldErr bool
}

// Parser builds a graph.State from manifest text. A single Parser handles
// one top-level file plus any number of `include`/`subninja` files it pulls
// in; `include` shares the including file's scope, while `subninja` gets a
// fresh child scope of its own.
type Parser struct {
	state    *graph.State
	readFile ReadFile
	opts     Options

	lex *lexer.Lexer
	env *eval.BindingEnv
}

func New(state *graph.State, readFile ReadFile, opts Options) *Parser {
	return &Parser{state: state, readFile: readFile, opts: opts}
}

// ParseString parses input as if it were the named top-level manifest file.
// Exposed directly (rather than only via a path) so tests don't need a
// real filesystem.
func (p *Parser) ParseString(filename, input string) error {
	return p.parseFile(filename, input, p.state.Bindings)
}

func (p *Parser) parseFile(filename, input string, env *eval.BindingEnv) error {
	prevLex, prevEnv := p.lex, p.env
	p.lex, p.env = lexer.New(filename, input), env
	defer func() { p.lex, p.env = prevLex, prevEnv }()

	for {
		tok, err := p.lex.ReadToken()
		if err != nil {
			return err
		}
		switch tok {
		case lexer.TEOF:
			return nil
		case lexer.NEWLINE:
			continue
		case lexer.POOL:
			if err := p.parsePool(); err != nil {
				return err
			}
		case lexer.BUILD:
			if err := p.parseEdge(); err != nil {
				return err
			}
		case lexer.RULE:
			if err := p.parseRule(); err != nil {
				return err
			}
		case lexer.DEFAULT:
			if err := p.parseDefault(); err != nil {
				return err
			}
		case lexer.INCLUDE:
			if err := p.parseFileInclude(false); err != nil {
				return err
			}
		case lexer.SUBNINJA:
			if err := p.parseFileInclude(true); err != nil {
				return err
			}
		case lexer.IDENT:
			p.lex.UnreadToken()
			name, value, err := p.parseLet()
			if err != nil {
				return err
			}
			if name == "ninja_required_version" {
				// Accepted for compatibility with generators that set it;
				// this implementation has no version of its own to check
				// it against.
				_ = value
			}
			p.env.AddBinding(name, value)
		default:
			return p.lex.Error(fmt.Sprintf("unexpected %s", tok))
		}
	}
}

func (p *Parser) parseLet() (key, value string, err error) {
	key, err = p.lex.ReadIdent()
	if err != nil {
		return "", "", err
	}
	if err := p.lex.ExpectToken(lexer.EQUALS); err != nil {
		return "", "", err
	}
	if _, err := p.lex.PeekRawSpace(); err != nil {
		return "", "", err
	}
	var s eval.String
	if err := p.lex.ReadEvalString(&s, false); err != nil {
		return "", "", err
	}
	if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
		return "", "", err
	}
	return key, s.Evaluate(p.env), nil
}

func (p *Parser) parsePool() error {
	name, err := p.lex.ReadIdent()
	if err != nil {
		return err
	}
	if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
		return err
	}
	if p.state.LookupPool(name) != nil {
		return p.lex.Error(fmt.Sprintf("duplicate pool %q", name))
	}

	depth := -1
	for {
		isIndent, err := p.lex.PeekToken(lexer.INDENT)
		if err != nil {
			return err
		}
		if !isIndent {
			break
		}
		key, value, err := p.parseLet()
		if err != nil {
			return err
		}
		if key != "depth" {
			return p.lex.Error(fmt.Sprintf("unexpected variable %q", key))
		}
		depth, err = strconv.Atoi(strings.TrimSpace(value))
		if err != nil || depth < 0 {
			return p.lex.Error("invalid pool depth")
		}
	}
	if depth < 0 {
		return p.lex.Error("expected 'depth =' line")
	}
	return p.state.AddPool(graph.NewPool(name, depth))
}

func (p *Parser) parseRule() error {
	name, err := p.lex.ReadIdent()
	if err != nil {
		return err
	}
	if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
		return err
	}
	if p.env.LookupRuleCurrentScope(name) != nil {
		return p.lex.Error(fmt.Sprintf("duplicate rule %q", name))
	}

	rule := eval.NewRule(name)
	for {
		isIndent, err := p.lex.PeekToken(lexer.INDENT)
		if err != nil {
			return err
		}
		if !isIndent {
			break
		}
		key, err := p.lex.ReadIdent()
		if err != nil {
			return err
		}
		if err := p.lex.ExpectToken(lexer.EQUALS); err != nil {
			return err
		}
		if _, err := p.lex.PeekRawSpace(); err != nil {
			return err
		}
		var value eval.String
		if err := p.lex.ReadEvalString(&value, false); err != nil {
			return err
		}
		if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
			return err
		}
		if !eval.IsReservedBinding(key) {
			return p.lex.Error(fmt.Sprintf("unexpected variable %q", key))
		}
		rule.AddBinding(key, &value)
	}

	hasRspfile := rule.Binding("rspfile") != nil
	hasRspfileContent := rule.Binding("rspfile_content") != nil
	if hasRspfile != hasRspfileContent {
		return p.lex.Error("rspfile and rspfile_content need to be both specified")
	}
	if rule.Binding("command") == nil {
		return p.lex.Error("expected 'command =' line")
	}

	p.env.AddRule(rule)
	return nil
}

// readPaths reads space-separated $-escaped paths up to (but not consuming)
// the next unescaped ':'/'|'/newline.
func (p *Parser) readPaths() ([]eval.String, error) {
	var paths []eval.String
	for {
		if _, err := p.lex.PeekRawSpace(); err != nil {
			return nil, err
		}
		var s eval.String
		if err := p.lex.ReadEvalString(&s, true); err != nil {
			return nil, err
		}
		if s.Empty() {
			return paths, nil
		}
		paths = append(paths, s)
	}
}

func (p *Parser) parseEdge() error {
	outs, err := p.readPaths()
	if err != nil {
		return err
	}
	implicitOuts := 0
	if hasPipe, err := p.lex.PeekToken(lexer.PIPE); err != nil {
		return err
	} else if hasPipe {
		more, err := p.readPaths()
		if err != nil {
			return err
		}
		outs = append(outs, more...)
		implicitOuts = len(more)
	}
	if len(outs) == 0 {
		return p.lex.Error("expected path")
	}
	if err := p.lex.ExpectToken(lexer.COLON); err != nil {
		return err
	}

	ruleName, err := p.lex.ReadIdent()
	if err != nil {
		return err
	}
	rule := p.env.LookupRule(ruleName)
	if rule == nil {
		return p.lex.Error(fmt.Sprintf("unknown build rule %q", ruleName))
	}

	ins, err := p.readPaths()
	if err != nil {
		return err
	}
	implicitDeps := 0
	if hasPipe, err := p.lex.PeekToken(lexer.PIPE); err != nil {
		return err
	} else if hasPipe {
		more, err := p.readPaths()
		if err != nil {
			return err
		}
		ins = append(ins, more...)
		implicitDeps = len(more)
	}
	orderOnlyDeps := 0
	if hasPipe2, err := p.lex.PeekToken(lexer.PIPE2); err != nil {
		return err
	} else if hasPipe2 {
		more, err := p.readPaths()
		if err != nil {
			return err
		}
		ins = append(ins, more...)
		orderOnlyDeps = len(more)
	}
	var validations []eval.String
	if hasAt, err := p.lex.PeekToken(lexer.PIPEAT); err != nil {
		return err
	} else if hasAt {
		validations, err = p.readPaths()
		if err != nil {
			return err
		}
	}
	if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
		return err
	}

	e := p.state.AddEdge(rule)
	e.Pool = p.state.Pools[""]
	e.Env = eval.NewBindingEnv(p.env)

	explicitOuts := len(outs) - implicitOuts
	for i, out := range outs {
		path, slash := graph.CanonicalizePath(out.Evaluate(p.env))
		if err := p.state.AddOut(e, p.state.GetNode(path, slash), i >= explicitOuts); err != nil {
			return p.lex.Error(err.Error())
		}
	}

	explicitIns := len(ins) - implicitDeps - orderOnlyDeps
	for i, in := range ins {
		path, slash := graph.CanonicalizePath(in.Evaluate(p.env))
		node := p.state.GetNode(path, slash)
		switch {
		case i < explicitIns:
			p.state.AddIn(e, node, graph.Explicit)
		case i < explicitIns+implicitDeps:
			p.state.AddIn(e, node, graph.Implicit)
		default:
			p.state.AddIn(e, node, graph.OrderOnly)
		}
	}
	for _, v := range validations {
		path, slash := graph.CanonicalizePath(v.Evaluate(p.env))
		p.state.AddValidation(e, p.state.GetNode(path, slash))
	}

	for {
		isIndent, err := p.lex.PeekToken(lexer.INDENT)
		if err != nil {
			return err
		}
		if !isIndent {
			break
		}
		key, err := p.lex.ReadIdent()
		if err != nil {
			return err
		}
		if err := p.lex.ExpectToken(lexer.EQUALS); err != nil {
			return err
		}
		if _, err := p.lex.PeekRawSpace(); err != nil {
			return err
		}
		var value eval.String
		if err := p.lex.ReadEvalString(&value, false); err != nil {
			return err
		}
		if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
			return err
		}
		e.Env.AddBinding(key, value.Evaluate(e))
	}

	if poolName := e.GetBinding("pool"); poolName != "" {
		pool := p.state.LookupPool(poolName)
		if pool == nil {
			return p.lex.Error(fmt.Sprintf("unknown pool %q", poolName))
		}
		e.Pool = pool
	}

	if dyndep := e.GetBinding("dyndep"); dyndep != "" {
		path, slash := graph.CanonicalizePath(dyndep)
		node := p.state.GetNode(path, slash)
		e.Dyndep = node
	}

	return nil
}

func (p *Parser) parseDefault() error {
	paths, err := p.readPaths()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return p.lex.Error("expected target name")
	}
	if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
		return err
	}
	for _, target := range paths {
		raw := target.Evaluate(p.env)
		path, _ := graph.CanonicalizePath(raw)
		node := p.state.LookupNode(path)
		if node == nil {
			return p.lex.Error(fmt.Sprintf("unknown target %q", raw))
		}
		p.state.DefaultTargets = append(p.state.DefaultTargets, node)
	}
	return nil
}

func (p *Parser) parseFileInclude(newScope bool) error {
	if _, err := p.lex.PeekRawSpace(); err != nil {
		return err
	}
	var s eval.String
	if err := p.lex.ReadEvalString(&s, true); err != nil {
		return err
	}
	if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
		return err
	}
	path := s.Evaluate(p.env)
	contents, err := p.readFile(path)
	if err != nil {
		return p.lex.Error(fmt.Sprintf("loading %q: %v", path, err))
	}
	childEnv := p.env
	if newScope {
		childEnv = eval.NewBindingEnv(p.env)
	}
	return p.parseFile(path, contents, childEnv)
}
