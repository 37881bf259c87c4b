// Package dyndep parses dyndep files — the small sidecar manifests a build
// step can emit mid-build to declare implicit inputs/outputs it couldn't
// have known about when the main manifest was written — and applies them to
// the graph.
package dyndep

import (
	"fmt"

	"nb/internal/eval"
	"nb/internal/graph"
	"nb/internal/lexer"
)

// Record is the per-edge payload of one dyndep file: the implicit
// inputs/outputs it discovered for a single existing edge, plus whether that
// edge's `restat` binding should be turned on.
type Record struct {
	Used            bool
	Restat          bool
	ImplicitInputs  []*graph.Node
	ImplicitOutputs []*graph.Node
}

// File maps each edge a dyndep file mentions to the record parsed for it.
type File map[*graph.Edge]*Record

// ReadFile loads dyndep file contents given a path.
type ReadFile func(path string) (string, error)

// Parser reads one dyndep file's text and produces a File, validating it
// against the edges state already knows about: a dyndep file may only
// augment an edge that already exists and already names the dyndep file via
// its `dyndep` binding.
type Parser struct {
	state *graph.State
	lex   *lexer.Lexer
	env   *eval.BindingEnv
	file  File
}

func NewParser(state *graph.State) *Parser {
	return &Parser{state: state, env: eval.NewBindingEnv(nil)}
}

// Parse reads filename/input and returns the File it describes.
func (p *Parser) Parse(filename, input string) (File, error) {
	p.lex = lexer.New(filename, input)
	p.file = File{}

	haveVersion := false
	for {
		tok, err := p.lex.ReadToken()
		if err != nil {
			return nil, err
		}
		switch tok {
		case lexer.BUILD:
			if !haveVersion {
				return nil, p.lex.Error("expected 'ninja_dyndep_version = ...'")
			}
			if err := p.parseEdge(); err != nil {
				return nil, err
			}
		case lexer.IDENT:
			p.lex.UnreadToken()
			if haveVersion {
				return nil, p.lex.Error(fmt.Sprintf("unexpected %s", tok))
			}
			if err := p.parseVersion(); err != nil {
				return nil, err
			}
			haveVersion = true
		case lexer.TEOF:
			if !haveVersion {
				return nil, p.lex.Error("expected 'ninja_dyndep_version = ...'")
			}
			return p.file, nil
		case lexer.NEWLINE:
			continue
		default:
			return nil, p.lex.Error(fmt.Sprintf("unexpected %s", tok))
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

func (p *Parser) parseVersion() error {
	key, value, err := p.parseLet()
	if err != nil {
		return err
	}
	if key != "ninja_dyndep_version" {
		return p.lex.Error("expected 'ninja_dyndep_version = ...'")
	}
	major, minor, ok := parseVersion(value)
	if !ok || major != 1 || minor != 0 {
		return p.lex.Error(fmt.Sprintf("unsupported 'ninja_dyndep_version = %s'", value))
	}
	return nil
}

func parseVersion(s string) (major, minor int, ok bool) {
	n, err := fmt.Sscanf(s, "%d.%d", &major, &minor)
	return major, minor, err == nil && n == 2
}

func (p *Parser) readPath() (string, error) {
	if _, err := p.lex.PeekRawSpace(); err != nil {
		return "", err
	}
	var s eval.String
	if err := p.lex.ReadEvalString(&s, true); err != nil {
		return "", err
	}
	return s.Evaluate(p.env), nil
}

func (p *Parser) readPathList() ([]*graph.Node, error) {
	var nodes []*graph.Node
	for {
		path, err := p.readPath()
		if err != nil {
			return nil, err
		}
		if path == "" {
			return nodes, nil
		}
		canon, slash := graph.CanonicalizePath(path)
		nodes = append(nodes, p.state.GetNode(canon, slash))
	}
}

// parseEdge parses one `build <out>: dyndep ...` statement naming the edge
// it augments (via <out>, which must already be some edge's output) plus
// its discovered implicit inputs/outputs.
func (p *Parser) parseEdge() error {
	outPath, err := p.readPath()
	if err != nil {
		return err
	}
	if outPath == "" {
		return p.lex.Error("expected path")
	}
	canon, slash := graph.CanonicalizePath(outPath)
	node := p.state.GetNode(canon, slash)
	edge := node.InEdge()
	if edge == nil {
		return p.lex.Error(fmt.Sprintf("no build statement exists for %q", canon))
	}
	if _, dup := p.file[edge]; dup {
		return p.lex.Error(fmt.Sprintf("multiple statements for %q", canon))
	}
	record := &Record{}
	p.file[edge] = record

	extraOut, err := p.readPath()
	if err != nil {
		return err
	}
	if extraOut != "" {
		return p.lex.Error("explicit outputs not supported")
	}

	implicitOuts, err := p.maybePipeList()
	if err != nil {
		return err
	}

	if err := p.lex.ExpectToken(lexer.COLON); err != nil {
		return err
	}
	ruleName, err := p.lex.ReadIdent()
	if err != nil {
		return err
	}
	if ruleName != "dyndep" {
		return p.lex.Error("expected build command name 'dyndep'")
	}

	extraIn, err := p.readPath()
	if err != nil {
		return err
	}
	if extraIn != "" {
		return p.lex.Error("explicit inputs not supported")
	}

	implicitIns, err := p.maybePipeList()
	if err != nil {
		return err
	}

	if hasPipe2, err := p.lex.PeekToken(lexer.PIPE2); err != nil {
		return err
	} else if hasPipe2 {
		return p.lex.Error("order-only inputs not supported")
	}

	if err := p.lex.ExpectToken(lexer.NEWLINE); err != nil {
		return err
	}

	if hasIndent, err := p.lex.PeekToken(lexer.INDENT); err != nil {
		return err
	} else if hasIndent {
		key, value, err := p.parseLet()
		if err != nil {
			return err
		}
		if key != "restat" {
			return p.lex.Error("binding is not 'restat'")
		}
		record.Restat = value != ""
	}

	record.ImplicitInputs = implicitIns
	record.ImplicitOutputs = implicitOuts
	return nil
}

func (p *Parser) maybePipeList() ([]*graph.Node, error) {
	hasPipe, err := p.lex.PeekToken(lexer.PIPE)
	if err != nil || !hasPipe {
		return nil, err
	}
	return p.readPathList()
}
