// Package eval implements the manifest's lazy template strings and the
// scoped variable/rule bindings they are evaluated against.
package eval

import "strings"

// Env is anything a Fragment can look up a variable in. Edge scope, rule
// scope and file scope all satisfy it.
type Env interface {
	LookupVariable(name string) string
}

// fragmentKind distinguishes a literal run of text from a `$var` reference.
type fragmentKind uint8

const (
	literal fragmentKind = iota
	special
)

type fragment struct {
	text string
	kind fragmentKind
}

// String is a manifest value split into literal and `$var` fragments at
// parse time. Evaluating it is pure: it never mutates the environment and
// produces identical bytes for identical inputs, which §8's "expansion
// purity" property depends on.
type String struct {
	fragments []fragment
}

// AddText appends a literal fragment. Adjacent literals are not merged;
// callers (the lexer) already coalesce runs before calling this.
func (s *String) AddText(text string) {
	if text == "" {
		return
	}
	s.fragments = append(s.fragments, fragment{text: text, kind: literal})
}

// AddSpecial appends a `$name` reference, resolved against Env at
// evaluation time.
func (s *String) AddSpecial(name string) {
	s.fragments = append(s.fragments, fragment{text: name, kind: special})
}

// Empty reports whether the string has no fragments at all.
func (s *String) Empty() bool { return len(s.fragments) == 0 }

// Clear resets the string to empty, keeping its backing array.
func (s *String) Clear() { s.fragments = s.fragments[:0] }

// Evaluate concatenates every fragment, resolving variable references
// against env. Undefined variables expand to the empty string, never an
// error.
func (s *String) Evaluate(env Env) string {
	if len(s.fragments) == 0 {
		return ""
	}
	if len(s.fragments) == 1 && s.fragments[0].kind == literal {
		return s.fragments[0].text
	}
	var b strings.Builder
	for _, f := range s.fragments {
		if f.kind == literal {
			b.WriteString(f.text)
		} else {
			b.WriteString(env.LookupVariable(f.text))
		}
	}
	return b.String()
}

// Unparse renders the string back to its `$var`-escaped manifest syntax:
// the raw template, not its evaluation.
func (s *String) Unparse() string {
	var b strings.Builder
	for _, f := range s.fragments {
		if f.kind == literal {
			b.WriteString(f.text)
		} else {
			b.WriteByte('$')
			if len(f.text) != 1 {
				b.WriteByte('{')
				b.WriteString(f.text)
				b.WriteByte('}')
			} else {
				b.WriteString(f.text)
			}
		}
	}
	return b.String()
}

// Rule is a named command template: a set of lazy bindings (`command`,
// `description`, `depfile`, `deps`, `rspfile`, `rspfile_content`,
// `generator`, `restat`, `pool`, `msvc_deps_prefix`) evaluated in an edge's
// scope.
type Rule struct {
	Name     string
	bindings map[string]*String
}

func NewRule(name string) *Rule {
	return &Rule{Name: name, bindings: map[string]*String{}}
}

func (r *Rule) AddBinding(key string, val *String) { r.bindings[key] = val }

func (r *Rule) Binding(key string) *String { return r.bindings[key] }

// reservedBindings are the only keys a `rule` block may set directly.
var reservedBindings = map[string]bool{
	"command": true, "depfile": true, "dyndep": true, "description": true,
	"deps": true, "generator": true, "pool": true, "restat": true,
	"rspfile": true, "rspfile_content": true, "msvc_deps_prefix": true,
}

func IsReservedBinding(key string) bool { return reservedBindings[key] }

// BindingEnv is a chain of scopes: file scope may have a parent (from
// `include`/`subninja`), rule scope sits above edge scope, and edge scope
// (built in package graph) overrides both. Lookup always walks child to
// parent.
type BindingEnv struct {
	bindings map[string]string
	rules    map[string]*Rule
	parent   *BindingEnv
}

func NewBindingEnv(parent *BindingEnv) *BindingEnv {
	return &BindingEnv{bindings: map[string]string{}, rules: map[string]*Rule{}, parent: parent}
}

func (b *BindingEnv) LookupVariable(name string) string {
	if v, ok := b.bindings[name]; ok {
		return v
	}
	if b.parent != nil {
		return b.parent.LookupVariable(name)
	}
	return ""
}

func (b *BindingEnv) AddBinding(key, val string) { b.bindings[key] = val }

// AddRule registers rule in this scope. Duplicate names in the same scope
// are a manifest error the caller must have already checked via
// LookupRuleCurrentScope.
func (b *BindingEnv) AddRule(rule *Rule) { b.rules[rule.Name] = rule }

func (b *BindingEnv) LookupRule(name string) *Rule {
	if r, ok := b.rules[name]; ok {
		return r
	}
	if b.parent != nil {
		return b.parent.LookupRule(name)
	}
	return nil
}

func (b *BindingEnv) LookupRuleCurrentScope(name string) *Rule { return b.rules[name] }

func (b *BindingEnv) Rules() map[string]*Rule { return b.rules }

func (b *BindingEnv) Parent() *BindingEnv { return b.parent }

// LookupWithFallback resolves a rule-level binding for use in edge scope:
// 1) a value bound directly on this (edge) scope, 2) eval's evaluation in
// fallbackEnv (the edge), 3) the parent scope's plain lookup. This mirrors
// the three-level precedence rule scope/edge scope bindings must obey.
func (b *BindingEnv) LookupWithFallback(name string, eval *String, fallbackEnv Env) string {
	if v, ok := b.bindings[name]; ok {
		return v
	}
	if eval != nil {
		return eval.Evaluate(fallbackEnv)
	}
	if b.parent != nil {
		return b.parent.LookupVariable(name)
	}
	return ""
}
