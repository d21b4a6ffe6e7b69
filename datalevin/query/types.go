// Package query implements the Datalog query surface: parsing of find
// specifications and where clauses, clause planning, and relational
// evaluation against one or more datom sources.
package query

import (
	"strings"

	"github.com/rk-forks/datalevin/datalevin"
)

// Var is a query variable, written ?name.
type Var string

// IsVar reports whether a symbol names a variable.
func IsVar(s string) bool {
	return strings.HasPrefix(s, "?")
}

// IsSrcVar reports whether a symbol names a source, written $name or $.
func IsSrcVar(s string) bool {
	return strings.HasPrefix(s, "$")
}

// TermKind classifies one element of a pattern or call argument.
type TermKind byte

const (
	TermConst TermKind = iota
	TermVar
	TermBlank
)

// Term is a variable, a constant, or a blank.
type Term struct {
	Kind  TermKind
	Var   Var
	Const datalevin.Value
}

// ConstTerm builds a constant term.
func ConstTerm(v datalevin.Value) Term { return Term{Kind: TermConst, Const: v} }

// VarTerm builds a variable term.
func VarTerm(v Var) Term { return Term{Kind: TermVar, Var: v} }

// BlankTerm is the wildcard term.
func BlankTerm() Term { return Term{Kind: TermBlank} }

// Clause is one where-clause variant.
type Clause interface {
	clause()
	// Vars returns the variables the clause mentions.
	Vars() []Var
}

// Pattern is a data pattern [src? e a v t].
type Pattern struct {
	Source     string // "" inherits the scope default
	E, A, V, T Term
}

// Predicate is [(pred args…)]: rows failing the predicate are dropped.
type Predicate struct {
	Fn   string
	Args []Term
}

// BindKind classifies a function binding form.
type BindKind byte

const (
	BindScalar   BindKind = iota // ?x
	BindTuple                    // [?x ?y]
	BindColl                     // [?x ...]
	BindRelation                 // [[?x ?y]]
)

// Binding describes how a function's result binds variables.
type Binding struct {
	Kind BindKind
	Vars []Var
}

// Function is [(f args…) binding]: binds its result into the relation.
type Function struct {
	Fn      string
	Args    []Term
	Binding Binding
}

// Or is (or clause+) or (or (and clause+) …): the union of branch results.
// Every branch must use the same set of free variables.
type Or struct {
	Source   string
	Branches [][]Clause
	Free     []Var
}

// OrJoin is (or-join [vars…] branch+). Exported lists the variables visible
// outside; Required lists [[?x]]-form variables that must already be bound.
type OrJoin struct {
	Source   string
	Exported []Var
	Required []Var
	Branches [][]Clause
}

// Not is (not clause+): an antijoin against the inner clauses.
type Not struct {
	Source  string
	Clauses []Clause
}

// NotJoin is (not-join [vars…] clause+).
type NotJoin struct {
	Source  string
	Join    []Var
	Clauses []Clause
}

// RuleInvocation is (rule-name args…).
type RuleInvocation struct {
	Source string
	Name   string
	Args   []Term
}

// SourceScope is ($src clause+): rebinding of the default source for the
// nested block.
type SourceScope struct {
	Source  string
	Clauses []Clause
}

func (Pattern) clause()        {}
func (Predicate) clause()      {}
func (Function) clause()       {}
func (Or) clause()             {}
func (OrJoin) clause()         {}
func (Not) clause()            {}
func (NotJoin) clause()        {}
func (RuleInvocation) clause() {}
func (SourceScope) clause()    {}

func termVars(terms ...Term) []Var {
	var out []Var
	for _, t := range terms {
		if t.Kind == TermVar {
			out = append(out, t.Var)
		}
	}
	return out
}

func clausesVars(cs []Clause) []Var {
	var out []Var
	seen := map[Var]bool{}
	for _, c := range cs {
		for _, v := range c.Vars() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Vars implementations.
func (p Pattern) Vars() []Var   { return termVars(p.E, p.A, p.V, p.T) }
func (p Predicate) Vars() []Var { return termVars(p.Args...) }
func (f Function) Vars() []Var {
	out := termVars(f.Args...)
	return append(out, f.Binding.Vars...)
}
func (o Or) Vars() []Var { return o.Free }
func (o OrJoin) Vars() []Var {
	out := append([]Var{}, o.Exported...)
	return append(out, o.Required...)
}
func (n Not) Vars() []Var            { return clausesVars(n.Clauses) }
func (n NotJoin) Vars() []Var        { return n.Join }
func (r RuleInvocation) Vars() []Var { return termVars(r.Args...) }
func (s SourceScope) Vars() []Var    { return clausesVars(s.Clauses) }

// FindKind classifies the shape of a :find specification.
type FindKind byte

const (
	FindRel    FindKind = iota // ?a ?b        → set of tuples
	FindColl                   // [?a ...]     → first column
	FindTuple                  // [?a ?b]      → single tuple
	FindScalar                 // ?a .         → single value
)

// InKind classifies one :in binding.
type InKind byte

const (
	InSource   InKind = iota // $, $2
	InScalar                 // ?x
	InTuple                  // [?x ?y]
	InColl                   // [?x ...]
	InRelation               // [[?x ?y]]
	InRules                  // %
)

// InBinding declares one query input.
type InBinding struct {
	Kind   InKind
	Source string
	Vars   []Var
}

// KeysKind selects map-shaped results.
type KeysKind byte

const (
	KeysNone KeysKind = iota
	KeysKeywords
	KeysSymbols
	KeysStrings
)

// Query is one parsed query.
type Query struct {
	Find     []Var
	FindKind FindKind
	With     []Var
	In       []InBinding
	Where    []Clause
	Keys     []string
	KeysKind KeysKind
}

// Rule is one body of a named rule.
type Rule struct {
	Name    string
	Head    []Var
	Clauses []Clause
}

// Rules maps rule names to their alternative bodies.
type Rules map[string][]Rule
