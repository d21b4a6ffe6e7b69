package query

import (
	"fmt"

	"github.com/rk-forks/datalevin/datalevin"
)

// maxRuleDepth bounds rule expansion for recursive rule sets.
const maxRuleDepth = 100

// Context carries everything one query evaluation needs.
type Context struct {
	Sources       map[string]Source
	DefaultSource string
	Rules         Rules

	ruleDepth int
}

// evalClauses threads the relation through the clause sequence.
func (ctx *Context) evalClauses(rel *Relation, clauses []Clause, src string) (*Relation, error) {
	ordered := planClauses(clauses, boundSet(rel))
	for _, c := range ordered {
		var err error
		rel, err = ctx.evalClause(rel, c, src)
		if err != nil {
			return nil, err
		}
	}
	return rel, nil
}

func boundSet(rel *Relation) map[Var]bool {
	out := map[Var]bool{}
	for _, v := range rel.Vars {
		out[v] = true
	}
	return out
}

func (ctx *Context) evalClause(rel *Relation, c Clause, src string) (*Relation, error) {
	switch cl := c.(type) {
	case Pattern:
		return ctx.evalPattern(rel, cl, src)
	case Predicate:
		return ctx.evalPredicate(rel, cl)
	case Function:
		return ctx.evalFunction(rel, cl)
	case Or:
		return ctx.evalOr(rel, cl.Branches, cl.Free, nil, scopeSource(cl.Source, src))
	case OrJoin:
		return ctx.evalOr(rel, cl.Branches, cl.Exported, cl.Required, scopeSource(cl.Source, src))
	case Not:
		return ctx.evalNot(rel, cl.Clauses, nil, scopeSource(cl.Source, src))
	case NotJoin:
		return ctx.evalNot(rel, cl.Clauses, cl.Join, scopeSource(cl.Source, src))
	case RuleInvocation:
		return ctx.evalRule(rel, cl, scopeSource(cl.Source, src))
	case SourceScope:
		return ctx.evalClauses(rel, cl.Clauses, cl.Source)
	}
	return nil, syntaxErr("Malformed clause %v", c)
}

func scopeSource(own, inherited string) string {
	if own != "" {
		return own
	}
	return inherited
}

func (ctx *Context) source(name string) (Source, error) {
	s, ok := ctx.Sources[name]
	if !ok {
		return nil, syntaxErr("Unknown source %s", name)
	}
	return s, nil
}

// evalPattern scans the source for datoms matching the pattern and joins
// them with the in-flight relation. Bound variables in entity and value
// position narrow the scan to per-value index lookups.
func (ctx *Context) evalPattern(rel *Relation, p Pattern, srcName string) (*Relation, error) {
	src, err := ctx.source(scopeSource(p.Source, srcName))
	if err != nil {
		return nil, err
	}

	// Constants and bound-variable candidates per component.
	var eCands []*int64
	switch p.E.Kind {
	case TermConst:
		if n, ok := asEID(p.E.Const); ok {
			eCands = []*int64{&n}
		} else {
			return EmptyRelation(rel.Vars), nil
		}
	case TermVar:
		if i := rel.indexOf(p.E.Var); i >= 0 {
			for _, v := range distinctColumn(rel, i) {
				if n, ok := asEID(v); ok {
					n := n
					eCands = append(eCands, &n)
				}
			}
			if len(eCands) == 0 {
				return EmptyRelation(rel.Vars), nil
			}
		} else {
			eCands = []*int64{nil}
		}
	default:
		eCands = []*int64{nil}
	}

	var aConst *datalevin.Keyword
	if p.A.Kind == TermConst {
		k, ok := p.A.Const.(datalevin.Keyword)
		if !ok {
			return EmptyRelation(rel.Vars), nil
		}
		aConst = &k
	}

	type vCand struct {
		v    datalevin.Value
		have bool
	}
	vCands := []vCand{{nil, false}}
	switch p.V.Kind {
	case TermConst:
		vCands = []vCand{{p.V.Const, true}}
	case TermVar:
		if i := rel.indexOf(p.V.Var); i >= 0 && aConst != nil {
			vCands = nil
			for _, v := range distinctColumn(rel, i) {
				vCands = append(vCands, vCand{v, true})
			}
			if len(vCands) == 0 {
				return EmptyRelation(rel.Vars), nil
			}
		}
	}

	patVars, slots := patternHeader(p)
	patRel := &Relation{Vars: patVars}
	for _, e := range eCands {
		for _, vc := range vCands {
			err := src.Match(e, aConst, vc.v, vc.have, func(d datalevin.Datom) bool {
				if p.T.Kind == TermConst {
					if n, ok := asEID(p.T.Const); !ok || d.Tx != n {
						return true
					}
				}
				row, ok := datomRow(d, p, slots)
				if ok {
					patRel.Tuples = append(patRel.Tuples, row)
				}
				return true
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return Join(rel, patRel.Dedupe()), nil
}

// patternHeader collects the pattern's variables, deduplicated, with their
// component slots (0 e, 1 a, 2 v, 3 t).
func patternHeader(p Pattern) ([]Var, map[Var][]int) {
	slots := map[Var][]int{}
	var vars []Var
	for i, t := range []Term{p.E, p.A, p.V, p.T} {
		if t.Kind != TermVar {
			continue
		}
		if _, ok := slots[t.Var]; !ok {
			vars = append(vars, t.Var)
		}
		slots[t.Var] = append(slots[t.Var], i)
	}
	return vars, slots
}

// datomRow extracts the pattern variables' values from a datom. A variable
// appearing in two components requires equal values.
func datomRow(d datalevin.Datom, p Pattern, slots map[Var][]int) ([]datalevin.Value, bool) {
	comp := func(i int) datalevin.Value {
		switch i {
		case 0:
			return d.E
		case 1:
			return d.A
		case 2:
			// Entity references flow through relations as plain ids so they
			// join with entity-position bindings.
			if ref, ok := d.V.(datalevin.EID); ok {
				return int64(ref)
			}
			return d.V
		default:
			return d.Tx
		}
	}
	var row []datalevin.Value
	for _, v := range patternVarsOrdered(p) {
		positions := slots[v]
		first := comp(positions[0])
		for _, pos := range positions[1:] {
			if !unifies(first, comp(pos)) {
				return nil, false
			}
		}
		row = append(row, first)
	}
	return row, true
}

func patternVarsOrdered(p Pattern) []Var {
	vars, _ := patternHeader(p)
	return vars
}

// unifies compares components across positions, normalizing eids.
func unifies(a, b datalevin.Value) bool {
	if na, ok := asEID(a); ok {
		if nb, ok2 := asEID(b); ok2 {
			return na == nb
		}
	}
	return datalevin.ValuesEqual(a, b)
}

func asEID(v datalevin.Value) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case datalevin.EID:
		return int64(n), true
	}
	return 0, false
}

func distinctColumn(rel *Relation, col int) []datalevin.Value {
	seen := map[string]bool{}
	var out []datalevin.Value
	for _, t := range rel.Tuples {
		k := valueKey(t[col : col+1])
		if !seen[k] {
			seen[k] = true
			out = append(out, t[col])
		}
	}
	return out
}

// evalPredicate drops rows for which the predicate is falsy.
func (ctx *Context) evalPredicate(rel *Relation, p Predicate) (*Relation, error) {
	pred, ok := builtinPredicates[p.Fn]
	if !ok {
		return nil, syntaxErr("Unknown predicate %s", p.Fn)
	}
	out := &Relation{Vars: rel.Vars}
	for _, t := range rel.Tuples {
		args, err := resolveArgs(rel, t, p.Args)
		if err != nil {
			return nil, err
		}
		keep, err := pred(args)
		if err != nil {
			return nil, err
		}
		if keep {
			out.Tuples = append(out.Tuples, t)
		}
	}
	return out, nil
}

// evalFunction computes the function per row and binds the result.
func (ctx *Context) evalFunction(rel *Relation, f Function) (*Relation, error) {
	fn, ok := builtinFunctions[f.Fn]
	if !ok {
		return nil, syntaxErr("Unknown function %s", f.Fn)
	}
	outVars := append([]Var{}, rel.Vars...)
	for _, v := range f.Binding.Vars {
		if !rel.Bound(v) {
			outVars = append(outVars, v)
		}
	}
	out := &Relation{Vars: outVars}
	for _, t := range rel.Tuples {
		args, err := resolveArgs(rel, t, f.Args)
		if err != nil {
			return nil, err
		}
		res, err := fn(args)
		if err != nil {
			return nil, err
		}
		rows, err := bindResult(rel, t, f.Binding, res)
		if err != nil {
			return nil, err
		}
		out.Tuples = append(out.Tuples, rows...)
	}
	return out, nil
}

// bindResult expands one function result into output rows per the binding
// form. Binding variables already bound in the relation act as filters.
func bindResult(rel *Relation, t []datalevin.Value, b Binding, res datalevin.Value) ([][]datalevin.Value, error) {
	extend := func(vals []datalevin.Value) ([]datalevin.Value, bool) {
		row := append([]datalevin.Value{}, t...)
		for i, v := range b.Vars {
			if j := rel.indexOf(v); j >= 0 {
				if !datalevin.ValuesEqual(t[j], vals[i]) {
					return nil, false
				}
				continue
			}
			row = append(row, vals[i])
		}
		return row, true
	}
	switch b.Kind {
	case BindScalar:
		if row, ok := extend([]datalevin.Value{res}); ok {
			return [][]datalevin.Value{row}, nil
		}
		return nil, nil
	case BindTuple:
		tv, ok := res.(datalevin.Tuple)
		if !ok || len(tv) != len(b.Vars) {
			return nil, syntaxErr("Cannot bind %v to tuple %v", res, b.Vars)
		}
		if row, ok := extend(tv); ok {
			return [][]datalevin.Value{row}, nil
		}
		return nil, nil
	case BindColl:
		tv, ok := res.(datalevin.Tuple)
		if !ok {
			return nil, syntaxErr("Cannot bind %v to collection %v", res, b.Vars)
		}
		var rows [][]datalevin.Value
		for _, el := range tv {
			if row, ok := extend([]datalevin.Value{el}); ok {
				rows = append(rows, row)
			}
		}
		return rows, nil
	case BindRelation:
		tv, ok := res.(datalevin.Tuple)
		if !ok {
			return nil, syntaxErr("Cannot bind %v to relation %v", res, b.Vars)
		}
		var rows [][]datalevin.Value
		for _, el := range tv {
			inner, ok := el.(datalevin.Tuple)
			if !ok || len(inner) != len(b.Vars) {
				return nil, syntaxErr("Cannot bind %v to relation %v", res, b.Vars)
			}
			if row, ok := extend(inner); ok {
				rows = append(rows, row)
			}
		}
		return rows, nil
	}
	return nil, syntaxErr("Bad binding form")
}

// resolveArgs materializes call arguments from the current row.
func resolveArgs(rel *Relation, t []datalevin.Value, args []Term) ([]datalevin.Value, error) {
	out := make([]datalevin.Value, len(args))
	for i, a := range args {
		switch a.Kind {
		case TermConst:
			out[i] = a.Const
		case TermVar:
			j := rel.indexOf(a.Var)
			if j < 0 {
				return nil, datalevin.NewError(datalevin.CodeQueryBindings,
					fmt.Sprintf("Insufficient bindings: %s is not bound", a.Var))
			}
			out[i] = t[j]
		default:
			return nil, syntaxErr("Blank is not allowed in call arguments")
		}
	}
	return out, nil
}

// evalOr evaluates or / or-join: branch results union under the exported
// key set, then join back with the parent relation.
func (ctx *Context) evalOr(rel *Relation, branches [][]Clause, exported, required []Var, src string) (*Relation, error) {
	for _, v := range required {
		if !rel.Bound(v) {
			return nil, datalevin.NewError(datalevin.CodeQueryBindings,
				fmt.Sprintf("Insufficient bindings: %s should be bound in or-join", v))
		}
	}
	keyVars := append(append([]Var{}, exported...), required...)
	seed := rel.Project(keyVars)
	if len(seed.Vars) > 0 && len(seed.Tuples) == 0 {
		// The parent relation is empty on the join key; no branch can
		// contribute rows, and recursive rules must stop expanding here.
		return Join(rel, EmptyRelation(keyVars)), nil
	}

	var union *Relation
	for _, branch := range branches {
		branchRel, err := ctx.evalClauses(seed, branch, src)
		if err != nil {
			return nil, err
		}
		proj := branchRel.Project(keyVars)
		if union == nil {
			union = proj
		} else {
			union = Union(union, proj)
		}
	}
	if union == nil {
		union = EmptyRelation(keyVars)
	}
	return Join(rel, union), nil
}

// evalNot evaluates not / not-join as an antijoin.
func (ctx *Context) evalNot(rel *Relation, clauses []Clause, joinVars []Var, src string) (*Relation, error) {
	if joinVars == nil {
		inner := clausesVars(clauses)
		for _, v := range inner {
			if rel.Bound(v) {
				joinVars = append(joinVars, v)
			}
		}
	} else {
		for _, v := range joinVars {
			if !rel.Bound(v) {
				return nil, datalevin.NewError(datalevin.CodeQueryBindings,
					fmt.Sprintf("Insufficient bindings: %s should be bound in not-join", v))
			}
		}
	}
	seed := rel.Project(joinVars)
	sub, err := ctx.evalClauses(seed, clauses, src)
	if err != nil {
		return nil, err
	}
	return AntiJoin(rel, sub.Project(joinVars)), nil
}

// evalRule expands a rule invocation: the union of its bodies with head
// variables renamed to the invocation arguments.
func (ctx *Context) evalRule(rel *Relation, inv RuleInvocation, src string) (*Relation, error) {
	bodies, ok := ctx.Rules[inv.Name]
	if !ok {
		return nil, syntaxErr("Unknown rule %s", inv.Name)
	}
	if ctx.ruleDepth >= maxRuleDepth {
		return nil, syntaxErr("Rule expansion too deep: %s", inv.Name)
	}
	ctx.ruleDepth++
	defer func() { ctx.ruleDepth-- }()

	var branches [][]Clause
	for _, body := range bodies {
		if len(body.Head) != len(inv.Args) {
			return nil, syntaxErr("Rule %s expects %d args, got %d", inv.Name, len(body.Head), len(inv.Args))
		}
		renamed, err := renameClauses(body, inv.Args, ctx.ruleDepth)
		if err != nil {
			return nil, err
		}
		branches = append(branches, renamed)
	}
	// Exported vars are the invocation's variables.
	var exported []Var
	for _, a := range inv.Args {
		if a.Kind == TermVar {
			exported = append(exported, a.Var)
		}
	}
	return ctx.evalOr(rel, branches, exported, nil, src)
}
