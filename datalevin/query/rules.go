package query

import "fmt"

// renameClauses instantiates one rule body for an invocation: head
// variables map to the invocation arguments, and internal variables get
// fresh names so nested expansions cannot capture each other.
func renameClauses(body Rule, args []Term, depth int) ([]Clause, error) {
	mapping := map[Var]Term{}
	for i, h := range body.Head {
		mapping[h] = args[i]
	}
	fresh := func(v Var) Term {
		if t, ok := mapping[v]; ok {
			return t
		}
		t := VarTerm(Var(fmt.Sprintf("%s__r%d", v, depth)))
		mapping[v] = t
		return t
	}
	var out []Clause
	for _, c := range body.Clauses {
		rc, err := renameClause(c, fresh)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func renameTerm(t Term, fresh func(Var) Term) Term {
	if t.Kind == TermVar {
		return fresh(t.Var)
	}
	return t
}

func renameTerms(ts []Term, fresh func(Var) Term) []Term {
	out := make([]Term, len(ts))
	for i, t := range ts {
		out[i] = renameTerm(t, fresh)
	}
	return out
}

func renameVars(vs []Var, fresh func(Var) Term) ([]Var, error) {
	out := make([]Var, len(vs))
	for i, v := range vs {
		t := fresh(v)
		if t.Kind != TermVar {
			return nil, syntaxErr("Rule constant cannot appear in a binding position: %v", t.Const)
		}
		out[i] = t.Var
	}
	return out, nil
}

func renameClause(c Clause, fresh func(Var) Term) (Clause, error) {
	switch cl := c.(type) {
	case Pattern:
		return Pattern{
			Source: cl.Source,
			E:      renameTerm(cl.E, fresh),
			A:      renameTerm(cl.A, fresh),
			V:      renameTerm(cl.V, fresh),
			T:      renameTerm(cl.T, fresh),
		}, nil
	case Predicate:
		return Predicate{Fn: cl.Fn, Args: renameTerms(cl.Args, fresh)}, nil
	case Function:
		vars, err := renameVars(cl.Binding.Vars, fresh)
		if err != nil {
			return nil, err
		}
		return Function{
			Fn:      cl.Fn,
			Args:    renameTerms(cl.Args, fresh),
			Binding: Binding{Kind: cl.Binding.Kind, Vars: vars},
		}, nil
	case Or:
		branches, err := renameBranches(cl.Branches, fresh)
		if err != nil {
			return nil, err
		}
		free, err := renameVars(cl.Free, fresh)
		if err != nil {
			return nil, err
		}
		return Or{Source: cl.Source, Branches: branches, Free: free}, nil
	case OrJoin:
		branches, err := renameBranches(cl.Branches, fresh)
		if err != nil {
			return nil, err
		}
		exported, err := renameVars(cl.Exported, fresh)
		if err != nil {
			return nil, err
		}
		required, err := renameVars(cl.Required, fresh)
		if err != nil {
			return nil, err
		}
		return OrJoin{Source: cl.Source, Branches: branches, Exported: exported, Required: required}, nil
	case Not:
		inner, err := renameClauseList(cl.Clauses, fresh)
		if err != nil {
			return nil, err
		}
		return Not{Source: cl.Source, Clauses: inner}, nil
	case NotJoin:
		inner, err := renameClauseList(cl.Clauses, fresh)
		if err != nil {
			return nil, err
		}
		join, err := renameVars(cl.Join, fresh)
		if err != nil {
			return nil, err
		}
		return NotJoin{Source: cl.Source, Clauses: inner, Join: join}, nil
	case RuleInvocation:
		return RuleInvocation{Source: cl.Source, Name: cl.Name, Args: renameTerms(cl.Args, fresh)}, nil
	case SourceScope:
		inner, err := renameClauseList(cl.Clauses, fresh)
		if err != nil {
			return nil, err
		}
		return SourceScope{Source: cl.Source, Clauses: inner}, nil
	}
	return nil, syntaxErr("Malformed clause in rule body")
}

func renameClauseList(cs []Clause, fresh func(Var) Term) ([]Clause, error) {
	out := make([]Clause, len(cs))
	for i, c := range cs {
		rc, err := renameClause(c, fresh)
		if err != nil {
			return nil, err
		}
		out[i] = rc
	}
	return out, nil
}

func renameBranches(bs [][]Clause, fresh func(Var) Term) ([][]Clause, error) {
	out := make([][]Clause, len(bs))
	for i, b := range bs {
		rb, err := renameClauseList(b, fresh)
		if err != nil {
			return nil, err
		}
		out[i] = rb
	}
	return out, nil
}
