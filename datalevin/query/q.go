package query

import (
	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/store"
)

// Result is a materialized query result: a set of tuples over the find
// variables, plus the find shape used to view it.
type Result struct {
	Vars     []Var
	Tuples   [][]datalevin.Value
	kind     FindKind
	keys     []string
	keysKind KeysKind
}

// Q parses and runs a query. Inputs bind to the :in declarations in order;
// with no :in, a single source input is expected.
func Q(input string, inputs ...interface{}) (*Result, error) {
	q, err := ParseQuery(input)
	if err != nil {
		return nil, err
	}
	return RunQuery(q, inputs...)
}

// RunQuery runs an already-parsed query.
func RunQuery(q *Query, inputs ...interface{}) (*Result, error) {
	if len(inputs) != len(q.In) {
		return nil, syntaxErr("Expected %d inputs, got %d", len(q.In), len(inputs))
	}
	ctx := &Context{
		Sources:       map[string]Source{},
		DefaultSource: "$",
		Rules:         Rules{},
	}
	rel := UnitRelation()
	for i, b := range q.In {
		in := inputs[i]
		switch b.Kind {
		case InSource:
			src, err := asSource(in)
			if err != nil {
				return nil, err
			}
			ctx.Sources[b.Source] = src
		case InRules:
			rules, err := asRules(in)
			if err != nil {
				return nil, err
			}
			ctx.Rules = rules
		case InScalar:
			rel = Join(rel, &Relation{Vars: b.Vars, Tuples: [][]datalevin.Value{{in}}})
		case InTuple:
			row, err := asRow(in, len(b.Vars))
			if err != nil {
				return nil, err
			}
			rel = Join(rel, &Relation{Vars: b.Vars, Tuples: [][]datalevin.Value{row}})
		case InColl:
			elems, err := asElems(in)
			if err != nil {
				return nil, err
			}
			r := &Relation{Vars: b.Vars}
			for _, el := range elems {
				r.Tuples = append(r.Tuples, []datalevin.Value{el})
			}
			rel = Join(rel, r.Dedupe())
		case InRelation:
			elems, err := asElems(in)
			if err != nil {
				return nil, err
			}
			r := &Relation{Vars: b.Vars}
			for _, el := range elems {
				row, err := asRow(el, len(b.Vars))
				if err != nil {
					return nil, err
				}
				r.Tuples = append(r.Tuples, row)
			}
			rel = Join(rel, r.Dedupe())
		}
	}

	rel, err := ctx.evalClauses(rel, q.Where, ctx.DefaultSource)
	if err != nil {
		return nil, err
	}

	for _, v := range q.Find {
		if !rel.Bound(v) {
			return nil, syntaxErr("Find variable %s is not bound by :where", v)
		}
	}
	res := &Result{kind: q.FindKind, keys: q.Keys, keysKind: q.KeysKind}
	if len(q.With) > 0 {
		wide := rel.Project(append(append([]Var{}, q.Find...), q.With...))
		idx := make([]int, len(q.Find))
		for i, v := range q.Find {
			idx[i] = wide.indexOf(v)
		}
		res.Vars = q.Find
		for _, t := range wide.Tuples {
			res.Tuples = append(res.Tuples, pick(t, idx))
		}
	} else {
		proj := rel.Project(q.Find)
		res.Vars = proj.Vars
		res.Tuples = proj.Tuples
	}
	return res, nil
}

// Scalar returns the single value of a `:find ?x .` query, or nil.
func (r *Result) Scalar() datalevin.Value {
	if len(r.Tuples) == 0 || len(r.Tuples[0]) == 0 {
		return nil
	}
	return r.Tuples[0][0]
}

// Collection returns the first column, the view of `:find [?x ...]`.
func (r *Result) Collection() []datalevin.Value {
	var out []datalevin.Value
	for _, t := range r.Tuples {
		if len(t) > 0 {
			out = append(out, t[0])
		}
	}
	return out
}

// Tuple returns the first row, the view of `:find [?x ?y]`.
func (r *Result) Tuple() []datalevin.Value {
	if len(r.Tuples) == 0 {
		return nil
	}
	return r.Tuples[0]
}

// Maps renders rows as maps when :keys, :syms or :strs was given.
func (r *Result) Maps() []map[string]datalevin.Value {
	if r.keysKind == KeysNone {
		return nil
	}
	var out []map[string]datalevin.Value
	for _, t := range r.Tuples {
		m := map[string]datalevin.Value{}
		for i, k := range r.keys {
			if i < len(t) {
				m[k] = t[i]
			}
		}
		out = append(out, m)
	}
	return out
}

func asSource(in interface{}) (Source, error) {
	switch s := in.(type) {
	case Source:
		return s, nil
	case *store.DB:
		return StoreSource{DB: s}, nil
	case []datalevin.Datom:
		return DatomsSource(s), nil
	}
	return nil, syntaxErr("Cannot use %T as a query source", in)
}

func asRules(in interface{}) (Rules, error) {
	switch r := in.(type) {
	case Rules:
		return r, nil
	case string:
		return ParseRules(r)
	}
	return nil, syntaxErr("Cannot use %T as a rules set", in)
}

func asElems(in interface{}) ([]datalevin.Value, error) {
	switch c := in.(type) {
	case []datalevin.Value:
		return c, nil
	}
	return nil, syntaxErr("Cannot use %T as a collection input", in)
}

func asRow(in interface{}, want int) ([]datalevin.Value, error) {
	elems, err := asElems(in)
	if err != nil {
		return nil, err
	}
	if len(elems) != want {
		return nil, syntaxErr("Expected %d values in tuple input, got %d", want, len(elems))
	}
	return elems, nil
}
