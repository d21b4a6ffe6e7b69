package query

import (
	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/edn"
)

func syntaxErr(format string, args ...interface{}) error {
	return datalevin.Errorf(datalevin.CodeQuerySyntax, format, args...)
}

// ParseQuery parses a query from its EDN text, accepting both the vector
// form [:find … :where …] and the map form {:find […] :where […]}.
func ParseQuery(input string) (*Query, error) {
	node, err := edn.Parse(input)
	if err != nil {
		return nil, syntaxErr("Cannot parse query: %v", err)
	}
	return ParseQueryNode(*node)
}

// ParseQueryNode parses a query from a parsed EDN node.
func ParseQueryNode(node edn.Node) (*Query, error) {
	sections := map[string][]edn.Node{}
	order := []string{}
	switch node.Type {
	case edn.NodeVector:
		current := ""
		for _, n := range node.Nodes {
			if n.Type == edn.NodeKeyword {
				current = n.Value
				if _, ok := sections[current]; !ok {
					order = append(order, current)
					sections[current] = []edn.Node{}
				}
				continue
			}
			if current == "" {
				return nil, syntaxErr("Query must start with a section keyword, got %s", n.String())
			}
			sections[current] = append(sections[current], n)
		}
	case edn.NodeMap:
		for i := 0; i+1 < len(node.Nodes); i += 2 {
			k := node.Nodes[i]
			v := node.Nodes[i+1]
			if k.Type != edn.NodeKeyword {
				return nil, syntaxErr("Query map keys must be keywords, got %s", k.String())
			}
			if !v.IsColl() {
				return nil, syntaxErr("Query map value for %s must be a collection", k.Value)
			}
			order = append(order, k.Value)
			sections[k.Value] = v.Nodes
		}
	default:
		return nil, syntaxErr("Query should be a vector or a map, got %s", node.String())
	}

	q := &Query{FindKind: FindRel}
	if find, ok := sections[":find"]; ok {
		if err := q.parseFind(find); err != nil {
			return nil, err
		}
	} else {
		return nil, syntaxErr("Query must contain :find")
	}
	if with, ok := sections[":with"]; ok {
		for _, n := range with {
			if n.Type != edn.NodeSymbol || !IsVar(n.Value) {
				return nil, syntaxErr("Expected variable in :with, got %s", n.String())
			}
			q.With = append(q.With, Var(n.Value))
		}
	}
	if err := q.parseKeys(sections); err != nil {
		return nil, err
	}
	if in, ok := sections[":in"]; ok {
		for _, n := range in {
			b, err := parseInBinding(n)
			if err != nil {
				return nil, err
			}
			q.In = append(q.In, b)
		}
	} else {
		q.In = []InBinding{{Kind: InSource, Source: "$"}}
	}
	where := sections[":where"]
	for _, n := range where {
		c, err := parseClause(n)
		if err != nil {
			return nil, err
		}
		q.Where = append(q.Where, c)
	}
	return q, nil
}

// parseFind distinguishes the four find shapes.
func (q *Query) parseFind(nodes []edn.Node) error {
	if len(nodes) == 0 {
		return syntaxErr("Empty :find")
	}
	// ?x .  → scalar
	if len(nodes) == 2 && nodes[1].IsSymbol(".") {
		if nodes[0].Type == edn.NodeSymbol && IsVar(nodes[0].Value) {
			q.FindKind = FindScalar
			q.Find = []Var{Var(nodes[0].Value)}
			return nil
		}
		if nodes[0].Type == edn.NodeVector {
			q.FindKind = FindTuple
			return q.findVars(nodes[0].Nodes)
		}
		return syntaxErr("Bad :find %s .", nodes[0].String())
	}
	// [?x ...] → collection; [?x ?y] → single tuple
	if len(nodes) == 1 && nodes[0].Type == edn.NodeVector {
		inner := nodes[0].Nodes
		if len(inner) == 2 && inner[1].IsSymbol("...") {
			q.FindKind = FindColl
			return q.findVars(inner[:1])
		}
		q.FindKind = FindTuple
		return q.findVars(inner)
	}
	q.FindKind = FindRel
	return q.findVars(nodes)
}

func (q *Query) findVars(nodes []edn.Node) error {
	for _, n := range nodes {
		if n.Type != edn.NodeSymbol || !IsVar(n.Value) {
			return syntaxErr("Expected variable in :find, got %s", n.String())
		}
		q.Find = append(q.Find, Var(n.Value))
	}
	return nil
}

func (q *Query) parseKeys(sections map[string][]edn.Node) error {
	for kw, kind := range map[string]KeysKind{
		":keys": KeysKeywords, ":syms": KeysSymbols, ":strs": KeysStrings,
	} {
		nodes, ok := sections[kw]
		if !ok {
			continue
		}
		if q.KeysKind != KeysNone {
			return syntaxErr("Only one of :keys, :syms, :strs is allowed")
		}
		q.KeysKind = kind
		for _, n := range nodes {
			switch n.Type {
			case edn.NodeSymbol, edn.NodeKeyword, edn.NodeString:
				q.Keys = append(q.Keys, n.Value)
			default:
				return syntaxErr("Bad key name %s", n.String())
			}
		}
		if len(q.Keys) != len(q.Find) {
			return syntaxErr("Count of %s must match count of :find", kw)
		}
	}
	return nil
}

func parseInBinding(n edn.Node) (InBinding, error) {
	switch n.Type {
	case edn.NodeSymbol:
		switch {
		case n.Value == "%":
			return InBinding{Kind: InRules}, nil
		case IsSrcVar(n.Value):
			return InBinding{Kind: InSource, Source: n.Value}, nil
		case IsVar(n.Value):
			return InBinding{Kind: InScalar, Vars: []Var{Var(n.Value)}}, nil
		}
	case edn.NodeVector:
		inner := n.Nodes
		// [[?x ?y]] → relation
		if len(inner) == 1 && inner[0].Type == edn.NodeVector {
			vars, err := varList(inner[0].Nodes)
			if err != nil {
				return InBinding{}, err
			}
			return InBinding{Kind: InRelation, Vars: vars}, nil
		}
		// [?x ...] → collection
		if len(inner) == 2 && inner[1].IsSymbol("...") {
			vars, err := varList(inner[:1])
			if err != nil {
				return InBinding{}, err
			}
			return InBinding{Kind: InColl, Vars: vars}, nil
		}
		vars, err := varList(inner)
		if err != nil {
			return InBinding{}, err
		}
		return InBinding{Kind: InTuple, Vars: vars}, nil
	}
	return InBinding{}, syntaxErr("Bad :in binding %s", n.String())
}

func varList(nodes []edn.Node) ([]Var, error) {
	var out []Var
	for _, n := range nodes {
		if n.Type != edn.NodeSymbol || !IsVar(n.Value) {
			return nil, syntaxErr("Expected variable, got %s", n.String())
		}
		out = append(out, Var(n.Value))
	}
	return out, nil
}

// parseClause dispatches on the clause shape.
func parseClause(n edn.Node) (Clause, error) {
	switch n.Type {
	case edn.NodeVector:
		if len(n.Nodes) == 0 {
			return nil, syntaxErr("Empty clause")
		}
		if n.Nodes[0].Type == edn.NodeList {
			return parseCall(n)
		}
		return parsePattern(n)
	case edn.NodeList:
		return parseListClause(n)
	}
	return nil, syntaxErr("Malformed clause %s", n.String())
}

// parsePattern parses [src? e a v t].
func parsePattern(n edn.Node) (Clause, error) {
	elems := n.Nodes
	p := Pattern{E: BlankTerm(), A: BlankTerm(), V: BlankTerm(), T: BlankTerm()}
	if len(elems) > 0 && elems[0].Type == edn.NodeSymbol && IsSrcVar(elems[0].Value) {
		p.Source = elems[0].Value
		elems = elems[1:]
	}
	if len(elems) == 0 || len(elems) > 4 {
		return nil, syntaxErr("Malformed pattern %s", n.String())
	}
	slots := []*Term{&p.E, &p.A, &p.V, &p.T}
	for i, el := range elems {
		t, err := parseTerm(el)
		if err != nil {
			return nil, err
		}
		*slots[i] = t
	}
	return p, nil
}

func parseTerm(n edn.Node) (Term, error) {
	if n.Type == edn.NodeSymbol {
		if n.Value == "_" {
			return BlankTerm(), nil
		}
		if IsVar(n.Value) {
			return VarTerm(Var(n.Value)), nil
		}
	}
	v, err := edn.ToValue(n)
	if err != nil {
		return Term{}, syntaxErr("Bad pattern element %s: %v", n.String(), err)
	}
	return ConstTerm(v), nil
}

// parseCall parses [(f args…)] and [(f args…) binding].
func parseCall(n edn.Node) (Clause, error) {
	call := n.Nodes[0]
	if len(call.Nodes) == 0 || call.Nodes[0].Type != edn.NodeSymbol {
		return nil, syntaxErr("Malformed call clause %s", n.String())
	}
	fn := call.Nodes[0].Value
	var args []Term
	for _, a := range call.Nodes[1:] {
		t, err := parseTerm(a)
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	if len(n.Nodes) == 1 {
		return Predicate{Fn: fn, Args: args}, nil
	}
	if len(n.Nodes) != 2 {
		return nil, syntaxErr("Malformed function clause %s", n.String())
	}
	b, err := parseBinding(n.Nodes[1])
	if err != nil {
		return nil, err
	}
	return Function{Fn: fn, Args: args, Binding: b}, nil
}

func parseBinding(n edn.Node) (Binding, error) {
	switch n.Type {
	case edn.NodeSymbol:
		if IsVar(n.Value) {
			return Binding{Kind: BindScalar, Vars: []Var{Var(n.Value)}}, nil
		}
	case edn.NodeVector:
		inner := n.Nodes
		if len(inner) == 1 && inner[0].Type == edn.NodeVector {
			vars, err := varList(inner[0].Nodes)
			if err != nil {
				return Binding{}, err
			}
			return Binding{Kind: BindRelation, Vars: vars}, nil
		}
		if len(inner) == 2 && inner[1].IsSymbol("...") {
			vars, err := varList(inner[:1])
			if err != nil {
				return Binding{}, err
			}
			return Binding{Kind: BindColl, Vars: vars}, nil
		}
		vars, err := varList(inner)
		if err != nil {
			return Binding{}, err
		}
		return Binding{Kind: BindTuple, Vars: vars}, nil
	}
	return Binding{}, syntaxErr("Bad binding form %s", n.String())
}

// parseListClause parses (or …), (or-join …), (not …), (not-join …),
// (and …) nested in or, ($src …) source scoping, and rule invocations.
func parseListClause(n edn.Node) (Clause, error) {
	if len(n.Nodes) == 0 {
		return nil, syntaxErr("Empty clause ()")
	}
	head := n.Nodes[0]
	source := ""
	body := n.Nodes[1:]
	if head.Type == edn.NodeSymbol && IsSrcVar(head.Value) {
		// ($src or …) or ($src pattern-clauses …)
		source = head.Value
		if len(body) == 0 {
			return nil, syntaxErr("Empty source scope %s", n.String())
		}
		if body[0].Type == edn.NodeSymbol && !IsVar(body[0].Value) {
			head = body[0]
			body = body[1:]
		} else {
			clauses, err := parseClauses(body)
			if err != nil {
				return nil, err
			}
			return SourceScope{Source: source, Clauses: clauses}, nil
		}
	}
	if head.Type != edn.NodeSymbol {
		return nil, syntaxErr("Malformed clause %s", n.String())
	}
	switch head.Value {
	case "or":
		branches, err := parseBranches(body)
		if err != nil {
			return nil, err
		}
		o := Or{Source: source, Branches: branches}
		free, err := orFreeVars(branches)
		if err != nil {
			return nil, err
		}
		o.Free = free
		return o, nil
	case "or-join":
		if len(body) < 2 || body[0].Type != edn.NodeVector {
			return nil, syntaxErr("Malformed or-join %s", n.String())
		}
		exported, required, err := parseJoinVars(body[0].Nodes)
		if err != nil {
			return nil, err
		}
		branches, err := parseBranches(body[1:])
		if err != nil {
			return nil, err
		}
		return OrJoin{Source: source, Exported: exported, Required: required, Branches: branches}, nil
	case "not":
		clauses, err := parseClauses(body)
		if err != nil {
			return nil, err
		}
		return Not{Source: source, Clauses: clauses}, nil
	case "not-join":
		if len(body) < 2 || body[0].Type != edn.NodeVector {
			return nil, syntaxErr("Malformed not-join %s", n.String())
		}
		vars, err := varList(body[0].Nodes)
		if err != nil {
			return nil, err
		}
		clauses, err := parseClauses(body[1:])
		if err != nil {
			return nil, err
		}
		return NotJoin{Source: source, Join: vars, Clauses: clauses}, nil
	case "and":
		return nil, syntaxErr("(and …) is only valid inside (or …)")
	default:
		var args []Term
		for _, a := range body {
			t, err := parseTerm(a)
			if err != nil {
				return nil, err
			}
			args = append(args, t)
		}
		return RuleInvocation{Source: source, Name: head.Value, Args: args}, nil
	}
}

func parseClauses(nodes []edn.Node) ([]Clause, error) {
	var out []Clause
	for _, n := range nodes {
		c, err := parseClause(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// parseBranches parses or/or-join branches; an (and …) groups clauses.
func parseBranches(nodes []edn.Node) ([][]Clause, error) {
	var out [][]Clause
	for _, n := range nodes {
		if n.Type == edn.NodeList && len(n.Nodes) > 0 && n.Nodes[0].IsSymbol("and") {
			clauses, err := parseClauses(n.Nodes[1:])
			if err != nil {
				return nil, err
			}
			out = append(out, clauses)
			continue
		}
		c, err := parseClause(n)
		if err != nil {
			return nil, err
		}
		out = append(out, []Clause{c})
	}
	if len(out) == 0 {
		return nil, syntaxErr("or requires at least one branch")
	}
	return out, nil
}

// parseJoinVars splits the or-join var vector into exported free vars and
// [[?x]]-form required (already bound) vars.
func parseJoinVars(nodes []edn.Node) (exported, required []Var, err error) {
	for _, n := range nodes {
		switch {
		case n.Type == edn.NodeSymbol && IsVar(n.Value):
			exported = append(exported, Var(n.Value))
		case n.Type == edn.NodeVector && len(n.Nodes) == 1 &&
			n.Nodes[0].Type == edn.NodeVector:
			vars, verr := varList(n.Nodes[0].Nodes)
			if verr != nil {
				return nil, nil, verr
			}
			required = append(required, vars...)
		case n.Type == edn.NodeVector:
			vars, verr := varList(n.Nodes)
			if verr != nil {
				return nil, nil, verr
			}
			required = append(required, vars...)
		default:
			return nil, nil, syntaxErr("Bad or-join variable %s", n.String())
		}
	}
	return exported, required, nil
}

// orFreeVars checks that all branches share one free-variable set.
func orFreeVars(branches [][]Clause) ([]Var, error) {
	var first []Var
	firstSet := map[Var]bool{}
	for i, b := range branches {
		vars := clausesVars(b)
		if i == 0 {
			first = vars
			for _, v := range vars {
				firstSet[v] = true
			}
			continue
		}
		if len(vars) != len(firstSet) {
			return nil, datalevin.NewError(datalevin.CodeQueryOrVars,
				"All clauses in 'or' must use same set of free vars")
		}
		for _, v := range vars {
			if !firstSet[v] {
				return nil, datalevin.NewError(datalevin.CodeQueryOrVars,
					"All clauses in 'or' must use same set of free vars")
			}
		}
	}
	return first, nil
}

// ParseRules parses a rules set: a vector of rule definitions, each
// [(rule-name ?arg…) clause+].
func ParseRules(input string) (Rules, error) {
	node, err := edn.Parse(input)
	if err != nil {
		return nil, syntaxErr("Cannot parse rules: %v", err)
	}
	if node.Type != edn.NodeVector {
		return nil, syntaxErr("Rules should be a vector")
	}
	rules := Rules{}
	for _, rn := range node.Nodes {
		if rn.Type != edn.NodeVector || len(rn.Nodes) < 2 || rn.Nodes[0].Type != edn.NodeList {
			return nil, syntaxErr("Malformed rule %s", rn.String())
		}
		head := rn.Nodes[0]
		if len(head.Nodes) == 0 || head.Nodes[0].Type != edn.NodeSymbol {
			return nil, syntaxErr("Malformed rule head %s", head.String())
		}
		name := head.Nodes[0].Value
		vars, err := varList(head.Nodes[1:])
		if err != nil {
			return nil, err
		}
		clauses, err := parseClauses(rn.Nodes[1:])
		if err != nil {
			return nil, err
		}
		rules[name] = append(rules[name], Rule{Name: name, Head: vars, Clauses: clauses})
	}
	return rules, nil
}
