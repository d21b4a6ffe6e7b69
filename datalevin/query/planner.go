package query

// planClauses orders where clauses so that, when possible, each clause
// shares at least one variable with the bindings accumulated so far.
// Patterns with more bound components run first; predicates, functions and
// negations wait until their inputs are bound.
func planClauses(clauses []Clause, bound map[Var]bool) []Clause {
	remaining := append([]Clause{}, clauses...)
	out := make([]Clause, 0, len(clauses))
	boundNow := map[Var]bool{}
	for v := range bound {
		boundNow[v] = true
	}

	for len(remaining) > 0 {
		best := -1
		bestScore := -1 << 30
		for i, c := range remaining {
			s := clauseScore(c, boundNow)
			if s > bestScore {
				bestScore = s
				best = i
			}
		}
		c := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)
		out = append(out, c)
		for _, v := range c.Vars() {
			boundNow[v] = true
		}
	}
	return out
}

// clauseScore ranks a clause for greedy selection against the current
// bound-variable set. Higher runs earlier.
func clauseScore(c Clause, bound map[Var]bool) int {
	shared := 0
	total := 0
	for _, v := range c.Vars() {
		total++
		if bound[v] {
			shared++
		}
	}
	switch cl := c.(type) {
	case Pattern:
		score := shared * 10
		for _, t := range []Term{cl.E, cl.A, cl.V} {
			switch t.Kind {
			case TermConst:
				score += 6
			case TermVar:
				if bound[t.Var] {
					score += 4
				}
			}
		}
		if len(bound) > 0 && shared == 0 {
			score -= 20 // avoid cross products while joinable clauses remain
		}
		return score
	case Predicate:
		if shared == total {
			return 100 // filters are free once their inputs are bound
		}
		return -100
	case Function:
		ready := true
		for _, t := range cl.Args {
			if t.Kind == TermVar && !bound[t.Var] {
				ready = false
			}
		}
		if ready {
			return 50
		}
		return -100
	case Not, NotJoin:
		if shared > 0 {
			return 30
		}
		return -50
	case Or, OrJoin, RuleInvocation:
		return shared * 10
	case SourceScope:
		return shared * 10
	}
	return shared
}
