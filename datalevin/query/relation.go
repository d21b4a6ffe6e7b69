package query

import (
	"fmt"
	"strings"

	"github.com/rk-forks/datalevin/datalevin"
)

// Relation is a header of variables plus a set of tuples. The empty header
// with one empty tuple is the unit relation evaluation starts from.
type Relation struct {
	Vars   []Var
	Tuples [][]datalevin.Value
}

// UnitRelation is the join identity.
func UnitRelation() *Relation {
	return &Relation{Tuples: [][]datalevin.Value{{}}}
}

// EmptyRelation has no tuples.
func EmptyRelation(vars []Var) *Relation {
	return &Relation{Vars: vars}
}

// indexOf returns the column of a variable, or -1.
func (r *Relation) indexOf(v Var) int {
	for i, rv := range r.Vars {
		if rv == v {
			return i
		}
	}
	return -1
}

// Bound reports whether the variable has a column.
func (r *Relation) Bound(v Var) bool { return r.indexOf(v) >= 0 }

// sharedVars returns the variables present in both relations.
func sharedVars(a, b *Relation) []Var {
	var out []Var
	for _, v := range a.Vars {
		if b.Bound(v) {
			out = append(out, v)
		}
	}
	return out
}

// valueKey renders a tuple of values into a hashable string key.
func valueKey(vals []datalevin.Value) string {
	var sb strings.Builder
	for _, v := range vals {
		sb.WriteString(fmt.Sprintf("%T|%v\x00", v, v))
	}
	return sb.String()
}

// Join combines two relations on their shared variables. With no shared
// variables it degrades to the cross product. The smaller side is hashed.
func Join(a, b *Relation) *Relation {
	shared := sharedVars(a, b)
	outVars := append([]Var{}, a.Vars...)
	var bExtra []int
	for i, v := range b.Vars {
		if !a.Bound(v) {
			outVars = append(outVars, v)
			bExtra = append(bExtra, i)
		}
	}
	out := &Relation{Vars: outVars}

	if len(shared) == 0 {
		for _, ta := range a.Tuples {
			for _, tb := range b.Tuples {
				row := append(append([]datalevin.Value{}, ta...), pick(tb, bExtra)...)
				out.Tuples = append(out.Tuples, row)
			}
		}
		return out
	}

	aIdx := make([]int, len(shared))
	bIdx := make([]int, len(shared))
	for i, v := range shared {
		aIdx[i] = a.indexOf(v)
		bIdx[i] = b.indexOf(v)
	}

	// Hash the smaller input; probe with the larger, preserving a's column
	// layout in the output either way.
	if len(b.Tuples) <= len(a.Tuples) {
		ht := map[string][][]datalevin.Value{}
		for _, tb := range b.Tuples {
			k := valueKey(pick(tb, bIdx))
			ht[k] = append(ht[k], tb)
		}
		for _, ta := range a.Tuples {
			k := valueKey(pick(ta, aIdx))
			for _, tb := range ht[k] {
				row := append(append([]datalevin.Value{}, ta...), pick(tb, bExtra)...)
				out.Tuples = append(out.Tuples, row)
			}
		}
		return out
	}
	ht := map[string][][]datalevin.Value{}
	for _, ta := range a.Tuples {
		k := valueKey(pick(ta, aIdx))
		ht[k] = append(ht[k], ta)
	}
	for _, tb := range b.Tuples {
		k := valueKey(pick(tb, bIdx))
		for _, ta := range ht[k] {
			row := append(append([]datalevin.Value{}, ta...), pick(tb, bExtra)...)
			out.Tuples = append(out.Tuples, row)
		}
	}
	return out
}

// AntiJoin drops rows of a whose shared-variable key appears in b.
func AntiJoin(a, b *Relation) *Relation {
	shared := sharedVars(a, b)
	if len(shared) == 0 {
		if len(b.Tuples) > 0 {
			return EmptyRelation(a.Vars)
		}
		return a
	}
	aIdx := make([]int, len(shared))
	bIdx := make([]int, len(shared))
	for i, v := range shared {
		aIdx[i] = a.indexOf(v)
		bIdx[i] = b.indexOf(v)
	}
	seen := map[string]bool{}
	for _, tb := range b.Tuples {
		seen[valueKey(pick(tb, bIdx))] = true
	}
	out := &Relation{Vars: a.Vars}
	for _, ta := range a.Tuples {
		if !seen[valueKey(pick(ta, aIdx))] {
			out.Tuples = append(out.Tuples, ta)
		}
	}
	return out
}

// Project reduces the relation to the given variables, deduplicating rows.
// Variables not in the relation are left out of the result.
func (r *Relation) Project(vars []Var) *Relation {
	idx := make([]int, 0, len(vars))
	kept := make([]Var, 0, len(vars))
	for _, v := range vars {
		if i := r.indexOf(v); i >= 0 {
			idx = append(idx, i)
			kept = append(kept, v)
		}
	}
	out := &Relation{Vars: kept}
	seen := map[string]bool{}
	for _, t := range r.Tuples {
		row := pick(t, idx)
		k := valueKey(row)
		if !seen[k] {
			seen[k] = true
			out.Tuples = append(out.Tuples, row)
		}
	}
	return out
}

// Union merges two relations with identical headers, deduplicating. The
// second relation's columns are reordered to match the first.
func Union(a, b *Relation) *Relation {
	if len(a.Vars) == 0 && len(a.Tuples) == 0 {
		return b
	}
	idx := make([]int, len(a.Vars))
	for i, v := range a.Vars {
		j := b.indexOf(v)
		idx[i] = j
	}
	out := &Relation{Vars: a.Vars}
	seen := map[string]bool{}
	add := func(row []datalevin.Value) {
		k := valueKey(row)
		if !seen[k] {
			seen[k] = true
			out.Tuples = append(out.Tuples, row)
		}
	}
	for _, t := range a.Tuples {
		add(t)
	}
	for _, t := range b.Tuples {
		row := make([]datalevin.Value, len(idx))
		for i, j := range idx {
			if j >= 0 && j < len(t) {
				row[i] = t[j]
			}
		}
		add(row)
	}
	return out
}

// Dedupe removes duplicate tuples in place order.
func (r *Relation) Dedupe() *Relation {
	out := &Relation{Vars: r.Vars}
	seen := map[string]bool{}
	for _, t := range r.Tuples {
		k := valueKey(t)
		if !seen[k] {
			seen[k] = true
			out.Tuples = append(out.Tuples, t)
		}
	}
	return out
}

func pick(t []datalevin.Value, idx []int) []datalevin.Value {
	out := make([]datalevin.Value, len(idx))
	for i, j := range idx {
		out[i] = t[j]
	}
	return out
}
