package transact

import (
	"fmt"
	"sort"

	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/schema"
	"github.com/rk-forks/datalevin/datalevin/store"
)

// maxFnDepth bounds transaction-function recursion.
const maxFnDepth = 64

var (
	kwAdd         = datalevin.NewKeyword(":db/add")
	kwRetract     = datalevin.NewKeyword(":db/retract")
	kwRetractEnt  = datalevin.NewKeyword(":db.fn/retractEntity")
	kwRetractAttr = datalevin.NewKeyword(":db.fn/retractAttribute")
	kwCAS         = datalevin.NewKeyword(":db.fn/cas")
	kwCall        = datalevin.NewKeyword(":db.fn/call")
	kwDBID        = datalevin.NewKeyword(":db/id")
	kwDBFn        = datalevin.NewKeyword(":db/fn")
	kwIdent       = datalevin.NewKeyword(":db/ident")
)

// expandItems flattens tx items into normalized ops. nil items are skipped.
func (tx *Tx) expandItems(items []interface{}, depth int) error {
	if depth > maxFnDepth {
		return datalevin.NewError(datalevin.CodeTransactFn,
			"Transaction function recursion too deep")
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		switch it := item.(type) {
		case map[datalevin.Keyword]interface{}:
			if _, err := tx.flattenEntity(it, depth); err != nil {
				return err
			}
		case map[string]interface{}:
			m := make(map[datalevin.Keyword]interface{}, len(it))
			for k, v := range it {
				m[datalevin.NewKeyword(k)] = v
			}
			if _, err := tx.flattenEntity(m, depth); err != nil {
				return err
			}
		case []interface{}:
			if err := tx.expandVector(it, depth); err != nil {
				return err
			}
		default:
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Bad entity type at %v, expected map or vector", item))
		}
	}
	return nil
}

// expandVector handles one vector-form tx item.
func (tx *Tx) expandVector(it []interface{}, depth int) error {
	if len(it) == 0 {
		return datalevin.NewError(datalevin.CodeTransactSyntax, "Empty tx item")
	}
	op, ok := it[0].(datalevin.Keyword)
	if !ok {
		return datalevin.NewError(datalevin.CodeTransactSyntax,
			fmt.Sprintf("Expected operation keyword at %v", it))
	}
	switch op {
	case kwAdd:
		if len(it) != 4 {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Bad :db/add form %v", it))
		}
		a, ok := it[2].(datalevin.Keyword)
		if !ok {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Expected attribute keyword at %v", it))
		}
		tx.ops = append(tx.ops, opFor(true, it[1], a, it[3]))
		return nil
	case kwRetract:
		if len(it) != 3 && len(it) != 4 {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Bad :db/retract form %v", it))
		}
		a, ok := it[2].(datalevin.Keyword)
		if !ok {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Expected attribute keyword at %v", it))
		}
		var v interface{}
		if len(it) == 4 {
			v = it[3]
		}
		tx.ops = append(tx.ops, opFor(false, it[1], a, v))
		return nil
	case kwRetractEnt:
		if len(it) != 2 {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Bad :db.fn/retractEntity form %v", it))
		}
		return tx.expandRetractEntity(it[1], map[int64]bool{})
	case kwRetractAttr:
		if len(it) != 3 {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Bad :db.fn/retractAttribute form %v", it))
		}
		a, ok := it[2].(datalevin.Keyword)
		if !ok {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Expected attribute keyword at %v", it))
		}
		tx.ops = append(tx.ops, opFor(false, it[1], a, nil))
		return nil
	case kwCAS:
		if len(it) != 5 {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Bad :db.fn/cas form %v", it))
		}
		a, ok := it[2].(datalevin.Keyword)
		if !ok {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Expected attribute keyword at %v", it))
		}
		return tx.expandCAS(it[1], a, it[3], it[4])
	case kwCall:
		if len(it) < 2 {
			return datalevin.NewError(datalevin.CodeTransactSyntax,
				fmt.Sprintf("Bad :db.fn/call form %v", it))
		}
		return tx.callFn(it[1], it[2:], depth)
	default:
		// [:<ident> args...] is a named transaction function.
		return tx.callFn(op, it[1:], depth)
	}
}

// opFor builds one normalized op, deep-converting slice values to tuples.
func opFor(add bool, e interface{}, a datalevin.Keyword, v interface{}) op {
	return op{add: add, e: e, a: a, v: tupleize(v)}
}

// tupleize converts []interface{} values (as produced by the EDN front end)
// into Tuple values, recursively.
func tupleize(v interface{}) interface{} {
	switch vs := v.(type) {
	case []interface{}:
		t := make(datalevin.Tuple, len(vs))
		for i, el := range vs {
			t[i] = tupleize(el)
		}
		return t
	}
	return v
}

// flattenEntity expands a map-form entity, returning its entity id form.
func (tx *Tx) flattenEntity(m map[datalevin.Keyword]interface{}, depth int) (interface{}, error) {
	var eid interface{}
	if id, ok := m[kwDBID]; ok {
		eid = id
	} else {
		eid = tx.freshTempid()
	}
	if key, ok := tempidKey(eid); ok {
		tx.defineTempid(key)
	}

	keys := make([]datalevin.Keyword, 0, len(m))
	for k := range m {
		if k != kwDBID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	sch := tx.db.Schema()
	for _, k := range keys {
		v := m[k]
		if k.IsReverse() {
			fwd := k.Forward()
			if !sch.IsRef(fwd) && sch.Attr(fwd) != nil {
				return nil, datalevin.NewError(datalevin.CodeTransactSyntax,
					"Reverse attribute name requires a ref attribute: "+k.String())
			}
			for _, ref := range manyValues(sch, fwd, v) {
				src, err := tx.entityValue(fwd, ref, depth)
				if err != nil {
					return nil, err
				}
				tx.ops = append(tx.ops, opFor(true, src, fwd, eid))
			}
			continue
		}
		attr := sch.Attr(k)
		if attr != nil && attr.Cardinality == schema.Many {
			for _, el := range manyValues(sch, k, v) {
				ev, err := tx.entityValue(k, el, depth)
				if err != nil {
					return nil, err
				}
				tx.ops = append(tx.ops, opFor(true, eid, k, ev))
			}
			continue
		}
		ev, err := tx.entityValue(k, v, depth)
		if err != nil {
			return nil, err
		}
		tx.ops = append(tx.ops, opFor(true, eid, k, ev))
	}
	return eid, nil
}

// entityValue resolves nested maps in value position into sub-entities.
func (tx *Tx) entityValue(a datalevin.Keyword, v interface{}, depth int) (interface{}, error) {
	switch nested := v.(type) {
	case map[datalevin.Keyword]interface{}:
		return tx.flattenEntity(nested, depth)
	case map[string]interface{}:
		m := make(map[datalevin.Keyword]interface{}, len(nested))
		for k, val := range nested {
			m[datalevin.NewKeyword(k)] = val
		}
		return tx.flattenEntity(m, depth)
	}
	return v, nil
}

// manyValues splits a cardinality-many value into its elements. A Tuple
// value of a tuple-typed attribute stays whole.
func manyValues(sch *schema.Schema, a datalevin.Keyword, v interface{}) []interface{} {
	if attr := sch.Attr(a); attr != nil && attr.ValueType == datalevin.TypeTuple {
		if t, ok := v.(datalevin.Tuple); ok {
			if len(t) == 0 {
				return nil
			}
			if _, inner := t[0].(datalevin.Tuple); !inner {
				return []interface{}{v}
			}
		}
	}
	switch vs := v.(type) {
	case []interface{}:
		return vs
	}
	return []interface{}{v}
}

// expandRetractEntity retracts every datom of the entity, every incoming
// ref datom, and recurses into component refs.
func (tx *Tx) expandRetractEntity(e interface{}, seen map[int64]bool) error {
	eid, err := tx.earlyEID(e)
	if err != nil {
		return err
	}
	if seen[eid] {
		return nil
	}
	seen[eid] = true

	sch := tx.db.Schema()
	datoms, err := tx.currentDatoms(eid)
	if err != nil {
		return err
	}
	var components []int64
	for _, d := range datoms {
		tx.ops = append(tx.ops, opFor(false, d.E, d.A, d.V))
		if sch.IsComponent(d.A) {
			if ref, ok := d.V.(datalevin.EID); ok {
				components = append(components, int64(ref))
			}
		}
	}
	incoming, err := tx.incomingRefs(eid)
	if err != nil {
		return err
	}
	for _, d := range incoming {
		tx.ops = append(tx.ops, opFor(false, d.E, d.A, d.V))
	}
	for _, c := range components {
		if err := tx.expandRetractEntity(c, seen); err != nil {
			return err
		}
	}
	return nil
}

// expandCAS checks the compare-and-swap precondition and emits the swap.
func (tx *Tx) expandCAS(e interface{}, a datalevin.Keyword, old, newV interface{}) error {
	if _, isTempid := tempidKey(e); isTempid {
		return datalevin.NewError(datalevin.CodeTransactCAS,
			fmt.Sprintf("Can't use tempid in :db.fn/cas: %v", e))
	}
	eid, err := tx.earlyEID(e)
	if err != nil {
		return err
	}
	current, err := tx.db.CurrentValues(tx.txn, eid, a)
	if err != nil {
		return err
	}
	sch := tx.db.Schema()
	if sch.CardinalityOf(a) == schema.Many {
		found := false
		for _, cv := range current {
			if datalevin.ValuesEqual(cv, old) {
				found = true
				break
			}
		}
		if !found && old != nil {
			return datalevin.NewError(datalevin.CodeTransactCAS,
				fmt.Sprintf(":db.fn/cas failed on datom [%d %s %v], expected %v", eid, a, current, old))
		}
	} else {
		var cv datalevin.Value
		if len(current) > 0 {
			cv = current[0]
		}
		if !datalevin.ValuesEqual(cv, old) {
			return datalevin.NewError(datalevin.CodeTransactCAS,
				fmt.Sprintf(":db.fn/cas failed on datom [%d %s %v], expected %v", eid, a, cv, old))
		}
	}
	if old != nil {
		tx.ops = append(tx.ops, opFor(false, eid, a, old))
	}
	tx.ops = append(tx.ops, opFor(true, eid, a, newV))
	return nil
}

// currentDatoms reads the entity's present datoms.
func (tx *Tx) currentDatoms(e int64) ([]datalevin.Datom, error) {
	var out []datalevin.Datom
	err := tx.db.IterDatoms(tx.txn, store.EAVT, func(d datalevin.Datom) bool {
		out = append(out, d)
		return true
	}, e)
	return out, err
}

// incomingRefs reads datoms whose ref value points at e.
func (tx *Tx) incomingRefs(e int64) ([]datalevin.Datom, error) {
	var out []datalevin.Datom
	err := tx.db.IterDatoms(tx.txn, store.VAET, func(d datalevin.Datom) bool {
		out = append(out, d)
		return true
	}, datalevin.EID(e))
	return out, err
}
