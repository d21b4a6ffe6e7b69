// Package transact turns tx-data into committed datoms: entity expansion,
// tempid resolution, upserts, composite tuple maintenance, validation,
// unique enforcement, CAS and transaction functions. Any rejected item
// aborts the whole transaction with nothing applied.
package transact

import (
	"fmt"
	"time"

	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/kv"
	"github.com/rk-forks/datalevin/datalevin/schema"
	"github.com/rk-forks/datalevin/datalevin/store"
)

// Basis stamps a database state by its counters.
type Basis struct {
	MaxEID int64
	MaxTx  int64
}

// Report is the result of one transaction.
type Report struct {
	DBBefore Basis
	DBAfter  Basis
	TxData   []datalevin.Datom
	Tempids  map[string]int64
}

// CurrentTxKey is the reserved tempid that resolves to the transaction id.
const CurrentTxKey = ":db/current-tx"

// op is one normalized add or retract, possibly with unresolved ids.
type op struct {
	add bool
	e   interface{}
	a   datalevin.Keyword
	v   interface{}
}

// Tx is the in-flight state of one transaction.
type Tx struct {
	db   *store.DB
	txn  *kv.Txn
	txID int64
	now  time.Time

	maxEID int64

	ops         []op
	tempids     map[string]int64
	tempidSeen  []string        // first-appearance order, entity or value position
	tempidUsed  map[string]bool // appeared in value position
	tempidDef   map[string]bool // appeared in entity position of an add
	tupleUpsert map[int64]bool  // eids bound by upsert through a unique tuple attr

	txData  []datalevin.Datom
	touched map[int64]map[string]bool // entity → touched source attrs
	created map[int64]bool            // entities first seen in this tx
}

// DB returns the database under transaction, for transaction functions.
func (tx *Tx) DB() *store.DB { return tx.db }

// Txn returns the substrate write transaction, for transaction functions.
func (tx *Tx) Txn() *kv.Txn { return tx.txn }

// TxID returns the id of the transaction being built.
func (tx *Tx) TxID() int64 { return tx.txID }

// Transact applies tx-data items atomically and returns the report. Items
// may be vector ops ([]interface{} starting with an op keyword), map-form
// entities (map[datalevin.Keyword]interface{}) or nil (skipped).
func Transact(db *store.DB, items []interface{}) (*Report, error) {
	rep := &Report{
		DBBefore: Basis{MaxEID: db.MaxEID(), MaxTx: db.MaxTx()},
		Tempids:  map[string]int64{},
	}
	err := db.Update(func(txn *kv.Txn) error {
		tx := &Tx{
			db:          db,
			txn:         txn,
			txID:        db.MaxTx() + 1,
			now:         time.Now().UTC().Truncate(time.Millisecond),
			maxEID:      db.MaxEID(),
			tempids:     map[string]int64{},
			tempidUsed:  map[string]bool{},
			tempidDef:   map[string]bool{},
			tupleUpsert: map[int64]bool{},
			touched:     map[int64]map[string]bool{},
			created:     map[int64]bool{},
		}
		if err := tx.expandItems(items, 0); err != nil {
			return err
		}
		if err := tx.resolveIDs(); err != nil {
			return err
		}
		if err := tx.apply(); err != nil {
			return err
		}
		if err := tx.recomputeTuples(); err != nil {
			return err
		}
		if db.Opts().AutoEntityTime {
			if err := tx.stampEntityTime(); err != nil {
				return err
			}
		}
		if err := db.AdvanceCounters(txn, tx.maxEID, tx.txID); err != nil {
			return err
		}
		rep.TxData = tx.txData
		for k, v := range tx.tempids {
			rep.Tempids[k] = v
		}
		rep.Tempids[CurrentTxKey] = tx.txID
		return nil
	})
	if err != nil {
		return nil, err
	}
	rep.DBAfter = Basis{MaxEID: db.MaxEID(), MaxTx: db.MaxTx()}
	return rep, nil
}

// touch records that the entity's attribute changed in this tx.
func (tx *Tx) touch(e int64, a datalevin.Keyword) {
	m := tx.touched[e]
	if m == nil {
		m = map[string]bool{}
		tx.touched[e] = m
	}
	m[a.String()] = true
}

// apply runs the normalized ops against the store in order, maintaining
// cardinality, validation and unique-constraint semantics. Each op sees the
// effects of the ops before it.
func (tx *Tx) apply() error {
	for _, o := range tx.ops {
		e, err := tx.resolvedEID(o.e)
		if err != nil {
			return err
		}
		v, err := tx.resolveValue(o.a, o.v)
		if err != nil {
			return err
		}
		if o.add {
			if err := tx.applyAdd(e, o.a, v); err != nil {
				return err
			}
		} else {
			if err := tx.applyRetract(e, o.a, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tx *Tx) applyAdd(e int64, a datalevin.Keyword, v datalevin.Value) error {
	sch := tx.db.Schema()
	attr := sch.Attr(a)

	if attr != nil && attr.IsTupleAttr() {
		return tx.applyDirectTupleWrite(e, attr, v)
	}
	if tx.db.Opts().ValidateData {
		if err := validateValue(attr, v); err != nil {
			return err
		}
	}

	current, err := tx.db.CurrentValues(tx.txn, e, a)
	if err != nil {
		return err
	}
	for _, cv := range current {
		if datalevin.ValuesEqual(cv, v) {
			return nil // idempotent re-add
		}
	}
	if sch.CardinalityOf(a) == schema.One && len(current) > 0 {
		if tx.tupleUpsert[e] {
			return datalevin.NewError(datalevin.CodeTransactUpsert,
				"Conflicting upserts", "entity", e, "attribute", a.String())
		}
		for _, cv := range current {
			if err := tx.retractDatom(e, a, cv); err != nil {
				return err
			}
		}
	}
	if sch.IsUnique(a) {
		if other, found, err := tx.db.FindByAV(tx.txn, a, v); err != nil {
			return err
		} else if found && other != e {
			d := datalevin.NewDatom(e, a, v, tx.txID)
			return datalevin.NewError(datalevin.CodeTransactUnique,
				fmt.Sprintf("Cannot add %s because of unique constraint", d),
				"entity", e, "attribute", a.String())
		}
	}
	return tx.addDatom(e, a, v)
}

// applyDirectTupleWrite rejects user writes to composite tuple attributes
// unless the written value matches what recomputation would produce, in
// which case the write is dropped as redundant.
func (tx *Tx) applyDirectTupleWrite(e int64, attr *schema.Attribute, v datalevin.Value) error {
	computed, present, err := tx.computedTuple(e, attr)
	if err != nil {
		return err
	}
	if present && datalevin.ValuesEqual(computed, v) {
		return nil
	}
	return datalevin.NewError(datalevin.CodeTransactTuple,
		"Can't modify tuple attrs directly: "+attr.Ident,
		"entity", e, "attribute", attr.Ident)
}

func (tx *Tx) applyRetract(e int64, a datalevin.Keyword, v datalevin.Value) error {
	if v == nil {
		current, err := tx.db.CurrentValues(tx.txn, e, a)
		if err != nil {
			return err
		}
		for _, cv := range current {
			if err := tx.retractDatom(e, a, cv); err != nil {
				return err
			}
		}
		return nil
	}
	current, err := tx.db.CurrentValues(tx.txn, e, a)
	if err != nil {
		return err
	}
	for _, cv := range current {
		if datalevin.ValuesEqual(cv, v) {
			return tx.retractDatom(e, a, cv)
		}
	}
	return nil // absent datom, no-op
}

// addDatom writes one datom and records it in tx-data.
func (tx *Tx) addDatom(e int64, a datalevin.Keyword, v datalevin.Value) error {
	d := datalevin.NewDatom(e, a, v, tx.txID)
	if err := tx.db.AddDatom(tx.txn, d); err != nil {
		return err
	}
	tx.txData = append(tx.txData, d)
	tx.touch(e, a)
	return nil
}

// retractDatom removes one datom and records the retraction in tx-data.
func (tx *Tx) retractDatom(e int64, a datalevin.Keyword, v datalevin.Value) error {
	d := datalevin.Datom{E: e, A: a, V: v, Tx: tx.txID, Added: false}
	if err := tx.db.RetractDatom(tx.txn, d); err != nil {
		return err
	}
	tx.txData = append(tx.txData, d)
	tx.touch(e, a)
	return nil
}

// computedTuple derives the value a composite tuple attribute should hold
// for the entity, reporting whether any source attribute is present.
func (tx *Tx) computedTuple(e int64, attr *schema.Attribute) (datalevin.Tuple, bool, error) {
	t := make(datalevin.Tuple, len(attr.TupleAttrs))
	any := false
	for i, src := range attr.TupleAttrs {
		vals, err := tx.db.CurrentValues(tx.txn, e, datalevin.NewKeyword(src))
		if err != nil {
			return nil, false, err
		}
		if len(vals) > 0 {
			t[i] = vals[0]
			any = true
		}
	}
	return t, any, nil
}

// recomputeTuples refreshes composite tuple attributes of every touched
// entity whose source attributes changed.
func (tx *Tx) recomputeTuples() error {
	sch := tx.db.Schema()
	type pair struct {
		e     int64
		ident string
	}
	seen := map[pair]bool{}
	// touched grows while stamping; snapshot first.
	var work []pair
	for e, attrs := range tx.touched {
		for src := range attrs {
			for tupleIdent := range sch.TupleAttrsOf(datalevin.NewKeyword(src)) {
				p := pair{e, tupleIdent}
				if !seen[p] {
					seen[p] = true
					work = append(work, p)
				}
			}
		}
	}
	for _, p := range work {
		attr := sch.Attr(datalevin.NewKeyword(p.ident))
		if attr == nil {
			continue
		}
		computed, present, err := tx.computedTuple(p.e, attr)
		if err != nil {
			return err
		}
		stored, err := tx.db.CurrentValues(tx.txn, p.e, attr.Keyword())
		if err != nil {
			return err
		}
		var storedV datalevin.Value
		if len(stored) > 0 {
			storedV = stored[0]
		}
		switch {
		case !present && storedV != nil:
			if err := tx.retractDatom(p.e, attr.Keyword(), storedV); err != nil {
				return err
			}
		case present && (storedV == nil || !datalevin.ValuesEqual(storedV, computed)):
			if storedV != nil {
				if err := tx.retractDatom(p.e, attr.Keyword(), storedV); err != nil {
					return err
				}
			}
			if sch.IsUnique(attr.Keyword()) {
				if other, found, err := tx.db.FindByAV(tx.txn, attr.Keyword(), computed); err != nil {
					return err
				} else if found && other != p.e {
					d := datalevin.NewDatom(p.e, attr.Keyword(), computed, tx.txID)
					return datalevin.NewError(datalevin.CodeTransactUnique,
						fmt.Sprintf("Cannot add %s because of unique constraint", d),
						"entity", p.e, "attribute", attr.Ident)
				}
			}
			if err := tx.addDatom(p.e, attr.Keyword(), computed); err != nil {
				return err
			}
		}
	}
	return nil
}

// stampEntityTime injects :db/created-at and :db/updated-at for every
// touched entity; created-at only on first appearance.
func (tx *Tx) stampEntityTime() error {
	createdAt := datalevin.NewKeyword(":db/created-at")
	updatedAt := datalevin.NewKeyword(":db/updated-at")
	var entities []int64
	for e := range tx.touched {
		entities = append(entities, e)
	}
	for _, e := range entities {
		existing, err := tx.db.CurrentValues(tx.txn, e, createdAt)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			if err := tx.addDatom(e, createdAt, tx.now); err != nil {
				return err
			}
		}
		current, err := tx.db.CurrentValues(tx.txn, e, updatedAt)
		if err != nil {
			return err
		}
		for _, cv := range current {
			if err := tx.retractDatom(e, updatedAt, cv); err != nil {
				return err
			}
		}
		if err := tx.addDatom(e, updatedAt, tx.now); err != nil {
			return err
		}
	}
	return nil
}

// validateValue checks a value against the attribute's declared type.
func validateValue(attr *schema.Attribute, v datalevin.Value) error {
	if attr == nil {
		return nil
	}
	vt := datalevin.TypeOf(v)
	want := attr.ValueType
	if want == datalevin.TypeNil {
		return nil
	}
	if want == datalevin.TypeTuple {
		t, ok := v.(datalevin.Tuple)
		if !ok {
			return datalevin.NewError(datalevin.CodeTransactValidation,
				fmt.Sprintf("Invalid data for attribute %s: expected tuple, got %v", attr.Ident, v),
				"attribute", attr.Ident)
		}
		if len(attr.TupleTypes) > 0 {
			if len(t) != len(attr.TupleTypes) {
				return datalevin.NewError(datalevin.CodeTransactValidation,
					fmt.Sprintf("Invalid data for attribute %s: expected %d components", attr.Ident, len(attr.TupleTypes)),
					"attribute", attr.Ident)
			}
			for i, comp := range t {
				if comp != nil && datalevin.TypeOf(comp) != attr.TupleTypes[i] {
					return datalevin.NewError(datalevin.CodeTransactValidation,
						fmt.Sprintf("Invalid data for attribute %s: component %d is not %s", attr.Ident, i, attr.TupleTypes[i]),
						"attribute", attr.Ident)
				}
			}
		}
		if attr.TupleType != datalevin.TypeNil {
			for i, comp := range t {
				if comp != nil && datalevin.TypeOf(comp) != attr.TupleType {
					return datalevin.NewError(datalevin.CodeTransactValidation,
						fmt.Sprintf("Invalid data for attribute %s: component %d is not %s", attr.Ident, i, attr.TupleType),
						"attribute", attr.Ident)
				}
			}
		}
		return nil
	}
	if vt == want {
		return nil
	}
	// Longs coerce to declared doubles.
	if want == datalevin.TypeDouble && vt == datalevin.TypeLong {
		return nil
	}
	if want == datalevin.TypeRef && vt == datalevin.TypeLong {
		return nil
	}
	return datalevin.NewError(datalevin.CodeTransactValidation,
		fmt.Sprintf("Invalid data for attribute %s: expected %s, got %s", attr.Ident, want, vt),
		"attribute", attr.Ident)
}
