package transact

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rk-forks/datalevin/datalevin"
)

// tempidKey extracts the canonical string key of a tempid form: a string,
// a negative integer, or the :db/current-tx keyword. Returns false for
// anything else.
func tempidKey(e interface{}) (string, bool) {
	switch id := e.(type) {
	case string:
		if id == "datomic.tx" || id == "datalevin.tx" {
			return CurrentTxKey, true
		}
		return id, true
	case int:
		if id < 0 {
			return strconv.Itoa(id), true
		}
	case int64:
		if id < 0 {
			return strconv.FormatInt(id, 10), true
		}
	case datalevin.Keyword:
		if id.String() == CurrentTxKey {
			return CurrentTxKey, true
		}
	}
	return "", false
}

// freshTempid allocates an internal tempid for an anonymous map entity.
func (tx *Tx) freshTempid() string {
	id := fmt.Sprintf("datalevin.tmp.%d", len(tx.tempidSeen)+1)
	return id
}

// defineTempid registers a tempid seen in entity position.
func (tx *Tx) defineTempid(key string) {
	if key == CurrentTxKey {
		return
	}
	if !tx.tempidDef[key] {
		tx.tempidDef[key] = true
		tx.tempidSeen = append(tx.tempidSeen, key)
	}
}

// useTempid registers a tempid seen in value position.
func (tx *Tx) useTempid(key string) {
	if key == CurrentTxKey {
		return
	}
	if !tx.tempidUsed[key] {
		tx.tempidUsed[key] = true
	}
	if !tx.tempidDef[key] {
		// remember order in case it later turns out defined elsewhere
		found := false
		for _, s := range tx.tempidSeen {
			if s == key {
				found = true
				break
			}
		}
		if !found {
			tx.tempidSeen = append(tx.tempidSeen, key)
		}
	}
}

// resolveIDs resolves lookup refs and idents, binds tempids by upsert, and
// assigns fresh eids to the rest.
func (tx *Tx) resolveIDs() error {
	sch := tx.db.Schema()

	// Pass 1: lookup-refs and idents in entity and ref-value positions.
	for i := range tx.ops {
		o := &tx.ops[i]
		e, err := tx.resolveIDForm(o.e, o.add)
		if err != nil {
			return err
		}
		o.e = e
		if sch.IsRef(o.a) && o.v != nil {
			v, err := tx.resolveRefValue(o.v)
			if err != nil {
				return err
			}
			o.v = v
		}
	}

	// Pass 2: upserts. A tempid carrying a unique-identity value that
	// already exists binds to the existing entity.
	for i := range tx.ops {
		o := &tx.ops[i]
		if !o.add {
			continue
		}
		key, isTempid := tempidKey(o.e)
		if !isTempid || key == CurrentTxKey {
			continue
		}
		attr := sch.Attr(o.a)
		if attr == nil || !sch.IsUniqueIdentity(o.a) {
			continue
		}
		if _, vIsTempid := tempidKey(o.v); vIsTempid && sch.IsRef(o.a) {
			continue
		}
		eid, found, err := tx.db.FindByAV(tx.txn, o.a, o.v)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if bound, ok := tx.tempids[key]; ok && bound != eid {
			return datalevin.NewError(datalevin.CodeTransactUpsert,
				fmt.Sprintf("Conflicting upserts: %q resolves to both %d and %d", key, bound, eid),
				"tempid", key)
		}
		tx.tempids[key] = eid
		if attr.IsTupleAttr() {
			tx.tupleUpsert[eid] = true
		}
	}

	// Pass 3: reject tempids that only ever appear as values.
	var orphaned []string
	for key := range tx.tempidUsed {
		if !tx.tempidDef[key] {
			if _, bound := tx.tempids[key]; !bound {
				orphaned = append(orphaned, key)
			}
		}
	}
	if len(orphaned) > 0 {
		return datalevin.NewError(datalevin.CodeTransactTempid,
			fmt.Sprintf("Tempids used only as value in transaction: (%s)", strings.Join(orphaned, " ")),
			"tempids", orphaned)
	}

	// Pass 4: fresh eids for the remaining tempids, in appearance order.
	for _, key := range tx.tempidSeen {
		if _, ok := tx.tempids[key]; ok {
			continue
		}
		tx.maxEID++
		tx.tempids[key] = tx.maxEID
		tx.created[tx.maxEID] = true
	}
	return nil
}

// resolveIDForm resolves one entity-id form as far as possible before the
// apply phase: numbers pass through, lookup refs and idents resolve to eids,
// tempids register and stay symbolic.
func (tx *Tx) resolveIDForm(e interface{}, definer bool) (interface{}, error) {
	switch id := e.(type) {
	case int:
		return int64(id), nil
	case int64:
		if id < 0 {
			key, _ := tempidKey(id)
			if definer {
				tx.defineTempid(key)
			} else {
				tx.useTempid(key)
			}
			return id, nil
		}
		return id, nil
	case datalevin.EID:
		return int64(id), nil
	case string:
		key, _ := tempidKey(id)
		if key == CurrentTxKey {
			return tx.txID, nil
		}
		if definer {
			tx.defineTempid(key)
		} else {
			tx.useTempid(key)
		}
		return id, nil
	case datalevin.Keyword:
		if id.String() == CurrentTxKey {
			return tx.txID, nil
		}
		eid, found, err := tx.db.FindByAV(tx.txn, kwIdent, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, datalevin.NewError(datalevin.CodeTransactLookupRef,
				fmt.Sprintf("Nothing found for entity id %s", id))
		}
		return eid, nil
	case datalevin.Tuple:
		return tx.resolveLookupRef(id)
	}
	return nil, datalevin.NewError(datalevin.CodeTransactSyntax,
		fmt.Sprintf("Expected number or lookup ref for entity id, got %v", e))
}

// resolveLookupRef resolves [unique-attr value] to an eid.
func (tx *Tx) resolveLookupRef(ref datalevin.Tuple) (interface{}, error) {
	if len(ref) != 2 {
		return nil, datalevin.NewError(datalevin.CodeTransactLookupRef,
			fmt.Sprintf("Bad lookup ref %v", ref))
	}
	a, ok := ref[0].(datalevin.Keyword)
	if !ok {
		return nil, datalevin.NewError(datalevin.CodeTransactLookupRef,
			fmt.Sprintf("Bad lookup ref %v", ref))
	}
	if !tx.db.Schema().IsUnique(a) {
		return nil, datalevin.NewError(datalevin.CodeTransactLookupRef,
			fmt.Sprintf("Lookup ref attribute should be marked as unique: %v", ref))
	}
	eid, found, err := tx.db.FindByAV(tx.txn, a, ref[1])
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, datalevin.NewError(datalevin.CodeTransactLookupRef,
			fmt.Sprintf("Nothing found for entity id [%s %v]", a, ref[1]))
	}
	return eid, nil
}

// resolveRefValue resolves the value of a ref attribute: eids pass through,
// lookup refs and idents resolve, tempids register as used.
func (tx *Tx) resolveRefValue(v interface{}) (interface{}, error) {
	switch ref := v.(type) {
	case int:
		return datalevin.EID(ref), nil
	case int64:
		if ref < 0 {
			key, _ := tempidKey(ref)
			tx.useTempid(key)
			return v, nil
		}
		return datalevin.EID(ref), nil
	case datalevin.EID:
		return ref, nil
	case string:
		key, _ := tempidKey(ref)
		if key == CurrentTxKey {
			return datalevin.EID(tx.txID), nil
		}
		tx.useTempid(key)
		return v, nil
	case datalevin.Keyword:
		if ref.String() == CurrentTxKey {
			return datalevin.EID(tx.txID), nil
		}
		eid, found, err := tx.db.FindByAV(tx.txn, kwIdent, ref)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, datalevin.NewError(datalevin.CodeTransactLookupRef,
				fmt.Sprintf("Nothing found for entity id %s", ref))
		}
		return datalevin.EID(eid), nil
	case datalevin.Tuple:
		eid, err := tx.resolveLookupRef(ref)
		if err != nil {
			return nil, err
		}
		return datalevin.EID(eid.(int64)), nil
	}
	return v, nil
}

// resolvedEID finalizes an entity-id form after tempid assignment.
func (tx *Tx) resolvedEID(e interface{}) (int64, error) {
	switch id := e.(type) {
	case int64:
		if id < 0 {
			key, _ := tempidKey(id)
			return tx.boundTempid(key)
		}
		if id > tx.maxEID && id < datalevin.Tx0 {
			tx.maxEID = id
			tx.created[id] = true
		}
		return id, nil
	case string:
		key, _ := tempidKey(id)
		return tx.boundTempid(key)
	}
	return 0, datalevin.NewError(datalevin.CodeTransactSyntax,
		fmt.Sprintf("Expected number or lookup ref for entity id, got %v", e))
}

func (tx *Tx) boundTempid(key string) (int64, error) {
	if eid, ok := tx.tempids[key]; ok {
		return eid, nil
	}
	return 0, datalevin.NewError(datalevin.CodeTransactTempid,
		fmt.Sprintf("Tempids used only as value in transaction: (%s)", key),
		"tempid", key)
}

// resolveValue finalizes a value: tempid references of ref attributes turn
// into the assigned eids.
func (tx *Tx) resolveValue(a datalevin.Keyword, v interface{}) (datalevin.Value, error) {
	if !tx.db.Schema().IsRef(a) {
		return v, nil
	}
	switch ref := v.(type) {
	case int64:
		if ref < 0 {
			key, _ := tempidKey(ref)
			eid, err := tx.boundTempid(key)
			if err != nil {
				return nil, err
			}
			return datalevin.EID(eid), nil
		}
		return datalevin.EID(ref), nil
	case string:
		key, _ := tempidKey(ref)
		eid, err := tx.boundTempid(key)
		if err != nil {
			return nil, err
		}
		return datalevin.EID(eid), nil
	}
	return v, nil
}
