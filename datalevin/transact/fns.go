package transact

import (
	"fmt"
	"sync"

	"github.com/rk-forks/datalevin/datalevin"
)

// TxFn is a registered transaction function. It runs inside the write
// transaction and returns additional tx items to expand.
type TxFn func(tx *Tx, args []interface{}) ([]interface{}, error)

var fnRegistry sync.Map // map[string]TxFn

// RegisterFn installs a named transaction function under its ident.
// Arbitrary closures are never serialized; cross-process callers must refer
// to functions by name.
func RegisterFn(ident string, fn TxFn) {
	fnRegistry.Store(datalevin.NewKeyword(ident).String(), fn)
}

// lookupFn finds a registered transaction function.
func lookupFn(ident datalevin.Keyword) (TxFn, bool) {
	if v, ok := fnRegistry.Load(ident.String()); ok {
		return v.(TxFn), true
	}
	return nil, false
}

// callFn dispatches a transaction function reference: a registered ident,
// a database entity carrying :db/fn, or a Go TxFn value.
func (tx *Tx) callFn(f interface{}, args []interface{}, depth int) error {
	switch fn := f.(type) {
	case TxFn:
		items, err := fn(tx, args)
		if err != nil {
			return err
		}
		return tx.expandItems(items, depth+1)
	case func(*Tx, []interface{}) ([]interface{}, error):
		items, err := fn(tx, args)
		if err != nil {
			return err
		}
		return tx.expandItems(items, depth+1)
	case datalevin.Keyword:
		if reg, ok := lookupFn(fn); ok {
			items, err := reg(tx, args)
			if err != nil {
				return err
			}
			return tx.expandItems(items, depth+1)
		}
		// An entity holding :db/fn may name a registered function.
		eid, found, err := tx.db.FindByAV(tx.txn, kwIdent, fn)
		if err != nil {
			return err
		}
		if found {
			vals, err := tx.db.CurrentValues(tx.txn, eid, kwDBFn)
			if err != nil {
				return err
			}
			if len(vals) == 0 {
				return datalevin.NewError(datalevin.CodeTransactFn,
					fmt.Sprintf("Entity %s does not have :db/fn", fn))
			}
			name, ok := vals[0].(datalevin.Keyword)
			if !ok {
				if s, ok2 := vals[0].(string); ok2 {
					name = datalevin.NewKeyword(s)
					ok = true
				}
			}
			if ok {
				if reg, regOK := lookupFn(name); regOK {
					items, err := reg(tx, args)
					if err != nil {
						return err
					}
					return tx.expandItems(items, depth+1)
				}
			}
			return datalevin.NewError(datalevin.CodeTransactFn,
				fmt.Sprintf("Unknown transaction function %v", vals[0]))
		}
		return datalevin.NewError(datalevin.CodeTransactFn,
			fmt.Sprintf("Unknown transaction function %s", fn))
	}
	return datalevin.NewError(datalevin.CodeTransactFn,
		fmt.Sprintf("Unknown transaction function %v", f))
}

// earlyEID resolves an entity id during expansion, where tempids are not
// yet assigned and therefore not allowed.
func (tx *Tx) earlyEID(e interface{}) (int64, error) {
	switch id := e.(type) {
	case int:
		if id >= 0 {
			return int64(id), nil
		}
	case int64:
		if id >= 0 {
			return id, nil
		}
	case datalevin.EID:
		return int64(id), nil
	case datalevin.Keyword:
		eid, found, err := tx.db.FindByAV(tx.txn, kwIdent, id)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, datalevin.NewError(datalevin.CodeTransactLookupRef,
				fmt.Sprintf("Nothing found for entity id %s", id))
		}
		return eid, nil
	case datalevin.Tuple:
		r, err := tx.resolveLookupRef(id)
		if err != nil {
			return 0, err
		}
		return r.(int64), nil
	}
	return 0, datalevin.NewError(datalevin.CodeTransactSyntax,
		fmt.Sprintf("Expected number or lookup ref for entity id, got %v", e))
}
