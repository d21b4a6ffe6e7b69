package query

import (
	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/kv"
	"github.com/rk-forks/datalevin/datalevin/store"
)

// Source yields datoms matching a component mask. Nil components are
// wildcards; haveV distinguishes "no value constraint" from a nil value.
type Source interface {
	Match(e *int64, a *datalevin.Keyword, v datalevin.Value, haveV bool, fn func(datalevin.Datom) bool) error
}

// StoreSource adapts a datom store to the query engine, choosing the best
// index for each component mask. Every scan observes a consistent snapshot.
type StoreSource struct {
	DB *store.DB
}

// Match picks an index by boundness: entity → EAVT, attribute+value on an
// indexed attribute → AVET, attribute → AEVT, anything else (a bound value
// alone included) → full EAVT scan with filtering.
func (s StoreSource) Match(e *int64, a *datalevin.Keyword, v datalevin.Value, haveV bool, fn func(datalevin.Datom) bool) error {
	if a != nil && haveV && s.DB.Schema().IsRef(*a) {
		if n, ok := v.(int64); ok {
			v = datalevin.EID(n)
		} else if n, ok := v.(int); ok {
			v = datalevin.EID(int64(n))
		}
	}
	return s.DB.View(func(txn *kv.Txn) error {
		filter := func(d datalevin.Datom) bool {
			if e != nil && d.E != *e {
				return true
			}
			if a != nil && d.A.String() != a.String() {
				return true
			}
			if haveV && !datalevin.ValuesEqual(d.V, v) {
				return true
			}
			return fn(d)
		}
		switch {
		case e != nil && a != nil && haveV:
			return s.DB.IterDatoms(txn, store.EAVT, fn, *e, *a, v)
		case e != nil && a != nil:
			return s.DB.IterDatoms(txn, store.EAVT, fn, *e, *a)
		case e != nil:
			return s.DB.IterDatoms(txn, store.EAVT, filter, *e)
		case a != nil && haveV:
			if s.DB.Schema().Indexed(*a) {
				return s.DB.IterDatoms(txn, store.AVET, fn, *a, v)
			}
			return s.DB.IterDatoms(txn, store.AEVT, filter, *a)
		case a != nil:
			return s.DB.IterDatoms(txn, store.AEVT, fn, *a)
		case haveV:
			return s.DB.IterDatoms(txn, store.EAVT, filter)
		default:
			return s.DB.IterDatoms(txn, store.EAVT, fn)
		}
	})
}

// DatomsSource serves a fixed set of datoms, used for extra query inputs
// and tests.
type DatomsSource []datalevin.Datom

func (ds DatomsSource) Match(e *int64, a *datalevin.Keyword, v datalevin.Value, haveV bool, fn func(datalevin.Datom) bool) error {
	for _, d := range ds {
		if e != nil && d.E != *e {
			continue
		}
		if a != nil && d.A.String() != a.String() {
			continue
		}
		if haveV && !datalevin.ValuesEqual(d.V, v) {
			continue
		}
		if !fn(d) {
			return nil
		}
	}
	return nil
}
