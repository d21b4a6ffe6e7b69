package store

import (
	"encoding/binary"

	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/kv"
	"github.com/rk-forks/datalevin/datalevin/schema"
)

// Components select a prefix of an index ordering:
//
//	EAVT: e, a, v
//	AEVT: a, e, v
//	AVET: a, v, e
//	VAET: v, a, e
//
// e components are int64, a components are Keyword, v components are values.
// A missing component leaves the rest of the ordering unconstrained.

// scanPlan is a resolved iteration: the dbi, the byte range, and a residual
// filter for components the key prefix cannot express.
type scanPlan struct {
	dbi    kv.DBI
	opts   kv.IterOptions
	filter func(datalevin.Datom) bool
	empty  bool
}

// IterDatoms iterates datoms of the chosen index in order, starting at the
// component prefix. fn returns false to stop.
func (db *DB) IterDatoms(txn *kv.Txn, index Index, fn func(datalevin.Datom) bool, comps ...datalevin.Value) error {
	plan, err := db.plan(index, false, comps...)
	if err != nil {
		return err
	}
	return db.runPlan(txn, plan, fn)
}

// Datoms collects the matching datoms of an index into a slice, opening its
// own read snapshot.
func (db *DB) Datoms(index Index, comps ...datalevin.Value) ([]datalevin.Datom, error) {
	var out []datalevin.Datom
	err := db.env.View(func(txn *kv.Txn) error {
		return db.IterDatoms(txn, index, func(d datalevin.Datom) bool {
			out = append(out, d)
			return true
		}, comps...)
	})
	return out, err
}

// SeekDatoms iterates from the component prefix to the end of the index,
// without restricting to the prefix.
func (db *DB) SeekDatoms(txn *kv.Txn, index Index, fn func(datalevin.Datom) bool, comps ...datalevin.Value) error {
	plan, err := db.plan(index, true, comps...)
	if err != nil {
		return err
	}
	plan.opts.End = nil
	plan.filter = nil
	return db.runPlan(txn, plan, fn)
}

// RevSeekDatoms iterates backwards from the component prefix to the start
// of the index.
func (db *DB) RevSeekDatoms(txn *kv.Txn, index Index, fn func(datalevin.Datom) bool, comps ...datalevin.Value) error {
	plan, err := db.plan(index, true, comps...)
	if err != nil {
		return err
	}
	end := plan.opts.Start
	if len(comps) > 0 && plan.opts.End != nil {
		// Seek starts at the end of the component prefix when going back.
		end = plan.opts.End
	}
	plan.opts = kv.IterOptions{End: end, IncludeStart: true, IncludeEnd: true, Reverse: true}
	plan.filter = nil
	return db.runPlan(txn, plan, fn)
}

// IndexRange scans AVET for attribute a over values in [lo, hi]. A nil lo or
// hi leaves that side open.
func (db *DB) IndexRange(txn *kv.Txn, a datalevin.Keyword, lo, hi datalevin.Value, fn func(datalevin.Datom) bool) error {
	attr := db.sch.Attr(a)
	if attr == nil {
		return nil
	}
	if !db.sch.Indexed(a) {
		return datalevin.NewError("store/unindexed", "Attribute is not indexed: "+a.String(), "attribute", a.String())
	}
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, attr.AID)
	opts := kv.PrefixRange(prefix)
	if lo != nil {
		vkey, _, err := EncodeValueKey(nil, lo)
		if err != nil {
			return err
		}
		opts.Start = append(append([]byte{}, prefix...), vkey...)
		opts.IncludeStart = true
	}
	return txn.Iter(db.ave, opts, func(_, val []byte) bool {
		d, err := datomFromPayload(val)
		if err != nil {
			return true
		}
		if lo != nil && datalevin.CompareValues(d.V, lo) < 0 {
			return true
		}
		if hi != nil && datalevin.CompareValues(d.V, hi) > 0 {
			return false
		}
		return fn(d)
	})
}

// runPlan drives a scan plan, decoding payloads and applying the residual
// filter.
func (db *DB) runPlan(txn *kv.Txn, plan scanPlan, fn func(datalevin.Datom) bool) error {
	if plan.empty {
		return nil
	}
	return txn.Iter(plan.dbi, plan.opts, func(_, val []byte) bool {
		d, err := datomFromPayload(val)
		if err != nil {
			return true
		}
		if plan.filter != nil && !plan.filter(d) {
			return true
		}
		return fn(d)
	})
}

// plan resolves an index and components into a byte range plus a filter.
func (db *DB) plan(index Index, seek bool, comps ...datalevin.Value) (scanPlan, error) {
	var (
		e     *int64
		a     *datalevin.Keyword
		v     datalevin.Value
		haveV bool
	)
	assign := func(slot int, c datalevin.Value, order string) {
		switch order[slot] {
		case 'e':
			if n, ok := toEID(c); ok {
				e = &n
			}
		case 'a':
			if k, ok := c.(datalevin.Keyword); ok {
				a = &k
			}
		case 'v':
			v = c
			haveV = true
		}
	}
	var order string
	switch index {
	case EAVT:
		order = "eav"
	case AEVT:
		order = "aev"
	case AVET:
		order = "ave"
	case VAET:
		order = "vae"
	}
	for i, c := range comps {
		if i >= 3 || c == nil {
			break
		}
		assign(i, c, order)
	}

	var aid uint32
	if a != nil {
		attr := db.sch.Attr(*a)
		if attr == nil {
			return scanPlan{empty: true}, nil
		}
		aid = attr.AID
		if index == AVET && !db.sch.Indexed(*a) && !seek {
			return scanPlan{}, datalevin.NewError("store/unindexed",
				"Attribute is not indexed: "+a.String(), "attribute", a.String())
		}
	}

	plan := scanPlan{}
	var prefix []byte
	switch index {
	case EAVT:
		plan.dbi = db.eav
		if e != nil {
			prefix = putU64(prefix, uint64(*e))
			if a != nil {
				prefix = putU32(prefix, aid)
				if haveV {
					vkey, _, err := EncodeValueKey(nil, v)
					if err != nil {
						return plan, err
					}
					prefix = append(prefix, vkey...)
					wantV := v
					plan.filter = func(d datalevin.Datom) bool {
						return datalevin.ValuesEqual(d.V, wantV)
					}
				}
			}
		}
	case AEVT:
		plan.dbi = db.ave
		if a != nil {
			prefix = putU32(prefix, aid)
		}
		// The physical layout is a-v-e, so e and v constraints filter rows.
		wantE, wantV, wantVv := e, haveV, v
		if wantE != nil || wantV {
			plan.filter = func(d datalevin.Datom) bool {
				if wantE != nil && d.E != *wantE {
					return false
				}
				if wantV && !datalevin.ValuesEqual(d.V, wantVv) {
					return false
				}
				return true
			}
		}
	case AVET:
		plan.dbi = db.ave
		if a != nil {
			prefix = putU32(prefix, aid)
			if haveV {
				vkey, _, err := EncodeValueKey(nil, v)
				if err != nil {
					return plan, err
				}
				prefix = append(prefix, vkey...)
				if e != nil {
					prefix = putU64(prefix, uint64(*e))
				}
				// Guard against encodings that extend the prefix.
				wantV, wantE := v, e
				plan.filter = func(d datalevin.Datom) bool {
					if !datalevin.ValuesEqual(d.V, wantV) {
						return false
					}
					return wantE == nil || d.E == *wantE
				}
			}
		}
	case VAET:
		plan.dbi = db.vae
		if haveV {
			ref, ok := v.(datalevin.EID)
			if !ok {
				if n, ok2 := toEID(v); ok2 {
					ref = datalevin.EID(n)
				} else {
					return scanPlan{empty: true}, nil
				}
			}
			prefix = putU64(prefix, uint64(ref))
			if a != nil {
				prefix = putU32(prefix, aid)
				if e != nil {
					prefix = putU64(prefix, uint64(*e))
				}
			}
		}
	}
	if len(prefix) == 0 {
		plan.opts = kv.RangeAll()
	} else {
		plan.opts = kv.PrefixRange(prefix)
	}
	return plan, nil
}

func toEID(v datalevin.Value) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case datalevin.EID:
		return int64(n), true
	}
	return 0, false
}

func putU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func putU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// CurrentValues returns the present values of (e, a).
func (db *DB) CurrentValues(txn *kv.Txn, e int64, a datalevin.Keyword) ([]datalevin.Value, error) {
	var out []datalevin.Value
	err := db.IterDatoms(txn, EAVT, func(d datalevin.Datom) bool {
		out = append(out, d.V)
		return true
	}, e, a)
	return out, err
}

// FindByAV locates an entity holding value v of attribute a.
func (db *DB) FindByAV(txn *kv.Txn, a datalevin.Keyword, v datalevin.Value) (int64, bool, error) {
	var (
		eid   int64
		found bool
	)
	err := db.IterDatoms(txn, AVET, func(d datalevin.Datom) bool {
		eid, found = d.E, true
		return false
	}, a, v)
	if err != nil {
		return 0, false, err
	}
	return eid, found, nil
}

// Entity returns the attribute → value map of an entity. Cardinality-many
// attributes collect into a Tuple.
func (db *DB) Entity(txn *kv.Txn, e int64) (map[datalevin.Keyword]datalevin.Value, error) {
	out := map[datalevin.Keyword]datalevin.Value{}
	err := db.IterDatoms(txn, EAVT, func(d datalevin.Datom) bool {
		if db.sch.CardinalityOf(d.A) == schema.Many {
			if prev, ok := out[d.A]; ok {
				if t, ok := prev.(datalevin.Tuple); ok {
					out[d.A] = append(t, d.V)
				} else {
					out[d.A] = datalevin.Tuple{prev, d.V}
				}
				return true
			}
		}
		out[d.A] = d.V
		return true
	}, e)
	return out, err
}

// Stats summarizes the database for diagnostics.
type Stats struct {
	Datoms int64
	Refs   int64
	MaxEID int64
	MaxTx  int64
}

// CollectStats counts index entries.
func (db *DB) CollectStats() (Stats, error) {
	s := Stats{MaxEID: db.MaxEID(), MaxTx: db.MaxTx()}
	err := db.env.View(func(txn *kv.Txn) error {
		if err := txn.Iter(db.eav, kv.RangeAll(), func(_, _ []byte) bool {
			s.Datoms++
			return true
		}); err != nil {
			return err
		}
		return txn.Iter(db.vae, kv.RangeAll(), func(_, _ []byte) bool {
			s.Refs++
			return true
		})
	})
	return s, err
}
