package transact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/schema"
	"github.com/rk-forks/datalevin/datalevin/store"
)

var (
	kwName   = datalevin.NewKeyword(":name")
	kwAge    = datalevin.NewKeyword(":age")
	kwWeight = datalevin.NewKeyword(":weight")
	kwFriend = datalevin.NewKeyword(":friend")
	kwA      = datalevin.NewKeyword(":a")
	kwB      = datalevin.NewKeyword(":b")
	kwAB     = datalevin.NewKeyword(":a+b")
	kwC      = datalevin.NewKeyword(":c")
	kwEmail  = datalevin.NewKeyword(":email")
)

func openDB(t *testing.T, opts store.Options, defs []schema.Attribute) *store.DB {
	t.Helper()
	db, err := store.Open(t.TempDir(), opts, defs)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func baseSchema() []schema.Attribute {
	return []schema.Attribute{
		{Ident: ":name", ValueType: datalevin.TypeString, Index: true},
		{Ident: ":age", ValueType: datalevin.TypeLong, Index: true},
		{Ident: ":weight", ValueType: datalevin.TypeLong},
		{Ident: ":friend", ValueType: datalevin.TypeRef},
		{Ident: ":email", ValueType: datalevin.TypeString, Unique: schema.UniqueIdentity},
	}
}

func add(e interface{}, a datalevin.Keyword, v interface{}) []interface{} {
	return []interface{}{datalevin.NewKeyword(":db/add"), e, a, v}
}

func item(vs ...interface{}) []interface{} { return vs }

func values(t *testing.T, db *store.DB, e int64, a datalevin.Keyword) []datalevin.Value {
	t.Helper()
	datoms, err := db.Datoms(store.EAVT, e, a)
	require.NoError(t, err)
	var out []datalevin.Value
	for _, d := range datoms {
		out = append(out, d.V)
	}
	return out
}

func TestSimpleAddAndReport(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	rep, err := Transact(db, []interface{}{
		add(int64(1), kwName, "Ivan"),
		nil, // nil items are skipped
		add(int64(1), kwAge, int64(15)),
	})
	require.NoError(t, err)
	assert.Len(t, rep.TxData, 2)
	assert.Equal(t, rep.DBBefore.MaxTx+1, rep.DBAfter.MaxTx)
	assert.Equal(t, rep.DBAfter.MaxTx, rep.Tempids[CurrentTxKey])
	assert.Equal(t, []datalevin.Value{"Ivan"}, values(t, db, 1, kwName))
}

func TestCardinalityOneReplaces(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{add(int64(1), kwAge, int64(15))})
	require.NoError(t, err)
	rep, err := Transact(db, []interface{}{add(int64(1), kwAge, int64(16))})
	require.NoError(t, err)
	assert.Equal(t, []datalevin.Value{int64(16)}, values(t, db, 1, kwAge))
	// Replacement produces a retraction and an addition.
	var added, retracted int
	for _, d := range rep.TxData {
		if d.Added {
			added++
		} else {
			retracted++
		}
	}
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, retracted)

	// Re-adding the same value is a no-op.
	rep, err = Transact(db, []interface{}{add(int64(1), kwAge, int64(16))})
	require.NoError(t, err)
	assert.Empty(t, rep.TxData)
}

func TestTempidsResolve(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	rep, err := Transact(db, []interface{}{
		add("alice", kwName, "Alice"),
		add("bob", kwName, "Bob"),
		add("alice", kwFriend, "bob"),
	})
	require.NoError(t, err)
	alice, bob := rep.Tempids["alice"], rep.Tempids["bob"]
	assert.NotZero(t, alice)
	assert.NotZero(t, bob)
	assert.NotEqual(t, alice, bob)
	assert.Equal(t, []datalevin.Value{datalevin.EID(bob)}, values(t, db, alice, kwFriend))
}

func TestNegativeTempids(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	rep, err := Transact(db, []interface{}{
		add(int64(-1), kwName, "Ivan"),
		add(int64(-2), kwName, "Oleg"),
		add(int64(-1), kwFriend, int64(-2)),
	})
	require.NoError(t, err)
	assert.Len(t, rep.Tempids, 3) // -1, -2, :db/current-tx
}

// S6: a tempid appearing only in value position fails.
func TestTempidOnlyAsValue(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{
		add(int64(-1), kwFriend, int64(-2)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tempids used only as value in transaction: (-2)")
	assert.Equal(t, datalevin.CodeTransactTempid, datalevin.CodeOf(err))
}

func TestMapEntities(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	rep, err := Transact(db, []interface{}{
		map[datalevin.Keyword]interface{}{
			kwName: "Ivan",
			kwAge:  int64(20),
			kwFriend: map[datalevin.Keyword]interface{}{
				kwName: "Oleg",
			},
		},
	})
	require.NoError(t, err)
	assert.Len(t, rep.TxData, 4)

	// The nested map became a sub-entity referenced by :friend.
	res, err := db.Datoms(store.AVET, kwName, "Ivan")
	require.NoError(t, err)
	require.Len(t, res, 1)
	friends := values(t, db, res[0].E, kwFriend)
	require.Len(t, friends, 1)
	oleg := int64(friends[0].(datalevin.EID))
	assert.Equal(t, []datalevin.Value{"Oleg"}, values(t, db, oleg, kwName))
}

func TestReverseRefs(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{add(int64(1), kwName, "Ivan")})
	require.NoError(t, err)
	// :_friend flips direction: entity 1 becomes the holder of :friend.
	rep, err := Transact(db, []interface{}{
		map[datalevin.Keyword]interface{}{
			kwName:                           "Oleg",
			datalevin.NewKeyword(":_friend"): int64(1),
		},
	})
	require.NoError(t, err)
	oleg := int64(0)
	for _, d := range rep.TxData {
		if d.A.String() == ":name" && d.V == "Oleg" {
			oleg = d.E
		}
	}
	require.NotZero(t, oleg)
	assert.Equal(t, []datalevin.Value{datalevin.EID(oleg)}, values(t, db, 1, kwFriend))
}

func TestLookupRefs(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{
		add("i", kwName, "Ivan"),
		add("i", kwEmail, "ivan@example.com"),
	})
	require.NoError(t, err)

	_, err = Transact(db, []interface{}{
		add(datalevin.Tuple{kwEmail, "ivan@example.com"}, kwAge, int64(30)),
	})
	require.NoError(t, err)
	res, err := db.Datoms(store.AVET, kwEmail, "ivan@example.com")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, []datalevin.Value{int64(30)}, values(t, db, res[0].E, kwAge))

	_, err = Transact(db, []interface{}{
		add(datalevin.Tuple{kwEmail, "nobody@example.com"}, kwAge, int64(1)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nothing found for entity id")
}

func TestUpsert(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	rep1, err := Transact(db, []interface{}{
		map[datalevin.Keyword]interface{}{kwEmail: "a@b.c", kwName: "Ann"},
	})
	require.NoError(t, err)
	rep2, err := Transact(db, []interface{}{
		map[datalevin.Keyword]interface{}{kwEmail: "a@b.c", kwAge: int64(33)},
	})
	require.NoError(t, err)

	var eid1, eid2 int64
	for _, v := range rep1.Tempids {
		if v != rep1.Tempids[CurrentTxKey] {
			eid1 = v
		}
	}
	for k, v := range rep2.Tempids {
		if k != CurrentTxKey {
			eid2 = v
		}
	}
	assert.Equal(t, eid1, eid2, "second tx should upsert onto the first entity")
	assert.Equal(t, []datalevin.Value{int64(33)}, values(t, db, eid1, kwAge))
}

func TestUniqueConstraint(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{
		add(int64(1), kwEmail, "a@b.c"),
	})
	require.NoError(t, err)
	_, err = Transact(db, []interface{}{
		add(int64(2), kwEmail, "a@b.c"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot add")
	assert.Contains(t, err.Error(), "because of unique constraint")
	assert.Equal(t, datalevin.CodeTransactUnique, datalevin.CodeOf(err))
}

// S4: compare-and-swap.
func TestCAS(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{add(int64(1), kwWeight, int64(200))})
	require.NoError(t, err)

	_, err = Transact(db, []interface{}{
		item(datalevin.NewKeyword(":db.fn/cas"), int64(1), kwWeight, int64(200), int64(300)),
	})
	require.NoError(t, err)
	assert.Equal(t, []datalevin.Value{int64(300)}, values(t, db, 1, kwWeight))

	_, err = Transact(db, []interface{}{
		item(datalevin.NewKeyword(":db.fn/cas"), int64(1), kwWeight, int64(200), int64(210)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1 :weight 300], expected 200")
	assert.Equal(t, datalevin.CodeTransactCAS, datalevin.CodeOf(err))
}

func TestCASRejectsTempid(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{
		item(datalevin.NewKeyword(":db.fn/cas"), "temp", kwWeight, nil, int64(1)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't use tempid in :db.fn/cas")
}

// S5: retractEntity removes outgoing and incoming datoms.
func TestRetractEntity(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{
		add(int64(1), kwName, "Ivan"),
		add(int64(2), kwName, "Oleg"),
		add(int64(1), kwFriend, int64(2)),
		add(int64(3), kwName, "Petr"),
	})
	require.NoError(t, err)

	rep, err := Transact(db, []interface{}{
		item(datalevin.NewKeyword(":db.fn/retractEntity"), int64(2)),
	})
	require.NoError(t, err)

	assert.Empty(t, values(t, db, 2, kwName))
	assert.Empty(t, values(t, db, 1, kwFriend), "incoming refs are retracted")
	// Adjacent entities are untouched and absent from tx-data.
	for _, d := range rep.TxData {
		assert.False(t, d.E == 3, "tx-data must not touch entity 3: %v", d)
		assert.False(t, d.Added)
	}
	assert.Equal(t, []datalevin.Value{"Petr"}, values(t, db, 3, kwName))
}

func TestRetractEntityComponents(t *testing.T) {
	defs := append(baseSchema(),
		schema.Attribute{Ident: ":part", ValueType: datalevin.TypeRef, IsComponent: true})
	db := openDB(t, store.Options{}, defs)
	kwPart := datalevin.NewKeyword(":part")
	_, err := Transact(db, []interface{}{
		add(int64(1), kwName, "whole"),
		add(int64(2), kwName, "part"),
		add(int64(1), kwPart, int64(2)),
	})
	require.NoError(t, err)
	_, err = Transact(db, []interface{}{
		item(datalevin.NewKeyword(":db.fn/retractEntity"), int64(1)),
	})
	require.NoError(t, err)
	assert.Empty(t, values(t, db, 2, kwName), "component entities retract recursively")
}

func TestRetractAttribute(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{
		add(int64(1), kwName, "Ivan"),
		add(int64(1), kwAge, int64(15)),
	})
	require.NoError(t, err)
	_, err = Transact(db, []interface{}{
		item(datalevin.NewKeyword(":db.fn/retractAttribute"), int64(1), kwAge),
	})
	require.NoError(t, err)
	assert.Empty(t, values(t, db, 1, kwAge))
	assert.Equal(t, []datalevin.Value{"Ivan"}, values(t, db, 1, kwName))
}

func tupleSchema() []schema.Attribute {
	return []schema.Attribute{
		{Ident: ":a", ValueType: datalevin.TypeString},
		{Ident: ":b", ValueType: datalevin.TypeString},
		{Ident: ":a+b", ValueType: datalevin.TypeTuple, TupleAttrs: []string{":a", ":b"}},
	}
}

// S2: composite tuple attributes follow their sources.
func TestTupleAttrMaintenance(t *testing.T) {
	db := openDB(t, store.Options{}, tupleSchema())
	_, err := Transact(db, []interface{}{add(int64(1), kwA, "a")})
	require.NoError(t, err)
	got := values(t, db, 1, kwAB)
	require.Len(t, got, 1)
	assert.True(t, datalevin.ValuesEqual(datalevin.Tuple{"a", nil}, got[0]))

	_, err = Transact(db, []interface{}{add(int64(1), kwB, "b")})
	require.NoError(t, err)
	got = values(t, db, 1, kwAB)
	require.Len(t, got, 1)
	assert.True(t, datalevin.ValuesEqual(datalevin.Tuple{"a", "b"}, got[0]))

	_, err = Transact(db, []interface{}{
		item(datalevin.NewKeyword(":db/retract"), int64(1), kwA, "a"),
	})
	require.NoError(t, err)
	got = values(t, db, 1, kwAB)
	require.Len(t, got, 1)
	assert.True(t, datalevin.ValuesEqual(datalevin.Tuple{nil, "b"}, got[0]))

	_, err = Transact(db, []interface{}{
		item(datalevin.NewKeyword(":db/retract"), int64(1), kwB, "b"),
	})
	require.NoError(t, err)
	assert.Empty(t, values(t, db, 1, kwAB), "tuple retracts when all sources are absent")
}

func TestDirectTupleWriteRejected(t *testing.T) {
	db := openDB(t, store.Options{}, tupleSchema())
	_, err := Transact(db, []interface{}{
		add(int64(1), kwAB, datalevin.Tuple{"x", "y"}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't modify tuple attrs directly")
	assert.Equal(t, datalevin.CodeTransactTuple, datalevin.CodeOf(err))

	// A redundant write equal to the computed value is dropped silently.
	_, err = Transact(db, []interface{}{
		add(int64(1), kwA, "a"),
		add(int64(1), kwB, "b"),
	})
	require.NoError(t, err)
	rep, err := Transact(db, []interface{}{
		add(int64(1), kwAB, datalevin.Tuple{"a", "b"}),
	})
	require.NoError(t, err)
	assert.Empty(t, rep.TxData)
}

func tupleUpsertSchema() []schema.Attribute {
	return []schema.Attribute{
		{Ident: ":a", ValueType: datalevin.TypeString},
		{Ident: ":b", ValueType: datalevin.TypeString},
		{Ident: ":c", ValueType: datalevin.TypeString},
		{Ident: ":a+b", ValueType: datalevin.TypeTuple, TupleAttrs: []string{":a", ":b"},
			Unique: schema.UniqueIdentity},
	}
}

// S3: upsert by tuple identity; a second upsert that changes an existing
// attribute conflicts.
func TestUpsertByTupleIdentity(t *testing.T) {
	db := openDB(t, store.Options{}, tupleUpsertSchema())
	_, err := Transact(db, []interface{}{
		map[datalevin.Keyword]interface{}{
			datalevin.NewKeyword(":db/id"): int64(1),
			kwA:                            "A", kwB: "B",
		},
	})
	require.NoError(t, err)

	rep, err := Transact(db, []interface{}{
		map[datalevin.Keyword]interface{}{
			kwAB: datalevin.Tuple{"A", "B"}, kwC: "C",
		},
	})
	require.NoError(t, err)
	for k, v := range rep.Tempids {
		if k != CurrentTxKey {
			assert.Equal(t, int64(1), v, "tuple upsert binds to the existing entity")
		}
	}
	assert.Equal(t, []datalevin.Value{"C"}, values(t, db, 1, kwC))

	_, err = Transact(db, []interface{}{
		map[datalevin.Keyword]interface{}{
			kwAB: datalevin.Tuple{"A", "B"}, kwC: "c",
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Conflicting upserts")
	assert.Equal(t, datalevin.CodeTransactUpsert, datalevin.CodeOf(err))
}

func TestUniqueOnTupleAttr(t *testing.T) {
	db := openDB(t, store.Options{}, tupleUpsertSchema())
	_, err := Transact(db, []interface{}{
		add(int64(1), kwA, "A"), add(int64(1), kwB, "B"),
	})
	require.NoError(t, err)
	_, err = Transact(db, []interface{}{
		add(int64(2), kwA, "A"), add(int64(2), kwB, "B"),
	})
	require.Error(t, err, "recomputed tuple collides with the unique constraint")
	assert.Contains(t, err.Error(), "unique constraint")
}

func TestValidation(t *testing.T) {
	db := openDB(t, store.Options{ValidateData: true}, baseSchema())
	_, err := Transact(db, []interface{}{add(int64(1), kwAge, "not a number")})
	require.Error(t, err)
	assert.Equal(t, datalevin.CodeTransactValidation, datalevin.CodeOf(err))

	_, err = Transact(db, []interface{}{add(int64(1), kwAge, int64(20))})
	require.NoError(t, err)
}

func TestAutoEntityTime(t *testing.T) {
	db := openDB(t, store.Options{AutoEntityTime: true}, baseSchema())
	_, err := Transact(db, []interface{}{add(int64(1), kwName, "Ivan")})
	require.NoError(t, err)
	created := values(t, db, 1, datalevin.NewKeyword(":db/created-at"))
	updated := values(t, db, 1, datalevin.NewKeyword(":db/updated-at"))
	require.Len(t, created, 1)
	require.Len(t, updated, 1)

	_, err = Transact(db, []interface{}{add(int64(1), kwAge, int64(5))})
	require.NoError(t, err)
	created2 := values(t, db, 1, datalevin.NewKeyword(":db/created-at"))
	assert.True(t, datalevin.ValuesEqual(created[0], created2[0]),
		"created-at set only on first appearance")
}

func TestTransactionFns(t *testing.T) {
	RegisterFn(":inc-age", func(tx *Tx, args []interface{}) ([]interface{}, error) {
		e := args[0].(int64)
		cur, err := tx.DB().CurrentValues(tx.Txn(), e, kwAge)
		if err != nil {
			return nil, err
		}
		var n int64
		if len(cur) > 0 {
			n = cur[0].(int64)
		}
		return []interface{}{add(e, kwAge, n+1)}, nil
	})
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{add(int64(1), kwAge, int64(41))})
	require.NoError(t, err)
	_, err = Transact(db, []interface{}{
		item(datalevin.NewKeyword(":inc-age"), int64(1)),
	})
	require.NoError(t, err)
	assert.Equal(t, []datalevin.Value{int64(42)}, values(t, db, 1, kwAge))

	_, err = Transact(db, []interface{}{
		item(datalevin.NewKeyword(":no-such-fn"), int64(1)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown transaction function")
}

func TestAbortLeavesNoPartialState(t *testing.T) {
	db := openDB(t, store.Options{}, baseSchema())
	_, err := Transact(db, []interface{}{
		add(int64(1), kwName, "Ivan"),
		add(int64(2), kwEmail, "x@y.z"),
		add(int64(3), kwEmail, "x@y.z"), // unique violation aborts everything
	})
	require.Error(t, err)
	assert.Empty(t, values(t, db, 1, kwName))
	assert.Empty(t, values(t, db, 2, kwEmail))
	assert.Equal(t, int64(0), db.MaxEID(), "counters are not advanced on abort")
}

func TestCardinalityMany(t *testing.T) {
	defs := append(baseSchema(),
		schema.Attribute{Ident: ":aka", ValueType: datalevin.TypeString, Cardinality: schema.Many})
	db := openDB(t, store.Options{}, defs)
	kwAka := datalevin.NewKeyword(":aka")
	_, err := Transact(db, []interface{}{
		map[datalevin.Keyword]interface{}{
			datalevin.NewKeyword(":db/id"): int64(1),
			kwAka:                          []interface{}{"vanya", "ivanych"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, values(t, db, 1, kwAka), 2)

	// Duplicate adds are idempotent.
	rep, err := Transact(db, []interface{}{add(int64(1), kwAka, "vanya")})
	require.NoError(t, err)
	assert.Empty(t, rep.TxData)
}
