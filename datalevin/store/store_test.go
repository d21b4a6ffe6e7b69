package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/kv"
	"github.com/rk-forks/datalevin/datalevin/schema"
)

func testSchema() []schema.Attribute {
	return []schema.Attribute{
		{Ident: ":name", ValueType: datalevin.TypeString, Index: true},
		{Ident: ":age", ValueType: datalevin.TypeLong, Index: true},
		{Ident: ":friend", ValueType: datalevin.TypeRef},
		{Ident: ":aka", ValueType: datalevin.TypeString, Cardinality: schema.Many},
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), Options{}, testSchema())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addAll(t *testing.T, db *DB, datoms ...datalevin.Datom) {
	t.Helper()
	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		for _, d := range datoms {
			if err := db.AddDatom(txn, d); err != nil {
				return err
			}
		}
		return nil
	}))
}

var (
	kwName   = datalevin.NewKeyword(":name")
	kwAge    = datalevin.NewKeyword(":age")
	kwFriend = datalevin.NewKeyword(":friend")
	kwAka    = datalevin.NewKeyword(":aka")
)

func TestAddAndIterate(t *testing.T) {
	db := openTestDB(t)
	tx := datalevin.Tx0 + 1
	addAll(t, db,
		datalevin.NewDatom(1, kwName, "Ivan", tx),
		datalevin.NewDatom(1, kwAge, int64(15), tx),
		datalevin.NewDatom(2, kwName, "Oleg", tx),
		datalevin.NewDatom(1, kwFriend, datalevin.EID(2), tx),
	)

	// EAVT by entity.
	datoms, err := db.Datoms(EAVT, int64(1))
	require.NoError(t, err)
	assert.Len(t, datoms, 3)
	for _, d := range datoms {
		assert.Equal(t, int64(1), d.E)
	}

	// EAVT by entity and attribute.
	datoms, err = db.Datoms(EAVT, int64(1), kwName)
	require.NoError(t, err)
	require.Len(t, datoms, 1)
	assert.Equal(t, "Ivan", datoms[0].V)

	// AEVT: every datom of an attribute.
	datoms, err = db.Datoms(AEVT, kwName)
	require.NoError(t, err)
	assert.Len(t, datoms, 2)

	// AVET point lookup.
	datoms, err = db.Datoms(AVET, kwName, "Oleg")
	require.NoError(t, err)
	require.Len(t, datoms, 1)
	assert.Equal(t, int64(2), datoms[0].E)

	// VAET reverse navigation.
	datoms, err = db.Datoms(VAET, datalevin.EID(2))
	require.NoError(t, err)
	require.Len(t, datoms, 1)
	assert.Equal(t, int64(1), datoms[0].E)
	assert.Equal(t, kwFriend.String(), datoms[0].A.String())
}

func TestIndexConsistency(t *testing.T) {
	db := openTestDB(t)
	tx := datalevin.Tx0 + 1
	addAll(t, db,
		datalevin.NewDatom(1, kwName, "Ivan", tx),
		datalevin.NewDatom(1, kwFriend, datalevin.EID(2), tx),
		datalevin.NewDatom(2, kwName, "Oleg", tx),
		datalevin.NewDatom(2, kwAka, "olegster", tx),
	)

	eavt, err := db.Datoms(EAVT)
	require.NoError(t, err)
	for _, d := range eavt {
		// Every EAVT datom appears in AEVT.
		matches, err := db.Datoms(AEVT, d.A, d.E, d.V)
		require.NoError(t, err)
		assert.Len(t, matches, 1, "AEVT missing %v", d)

		// And in VAET iff the attribute is a ref.
		if ref, ok := d.V.(datalevin.EID); ok && db.Schema().IsRef(d.A) {
			matches, err = db.Datoms(VAET, ref, d.A, d.E)
			require.NoError(t, err)
			assert.Len(t, matches, 1, "VAET missing %v", d)
		}
	}
}

func TestRetract(t *testing.T) {
	db := openTestDB(t)
	tx := datalevin.Tx0 + 1
	d := datalevin.NewDatom(1, kwName, "Ivan", tx)
	addAll(t, db, d)

	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		return db.RetractDatom(txn, d.Retraction())
	}))
	datoms, err := db.Datoms(EAVT, int64(1))
	require.NoError(t, err)
	assert.Empty(t, datoms)

	// Retracting an absent datom is a no-op.
	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		return db.RetractDatom(txn, d.Retraction())
	}))
}

func TestAddIdempotent(t *testing.T) {
	db := openTestDB(t)
	tx := datalevin.Tx0 + 1
	d := datalevin.NewDatom(1, kwName, "Ivan", tx)
	addAll(t, db, d, d)
	datoms, err := db.Datoms(EAVT, int64(1), kwName)
	require.NoError(t, err)
	assert.Len(t, datoms, 1)
}

func TestIndexRange(t *testing.T) {
	db := openTestDB(t)
	tx := datalevin.Tx0 + 1
	addAll(t, db,
		datalevin.NewDatom(1, kwAge, int64(10), tx),
		datalevin.NewDatom(2, kwAge, int64(20), tx),
		datalevin.NewDatom(3, kwAge, int64(30), tx),
		datalevin.NewDatom(4, kwAge, int64(40), tx),
	)
	var ages []int64
	err := db.View(func(txn *kv.Txn) error {
		return db.IndexRange(txn, kwAge, int64(15), int64(35), func(d datalevin.Datom) bool {
			ages = append(ages, d.V.(int64))
			return true
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30}, ages)

	// Open lower bound.
	ages = nil
	err = db.View(func(txn *kv.Txn) error {
		return db.IndexRange(txn, kwAge, nil, int64(20), func(d datalevin.Datom) bool {
			ages = append(ages, d.V.(int64))
			return true
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, ages)
}

func TestIndexRangeRequiresIndexedAttr(t *testing.T) {
	db := openTestDB(t)
	err := db.View(func(txn *kv.Txn) error {
		return db.IndexRange(txn, kwAka, "a", "z", func(datalevin.Datom) bool { return true })
	})
	require.Error(t, err)
	assert.Equal(t, "store/unindexed", datalevin.CodeOf(err))
}

func TestSeekDatoms(t *testing.T) {
	db := openTestDB(t)
	tx := datalevin.Tx0 + 1
	addAll(t, db,
		datalevin.NewDatom(1, kwName, "Ivan", tx),
		datalevin.NewDatom(2, kwName, "Oleg", tx),
		datalevin.NewDatom(3, kwName, "Petr", tx),
	)
	// Forward seek from entity 2 to the end of EAVT.
	var eids []int64
	err := db.View(func(txn *kv.Txn) error {
		return db.SeekDatoms(txn, EAVT, func(d datalevin.Datom) bool {
			eids = append(eids, d.E)
			return true
		}, int64(2))
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, eids)

	// Reverse seek: entities at or below 2, descending.
	eids = nil
	err = db.View(func(txn *kv.Txn) error {
		return db.RevSeekDatoms(txn, EAVT, func(d datalevin.Datom) bool {
			eids = append(eids, d.E)
			return true
		}, int64(2))
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, eids)
}

func TestGiantValuesInStore(t *testing.T) {
	db := openTestDB(t)
	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i % 251)
	}
	huge := string(big)
	tx := datalevin.Tx0 + 1
	addAll(t, db, datalevin.NewDatom(1, kwName, huge, tx))

	datoms, err := db.Datoms(EAVT, int64(1), kwName)
	require.NoError(t, err)
	require.Len(t, datoms, 1)
	assert.Equal(t, huge, datoms[0].V)

	// Point lookup through the hashed key also works.
	datoms, err = db.Datoms(AVET, kwName, huge)
	require.NoError(t, err)
	require.Len(t, datoms, 1)
	assert.Equal(t, int64(1), datoms[0].E)
}

func TestCountersPersist(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{}, testSchema())
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		return db.AdvanceCounters(txn, 42, datalevin.Tx0+7)
	}))
	require.NoError(t, db.Close())

	db, err = Open(dir, Options{}, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, int64(42), db.MaxEID())
	assert.Equal(t, datalevin.Tx0+7, db.MaxTx())
}

func TestEntity(t *testing.T) {
	db := openTestDB(t)
	tx := datalevin.Tx0 + 1
	addAll(t, db,
		datalevin.NewDatom(1, kwName, "Ivan", tx),
		datalevin.NewDatom(1, kwAka, "vanya", tx),
		datalevin.NewDatom(1, kwAka, "ivanych", tx),
	)
	var m map[datalevin.Keyword]datalevin.Value
	err := db.View(func(txn *kv.Txn) error {
		var ierr error
		m, ierr = db.Entity(txn, 1)
		return ierr
	})
	require.NoError(t, err)
	assert.Equal(t, "Ivan", m[datalevin.InternKeyword(":name")])
	akas, ok := m[datalevin.InternKeyword(":aka")].(datalevin.Tuple)
	require.True(t, ok, "cardinality-many values collect into a tuple")
	assert.Len(t, akas, 2)
}
