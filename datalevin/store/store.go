// Package store maintains the datom indices over the kv substrate and
// serves sorted datom iteration for the transactor and the query engine.
package store

import (
	"encoding/binary"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/kv"
	"github.com/rk-forks/datalevin/datalevin/schema"
)

// Index names a logical datom ordering. EAVT reads the eav dbi; AEVT and
// AVET read the ave dbi; VAET reads the vae dbi. The eav and ave dbis hold
// every datom; vae holds datoms of ref attributes only. Value range scans
// (AVET, IndexRange) are restricted to indexed, unique or ref attributes.
type Index byte

const (
	EAVT Index = iota
	AEVT
	AVET
	VAET
)

func (i Index) String() string {
	switch i {
	case EAVT:
		return ":eavt"
	case AEVT:
		return ":aevt"
	case AVET:
		return ":avet"
	case VAET:
		return ":vaet"
	}
	return ":unknown"
}

// Options configures a database.
type Options struct {
	ValidateData   bool `msgpack:"validate"`
	AutoEntityTime bool `msgpack:"auto-entity-time"`
	InMemory       bool `msgpack:"-"`
}

// formatVersion is the on-disk layout version.
const formatVersion = 1

// meta is the persisted database header.
type meta struct {
	MaxEID  int64   `msgpack:"max-eid"`
	MaxTx   int64   `msgpack:"max-tx"`
	Format  int     `msgpack:"format"`
	Options Options `msgpack:"options"`
}

const metaKey = "meta"

// payload is the stored form of one datom, msgpack-encoded as the value of
// every index entry. V holds the full codec encoding, even when the index
// key carries a giant reference.
type payload struct {
	E  int64  `msgpack:"e"`
	A  string `msgpack:"a"`
	V  []byte `msgpack:"v"`
	Tx int64  `msgpack:"tx"`
}

// DB is one open database: the substrate environment, its dbis, the schema
// and the id counters.
type DB struct {
	env    *kv.Env
	eav    kv.DBI
	ave    kv.DBI
	vae    kv.DBI
	giants kv.DBI
	schDBI kv.DBI
	metaDB kv.DBI

	sch  *schema.Schema
	opts Options

	mu     sync.Mutex
	maxEID int64
	maxTx  int64
}

// Open opens (or creates) the database at dir, installing defs into the
// persisted schema.
func Open(dir string, opts Options, defs []schema.Attribute) (*DB, error) {
	env, err := kv.OpenEnv(kv.Options{Dir: dir, InMemory: opts.InMemory})
	if err != nil {
		return nil, err
	}
	db := &DB{env: env, opts: opts, maxEID: datalevin.E0 - 1, maxTx: datalevin.Tx0}
	for _, d := range []struct {
		name string
		dbi  *kv.DBI
	}{
		{"eav", &db.eav}, {"ave", &db.ave}, {"vae", &db.vae},
		{"giants", &db.giants}, {"schema", &db.schDBI}, {"meta", &db.metaDB},
	} {
		dbi, err := env.OpenDBI(d.name)
		if err != nil {
			env.Close()
			return nil, err
		}
		*d.dbi = dbi
	}
	if err := db.loadSchema(defs); err != nil {
		env.Close()
		return nil, err
	}
	if err := db.loadMeta(); err != nil {
		env.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the database and its environment.
func (db *DB) Close() error {
	return db.env.Close()
}

// Env exposes the substrate environment, shared with the search engine.
func (db *DB) Env() *kv.Env { return db.env }

// Schema returns the live schema.
func (db *DB) Schema() *schema.Schema { return db.sch }

// Opts returns the database options.
func (db *DB) Opts() Options { return db.opts }

// loadSchema merges persisted attributes with defs and persists the result.
func (db *DB) loadSchema(defs []schema.Attribute) error {
	var stored []schema.Attribute
	err := db.env.View(func(txn *kv.Txn) error {
		return txn.Iter(db.schDBI, kv.RangeAll(), func(_, val []byte) bool {
			var a schema.Attribute
			if msgpack.Unmarshal(val, &a) == nil {
				stored = append(stored, a)
			}
			return true
		})
	})
	if err != nil {
		return err
	}
	merged := stored
	seen := map[string]bool{}
	for _, a := range stored {
		seen[datalevin.NewKeyword(a.Ident).String()] = true
	}
	for _, a := range defs {
		if !seen[datalevin.NewKeyword(a.Ident).String()] {
			merged = append(merged, a)
		}
	}
	sch, err := schema.New(merged)
	if err != nil {
		return err
	}
	db.sch = sch
	return db.persistSchema()
}

// persistSchema writes every attribute to the schema dbi.
func (db *DB) persistSchema() error {
	return db.env.Update(func(txn *kv.Txn) error {
		for _, a := range db.sch.Attributes() {
			val, err := msgpack.Marshal(a)
			if err != nil {
				return err
			}
			if err := txn.Put(db.schDBI, []byte(a.Ident), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddAttribute installs a on the live schema and persists it.
func (db *DB) AddAttribute(a schema.Attribute) error {
	if err := db.sch.Add(a); err != nil {
		return err
	}
	return db.persistSchema()
}

func (db *DB) loadMeta() error {
	return db.env.View(func(txn *kv.Txn) error {
		val, ok, err := txn.Get(db.metaDB, []byte(metaKey))
		if err != nil || !ok {
			return err
		}
		var m meta
		if err := msgpack.Unmarshal(val, &m); err != nil {
			return err
		}
		db.maxEID, db.maxTx = m.MaxEID, m.MaxTx
		return nil
	})
}

// MaxEID returns the highest assigned entity id.
func (db *DB) MaxEID() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.maxEID
}

// MaxTx returns the highest committed transaction id.
func (db *DB) MaxTx() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.maxTx
}

// AdvanceCounters persists new counter values inside the commit txn and
// exposes them once the txn applies. Called by the transactor only.
func (db *DB) AdvanceCounters(txn *kv.Txn, maxEID, maxTx int64) error {
	m := meta{MaxEID: maxEID, MaxTx: maxTx, Format: formatVersion, Options: db.opts}
	val, err := msgpack.Marshal(&m)
	if err != nil {
		return err
	}
	if err := txn.Put(db.metaDB, []byte(metaKey), val); err != nil {
		return err
	}
	db.mu.Lock()
	db.maxEID, db.maxTx = maxEID, maxTx
	db.mu.Unlock()
	return nil
}

// Update runs fn inside the single write transaction.
func (db *DB) Update(fn func(*kv.Txn) error) error {
	return db.env.Update(fn)
}

// View runs fn against a read snapshot.
func (db *DB) View(fn func(*kv.Txn) error) error {
	return db.env.View(fn)
}

// aidOf returns the attribute id, or 0 for unknown attributes.
func (db *DB) aidOf(a datalevin.Keyword) uint32 {
	if attr := db.sch.Attr(a); attr != nil {
		return attr.AID
	}
	return 0
}

// ensureAttr auto-installs an undeclared attribute with default metadata,
// so schema-less use works the way it does in the original system. Runs
// inside the caller's write txn.
func (db *DB) ensureAttr(txn *kv.Txn, a datalevin.Keyword, v datalevin.Value) (*schema.Attribute, error) {
	if attr := db.sch.Attr(a); attr != nil {
		return attr, nil
	}
	if err := db.sch.Add(schema.Attribute{Ident: a.String(), ValueType: datalevin.TypeOf(v)}); err != nil {
		return nil, err
	}
	attr := db.sch.Attr(a)
	val, err := msgpack.Marshal(attr)
	if err != nil {
		return nil, err
	}
	if err := txn.Put(db.schDBI, []byte(attr.Ident), val); err != nil {
		return nil, err
	}
	return attr, nil
}

// keyEAV builds the eav index key.
func keyEAV(e int64, aid uint32, vkey []byte) []byte {
	out := make([]byte, 12, 12+len(vkey))
	binary.BigEndian.PutUint64(out[:8], uint64(e))
	binary.BigEndian.PutUint32(out[8:12], aid)
	return append(out, vkey...)
}

// keyAVE builds the ave index key.
func keyAVE(aid uint32, vkey []byte, e int64) []byte {
	out := make([]byte, 4, 12+len(vkey))
	binary.BigEndian.PutUint32(out[:4], aid)
	out = append(out, vkey...)
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], uint64(e))
	return append(out, eb[:]...)
}

// keyVAE builds the vae index key.
func keyVAE(v datalevin.EID, aid uint32, e int64) []byte {
	out := make([]byte, 20)
	binary.BigEndian.PutUint64(out[:8], uint64(v))
	binary.BigEndian.PutUint32(out[8:12], aid)
	binary.BigEndian.PutUint64(out[12:20], uint64(e))
	return out
}

// AddDatom inserts the datom into every applicable index. Re-adding an
// identical (e, a, v) is idempotent.
func (db *DB) AddDatom(txn *kv.Txn, d datalevin.Datom) error {
	attr, err := db.ensureAttr(txn, d.A, d.V)
	if err != nil {
		return err
	}
	vkey, giant, err := EncodeValueKey(nil, d.V)
	if err != nil {
		return err
	}
	if giant != nil {
		if h, ok := GiantHash(vkey); ok {
			var hb [8]byte
			binary.BigEndian.PutUint64(hb[:], h)
			if err := txn.Put(db.giants, hb[:], giant); err != nil {
				return err
			}
		}
	}
	pl := payload{E: d.E, A: d.A.String(), V: mustEncodeFull(d.V), Tx: d.Tx}
	val, err := msgpack.Marshal(&pl)
	if err != nil {
		return err
	}
	if err := txn.Put(db.eav, keyEAV(d.E, attr.AID, vkey), val); err != nil {
		return err
	}
	if err := txn.Put(db.ave, keyAVE(attr.AID, vkey, d.E), val); err != nil {
		return err
	}
	if ref, ok := d.V.(datalevin.EID); ok && attr.ValueType == datalevin.TypeRef {
		if err := txn.Put(db.vae, keyVAE(ref, attr.AID, d.E), val); err != nil {
			return err
		}
	}
	return nil
}

// RetractDatom removes the datom from every index; absent datoms are a no-op.
func (db *DB) RetractDatom(txn *kv.Txn, d datalevin.Datom) error {
	attr := db.sch.Attr(d.A)
	if attr == nil {
		return nil
	}
	vkey, _, err := EncodeValueKey(nil, d.V)
	if err != nil {
		return err
	}
	if err := txn.Del(db.eav, keyEAV(d.E, attr.AID, vkey)); err != nil {
		return err
	}
	if err := txn.Del(db.ave, keyAVE(attr.AID, vkey, d.E)); err != nil {
		return err
	}
	if ref, ok := d.V.(datalevin.EID); ok && attr.ValueType == datalevin.TypeRef {
		if err := txn.Del(db.vae, keyVAE(ref, attr.AID, d.E)); err != nil {
			return err
		}
	}
	return nil
}

func mustEncodeFull(v datalevin.Value) []byte {
	b, err := EncodeValue(nil, v)
	if err != nil {
		panic(err)
	}
	return b
}

// datomFromPayload rebuilds the user-facing datom.
func datomFromPayload(val []byte) (datalevin.Datom, error) {
	var pl payload
	if err := msgpack.Unmarshal(val, &pl); err != nil {
		return datalevin.Datom{}, err
	}
	v, _, err := DecodeValue(pl.V)
	if err != nil {
		return datalevin.Datom{}, err
	}
	return datalevin.Datom{E: pl.E, A: datalevin.InternKeyword(pl.A), V: v, Tx: pl.Tx, Added: true}, nil
}
