// Package kv adapts BadgerDB to the narrow ordered-KV contract the datom
// store and the search engine are written against: named keyspaces (dbis),
// atomic batched write transactions, snapshot reads, ranged cursors and
// inverted lists. Keys within a dbi order by their encoded bytes, so value
// ordering is the key codec's responsibility.
package kv

import (
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/rk-forks/datalevin/datalevin"
)

// catalogPrefix is the reserved dbi prefix holding the name → prefix catalog.
const catalogPrefix byte = 0x00

// Options configures an environment.
type Options struct {
	Dir      string
	InMemory bool
	Logger   badger.Logger
}

// Env is one Badger-backed environment, the unit of opening and closing.
type Env struct {
	dir     string
	db      *badger.DB
	writeMu sync.Mutex

	mu         sync.RWMutex
	dbis       map[string]DBI
	nextPrefix byte
	closed     bool
}

// DBI names a keyspace inside an environment.
type DBI struct {
	Name   string
	prefix byte
}

// Valid reports whether the dbi was obtained from OpenDBI.
func (d DBI) Valid() bool { return d.prefix != 0 }

// openEnvs prevents a second open of the same path in one process.
var (
	openMu   sync.Mutex
	openEnvs = map[string]*Env{}
)

// OpenEnv opens (or creates) the environment at dir. Opening a path that is
// already open in this process is an error.
func OpenEnv(opts Options) (*Env, error) {
	openMu.Lock()
	defer openMu.Unlock()
	if _, ok := openEnvs[opts.Dir]; ok {
		return nil, datalevin.NewError(datalevin.CodeKVDupOpen,
			"Database already open: "+opts.Dir, "dir", opts.Dir)
	}

	bopts := badger.DefaultOptions(opts.Dir)
	bopts.Logger = opts.Logger
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
		bopts.Dir = ""
		bopts.ValueDir = ""
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, datalevin.WrapError("kv/open", err, "failed to open environment", "dir", opts.Dir)
	}

	env := &Env{
		dir:        opts.Dir,
		db:         db,
		dbis:       map[string]DBI{},
		nextPrefix: catalogPrefix + 1,
	}
	if err := env.loadCatalog(); err != nil {
		db.Close()
		return nil, err
	}
	openEnvs[opts.Dir] = env
	return env, nil
}

// Close releases the environment and unregisters its path.
func (e *Env) Close() error {
	openMu.Lock()
	delete(openEnvs, e.dir)
	openMu.Unlock()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.db.Close()
}

// Dir returns the filesystem path of the environment.
func (e *Env) Dir() string { return e.dir }

// OpenDBI returns the named dbi, allocating a prefix on first use.
func (e *Env) OpenDBI(name string) (DBI, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return DBI{}, datalevin.NewError(datalevin.CodeKVClosed, "Environment closed", "dir", e.dir)
	}
	if d, ok := e.dbis[name]; ok {
		return d, nil
	}
	if e.nextPrefix == 0xFF {
		return DBI{}, datalevin.NewError("kv/dbi-full", "No dbi prefixes left", "dir", e.dir)
	}
	d := DBI{Name: name, prefix: e.nextPrefix}
	e.nextPrefix++

	catKey := append([]byte{catalogPrefix}, name...)
	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(catKey, []byte{d.prefix})
	})
	if err != nil {
		return DBI{}, datalevin.WrapError("kv/catalog", err, "failed to persist dbi", "name", name)
	}
	e.dbis[name] = d
	return d, nil
}

// loadCatalog restores dbi assignments from a previous open.
func (e *Env) loadCatalog() error {
	return e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{catalogPrefix}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[1:])
			err := item.Value(func(v []byte) error {
				d := DBI{Name: name, prefix: v[0]}
				e.dbis[name] = d
				if d.prefix >= e.nextPrefix {
					e.nextPrefix = d.prefix + 1
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Update runs fn inside the single write transaction. Writers are serialized
// process-wide; the batch commits atomically or not at all.
func (e *Env) Update(fn func(*Txn) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.db.Update(func(btx *badger.Txn) error {
		return fn(&Txn{env: e, btx: btx, update: true})
	})
}

// View runs fn against a consistent read snapshot.
func (e *Env) View(fn func(*Txn) error) error {
	return e.db.View(func(btx *badger.Txn) error {
		return fn(&Txn{env: e, btx: btx})
	})
}

// keyFor prepends the dbi prefix.
func keyFor(d DBI, key []byte) []byte {
	out := make([]byte, 0, 1+len(key))
	out = append(out, d.prefix)
	return append(out, key...)
}

// listKeyFor builds the entry key of one list item: prefix, key length,
// key, item. The length field keeps distinct keys from running into each
// other's item spaces.
func listKeyFor(d DBI, key, item []byte) []byte {
	out := make([]byte, 0, 3+len(key)+len(item))
	out = append(out, d.prefix)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(key)))
	out = append(out, l[:]...)
	out = append(out, key...)
	return append(out, item...)
}
