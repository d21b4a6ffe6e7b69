package kv

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"
)

// Txn is one substrate transaction. Write operations are only legal inside
// Env.Update; reads work in both Update and View. Byte slices passed to
// iteration callbacks are only valid for the duration of the callback.
type Txn struct {
	env    *Env
	btx    *badger.Txn
	update bool
}

// ErrReadOnly is returned for writes attempted inside a View.
var ErrReadOnly = badger.ErrReadOnlyTxn

// Put stores key → val in the dbi.
func (t *Txn) Put(d DBI, key, val []byte) error {
	if !t.update {
		return ErrReadOnly
	}
	return t.btx.Set(keyFor(d, key), val)
}

// Del removes a key; deleting an absent key is a no-op.
func (t *Txn) Del(d DBI, key []byte) error {
	if !t.update {
		return ErrReadOnly
	}
	err := t.btx.Delete(keyFor(d, key))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	return err
}

// Get copies the value for key, reporting presence.
func (t *Txn) Get(d DBI, key []byte) ([]byte, bool, error) {
	item, err := t.btx.Get(keyFor(d, key))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// PutListItem adds item to the sorted list stored under key.
func (t *Txn) PutListItem(d DBI, key, item []byte) error {
	if !t.update {
		return ErrReadOnly
	}
	return t.btx.Set(listKeyFor(d, key, item), nil)
}

// DelListItems removes specific items from the list under key.
func (t *Txn) DelListItems(d DBI, key []byte, items ...[]byte) error {
	if !t.update {
		return ErrReadOnly
	}
	for _, item := range items {
		err := t.btx.Delete(listKeyFor(d, key, item))
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}
	return nil
}

// DelList removes the whole list under key.
func (t *Txn) DelList(d DBI, key []byte) error {
	if !t.update {
		return ErrReadOnly
	}
	prefix := listKeyFor(d, key, nil)
	var doomed [][]byte
	it := t.btx.NewIterator(badger.IteratorOptions{Prefix: prefix})
	for it.Rewind(); it.Valid(); it.Next() {
		doomed = append(doomed, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range doomed {
		if err := t.btx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// InList reports whether item is in the list under key.
func (t *Txn) InList(d DBI, key, item []byte) (bool, error) {
	_, err := t.btx.Get(listKeyFor(d, key, item))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListCount counts the items in the list under key.
func (t *Txn) ListCount(d DBI, key []byte) (int, error) {
	prefix := listKeyFor(d, key, nil)
	n := 0
	it := t.btx.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}

// ListIter visits the items of the list under key in sorted order. The
// callback returns false to stop early; item bytes are only valid during
// the call.
func (t *Txn) ListIter(d DBI, key []byte, fn func(item []byte) bool) error {
	prefix := listKeyFor(d, key, nil)
	it := t.btx.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item().Key()[len(prefix):]
		if !fn(item) {
			return nil
		}
	}
	return nil
}

// IterOptions bounds a ranged cursor. Nil Start or End leave that side
// unbounded; the Include flags select open or closed endpoints.
type IterOptions struct {
	Start        []byte
	End          []byte
	IncludeStart bool
	IncludeEnd   bool
	Reverse      bool
}

// RangeAll iterates the whole dbi in key order.
func RangeAll() IterOptions {
	return IterOptions{IncludeStart: true, IncludeEnd: true}
}

// RangeAllBack iterates the whole dbi in reverse key order.
func RangeAllBack() IterOptions {
	return IterOptions{IncludeStart: true, IncludeEnd: true, Reverse: true}
}

// ClosedRange iterates [start, end].
func ClosedRange(start, end []byte) IterOptions {
	return IterOptions{Start: start, End: end, IncludeStart: true, IncludeEnd: true}
}

// PrefixRange iterates all keys beginning with prefix.
func PrefixRange(prefix []byte) IterOptions {
	return IterOptions{Start: prefix, End: prefixEnd(prefix), IncludeStart: true, IncludeEnd: false}
}

// prefixEnd is the lowest key greater than every key with the prefix, or nil
// when the prefix is all 0xFF.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Iter runs a ranged cursor over the dbi. Key and value slices passed to fn
// are owned by the cursor; fn returns false to stop.
func (t *Txn) Iter(d DBI, opts IterOptions, fn func(key, val []byte) bool) error {
	bopts := badger.DefaultIteratorOptions
	bopts.Prefix = []byte{d.prefix}
	bopts.Reverse = opts.Reverse
	it := t.btx.NewIterator(bopts)
	defer it.Close()

	lo := keyFor(d, opts.Start)
	hi := keyFor(d, opts.End)

	if !opts.Reverse {
		if opts.Start != nil {
			it.Seek(lo)
			if !opts.IncludeStart {
				for it.Valid() && bytes.Equal(it.Item().Key(), lo) {
					it.Next()
				}
			}
		} else {
			it.Rewind()
		}
		for ; it.Valid(); it.Next() {
			k := it.Item().Key()
			if opts.End != nil {
				c := bytes.Compare(k, hi)
				if c > 0 || (c == 0 && !opts.IncludeEnd) {
					break
				}
			}
			stop := false
			err := it.Item().Value(func(v []byte) error {
				if !fn(k[1:], v) {
					stop = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	}

	// Reverse: seek to the upper bound, walk down to the lower bound.
	if opts.End != nil {
		it.Seek(hi)
		if !opts.IncludeEnd {
			for it.Valid() && bytes.Equal(it.Item().Key(), hi) {
				it.Next()
			}
		} else {
			// Badger's reverse Seek lands on the greatest key <= hi only
			// when hi exists; move past larger keys explicitly.
			for it.Valid() && bytes.Compare(it.Item().Key(), hi) > 0 {
				it.Next()
			}
		}
	} else {
		// A reverse Rewind would start at the store's global maximum, which
		// may lie outside this dbi. Seek to just past the dbi instead.
		it.Seek([]byte{d.prefix + 1})
	}
	for ; it.Valid(); it.Next() {
		k := it.Item().Key()
		if opts.Start != nil {
			c := bytes.Compare(k, lo)
			if c < 0 || (c == 0 && !opts.IncludeStart) {
				break
			}
		}
		stop := false
		err := it.Item().Value(func(v []byte) error {
			if !fn(k[1:], v) {
				stop = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}
