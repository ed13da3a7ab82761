package rawdb

import (
	"bytes"

	"github.com/cockroachdb/pebble"
)

// PebbleDB is a disk-backed Database implementation over cockroachdb/pebble,
// grounded on the pebble.Open/Get/Set/NewIter usage pattern seen across the
// corpus's genesis/state-rehash tooling. It implements the same Database
// interface MemoryDB does, so the trie and state packages never care which
// backend they're running against.
type PebbleDB struct {
	db *pebble.DB
}

// OpenPebbleDB opens (creating if absent) a pebble database at path.
func OpenPebbleDB(path string) (*PebbleDB, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	ret := make([]byte, len(v))
	copy(ret, v)
	return ret, nil
}

func (p *PebbleDB) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// NewBatch creates a new batch writer backed by a pebble.Batch.
func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{db: p.db, b: p.db.NewBatch()}
}

// NewIterator returns an iterator over all keys with the given prefix.
func (p *PebbleDB) NewIterator(prefix []byte) Iterator {
	upper := upperBound(prefix)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return &pebbleIterator{}
	}
	it.First()
	return &pebbleIterator{it: it, started: true}
}

// upperBound returns the smallest key greater than every key with the given
// prefix, or nil if prefix is all 0xff (an unbounded scan).
func upperBound(prefix []byte) []byte {
	ub := append([]byte(nil), prefix...)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}

type pebbleBatch struct {
	db   *pebble.DB
	b    *pebble.Batch
	size int
}

func (b *pebbleBatch) Put(key, value []byte) error {
	b.size += len(key) + len(value)
	return b.b.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	b.size += len(key)
	return b.b.Delete(key, nil)
}

func (b *pebbleBatch) ValueSize() int { return b.size }

func (b *pebbleBatch) Write() error {
	return b.b.Commit(pebble.Sync)
}

func (b *pebbleBatch) Reset() {
	b.b.Close()
	b.b = b.db.NewBatch()
	b.size = 0
}

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if it.it == nil {
		return false
	}
	if it.started {
		it.started = false
		return it.it.Valid()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte {
	if it.it == nil {
		return nil
	}
	return bytesOrNil(it.it.Key())
}

func (it *pebbleIterator) Value() []byte {
	if it.it == nil {
		return nil
	}
	return bytesOrNil(it.it.Value())
}

func (it *pebbleIterator) Release() {
	if it.it != nil {
		it.it.Close()
	}
}

func bytesOrNil(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}
