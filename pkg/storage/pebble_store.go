package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the durable Store. Each Tx is an indexed batch, so reads see
// the transaction's own writes; Commit applies the batch with pebble.Sync.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Begin() Tx {
	return &tx{kv: &pebbleTx{b: s.db.NewIndexedBatch()}}
}

type pebbleTx struct {
	b *pebble.Batch
}

func (t *pebbleTx) get(key []byte) ([]byte, bool, error) {
	val, closer, err := t.b.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	return bytes.Clone(val), true, nil
}

func (t *pebbleTx) set(key, val []byte) error {
	return t.b.Set(key, val, nil)
}

func (t *pebbleTx) del(key []byte) error {
	return t.b.Delete(key, nil)
}

func (t *pebbleTx) scan(prefix []byte) ([][]byte, error) {
	iter, err := t.b.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, bytes.Clone(iter.Key()))
	}
	return keys, iter.Error()
}

func (t *pebbleTx) commit() error {
	defer t.b.Close()
	if err := t.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	return nil
}

func (t *pebbleTx) discard() {
	_ = t.b.Close()
}
