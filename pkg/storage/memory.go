package storage

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// Memory is a map-backed Store for tests and devnets. Each Tx buffers its
// writes in an overlay that is folded into the shared map on Commit.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Begin() Tx {
	return &tx{kv: &memTx{
		m:       m,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}}
}

func (m *Memory) Close() error { return nil }

type memTx struct {
	m       *Memory
	writes  map[string][]byte
	deletes map[string]struct{}
}

func (t *memTx) get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if v, ok := t.writes[k]; ok {
		return v, true, nil
	}
	if _, ok := t.deletes[k]; ok {
		return nil, false, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	v, ok := t.m.data[k]
	return v, ok, nil
}

func (t *memTx) set(key, val []byte) error {
	k := string(key)
	t.writes[k] = bytes.Clone(val)
	delete(t.deletes, k)
	return nil
}

func (t *memTx) del(key []byte) error {
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *memTx) scan(prefix []byte) ([][]byte, error) {
	p := string(prefix)
	seen := make(map[string]struct{})

	t.m.mu.RLock()
	for k := range t.m.data {
		if strings.HasPrefix(k, p) {
			seen[k] = struct{}{}
		}
	}
	t.m.mu.RUnlock()

	for k := range t.writes {
		if strings.HasPrefix(k, p) {
			seen[k] = struct{}{}
		}
	}
	for k := range t.deletes {
		delete(seen, k)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return out, nil
}

func (t *memTx) commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for k := range t.deletes {
		delete(t.m.data, k)
	}
	for k, v := range t.writes {
		t.m.data[k] = v
	}
	return nil
}

func (t *memTx) discard() {
	t.writes = nil
	t.deletes = nil
}
