package kvs

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// Memory is a multi-version in-memory datastore. Each transaction reads from
// the snapshot taken when it began.
type Memory struct {
	mu      sync.Mutex
	version uint64
	data    map[string][]version
	active  map[uint64]int // snapshot version -> open transactions
	closed  bool
}

type version struct {
	at      uint64
	value   []byte
	deleted bool
}

// NewMemory returns an empty in-memory datastore.
func NewMemory() *Memory {
	return &Memory{
		data:   make(map[string][]version),
		active: make(map[uint64]int),
	}
}

// Begin starts a transaction on the current snapshot.
func (m *Memory) Begin(ctx context.Context, writable bool) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.active[m.version]++
	return &memTx{
		ds:       m,
		snapshot: m.version,
		writable: writable,
		reads:    make(map[string]struct{}),
		writes:   make(map[string]pending),
	}, nil
}

// Close releases all data. Open transactions fail on their next call.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = make(map[string][]version)
	return nil
}

// Raw returns the latest committed value of every live key in key order.
// It exposes exactly what the datastore holds, for inspection in tests and
// diagnostics.
func (m *Memory) Raw() []KeyValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KeyValue, 0, len(m.data))
	for k, versions := range m.data {
		latest := versions[len(versions)-1]
		if latest.deleted {
			continue
		}
		out = append(out, KeyValue{Key: []byte(k), Value: bytes.Clone(latest.value)})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

// readAt returns the value of key visible at snapshot. Callers hold m.mu.
func (m *Memory) readAt(key string, snapshot uint64) ([]byte, bool) {
	versions := m.data[key]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].at <= snapshot {
			if versions[i].deleted {
				return nil, false
			}
			return versions[i].value, true
		}
	}
	return nil, false
}

// changedSince reports whether key has a version newer than snapshot.
// Callers hold m.mu.
func (m *Memory) changedSince(key string, snapshot uint64) bool {
	versions := m.data[key]
	return len(versions) > 0 && versions[len(versions)-1].at > snapshot
}

// release drops a finished transaction's snapshot. Callers hold m.mu.
func (m *Memory) release(snapshot uint64) {
	if n := m.active[snapshot]; n <= 1 {
		delete(m.active, snapshot)
	} else {
		m.active[snapshot] = n - 1
	}
}

// prune discards versions of key no open snapshot can see. Callers hold m.mu.
func (m *Memory) prune(key string) {
	oldest := m.version
	for snap := range m.active {
		if snap < oldest {
			oldest = snap
		}
	}
	versions := m.data[key]
	keep := 0
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].at <= oldest {
			keep = i
			break
		}
	}
	versions = versions[keep:]
	if len(versions) == 1 && versions[0].deleted && versions[0].at <= oldest {
		delete(m.data, key)
		return
	}
	m.data[key] = versions
}

type pending struct {
	value   []byte
	deleted bool
}

type memTx struct {
	ds       *Memory
	snapshot uint64
	writable bool
	done     bool
	reads    map[string]struct{}
	writes   map[string]pending
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) check(ctx context.Context, write bool) error {
	if tx.done {
		return ErrTxFinished
	}
	if write && !tx.writable {
		return ErrTxReadonly
	}
	return ctx.Err()
}

func (tx *memTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := tx.check(ctx, false); err != nil {
		return nil, err
	}
	k := string(key)
	if p, ok := tx.writes[k]; ok {
		if p.deleted {
			return nil, nil
		}
		return bytes.Clone(p.value), nil
	}
	tx.reads[k] = struct{}{}

	tx.ds.mu.Lock()
	defer tx.ds.mu.Unlock()
	if tx.ds.closed {
		return nil, ErrClosed
	}
	v, ok := tx.ds.readAt(k, tx.snapshot)
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (tx *memTx) Put(ctx context.Context, key, value []byte) error {
	if err := tx.check(ctx, true); err != nil {
		return err
	}
	existing, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrConflict
	}
	tx.writes[string(key)] = pending{value: bytes.Clone(value)}
	return nil
}

func (tx *memTx) Set(ctx context.Context, key, value []byte) error {
	if err := tx.check(ctx, true); err != nil {
		return err
	}
	tx.writes[string(key)] = pending{value: bytes.Clone(value)}
	return nil
}

func (tx *memTx) Delete(ctx context.Context, key []byte) error {
	if err := tx.check(ctx, true); err != nil {
		return err
	}
	tx.writes[string(key)] = pending{deleted: true}
	return nil
}

func (tx *memTx) Scan(ctx context.Context, prefix []byte, limit int) ([]KeyValue, error) {
	if err := tx.check(ctx, false); err != nil {
		return nil, err
	}
	merged := make(map[string][]byte)

	tx.ds.mu.Lock()
	if tx.ds.closed {
		tx.ds.mu.Unlock()
		return nil, ErrClosed
	}
	for k := range tx.ds.data {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v, ok := tx.ds.readAt(k, tx.snapshot); ok {
			merged[k] = v
		}
	}
	tx.ds.mu.Unlock()

	for k, p := range tx.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if p.deleted {
			delete(merged, k)
		} else {
			merged[k] = p.value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]KeyValue, len(keys))
	for i, k := range keys {
		if _, own := tx.writes[k]; !own {
			tx.reads[k] = struct{}{}
		}
		out[i] = KeyValue{Key: []byte(k), Value: bytes.Clone(merged[k])}
	}
	return out, nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxFinished
	}
	if err := ctx.Err(); err != nil {
		tx.Cancel()
		return err
	}

	tx.ds.mu.Lock()
	defer tx.ds.mu.Unlock()
	tx.done = true
	tx.ds.release(tx.snapshot)
	if tx.ds.closed {
		return ErrClosed
	}
	if len(tx.writes) == 0 {
		return nil
	}

	for k := range tx.reads {
		if tx.ds.changedSince(k, tx.snapshot) {
			return ErrConflict
		}
	}
	for k := range tx.writes {
		if tx.ds.changedSince(k, tx.snapshot) {
			return ErrConflict
		}
	}

	tx.ds.version++
	at := tx.ds.version
	for k, p := range tx.writes {
		tx.ds.data[k] = append(tx.ds.data[k], version{at: at, value: p.value, deleted: p.deleted})
		tx.ds.prune(k)
	}
	return nil
}

func (tx *memTx) Cancel() error {
	if tx.done {
		return nil
	}
	tx.ds.mu.Lock()
	defer tx.ds.mu.Unlock()
	tx.done = true
	tx.ds.release(tx.snapshot)
	tx.writes = nil
	return nil
}
