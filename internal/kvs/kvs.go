// Package kvs defines the transactional key-value capability the access
// subsystem runs on, with in-memory and SQL-backed implementations.
//
// Transactions are optimistic: reads are tracked, writes are buffered, and
// Commit fails with ErrConflict when any key the transaction read or wrote
// was changed by another transaction that committed after this one began.
package kvs

import (
	"bytes"
	"context"
	"errors"
)

var (
	// ErrConflict is returned by Commit (and by Put on a visible key) when a
	// concurrent transaction changed data this transaction depends on. The
	// caller owns the retry.
	ErrConflict = errors.New("kvs: transaction conflict")

	// ErrTxReadonly is returned when writing through a read-only transaction.
	ErrTxReadonly = errors.New("kvs: transaction is read-only")

	// ErrTxFinished is returned when using a committed or cancelled transaction.
	ErrTxFinished = errors.New("kvs: transaction already finished")

	// ErrClosed is returned when beginning a transaction on a closed datastore.
	ErrClosed = errors.New("kvs: datastore closed")
)

// KeyValue is a single entry returned by Scan.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Transaction is a snapshot of the datastore plus a buffer of pending writes.
type Transaction interface {
	// Get returns the value stored under key, or nil when the key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Put inserts a new key. It fails with ErrConflict if the key already
	// exists in this transaction's view.
	Put(ctx context.Context, key, value []byte) error
	// Set inserts or replaces key.
	Set(ctx context.Context, key, value []byte) error
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key []byte) error
	// Scan returns entries whose key starts with prefix in key order. A
	// limit of zero or less returns every match.
	Scan(ctx context.Context, prefix []byte, limit int) ([]KeyValue, error)
	// Commit applies pending writes atomically.
	Commit(ctx context.Context) error
	// Cancel discards pending writes. Cancelling a finished transaction is a no-op.
	Cancel() error
	// Writable reports whether the transaction accepts writes.
	Writable() bool
}

// Datastore opens transactions.
type Datastore interface {
	Begin(ctx context.Context, writable bool) (Transaction, error)
	Close() error
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
