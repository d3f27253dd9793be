package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/accessd/internal/kvs"
)

// DefaultAttempts bounds Retry when callers have no better number.
const DefaultAttempts = 3

// Transact runs fn in a transaction on ds and commits it once fn returns
// nil. On any other exit, including a panic in fn, the transaction is
// cancelled.
func Transact(ctx context.Context, ds kvs.Datastore, writable bool, fn func(tx kvs.Transaction) error) error {
	tx, err := ds.Begin(ctx, writable)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	done := false
	defer func() {
		if !done {
			tx.Cancel()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	done = true
	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, kvs.ErrConflict) {
			return err
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Retry calls fn until it returns something other than kvs.ErrConflict,
// at most attempts times, backing off between attempts.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		err = fn()
		if !errors.Is(err, kvs.ErrConflict) {
			return err
		}
	}
	return err
}
