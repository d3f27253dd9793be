// Package store maps grants, access methods, users and records onto keys of
// a kvs.Transaction. It runs inside the caller's transaction and never
// commits; conflicts from the transaction are returned unchanged.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/faucetdb/accessd/internal/codec"
	"github.com/faucetdb/accessd/internal/kvs"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("store: not found")

func getRow(ctx context.Context, tx kvs.Transaction, key []byte, v any) error {
	data, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNotFound
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", printable(key), err)
	}
	return nil
}

func setRow(ctx context.Context, tx kvs.Transaction, key []byte, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", printable(key), err)
	}
	return tx.Set(ctx, key, data)
}

func putRow(ctx context.Context, tx kvs.Transaction, key []byte, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", printable(key), err)
	}
	return tx.Put(ctx, key, data)
}

func unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

// scanRows decodes every value under prefix with decode.
func scanRows(ctx context.Context, tx kvs.Transaction, prefix []byte, decode func(key, value []byte) error) error {
	entries, err := tx.Scan(ctx, prefix, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := decode(e.Key, e.Value); err != nil {
			return fmt.Errorf("decode %s: %w", printable(e.Key), err)
		}
	}
	return nil
}
