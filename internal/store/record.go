package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

// errRecordLevel is returned for record operations outside a database.
var errRecordLevel = errors.New("records live at database level")

// PutRecord stores a record, replacing any record with the same id.
func PutRecord(ctx context.Context, tx kvs.Transaction, level model.Level, rec *model.Record) error {
	if level.Kind != model.LevelDatabase {
		return errRecordLevel
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	if err := setRow(ctx, tx, recordKey(level, rec.ID), fields); err != nil {
		if errors.Is(err, kvs.ErrConflict) {
			return err
		}
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// CreateRecord inserts a record that must not exist yet.
func CreateRecord(ctx context.Context, tx kvs.Transaction, level model.Level, rec *model.Record) error {
	if level.Kind != model.LevelDatabase {
		return errRecordLevel
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return putRow(ctx, tx, recordKey(level, rec.ID), fields)
}

// ClaimIdent reserves value of field in table for the record id, so that a
// concurrent claim of the same value fails with kvs.ErrConflict at commit.
// It reports false when a stored record already holds the value.
func ClaimIdent(ctx context.Context, tx kvs.Transaction, level model.Level, table, field, value string, id model.RecordID) (bool, error) {
	if level.Kind != model.LevelDatabase {
		return false, errRecordLevel
	}
	key := identKey(level, table, field, value)
	var holder string
	err := getRow(ctx, tx, key, &holder)
	switch {
	case errors.Is(err, ErrNotFound):
		return true, putRow(ctx, tx, key, id.Key)
	case err != nil:
		return false, err
	}
	_, err = GetRecord(ctx, tx, level, model.RecordID{Table: table, Key: holder})
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}
	// The holder was removed; take the value over.
	return true, setRow(ctx, tx, key, id.Key)
}

// GetRecord loads a record by id.
func GetRecord(ctx context.Context, tx kvs.Transaction, level model.Level, id model.RecordID) (*model.Record, error) {
	if level.Kind != model.LevelDatabase {
		return nil, errRecordLevel
	}
	var fields map[string]any
	if err := getRow(ctx, tx, recordKey(level, id), &fields); err != nil {
		return nil, err
	}
	return &model.Record{ID: id, Fields: fields}, nil
}

// DeleteRecord removes a record.
func DeleteRecord(ctx context.Context, tx kvs.Transaction, level model.Level, id model.RecordID) error {
	if level.Kind != model.LevelDatabase {
		return errRecordLevel
	}
	key := recordKey(level, id)
	existing, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	return tx.Delete(ctx, key)
}

// ScanRecords returns every record of table ordered by key.
func ScanRecords(ctx context.Context, tx kvs.Transaction, level model.Level, table string) ([]*model.Record, error) {
	if level.Kind != model.LevelDatabase {
		return nil, errRecordLevel
	}
	prefix := tablePrefix(level, table)
	var out []*model.Record
	err := scanRows(ctx, tx, prefix, func(key, value []byte) error {
		var fields map[string]any
		if err := unmarshal(value, &fields); err != nil {
			return err
		}
		out = append(out, &model.Record{
			ID:     model.RecordID{Table: table, Key: segmentAfter(key, prefix)},
			Fields: fields,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return out, nil
}
