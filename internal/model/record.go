package model

import (
	"fmt"
	"strings"
)

// RecordID identifies an application record as table:key.
type RecordID struct {
	Table string `json:"tb"`
	Key   string `json:"id"`
}

// ParseRecordID parses "table:key". The key may itself contain colons.
func ParseRecordID(s string) (RecordID, error) {
	tb, key, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || tb == "" || key == "" {
		return RecordID{}, fmt.Errorf("invalid record id %q (want table:key)", s)
	}
	return RecordID{Table: tb, Key: key}, nil
}

// IsZero reports whether the id is unset.
func (r RecordID) IsZero() bool { return r.Table == "" && r.Key == "" }

func (r RecordID) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Table + ":" + r.Key
}

// Record is an application record that can act as an authentication subject.
type Record struct {
	ID     RecordID       `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Field returns a field value, or nil when absent.
func (r *Record) Field(name string) any {
	if r == nil || r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}
