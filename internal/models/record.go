// Package models provides data model definitions for the sync engine.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Kind identifies which domain entity a record carries.
type Kind string

const (
	KindTask    Kind = "task"
	KindProject Kind = "project"
	KindTag     Kind = "tag"
)

// Valid reports whether the kind is one the engine knows how to sync.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindProject, KindTag:
		return true
	}
	return false
}

// SyncableRecord is any entity eligible for sync.
// Revision is the sole correctness-bearing ordering signal; UpdatedAt is
// advisory only and never the sole conflict arbiter. A record is never
// rolled back to a lower revision.
type SyncableRecord struct {
	ID        UUID            `db:"id" json:"id"`
	Kind      Kind            `db:"kind" json:"kind"`
	Revision  int64           `db:"revision" json:"revision"`
	UpdatedAt int64           `db:"updated_at" json:"updated_at"`
	Deleted   bool            `db:"deleted" json:"deleted"`
	Dirty     bool            `db:"dirty" json:"-"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (r *SyncableRecord) UpdatedAtTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}

// Clone returns a deep copy of the record.
func (r *SyncableRecord) Clone() *SyncableRecord {
	cp := *r
	if r.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &cp
}

// TableName returns the table name for SyncableRecord.
func (SyncableRecord) TableName() string {
	return "records"
}
