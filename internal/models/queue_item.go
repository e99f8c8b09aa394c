// Package models provides data model definitions for the sync engine.
package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of outbound mutation a queue item carries.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// QueueState is the lifecycle state of a queue item.
type QueueState string

const (
	// QueueStatePending items are eligible for the next outbound batch.
	QueueStatePending QueueState = "pending"
	// QueueStateInFlight items are part of a push currently on the wire.
	QueueStateInFlight QueueState = "in_flight"
	// QueueStateHeld items wait on a manual conflict decision and are
	// excluded from dequeue until released.
	QueueStateHeld QueueState = "held"
	// QueueStateFailed items exceeded MaxRetries and sit on the
	// needs-attention sidecar until retried explicitly.
	QueueStateFailed QueueState = "failed"
)

// SyncQueueItem is one pending outbound mutation. Items are removed only
// after the remote acknowledges them or when a later mutation for the same
// record supersedes them (coalescing keeps the original sequence).
//
// BaseRevision and BasePayload snapshot the record as the remote last
// acknowledged it; they anchor conflict detection and the resolver's
// three-way field diff, and are preserved across coalesced updates.
type SyncQueueItem struct {
	Sequence      int64           `db:"sequence" json:"sequence"`
	RecordID      UUID            `db:"record_id" json:"record_id"`
	Kind          Kind            `db:"kind" json:"kind"`
	Operation     Operation       `db:"operation" json:"operation"`
	BaseRevision  int64           `db:"base_revision" json:"base_revision"`
	BasePayload   json.RawMessage `db:"base_payload" json:"base_payload,omitempty"`
	Payload       json.RawMessage `db:"payload" json:"payload,omitempty"`
	UpdatedAt     int64           `db:"record_updated_at" json:"record_updated_at"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	NextAttemptAt int64           `db:"next_attempt_at" json:"next_attempt_at"`
	State         QueueState      `db:"state" json:"state"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     int64           `db:"created_at" json:"created_at"`
}

// Ready reports whether the item is eligible for dequeue at the given time.
func (i *SyncQueueItem) Ready(now time.Time) bool {
	return i.State == QueueStatePending && i.NextAttemptAt <= now.Unix()
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}
