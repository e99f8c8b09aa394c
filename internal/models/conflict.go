// Package models provides data model definitions for the sync engine.
package models

import (
	"encoding/json"
	"time"
)

// ResolutionState tracks how a conflict case was (or will be) settled.
type ResolutionState string

const (
	ResolutionAutoResolved   ResolutionState = "autoResolved"
	ResolutionPendingManual  ResolutionState = "pendingManual"
	ResolutionResolvedManual ResolutionState = "resolvedManual"
)

// ConflictChoice is the decision the UI collaborator sends for a pending
// manual conflict.
type ConflictChoice string

const (
	ChoiceLocal  ConflictChoice = "local"
	ChoiceRemote ConflictChoice = "remote"
	ChoiceMerged ConflictChoice = "merged"
)

// ConflictCase records a queued local mutation whose base revision no longer
// matches the remote record. Cases persist so pending manual decisions
// survive a restart.
type ConflictCase struct {
	RecordID        UUID            `db:"record_id" json:"record_id"`
	Kind            Kind            `db:"kind" json:"kind"`
	LocalPayload    json.RawMessage `db:"local_payload" json:"local_payload"`
	RemotePayload   json.RawMessage `db:"remote_payload" json:"remote_payload"`
	BasePayload     json.RawMessage `db:"base_payload" json:"base_payload,omitempty"`
	LocalRevision   int64           `db:"local_revision" json:"local_revision"`
	RemoteRevision  int64           `db:"remote_revision" json:"remote_revision"`
	LocalUpdatedAt  int64           `db:"local_updated_at" json:"local_updated_at"`
	RemoteUpdatedAt int64           `db:"remote_updated_at" json:"remote_updated_at"`
	LocalDeleted    bool            `db:"local_deleted" json:"local_deleted"`
	RemoteDeleted   bool            `db:"remote_deleted" json:"remote_deleted"`
	DetectedAt      int64           `db:"detected_at" json:"detected_at"`
	ResolutionState ResolutionState `db:"resolution_state" json:"resolution_state"`
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictCase) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}

// TableName returns the table name for ConflictCase.
func (ConflictCase) TableName() string {
	return "conflicts"
}
