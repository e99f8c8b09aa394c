// Package conflict detects and resolves concurrent edits between the local
// and remote stores.
package conflict

import (
	"time"

	"github.com/sayantanroy47/tasky-sync/internal/logging"
	"github.com/sayantanroy47/tasky-sync/internal/models"
)

// Detect classifies a queued item against the remote's current record. A
// matching base revision means the queued mutation was computed against what
// the remote still holds: no conflict. Anything else, including a
// base-revision-zero item colliding with an existing remote record
// (two offline creates reusing an id), yields a case.
//
// localRevision is the local record's current revision, which may sit above
// the item's base while mutations are unacknowledged.
func Detect(item *models.SyncQueueItem, localRevision int64, remote *models.SyncableRecord) *models.ConflictCase {
	if remote == nil || item.BaseRevision == remote.Revision {
		return nil
	}

	c := &models.ConflictCase{
		RecordID:        item.RecordID,
		Kind:            item.Kind,
		LocalPayload:    item.Payload,
		RemotePayload:   remote.Payload,
		BasePayload:     item.BasePayload,
		LocalRevision:   localRevision,
		RemoteRevision:  remote.Revision,
		LocalUpdatedAt:  item.UpdatedAt,
		RemoteUpdatedAt: remote.UpdatedAt,
		LocalDeleted:    item.Operation == models.OperationDelete,
		RemoteDeleted:   remote.Deleted,
		DetectedAt:      time.Now().Unix(),
	}

	logging.Warn("concurrent edit conflict detected", map[string]interface{}{
		"record_id":       c.RecordID.String(),
		"base_revision":   item.BaseRevision,
		"remote_revision": remote.Revision,
	})
	return c
}
