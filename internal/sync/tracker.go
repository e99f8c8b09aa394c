package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sayantanroy47/tasky-sync/internal/db"
	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
	"github.com/sayantanroy47/tasky-sync/internal/models"
	"github.com/sayantanroy47/tasky-sync/internal/payload"
)

// Tracker is the change tracker: every local mutation goes through it so the
// record write and its outbound queue entry land in the same transaction.
// The tracker never blocks on network I/O; an in-flight sync pass and a
// foreground mutation only meet at the store's own locking.
type Tracker struct {
	store *db.Store
	now   func() time.Time
}

// NewTracker creates a Tracker over the local store.
func NewTracker(store *db.Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// SetClock overrides the tracker's time source, for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// NewID generates a client-side record id.
func NewID() models.UUID {
	return models.UUID(uuid.New().String())
}

// RecordMutation applies a local mutation: it bumps the record's revision,
// marks it dirty and appends (or coalesces) the outbound queue item. Both
// writes share one transaction; if the queue cannot be appended the mutation
// itself fails with ErrPersistence and the caller must surface that.
//
// The first mutation after a clean sync snapshots the record's payload and
// revision as the queue item's base. Later mutations coalesce onto the
// pending item without bumping the revision again: from the remote's point
// of view they are a single write, which is exactly what the coalesced push
// will deliver. The revision therefore counts queued sync operations, not
// individual edits; it still advances for every write that will reach the
// remote and never moves backwards.
func (t *Tracker) RecordMutation(ctx context.Context, rec *models.SyncableRecord, op models.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "record id is required")
	}
	if !rec.Kind.Valid() {
		return apperrors.New(apperrors.ErrInvalid, "unknown record kind")
	}
	if op != models.OperationDelete {
		if err := payload.Validate(rec.Kind, rec.Payload); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "invalid payload", err)
		}
	}

	now := t.now().Unix()
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = now
	}
	if op == models.OperationDelete {
		rec.Deleted = true
	}
	rec.Dirty = true

	existing, err := t.store.GetRecord(rec.ID)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	item := &models.SyncQueueItem{
		RecordID:  rec.ID,
		Kind:      rec.Kind,
		Operation: op,
		Payload:   rec.Payload,
		UpdatedAt: rec.UpdatedAt,
		CreatedAt: now,
	}

	if existing == nil {
		if op != models.OperationCreate {
			return apperrors.New(apperrors.ErrNotFound, "cannot mutate unknown record")
		}
		rec.Revision = 1
		item.BaseRevision = 0
	} else {
		active, err := t.store.ActiveQueueItem(rec.ID)
		if err != nil {
			return err
		}
		switch {
		case active != nil && active.State != models.QueueStateInFlight:
			// unacknowledged mutation pending: the record already carries an
			// unsynced revision, the new payload folds into it
			rec.Revision = existing.Revision
		case active != nil:
			// a push is on the wire; once it is accepted the remote will hold
			// the in-flight snapshot, so that becomes the new item's base
			item.BaseRevision = existing.Revision
			item.BasePayload = active.Payload
			rec.Revision = existing.Revision + 1
		default:
			item.BaseRevision = existing.Revision
			item.BasePayload = existing.Payload
			rec.Revision = existing.Revision + 1
		}
	}

	return t.store.ApplyLocalMutation(rec, item)
}
