package db

import (
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
	"github.com/sayantanroy47/tasky-sync/internal/models"
)

// activeStates are queue states that count as "unacknowledged" for a record.
const activeStates = "'pending', 'held', 'in_flight'"

// Store exposes the engine's persistence operations. All multi-row updates
// run in a single transaction; a failed local write surfaces as
// ErrPersistence and leaves nothing half-applied.
type Store struct {
	db *DB
}

// NewStore creates a Store over an opened database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

const recordColumns = "id, kind, revision, updated_at, deleted, dirty, payload"

func scanRecord(row interface{ Scan(...interface{}) error }) (*models.SyncableRecord, error) {
	var rec models.SyncableRecord
	var payload string
	err := row.Scan(&rec.ID, &rec.Kind, &rec.Revision, &rec.UpdatedAt, &rec.Deleted, &rec.Dirty, &payload)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		rec.Payload = []byte(payload)
	}
	return &rec, nil
}

// GetRecord returns a record by id.
func (s *Store) GetRecord(id models.UUID) (*models.SyncableRecord, error) {
	row := s.db.QueryRow("SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("record %s not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to read record", err)
	}
	return rec, nil
}

// KnownRevision returns the locally-known revision for a record, 0 if the
// record is unknown.
func (s *Store) KnownRevision(id models.UUID) (int64, error) {
	var rev int64
	err := s.db.QueryRow("SELECT revision FROM records WHERE id = ?", id).Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrPersistence, "failed to read revision", err)
	}
	return rev, nil
}

// ListRecords returns all records of a kind, tombstones excluded.
func (s *Store) ListRecords(kind models.Kind) ([]*models.SyncableRecord, error) {
	rows, err := s.db.Query("SELECT "+recordColumns+" FROM records WHERE kind = ? AND deleted = 0 ORDER BY updated_at DESC", kind)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to list records", err)
	}
	defer rows.Close()

	var records []*models.SyncableRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to scan record", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ApplyLocalMutation writes a record and its outbound queue item in one
// transaction. Either both commit or both roll back, so a mutation can never
// land locally without its queue entry.
//
// A delete coalescing onto a never-pushed create cancels out: the queue item
// and the record row are both removed, since the remote never learned the id.
func (s *Store) ApplyLocalMutation(rec *models.SyncableRecord, item *models.SyncQueueItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	cancelled, err := coalesceQueueItemTx(tx, item)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to append sync queue", err)
	}

	if cancelled {
		if _, err := tx.Exec("DELETE FROM records WHERE id = ?", rec.ID); err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "failed to remove record", err)
		}
	} else if err := upsertRecordTx(tx, rec, false); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to write record", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to commit mutation", err)
	}
	return nil
}

// upsertRecordTx writes a record. With guardRevision set, an existing row
// with a higher revision is left untouched (commits are non-decreasing per
// record).
func upsertRecordTx(tx *sql.Tx, rec *models.SyncableRecord, guardRevision bool) error {
	guard := ""
	if guardRevision {
		guard = " WHERE excluded.revision >= records.revision"
	}
	_, err := tx.Exec(`
		INSERT INTO records (id, kind, revision, updated_at, deleted, dirty, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			revision = excluded.revision,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			dirty = excluded.dirty,
			payload = excluded.payload`+guard,
		rec.ID, rec.Kind, rec.Revision, rec.UpdatedAt, rec.Deleted, rec.Dirty, string(rec.Payload))
	return err
}

// coalesceQueueItemTx inserts a queue item, folding it into an existing
// pending or held item for the same record: the original sequence, base
// revision and base payload are kept, only the operation and payload move
// forward. Returns true when the mutation cancels out entirely.
func coalesceQueueItemTx(tx *sql.Tx, item *models.SyncQueueItem) (bool, error) {
	var seq int64
	var existingOp models.Operation
	err := tx.QueryRow(
		"SELECT sequence, operation FROM sync_queue WHERE record_id = ? AND state IN ('pending', 'held')",
		item.RecordID,
	).Scan(&seq, &existingOp)

	switch {
	case err == sql.ErrNoRows:
		_, err := tx.Exec(`
			INSERT INTO sync_queue (record_id, kind, operation, base_revision, base_payload,
				payload, record_updated_at, retry_count, next_attempt_at, state, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.RecordID, item.Kind, item.Operation, item.BaseRevision, string(item.BasePayload),
			string(item.Payload), item.UpdatedAt, item.RetryCount, item.NextAttemptAt,
			models.QueueStatePending, item.CreatedAt)
		return false, err
	case err != nil:
		return false, err
	}

	// delete on top of an unsent create: the remote never saw this record
	if existingOp == models.OperationCreate && item.Operation == models.OperationDelete {
		_, err := tx.Exec("DELETE FROM sync_queue WHERE sequence = ?", seq)
		return true, err
	}

	op := coalescedOperation(existingOp, item.Operation)
	_, err = tx.Exec(
		"UPDATE sync_queue SET operation = ?, payload = ?, record_updated_at = ? WHERE sequence = ?",
		op, string(item.Payload), item.UpdatedAt, seq)
	return false, err
}

func coalescedOperation(existing, next models.Operation) models.Operation {
	if existing == models.OperationCreate {
		// still unknown remotely, whatever happens it goes out as a create
		return models.OperationCreate
	}
	if next == models.OperationCreate {
		// re-create over a pending delete collapses to an update
		return models.OperationUpdate
	}
	return next
}

const queueColumns = "sequence, record_id, kind, operation, base_revision, base_payload, payload, record_updated_at, retry_count, next_attempt_at, state, last_error, created_at"

func scanQueueItem(row interface{ Scan(...interface{}) error }) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	var basePayload, payload string
	err := row.Scan(&item.Sequence, &item.RecordID, &item.Kind, &item.Operation,
		&item.BaseRevision, &basePayload, &payload, &item.UpdatedAt,
		&item.RetryCount, &item.NextAttemptAt, &item.State, &item.LastError, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	if basePayload != "" {
		item.BasePayload = []byte(basePayload)
	}
	if payload != "" {
		item.Payload = []byte(payload)
	}
	return &item, nil
}

// ActiveQueueItem returns the unacknowledged queue item for a record, or nil.
func (s *Store) ActiveQueueItem(recordID models.UUID) (*models.SyncQueueItem, error) {
	row := s.db.QueryRow(
		"SELECT "+queueColumns+" FROM sync_queue WHERE record_id = ? AND state IN ("+activeStates+") ORDER BY sequence LIMIT 1",
		recordID)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to read queue item", err)
	}
	return item, nil
}

// PendingQueueItem returns the record's coalescible queue item (pending or
// held), or nil.
func (s *Store) PendingQueueItem(recordID models.UUID) (*models.SyncQueueItem, error) {
	row := s.db.QueryRow(
		"SELECT "+queueColumns+" FROM sync_queue WHERE record_id = ? AND state IN ('pending', 'held') ORDER BY sequence LIMIT 1",
		recordID)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to read queue item", err)
	}
	return item, nil
}

// ReadyQueueItems returns up to limit pending items whose next attempt time
// has passed, in sequence order, and marks them in flight.
func (s *Store) ReadyQueueItems(now time.Time, limit int) ([]*models.SyncQueueItem, error) {
	rows, err := s.db.Query(
		"SELECT "+queueColumns+" FROM sync_queue WHERE state = 'pending' AND next_attempt_at <= ? ORDER BY sequence LIMIT ?",
		now.Unix(), limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to read queue", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to read queue", err)
	}

	for _, item := range items {
		if _, err := s.db.Exec("UPDATE sync_queue SET state = 'in_flight' WHERE sequence = ?", item.Sequence); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to mark queue item in flight", err)
		}
		item.State = models.QueueStateInFlight
	}
	return items, nil
}

// ResetInFlight returns any in-flight items to pending, folding each into a
// sibling queued for the same record while the push was on the wire. Called
// on startup so items caught mid-push by a crash are retried.
func (s *Store) ResetInFlight() error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT " + queueColumns + " FROM sync_queue WHERE state = 'in_flight' ORDER BY sequence")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to reset in-flight items", err)
	}
	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			rows.Close()
			return apperrors.Wrap(apperrors.ErrPersistence, "failed to reset in-flight items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to reset in-flight items", err)
	}
	rows.Close()

	for _, item := range items {
		if err := requeueItemTx(tx, item, item.RetryCount, item.NextAttemptAt, models.QueueStatePending, item.LastError); err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "failed to reset in-flight items", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to reset in-flight items", err)
	}
	return nil
}

// CommitPushAccepted removes an acknowledged queue item and commits the
// remote-assigned revision, in one transaction. The record stays dirty if a
// newer mutation was queued while the push was on the wire.
func (s *Store) CommitPushAccepted(sequence int64, recordID models.UUID, newRevision int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sync_queue WHERE sequence = ?", sequence); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to acknowledge queue item", err)
	}
	if _, err := tx.Exec(`
		UPDATE records SET
			revision = MAX(revision, ?),
			dirty = EXISTS(SELECT 1 FROM sync_queue WHERE record_id = records.id AND state IN (`+activeStates+`))
		WHERE id = ?`,
		newRevision, recordID); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to commit accepted revision", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to commit acknowledgement", err)
	}
	return nil
}

// RequeueItem returns a dequeued or failed item to the queue with the given
// retry bookkeeping and state. A pending or held sibling queued for the same
// record supersedes the item: the sibling keeps its newer payload but adopts
// the item's base snapshot, which is what the remote last acknowledged, and
// the superseded row is removed. Only one coalescible row per record may
// exist at a time.
func (s *Store) RequeueItem(item *models.SyncQueueItem, retryCount int, nextAttemptAt int64, state models.QueueState, lastError string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := requeueItemTx(tx, item, retryCount, nextAttemptAt, state, lastError); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to requeue item", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to requeue item", err)
	}
	return nil
}

func requeueItemTx(tx *sql.Tx, item *models.SyncQueueItem, retryCount int, nextAttemptAt int64, state models.QueueState, lastError string) error {
	var sibSeq int64
	var sibOp models.Operation
	err := tx.QueryRow(
		"SELECT sequence, operation FROM sync_queue WHERE record_id = ? AND state IN ('pending', 'held') AND sequence != ?",
		item.RecordID, item.Sequence,
	).Scan(&sibSeq, &sibOp)

	switch {
	case err == sql.ErrNoRows:
		_, err := tx.Exec(
			"UPDATE sync_queue SET retry_count = ?, next_attempt_at = ?, state = ?, last_error = ? WHERE sequence = ?",
			retryCount, nextAttemptAt, state, lastError, item.Sequence)
		return err
	case err != nil:
		return err
	}

	// delete queued behind an unsent create: the remote never saw this record
	if item.Operation == models.OperationCreate && sibOp == models.OperationDelete {
		if _, err := tx.Exec("DELETE FROM sync_queue WHERE sequence IN (?, ?)", item.Sequence, sibSeq); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM records WHERE id = ?", item.RecordID)
		return err
	}

	op := coalescedOperation(item.Operation, sibOp)
	if _, err := tx.Exec(
		"UPDATE sync_queue SET operation = ?, base_revision = ?, base_payload = ?, retry_count = ?, next_attempt_at = ?, last_error = ? WHERE sequence = ?",
		op, item.BaseRevision, string(item.BasePayload), retryCount, nextAttemptAt, lastError, sibSeq); err != nil {
		return err
	}
	_, err = tx.Exec("DELETE FROM sync_queue WHERE sequence = ?", item.Sequence)
	return err
}

// SetQueueStateByRecord moves a record's active queue item between states.
func (s *Store) SetQueueStateByRecord(recordID models.UUID, from, to models.QueueState) error {
	_, err := s.db.Exec(
		"UPDATE sync_queue SET state = ? WHERE record_id = ? AND state = ?",
		to, recordID, from)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to update queue state", err)
	}
	return nil
}

// ListQueueItems returns all items in a state, in sequence order.
func (s *Store) ListQueueItems(state models.QueueState) ([]*models.SyncQueueItem, error) {
	rows, err := s.db.Query("SELECT "+queueColumns+" FROM sync_queue WHERE state = ? ORDER BY sequence", state)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to list queue", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to scan queue item", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PendingCount returns the number of unacknowledged queue items.
func (s *Store) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sync_queue WHERE state IN (" + activeStates + ")").Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrPersistence, "failed to count queue", err)
	}
	return n, nil
}

// CommitMerge applies a pass's staged records, queue removals and outbound
// re-enqueues, then advances the cursor, all in one transaction. The cursor
// write is the last statement so a crash mid-commit re-pulls the same range
// on the next pass; the revision guard makes the replay idempotent.
func (s *Store) CommitMerge(records []*models.SyncableRecord, outbound []*models.SyncQueueItem, dropSequences []int64, cursor string, advanceCursor bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if err := upsertRecordTx(tx, rec, true); err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "failed to commit record", err)
		}
	}
	for _, seq := range dropSequences {
		if _, err := tx.Exec("DELETE FROM sync_queue WHERE sequence = ?", seq); err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "failed to drop queue item", err)
		}
	}
	for _, item := range outbound {
		if _, err := coalesceQueueItemTx(tx, item); err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "failed to enqueue outbound item", err)
		}
	}
	if advanceCursor {
		if _, err := tx.Exec("UPDATE sync_cursor SET cursor = ?, updated_at = ? WHERE id = 1",
			cursor, time.Now().Unix()); err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "failed to advance cursor", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to commit merge", err)
	}
	return nil
}

// Cursor returns the persisted pull cursor.
func (s *Store) Cursor() (string, error) {
	var cursor string
	err := s.db.QueryRow("SELECT cursor FROM sync_cursor WHERE id = 1").Scan(&cursor)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrPersistence, "failed to read cursor", err)
	}
	return cursor, nil
}

// SaveConflict persists a conflict case, replacing any previous case for the
// same record.
func (s *Store) SaveConflict(c *models.ConflictCase) error {
	_, err := s.db.Exec(`
		INSERT INTO conflicts (record_id, kind, local_payload, remote_payload, base_payload,
			local_revision, remote_revision, local_updated_at, remote_updated_at,
			local_deleted, remote_deleted, detected_at, resolution_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			kind = excluded.kind,
			local_payload = excluded.local_payload,
			remote_payload = excluded.remote_payload,
			base_payload = excluded.base_payload,
			local_revision = excluded.local_revision,
			remote_revision = excluded.remote_revision,
			local_updated_at = excluded.local_updated_at,
			remote_updated_at = excluded.remote_updated_at,
			local_deleted = excluded.local_deleted,
			remote_deleted = excluded.remote_deleted,
			detected_at = excluded.detected_at,
			resolution_state = excluded.resolution_state`,
		c.RecordID, c.Kind, string(c.LocalPayload), string(c.RemotePayload), string(c.BasePayload),
		c.LocalRevision, c.RemoteRevision, c.LocalUpdatedAt, c.RemoteUpdatedAt,
		c.LocalDeleted, c.RemoteDeleted, c.DetectedAt, c.ResolutionState)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to save conflict", err)
	}
	return nil
}

const conflictColumns = "record_id, kind, local_payload, remote_payload, base_payload, local_revision, remote_revision, local_updated_at, remote_updated_at, local_deleted, remote_deleted, detected_at, resolution_state"

func scanConflict(row interface{ Scan(...interface{}) error }) (*models.ConflictCase, error) {
	var c models.ConflictCase
	var local, remote, base string
	err := row.Scan(&c.RecordID, &c.Kind, &local, &remote, &base,
		&c.LocalRevision, &c.RemoteRevision, &c.LocalUpdatedAt, &c.RemoteUpdatedAt,
		&c.LocalDeleted, &c.RemoteDeleted, &c.DetectedAt, &c.ResolutionState)
	if err != nil {
		return nil, err
	}
	if local != "" {
		c.LocalPayload = []byte(local)
	}
	if remote != "" {
		c.RemotePayload = []byte(remote)
	}
	if base != "" {
		c.BasePayload = []byte(base)
	}
	return &c, nil
}

// GetConflict returns the conflict case for a record.
func (s *Store) GetConflict(recordID models.UUID) (*models.ConflictCase, error) {
	row := s.db.QueryRow("SELECT "+conflictColumns+" FROM conflicts WHERE record_id = ?", recordID)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("no conflict for record %s", recordID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to read conflict", err)
	}
	return c, nil
}

// ListConflicts returns all cases in a resolution state, newest first.
func (s *Store) ListConflicts(state models.ResolutionState) ([]*models.ConflictCase, error) {
	rows, err := s.db.Query("SELECT "+conflictColumns+" FROM conflicts WHERE resolution_state = ? ORDER BY detected_at DESC", state)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to list conflicts", err)
	}
	defer rows.Close()

	var cases []*models.ConflictCase
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "failed to scan conflict", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// SetConflictState moves a conflict case to a terminal state.
func (s *Store) SetConflictState(recordID models.UUID, state models.ResolutionState) error {
	_, err := s.db.Exec("UPDATE conflicts SET resolution_state = ? WHERE record_id = ?", state, recordID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to update conflict state", err)
	}
	return nil
}

// PurgeTombstones physically removes tombstones older than cutoff whose
// deletion the remote has acknowledged (no queue item and not dirty). Any
// device syncing later learns the deletion from the remote feed instead.
func (s *Store) PurgeTombstones(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM records
		WHERE deleted = 1 AND dirty = 0 AND updated_at < ?
		AND NOT EXISTS(SELECT 1 FROM sync_queue WHERE record_id = records.id AND state IN (`+activeStates+`))`,
		cutoff.Unix())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrPersistence, "failed to purge tombstones", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
