// Package queue manages the durable outbound sync queue: FIFO batching,
// per-record coalescing, exponential backoff retry and the failed-item
// sidecar surfaced to the UI collaborator.
package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sayantanroy47/tasky-sync/internal/db"
	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
	"github.com/sayantanroy47/tasky-sync/internal/logging"
	"github.com/sayantanroy47/tasky-sync/internal/models"
)

// Config holds queue retry policy.
type Config struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  5,
		BackoffBase: 30 * time.Second,
		BackoffCap:  30 * time.Minute,
	}
}

// Queue is the durable sync queue. Rows live in the store's sync_queue
// table, so pending operations survive process restarts; this layer owns the
// retry and state policy.
type Queue struct {
	store *db.Store
	cfg   Config
	now   func() time.Time
}

// New creates a Queue and returns any in-flight items orphaned by a crash to
// the pending state.
func New(store *db.Store, cfg Config) (*Queue, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}

	q := &Queue{store: store, cfg: cfg, now: time.Now}
	if err := store.ResetInFlight(); err != nil {
		return nil, err
	}
	return q, nil
}

// SetClock overrides the queue's time source, for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue appends an item, coalescing with any unacknowledged pending item
// for the same record (original sequence and base snapshot kept).
func (q *Queue) Enqueue(item *models.SyncQueueItem) error {
	if item.CreatedAt == 0 {
		item.CreatedAt = q.now().Unix()
	}
	item.State = models.QueueStatePending
	return q.store.CommitMerge(nil, []*models.SyncQueueItem{item}, nil, "", false)
}

// DequeueBatch returns up to maxSize ready items in sequence order and marks
// them in flight.
func (q *Queue) DequeueBatch(maxSize int) ([]*models.SyncQueueItem, error) {
	return q.store.ReadyQueueItems(q.now(), maxSize)
}

// Acknowledge removes a pushed item and commits its remote-assigned
// revision.
func (q *Queue) Acknowledge(item *models.SyncQueueItem, newRevision int64) error {
	return q.store.CommitPushAccepted(item.Sequence, item.RecordID, newRevision)
}

// Remove drops an item without touching its record, used when a resolved
// conflict supersedes the queued mutation.
func (q *Queue) Remove(sequence int64) error {
	return q.store.CommitMerge(nil, nil, []int64{sequence}, "", false)
}

// RequeueWithBackoff schedules a transient-failed item for another attempt
// at now + min(cap, base * 2^retryCount) with jitter. Past MaxRetries the
// item moves to the failed sidecar instead of retrying forever.
func (q *Queue) RequeueWithBackoff(item *models.SyncQueueItem, cause error) error {
	retryCount := item.RetryCount + 1
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}

	if retryCount > q.cfg.MaxRetries {
		logging.Warn("queue item exceeded max retries", map[string]interface{}{
			"record_id":   item.RecordID.String(),
			"operation":   string(item.Operation),
			"retry_count": retryCount,
		})
		return q.store.RequeueItem(item, retryCount, 0, models.QueueStateFailed, lastErr)
	}

	delay := q.backoffDelay(item.RetryCount)
	nextAttempt := q.now().Add(delay).Unix()
	logging.Debug("requeueing item with backoff", map[string]interface{}{
		"record_id":     item.RecordID.String(),
		"retry_count":   retryCount,
		"delay_seconds": int(delay.Seconds()),
	})
	return q.store.RequeueItem(item, retryCount, nextAttempt, models.QueueStatePending, lastErr)
}

// Reset returns an in-flight item to pending without a retry penalty, used
// when the whole pass aborts for reasons unrelated to the item (auth,
// cancellation). A mutation queued for the same record while the item was on
// the wire supersedes it; the store folds the two together.
func (q *Queue) Reset(item *models.SyncQueueItem) error {
	return q.store.RequeueItem(item, item.RetryCount, item.NextAttemptAt, models.QueueStatePending, item.LastError)
}

// Hold parks a record's pending item while a manual conflict decision is
// outstanding; held items are excluded from dequeue.
func (q *Queue) Hold(recordID models.UUID) error {
	return q.store.SetQueueStateByRecord(recordID, models.QueueStatePending, models.QueueStateHeld)
}

// HoldItem parks a specific in-flight item pending a manual decision. If a
// newer mutation was queued for the record while the push was on the wire it
// supersedes the item, and the conflict resurfaces on the next pass.
func (q *Queue) HoldItem(item *models.SyncQueueItem) error {
	return q.store.RequeueItem(item, item.RetryCount, item.NextAttemptAt, models.QueueStateHeld, item.LastError)
}

// Release unparks a held item.
func (q *Queue) Release(recordID models.UUID) error {
	return q.store.SetQueueStateByRecord(recordID, models.QueueStateHeld, models.QueueStatePending)
}

// Failed lists the needs-attention sidecar.
func (q *Queue) Failed() ([]*models.SyncQueueItem, error) {
	return q.store.ListQueueItems(models.QueueStateFailed)
}

// RetryFailed returns all sidecar items to the pending state with a clean
// retry budget.
func (q *Queue) RetryFailed() (int, error) {
	items, err := q.store.ListQueueItems(models.QueueStateFailed)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if err := q.store.RequeueItem(item, 0, 0, models.QueueStatePending, ""); err != nil {
			return 0, apperrors.Wrap(apperrors.ErrPersistence, "failed to retry failed item", err)
		}
	}
	return len(items), nil
}

// PendingCount returns the number of unacknowledged items.
func (q *Queue) PendingCount() (int, error) {
	return q.store.PendingCount()
}

func (q *Queue) backoffDelay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.BackoffBase
	b.MaxInterval = q.cfg.BackoffCap
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}
