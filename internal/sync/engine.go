// Package sync implements the offline-first synchronization engine: the
// change tracker, the orchestrator state machine and the event stream that
// reconcile the local store with the remote authoritative store.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/sayantanroy47/tasky-sync/internal/db"
	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
	"github.com/sayantanroy47/tasky-sync/internal/logging"
	"github.com/sayantanroy47/tasky-sync/internal/models"
	"github.com/sayantanroy47/tasky-sync/internal/payload"
	"github.com/sayantanroy47/tasky-sync/internal/sync/conflict"
	"github.com/sayantanroy47/tasky-sync/internal/sync/queue"
	"github.com/sayantanroy47/tasky-sync/internal/sync/remote"
)

// State is the orchestrator's current position in a sync pass.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StatePushing        State = "pushing"
	StatePulling        State = "pulling"
	StateResolving      State = "resolving"
	StateCommitting     State = "committing"
	StateError          State = "error"
	StateCancelled      State = "cancelled"
)

// Engine drives one synchronization pass end to end: drain the outbound
// queue, pull remote deltas, detect and resolve conflicts, commit the merged
// state in one transaction and advance the cursor last. Only one pass runs
// at a time; foreground mutations keep flowing through the Tracker while a
// pass is in flight.
type Engine struct {
	store    *db.Store
	queue    *queue.Queue
	remote   remote.Adapter
	creds    remote.CredentialProvider
	resolver *conflict.Resolver
	cfg      *Config

	passMu stdsync.Mutex

	mu          stdsync.RWMutex
	state       State
	lastSync    *time.Time
	lastSummary *Summary
	cancelled   bool

	events chan Event
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(store *db.Store, q *queue.Queue, adapter remote.Adapter, creds remote.CredentialProvider, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		store:    store,
		queue:    q,
		remote:   adapter,
		creds:    creds,
		resolver: conflict.NewResolver(cfg.ConflictSkewTolerance),
		cfg:      cfg,
		state:    StateIdle,
		events:   make(chan Event, 256),
		now:      time.Now,
	}
}

// SetClock overrides the engine's time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// State returns the orchestrator's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastSync returns the end time of the last successful pass.
func (e *Engine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastSummary returns the outcome of the most recent pass.
func (e *Engine) LastSummary() *Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSummary
}

// Cancel requests cancellation of the in-flight pass. The pass stops at the
// next safe checkpoint: between batches and states, never mid-commit.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) cancelRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cancelled
}

// passState carries what a pass stages for the final commit.
type passState struct {
	staged     map[models.UUID]*models.SyncableRecord
	outbound   []*models.SyncQueueItem
	dropSeqs   []int64
	nextCursor string
	hasCursor  bool
}

func (p *passState) stage(rec *models.SyncableRecord) {
	if prev, ok := p.staged[rec.ID]; ok && prev.Revision >= rec.Revision {
		return
	}
	p.staged[rec.ID] = rec
}

func (p *passState) records() []*models.SyncableRecord {
	records := make([]*models.SyncableRecord, 0, len(p.staged))
	for _, rec := range p.staged {
		records = append(records, rec)
	}
	return records
}

// RunPass executes one synchronization pass. It returns ErrSyncInProgress
// if a pass is already running.
func (e *Engine) RunPass(ctx context.Context) (*Summary, error) {
	if !e.passMu.TryLock() {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync pass already in progress")
	}
	defer e.passMu.Unlock()

	e.mu.Lock()
	e.cancelled = false
	e.mu.Unlock()

	summary := &Summary{StartTime: e.now()}
	e.emit(Event{Type: EventSyncStarted})
	logging.Info("sync pass started", nil)

	err := e.runPass(ctx, summary)
	if err != nil {
		// items caught mid-batch by an abort go back to pending
		if resetErr := e.store.ResetInFlight(); resetErr != nil {
			logging.Error("failed to reset in-flight queue items", resetErr, nil)
		}
	}

	summary.EndTime = e.now()
	summary.Duration = summary.EndTime.Sub(summary.StartTime)

	e.mu.Lock()
	e.lastSummary = summary
	if err == nil {
		end := summary.EndTime
		e.lastSync = &end
	}
	e.mu.Unlock()

	switch {
	case err == nil:
		e.setState(StateIdle)
		e.emit(Event{Type: EventSyncCompleted, Summary: summary})
		logging.Info("sync pass completed", map[string]interface{}{
			"pushed":         summary.Pushed,
			"pulled":         summary.Pulled,
			"conflicts":      summary.Conflicts,
			"auto_resolved":  summary.AutoResolved,
			"pending_manual": summary.PendingManual,
		})
	case apperrors.Is(err, apperrors.ErrSyncCancelled):
		summary.Cancelled = true
		e.setState(StateCancelled)
		e.emit(Event{Type: EventSyncFailed, Reason: "cancelled", Summary: summary})
		e.setState(StateIdle)
		logging.Info("sync pass cancelled", nil)
	default:
		summary.Error = err.Error()
		e.setState(StateError)
		e.emit(Event{Type: EventSyncFailed, Reason: string(apperrors.CodeOf(err)), Summary: summary})
		e.setState(StateIdle)
		logging.Error("sync pass failed", err, nil)
	}

	return summary, err
}

func (e *Engine) runPass(ctx context.Context, summary *Summary) error {
	pass := &passState{staged: make(map[models.UUID]*models.SyncableRecord)}

	e.setState(StateAuthenticating)
	token, err := e.creds.Token(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrAuthRequired, "credential provider failed", err)
	}
	if token == "" {
		return apperrors.New(apperrors.ErrAuthRequired, "no sync credential available")
	}

	e.setState(StatePushing)
	if err := e.pushQueued(ctx, pass, summary); err != nil {
		return err
	}
	e.emit(Event{Type: EventSyncProgress, Pushed: summary.Pushed})

	e.setState(StatePulling)
	if e.cancelRequested(ctx) {
		return apperrors.New(apperrors.ErrSyncCancelled, "cancelled before pull")
	}
	pullErr := e.pullDeltas(ctx, pass, summary)
	e.emit(Event{Type: EventSyncProgress, Pushed: summary.Pushed, Pulled: summary.Pulled})

	e.setState(StateResolving)
	if err := e.resolvePulled(pass, summary); err != nil {
		return err
	}

	e.setState(StateCommitting)
	if e.cancelRequested(ctx) {
		// the commit transaction either happens whole or not at all; an
		// explicit cancel before it leaves the store untouched
		return apperrors.New(apperrors.ErrSyncCancelled, "cancelled before commit")
	}
	if err := e.store.CommitMerge(pass.records(), pass.outbound, pass.dropSeqs, pass.nextCursor, pass.hasCursor); err != nil {
		return err
	}

	if pullErr != nil {
		// push results and any resolved conflicts are committed; the pass
		// still reports the pull failure so the scheduler backs off
		return pullErr
	}

	if _, err := e.store.PurgeTombstones(e.now().Add(-e.cfg.TombstoneRetention)); err != nil {
		logging.Error("tombstone purge failed", err, nil)
	}
	return nil
}

// pushQueued drains the outbound queue in bounded batches. Transient
// failures requeue with backoff and the pass continues; auth failures abort
// the pass.
func (e *Engine) pushQueued(ctx context.Context, pass *passState, summary *Summary) error {
	for {
		if e.cancelRequested(ctx) {
			return apperrors.New(apperrors.ErrSyncCancelled, "cancelled during push")
		}

		batch, err := e.queue.DequeueBatch(e.cfg.MaxBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		items := make([]remote.PushItem, len(batch))
		for i, item := range batch {
			items[i] = remote.PushItem{
				ID:           item.RecordID,
				Kind:         item.Kind,
				Operation:    item.Operation,
				BaseRevision: item.BaseRevision,
				Payload:      item.Payload,
				UpdatedAt:    item.UpdatedAt,
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		results, err := e.remote.Push(callCtx, items)
		cancel()
		if err != nil {
			if apperrors.Is(err, apperrors.ErrAuthRequired) {
				for _, item := range batch {
					if resetErr := e.queue.Reset(item); resetErr != nil {
						return resetErr
					}
				}
				return err
			}
			// batch-level failure: nothing was delivered, retry later
			for _, item := range batch {
				if reqErr := e.queue.RequeueWithBackoff(item, err); reqErr != nil {
					return reqErr
				}
				summary.Requeued++
			}
			logging.Warn("push batch failed, requeued", map[string]interface{}{
				"items": len(batch),
				"error": err.Error(),
			})
			return nil
		}

		byID := make(map[models.UUID]remote.PushResult, len(results))
		for _, res := range results {
			byID[res.ID] = res
		}

		for _, item := range batch {
			res, ok := byID[item.RecordID]
			if !ok {
				if err := e.queue.RequeueWithBackoff(item, apperrors.New(apperrors.ErrDataIntegrity, "push result missing")); err != nil {
					return err
				}
				summary.Requeued++
				continue
			}

			switch res.Status {
			case remote.PushAccepted:
				if err := e.queue.Acknowledge(item, res.NewRevision); err != nil {
					return err
				}
				summary.Pushed++
			case remote.PushConflict:
				summary.Conflicts++
				if err := e.handlePushConflict(item, res.Remote, pass, summary); err != nil {
					return err
				}
			case remote.PushAuth:
				if err := e.queue.Reset(item); err != nil {
					return err
				}
				return apperrors.New(apperrors.ErrAuthRequired, "push rejected: credential invalid")
			default: // transient
				if err := e.queue.RequeueWithBackoff(item, apperrors.New(apperrors.ErrTransientNetwork, "push rejected as transient")); err != nil {
					return err
				}
				summary.Requeued++
			}
		}
	}
}

func (e *Engine) handlePushConflict(item *models.SyncQueueItem, remoteRec *models.SyncableRecord, pass *passState, summary *Summary) error {
	if remoteRec == nil {
		// conflict verdict without the remote record is unusable
		if err := e.queue.RequeueWithBackoff(item, apperrors.New(apperrors.ErrDataIntegrity, "conflict result missing remote record")); err != nil {
			return err
		}
		summary.Requeued++
		return nil
	}

	localRev, err := e.store.KnownRevision(item.RecordID)
	if err != nil {
		return err
	}

	c := conflict.Detect(item, localRev, remoteRec)
	if c == nil {
		// remote said conflict but revisions agree; treat as transient noise
		if err := e.queue.RequeueWithBackoff(item, apperrors.New(apperrors.ErrDataIntegrity, "spurious conflict result")); err != nil {
			return err
		}
		summary.Requeued++
		return nil
	}

	return e.applyResolution(c, item, pass, summary)
}

// applyResolution routes a detected conflict through the resolver. Auto
// resolutions stage the winner for commit and re-enqueue it outbound, based
// on the remote's current record, so the merge propagates. Manual cases are
// persisted, the queue item is parked and the UI collaborator is notified.
func (e *Engine) applyResolution(c *models.ConflictCase, item *models.SyncQueueItem, pass *passState, summary *Summary) error {
	resolution, err := e.resolver.Resolve(c)
	if err != nil {
		// a payload the resolver cannot read must not block the pass
		logging.Error("conflict resolution failed, record skipped", err, map[string]interface{}{
			"record_id": c.RecordID.String(),
		})
		summary.Skipped++
		if item != nil {
			return e.queue.Reset(item)
		}
		return nil
	}

	if resolution.State == models.ResolutionPendingManual {
		c.ResolutionState = models.ResolutionPendingManual
		if err := e.store.SaveConflict(c); err != nil {
			return err
		}
		if item != nil {
			if err := e.queue.HoldItem(item); err != nil {
				return err
			}
		} else if err := e.queue.Hold(c.RecordID); err != nil {
			return err
		}
		summary.PendingManual++
		e.emit(Event{Type: EventConflictPending, Conflict: c})
		return nil
	}

	winner := resolution.Winner
	winner.Dirty = true
	pass.stage(winner)
	if item != nil {
		pass.dropSeqs = append(pass.dropSeqs, item.Sequence)
	}

	op := models.OperationUpdate
	if winner.Deleted {
		op = models.OperationDelete
	}
	pass.outbound = append(pass.outbound, &models.SyncQueueItem{
		RecordID:     winner.ID,
		Kind:         winner.Kind,
		Operation:    op,
		BaseRevision: c.RemoteRevision,
		BasePayload:  c.RemotePayload,
		Payload:      winner.Payload,
		UpdatedAt:    winner.UpdatedAt,
		CreatedAt:    e.now().Unix(),
	})
	summary.AutoResolved++
	return nil
}

// pullDeltas fetches remote changes after the cursor and stages records that
// are newer than what is known locally. A malformed record is skipped and
// logged; it never blocks the rest of the pull.
func (e *Engine) pullDeltas(ctx context.Context, pass *passState, summary *Summary) error {
	cursor, err := e.store.Cursor()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	resp, err := e.remote.Pull(callCtx, cursor)
	cancel()
	if err != nil {
		return err
	}

	for _, rec := range resp.Records {
		if err := validateRemoteRecord(rec); err != nil {
			logging.Error("malformed remote record skipped", err, map[string]interface{}{
				"record_id": rec.ID.String(),
			})
			summary.Skipped++
			continue
		}

		known, err := e.store.KnownRevision(rec.ID)
		if err != nil {
			return err
		}
		if rec.Revision <= known {
			// replay of something already committed
			continue
		}

		staged := rec.Clone()
		staged.Dirty = false
		pass.stage(staged)
		summary.Pulled++
	}

	pass.nextCursor = resp.NextCursor
	pass.hasCursor = true
	return nil
}

func validateRemoteRecord(rec *models.SyncableRecord) error {
	if rec.ID == "" {
		return apperrors.New(apperrors.ErrDataIntegrity, "remote record missing id")
	}
	if !rec.Kind.Valid() {
		return apperrors.New(apperrors.ErrDataIntegrity, fmt.Sprintf("unknown record kind %q", rec.Kind))
	}
	if rec.Revision <= 0 {
		return apperrors.New(apperrors.ErrDataIntegrity, "remote record has no revision")
	}
	if !rec.Deleted {
		if err := payload.Validate(rec.Kind, rec.Payload); err != nil {
			return apperrors.Wrap(apperrors.ErrDataIntegrity, "remote payload rejected", err)
		}
	}
	return nil
}

// resolvePulled routes staged incoming records that collide with a pending
// local queue item through the resolver before commit. Resolution winners are
// staged back under the same id, so iteration walks a snapshot of the staged
// ids taken up front; each record is resolved at most once per pass.
func (e *Engine) resolvePulled(pass *passState, summary *Summary) error {
	ids := make([]models.UUID, 0, len(pass.staged))
	for id := range pass.staged {
		ids = append(ids, id)
	}
	for _, id := range ids {
		rec, ok := pass.staged[id]
		if !ok {
			continue
		}
		item, err := e.store.PendingQueueItem(id)
		if err != nil {
			return err
		}
		if item == nil {
			continue
		}

		if item.State == models.QueueStateHeld {
			// a manual decision is already outstanding; refresh the case's
			// remote side and keep the local record untouched
			delete(pass.staged, id)
			c, err := e.store.GetConflict(id)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrNotFound) {
					continue
				}
				return err
			}
			c.RemotePayload = rec.Payload
			c.RemoteRevision = rec.Revision
			c.RemoteUpdatedAt = rec.UpdatedAt
			c.RemoteDeleted = rec.Deleted
			if err := e.store.SaveConflict(c); err != nil {
				return err
			}
			continue
		}

		localRev, err := e.store.KnownRevision(id)
		if err != nil {
			return err
		}
		c := conflict.Detect(item, localRev, rec)
		if c == nil {
			continue
		}
		summary.Conflicts++
		delete(pass.staged, id)
		if err := e.applyResolution(c, item, pass, summary); err != nil {
			return err
		}
	}
	return nil
}

// ResolveConflict applies the UI collaborator's decision for a pending
// manual conflict. The resolved record takes revision
// max(local, remote) + 1, is committed locally and re-enqueued outbound.
func (e *Engine) ResolveConflict(ctx context.Context, recordID models.UUID, choice models.ConflictChoice, merged json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c, err := e.store.GetConflict(recordID)
	if err != nil {
		return err
	}
	if c.ResolutionState != models.ResolutionPendingManual {
		return apperrors.New(apperrors.ErrInvalid, "conflict is not pending manual resolution")
	}

	now := e.now().Unix()
	rec := &models.SyncableRecord{
		ID:        recordID,
		Kind:      c.Kind,
		Revision:  conflict.NextRevision(c.LocalRevision, c.RemoteRevision),
		UpdatedAt: now,
		Dirty:     true,
	}

	switch choice {
	case models.ChoiceLocal:
		rec.Payload = c.LocalPayload
		rec.Deleted = c.LocalDeleted
	case models.ChoiceRemote:
		rec.Payload = c.RemotePayload
		rec.Deleted = c.RemoteDeleted
	case models.ChoiceMerged:
		if err := payload.Validate(c.Kind, merged); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "merged payload rejected", err)
		}
		rec.Payload = merged
	default:
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown conflict choice %q", choice))
	}

	op := models.OperationUpdate
	if rec.Deleted {
		op = models.OperationDelete
	}
	outbound := &models.SyncQueueItem{
		RecordID:     recordID,
		Kind:         c.Kind,
		Operation:    op,
		BaseRevision: c.RemoteRevision,
		BasePayload:  c.RemotePayload,
		Payload:      rec.Payload,
		UpdatedAt:    now,
		CreatedAt:    now,
	}

	// the held item is superseded by the decision
	var dropSeqs []int64
	if held, err := e.store.PendingQueueItem(recordID); err != nil {
		return err
	} else if held != nil {
		dropSeqs = append(dropSeqs, held.Sequence)
	}

	if err := e.store.CommitMerge([]*models.SyncableRecord{rec}, []*models.SyncQueueItem{outbound}, dropSeqs, "", false); err != nil {
		return err
	}
	if err := e.store.SetConflictState(recordID, models.ResolutionResolvedManual); err != nil {
		return err
	}

	logging.Info("conflict resolved manually", map[string]interface{}{
		"record_id": recordID.String(),
		"choice":    string(choice),
		"revision":  rec.Revision,
	})
	return nil
}

// PendingConflicts lists conflicts awaiting a manual decision.
func (e *Engine) PendingConflicts() ([]*models.ConflictCase, error) {
	return e.store.ListConflicts(models.ResolutionPendingManual)
}

// FailedItems lists queue items that exceeded their retry budget.
func (e *Engine) FailedItems() ([]*models.SyncQueueItem, error) {
	return e.queue.Failed()
}

// PendingChanges returns the number of unacknowledged outbound mutations.
func (e *Engine) PendingChanges() (int, error) {
	return e.queue.PendingCount()
}
