package sync

import (
	"context"
	"encoding/json"
	"strconv"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sayantanroy47/tasky-sync/internal/db"
	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
	"github.com/sayantanroy47/tasky-sync/internal/models"
	"github.com/sayantanroy47/tasky-sync/internal/payload"
	"github.com/sayantanroy47/tasky-sync/internal/sync/queue"
	"github.com/sayantanroy47/tasky-sync/internal/sync/remote"
)

// fakeAdapter scripts the remote's behavior per test.
type fakeAdapter struct {
	pushFn func(items []remote.PushItem) ([]remote.PushResult, error)
	pullFn func(cursor string) (*remote.PullResponse, error)

	pushed [][]remote.PushItem
}

func (f *fakeAdapter) Push(ctx context.Context, items []remote.PushItem) ([]remote.PushResult, error) {
	f.pushed = append(f.pushed, items)
	if f.pushFn != nil {
		return f.pushFn(items)
	}
	results := make([]remote.PushResult, len(items))
	for i, item := range items {
		results[i] = remote.PushResult{ID: item.ID, Status: remote.PushAccepted, NewRevision: item.BaseRevision + 1}
	}
	return results, nil
}

func (f *fakeAdapter) Pull(ctx context.Context, cursor string) (*remote.PullResponse, error) {
	if f.pullFn != nil {
		return f.pullFn(cursor)
	}
	return &remote.PullResponse{NextCursor: cursor}, nil
}

type testEnv struct {
	store   *db.Store
	tracker *Tracker
	queue   *queue.Queue
	adapter *fakeAdapter
	engine  *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := db.NewStore(database)
	q, err := queue.New(store, queue.Config{MaxRetries: 3, BackoffBase: time.Second, BackoffCap: time.Minute})
	require.NoError(t, err)

	adapter := &fakeAdapter{}
	cfg := DefaultConfig()
	cfg.ConflictSkewTolerance = 5 * time.Second
	engine := NewEngine(store, q, adapter, remote.StaticCredentials("token"), cfg)

	return &testEnv{
		store:   store,
		tracker: NewTracker(store),
		queue:   q,
		adapter: adapter,
		engine:  engine,
	}
}

func taskJSON(title string, due int64) json.RawMessage {
	return payload.MustMarshal(payload.Task{SchemaVersion: 1, Title: title, DueDate: due})
}

func newTask(id models.UUID, title string) *models.SyncableRecord {
	return &models.SyncableRecord{ID: id, Kind: models.KindTask, Payload: taskJSON(title, 0)}
}

// seedSynced installs a record as if a previous pass committed it.
func (env *testEnv) seedSynced(t *testing.T, rec *models.SyncableRecord) {
	t.Helper()
	require.NoError(t, env.store.CommitMerge([]*models.SyncableRecord{rec}, nil, nil, "", false))
}

func TestRunPassPushesQueuedMutations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.RecordMutation(ctx, newTask("rec-1", "buy milk"), models.OperationCreate))

	summary, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pushed)
	assert.Equal(t, 0, summary.Conflicts)

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, int64(1), got.Revision)

	n, err := env.queue.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, StateIdle, env.engine.State())
	assert.NotNil(t, env.engine.LastSync())
}

func TestRunPassIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.RecordMutation(ctx, newTask("rec-1", "buy milk"), models.OperationCreate))

	// the remote feed replays the accepted record on every pull
	env.adapter.pullFn = func(cursor string) (*remote.PullResponse, error) {
		return &remote.PullResponse{
			Records: []*models.SyncableRecord{
				{ID: "rec-1", Kind: models.KindTask, Revision: 1, UpdatedAt: 1000, Payload: taskJSON("buy milk", 0)},
			},
			NextCursor: "c1",
		}, nil
	}

	first, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Pushed)
	assert.Equal(t, 0, first.Pulled) // its own write replayed, already known

	second, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Pushed)
	assert.Equal(t, 0, second.Pulled)

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.False(t, got.Dirty)
}

func TestRunPassAppliesRemoteDeltas(t *testing.T) {
	env := newTestEnv(t)

	env.adapter.pullFn = func(cursor string) (*remote.PullResponse, error) {
		assert.Equal(t, "", cursor)
		return &remote.PullResponse{
			Records: []*models.SyncableRecord{
				{ID: "rec-1", Kind: models.KindTask, Revision: 3, UpdatedAt: 1000, Payload: taskJSON("from remote", 0)},
				{ID: "rec-2", Kind: models.KindProject, Revision: 1, UpdatedAt: 1001, Payload: payload.MustMarshal(payload.Project{SchemaVersion: 1, Name: "home"})},
			},
			NextCursor: "c7",
		}, nil
	}

	summary, err := env.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pulled)

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Revision)
	assert.False(t, got.Dirty)

	cursor, err := env.store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "c7", cursor)
}

func TestRunPassSkipsMalformedRemoteRecord(t *testing.T) {
	env := newTestEnv(t)

	env.adapter.pullFn = func(cursor string) (*remote.PullResponse, error) {
		return &remote.PullResponse{
			Records: []*models.SyncableRecord{
				{ID: "rec-bad", Kind: "bogus", Revision: 1},
				{ID: "rec-ok", Kind: models.KindTask, Revision: 1, Payload: taskJSON("fine", 0)},
			},
			NextCursor: "c1",
		}, nil
	}

	summary, err := env.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pulled)
	assert.Equal(t, 1, summary.Skipped)

	// one bad record does not block the cursor
	cursor, err := env.store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor)
}

func TestRunPassResolvesPushConflictByMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := newTask("rec-1", "draft")
	base.Revision = 1
	base.UpdatedAt = 1000
	env.seedSynced(t, base)

	edit := newTask("rec-1", "final draft")
	edit.UpdatedAt = 2000
	require.NoError(t, env.tracker.RecordMutation(ctx, edit, models.OperationUpdate))

	remoteRec := &models.SyncableRecord{
		ID: "rec-1", Kind: models.KindTask, Revision: 2, UpdatedAt: 1500,
		Payload: taskJSON("draft", 1700000000),
	}
	env.adapter.pushFn = func(items []remote.PushItem) ([]remote.PushResult, error) {
		return []remote.PushResult{{ID: "rec-1", Status: remote.PushConflict, Remote: remoteRec}}, nil
	}

	summary, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Conflicts)
	assert.Equal(t, 1, summary.AutoResolved)
	assert.Equal(t, 0, summary.PendingManual)

	// disjoint edits merged, revision above both sides
	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Revision)
	assert.True(t, got.Dirty)
	assert.JSONEq(t, string(taskJSON("final draft", 1700000000)), string(got.Payload))

	// the merge goes back out based on the remote's current revision
	item, err := env.store.PendingQueueItem("rec-1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, int64(2), item.BaseRevision)
	assert.JSONEq(t, string(remoteRec.Payload), string(item.BasePayload))
}

func TestRunPassParksManualConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := newTask("rec-1", "draft")
	base.Revision = 1
	base.UpdatedAt = 1000
	env.seedSynced(t, base)

	edit := newTask("rec-1", "local title")
	edit.UpdatedAt = 2000
	require.NoError(t, env.tracker.RecordMutation(ctx, edit, models.OperationUpdate))

	// same field edited on both sides, timestamps within the skew window
	env.adapter.pushFn = func(items []remote.PushItem) ([]remote.PushResult, error) {
		return []remote.PushResult{{ID: "rec-1", Status: remote.PushConflict, Remote: &models.SyncableRecord{
			ID: "rec-1", Kind: models.KindTask, Revision: 2, UpdatedAt: 2002,
			Payload: taskJSON("remote title", 0),
		}}}, nil
	}

	summary, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PendingManual)

	conflicts, err := env.engine.PendingConflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.UUID("rec-1"), conflicts[0].RecordID)

	// the queued item waits on the decision, the local record is untouched
	item, err := env.store.PendingQueueItem("rec-1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.QueueStateHeld, item.State)

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(taskJSON("local title", 0)), string(got.Payload))
}

func TestResolveConflictManually(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := newTask("rec-1", "draft")
	base.Revision = 1
	base.UpdatedAt = 1000
	env.seedSynced(t, base)

	edit := newTask("rec-1", "local title")
	edit.UpdatedAt = 2000
	require.NoError(t, env.tracker.RecordMutation(ctx, edit, models.OperationUpdate))

	remotePayload := taskJSON("remote title", 0)
	env.adapter.pushFn = func(items []remote.PushItem) ([]remote.PushResult, error) {
		return []remote.PushResult{{ID: "rec-1", Status: remote.PushConflict, Remote: &models.SyncableRecord{
			ID: "rec-1", Kind: models.KindTask, Revision: 2, UpdatedAt: 2002, Payload: remotePayload,
		}}}, nil
	}

	_, err := env.engine.RunPass(ctx)
	require.NoError(t, err)

	require.NoError(t, env.engine.ResolveConflict(ctx, "rec-1", models.ChoiceRemote, nil))

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(remotePayload), string(got.Payload))
	assert.Equal(t, int64(3), got.Revision)
	assert.True(t, got.Dirty)

	// the decision supersedes the held item and goes back out
	item, err := env.store.PendingQueueItem("rec-1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.QueueStatePending, item.State)
	assert.Equal(t, int64(2), item.BaseRevision)

	pending, err := env.engine.PendingConflicts()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// resolving twice is rejected
	err = env.engine.ResolveConflict(ctx, "rec-1", models.ChoiceRemote, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestResolveConflictMergedPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := &models.ConflictCase{
		RecordID:        "rec-1",
		Kind:            models.KindTask,
		LocalPayload:    taskJSON("local", 0),
		RemotePayload:   taskJSON("remote", 0),
		LocalRevision:   4,
		RemoteRevision:  5,
		ResolutionState: models.ResolutionPendingManual,
	}
	require.NoError(t, env.store.SaveConflict(c))

	err := env.engine.ResolveConflict(ctx, "rec-1", models.ChoiceMerged, json.RawMessage(`{"title": 42}`))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	merged := taskJSON("combined", 0)
	require.NoError(t, env.engine.ResolveConflict(ctx, "rec-1", models.ChoiceMerged, merged))

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Revision)
	assert.JSONEq(t, string(merged), string(got.Payload))
}

func TestRunPassResolvesPullConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := newTask("rec-1", "draft")
	base.Revision = 1
	base.UpdatedAt = 1000
	env.seedSynced(t, base)

	edit := newTask("rec-1", "final draft")
	edit.UpdatedAt = 2000
	require.NoError(t, env.tracker.RecordMutation(ctx, edit, models.OperationUpdate))

	// the push fails transiently, so the local item stays queued while the
	// pull brings a conflicting remote edit
	env.adapter.pushFn = func(items []remote.PushItem) ([]remote.PushResult, error) {
		results := make([]remote.PushResult, len(items))
		for i, item := range items {
			results[i] = remote.PushResult{ID: item.ID, Status: remote.PushTransient}
		}
		return results, nil
	}
	env.adapter.pullFn = func(cursor string) (*remote.PullResponse, error) {
		return &remote.PullResponse{
			Records: []*models.SyncableRecord{
				{ID: "rec-1", Kind: models.KindTask, Revision: 3, UpdatedAt: 1500, Payload: taskJSON("draft", 1700000000)},
			},
			NextCursor: "c1",
		}, nil
	}

	summary, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Conflicts)
	assert.Equal(t, 1, summary.AutoResolved)

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Revision)
	assert.JSONEq(t, string(taskJSON("final draft", 1700000000)), string(got.Payload))
}

func TestRunPassAuthFailureAbortsCleanly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.RecordMutation(ctx, newTask("rec-1", "x"), models.OperationCreate))

	engine := NewEngine(env.store, env.queue, env.adapter, remote.StaticCredentials(""), DefaultConfig())
	summary, err := engine.RunPass(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthRequired))
	assert.NotEmpty(t, summary.Error)

	// the queued mutation is untouched
	n, err := env.queue.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, env.adapter.pushed)
}

func TestRunPassTransientPushFailureRequeues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.RecordMutation(ctx, newTask("rec-1", "x"), models.OperationCreate))

	env.adapter.pushFn = func(items []remote.PushItem) ([]remote.PushResult, error) {
		return nil, apperrors.New(apperrors.ErrTransientNetwork, "connection refused")
	}

	summary, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Requeued)
	assert.Equal(t, 0, summary.Pushed)

	// still queued, with a retry recorded and a future attempt time
	items, err := env.store.ListQueueItems(models.QueueStatePending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.GreaterOrEqual(t, items[0].NextAttemptAt, time.Now().Unix())
}

func TestRunPassTransientResultKeepsConcurrentEdit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.RecordMutation(ctx, newTask("rec-1", "first"), models.OperationCreate))

	// an edit lands while the push is on the wire, then the push fails
	// transiently; the requeue must fold into the newer pending item
	env.adapter.pushFn = func(items []remote.PushItem) ([]remote.PushResult, error) {
		require.NoError(t, env.tracker.RecordMutation(ctx, newTask("rec-1", "second"), models.OperationUpdate))
		return []remote.PushResult{{ID: "rec-1", Status: remote.PushTransient}}, nil
	}

	summary, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Requeued)

	// one pending item survives, carrying the newest payload over the base
	// the remote actually knows
	items, err := env.store.ListQueueItems(models.QueueStatePending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.OperationCreate, items[0].Operation)
	assert.Equal(t, int64(0), items[0].BaseRevision)
	assert.JSONEq(t, string(taskJSON("second", 0)), string(items[0].Payload))

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.True(t, got.Dirty)
	assert.Equal(t, int64(2), got.Revision)

	// once the remote recovers the folded item goes through
	env.adapter.pushFn = nil
	env.queue.SetClock(func() time.Time { return time.Now().Add(time.Hour) })

	again, err := env.engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Pushed)

	got, err = env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.False(t, got.Dirty)

	n, err := env.queue.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunPassResolvesEachPullConflictOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids := []models.UUID{"rec-1", "rec-2", "rec-3"}
	for _, id := range ids {
		base := newTask(id, "draft")
		base.Revision = 1
		base.UpdatedAt = 1000
		env.seedSynced(t, base)

		edit := newTask(id, "local edit")
		edit.UpdatedAt = 2000
		require.NoError(t, env.tracker.RecordMutation(ctx, edit, models.OperationUpdate))
	}

	env.adapter.pushFn = func(items []remote.PushItem) ([]remote.PushResult, error) {
		results := make([]remote.PushResult, len(items))
		for i, item := range items {
			results[i] = remote.PushResult{ID: item.ID, Status: remote.PushTransient}
		}
		return results, nil
	}
	env.adapter.pullFn = func(cursor string) (*remote.PullResponse, error) {
		resp := &remote.PullResponse{NextCursor: "c1"}
		for _, id := range ids {
			resp.Records = append(resp.Records, &models.SyncableRecord{
				ID: id, Kind: models.KindTask, Revision: 3, UpdatedAt: 1500,
				Payload: taskJSON("draft", 1700000000),
			})
		}
		return resp, nil
	}

	summary, err := env.engine.RunPass(ctx)
	require.NoError(t, err)

	// every record is resolved exactly once, even though winners are staged
	// back while the resolution loop runs
	assert.Equal(t, 3, summary.Conflicts)
	assert.Equal(t, 3, summary.AutoResolved)

	for _, id := range ids {
		got, err := env.store.GetRecord(id)
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Revision)
		assert.JSONEq(t, string(taskJSON("local edit", 1700000000)), string(got.Payload))

		item, err := env.store.PendingQueueItem(id)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, int64(3), item.BaseRevision)
	}

	n, err := env.queue.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// syncServer is an in-process authoritative store shared between engines. It
// assigns revisions on accepted pushes and replays its write log to pulls.
type syncServer struct {
	mu   stdsync.Mutex
	recs map[models.UUID]*models.SyncableRecord
	log  []*models.SyncableRecord
}

func newSyncServer() *syncServer {
	return &syncServer{recs: make(map[models.UUID]*models.SyncableRecord)}
}

func (s *syncServer) Push(ctx context.Context, items []remote.PushItem) ([]remote.PushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]remote.PushResult, 0, len(items))
	for _, item := range items {
		cur := s.recs[item.ID]
		var curRev int64
		if cur != nil {
			curRev = cur.Revision
		}
		if item.BaseRevision != curRev {
			res := remote.PushResult{ID: item.ID, Status: remote.PushConflict}
			if cur != nil {
				res.Remote = cur.Clone()
			}
			results = append(results, res)
			continue
		}
		rec := &models.SyncableRecord{
			ID:        item.ID,
			Kind:      item.Kind,
			Revision:  curRev + 1,
			UpdatedAt: item.UpdatedAt,
			Deleted:   item.Operation == models.OperationDelete,
			Payload:   item.Payload,
		}
		s.recs[item.ID] = rec
		s.log = append(s.log, rec)
		results = append(results, remote.PushResult{ID: item.ID, Status: remote.PushAccepted, NewRevision: rec.Revision})
	}
	return results, nil
}

func (s *syncServer) Pull(ctx context.Context, cursor string) (*remote.PullResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, err
		}
	}
	resp := &remote.PullResponse{NextCursor: strconv.Itoa(len(s.log))}
	for _, rec := range s.log[start:] {
		resp.Records = append(resp.Records, rec.Clone())
	}
	return resp, nil
}

func newDeviceEnv(t *testing.T, server *syncServer) *testEnv {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := db.NewStore(database)
	q, err := queue.New(store, queue.Config{MaxRetries: 3, BackoffBase: time.Second, BackoffCap: time.Minute})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ConflictSkewTolerance = 5 * time.Second
	engine := NewEngine(store, q, server, remote.StaticCredentials("token"), cfg)

	return &testEnv{
		store:   store,
		tracker: NewTracker(store),
		queue:   q,
		engine:  engine,
	}
}

func TestTwoDevicesConverge(t *testing.T) {
	server := newSyncServer()
	deviceA := newDeviceEnv(t, server)
	deviceB := newDeviceEnv(t, server)
	ctx := context.Background()

	task := newTask("rec-1", "plan trip")
	task.UpdatedAt = 1000
	require.NoError(t, deviceA.tracker.RecordMutation(ctx, task, models.OperationCreate))
	_, err := deviceA.engine.RunPass(ctx)
	require.NoError(t, err)

	// device B picks the record up
	_, err = deviceB.engine.RunPass(ctx)
	require.NoError(t, err)

	// B sets a due date and syncs; A retitles the same task while offline
	bEdit := &models.SyncableRecord{
		ID: "rec-1", Kind: models.KindTask, UpdatedAt: 2000,
		Payload: taskJSON("plan trip", 1700000000),
	}
	require.NoError(t, deviceB.tracker.RecordMutation(ctx, bEdit, models.OperationUpdate))
	_, err = deviceB.engine.RunPass(ctx)
	require.NoError(t, err)

	aEdit := newTask("rec-1", "plan summer trip")
	aEdit.UpdatedAt = 9000
	require.NoError(t, deviceA.tracker.RecordMutation(ctx, aEdit, models.OperationUpdate))

	// A's push collides with B's write; the disjoint edits merge and the
	// merged record goes back out on A's next pass
	_, err = deviceA.engine.RunPass(ctx)
	require.NoError(t, err)
	_, err = deviceA.engine.RunPass(ctx)
	require.NoError(t, err)

	// B pulls the merged result
	_, err = deviceB.engine.RunPass(ctx)
	require.NoError(t, err)

	aRec, err := deviceA.store.GetRecord("rec-1")
	require.NoError(t, err)
	bRec, err := deviceB.store.GetRecord("rec-1")
	require.NoError(t, err)

	assert.Equal(t, aRec.Revision, bRec.Revision)
	assert.JSONEq(t, string(aRec.Payload), string(bRec.Payload))
	assert.JSONEq(t, string(taskJSON("plan summer trip", 1700000000)), string(aRec.Payload))
	assert.False(t, aRec.Dirty)
	assert.False(t, bRec.Dirty)

	for _, env := range []*testEnv{deviceA, deviceB} {
		n, err := env.queue.PendingCount()
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
}

func TestRunPassPullFailureStillCommitsPushResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.RecordMutation(ctx, newTask("rec-1", "x"), models.OperationCreate))

	env.adapter.pullFn = func(cursor string) (*remote.PullResponse, error) {
		return nil, apperrors.New(apperrors.ErrTransientNetwork, "pull timed out")
	}

	summary, err := env.engine.RunPass(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransientNetwork))
	assert.Equal(t, 1, summary.Pushed)

	// the acknowledged push does not need to be repeated
	n, err := env.queue.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := env.store.GetRecord("rec-1")
	require.NoError(t, err)
	assert.False(t, got.Dirty)
}

func TestRunPassCancellation(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.tracker.RecordMutation(context.Background(), newTask("rec-1", "x"), models.OperationCreate))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := env.engine.RunPass(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncCancelled))
	assert.True(t, summary.Cancelled)

	// nothing was lost; the mutation syncs on the next pass
	fresh, err := env.engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Pushed)
}

func TestRunPassRejectsConcurrentPass(t *testing.T) {
	env := newTestEnv(t)

	started := make(chan struct{})
	release := make(chan struct{})
	env.adapter.pullFn = func(cursor string) (*remote.PullResponse, error) {
		close(started)
		<-release
		return &remote.PullResponse{}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.engine.RunPass(context.Background())
		done <- err
	}()

	<-started
	_, err := env.engine.RunPass(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncInProgress))

	close(release)
	require.NoError(t, <-done)
}

func TestRunPassEmitsEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.RecordMutation(ctx, newTask("rec-1", "x"), models.OperationCreate))

	_, err := env.engine.RunPass(ctx)
	require.NoError(t, err)

	var types []EventType
	for {
		select {
		case ev := <-env.engine.Events():
			types = append(types, ev.Type)
		default:
			assert.Equal(t, EventSyncStarted, types[0])
			assert.Equal(t, EventSyncCompleted, types[len(types)-1])
			return
		}
	}
}
