package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sayantanroy47/tasky-sync/internal/models"
	"github.com/sayantanroy47/tasky-sync/internal/payload"
)

func taskPayload(title string, due int64) []byte {
	return payload.MustMarshal(payload.Task{SchemaVersion: 1, Title: title, DueDate: due})
}

func baseCase() *models.ConflictCase {
	return &models.ConflictCase{
		RecordID:        "rec-1",
		Kind:            models.KindTask,
		BasePayload:     taskPayload("draft", 0),
		LocalPayload:    taskPayload("final draft", 0),
		RemotePayload:   taskPayload("draft", 1700000000),
		LocalRevision:   4,
		RemoteRevision:  4,
		LocalUpdatedAt:  1000,
		RemoteUpdatedAt: 2000,
	}
}

func TestResolveDisjointEditsMerge(t *testing.T) {
	r := NewResolver(5 * time.Second)

	res, err := r.Resolve(baseCase())
	require.NoError(t, err)

	assert.Equal(t, models.ResolutionAutoResolved, res.State)
	assert.Equal(t, OutcomeStructuralMerge, res.Outcome)
	require.NotNil(t, res.Winner)

	// winner carries both edits and a revision above both inputs
	assert.Equal(t, int64(5), res.Winner.Revision)
	assert.JSONEq(t, string(taskPayload("final draft", 1700000000)), string(res.Winner.Payload))
	assert.False(t, res.Winner.Deleted)
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver(5 * time.Second)

	first, err := r.Resolve(baseCase())
	require.NoError(t, err)
	second, err := r.Resolve(baseCase())
	require.NoError(t, err)

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Equal(t, first.Winner.Revision, second.Winner.Revision)
	assert.Equal(t, first.Winner.Payload, second.Winner.Payload)
}

func TestResolveOverlappingEditsLastWriterWins(t *testing.T) {
	r := NewResolver(5 * time.Second)

	c := baseCase()
	c.LocalPayload = taskPayload("local title", 0)
	c.RemotePayload = taskPayload("remote title", 0)
	c.LocalUpdatedAt = 1000
	c.RemoteUpdatedAt = 2000 // well past the 5s tolerance

	res, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoteWins, res.Outcome)
	assert.JSONEq(t, string(c.RemotePayload), string(res.Winner.Payload))

	c.LocalUpdatedAt = 3000
	res, err = r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocalWins, res.Outcome)
	assert.JSONEq(t, string(c.LocalPayload), string(res.Winner.Payload))
}

func TestResolveOverlappingEditsWithinSkewDefersToManual(t *testing.T) {
	r := NewResolver(5 * time.Second)

	c := baseCase()
	c.LocalPayload = taskPayload("local title", 0)
	c.RemotePayload = taskPayload("remote title", 0)
	c.LocalUpdatedAt = 1000
	c.RemoteUpdatedAt = 1003 // inside tolerance, timestamps untrustworthy

	res, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionPendingManual, res.State)
	assert.Equal(t, OutcomeManualReview, res.Outcome)
	assert.Nil(t, res.Winner)
}

func TestResolveEqualTimestampsDeferToManual(t *testing.T) {
	r := NewResolver(5 * time.Second)

	c := baseCase()
	c.LocalPayload = taskPayload("local title", 0)
	c.RemotePayload = taskPayload("remote title", 0)
	c.LocalUpdatedAt = 1000
	c.RemoteUpdatedAt = 1000

	res, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionPendingManual, res.State)
}

func TestResolveDeletionWinsOverOlderEdit(t *testing.T) {
	r := NewResolver(5 * time.Second)

	c := baseCase()
	c.RemoteDeleted = true
	c.RemotePayload = nil
	c.LocalUpdatedAt = 1000
	c.RemoteUpdatedAt = 2000

	res, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeletionWins, res.Outcome)
	assert.True(t, res.Winner.Deleted)
	assert.Equal(t, int64(5), res.Winner.Revision)
}

func TestResolveStrictlyLaterEditBeatsDeletion(t *testing.T) {
	r := NewResolver(5 * time.Second)

	c := baseCase()
	c.RemoteDeleted = true
	c.RemotePayload = nil
	c.LocalUpdatedAt = 3000
	c.RemoteUpdatedAt = 2000

	res, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocalWins, res.Outcome)
	assert.False(t, res.Winner.Deleted)
	assert.JSONEq(t, string(c.LocalPayload), string(res.Winner.Payload))
}

func TestResolveConcurrentDeleteAndEditDeletionWins(t *testing.T) {
	r := NewResolver(5 * time.Second)

	// equal timestamps: the edit is not strictly later, the delete stands
	c := baseCase()
	c.LocalDeleted = true
	c.LocalPayload = nil
	c.LocalUpdatedAt = 2000
	c.RemoteUpdatedAt = 2000

	res, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeletionWins, res.Outcome)
	assert.True(t, res.Winner.Deleted)
}

func TestResolveBothDeleted(t *testing.T) {
	r := NewResolver(5 * time.Second)

	c := baseCase()
	c.LocalDeleted = true
	c.RemoteDeleted = true

	res, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeletionWins, res.Outcome)
	assert.True(t, res.Winner.Deleted)
}

func TestResolveNoopLocalEditYieldsRemote(t *testing.T) {
	r := NewResolver(5 * time.Second)

	c := baseCase()
	c.LocalPayload = c.BasePayload

	res, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoteWins, res.Outcome)
}

func TestNextRevision(t *testing.T) {
	assert.Equal(t, int64(5), NextRevision(4, 4))
	assert.Equal(t, int64(8), NextRevision(3, 7))
	assert.Equal(t, int64(8), NextRevision(7, 3))
}

func TestDetectMatchingBaseIsNoConflict(t *testing.T) {
	item := &models.SyncQueueItem{
		RecordID:     "rec-1",
		Kind:         models.KindTask,
		BaseRevision: 3,
	}
	remote := &models.SyncableRecord{ID: "rec-1", Kind: models.KindTask, Revision: 3}

	assert.Nil(t, Detect(item, 4, remote))
	assert.Nil(t, Detect(item, 4, nil))
}

func TestDetectDivergedBaseYieldsCase(t *testing.T) {
	item := &models.SyncQueueItem{
		RecordID:     "rec-1",
		Kind:         models.KindTask,
		Operation:    models.OperationUpdate,
		BaseRevision: 3,
		BasePayload:  taskPayload("draft", 0),
		Payload:      taskPayload("edited", 0),
		UpdatedAt:    1000,
	}
	remote := &models.SyncableRecord{
		ID: "rec-1", Kind: models.KindTask, Revision: 5,
		UpdatedAt: 2000, Payload: taskPayload("other", 0),
	}

	c := Detect(item, 4, remote)
	require.NotNil(t, c)
	assert.Equal(t, int64(4), c.LocalRevision)
	assert.Equal(t, int64(5), c.RemoteRevision)
	assert.Equal(t, item.Payload, c.LocalPayload)
	assert.Equal(t, remote.Payload, c.RemotePayload)
	assert.False(t, c.LocalDeleted)
}

func TestDetectFirstSyncCollision(t *testing.T) {
	// two devices created the same id offline
	item := &models.SyncQueueItem{
		RecordID:     "rec-1",
		Kind:         models.KindTask,
		Operation:    models.OperationCreate,
		BaseRevision: 0,
		Payload:      taskPayload("mine", 0),
	}
	remote := &models.SyncableRecord{ID: "rec-1", Kind: models.KindTask, Revision: 1, Payload: taskPayload("theirs", 0)}

	c := Detect(item, 1, remote)
	require.NotNil(t, c)
	assert.Nil(t, c.BasePayload)
}
