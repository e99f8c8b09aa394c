package conflict

import (
	"time"

	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
	"github.com/sayantanroy47/tasky-sync/internal/logging"
	"github.com/sayantanroy47/tasky-sync/internal/models"
	"github.com/sayantanroy47/tasky-sync/internal/payload"
)

// Outcome names how a conflict was settled, for logging and the conflict
// list.
type Outcome string

const (
	OutcomeDeletionWins    Outcome = "deletion_wins"
	OutcomeLocalWins       Outcome = "local_wins"
	OutcomeRemoteWins      Outcome = "remote_wins"
	OutcomeStructuralMerge Outcome = "structural_merge"
	OutcomeManualReview    Outcome = "manual_review_required"
)

// Resolution is the resolver's verdict for one case. Winner is nil exactly
// when State is pendingManual.
type Resolution struct {
	State   models.ResolutionState
	Outcome Outcome
	Winner  *models.SyncableRecord
}

// Resolver applies the engine's resolution policy: deletion priority first,
// then a three-way field diff against the queued mutation's base snapshot.
// Disjoint edits merge structurally, overlapping edits fall to
// last-writer-wins only when the timestamps disagree by more than the skew
// tolerance, and everything else defers to a manual decision.
//
// The policy is a pure function of the case, so equal inputs always produce
// the same winner and state.
type Resolver struct {
	skewTolerance time.Duration
}

// NewResolver creates a Resolver with the given clock-skew tolerance.
func NewResolver(skewTolerance time.Duration) *Resolver {
	return &Resolver{skewTolerance: skewTolerance}
}

// Resolve settles a conflict case. The winning record's revision is always
// max(local, remote) + 1 so the resolution can never look stale to a future
// comparison.
func (r *Resolver) Resolve(c *models.ConflictCase) (*Resolution, error) {
	if c == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "nil conflict case")
	}

	if c.LocalDeleted || c.RemoteDeleted {
		return r.resolveWithTombstone(c), nil
	}

	localChanged, err := payload.Diff(c.Kind, c.BasePayload, c.LocalPayload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDataIntegrity, "cannot diff local payload", err)
	}
	remoteChanged, err := payload.Diff(c.Kind, c.BasePayload, c.RemotePayload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDataIntegrity, "cannot diff remote payload", err)
	}

	switch {
	case len(localChanged) == 0:
		// local queued a no-op against this base, remote's edit stands
		return r.wholesale(c, OutcomeRemoteWins), nil
	case len(remoteChanged) == 0:
		return r.wholesale(c, OutcomeLocalWins), nil
	case !localChanged.Intersects(remoteChanged):
		return r.structuralMerge(c, localChanged, remoteChanged)
	}

	// overlapping fields: trust timestamps only outside the skew tolerance
	skew := c.LocalUpdatedAt - c.RemoteUpdatedAt
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > r.skewTolerance {
		if c.LocalUpdatedAt > c.RemoteUpdatedAt {
			return r.wholesale(c, OutcomeLocalWins), nil
		}
		return r.wholesale(c, OutcomeRemoteWins), nil
	}

	logging.Warn("conflict deferred to manual resolution", map[string]interface{}{
		"record_id":         c.RecordID.String(),
		"local_updated_at":  c.LocalUpdatedAt,
		"remote_updated_at": c.RemoteUpdatedAt,
		"contended_fields":  localChanged.Names(),
	})
	return &Resolution{State: models.ResolutionPendingManual, Outcome: OutcomeManualReview}, nil
}

// resolveWithTombstone applies deletion priority: a delete wins unless the
// surviving side's edit is strictly later, so stale edits cannot resurrect
// intentionally deleted data.
func (r *Resolver) resolveWithTombstone(c *models.ConflictCase) *Resolution {
	switch {
	case c.LocalDeleted && c.RemoteDeleted:
		// both sides agree the record is gone
		return r.winner(c, OutcomeDeletionWins, c.RemotePayload, true, maxInt64(c.LocalUpdatedAt, c.RemoteUpdatedAt))
	case c.LocalDeleted:
		if c.RemoteUpdatedAt > c.LocalUpdatedAt {
			return r.wholesale(c, OutcomeRemoteWins)
		}
		return r.winner(c, OutcomeDeletionWins, c.LocalPayload, true, c.LocalUpdatedAt)
	default: // remote deleted
		if c.LocalUpdatedAt > c.RemoteUpdatedAt {
			return r.wholesale(c, OutcomeLocalWins)
		}
		return r.winner(c, OutcomeDeletionWins, c.RemotePayload, true, c.RemoteUpdatedAt)
	}
}

func (r *Resolver) wholesale(c *models.ConflictCase, outcome Outcome) *Resolution {
	if outcome == OutcomeLocalWins {
		return r.winner(c, outcome, c.LocalPayload, c.LocalDeleted, c.LocalUpdatedAt)
	}
	return r.winner(c, outcome, c.RemotePayload, c.RemoteDeleted, c.RemoteUpdatedAt)
}

func (r *Resolver) structuralMerge(c *models.ConflictCase, localChanged, remoteChanged payload.FieldSet) (*Resolution, error) {
	merged, err := payload.Merge(c.Kind, c.BasePayload, c.LocalPayload, c.RemotePayload, localChanged, remoteChanged)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDataIntegrity, "structural merge failed", err)
	}

	logging.Info("conflict resolved by structural merge", map[string]interface{}{
		"record_id":     c.RecordID.String(),
		"local_fields":  localChanged.Names(),
		"remote_fields": remoteChanged.Names(),
	})
	return r.winner(c, OutcomeStructuralMerge, merged, false, maxInt64(c.LocalUpdatedAt, c.RemoteUpdatedAt)), nil
}

func (r *Resolver) winner(c *models.ConflictCase, outcome Outcome, winning []byte, deleted bool, updatedAt int64) *Resolution {
	rec := &models.SyncableRecord{
		ID:        c.RecordID,
		Kind:      c.Kind,
		Revision:  NextRevision(c.LocalRevision, c.RemoteRevision),
		UpdatedAt: updatedAt,
		Deleted:   deleted,
		Payload:   winning,
	}
	if outcome != OutcomeManualReview {
		logging.Info("conflict resolved", map[string]interface{}{
			"record_id": c.RecordID.String(),
			"outcome":   string(outcome),
			"revision":  rec.Revision,
		})
	}
	return &Resolution{State: models.ResolutionAutoResolved, Outcome: outcome, Winner: rec}
}

// NextRevision is the revision of a resolved record:
// max(local, remote) + 1.
func NextRevision(localRevision, remoteRevision int64) int64 {
	return maxInt64(localRevision, remoteRevision) + 1
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
