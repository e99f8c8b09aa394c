// Package remote abstracts the remote authoritative store behind push and
// pull operations. This is the only place network I/O happens; retry and
// conflict logic belong to the orchestrator and resolver, not here.
package remote

import (
	"context"
	"encoding/json"

	"github.com/sayantanroy47/tasky-sync/internal/models"
)

// PushItem is one outbound mutation in a push batch.
type PushItem struct {
	ID           models.UUID      `json:"id"`
	Kind         models.Kind      `json:"kind"`
	Operation    models.Operation `json:"operation"`
	BaseRevision int64            `json:"base_revision"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	UpdatedAt    int64            `json:"updated_at"`
}

// PushStatus classifies the remote's verdict for one pushed item.
type PushStatus string

const (
	// PushAccepted: the remote applied the mutation and assigned NewRevision.
	PushAccepted PushStatus = "accepted"
	// PushConflict: the remote's current revision differs from the item's
	// base; Remote carries the remote's current record.
	PushConflict PushStatus = "conflict"
	// PushAuth: the credential was rejected; not retryable without user
	// action.
	PushAuth PushStatus = "auth"
	// PushTransient: a temporary failure; the item is retried with backoff.
	PushTransient PushStatus = "transient"
)

// PushResult is the remote's per-item response to a push.
type PushResult struct {
	ID          models.UUID            `json:"id"`
	Status      PushStatus             `json:"status"`
	NewRevision int64                  `json:"revision,omitempty"`
	Remote      *models.SyncableRecord `json:"remote,omitempty"`
}

// PullResponse is one page of remote deltas.
type PullResponse struct {
	Records    []*models.SyncableRecord `json:"records"`
	NextCursor string                   `json:"next_cursor"`
}

// Adapter is the transport boundary to the remote store.
type Adapter interface {
	// Push sends a batch of queued mutations and returns one result per
	// item. A batch-level error means nothing was delivered.
	Push(ctx context.Context, items []PushItem) ([]PushResult, error)

	// Pull returns remote changes after the cursor and the cursor to
	// persist once they are committed.
	Pull(ctx context.Context, cursor string) (*PullResponse, error)
}

// CredentialProvider yields the bearer credential consumed opaquely by the
// adapter. Session management lives outside the engine.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredentials is a CredentialProvider for a fixed token.
type StaticCredentials string

// Token implements CredentialProvider.
func (s StaticCredentials) Token(ctx context.Context) (string, error) {
	return string(s), nil
}
