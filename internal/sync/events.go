package sync

import (
	"time"

	"github.com/sayantanroy47/tasky-sync/internal/logging"
	"github.com/sayantanroy47/tasky-sync/internal/models"
)

// EventType identifies an engine event sent to the UI collaborator.
type EventType string

const (
	EventSyncStarted     EventType = "sync.started"
	EventSyncProgress    EventType = "sync.progress"
	EventConflictPending EventType = "sync.conflict_pending"
	EventSyncCompleted   EventType = "sync.completed"
	EventSyncFailed      EventType = "sync.failed"
)

// Event is one message on the engine's event stream. Delivery is
// at-least-once per pass and ordered within a pass; consumers must tolerate
// duplicates.
type Event struct {
	Type      EventType            `json:"type"`
	Pushed    int                  `json:"pushed,omitempty"`
	Pulled    int                  `json:"pulled,omitempty"`
	Conflict  *models.ConflictCase `json:"conflict,omitempty"`
	Summary   *Summary             `json:"summary,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// Summary aggregates one pass's outcome.
type Summary struct {
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Duration      time.Duration `json:"duration"`
	Pushed        int           `json:"pushed"`
	Pulled        int           `json:"pulled"`
	Conflicts     int           `json:"conflicts"`
	AutoResolved  int           `json:"auto_resolved"`
	PendingManual int           `json:"pending_manual"`
	Requeued      int           `json:"requeued"`
	Skipped       int           `json:"skipped"`
	Cancelled     bool          `json:"cancelled,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// emit publishes an event without blocking the pass. If the consumer has
// stalled long enough to fill the buffer the event is dropped with a
// warning, mirroring how slow websocket clients are treated downstream.
func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now().Unix()
	select {
	case e.events <- ev:
	default:
		logging.Warn("event buffer full, dropping event", map[string]interface{}{
			"type": string(ev.Type),
		})
	}
}

// Events returns the engine's event stream.
func (e *Engine) Events() <-chan Event {
	return e.events
}
