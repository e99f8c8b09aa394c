package sync

import "time"

// Config holds the engine's recognized options.
type Config struct {
	// AutoSyncInterval is how often the scheduler triggers an automatic
	// pass; 0 disables periodic sync.
	AutoSyncInterval time.Duration

	// MaxBatchSize bounds one outbound push batch.
	MaxBatchSize int

	// MaxRetries bounds transient retries per queue item before it moves to
	// the needs-attention sidecar.
	MaxRetries int

	// BackoffBase and BackoffCap shape the retry delay curve
	// min(cap, base * 2^retries).
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// ConflictSkewTolerance is the window within which two timestamps are
	// considered concurrent and overlapping edits defer to manual
	// resolution.
	ConflictSkewTolerance time.Duration

	// RequestTimeout bounds each push or pull call.
	RequestTimeout time.Duration

	// TombstoneRetention is how long remote-acknowledged tombstones are kept
	// before physical purge.
	TombstoneRetention time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoSyncInterval:      15 * time.Minute,
		MaxBatchSize:          50,
		MaxRetries:            5,
		BackoffBase:           30 * time.Second,
		BackoffCap:            30 * time.Minute,
		ConflictSkewTolerance: 5 * time.Second,
		RequestTimeout:        30 * time.Second,
		TombstoneRetention:    30 * 24 * time.Hour,
	}
}
