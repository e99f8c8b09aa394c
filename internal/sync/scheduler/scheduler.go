// Package scheduler decides when an automatic sync pass runs: it watches
// connectivity, drives the periodic timer and exposes the manual trigger.
// Serialization of passes is the engine's job, not the scheduler's.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
	"github.com/sayantanroy47/tasky-sync/internal/logging"
	syncpkg "github.com/sayantanroy47/tasky-sync/internal/sync"
)

// Runner is the slice of the engine the scheduler drives.
type Runner interface {
	RunPass(ctx context.Context) (*syncpkg.Summary, error)
	Cancel()
}

// Scheduler triggers sync passes on a timer when online and applies backoff
// after consecutive failures so a broken remote is not hammered.
type Scheduler struct {
	engine   Runner
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	nextAttempt  time.Time
	failures     int
	lastSyncTime time.Time

	failureBackoff *backoff.ExponentialBackOff
}

// Config holds scheduler options.
type Config struct {
	// AutoSyncInterval is the periodic trigger; 0 disables automatic sync.
	AutoSyncInterval time.Duration
	// FailureBackoffBase/Cap shape the delay applied after consecutive
	// failed passes.
	FailureBackoffBase time.Duration
	FailureBackoffCap  time.Duration
}

// DefaultConfig returns default scheduler options.
func DefaultConfig() *Config {
	return &Config{
		AutoSyncInterval:   15 * time.Minute,
		FailureBackoffBase: time.Minute,
		FailureBackoffCap:  time.Hour,
	}
}

// New creates a Scheduler.
func New(engine Runner, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.FailureBackoffBase
	b.MaxInterval = cfg.FailureBackoffCap
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0

	return &Scheduler{
		engine:         engine,
		interval:       cfg.AutoSyncInterval,
		stopCh:         make(chan struct{}),
		isOnline:       true,
		failureBackoff: b,
	}
}

// Start launches the periodic trigger loop. A zero interval disables
// automatic passes; manual triggers still work.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	if s.interval <= 0 {
		logging.Info("automatic sync disabled", nil)
		return
	}

	s.wg.Add(1)
	go s.loop(ctx)
	logging.Info("sync scheduler started", map[string]interface{}{
		"interval_seconds": int(s.interval.Seconds()),
	})
}

// Stop halts the trigger loop and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	logging.Info("sync scheduler stopped", nil)
}

// SetOnline feeds the connectivity observation. Going online resets the
// failure backoff so the next tick syncs promptly.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isOnline == online {
		return
	}
	s.isOnline = online
	if online {
		s.failures = 0
		s.nextAttempt = time.Time{}
		s.failureBackoff.Reset()
	}
	logging.Info("connectivity changed", map[string]interface{}{
		"online": online,
	})
}

// IsOnline reports the last observed connectivity.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// LastSyncTime returns when the last successful pass finished.
func (s *Scheduler) LastSyncTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime
}

// TriggerSync runs a pass now, regardless of the timer. Returns
// ErrSyncInProgress if one is already running.
func (s *Scheduler) TriggerSync(ctx context.Context) (*syncpkg.Summary, error) {
	return s.run(ctx)
}

// CancelSync requests cancellation of the in-flight pass.
func (s *Scheduler) CancelSync() {
	s.engine.Cancel()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			online := s.isOnline
			waiting := time.Now().Before(s.nextAttempt)
			s.mu.RUnlock()

			if !online || waiting {
				continue
			}
			if _, err := s.run(ctx); err != nil && !apperrors.Is(err, apperrors.ErrSyncInProgress) {
				logging.Error("periodic sync failed", err, nil)
			}
		}
	}
}

func (s *Scheduler) run(ctx context.Context) (*syncpkg.Summary, error) {
	summary, err := s.engine.RunPass(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.failures = 0
		s.nextAttempt = time.Time{}
		s.failureBackoff.Reset()
		s.lastSyncTime = time.Now()
	case apperrors.Is(err, apperrors.ErrSyncInProgress):
		// someone else is syncing, nothing to back off from
	default:
		s.failures++
		delay := s.failureBackoff.NextBackOff()
		s.nextAttempt = time.Now().Add(delay)
	}
	return summary, err
}
