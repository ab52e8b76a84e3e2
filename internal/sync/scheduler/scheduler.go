// Package scheduler drives the sync client in the background: a periodic drain while
// online, and an immediate drain whenever connectivity comes back.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	syncpkg "github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/connectivity"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine         syncpkg.SyncEngineInterface
	monitor        connectivity.Monitor
	syncInterval   time.Duration
	syncTimeout    time.Duration
	triggerCh      chan struct{}
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.RWMutex
	isRunning      bool
	lastSyncTime   time.Time
	syncInProgress bool
	unsubscribe    func()
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to drain while online (default: 1 minute)
	SyncTimeout  time.Duration // Upper bound on one drain pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 1 * time.Minute,
		SyncTimeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, monitor connectivity.Monitor, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	defaults := DefaultSchedulerConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = defaults.SyncTimeout
	}

	return &Scheduler{
		engine:       engine,
		monitor:      monitor,
		syncInterval: config.SyncInterval,
		syncTimeout:  config.SyncTimeout,
		triggerCh:    make(chan struct{}, 1),
	}
}

// Start starts the background loop. It is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	unsubscribe := s.monitor.Subscribe(func(online bool) {
		logging.Info("Online status changed", map[string]interface{}{"is_online": online})
		if online {
			s.trigger()
		}
	})
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
}

// Stop stops the background loop and waits for an in-flight drain to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.monitor.IsOnline() {
				logging.Debug("Skipping periodic sync - offline", nil)
				continue
			}
			s.runSync(ctx, "periodic")
		case <-s.triggerCh:
			s.runSync(ctx, "triggered")
		}
	}
}

// trigger queues one drain unless one is already queued.
func (s *Scheduler) trigger() bool {
	select {
	case s.triggerCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// runSync executes one drain pass.
func (s *Scheduler) runSync(ctx context.Context, reason string) {
	if !s.monitor.IsOnline() {
		logging.Debug("Skipping sync - offline", map[string]interface{}{"reason": reason})
		return
	}

	result, err := s.sync(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrDisconnected) {
			return
		}
		logging.ErrorWithCode("Background sync failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"reason": reason})
		return
	}

	logging.Info("Background sync completed",
		map[string]interface{}{
			"reason":    reason,
			"uploaded":  result.Uploaded,
			"failed":    result.Failed,
			"pending":   result.Pending,
			"conflicts": result.Conflicts,
		})
}

func (s *Scheduler) sync(ctx context.Context) (*syncpkg.SyncResult, error) {
	s.mu.Lock()
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()
	return result, nil
}

// TriggerSync asks the background loop for an immediate drain.
// Returns false if the scheduler is stopped, a drain is running, or one is already queued.
func (s *Scheduler) TriggerSync() bool {
	s.mu.RLock()
	running := s.isRunning
	busy := s.syncInProgress
	s.mu.RUnlock()

	if !running || busy {
		return false
	}
	return s.trigger()
}

// SyncNow drains immediately and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	result, err := s.sync(ctx)
	if err != nil {
		return result, err
	}

	logging.Info("Manual sync completed",
		map[string]interface{}{
			"uploaded": result.Uploaded,
			"failed":   result.Failed,
			"pending":  result.Pending,
		})
	return result, nil
}

// SchedulerStatus is a snapshot of the scheduler and the client it drives.
type SchedulerStatus struct {
	IsRunning      bool               `json:"is_running"`
	IsOnline       bool               `json:"is_online"`
	LastSyncTime   *time.Time         `json:"last_sync_time,omitempty"`
	SyncInProgress bool               `json:"sync_in_progress"`
	SyncStatus     syncpkg.SyncStatus `json:"sync_status"`
	PendingItems   int                `json:"pending_items"`
	LastError      string             `json:"last_error,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		SyncInProgress: s.syncInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	status.IsOnline = s.monitor.IsOnline()
	status.SyncStatus = s.engine.Status()
	status.PendingItems = s.engine.PendingChanges()
	if err := s.engine.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
