package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/pipservice/internal/domain"
)

// ErrRateLimited is returned when the sync API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// apiSyncCooldown is the minimum time between two API-triggered syncs.
const apiSyncCooldown = 30 * time.Second

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	LayersChanged   []domain.Layer `json:"layers_changed"`
	LayersReloaded  []domain.Layer `json:"layers_reloaded"`
	SyncedAt        time.Time      `json:"synced_at"`
	NextScheduledAt time.Time      `json:"next_scheduled_at,omitempty"`
}

// LayerReloader restarts the worker of a layer with fresh data.
type LayerReloader interface {
	Reload(ctx context.Context, layer domain.Layer) error
}

// SyncService periodically re-syncs datasets from remote storage and
// reloads the workers of layers whose dataset changed.
type SyncService struct {
	syncer   *DatasetSyncer
	reloader LayerReloader
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	lastAPISync time.Time
	apiMutex    sync.Mutex

	syncOpMutex sync.Mutex

	nextSync time.Time
	syncMu   sync.RWMutex
}

// NewSyncService creates a new sync service.
func NewSyncService(syncer *DatasetSyncer, reloader LayerReloader, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		syncer:   syncer,
		reloader: reloader,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		// Allow an immediate first API call
		lastAPISync: time.Now().Add(-apiSyncCooldown - time.Second),
	}
}

// Start begins the periodic sync scheduler.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextSync(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			if _, err := s.doSync(ctx); err != nil {
				s.logger.Error("sync failed", "error", err)
			}
			s.setNextSync(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the sync service.
func (s *SyncService) Stop() {
	s.logger.Info("stopping sync service")
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// TriggerSync manually triggers a sync. It returns ErrRateLimited when
// called again within the cooldown.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	if time.Since(s.lastAPISync) < apiSyncCooldown {
		return SyncResult{}, ErrRateLimited
	}
	s.lastAPISync = time.Now()

	return s.doSync(ctx)
}

// doSync syncs datasets and reloads the changed layers.
func (s *SyncService) doSync(ctx context.Context) (SyncResult, error) {
	s.syncOpMutex.Lock()
	defer s.syncOpMutex.Unlock()

	changed, err := s.syncer.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{
		LayersChanged:  changed,
		LayersReloaded: make([]domain.Layer, 0, len(changed)),
		SyncedAt:       time.Now(),
	}

	for _, layer := range changed {
		if err := s.reloader.Reload(ctx, layer); err != nil {
			s.logger.Error("failed to reload layer", "layer", layer, "error", err)
			continue
		}
		result.LayersReloaded = append(result.LayersReloaded, layer)
	}

	result.NextScheduledAt = s.getNextSync()
	s.logger.Info("sync completed", "changed", len(changed), "reloaded", len(result.LayersReloaded))
	return result, nil
}

func (s *SyncService) setNextSync(t time.Time) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.nextSync = t
}

func (s *SyncService) getNextSync() time.Time {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.nextSync
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
