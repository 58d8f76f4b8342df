package application

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// DatasetSyncer copies layer datasets from object storage into the local
// data directory, skipping files that did not change since the last sync.
type DatasetSyncer struct {
	mu        sync.Mutex
	store     output.DatasetStore
	metrics   output.MetricsCollector
	logger    *slog.Logger
	directory string
	layers    []domain.Layer
	seen      map[string]string // objectKey -> version
}

// NewDatasetSyncer creates a new dataset syncer.
func NewDatasetSyncer(
	store output.DatasetStore,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	directory string,
	layers []domain.Layer,
) *DatasetSyncer {
	return &DatasetSyncer{
		store:     store,
		metrics:   metrics,
		logger:    logger,
		directory: directory,
		layers:    layers,
		seen:      make(map[string]string),
	}
}

// Sync downloads new or changed datasets of configured layers and returns
// the layers whose datasets changed, sorted by name.
func (s *DatasetSyncer) Sync(ctx context.Context) ([]domain.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	objects, err := s.store.List(ctx)
	s.metrics.ObserveStorageDuration("list", time.Since(start))
	if err != nil {
		s.metrics.IncStorageOperations("list", false)
		return nil, &domain.StorageError{Operation: "list", Err: err}
	}
	s.metrics.IncStorageOperations("list", true)

	changed := make(map[domain.Layer]bool)
	for _, obj := range objects {
		layer, ok := domain.LayerFromDatasetPath(obj.Key)
		if !ok || !domain.ContainsLayer(s.layers, layer) {
			s.logger.Debug("skipping dataset of unconfigured layer", "key", obj.Key)
			continue
		}

		version := objectVersion(obj)
		if s.seen[obj.Key] == version {
			continue
		}

		dest := filepath.Join(s.directory, filepath.Base(obj.Key))
		start := time.Now()
		err := s.store.Download(ctx, obj.Key, dest)
		s.metrics.ObserveStorageDuration("download", time.Since(start))
		if err != nil {
			s.metrics.IncStorageOperations("download", false)
			s.logger.Error("failed to download dataset", "key", obj.Key, "error", err)
			continue
		}
		s.metrics.IncStorageOperations("download", true)

		s.seen[obj.Key] = version
		changed[layer] = true
		s.logger.Info("dataset synced", "key", obj.Key, "layer", layer, "size", obj.Size)
	}

	layers := make([]domain.Layer, 0, len(changed))
	for layer := range changed {
		layers = append(layers, layer)
	}
	sort.Strings(layers)
	return layers, nil
}

// objectVersion returns a change marker for an object.
func objectVersion(obj output.StorageObject) string {
	if obj.ETag != "" {
		return obj.ETag
	}
	return time.Unix(obj.LastModified, 0).UTC().Format(time.RFC3339) + "/" + strconv.FormatInt(obj.Size, 10)
}

