package application

import (
	"context"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	pool        *WorkerPool
	coordinator *Coordinator
}

// NewHealthService creates a new health service.
func NewHealthService(pool *WorkerPool, coordinator *Coordinator) *HealthService {
	return &HealthService{
		pool:        pool,
		coordinator: coordinator,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true // Basic health check
}

// IsReady returns true once every configured layer has a loaded worker.
func (s *HealthService) IsReady(_ context.Context) bool {
	layers := s.pool.Layers()
	return len(layers) > 0 && s.pool.ReadyCount() == len(layers)
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := make(map[string]string)
	for _, layer := range s.pool.Layers() {
		components["worker:"+layer] = s.workerStatus(layer)
	}

	inFlight := 0
	if s.coordinator != nil {
		inFlight = s.coordinator.InFlight()
	}

	return input.HealthDetails{
		Healthy:         s.IsHealthy(ctx),
		Ready:           s.IsReady(ctx),
		WorkersTotal:    len(s.pool.Layers()),
		WorkersReady:    s.pool.ReadyCount(),
		QueriesInFlight: inFlight,
		Components:      components,
	}
}

// LayerHealth contains health info for a single layer worker.
type LayerHealth struct {
	Layer domain.Layer `json:"layer"`
	Ready bool         `json:"ready"`
}

// GetLayerHealth returns health info for all configured layers.
func (s *HealthService) GetLayerHealth(_ context.Context) []LayerHealth {
	layers := s.pool.Layers()
	health := make([]LayerHealth, len(layers))
	for i, layer := range layers {
		h, ok := s.pool.Handle(layer)
		health[i] = LayerHealth{
			Layer: layer,
			Ready: ok && h.Ready(),
		}
	}
	return health
}

func (s *HealthService) workerStatus(layer domain.Layer) string {
	if h, ok := s.pool.Handle(layer); ok && h.Ready() {
		return "ok"
	}
	return "not ready"
}
