package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"io"
	"log/slog"

	"github.com/jobrunner/pipservice/internal/application"
	"github.com/jobrunner/pipservice/internal/config"
	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/input"
)

// mockLookupService implements LookupService for testing.
type mockLookupService struct {
	results []domain.Result
	err     error
	layers  []domain.Layer

	gotCoord  domain.Coordinate
	gotLayers []domain.Layer
	calls     int
}

func (m *mockLookupService) LookupSync(_ context.Context, coord domain.Coordinate, layers ...domain.Layer) ([]domain.Result, error) {
	m.calls++
	m.gotCoord = coord
	m.gotLayers = layers
	return m.results, m.err
}

func (m *mockLookupService) Layers() []domain.Layer {
	return m.layers
}

// mockHealthService implements HealthService for testing.
type mockHealthService struct {
	healthy bool
	ready   bool
	layers  []application.LayerHealth
}

func (m *mockHealthService) IsHealthy(_ context.Context) bool {
	return m.healthy
}

func (m *mockHealthService) IsReady(_ context.Context) bool {
	return m.ready
}

func (m *mockHealthService) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:      m.healthy,
		Ready:        m.ready,
		WorkersTotal: len(m.layers),
		Components:   map[string]string{"worker:region": "ok"},
	}
}

func (m *mockHealthService) GetLayerHealth(_ context.Context) []application.LayerHealth {
	return m.layers
}

// mockSyncTrigger implements SyncTrigger for testing.
type mockSyncTrigger struct {
	result application.SyncResult
	err    error
}

func (m *mockSyncTrigger) TriggerSync(_ context.Context) (application.SyncResult, error) {
	return m.result, m.err
}

func newTestServer(lookups *mockLookupService, health *mockHealthService, sync SyncTrigger, origins ...string) *Server {
	cfg := config.ServerConfig{
		Host: "127.0.0.1",
		Port: 3102,
		CORS: config.CORSConfig{AllowedOrigins: origins},
	}
	return NewServer(cfg, lookups, health, sync, slog.New(slog.NewTextHandler(io.Discard, nil)))
}
