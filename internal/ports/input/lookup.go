// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/pipservice/internal/domain"
)

// LookupCallback receives the aggregated answer of one lookup. It is
// invoked exactly once per delivered lookup.
type LookupCallback func(err error, results []domain.Result)

// PIPService defines the primary port for point-in-polygon lookups.
type PIPService interface {
	// Lookup dispatches a lookup and returns immediately. The callback
	// receives the results once every awaited layer has replied.
	// Omitting layers selects every configured layer.
	Lookup(coord domain.Coordinate, callback LookupCallback, layers ...domain.Layer)

	// LookupSync performs a lookup and blocks until it is delivered or ctx ends.
	LookupSync(ctx context.Context, coord domain.Coordinate, layers ...domain.Layer) ([]domain.Result, error)

	// Layers returns the configured layers.
	Layers() []domain.Layer

	// End terminates every worker. Lookups still in flight are never delivered.
	End()
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy         bool              // Overall health status
	Ready           bool              // Ready to accept requests
	WorkersTotal    int               // Number of configured layer workers
	WorkersReady    int               // Number of loaded layer workers
	QueriesInFlight int               // Lookups awaiting replies
	Components      map[string]string // Component statuses
}
