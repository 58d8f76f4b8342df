// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"

	"github.com/jobrunner/pipservice/internal/domain"
)

// MessageSink receives every message a worker emits. Implementations must
// be safe for concurrent use by several workers.
type MessageSink func(msg domain.Message)

// WorkerConn is a running, layer-bound worker reachable only through messages.
type WorkerConn interface {
	// Send delivers a message to the worker without waiting for a reply.
	Send(msg domain.Message) error

	// Kill stops the worker immediately.
	Kill() error
}

// WorkerLauncher starts isolated layer workers.
type WorkerLauncher interface {
	// Launch starts a worker for layer. Messages the worker emits are
	// passed to sink until the worker stops.
	Launch(ctx context.Context, layer domain.Layer, sink MessageSink) (WorkerConn, error)
}

// LayerIndex is a loaded point-in-polygon index for one layer.
type LayerIndex interface {
	// Search returns the polygon containing coord, or nil.
	Search(coord domain.Coordinate) *domain.Result

	// LookupByID returns the polygon with the given id, or nil.
	LookupByID(id int64) *domain.Result

	// Len returns the number of indexed polygons.
	Len() int
}

// IndexLoader builds the index of a layer from a dataset directory.
type IndexLoader interface {
	Load(ctx context.Context, directory string, layer domain.Layer) (LayerIndex, error)
}
