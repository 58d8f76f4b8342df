package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/input"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// Lookup outcomes, used as metric labels.
const (
	lookupDelivered = "delivered"
	lookupRejected  = "rejected"
	lookupTimeout   = "timeout"
)

// CoordinatorConfig holds configuration for the coordinator.
type CoordinatorConfig struct {
	// LookupTimeout bounds how long a lookup waits for worker replies.
	// Zero disables the bound and a lookup whose worker never replies
	// is never delivered.
	LookupTimeout time.Duration
}

// Coordinator fans lookups out to the layer workers, folds their replies
// and runs the country fallback cascade.
//
// All query state lives in a registry owned by a single goroutine. Lookups,
// worker replies and timeouts reach it over channels and are handled one
// at a time. Callbacks run on that goroutine and must not block.
type Coordinator struct {
	pool    *WorkerPool
	metrics output.MetricsCollector
	logger  *slog.Logger
	timeout time.Duration
	newID   func() string

	queries  map[string]*Query
	inFlight atomic.Int64

	lookups chan *Query
	expired chan string
	stop    chan struct{}
	done    chan struct{}
	endOnce sync.Once

	closeMu sync.RWMutex
	closed  bool
}

// NewCoordinator creates a coordinator over a started pool and starts its loop.
func NewCoordinator(
	pool *WorkerPool,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg CoordinatorConfig,
) *Coordinator {
	c := &Coordinator{
		pool:    pool,
		metrics: metrics,
		logger:  logger,
		timeout: cfg.LookupTimeout,
		newID:   uuid.NewString,
		queries: make(map[string]*Query),
		lookups: make(chan *Query, 256),
		expired: make(chan string, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go c.run()
	return c
}

// Lookup dispatches a lookup for coord. Omitting layers selects every
// configured layer; unknown layers are ignored. The callback is invoked once.
func (c *Coordinator) Lookup(coord domain.Coordinate, callback input.LookupCallback, layers ...domain.Layer) {
	var requested []domain.Layer
	if len(layers) > 0 {
		requested = layers
	}

	search := domain.IntersectLayers(requested, c.pool.Layers())
	q := newQuery(c.newID(), coord, domain.WithoutCountry(search), callback)

	c.closeMu.RLock()
	if c.closed {
		c.closeMu.RUnlock()
		callback(domain.ErrTerminated, nil)
		return
	}
	// The loop keeps draining until End holds closeMu, so this cannot block forever
	c.lookups <- q
	c.closeMu.RUnlock()
}

type lookupReply struct {
	results []domain.Result
	err     error
}

// LookupSync performs a lookup and waits for its answer. When ctx ends
// first the answer is discarded on arrival.
func (c *Coordinator) LookupSync(ctx context.Context, coord domain.Coordinate, layers ...domain.Layer) ([]domain.Result, error) {
	ch := make(chan lookupReply, 1)
	c.Lookup(coord, func(err error, results []domain.Result) {
		ch <- lookupReply{results: results, err: err}
	}, layers...)

	select {
	case r := <-ch:
		return r.results, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Layers returns the configured layers.
func (c *Coordinator) Layers() []domain.Layer {
	return c.pool.Layers()
}

// InFlight returns the number of lookups awaiting replies.
func (c *Coordinator) InFlight() int {
	return int(c.inFlight.Load())
}

// End terminates every worker and stops the coordinator. Lookups still
// awaiting replies are left undelivered; lookups not yet dispatched are
// rejected with domain.ErrTerminated.
func (c *Coordinator) End() {
	c.endOnce.Do(func() {
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()

		c.pool.Terminate()
		close(c.stop)
		<-c.done
		c.rejectQueued()

		if n := c.InFlight(); n > 0 {
			c.logger.Warn("coordinator stopped with undelivered lookups", "count", n)
		}
	})
}

// rejectQueued answers lookups that were queued but never dispatched.
func (c *Coordinator) rejectQueued() {
	for {
		select {
		case q := <-c.lookups:
			q.finish()
			q.callback(domain.ErrTerminated, nil)
		default:
			return
		}
	}
}

// run is the coordinator loop; it is the only writer of the registry.
func (c *Coordinator) run() {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			return
		case q := <-c.lookups:
			c.dispatch(q)
		case msg := <-c.pool.Results():
			c.handleResults(msg)
		case id := <-c.expired:
			c.expire(id)
		}
		c.updateInFlight()
	}
}

// dispatch registers a query and sends one search per non-country layer.
func (c *Coordinator) dispatch(q *Query) {
	handles := make([]*WorkerHandle, 0, len(q.SearchLayers))
	for _, layer := range q.SearchLayers {
		h, ok := c.pool.Handle(layer)
		if !ok || !h.Ready() {
			c.logger.Warn("rejecting lookup, worker not ready", "query", q.ID, "layer", layer)
			c.metrics.IncLookups(lookupRejected)
			q.finish()
			q.callback(&domain.WorkerError{Layer: layer, Op: "dispatch", Err: domain.ErrWorkerNotReady}, nil)
			return
		}
		handles = append(handles, h)
	}

	for c.queries[q.ID] != nil {
		q.ID = c.newID()
	}
	c.queries[q.ID] = q

	if c.timeout > 0 {
		id := q.ID
		q.timer = time.AfterFunc(c.timeout, func() {
			select {
			case c.expired <- id:
			case <-c.done:
			}
		})
	}

	c.logger.Debug("dispatching lookup", "query", q.ID, "coordinate", q.Coordinate.String(), "layers", q.SearchLayers)

	for _, h := range handles {
		c.send(q, h, domain.NewSearchMessage(q.ID, q.Coordinate))
	}

	c.advance(q)
}

// send delivers a request to a worker. A request that cannot be sent is
// answered with an empty reply so the query still completes.
func (c *Coordinator) send(q *Query, h *WorkerHandle, msg domain.Message) {
	if err := h.Send(msg); err != nil {
		c.logger.Error("failed to send request", "query", q.ID, "layer", h.Layer(), "type", msg.Type, "error", err)
		q.accept(domain.NewResultsMessage(msg, h.Layer(), nil))
	}
}

// handleResults folds a worker reply into its query.
func (c *Coordinator) handleResults(msg domain.Message) {
	q, ok := c.queries[msg.QueryID]
	if !ok {
		c.logger.Debug("dropping reply for unknown query", "query", msg.QueryID, "layer", msg.Layer)
		c.metrics.IncDroppedReplies(msg.Layer)
		return
	}

	if !q.accept(msg) {
		c.logger.Warn("dropping unexpected reply", "query", q.ID, "layer", msg.Layer, "request", msg.Request, "state", q.State().String())
		c.metrics.IncDroppedReplies(msg.Layer)
		return
	}

	c.advance(q)
}

// advance applies the fallback policy to a query whose round may be complete.
func (c *Coordinator) advance(q *Query) {
	country, countryAvailable := c.countryWorker()

	act, countryID := q.next(countryAvailable)
	switch act {
	case actionWait:
		return

	case actionCountryPolygon:
		c.logger.Debug("no layer matched, searching country polygons", "query", q.ID)
		c.metrics.IncFallbacks(FallbackCountryPolygon)
		q.beginFallback(domain.MessageSearch)
		c.send(q, country, domain.NewSearchMessage(q.ID, q.Coordinate))

	case actionCountryByID:
		c.logger.Debug("looking up country by id", "query", q.ID, "country_id", countryID)
		c.metrics.IncFallbacks(FallbackCountryByID)
		q.beginFallback(domain.MessageLookupByID)
		c.send(q, country, domain.NewLookupByIDMessage(q.ID, countryID))

	case actionDeliver:
		c.deliver(q, nil)
		return
	}

	// A failed fallback send is folded in synchronously.
	if len(q.pending) == 0 {
		c.advance(q)
	}
}

// countryWorker returns the country worker if one is loaded.
func (c *Coordinator) countryWorker() (*WorkerHandle, bool) {
	h, ok := c.pool.Handle(domain.LayerCountry)
	if !ok || !h.Ready() {
		return nil, false
	}
	return h, true
}

// deliver invokes the callback and removes the query from the registry.
func (c *Coordinator) deliver(q *Query, err error) {
	delete(c.queries, q.ID)
	q.finish()

	status := lookupDelivered
	if errors.Is(err, domain.ErrLookupTimeout) {
		status = lookupTimeout
	}
	c.metrics.IncLookups(status)
	c.metrics.ObserveLookupDuration(time.Since(q.startedAt))

	c.logger.Debug("lookup delivered", "query", q.ID, "results", len(q.Results), "replies", q.LayersCompleted())
	q.callback(err, q.Results)
}

// expire delivers a timed-out query with whatever it gathered.
func (c *Coordinator) expire(id string) {
	q, ok := c.queries[id]
	if !ok {
		return
	}

	c.logger.Warn("lookup timed out", "query", id, "pending", q.Pending(), "timeout", c.timeout)
	c.deliver(q, fmt.Errorf("after %s: %w", c.timeout, domain.ErrLookupTimeout))
}

func (c *Coordinator) updateInFlight() {
	n := len(c.queries)
	if int64(n) != c.inFlight.Load() {
		c.inFlight.Store(int64(n))
		c.metrics.SetQueriesInFlight(n)
	}
}
