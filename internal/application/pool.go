// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// resultsBuffer bounds the replies queued between workers and the coordinator.
const resultsBuffer = 1024

// WorkerHandle is one running, layer-bound worker.
type WorkerHandle struct {
	layer    domain.Layer
	conn     output.WorkerConn
	loaded   atomic.Bool
	loadOnce sync.Once
	loadedCh chan error
	killOnce sync.Once
}

func newWorkerHandle(layer domain.Layer) *WorkerHandle {
	return &WorkerHandle{
		layer:    layer,
		loadedCh: make(chan error, 1),
	}
}

// Layer returns the layer the worker serves.
func (h *WorkerHandle) Layer() domain.Layer {
	return h.layer
}

// Ready returns true once the worker acknowledged its load request.
func (h *WorkerHandle) Ready() bool {
	return h.loaded.Load()
}

// Send delivers a search or lookup request. It fails with
// domain.ErrWorkerNotReady before the worker has loaded.
func (h *WorkerHandle) Send(msg domain.Message) error {
	if !h.Ready() {
		return &domain.WorkerError{Layer: h.layer, Op: "send", Err: domain.ErrWorkerNotReady}
	}
	if err := h.conn.Send(msg); err != nil {
		return &domain.WorkerError{Layer: h.layer, Op: "send", Err: err}
	}
	return nil
}

// markLoaded records the outcome of the load request. Only the first
// acknowledgment counts.
func (h *WorkerHandle) markLoaded(loadErr string) bool {
	first := false
	h.loadOnce.Do(func() {
		first = true
		if loadErr != "" {
			h.loadedCh <- errors.New(loadErr)
			return
		}
		h.loaded.Store(true)
		h.loadedCh <- nil
	})
	return first
}

func (h *WorkerHandle) kill() error {
	var err error
	h.killOnce.Do(func() {
		h.loaded.Store(false)
		if h.conn != nil {
			err = h.conn.Kill()
		}
	})
	return err
}

// WorkerPoolConfig holds configuration for the worker pool.
type WorkerPoolConfig struct {
	StartupTimeout time.Duration // Max wait for a loaded acknowledgment, 0 waits forever
	ReloadGrace    time.Duration // Delay before a replaced worker is killed
}

// WorkerPool owns one worker per configured layer.
type WorkerPool struct {
	mu        sync.RWMutex
	workers   map[domain.Layer]*WorkerHandle
	layers    []domain.Layer
	directory string

	launcher output.WorkerLauncher
	metrics  output.MetricsCollector
	logger   *slog.Logger
	config   WorkerPoolConfig

	results   chan domain.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(
	launcher output.WorkerLauncher,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg WorkerPoolConfig,
) *WorkerPool {
	return &WorkerPool{
		workers:  make(map[domain.Layer]*WorkerHandle),
		launcher: launcher,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
		results:  make(chan domain.Message, resultsBuffer),
		done:     make(chan struct{}),
	}
}

// Start launches a worker per layer and waits until every one of them has
// loaded its index. Layers load concurrently. Any failure terminates the
// workers already started.
func (p *WorkerPool) Start(ctx context.Context, directory string, layers []domain.Layer) error {
	if err := CheckDataDirectory(directory); err != nil {
		return err
	}

	p.mu.Lock()
	p.directory = directory
	p.layers = append([]domain.Layer(nil), layers...)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, layer := range layers {
		g.Go(func() error {
			h, err := p.startWorker(gctx, directory, layer)
			if err != nil {
				return err
			}
			p.mu.Lock()
			p.workers[layer] = h
			p.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.Terminate()
		return err
	}

	p.updateMetrics()
	p.logger.Info("worker pool loading completed", "layers", layers)
	return nil
}

// startWorker launches one worker and performs the load handshake.
func (p *WorkerPool) startWorker(ctx context.Context, directory string, layer domain.Layer) (*WorkerHandle, error) {
	start := time.Now()
	h := newWorkerHandle(layer)

	conn, err := p.launcher.Launch(ctx, layer, p.sinkFor(h))
	if err != nil {
		return nil, &domain.WorkerError{Layer: layer, Op: "launch", Err: err}
	}
	h.conn = conn

	if err := conn.Send(domain.NewLoadMessage(layer, directory)); err != nil {
		_ = h.kill()
		return nil, &domain.WorkerError{Layer: layer, Op: "load", Err: err}
	}

	var timeout <-chan time.Time
	if p.config.StartupTimeout > 0 {
		timer := time.NewTimer(p.config.StartupTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-h.loadedCh:
		if err != nil {
			_ = h.kill()
			return nil, &domain.WorkerError{Layer: layer, Op: "load", Err: err}
		}
	case <-timeout:
		_ = h.kill()
		return nil, &domain.WorkerError{Layer: layer, Op: "load", Err: domain.ErrStartupTimeout}
	case <-ctx.Done():
		_ = h.kill()
		return nil, &domain.WorkerError{Layer: layer, Op: "load", Err: ctx.Err()}
	}

	duration := time.Since(start)
	p.metrics.ObserveWorkerLoad(layer, duration)
	p.logger.Info("worker loaded", "layer", layer, "duration", duration)
	return h, nil
}

// sinkFor routes the messages of one worker: loaded acknowledgments are
// consumed here, results are queued for the coordinator.
func (p *WorkerPool) sinkFor(h *WorkerHandle) output.MessageSink {
	return func(msg domain.Message) {
		switch msg.Type {
		case domain.MessageLoaded:
			if !h.markLoaded(msg.Error) {
				p.logger.Warn("duplicate loaded message", "layer", h.layer)
			}
		case domain.MessageResults:
			select {
			case p.results <- msg:
			case <-p.done:
			}
		default:
			p.logger.Warn("unexpected worker message", "layer", h.layer, "type", msg.Type)
		}
	}
}

// Results returns the stream of result messages from every worker.
func (p *WorkerPool) Results() <-chan domain.Message {
	return p.results
}

// Handle returns the worker serving layer.
func (p *WorkerPool) Handle(layer domain.Layer) (*WorkerHandle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.workers[layer]
	return h, ok
}

// Layers returns the configured layers.
func (p *WorkerPool) Layers() []domain.Layer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Layer(nil), p.layers...)
}

// ReadyCount returns the number of loaded workers.
func (p *WorkerPool) ReadyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ready := 0
	for _, h := range p.workers {
		if h.Ready() {
			ready++
		}
	}
	return ready
}

// Reload replaces the worker of layer with a freshly loaded one. The old
// worker keeps answering until it is killed after the reload grace period.
func (p *WorkerPool) Reload(ctx context.Context, layer domain.Layer) error {
	p.mu.RLock()
	directory := p.directory
	known := domain.ContainsLayer(p.layers, layer)
	p.mu.RUnlock()

	if !known {
		return fmt.Errorf("reloading %s: %w", layer, domain.ErrLayerNotFound)
	}

	if p.terminated() {
		return domain.ErrTerminated
	}

	p.logger.Info("reloading worker", "layer", layer)
	h, err := p.startWorker(ctx, directory, layer)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.terminated() {
		p.mu.Unlock()
		if err := h.kill(); err != nil {
			p.logger.Warn("failed to kill reloaded worker", "layer", layer, "error", err)
		}
		return domain.ErrTerminated
	}
	old := p.workers[layer]
	p.workers[layer] = h
	p.mu.Unlock()

	if old != nil {
		time.AfterFunc(p.config.ReloadGrace, func() {
			if err := old.kill(); err != nil {
				p.logger.Warn("failed to kill replaced worker", "layer", layer, "error", err)
			}
		})
	}

	p.updateMetrics()
	return nil
}

func (p *WorkerPool) terminated() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate kills every worker without draining in-flight requests.
func (p *WorkerPool) Terminate() {
	p.closeOnce.Do(func() {
		close(p.done)
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	for layer, h := range p.workers {
		if err := h.kill(); err != nil {
			p.logger.Warn("failed to kill worker", "layer", layer, "error", err)
		}
	}
	p.logger.Info("all workers terminated", "count", len(p.workers))

	p.metrics.SetWorkersReady(0)
}

// updateMetrics updates the metrics collector with the ready worker count.
func (p *WorkerPool) updateMetrics() {
	p.metrics.SetWorkersReady(p.ReadyCount())
}

// CheckDataDirectory fails with domain.ErrDataDirectory unless directory
// names an existing directory.
func CheckDataDirectory(directory string) error {
	if directory == "" {
		return fmt.Errorf("no data directory configured: %w", domain.ErrDataDirectory)
	}
	info, err := os.Stat(directory)
	if err != nil {
		return fmt.Errorf("%s: %w", err, domain.ErrDataDirectory)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", directory, domain.ErrDataDirectory)
	}
	return nil
}
