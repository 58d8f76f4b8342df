// Package watcher reloads layers when their dataset files change on disk.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jobrunner/pipservice/internal/domain"
)

// Event is a debounced change of a layer's dataset.
type Event struct {
	Layer     domain.Layer
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called once per debounced dataset change.
type Handler func(ctx context.Context, event Event) error

// Reloader restarts the worker of a layer.
type Reloader interface {
	Reload(ctx context.Context, layer domain.Layer) error
}

// ReloadHandler returns a handler reloading the changed layer. Deleted
// datasets are logged and the running worker keeps its index.
func ReloadHandler(r Reloader, logger *slog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		if event.Operation == OpDelete {
			logger.Warn("dataset removed, keeping loaded index", "layer", event.Layer, "path", event.Path)
			return nil
		}
		return r.Reload(ctx, event.Layer)
	}
}

// pendingEvent holds a debounced event.
type pendingEvent struct {
	path      string
	timestamp time.Time
	op        Operation
}

// Watcher watches the data directory for dataset changes of the
// configured layers.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	directory string
	layers    []domain.Layer
	debounce  time.Duration

	mu      sync.Mutex
	pending map[domain.Layer]*pendingEvent
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
}

// Config holds watcher configuration.
type Config struct {
	Directory string
	Layers    []domain.Layer
	Debounce  time.Duration
}

// New creates a new dataset watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		directory: cfg.Directory,
		layers:    cfg.Layers,
		debounce:  cfg.Debounce,
		pending:   make(map[domain.Layer]*pendingEvent),
		done:      make(chan struct{}),
	}, nil
}

// Start starts watching the data directory.
func (w *Watcher) Start(ctx context.Context) error {
	absPath, err := filepath.Abs(w.directory)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}
	w.logger.Info("watching data directory", "path", absPath, "layers", w.layers)

	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher and waits for running handlers.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.wg.Wait()
	})
	return err
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent records an event of a configured layer's dataset.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	layer, ok := domain.LayerFromDatasetPath(event.Name)
	if !ok || !domain.ContainsLayer(w.layers, layer) {
		return
	}

	w.logger.Debug("dataset event", "layer", layer, "path", event.Name, "op", event.Op.String())
	w.record(layer, event.Name, fsnotifyOpToOperation(event.Op))
}

func (w *Watcher) record(layer domain.Layer, path string, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, exists := w.pending[layer]
	if !exists {
		w.pending[layer] = &pendingEvent{path: path, timestamp: time.Now(), op: op}
		return
	}

	existing.timestamp = time.Now()
	existing.path = path
	existing.op = mergeOperations(existing.op, op)
}

// mergeOperations folds a new operation into a pending one. A dataset
// that reappears after a delete counts as created.
func mergeOperations(existing, next Operation) Operation {
	switch {
	case existing == OpDelete && next != OpDelete:
		return OpCreate
	case next == OpDelete:
		return OpDelete
	case existing == OpCreate:
		return OpCreate
	default:
		return next
	}
}

// debounceLoop dispatches events that have been quiet for the debounce period.
func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			for _, event := range w.due(time.Now()) {
				w.dispatch(ctx, event)
			}
		}
	}
}

// due removes and returns the pending events older than the debounce period.
func (w *Watcher) due(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []Event
	for layer, pending := range w.pending {
		if now.Sub(pending.timestamp) < w.debounce {
			continue
		}
		delete(w.pending, layer)
		events = append(events, Event{Layer: layer, Path: pending.path, Operation: pending.op})
	}
	return events
}

func (w *Watcher) dispatch(ctx context.Context, event Event) {
	w.logger.Info("processing dataset change",
		"layer", event.Layer,
		"path", event.Path,
		"operation", event.Operation.String(),
	)

	if err := w.handler(ctx, event); err != nil {
		w.logger.Error("handler error",
			"layer", event.Layer,
			"operation", event.Operation.String(),
			"error", err,
		)
	}
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		// The file is gone from its original location
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		// Write, Chmod, etc. are treated as modify
		return OpModify
	}
}
