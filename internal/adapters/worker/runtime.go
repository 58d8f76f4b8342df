// Package worker runs layer workers and connects them to the worker pool,
// either as child processes speaking JSON lines or as in-process goroutines.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// Runtime is the worker side of the protocol. It owns the index of
// exactly one layer.
type Runtime struct {
	loader output.IndexLoader
	logger *slog.Logger

	mu    sync.RWMutex
	layer domain.Layer
	index output.LayerIndex
}

// NewRuntime creates a worker runtime that builds its index with loader.
func NewRuntime(loader output.IndexLoader, logger *slog.Logger) *Runtime {
	return &Runtime{
		loader: loader,
		logger: logger,
	}
}

// Handle processes one inbound message and returns the reply, if any.
// Every search and lookupById gets exactly one results reply.
func (r *Runtime) Handle(ctx context.Context, msg domain.Message) (domain.Message, bool) {
	switch msg.Type {
	case domain.MessageLoad:
		return r.load(ctx, msg), true

	case domain.MessageSearch:
		layer, idx := r.current()
		var result *domain.Result
		if idx != nil && msg.Coordinate != nil {
			result = idx.Search(*msg.Coordinate)
		}
		return domain.NewResultsMessage(msg, layer, result), true

	case domain.MessageLookupByID:
		layer, idx := r.current()
		var result *domain.Result
		if idx != nil {
			result = idx.LookupByID(msg.CountryID)
		}
		return domain.NewResultsMessage(msg, layer, result), true

	default:
		r.logger.Warn("ignoring unexpected message", "type", msg.Type)
		return domain.Message{}, false
	}
}

func (r *Runtime) load(ctx context.Context, msg domain.Message) domain.Message {
	reply := domain.Message{Type: domain.MessageLoaded, Layer: msg.Layer}

	idx, err := r.loader.Load(ctx, msg.Directory, msg.Layer)
	if err != nil {
		r.logger.Error("failed to load layer", "layer", msg.Layer, "directory", msg.Directory, "error", err)
		reply.Error = err.Error()
		return reply
	}

	r.mu.Lock()
	r.layer = msg.Layer
	r.index = idx
	r.mu.Unlock()

	r.logger.Info("layer loaded", "layer", msg.Layer, "places", idx.Len())
	return reply
}

func (r *Runtime) current() (domain.Layer, output.LayerIndex) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.layer, r.index
}

// Serve reads JSON-line messages from in and writes replies to out until
// in is exhausted or ctx ends.
func (r *Runtime) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(in)
	enc := json.NewEncoder(out)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var msg domain.Message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding message: %w", err)
		}

		reply, ok := r.Handle(ctx, msg)
		if !ok {
			continue
		}
		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("encoding reply: %w", err)
		}
	}
}
