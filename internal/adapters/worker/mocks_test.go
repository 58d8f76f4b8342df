package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockIndex implements output.LayerIndex with one polygon-less place.
type mockIndex struct {
	layer domain.Layer
}

func (m *mockIndex) Search(coord domain.Coordinate) *domain.Result {
	if coord.Latitude < 0 {
		return nil
	}
	return &domain.Result{ID: 1, Name: "Match", Placetype: m.layer, Layer: m.layer}
}

func (m *mockIndex) LookupByID(id int64) *domain.Result {
	if id != 85633111 {
		return nil
	}
	return &domain.Result{ID: id, Name: "Germany", Placetype: domain.PlacetypeCountry, Layer: m.layer}
}

func (m *mockIndex) Len() int { return 1 }

// mockLoader implements output.IndexLoader.
type mockLoader struct {
	err   error
	delay time.Duration
}

func (m *mockLoader) Load(ctx context.Context, _ string, layer domain.Layer) (output.LayerIndex, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &mockIndex{layer: layer}, nil
}

var errMissingDataset = errors.New("no dataset")

// recordingSink collects the messages a worker emits.
type recordingSink struct {
	mu   sync.Mutex
	msgs []domain.Message
	ch   chan domain.Message
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan domain.Message, 16)}
}

func (s *recordingSink) sink(msg domain.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	s.ch <- msg
}

func (s *recordingSink) next(t *testing.T) domain.Message {
	t.Helper()
	select {
	case msg := <-s.ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message from worker")
		return domain.Message{}
	}
}
