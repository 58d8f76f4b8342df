package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jobrunner/pipservice/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFsnotifyOpToOperation(t *testing.T) {
	tests := []struct {
		name string
		op   fsnotify.Op
		want Operation
	}{
		{"create", fsnotify.Create, OpCreate},
		{"write", fsnotify.Write, OpModify},
		{"remove", fsnotify.Remove, OpDelete},
		{"rename", fsnotify.Rename, OpDelete},
		{"chmod", fsnotify.Chmod, OpModify},
		{"create|write", fsnotify.Create | fsnotify.Write, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fsnotifyOpToOperation(tt.op); got != tt.want {
				t.Errorf("fsnotifyOpToOperation(%v) = %v, want %v", tt.op, got, tt.want)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Operation(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestMergeOperations(t *testing.T) {
	tests := []struct {
		existing, next, want Operation
	}{
		{OpCreate, OpModify, OpCreate},
		{OpModify, OpModify, OpModify},
		{OpModify, OpDelete, OpDelete},
		{OpDelete, OpCreate, OpCreate},
		{OpDelete, OpModify, OpCreate},
		{OpCreate, OpDelete, OpDelete},
	}

	for _, tt := range tests {
		if got := mergeOperations(tt.existing, tt.next); got != tt.want {
			t.Errorf("mergeOperations(%v, %v) = %v, want %v", tt.existing, tt.next, got, tt.want)
		}
	}
}

func TestHandleFsEventFiltersLayers(t *testing.T) {
	w := &Watcher{
		logger:   newTestLogger(),
		layers:   []domain.Layer{"country", "region"},
		debounce: time.Second,
		pending:  make(map[domain.Layer]*pendingEvent),
	}

	events := []fsnotify.Event{
		{Name: "/data/region.geojson", Op: fsnotify.Write},
		{Name: "/data/region.geojson", Op: fsnotify.Write},
		{Name: "/data/country.db", Op: fsnotify.Create},
		{Name: "/data/locality.geojson", Op: fsnotify.Write},
		{Name: "/data/.region.geojson.123.part", Op: fsnotify.Create},
		{Name: "/data/README.md", Op: fsnotify.Write},
	}
	for _, e := range events {
		w.handleFsEvent(e)
	}

	if len(w.pending) != 2 {
		t.Fatalf("pending = %d layers, want 2", len(w.pending))
	}
	if w.pending["country"].op != OpCreate {
		t.Errorf("country op = %v, want create", w.pending["country"].op)
	}

	// Nothing is due before the debounce period has passed
	if got := w.due(time.Now()); len(got) != 0 {
		t.Errorf("due() = %v, want none", got)
	}
	got := w.due(time.Now().Add(2 * time.Second))
	if len(got) != 2 {
		t.Fatalf("due() = %v, want 2 events", got)
	}
	if len(w.pending) != 0 {
		t.Errorf("pending not drained: %v", w.pending)
	}
}

type mockReloader struct {
	mu     sync.Mutex
	layers []domain.Layer
	err    error
}

func (m *mockReloader) Reload(_ context.Context, layer domain.Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = append(m.layers, layer)
	return m.err
}

func (m *mockReloader) reloaded() []domain.Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Layer(nil), m.layers...)
}

func TestReloadHandler(t *testing.T) {
	r := &mockReloader{}
	h := ReloadHandler(r, newTestLogger())

	if err := h(context.Background(), Event{Layer: "region", Operation: OpModify}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := h(context.Background(), Event{Layer: "country", Operation: OpDelete}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := r.reloaded(); len(got) != 1 || got[0] != "region" {
		t.Errorf("reloaded = %v, want [region]", got)
	}

	r.err = errors.New("boom")
	if err := h(context.Background(), Event{Layer: "region", Operation: OpCreate}); err == nil {
		t.Error("expected reload error")
	}
}

func TestWatcherReloadsChangedDataset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "region.geojson")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := &mockReloader{}
	w, err := New(Config{
		Directory: dir,
		Layers:    []domain.Layer{"region"},
		Debounce:  50 * time.Millisecond,
	}, ReloadHandler(r, newTestLogger()), newTestLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		cancel()
		_ = w.Stop()
	}()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.reloaded()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := r.reloaded()
	if len(got) != 1 || got[0] != "region" {
		t.Errorf("reloaded = %v, want a single debounced [region]", got)
	}
}
