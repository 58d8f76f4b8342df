package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

func newUnstartedPool(launcher *mockLauncher, startupTimeout time.Duration) *WorkerPool {
	return NewWorkerPool(launcher, &output.NoOpMetrics{}, newTestLogger(), WorkerPoolConfig{
		StartupTimeout: startupTimeout,
	})
}

func TestWorkerPoolStart(t *testing.T) {
	launcher := newMockLauncher()
	pool := newTestPool(t, launcher, "country", "region", "macroregion")

	if got := pool.ReadyCount(); got != 3 {
		t.Errorf("ReadyCount() = %d, want 3", got)
	}

	for _, layer := range []domain.Layer{"country", "region", "macroregion"} {
		h, ok := pool.Handle(layer)
		if !ok {
			t.Fatalf("no handle for %s", layer)
		}
		if !h.Ready() {
			t.Errorf("handle %s should be ready", layer)
		}
		if h.Layer() != layer {
			t.Errorf("Layer() = %s, want %s", h.Layer(), layer)
		}

		sent := launcher.conn(layer).sent
		if len(sent) != 1 || sent[0].Type != domain.MessageLoad || sent[0].Layer != layer {
			t.Errorf("expected one load message for %s, got %+v", layer, sent)
		}
	}

	if _, ok := pool.Handle("bogus"); ok {
		t.Error("unexpected handle for unconfigured layer")
	}
}

func TestWorkerPoolStartErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		directory string
		setup     func(l *mockLauncher)
		wantErr   error
	}{
		{
			name:      "missing directory",
			directory: filepath.Join(dir, "missing"),
			wantErr:   domain.ErrDataDirectory,
		},
		{
			name:      "not a directory",
			directory: file,
			wantErr:   domain.ErrDataDirectory,
		},
		{
			name:      "empty directory path",
			directory: "",
			wantErr:   domain.ErrDataDirectory,
		},
		{
			name:      "startup timeout",
			directory: dir,
			setup:     func(l *mockLauncher) { l.silent["region"] = true },
			wantErr:   domain.ErrStartupTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			launcher := newMockLauncher()
			if tt.setup != nil {
				tt.setup(launcher)
			}
			pool := newUnstartedPool(launcher, 50*time.Millisecond)

			err := pool.Start(context.Background(), tt.directory, []domain.Layer{"country", "region"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorkerPoolStartLoadError(t *testing.T) {
	launcher := newMockLauncher()
	launcher.loadErr["region"] = "region.geojson: no such file"
	pool := newUnstartedPool(launcher, time.Second)

	err := pool.Start(context.Background(), t.TempDir(), []domain.Layer{"country", "region"})
	if err == nil {
		t.Fatal("expected load error")
	}

	var werr *domain.WorkerError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WorkerError, got %T", err)
	}
	if werr.Layer != "region" || werr.Op != "load" {
		t.Errorf("got WorkerError{%s, %s}, want {region, load}", werr.Layer, werr.Op)
	}
	if !launcher.conn("region").isKilled() {
		t.Error("failed worker should be killed")
	}
}

func TestWorkerPoolStartLaunchError(t *testing.T) {
	launcher := newMockLauncher()
	launcher.launchErr = errors.New("exec: not found")
	pool := newUnstartedPool(launcher, time.Second)

	err := pool.Start(context.Background(), t.TempDir(), []domain.Layer{"region"})

	var werr *domain.WorkerError
	if !errors.As(err, &werr) || werr.Op != "launch" {
		t.Errorf("expected launch WorkerError, got %v", err)
	}
}

func TestWorkerPoolStartContextCanceled(t *testing.T) {
	launcher := newMockLauncher()
	launcher.silent["region"] = true
	pool := newUnstartedPool(launcher, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Start(ctx, t.TempDir(), []domain.Layer{"region"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Start() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWorkerHandleSendNotReady(t *testing.T) {
	h := newWorkerHandle("region")

	err := h.Send(domain.NewSearchMessage("q", testCoord))
	if !errors.Is(err, domain.ErrWorkerNotReady) {
		t.Errorf("Send() error = %v, want ErrWorkerNotReady", err)
	}
}

func TestWorkerHandleMarkLoadedOnce(t *testing.T) {
	h := newWorkerHandle("region")

	if !h.markLoaded("") {
		t.Error("first markLoaded should report true")
	}
	if h.markLoaded("") {
		t.Error("second markLoaded should report false")
	}
	if !h.Ready() {
		t.Error("handle should be ready")
	}
}

func TestWorkerPoolReload(t *testing.T) {
	launcher := newMockLauncher()
	pool := newTestPool(t, launcher, "country", "region")

	before, _ := pool.Handle("region")
	oldConn := launcher.conn("region")

	if err := pool.Reload(context.Background(), "region"); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after, _ := pool.Handle("region")
	if after == before {
		t.Error("Reload should swap in a new handle")
	}
	if !after.Ready() {
		t.Error("new handle should be ready")
	}
	if n := launcher.launches("region"); n != 2 {
		t.Errorf("region launched %d times, want 2", n)
	}

	deadline := time.Now().Add(time.Second)
	for !oldConn.isKilled() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !oldConn.isKilled() {
		t.Error("replaced worker should be killed after the grace period")
	}
	if launcher.conn("region").isKilled() {
		t.Error("new worker should stay alive")
	}
}

func TestWorkerPoolReloadErrors(t *testing.T) {
	launcher := newMockLauncher()
	pool := newTestPool(t, launcher, "region")

	if err := pool.Reload(context.Background(), "bogus"); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("Reload(bogus) error = %v, want ErrLayerNotFound", err)
	}

	pool.Terminate()
	if err := pool.Reload(context.Background(), "region"); !errors.Is(err, domain.ErrTerminated) {
		t.Errorf("Reload after Terminate error = %v, want ErrTerminated", err)
	}
}

func TestWorkerPoolReloadTerminatedDuringLoad(t *testing.T) {
	launcher := newMockLauncher()
	pool := newTestPool(t, launcher, "region")

	// The replacement worker holds back its load acknowledgment
	launcher.silent["region"] = true

	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Reload(context.Background(), "region")
	}()

	deadline := time.Now().Add(time.Second)
	for launcher.launches("region") < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := launcher.launches("region"); n != 2 {
		t.Fatalf("region launched %d times, want 2", n)
	}
	replacement := launcher.conn("region")

	pool.Terminate()
	replacement.sink(domain.Message{Type: domain.MessageLoaded, Layer: "region"})

	if err := <-errCh; !errors.Is(err, domain.ErrTerminated) {
		t.Errorf("Reload() error = %v, want ErrTerminated", err)
	}
	if !replacement.isKilled() {
		t.Error("worker loaded after Terminate should be killed")
	}
	if h, _ := pool.Handle("region"); h != nil && h.Ready() {
		t.Error("terminated pool should not hold a ready worker")
	}
}

func TestWorkerPoolTerminate(t *testing.T) {
	launcher := newMockLauncher()
	pool := newTestPool(t, launcher, "country", "region")

	pool.Terminate()

	for _, layer := range []domain.Layer{"country", "region"} {
		if !launcher.conn(layer).isKilled() {
			t.Errorf("worker %s should be killed", layer)
		}
	}
	if got := pool.ReadyCount(); got != 0 {
		t.Errorf("ReadyCount() = %d, want 0", got)
	}

	// Replies after termination are discarded without blocking
	done := make(chan struct{})
	go func() {
		for i := 0; i < resultsBuffer+1; i++ {
			launcher.conn("region").reply(domain.NewSearchMessage("q", testCoord), nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink blocked after Terminate")
	}
}

func TestWorkerPoolLayers(t *testing.T) {
	launcher := newMockLauncher()
	pool := newTestPool(t, launcher, "country", "region")

	layers := pool.Layers()
	layers[0] = "mutated"

	if got := pool.Layers(); got[0] != "country" {
		t.Errorf("Layers() should return a copy, got %v", got)
	}
}
