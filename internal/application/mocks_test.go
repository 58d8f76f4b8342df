package application

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

// responder computes the automatic reply of a fake worker. A nil batch
// means an empty reply, ok=false means no reply at all.
type responder func(msg domain.Message) (result *domain.Result, ok bool)

// mockLauncher implements output.WorkerLauncher with in-memory workers.
type mockLauncher struct {
	mu        sync.Mutex
	conns     map[domain.Layer][]*mockConn
	loadErr   map[domain.Layer]string
	silent    map[domain.Layer]bool // never acknowledge load
	respond   map[domain.Layer]responder
	launchErr error
}

func newMockLauncher() *mockLauncher {
	return &mockLauncher{
		conns:   make(map[domain.Layer][]*mockConn),
		loadErr: make(map[domain.Layer]string),
		silent:  make(map[domain.Layer]bool),
		respond: make(map[domain.Layer]responder),
	}
}

func (l *mockLauncher) Launch(_ context.Context, layer domain.Layer, sink output.MessageSink) (output.WorkerConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.launchErr != nil {
		return nil, l.launchErr
	}

	conn := &mockConn{
		layer:   layer,
		sink:    sink,
		loadErr: l.loadErr[layer],
		silent:  l.silent[layer],
		respond: l.respond[layer],
	}
	l.conns[layer] = append(l.conns[layer], conn)
	return conn, nil
}

// conn returns the most recent worker connection of layer.
func (l *mockLauncher) conn(layer domain.Layer) *mockConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	conns := l.conns[layer]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (l *mockLauncher) launches(layer domain.Layer) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns[layer])
}

// mockConn implements output.WorkerConn.
type mockConn struct {
	layer   domain.Layer
	sink    output.MessageSink
	loadErr string
	silent  bool
	respond responder

	mu      sync.Mutex
	sent    []domain.Message
	killed  bool
	sendErr error
}

func (c *mockConn) Send(msg domain.Message) error {
	c.mu.Lock()
	if c.sendErr != nil {
		c.mu.Unlock()
		return c.sendErr
	}
	if c.killed {
		c.mu.Unlock()
		return errors.New("worker killed")
	}
	c.sent = append(c.sent, msg)
	respond := c.respond
	c.mu.Unlock()

	if msg.Type == domain.MessageLoad {
		if !c.silent {
			c.sink(domain.Message{Type: domain.MessageLoaded, Layer: c.layer, Error: c.loadErr})
		}
		return nil
	}

	if respond != nil {
		if result, ok := respond(msg); ok {
			c.sink(domain.NewResultsMessage(msg, c.layer, result))
		}
	}
	return nil
}

func (c *mockConn) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = true
	return nil
}

func (c *mockConn) isKilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

func (c *mockConn) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// requests returns the search and lookupById messages sent to the worker.
func (c *mockConn) requests() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.Message
	for _, msg := range c.sent {
		if msg.Type == domain.MessageSearch || msg.Type == domain.MessageLookupByID {
			out = append(out, msg)
		}
	}
	return out
}

// reply answers a request the way a worker would.
func (c *mockConn) reply(req domain.Message, result *domain.Result) {
	c.sink(domain.NewResultsMessage(req, c.layer, result))
}

// waitRequests blocks until the worker received n requests.
func waitRequests(t *testing.T, c *mockConn, n int) []domain.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reqs := c.requests(); len(reqs) >= n {
			return reqs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("worker %s: expected %d requests, got %d", c.layer, n, len(c.requests()))
	return nil
}

// mockStorage implements output.DatasetStore for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	downloads   []string
	downloadErr error
	listErr     error
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]output.StorageObject(nil), m.objects...), nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloads = append(m.downloads, key)
	return os.WriteFile(dest, []byte(key), 0o600)
}

func (m *mockStorage) setObjects(objects []output.StorageObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = objects
}

// mockReloader implements LayerReloader for testing.
type mockReloader struct {
	mu       sync.Mutex
	reloaded []domain.Layer
	err      error
}

func (m *mockReloader) Reload(_ context.Context, layer domain.Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reloaded = append(m.reloaded, layer)
	return nil
}

// newTestPool starts a pool over a temp directory with mock workers.
func newTestPool(t *testing.T, launcher *mockLauncher, layers ...domain.Layer) *WorkerPool {
	t.Helper()

	pool := NewWorkerPool(launcher, &output.NoOpMetrics{}, newTestLogger(), WorkerPoolConfig{
		StartupTimeout: time.Second,
	})
	if err := pool.Start(context.Background(), t.TempDir(), layers); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	t.Cleanup(pool.Terminate)
	return pool
}

// newTestCoordinator starts a coordinator over a mock pool.
func newTestCoordinator(t *testing.T, launcher *mockLauncher, timeout time.Duration, layers ...domain.Layer) (*Coordinator, *WorkerPool) {
	t.Helper()

	pool := newTestPool(t, launcher, layers...)
	c := NewCoordinator(pool, &output.NoOpMetrics{}, newTestLogger(), CoordinatorConfig{LookupTimeout: timeout})
	t.Cleanup(c.End)
	return c, pool
}

// lookupOutcome captures one callback invocation.
type lookupOutcome struct {
	err     error
	results []domain.Result
}

// startLookup runs an asynchronous lookup recording every callback call.
func startLookup(c *Coordinator, coord domain.Coordinate, layers ...domain.Layer) chan lookupOutcome {
	ch := make(chan lookupOutcome, 4)
	c.Lookup(coord, func(err error, results []domain.Result) {
		ch <- lookupOutcome{err: err, results: results}
	}, layers...)
	return ch
}

func awaitOutcome(t *testing.T, ch chan lookupOutcome) lookupOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("lookup callback was not invoked")
		return lookupOutcome{}
	}
}

func assertNoOutcome(t *testing.T, ch chan lookupOutcome, wait time.Duration) {
	t.Helper()
	select {
	case out := <-ch:
		t.Fatalf("unexpected callback invocation: err=%v results=%v", out.err, out.results)
	case <-time.After(wait):
	}
}

func regionResult(id int64, hierarchy ...domain.Hierarchy) *domain.Result {
	return &domain.Result{
		ID:        id,
		Name:      "Region",
		Placetype: "region",
		Layer:     "region",
		Hierarchy: hierarchy,
	}
}

func countryResult(id int64) *domain.Result {
	return &domain.Result{
		ID:        id,
		Name:      "Country",
		Placetype: domain.PlacetypeCountry,
		Layer:     domain.LayerCountry,
		Hierarchy: []domain.Hierarchy{{"country_id": id}},
	}
}
