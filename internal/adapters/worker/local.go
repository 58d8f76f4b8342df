package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// LocalLauncher runs every worker as a goroutine in the current process.
type LocalLauncher struct {
	loader output.IndexLoader
	logger *slog.Logger
}

// NewLocalLauncher creates an in-process launcher.
func NewLocalLauncher(loader output.IndexLoader, logger *slog.Logger) *LocalLauncher {
	return &LocalLauncher{
		loader: loader,
		logger: logger,
	}
}

// Launch implements output.WorkerLauncher.
func (l *LocalLauncher) Launch(ctx context.Context, layer domain.Layer, sink output.MessageSink) (output.WorkerConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &localConn{
		inbox:  newMailbox(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	rt := NewRuntime(l.loader, l.logger.With("layer", layer))
	go c.run(runCtx, rt, sink)

	return c, nil
}

// localConn is the pool side of an in-process worker.
type localConn struct {
	inbox    *mailbox
	cancel   context.CancelFunc
	done     chan struct{}
	killOnce sync.Once
}

// Send implements output.WorkerConn.
func (c *localConn) Send(msg domain.Message) error {
	return c.inbox.put(msg)
}

// Kill implements output.WorkerConn. A load in progress is abandoned.
func (c *localConn) Kill() error {
	c.killOnce.Do(func() {
		c.inbox.close()
		c.cancel()
	})
	return nil
}

func (c *localConn) run(ctx context.Context, rt *Runtime, sink output.MessageSink) {
	defer close(c.done)

	for {
		batch, ok := c.inbox.take()
		if !ok {
			return
		}
		for _, msg := range batch {
			reply, ok := rt.Handle(ctx, msg)
			if ctx.Err() != nil {
				return
			}
			if ok {
				sink(reply)
			}
		}
	}
}
