package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// ProcessLauncher starts every worker as a child process that speaks
// JSON lines on stdin/stdout. Worker logs go to the parent's stderr.
type ProcessLauncher struct {
	executable string
	args       []string
	logger     *slog.Logger
}

// NewProcessLauncher creates a launcher running executable with args.
func NewProcessLauncher(executable string, args []string, logger *slog.Logger) *ProcessLauncher {
	return &ProcessLauncher{
		executable: executable,
		args:       args,
		logger:     logger,
	}
}

// Launch implements output.WorkerLauncher.
func (l *ProcessLauncher) Launch(ctx context.Context, layer domain.Layer, sink output.MessageSink) (output.WorkerConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The worker must outlive ctx, so it is not bound to it
	cmd := exec.Command(l.executable, l.args...) //#nosec G204 -- executable and args come from configuration
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "PIP_WORKER_LAYER="+layer)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", l.executable, err)
	}

	c := &processConn{
		layer:  layer,
		cmd:    cmd,
		stdin:  stdin,
		inbox:  newMailbox(),
		exited: make(chan struct{}),
		logger: l.logger.With("layer", layer, "pid", cmd.Process.Pid),
	}

	go c.writeLoop()
	go c.readLoop(stdout, sink)

	c.logger.Debug("worker process started")
	return c, nil
}

// processConn is the parent side of a worker process.
type processConn struct {
	layer  domain.Layer
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	inbox  *mailbox
	exited chan struct{}
	logger *slog.Logger

	killOnce sync.Once
	killing  atomic.Bool
}

// Send implements output.WorkerConn.
func (c *processConn) Send(msg domain.Message) error {
	select {
	case <-c.exited:
		return ErrWorkerStopped
	default:
	}
	return c.inbox.put(msg)
}

// Kill implements output.WorkerConn.
func (c *processConn) Kill() error {
	var err error
	c.killOnce.Do(func() {
		c.killing.Store(true)
		c.inbox.close()
		_ = c.stdin.Close()
		if kerr := c.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = kerr
		}
		<-c.exited
	})
	return err
}

func (c *processConn) writeLoop() {
	w := bufio.NewWriter(c.stdin)
	enc := json.NewEncoder(w)

	for {
		batch, ok := c.inbox.take()
		if !ok {
			return
		}
		for _, msg := range batch {
			if err := enc.Encode(msg); err != nil {
				c.logger.Error("failed to encode request", "type", msg.Type, "error", err)
				continue
			}
		}
		if err := w.Flush(); err != nil {
			c.logger.Error("failed to write to worker", "error", err)
			c.inbox.close()
			return
		}
	}
}

func (c *processConn) readLoop(stdout io.Reader, sink output.MessageSink) {
	defer close(c.exited)

	dec := json.NewDecoder(stdout)
	for {
		var msg domain.Message
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !c.killing.Load() {
				c.logger.Error("failed to decode worker message", "error", err)
			}
			break
		}
		sink(msg)
	}

	c.inbox.close()
	err := c.cmd.Wait()
	if !c.killing.Load() {
		c.logger.Warn("worker process exited", "error", err)
	}
}
