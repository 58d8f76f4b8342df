package worker

import (
	"errors"
	"sync"

	"github.com/jobrunner/pipservice/internal/domain"
)

// ErrWorkerStopped is returned when sending to a killed or exited worker.
var ErrWorkerStopped = errors.New("worker stopped")

// mailbox is an unbounded FIFO of outbound requests. put never blocks.
type mailbox struct {
	mu     sync.Mutex
	queue  []domain.Message
	closed bool
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) put(msg domain.Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrWorkerStopped
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	m.signal()
	return nil
}

// take blocks until messages are queued and returns all of them. It
// returns false once the mailbox is closed.
func (m *mailbox) take() ([]domain.Message, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		if len(m.queue) > 0 {
			batch := m.queue
			m.queue = nil
			m.mu.Unlock()
			return batch, true
		}
		m.mu.Unlock()

		<-m.ready
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()

	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}
