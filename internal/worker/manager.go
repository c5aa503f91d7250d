package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultQueueLen = 16

var (
	ErrSessionBusy    = errors.New("session queue full")
	ErrManagerClosed  = errors.New("worker manager closed")
	// ErrSessionStopped is returned by Do when the session's worker is
	// stopped before the job finished.
	ErrSessionStopped = errors.New("session worker stopped")
)

// Job is one unit of work for a session. The context is detached from the
// HTTP request that submitted it.
type Job func(ctx context.Context)

// Manager runs one goroutine per live session. Jobs of a session execute
// strictly in submission order; different sessions run concurrently.
type Manager struct {
	queueLen    int
	idleTimeout time.Duration
	logger      *zap.Logger
	baseCtx     context.Context

	mu      sync.Mutex
	closed  bool
	workers map[string]*sessionWorker
	wg      sync.WaitGroup
}

// NewManager builds a manager. A zero idleTimeout keeps workers until Stop.
func NewManager(queueLen int, idleTimeout time.Duration, logger *zap.Logger) *Manager {
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		queueLen:    queueLen,
		idleTimeout: idleTimeout,
		logger:      logger,
		baseCtx:     context.Background(),
		workers:     make(map[string]*sessionWorker),
	}
}

// Submit enqueues job without blocking.
func (m *Manager) Submit(sessionID string, job Job) error {
	_, err := m.submit(sessionID, job)
	return err
}

func (m *Manager) submit(sessionID string, job Job) (*sessionWorker, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	w := m.ensureWorkerLocked(sessionID)
	select {
	case w.jobs <- job:
		return w, nil
	default:
		return nil, ErrSessionBusy
	}
}

// Do enqueues job and waits for it to finish, for ctx to end, or for the
// session to be stopped. When ctx ends first the job still runs to completion
// in the background. A job dropped by Stop yields ErrSessionStopped.
func (m *Manager) Do(ctx context.Context, sessionID string, job Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	started := make(chan struct{})
	done := make(chan struct{})
	w, err := m.submit(sessionID, func(jobCtx context.Context) {
		close(started)
		defer close(done)
		job(jobCtx)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-w.stopCh:
		// a running job still finishes; a queued one was dropped
		select {
		case <-started:
		default:
			return ErrSessionStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop retires the session's worker after the job it is currently running.
// Queued jobs that have not started are dropped.
func (m *Manager) Stop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[sessionID]; ok {
		delete(m.workers, sessionID)
		close(w.stopCh)
	}
}

// Active reports how many session workers are running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Close stops every worker and waits for in-flight jobs to return.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, w := range m.workers {
		delete(m.workers, id)
		close(w.stopCh)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) ensureWorkerLocked(sessionID string) *sessionWorker {
	if w, ok := m.workers[sessionID]; ok {
		return w
	}
	w := newSessionWorker(sessionID, m.queueLen)
	m.workers[sessionID] = w
	m.wg.Add(1)
	go m.runWorker(w)
	return w
}

// retireIfIdle removes w when nothing is queued. Submit enqueues under the
// same lock, so no job can slip in between the check and the removal.
func (m *Manager) retireIfIdle(w *sessionWorker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(w.jobs) > 0 {
		return false
	}
	if cur, ok := m.workers[w.sessionID]; ok && cur == w {
		delete(m.workers, w.sessionID)
	}
	return true
}
