package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const persistTimeout = 30 * time.Second

// PersistJob is one completed exchange waiting to be mirrored to the
// relational store.
type PersistJob struct {
	ThreadID      string    `json:"thread_id"`
	Profile       string    `json:"profile"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	CreatedAt     time.Time `json:"created_at"`
}

// TurnWriter writes one exchange atomically, stamped with the time the turn
// happened rather than the time it is written.
type TurnWriter interface {
	AppendTurn(ctx context.Context, threadID, profileName, userText, assistantText string, at time.Time) error
}

// Persister accepts jobs without blocking the caller. It owns failure
// handling: errors are logged, never returned.
type Persister interface {
	Enqueue(job PersistJob)
	Close()
}

// LocalPersister writes jobs from an in-process buffer on one goroutine.
type LocalPersister struct {
	writer TurnWriter
	logger *zap.Logger
	jobs   chan PersistJob

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalPersister(writer TurnWriter, buffer int, logger *zap.Logger) *LocalPersister {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &LocalPersister{
		writer: writer,
		logger: logger,
		jobs:   make(chan PersistJob, buffer),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Enqueue drops the job with a log line when the buffer is full.
func (p *LocalPersister) Enqueue(job PersistJob) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("persister closed, dropping turn", zap.String("thread_id", job.ThreadID))
		return
	}
	select {
	case p.jobs <- job:
	default:
		p.logger.Warn("persist queue full, dropping turn", zap.String("thread_id", job.ThreadID))
	}
}

// Close stops accepting jobs and waits until the buffer is drained.
func (p *LocalPersister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *LocalPersister) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		writeTurn(p.writer, p.logger, job)
	}
}

func writeTurn(writer TurnWriter, logger *zap.Logger, job PersistJob) bool {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := writer.AppendTurn(ctx, job.ThreadID, job.Profile, job.UserText, job.AssistantText, job.CreatedAt); err != nil {
		logger.Error("persist turn failed",
			zap.String("thread_id", job.ThreadID),
			zap.String("profile", job.Profile),
			zap.Error(err),
		)
		return false
	}
	return true
}
