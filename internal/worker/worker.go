package worker

import (
	"time"

	"go.uber.org/zap"
)

type sessionWorker struct {
	sessionID string
	jobs      chan Job
	stopCh    chan struct{}
}

func newSessionWorker(sessionID string, queueLen int) *sessionWorker {
	return &sessionWorker{
		sessionID: sessionID,
		jobs:      make(chan Job, queueLen),
		stopCh:    make(chan struct{}),
	}
}

func (m *Manager) runWorker(w *sessionWorker) {
	defer m.wg.Done()

	var idle <-chan time.Time
	var timer *time.Timer
	if m.idleTimeout > 0 {
		timer = time.NewTimer(m.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-w.stopCh:
			m.logger.Debug("session worker stopped", zap.String("session_id", w.sessionID))
			return
		case job := <-w.jobs:
			select {
			case <-w.stopCh:
				m.logger.Debug("session worker stopped", zap.String("session_id", w.sessionID))
				return
			default:
			}
			m.runJob(w, job)
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(m.idleTimeout)
			}
		case <-idle:
			if m.retireIfIdle(w) {
				m.logger.Debug("session worker idle, retired", zap.String("session_id", w.sessionID))
				return
			}
			timer.Reset(m.idleTimeout)
		}
	}
}

func (m *Manager) runJob(w *sessionWorker, job Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session job panicked",
				zap.String("session_id", w.sessionID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	job(m.baseCtx)
}
