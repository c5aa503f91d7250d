package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestManagerRunsSessionJobsInOrder(t *testing.T) {
	manager := NewManager(16, 0, nil)
	defer manager.Close()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		err := manager.Submit("s1", func(context.Context) {
			defer wg.Done()
			// earlier jobs sleep longer; order must still hold
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestManagerSessionsRunConcurrently(t *testing.T) {
	manager := NewManager(4, 0, nil)
	defer manager.Close()

	release := make(chan struct{})
	started := make(chan string, 2)
	for _, id := range []string{"a", "b"} {
		id := id
		if err := manager.Submit(id, func(context.Context) {
			started <- id
			<-release
		}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("sessions did not run concurrently")
		}
	}
	close(release)
}

func TestManagerQueueFull(t *testing.T) {
	manager := NewManager(1, 0, nil)
	defer manager.Close()

	block := make(chan struct{})
	running := make(chan struct{})
	if err := manager.Submit("s", func(context.Context) {
		close(running)
		<-block
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	<-running
	if err := manager.Submit("s", func(context.Context) {}); err != nil {
		t.Fatalf("second submit should fit the queue: %v", err)
	}
	if err := manager.Submit("s", func(context.Context) {}); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	close(block)
}

func TestManagerDoWaitsForJob(t *testing.T) {
	manager := NewManager(4, 0, nil)
	defer manager.Close()

	ran := false
	if err := manager.Do(context.Background(), "s", func(context.Context) { ran = true }); err != nil {
		t.Fatalf("do: %v", err)
	}
	if !ran {
		t.Fatalf("job did not run before Do returned")
	}
}

func TestManagerDoReturnsOnCallerCancel(t *testing.T) {
	manager := NewManager(4, 0, nil)
	defer manager.Close()

	release := make(chan struct{})
	finished := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := manager.Do(ctx, "s", func(jobCtx context.Context) {
		<-release
		if jobCtx.Err() != nil {
			t.Errorf("job context must not follow the caller")
		}
		close(finished)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)
	<-finished
}

func TestManagerDoReturnsWhenStopped(t *testing.T) {
	manager := NewManager(4, 0, nil)
	defer manager.Close()

	block := make(chan struct{})
	running := make(chan struct{})
	if err := manager.Submit("s", func(context.Context) {
		close(running)
		<-block
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-running

	result := make(chan error, 1)
	go func() {
		result <- manager.Do(context.Background(), "s", func(context.Context) {
			t.Errorf("dropped job must not run")
		})
	}()
	deadline := time.Now().Add(2 * time.Second)
	for queued(manager, "s") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("job was never queued")
		}
		time.Sleep(time.Millisecond)
	}

	manager.Stop("s")
	select {
	case err := <-result:
		if !errors.Is(err, ErrSessionStopped) {
			t.Fatalf("expected ErrSessionStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Do did not return after Stop")
	}
	close(block)
}

func queued(m *Manager, sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[sessionID]; ok {
		return len(w.jobs)
	}
	return 0
}

func TestManagerRecoversFromPanic(t *testing.T) {
	manager := NewManager(4, 0, nil)
	defer manager.Close()

	_ = manager.Submit("s", func(context.Context) { panic("boom") })
	ok := false
	if err := manager.Do(context.Background(), "s", func(context.Context) { ok = true }); err != nil {
		t.Fatalf("do after panic: %v", err)
	}
	if !ok {
		t.Fatalf("worker did not survive a panicking job")
	}
}

func TestManagerIdleRetirementAndStop(t *testing.T) {
	manager := NewManager(4, 30*time.Millisecond, nil)
	defer manager.Close()

	if err := manager.Do(context.Background(), "idle", func(context.Context) {}); err != nil {
		t.Fatalf("do: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for manager.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle worker was not retired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := manager.Do(context.Background(), "again", func(context.Context) {}); err != nil {
		t.Fatalf("do after retirement: %v", err)
	}
	manager.Stop("again")
	if manager.Active() != 0 {
		t.Fatalf("stop did not remove worker")
	}
}

func TestManagerClosedRejectsJobs(t *testing.T) {
	manager := NewManager(4, 0, nil)
	manager.Close()
	if err := manager.Submit("s", func(context.Context) {}); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
	manager.Close()
}
