// Package timerqueue holds at most one cancellable delayed task per key.
//
// The queue is purely in-memory. Its contents are lost when the process
// exits; rebuilding them from durable state is the caller's job.
package timerqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"crm-reminders/internal/common/logger"
	"crm-reminders/internal/common/metrics"

	"github.com/google/uuid"
)

var (
	ErrNotRunning  = errors.New("timer queue is not running")
	ErrNilCallback = errors.New("callback must not be nil")
)

// Callback runs when a task fires. ctx is cancelled if shutdown gives up
// waiting for in-flight callbacks.
type Callback func(ctx context.Context)

type task struct {
	id        string
	token     string
	timer     *time.Timer
	cancelled bool // guarded by Queue.mu
}

// Queue maps ids to scheduled tasks. All methods are safe for concurrent use.
// Callbacks never run while the queue lock is held.
type Queue struct {
	log logger.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	inflight *sync.WaitGroup
}

// New returns a stopped queue. Call Start before scheduling.
func New(log logger.Logger) *Queue {
	return &Queue{
		log:      log.WithFields(map[string]interface{}{"component": "timerqueue"}),
		tasks:    make(map[string]*task),
		inflight: &sync.WaitGroup{},
	}
}

// Start enables scheduling. It returns false if the queue is already running.
func (q *Queue) Start() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return false
	}

	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.tasks = make(map[string]*task)
	q.inflight = &sync.WaitGroup{}
	q.running = true

	q.log.Info("timer queue started", nil)
	return true
}

func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Schedule registers fn to run after delay, replacing any task already
// registered for id. A delay <= 0 dispatches fn immediately on its own
// goroutine.
func (q *Queue) Schedule(id string, delay time.Duration, fn Callback) error {
	if fn == nil {
		return ErrNilCallback
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return ErrNotRunning
	}

	if existing, ok := q.tasks[id]; ok {
		q.stopLocked(existing)
		q.log.Debug("replaced scheduled task", map[string]interface{}{
			"id":    id,
			"token": existing.token,
		})
	}

	if delay < 0 {
		delay = 0
	}

	t := &task{id: id, token: uuid.NewString()}
	t.timer = time.AfterFunc(delay, func() { q.fire(t, fn) })
	q.tasks[id] = t
	metrics.TimersActive.Set(float64(len(q.tasks)))

	return nil
}

// Cancel stops and removes the task for id. It reports whether a task was
// registered; cancelling an unknown id is a no-op.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return false
	}
	q.stopLocked(t)
	metrics.TimersActive.Set(float64(len(q.tasks)))
	return true
}

// Has reports whether a live task is registered for id.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tasks[id]
	return ok
}

// Len returns the number of live tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// ShutdownAll cancels every pending task, refuses new ones and waits for
// callbacks already running. If ctx expires first, the callbacks' context is
// cancelled and ctx.Err() is returned.
func (q *Queue) ShutdownAll(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	pending := len(q.tasks)
	for _, t := range q.tasks {
		q.stopLocked(t)
	}
	inflight := q.inflight
	cancel := q.cancel
	q.mu.Unlock()

	metrics.TimersActive.Set(0)
	q.log.Info("timer queue shutting down", map[string]interface{}{
		"cancelledTasks": pending,
	})

	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		q.log.Info("timer queue stopped", nil)
		return nil
	case <-ctx.Done():
		cancel()
		q.log.Warn("timer queue shutdown timed out waiting for callbacks", nil)
		return ctx.Err()
	}
}

// stopLocked must be called with q.mu held.
func (q *Queue) stopLocked(t *task) {
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	if q.tasks[t.id] == t {
		delete(q.tasks, t.id)
	}
}

func (q *Queue) fire(t *task, fn Callback) {
	q.mu.Lock()
	if !q.running || t.cancelled || q.tasks[t.id] != t {
		q.mu.Unlock()
		return
	}
	delete(q.tasks, t.id)
	metrics.TimersActive.Set(float64(len(q.tasks)))
	inflight := q.inflight
	inflight.Add(1)
	ctx := q.ctx
	q.mu.Unlock()

	defer inflight.Done()
	q.safeRun(ctx, t, fn)
}

func (q *Queue) safeRun(ctx context.Context, t *task, fn Callback) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TimerPanics.Inc()
			q.log.Error("timer callback panic recovered", map[string]interface{}{
				"id":    t.id,
				"token": t.token,
				"panic": r,
			})
		}
	}()

	fn(ctx)
}
