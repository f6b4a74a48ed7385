// Package taskqueue runs background tasks on a bounded worker pool and hands
// callers a Handle to observe each task's outcome.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

const (
	DefaultWorkers = 4
	DefaultBuffer  = 256
)

var (
	ErrStopped    = errors.New("task queue stopped")
	ErrQueueFull  = errors.New("task queue full")
	ErrNotStarted = errors.New("cancelled before start")
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Discard is called instead of a Task that was dequeued after the queue
// was cancelled. It runs on the worker before the handle is marked done.
type Discard func(err error)

// Handle observes a submitted task.
type Handle struct {
	id   string
	name string
	done chan struct{}
	err  error
}

func (h *Handle) ID() string   { return h.id }
func (h *Handle) Name() string { return h.name }

// Done is closed once the task has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the task result; it is nil until Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	handle  *Handle
	task    Task
	discard Discard
}

type Queue struct {
	jobs    chan job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	logger  *slog.Logger
}

// New starts a queue with the given number of workers. Tasks run with a
// context derived from ctx, cancelled by Stop.
func New(ctx context.Context, log *slog.Logger, workers, buffer int) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	qctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		jobs:   make(chan job, buffer),
		ctx:    qctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "taskqueue")),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.runWorker()
	}
	return q
}

// Submit enqueues task without blocking.
func (q *Queue) Submit(name string, task Task) (*Handle, error) {
	return q.SubmitWithDiscard(name, task, nil)
}

// SubmitWithDiscard enqueues task like Submit. If the queue is cancelled
// before task starts, discard receives an error wrapping ErrNotStarted so
// the caller can release whatever it reserved for the task.
func (q *Queue) SubmitWithDiscard(name string, task Task, discard Discard) (*Handle, error) {
	if task == nil {
		return nil, errors.New("task is nil")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return nil, ErrStopped
	}
	h := &Handle{id: uuid.NewString(), name: name, done: make(chan struct{})}
	select {
	case q.jobs <- job{handle: h, task: task, discard: discard}:
		return h, nil
	default:
		return nil, ErrQueueFull
	}
}

// Stop rejects new tasks and waits for queued ones to drain. When ctx ends
// first, running tasks are cancelled and Stop returns ctx.Err().
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) runWorker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	defer close(j.handle.done)
	defer func() {
		if r := recover(); r != nil {
			j.handle.err = fmt.Errorf("task %s panicked: %v", j.handle.name, r)
			q.logger.Error("task panicked",
				slog.String("task", j.handle.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := q.ctx.Err(); err != nil {
		j.handle.err = fmt.Errorf("%w: %w", ErrNotStarted, err)
		if j.discard != nil {
			j.discard(j.handle.err)
		}
		return
	}
	j.handle.err = j.task(q.ctx)
	if j.handle.err != nil {
		q.logger.Error("task failed", slog.String("task", j.handle.name), slog.Any("error", j.handle.err))
	}
}
