// Package dispatch provides serial execution queues. A Queue runs its tasks
// one at a time, in submission order, on a single goroutine. The capture
// session uses one Queue as its writer-coordination context and, unless the
// owner supplies its own, another as the context delegate callbacks run on.
package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/camrec/internal/logging"
)

var log = logging.L("dispatch")

// Task is a unit of work submitted to a Queue.
type Task func()

// Queue is a single-worker FIFO with a bounded backlog.
type Queue struct {
	name      string
	tasks     chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex // orders wg.Add against Close
	accepting bool
	quit      chan struct{}
	quitOnce  sync.Once
	exited    chan struct{}
	pending   atomic.Int64
}

// New creates a queue named name with room for size pending tasks.
func New(name string, size int) *Queue {
	if size < 1 {
		size = 1
	}

	q := &Queue{
		name:   name,
		tasks:  make(chan Task, size),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	q.accepting = true

	go q.run()

	log.Debug("queue started", "queue", name, "size", size)
	return q
}

// Name returns the queue name given to New.
func (q *Queue) Name() string {
	return q.name
}

// Async enqueues task and returns immediately. It blocks only while the
// backlog is full. Returns false once the queue is closing.
func (q *Queue) Async(task Task) bool {
	q.mu.RLock()
	if !q.accepting {
		q.mu.RUnlock()
		return false
	}
	q.wg.Add(1)
	q.pending.Add(1)
	q.mu.RUnlock()

	select {
	case q.tasks <- task:
		return true
	case <-q.quit:
		q.pending.Add(-1)
		q.wg.Done()
		return false
	}
}

// Sync enqueues task and waits until it has run. Returns false, without
// running task, once the queue is closing, or when a timed-out Close
// abandoned it. Sync must not be called from a task running on the same
// queue.
func (q *Queue) Sync(task Task) bool {
	done := make(chan struct{})
	ok := q.Async(func() {
		defer close(done)
		task()
	})
	if !ok {
		return false
	}
	select {
	case <-done:
		return true
	case <-q.exited:
		// The worker finishes a running task before it exits.
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Post enqueues task, dropping it with a warning when the queue is closed.
func (q *Queue) Post(task func()) {
	if !q.Async(task) {
		log.Warn("queue closed, task dropped", "queue", q.name)
	}
}

// Close stops accepting tasks and waits for the backlog to drain, respecting
// the context deadline. It is safe to call more than once.
func (q *Queue) Close(ctx context.Context) {
	q.mu.Lock()
	q.accepting = false
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("queue drained", "queue", q.name)
	case <-ctx.Done():
		log.Warn("queue drain timed out", "queue", q.name)
	}

	// Stop the worker so the goroutine is not leaked. Tasks still queued
	// after a timed-out drain are abandoned and their Sync callers released.
	q.quitOnce.Do(func() {
		close(q.quit)
	})
}

// Pending returns the number of tasks accepted but not yet finished.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Done is closed once the worker goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.exited
}

func (q *Queue) run() {
	defer close(q.exited)
	for {
		select {
		case <-q.quit:
			q.abandonBacklog()
			return
		case task := <-q.tasks:
			select {
			case <-q.quit:
				q.abandon()
				q.abandonBacklog()
				return
			default:
			}
			q.runTask(task)
		}
	}
}

// abandonBacklog discards tasks left queued after a timed-out Close.
func (q *Queue) abandonBacklog() {
	for {
		select {
		case <-q.tasks:
			q.abandon()
		default:
			return
		}
	}
}

func (q *Queue) abandon() {
	q.pending.Add(-1)
	q.wg.Done()
}

// runTask executes a single task with panic recovery. wg.Done is called here
// to match the wg.Add in Async.
func (q *Queue) runTask(task Task) {
	defer q.wg.Done()
	defer q.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "queue", q.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
