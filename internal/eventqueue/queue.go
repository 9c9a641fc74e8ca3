// Package eventqueue provides a single-consumer task queue.
//
// Transport callbacks arrive on arbitrary goroutines. They are posted onto a
// Queue and executed one at a time by its consumer, so protocol state touched
// only from queued tasks needs no locking.
package eventqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/golang-collections/go-datastructures/queue"
	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/groutine"
)

const (
	// DefaultCapacityHint sizes the backing FIFO; it grows as needed.
	DefaultCapacityHint = 64

	// maxBatch is the number of tasks taken from the FIFO per wakeup.
	maxBatch = 32
)

var (
	// ErrStopped is returned when a task is submitted to a stopped queue.
	ErrStopped = errors.New("event queue stopped")

	// ErrRunning is returned by Drain when the consumer goroutine owns the queue.
	ErrRunning = errors.New("event queue consumer is running")
)

// Queue is a FIFO of tasks executed by exactly one consumer.
type Queue struct {
	name   string
	items  *queue.Queue
	logger *logrus.Logger

	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// New creates a queue. The consumer is not running until Start is called.
func New(name string, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue{
		name:   name,
		items:  queue.New(DefaultCapacityHint),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Name returns the queue name used for goroutine labels and logs.
func (q *Queue) Name() string {
	return q.name
}

// Post enqueues a task. Safe for concurrent use; never waits for the consumer.
// Tasks posted after Stop are discarded.
func (q *Queue) Post(task func()) {
	if task == nil {
		return
	}
	if q.stopped.Load() {
		q.logger.WithField("queue", q.name).Debug("Task posted to stopped queue, discarding")
		return
	}
	if err := q.items.Put(task); err != nil {
		q.logger.WithFields(logrus.Fields{
			"queue": q.name,
			"error": err,
		}).Debug("Task rejected by disposed queue")
	}
}

// Do posts a task and waits until it has run. It must not be called from a
// task running on the same queue.
func (q *Queue) Do(ctx context.Context, task func()) error {
	if q.stopped.Load() {
		return ErrStopped
	}
	finished := make(chan struct{})
	q.Post(func() {
		defer close(finished)
		task()
	})

	select {
	case <-finished:
		return nil
	case <-q.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the consumer goroutine. The consumer stops when ctx is
// cancelled or Stop is called. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !q.started.CompareAndSwap(false, true) {
		return
	}

	groutine.Go(ctx, "eventqueue-"+q.name, func(context.Context) {
		q.consume()
	})

	go func() {
		select {
		case <-ctx.Done():
			q.Stop()
		case <-q.done:
		}
	}()

	q.logger.WithField("queue", q.name).Debug("Event queue consumer started")
}

func (q *Queue) consume() {
	for {
		tasks, err := q.items.Get(maxBatch)
		if err != nil {
			// Disposed: Stop was called.
			return
		}
		for _, t := range tasks {
			if q.stopped.Load() {
				return
			}
			q.run(t)
		}
	}
}

func (q *Queue) run(item interface{}) {
	task, ok := item.(func())
	if !ok {
		q.logger.WithField("queue", q.name).Errorf("Unexpected item type %T in event queue", item)
		return
	}
	task()
}

// Drain runs every pending task on the calling goroutine and returns the
// number of tasks executed, including tasks posted by the drained tasks.
// It is meant for owners that pump the queue themselves.
func (q *Queue) Drain() (int, error) {
	if q.started.Load() {
		return 0, ErrRunning
	}
	executed := 0
	for !q.stopped.Load() && q.items.Len() > 0 {
		tasks, err := q.items.Get(q.items.Len())
		if err != nil {
			return executed, ErrStopped
		}
		for _, t := range tasks {
			q.run(t)
			executed++
		}
	}
	return executed, nil
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	return int(q.items.Len())
}

// Stop stops the consumer and discards pending tasks. Safe to call more than once.
func (q *Queue) Stop() {
	q.once.Do(func() {
		q.stopped.Store(true)
		pending := q.items.Len()
		q.items.Dispose()
		close(q.done)
		q.logger.WithFields(logrus.Fields{
			"queue":   q.name,
			"pending": pending,
		}).Debug("Event queue stopped")
	})
}

// Stopped reports whether Stop has been called.
func (q *Queue) Stopped() bool {
	return q.stopped.Load()
}
