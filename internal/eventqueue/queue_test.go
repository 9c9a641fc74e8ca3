package eventqueue_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsectl/internal/eventqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *eventqueue.Queue {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	q := eventqueue.New(t.Name(), logger)
	t.Cleanup(q.Stop)
	return q
}

func TestQueueRunsTasksInPostOrder(t *testing.T) {
	q := newQueue(t)
	q.Start(context.Background())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		q.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	require.NoError(t, q.Do(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v, "tasks MUST run in FIFO order")
	}
}

func TestQueueSingleConsumer(t *testing.T) {
	// GOAL: Verify tasks posted from many goroutines never run concurrently
	//
	// TEST SCENARIO: 8 producers post 50 tasks each → in-flight counter never exceeds 1

	q := newQueue(t)
	q.Start(context.Background())

	var inFlight, maxInFlight, total atomic.Int32
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Post(func() {
					n := inFlight.Add(1)
					if n > maxInFlight.Load() {
						maxInFlight.Store(n)
					}
					total.Add(1)
					inFlight.Add(-1)
				})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, q.Do(context.Background(), func() {}))
	assert.Equal(t, int32(400), total.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestQueueDrain(t *testing.T) {
	q := newQueue(t)

	var ran []string
	q.Post(func() {
		ran = append(ran, "first")
		q.Post(func() { ran = append(ran, "nested") })
	})
	q.Post(func() { ran = append(ran, "second") })

	n, err := q.Drain()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"first", "second", "nested"}, ran)
	assert.Equal(t, 0, q.Len())
}

func TestQueueDrainWhileRunning(t *testing.T) {
	q := newQueue(t)
	q.Start(context.Background())

	_, err := q.Drain()
	assert.ErrorIs(t, err, eventqueue.ErrRunning)
}

func TestQueueStop(t *testing.T) {
	t.Run("post after stop is discarded", func(t *testing.T) {
		q := newQueue(t)
		q.Stop()

		q.Post(func() { t.Error("task MUST NOT run after Stop") })
		assert.True(t, q.Stopped())
		assert.ErrorIs(t, q.Do(context.Background(), func() {}), eventqueue.ErrStopped)
	})

	t.Run("context cancellation stops consumer", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithCancel(context.Background())
		q.Start(ctx)
		cancel()

		assert.Eventually(t, q.Stopped, time.Second, 5*time.Millisecond)
	})

	t.Run("do honours caller context", func(t *testing.T) {
		q := newQueue(t)
		// Consumer never started: the task cannot run.
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := q.Do(ctx, func() {})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
