package eventqueue

import (
	"sync"
	"time"
)

// Timer is a one-shot timer whose callback runs on a Queue.
//
// Restart and Stop invalidate a fire that is already waiting in the queue,
// so fn never runs for a superseded arm.
type Timer struct {
	queue    *Queue
	duration time.Duration
	fn       func()

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	active bool
}

// NewTimer creates a stopped timer.
func NewTimer(q *Queue, d time.Duration, fn func()) *Timer {
	return &Timer{
		queue:    q,
		duration: d,
		fn:       fn,
	}
}

// Duration returns the configured timeout.
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Start arms the timer. Arming an active timer restarts it.
func (t *Timer) Start() {
	t.Restart()
}

// Restart re-arms the timer for its full duration.
func (t *Timer) Restart() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	t.active = true
	gen := t.gen
	t.timer = time.AfterFunc(t.duration, func() {
		t.queue.Post(func() { t.fire(gen) })
	})
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.active = false
}

// Active reports whether the timer is armed and has not fired yet.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()

	if t.fn != nil {
		t.fn()
	}
}
