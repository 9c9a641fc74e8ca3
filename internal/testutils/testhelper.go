package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/srg/pulsectl/internal/eventqueue"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Queue  *eventqueue.Queue
}

// NewTestHelper creates a test helper with a debug logger and an unstarted
// event queue. Tests pump the queue with Pump.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Queue:  eventqueue.New(t.Name(), logger),
	}
}

// Pump runs every pending task on the test goroutine, including tasks the
// drained tasks post, and returns how many ran.
func (h *TestHelper) Pump() int {
	h.T.Helper()
	n, err := h.Queue.Drain()
	require.NoError(h.T, err)
	return n
}
