package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](rc *RingChannel[T]) []T {
	var out []T
	for v := range rc.C() {
		out = append(out, v)
	}
	return out
}

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	assert.Equal(t, 3, rc.Len())
	assert.Equal(t, 3, rc.Cap())

	rc.Close()
	assert.Equal(t, []int{7, 8, 9}, drain(rc))

	m := rc.Metrics()
	assert.EqualValues(t, 10, m.Written)
	assert.EqualValues(t, 7, m.Overwritten)
	assert.Zero(t, m.Dropped)
}

func TestRingChannel_SendReportsOverwrite(t *testing.T) {
	rc := New[string](1)
	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = rc.TryReceive()
	assert.False(t, ok)
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Send(1)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() { rc.Send(2) })
	assert.Equal(t, []int{1}, drain(rc))
	assert.EqualValues(t, 1, rc.Metrics().Dropped)
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := New[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(p*100 + i)
			}
		}()
	}
	wg.Wait()
	rc.Close()

	got := drain(rc)
	assert.Len(t, got, 8)
	m := rc.Metrics()
	assert.EqualValues(t, 400, m.Written)
	assert.EqualValues(t, 392, m.Overwritten)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
