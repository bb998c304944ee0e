package bthal

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := newDispatcher(slog.Default(), 16)
	d.start()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		i := i
		ok := d.post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 9 {
				close(done)
			}
		})
		require.True(t, ok, "post %d rejected", i)
	}

	<-done
	d.stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 10)
	for i, v := range got {
		assert.Equal(t, i, v, "task %d delivered out of order", i)
	}
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	d := newDispatcher(slog.Default(), 16)
	d.start()

	// Hold the delivery goroutine on a gate so the remaining tasks
	// pile up in the queue, then stop while they are still queued.
	gate := make(chan struct{})
	var mu sync.Mutex
	count := 0
	require.True(t, d.post(func() {
		<-gate
		mu.Lock()
		count++
		mu.Unlock()
	}))
	for i := 0; i < 5; i++ {
		ok := d.post(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
		require.True(t, ok)
	}

	go close(gate)
	d.stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 6, count, "stop must deliver everything already queued")
}

func TestDispatcherPostAfterStop(t *testing.T) {
	d := newDispatcher(slog.Default(), 4)
	d.start()
	d.stop()

	ok := d.post(func() {
		t.Error("task must not run after stop")
	})
	assert.False(t, ok, "post after stop must report a drop")
}

func TestDispatcherStartStopIdempotent(t *testing.T) {
	d := newDispatcher(slog.Default(), 4)
	d.start()
	d.start()
	d.stop()
	d.stop()
}
