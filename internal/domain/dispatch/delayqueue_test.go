package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayQueuePopDue(t *testing.T) {
	q := NewDelayQueue()
	now := time.Now()

	q.Push("late", now.Add(time.Hour))
	q.Push("soon", now.Add(-time.Second))
	q.Push("sooner", now.Add(-time.Minute))

	due := q.PopDue(now)
	require.Len(t, due, 2)
	assert.Equal(t, "sooner", due[0].TaskID)
	assert.Equal(t, "soon", due[1].TaskID)
	assert.Equal(t, 1, q.Len())

	// Nothing newly due.
	assert.Empty(t, q.PopDue(now))

	due = q.PopDue(now.Add(2 * time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, "late", due[0].TaskID)
	assert.Zero(t, q.Len())
}

func TestDelayQueueNextDue(t *testing.T) {
	q := NewDelayQueue()

	_, ok := q.NextDue()
	assert.False(t, ok)

	early := time.Now().Add(time.Second)
	q.Push("b", early.Add(time.Minute))
	q.Push("a", early)

	next, ok := q.NextDue()
	require.True(t, ok)
	assert.True(t, next.Equal(early))
}

func TestDelayQueueConcurrentPush(t *testing.T) {
	q := NewDelayQueue()
	now := time.Now()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				q.Push("t", now.Add(-time.Second))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, q.PopDue(now), 400)
}
