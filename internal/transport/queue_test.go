package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueFIFO(t *testing.T) {
	q := newMessageQueue()

	assert.True(t, q.Enqueue("a"))
	assert.True(t, q.Enqueue("b"))
	assert.Equal(t, 2, q.Len())

	msg, ok := q.TryDequeue()
	assert.True(t, ok)
	assert.Equal(t, "a", msg)

	msg, ok = q.TryDequeue()
	assert.True(t, ok)
	assert.Equal(t, "b", msg)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestQueueRequeuePreservesOrder(t *testing.T) {
	q := newMessageQueue()

	q.Enqueue("first")
	q.Enqueue("second")

	msg, _ := q.TryDequeue()
	assert.Equal(t, "first", msg)

	// Failed send puts the message back at the front
	q.Requeue(msg)

	msg, _ = q.TryDequeue()
	assert.Equal(t, "first", msg)
	msg, _ = q.TryDequeue()
	assert.Equal(t, "second", msg)
}

func TestQueueSignalCoalesces(t *testing.T) {
	q := newMessageQueue()

	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	// All three enqueues collapse into at most one pending signal
	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("expected coalesced signal")
	default:
	}
}

func TestQueueClose(t *testing.T) {
	q := newMessageQueue()
	q.Enqueue("a")
	q.Close()

	assert.False(t, q.Enqueue("b"))

	// Close is idempotent and wakes waiters
	q.Close()
	<-q.Wait()

	// Already-queued messages can still drain
	msg, ok := q.TryDequeue()
	assert.True(t, ok)
	assert.Equal(t, "a", msg)
}
