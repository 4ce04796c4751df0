package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vermosen/reckless/internal/wakeup"
)

func newTestQueue(capacity int) *Queue {
	return New(capacity, &wakeup.Event{}, &wakeup.Event{})
}

func TestPushPopOrder(t *testing.T) {
	q := newTestQueue(4)
	q.Push(Extent{Buffer: "a", CommitEnd: 1})
	q.Push(Extent{Buffer: "b", CommitEnd: 2})

	e1 := q.Pop(time.Second)
	e2 := q.Pop(time.Second)
	assert.Equal(t, "a", e1.Buffer)
	assert.Equal(t, "b", e2.Buffer)
}

func TestPushBlocksWhenFullUntilPop(t *testing.T) {
	q := newTestQueue(1)
	q.Push(Extent{Buffer: "a", CommitEnd: 1})

	done := make(chan struct{})
	go func() {
		q.Push(Extent{Buffer: "b", CommitEnd: 2})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Push must block while the queue is at capacity")
	case <-time.After(30 * time.Millisecond):
	}

	e := q.Pop(time.Second)
	assert.Equal(t, "a", e.Buffer)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push did not unblock after a Pop freed a slot")
	}
}

func TestPopBlocksWhenEmptyUntilPush(t *testing.T) {
	q := newTestQueue(4)
	done := make(chan Extent)
	go func() {
		done <- q.Pop(time.Second)
	}()

	select {
	case <-done:
		t.Fatal("Pop must block while the queue is empty")
	case <-time.After(30 * time.Millisecond):
	}

	q.Push(Extent{Buffer: "x", CommitEnd: 9})
	select {
	case e := <-done:
		assert.Equal(t, "x", e.Buffer)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestShutdownSentinel(t *testing.T) {
	q := newTestQueue(4)
	q.Push(Extent{Buffer: nil, CommitEnd: 0})
	e := q.Pop(time.Second)
	assert.Nil(t, e.Buffer)
}

func TestLenAndCap(t *testing.T) {
	q := newTestQueue(3)
	require.Equal(t, 3, q.Cap())
	assert.Equal(t, 0, q.Len())
	q.Push(Extent{Buffer: "a"})
	assert.Equal(t, 1, q.Len())
}
