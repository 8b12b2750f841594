package clientchannel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitQueueDrainAllWakesWithNoError(t *testing.T) {
	q := newWaitQueue()
	done := make(chan error, 1)
	go func() { done <- q.wait(context.Background()) }()

	require.Eventually(t, func() bool { q.mu.Lock(); defer q.mu.Unlock(); return len(q.waiters) == 1 }, time.Second, time.Millisecond)
	q.drainAll()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not wake up")
	}
}

func TestWaitQueueRejectAllIsNotSticky(t *testing.T) {
	q := newWaitQueue()
	done := make(chan error, 1)
	go func() { done <- q.wait(context.Background()) }()
	require.Eventually(t, func() bool { q.mu.Lock(); defer q.mu.Unlock(); return len(q.waiters) == 1 }, time.Second, time.Millisecond)

	transient := assert.AnError
	q.rejectAll(transient)
	select {
	case err := <-done:
		assert.Equal(t, transient, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not wake up")
	}

	// A later waiter must not observe the transient error: rejectAll is
	// not sticky.
	done2 := make(chan error, 1)
	go func() { done2 <- q.wait(context.Background()) }()
	require.Eventually(t, func() bool { q.mu.Lock(); defer q.mu.Unlock(); return len(q.waiters) == 1 }, time.Second, time.Millisecond)
	q.drainAll()
	select {
	case err := <-done2:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not wake up")
	}
}

func TestWaitQueueFailAllIsStickyUntilReset(t *testing.T) {
	q := newWaitQueue()
	terminal := assert.AnError
	q.failAll(terminal)

	err := q.wait(context.Background())
	assert.Equal(t, terminal, err)

	q.reset()
	done := make(chan error, 1)
	go func() { done <- q.wait(context.Background()) }()
	require.Eventually(t, func() bool { q.mu.Lock(); defer q.mu.Unlock(); return len(q.waiters) == 1 }, time.Second, time.Millisecond)
	q.drainAll()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not wake up after reset")
	}
}

func TestWaitQueueContextCancelRemovesWaiter(t *testing.T) {
	q := newWaitQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.wait(ctx) }()
	require.Eventually(t, func() bool { q.mu.Lock(); defer q.mu.Unlock(); return len(q.waiters) == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not observe cancellation")
	}
	q.mu.Lock()
	assert.Empty(t, q.waiters)
	q.mu.Unlock()
}

func TestPickAndResolverWaitQueuesAreIndependent(t *testing.T) {
	pq := newPickWaitQueue()
	rq := newResolverWaitQueue()
	pq.failAll(assert.AnError)

	assert.Equal(t, assert.AnError, pq.wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, rq.wait(ctx))
}
