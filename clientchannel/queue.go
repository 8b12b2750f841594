package clientchannel

import (
	"context"
	"sync"
)

// waiterEntry is one parked caller. err is written (if at all) strictly
// before ch is closed, so a receiver observing the close via <-ch may
// read err without further synchronization (Go's channel-close
// happens-before guarantee).
type waiterEntry struct {
	ch  chan struct{}
	err error
}

// waitQueue parks callers until either drainAll wakes everyone to retry,
// rejectAll wakes current waiters with a transient error, or failAll
// wakes everyone — current and future — with a terminal error (spec.md
// §4.9: "two queues exist: resolver-waiting ... and pick-waiting ...;
// each queued call installs exactly one combiner-cancellation
// canceller"). ctx.Done() plays the role of that canceller here: a
// caller that gives up on its own context removes itself without any
// queue-wide scan.
type waitQueue struct {
	mu      sync.Mutex
	waiters map[int]*waiterEntry
	nextID  int
	failed  error // sticky; once set, every future wait() fails immediately
}

func newWaitQueue() *waitQueue {
	return &waitQueue{waiters: map[int]*waiterEntry{}}
}

func newPickWaitQueue() *pickWaitQueue         { return (*pickWaitQueue)(newWaitQueue()) }
func newResolverWaitQueue() *resolverWaitQueue { return (*resolverWaitQueue)(newWaitQueue()) }

// pickWaitQueue and resolverWaitQueue are distinct named types over the
// same waitQueue shape so channel.go's fields can't be mixed up by
// accident; their behavior is identical.
type pickWaitQueue waitQueue
type resolverWaitQueue waitQueue

// wait parks the caller until the next drainAll/rejectAll/failAll, or
// until ctx is done, whichever comes first. Returns nil to mean "retry
// now", or a non-nil error to mean "stop retrying".
func (q *waitQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	if q.failed != nil {
		err := q.failed
		q.mu.Unlock()
		return err
	}
	id := q.nextID
	q.nextID++
	w := &waiterEntry{ch: make(chan struct{})}
	q.waiters[id] = w
	q.mu.Unlock()

	select {
	case <-w.ch:
		return w.err
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.waiters, id)
		q.mu.Unlock()
		return ctx.Err()
	}
}

func (q *waitQueue) takeWaiters() []*waiterEntry {
	waiters := make([]*waiterEntry, 0, len(q.waiters))
	for _, w := range q.waiters {
		waiters = append(waiters, w)
	}
	q.waiters = map[int]*waiterEntry{}
	return waiters
}

// drainAll wakes every current waiter to retry against whatever state
// changed (spec.md §4.4 step 6, §4.6 "drains the pick-waiting queue").
func (q *waitQueue) drainAll() {
	q.mu.Lock()
	waiters := q.takeWaiters()
	q.mu.Unlock()
	for _, w := range waiters {
		close(w.ch)
	}
}

// rejectAll wakes every current waiter with err, without marking the
// queue permanently failed: a later successful update may still let
// future callers queue and proceed normally (spec.md §7 "resolution
// errors ... channel goes TRANSIENT_FAILURE", which is recoverable).
func (q *waitQueue) rejectAll(err error) {
	q.mu.Lock()
	waiters := q.takeWaiters()
	q.mu.Unlock()
	for _, w := range waiters {
		w.err = err
		close(w.ch)
	}
}

// failAll wakes every current waiter, and every future caller to wait,
// with err (spec.md §4.6 "all queued calls are failed" on shutdown/enter-
// IDLE).
func (q *waitQueue) failAll(err error) {
	q.mu.Lock()
	if q.failed == nil {
		q.failed = err
	}
	waiters := q.takeWaiters()
	q.mu.Unlock()
	for _, w := range waiters {
		w.err = err
		close(w.ch)
	}
}

// reset clears a sticky failAll so the queue can be used again after the
// channel leaves IDLE (failAll itself is otherwise permanent, which is
// correct only for the terminal SHUTDOWN case).
func (q *waitQueue) reset() {
	q.mu.Lock()
	q.failed = nil
	q.mu.Unlock()
}

func (q *pickWaitQueue) wait(ctx context.Context) error { return (*waitQueue)(q).wait(ctx) }
func (q *pickWaitQueue) drainAll()                      { (*waitQueue)(q).drainAll() }
func (q *pickWaitQueue) rejectAll(err error)            { (*waitQueue)(q).rejectAll(err) }
func (q *pickWaitQueue) failAll(err error)              { (*waitQueue)(q).failAll(err) }
func (q *pickWaitQueue) reset()                         { (*waitQueue)(q).reset() }

func (q *resolverWaitQueue) wait(ctx context.Context) error { return (*waitQueue)(q).wait(ctx) }
func (q *resolverWaitQueue) drainAll()                      { (*waitQueue)(q).drainAll() }
func (q *resolverWaitQueue) rejectAll(err error)            { (*waitQueue)(q).rejectAll(err) }
func (q *resolverWaitQueue) failAll(err error)              { (*waitQueue)(q).failAll(err) }
func (q *resolverWaitQueue) reset()                         { (*waitQueue)(q).reset() }
