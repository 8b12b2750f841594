/*
 * Copyright 2015 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package grpcsync implements additional synchronization primitives built
// on top of the ones offered by the standard library. The CallbackSerializer
// here is the client channel's WorkSerializer (spec.md §4.1): a
// single-threaded cooperative executor with no long-lived goroutine of its
// own: the Schedule call that finds it idle starts a goroutine that drains
// the queue and exits once the queue is empty.
package grpcsync

import (
	"container/list"
	"context"
	"sync"
)

// CallbackSerializer provides a mechanism to schedule callbacks in a
// synchronized manner. Callbacks scheduled via the Schedule() method are
// executed in the order they were scheduled, and exactly one callback is
// executing at any point in time.
//
// This type differs from an unbounded work channel + goroutine pair in
// one important way: a call to Schedule() from within a running callback
// does not block waiting for a free worker. Instead, if another goroutine
// is already draining the queue, the new callback is simply appended and
// that goroutine will pick it up; otherwise Schedule starts a new
// goroutine that takes over draining. This guarantees ordering
// per-submitter without requiring
// a dedicated background goroutine for the serializer's entire lifetime.
type CallbackSerializer struct {
	// done is closed once the serializer is closed and the last scheduled
	// callback has been executed.
	done chan struct{}

	callbacks  *list.List
	mu         sync.Mutex
	closed     bool
	draining   bool
	doneClosed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCallbackSerializer returns a new CallbackSerializer instance. The
// provided context will be passed to the scheduled callbacks. Users should
// cancel the provided context to shut down the CallbackSerializer. Once
// the serializer has observed the cancellation, Schedule adds no further
// callbacks; callbacks already pending still run, in order, on the
// draining goroutine.
func NewCallbackSerializer(ctx context.Context) *CallbackSerializer {
	ctx, cancel := context.WithCancel(ctx)
	cs := &CallbackSerializer{
		done:      make(chan struct{}),
		callbacks: list.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
	go cs.awaitContextCancellation()
	return cs
}

func (cs *CallbackSerializer) awaitContextCancellation() {
	<-cs.ctx.Done()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return
	}
	cs.closed = true
	if cs.callbacks.Len() == 0 && !cs.draining {
		cs.closeDoneLocked()
	}
}

// closeDoneLocked closes done at most once. Callers must hold cs.mu.
func (cs *CallbackSerializer) closeDoneLocked() {
	if cs.doneClosed {
		return
	}
	cs.doneClosed = true
	close(cs.done)
}

// Schedule adds a callback f to be executed in the order it was added.
// Callbacks are expected not to block for long periods of time, since
// blocking one blocks all the ones scheduled after it.
//
// It returns true if the callback was successfully scheduled, or false
// if the context passed to NewCallbackSerializer has expired and the
// callback was not scheduled as a result.
func (cs *CallbackSerializer) Schedule(f func(ctx context.Context)) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed {
		return false
	}

	cs.callbacks.PushBack(f)
	if !cs.draining {
		cs.draining = true
		go cs.drain()
	}
	return true
}

// drain runs on a goroutine started by whichever Schedule call finds the
// serializer idle (not already draining). It keeps running until the
// queue is exhausted, so a submission that arrives
// while draining is already in progress just appends and returns
// immediately: the draining goroutine will reach it in order.
func (cs *CallbackSerializer) drain() {
	for {
		cs.mu.Lock()
		if cs.callbacks.Len() == 0 {
			cs.draining = false
			if cs.closed {
				cs.closeDoneLocked()
			}
			cs.mu.Unlock()
			return
		}
		front := cs.callbacks.Front()
		cs.callbacks.Remove(front)
		cs.mu.Unlock()

		front.Value.(func(ctx context.Context))(cs.ctx)
	}
}

// Close cancels the context passed to NewCallbackSerializer and thereby
// stops accepting new callbacks. It does not wait for pending callbacks to
// finish; use Done for that.
func (cs *CallbackSerializer) Close() {
	cs.cancel()
}

// Done returns a channel that is closed after the context passed to
// NewCallbackSerializer is canceled and all callbacks scheduled before
// that point have completed.
func (cs *CallbackSerializer) Done() <-chan struct{} {
	return cs.done
}
