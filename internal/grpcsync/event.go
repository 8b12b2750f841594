/*
 * Copyright 2018 gRPC authors.
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

package grpcsync

import (
	"sync"
	"sync/atomic"
)

// Event represents a one-time event that may occur in the future, such as
// a shutdown signal: cheap to poll (Fire is lock-free to check via
// HasFired), and idempotent to set.
type Event struct {
	fired int32
	c     chan struct{}
	o     sync.Once
}

// NewEvent returns a new, ready to use Event.
func NewEvent() *Event {
	return &Event{c: make(chan struct{})}
}

// Fire records that the event has occurred. It is safe to call Fire
// multiple times, and from multiple goroutines. It returns true if this
// call to Fire caused the signal to fire.
func (e *Event) Fire() bool {
	fired := false
	e.o.Do(func() {
		atomic.StoreInt32(&e.fired, 1)
		close(e.c)
		fired = true
	})
	return fired
}

// Done returns a channel that will be closed when Fire is called.
func (e *Event) Done() <-chan struct{} {
	return e.c
}

// HasFired returns true if Fire has been called.
func (e *Event) HasFired() bool {
	return atomic.LoadInt32(&e.fired) == 1
}
