/*
 * Copyright 2025 Carver Automation Corporation.
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

package hub

import (
	"context"
	"sync"
)

// queue is a bounded FIFO that discards its oldest event when full.
type queue struct {
	mu     sync.Mutex
	buf    []Event
	head   int
	n      int
	closed bool
	ready  chan struct{}
}

func newQueue(size int) *queue {
	if size < 1 {
		size = 1
	}

	return &queue{
		buf:   make([]Event, size),
		ready: make(chan struct{}, 1),
	}
}

// push appends e and reports whether an older event was discarded for it.
func (q *queue) push(e Event) (dropped bool) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return false
	}

	if q.n == len(q.buf) {
		q.buf[q.head] = Event{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		dropped = true
	}

	q.buf[(q.head+q.n)%len(q.buf)] = e
	q.n++

	select {
	case q.ready <- struct{}{}:
	default:
	}

	q.mu.Unlock()

	return dropped
}

func (q *queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return Event{}, false
	}

	e := q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--

	return e, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.n
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.ready)
}

// next blocks until an event is available, the queue is closed or ctx ends.
func (q *queue) next(ctx context.Context) (Event, error) {
	for {
		if e, ok := q.pop(); ok {
			return e, nil
		}

		select {
		case _, open := <-q.ready:
			if !open {
				return Event{}, ErrViewerGone
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
