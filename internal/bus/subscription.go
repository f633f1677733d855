// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package bus

import (
	"context"
	"sync"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

// Subscription is one consumer's view of the bus. Recv must be called from
// a single goroutine; Close may be called from any.
type Subscription struct {
	id  uint64
	bus *Bus

	mu     sync.Mutex
	ring   []core.Event
	head   int
	size   int
	lagged uint64
	closed bool

	notify    chan struct{}
	closeOnce sync.Once
}

func newSubscription(b *Bus, id uint64, capacity int) *Subscription {
	return &Subscription{
		id:     id,
		bus:    b,
		ring:   make([]core.Event, capacity),
		notify: make(chan struct{}, 1),
	}
}

func (s *Subscription) push(evt core.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.size == len(s.ring) {
		s.ring[s.head] = core.Event{}
		s.head = (s.head + 1) % len(s.ring)
		s.size--
		s.lagged++
	}
	s.ring[(s.head+s.size)%len(s.ring)] = evt
	s.size++
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recv blocks until the next event. A *LagError is returned once after
// entries were overwritten; the following call continues with the oldest
// entry still queued. ErrClosed is returned after the subscription or bus
// is closed and the queue is empty.
func (s *Subscription) Recv(ctx context.Context) (core.Event, error) {
	for {
		s.mu.Lock()
		if s.lagged > 0 {
			n := s.lagged
			s.lagged = 0
			s.mu.Unlock()
			return core.Event{}, &LagError{Skipped: n}
		}
		if s.size > 0 {
			evt := s.ring[s.head]
			s.ring[s.head] = core.Event{}
			s.head = (s.head + 1) % len(s.ring)
			s.size--
			s.mu.Unlock()
			return evt, nil
		}
		if s.closed {
			s.mu.Unlock()
			return core.Event{}, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return core.Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Pending returns the number of queued entries.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Subscription) Capacity() int {
	return len(s.ring)
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.signal()
	})
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.close()
}
