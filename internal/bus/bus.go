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

// Package bus fans device events out to a changing set of subscribers.
//
// Publish never blocks: every subscription owns a bounded queue and, once
// it is full, the oldest unread entry is overwritten and counted as lag.
// The subscriber learns about the gap on its next Recv.
package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

const DefaultCapacity = 100

var ErrClosed = errors.New("bus closed")

// LagError reports entries a subscription lost because it fell behind.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged by %d messages", e.Skipped)
}

type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	capacity int
	closed   bool
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
	}
}

// Publish queues evt on every current subscription and returns how many
// received it. With no subscribers the event is dropped.
func (b *Bus) Publish(evt core.Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	for _, s := range b.subs {
		s.push(evt)
	}
	return len(b.subs)
}

// Subscribe returns a subscription with the bus default capacity. It only
// sees events published after the call.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeWithCapacity(b.capacity)
}

func (b *Bus) SubscribeWithCapacity(capacity int) *Subscription {
	if capacity <= 0 {
		capacity = b.capacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := newSubscription(b, b.nextID, capacity)
	b.nextID++
	if b.closed {
		s.close()
		return s
	}
	b.subs[s.id] = s
	return s
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) Capacity() int {
	return b.capacity
}

// Close rejects further publishes. Subscribers drain what is queued and
// then receive ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.close()
		delete(b.subs, id)
	}
}
