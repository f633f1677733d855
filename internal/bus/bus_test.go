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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

func msg(i int) core.Event {
	return core.NewMessageEvent("test", []byte(fmt.Sprintf(`{"n":%d}`, i)))
}

func recvTimeout(t *testing.T, s *Subscription) (core.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Recv(ctx)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New(4)
	if n := b.Publish(msg(1)); n != 0 {
		t.Fatalf("expected 0 receivers, got %d", n)
	}
}

func TestSubscribeSeesOnlyLaterEvents(t *testing.T) {
	b := New(4)
	b.Publish(msg(1))

	sub := b.Subscribe()
	defer sub.Close()

	if n := b.Publish(msg(2)); n != 1 {
		t.Fatalf("expected 1 receiver, got %d", n)
	}

	evt, err := recvTimeout(t, sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(evt.Payload) != `{"n":2}` {
		t.Fatalf("expected second event, got %s", evt.Payload)
	}
}

func TestLaggingSubscriberLosesOldest(t *testing.T) {
	const n, k = 20, 4
	b := New(k)
	slow := b.SubscribeWithCapacity(k)
	fast := b.SubscribeWithCapacity(n)
	defer slow.Close()
	defer fast.Close()

	for i := 1; i <= n; i++ {
		b.Publish(msg(i))
	}

	for i := 1; i <= n; i++ {
		evt, err := recvTimeout(t, fast)
		if err != nil {
			t.Fatalf("fast subscriber error at %d: %v", i, err)
		}
		if want := fmt.Sprintf(`{"n":%d}`, i); string(evt.Payload) != want {
			t.Fatalf("fast subscriber got %s, want %s", evt.Payload, want)
		}
	}

	_, err := recvTimeout(t, slow)
	var lag *LagError
	if !errors.As(err, &lag) {
		t.Fatalf("expected LagError, got %v", err)
	}
	if lag.Skipped < n-k {
		t.Fatalf("expected at least %d skipped, got %d", n-k, lag.Skipped)
	}

	for i := n - k + 1; i <= n; i++ {
		evt, err := recvTimeout(t, slow)
		if err != nil {
			t.Fatalf("slow subscriber error: %v", err)
		}
		if want := fmt.Sprintf(`{"n":%d}`, i); string(evt.Payload) != want {
			t.Fatalf("slow subscriber got %s, want %s", evt.Payload, want)
		}
	}
}

func TestRecvWaitsForPublish(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	got := make(chan core.Event, 1)
	go func() {
		evt, err := recvTimeout(t, sub)
		if err == nil {
			got <- evt
		}
		close(got)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Publish(msg(7))

	evt, ok := <-got
	if !ok {
		t.Fatal("receiver returned without an event")
	}
	if string(evt.Payload) != `{"n":7}` {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
}

func TestRecvHonoursContext(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	b.Publish(msg(1))
	b.Close()

	if n := b.Publish(msg(2)); n != 0 {
		t.Fatalf("publish after close reached %d subscribers", n)
	}

	evt, err := recvTimeout(t, sub)
	if err != nil {
		t.Fatalf("expected queued event, got %v", err)
	}
	if string(evt.Payload) != `{"n":1}` {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
	if _, err := recvTimeout(t, sub); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	late := b.Subscribe()
	if _, err := recvTimeout(t, late); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for subscription on closed bus, got %v", err)
	}
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	b := New(4)
	a := b.Subscribe()
	c := b.Subscribe()
	if b.Len() != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", b.Len())
	}
	a.Close()
	if b.Len() != 1 {
		t.Fatalf("expected 1 subscription, got %d", b.Len())
	}
	if n := b.Publish(msg(1)); n != 1 {
		t.Fatalf("expected 1 receiver, got %d", n)
	}
	if _, err := recvTimeout(t, a); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on closed subscription, got %v", err)
	}
	c.Close()
}

func TestConcurrentSubscribersKeepOrder(t *testing.T) {
	const n = 500
	b := New(n)
	var wg sync.WaitGroup
	errs := make(chan error, 8)

	for w := 0; w < 8; w++ {
		sub := b.Subscribe()
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			defer s.Close()
			for i := 1; i <= n; i++ {
				evt, err := recvTimeout(t, s)
				if err != nil {
					errs <- err
					return
				}
				if want := fmt.Sprintf(`{"n":%d}`, i); string(evt.Payload) != want {
					errs <- fmt.Errorf("got %s, want %s", evt.Payload, want)
					return
				}
			}
		}(sub)
	}

	for i := 1; i <= n; i++ {
		b.Publish(msg(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
