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

package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/device-relay/internal/bus"
	"github.com/wso2/api-platform/gateway/device-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

type mockSink struct {
	mu        sync.Mutex
	frames    []string
	failAfter int
	got       chan struct{}
	block     chan struct{}
}

func newMockSink() *mockSink {
	return &mockSink{got: make(chan struct{}, 256), failAfter: -1}
}

func (s *mockSink) Deliver(ctx context.Context, evt core.Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	if s.failAfter >= 0 && len(s.frames) >= s.failAfter {
		s.mu.Unlock()
		return errors.New("client gone")
	}
	s.frames = append(s.frames, string(evt.Frame()))
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *mockSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func newTestManager() (*Manager, *bus.Bus) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	b := bus.New(4)
	return NewManager(b, logger, metrics.New()), b
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d signals", i, n)
		}
	}
}

func waitDone(t *testing.T, sess *core.Session) {
	t.Helper()
	select {
	case <-sess.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestCreateSessionRelaysEvents(t *testing.T) {
	mgr, b := newTestManager()
	sink := newMockSink()

	sess, err := mgr.CreateSession(context.Background(), "client-1", sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ClientID != "client-1" {
		t.Fatalf("expected client-1, got %s", sess.ClientID)
	}
	if mgr.ActiveCount() != 1 {
		t.Fatalf("expected 1 active session, got %d", mgr.ActiveCount())
	}

	b.Publish(core.NewMessageEvent("dev", []byte(`{"a":1}`)))
	b.Publish(core.NewLinkClosedEvent("dev"))
	waitFor(t, sink.got, 2)

	got := sink.snapshot()
	if got[0] != `{"a":1}` || got[1] != core.LinkClosedSentinel {
		t.Fatalf("unexpected frames %v", got)
	}

	if err := mgr.DestroySession(sess.ID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	waitDone(t, sess)
	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected 0 active sessions after destroy, got %d", mgr.ActiveCount())
	}
	if b.Len() != 0 {
		t.Fatalf("expected subscription released, bus has %d", b.Len())
	}
}

func TestDeliveryFailureEndsSession(t *testing.T) {
	mgr, b := newTestManager()
	sink := newMockSink()
	sink.failAfter = 1

	sess, err := mgr.CreateSession(context.Background(), "client-1", sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.Publish(core.NewMessageEvent("dev", []byte(`1`)))
	b.Publish(core.NewMessageEvent("dev", []byte(`2`)))
	waitDone(t, sess)

	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected session removed, got %d", mgr.ActiveCount())
	}
	if b.Len() != 0 {
		t.Fatalf("expected subscription released, bus has %d", b.Len())
	}
	if got := sink.snapshot(); len(got) != 1 || got[0] != "1" {
		t.Fatalf("unexpected frames %v", got)
	}
}

func TestLagDoesNotEndSession(t *testing.T) {
	mgr, b := newTestManager()
	sink := newMockSink()
	sink.block = make(chan struct{})

	sess, err := mgr.CreateSession(context.Background(), "slow", sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The relay holds event 0 in Deliver while the queue of 4 overflows.
	b.Publish(core.NewMessageEvent("dev", []byte("0")))
	time.Sleep(20 * time.Millisecond)
	for i := 1; i <= 10; i++ {
		b.Publish(core.NewMessageEvent("dev", []byte(strconv.Itoa(i))))
	}
	close(sink.block)
	waitFor(t, sink.got, 5)

	got := sink.snapshot()
	want := []string{"0", "7", "8", "9", "10"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	select {
	case <-sess.Done:
		t.Fatal("lag must not end the session")
	default:
	}
	mgr.DestroyAll()
}

func TestBusCloseEndsSession(t *testing.T) {
	mgr, b := newTestManager()
	sess, err := mgr.CreateSession(context.Background(), "client-1", newMockSink())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Close()
	waitDone(t, sess)
}

func TestCreateSessionCancelledContext(t *testing.T) {
	mgr, _ := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mgr.CreateSession(ctx, "client-1", newMockSink()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDestroyNonexistentSession(t *testing.T) {
	mgr, _ := newTestManager()

	err := mgr.DestroySession("nonexistent")
	if !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDestroyAll(t *testing.T) {
	mgr, b := newTestManager()

	var sessions []*core.Session
	for i := 0; i < 5; i++ {
		sess, err := mgr.CreateSession(context.Background(), "client", newMockSink())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sessions = append(sessions, sess)
	}

	mgr.DestroyAll()
	for _, sess := range sessions {
		waitDone(t, sess)
	}
	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected 0 sessions, got %d", mgr.ActiveCount())
	}
	if b.Len() != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", b.Len())
	}
}

func TestSessionByClientID(t *testing.T) {
	mgr, _ := newTestManager()
	defer mgr.DestroyAll()

	sess, err := mgr.CreateSession(context.Background(), "poller-7", newMockSink())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, ok := mgr.SessionByClientID("poller-7")
	if !ok || found.ID != sess.ID {
		t.Fatalf("expected session %s, got %v", sess.ID, found)
	}
	if _, ok := mgr.SessionByClientID("unknown"); ok {
		t.Fatal("expected no session for unknown client")
	}
}
