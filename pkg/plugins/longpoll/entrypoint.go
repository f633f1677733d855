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

package longpoll

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

const (
	defaultPollTimeout = 30 * time.Second
	defaultQueueSize   = 100
)

type Options struct {
	PollTimeout time.Duration
	QueueSize   int
	// IdleTimeout removes subscriptions that have not polled for this long.
	// Zero means four poll timeouts.
	IdleTimeout time.Duration
}

type Entrypoint struct {
	name    string
	path    string
	opts    Options
	manager core.SessionManager
	logger  *slog.Logger
	clients sync.Map

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriber struct {
	session  *core.Session
	queue    chan core.Event
	mu       sync.Mutex
	lastPoll time.Time
}

func (s *subscriber) touch() {
	s.mu.Lock()
	s.lastPoll = time.Now()
	s.mu.Unlock()
}

func (s *subscriber) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPoll
}

// queueSink parks events until the client polls. A full queue blocks the
// relay, and the bus then drops the oldest entries for this subscriber.
type queueSink chan core.Event

func (q queueSink) Deliver(ctx context.Context, evt core.Event) error {
	select {
	case q <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func New(name, path string, opts Options, logger *slog.Logger) *Entrypoint {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 4 * opts.PollTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Entrypoint{name: name, path: path, opts: opts, logger: logger, ctx: ctx, cancel: cancel}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "long_poll" }

func (e *Entrypoint) Register(mux *http.ServeMux, manager core.SessionManager) {
	e.manager = manager
	mux.HandleFunc("POST "+e.path+"/subscribe", e.handleSubscribe)
	mux.HandleFunc("GET "+e.path, e.handlePoll)
	mux.HandleFunc("DELETE "+e.path+"/unsubscribe", e.handleUnsubscribe)
	go e.expireIdle()
	e.logger.Info("long_poll entrypoint registered", "name", e.name, "path", e.path)
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	e.cancel()
	e.clients.Range(func(key, val any) bool {
		e.clients.Delete(key)
		_ = e.manager.DestroySession(val.(*subscriber).session.ID)
		return true
	})
	return nil
}

func (e *Entrypoint) expireIdle() {
	ticker := time.NewTicker(e.opts.PollTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-e.opts.IdleTimeout)
			e.clients.Range(func(key, val any) bool {
				sub := val.(*subscriber)
				if sub.idleSince().Before(cutoff) {
					e.clients.Delete(key)
					_ = e.manager.DestroySession(sub.session.ID)
					e.logger.Info("long_poll subscription expired", "client_id", key)
				}
				return true
			})
		}
	}
}

func (e *Entrypoint) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(core.ClientIDHeader)
	if clientID == "" {
		http.Error(w, "X-Client-ID header required", http.StatusBadRequest)
		return
	}

	if val, ok := e.clients.Load(clientID); ok {
		writeJSON(w, http.StatusOK, subscribeResponse(val.(*subscriber).session))
		return
	}

	queue := make(chan core.Event, e.opts.QueueSize)
	sess, err := e.manager.CreateSession(e.ctx, clientID, queueSink(queue))
	if err != nil {
		e.logger.Error("long_poll subscribe failed", "error", err)
		http.Error(w, "subscription failed", http.StatusInternalServerError)
		return
	}

	sub := &subscriber{session: sess, queue: queue, lastPoll: time.Now()}
	if existing, loaded := e.clients.LoadOrStore(clientID, sub); loaded {
		_ = e.manager.DestroySession(sess.ID)
		writeJSON(w, http.StatusOK, subscribeResponse(existing.(*subscriber).session))
		return
	}

	e.logger.Info("long_poll client subscribed", "client_id", clientID, "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, subscribeResponse(sess))
}

func (e *Entrypoint) handlePoll(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(core.ClientIDHeader)
	val, ok := e.clients.Load(clientID)
	if !ok {
		http.Error(w, "not subscribed, call "+e.path+"/subscribe first", http.StatusNotFound)
		return
	}

	sub := val.(*subscriber)
	sub.touch()
	defer sub.touch()

	ctx, cancel := context.WithTimeout(r.Context(), e.opts.PollTimeout)
	defer cancel()

	select {
	case evt := <-sub.queue:
		if evt.IsLifecycle() {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(evt.Frame())
	case <-sub.session.Done:
		e.clients.CompareAndDelete(clientID, sub)
		http.Error(w, "session closed", http.StatusGone)
	case <-ctx.Done():
		w.WriteHeader(http.StatusNoContent)
	}
}

func (e *Entrypoint) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(core.ClientIDHeader)
	val, ok := e.clients.LoadAndDelete(clientID)
	if !ok {
		http.Error(w, "not subscribed", http.StatusNotFound)
		return
	}

	_ = e.manager.DestroySession(val.(*subscriber).session.ID)
	e.logger.Info("long_poll client unsubscribed", "client_id", clientID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func subscribeResponse(sess *core.Session) map[string]string {
	return map[string]string{"session_id": sess.ID, "client_id": sess.ClientID}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
