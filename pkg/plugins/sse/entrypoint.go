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

package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

type Entrypoint struct {
	name     string
	path     string
	manager  core.SessionManager
	logger   *slog.Logger
	sessions sync.Map
}

func New(name, path string, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{name: name, path: path, logger: logger}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "sse" }

func (e *Entrypoint) Register(mux *http.ServeMux, manager core.SessionManager) {
	e.manager = manager
	mux.HandleFunc("GET "+e.path, e.handleSSE)
	e.logger.Info("sse entrypoint registered", "name", e.name, "path", e.path)
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	e.sessions.Range(func(_, val any) bool {
		sess := val.(*core.Session)
		_ = e.manager.DestroySession(sess.ID)
		return true
	})
	return nil
}

// streamSink writes each frame as one SSE data line. The relay goroutine is
// the only writer, and the handler stays blocked until the session ends.
type streamSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *streamSink) Deliver(ctx context.Context, evt core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", evt.Frame()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (e *Entrypoint) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientID := core.GenerateClientID(r)
	sess, err := e.manager.CreateSession(r.Context(), clientID, &streamSink{w: w, flusher: flusher})
	if err != nil {
		e.logger.Error("sse session creation failed", "error", err)
		return
	}

	e.sessions.Store(sess.ID, sess)
	defer func() {
		e.sessions.Delete(sess.ID)
		if err := e.manager.DestroySession(sess.ID); err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			e.logger.Warn("session destroy failed", "session_id", sess.ID, "error", err)
		}
		e.logger.Info("sse client disconnected", "client_id", clientID)
	}()

	e.logger.Info("sse client connected", "client_id", clientID, "session_id", sess.ID)

	select {
	case <-r.Context().Done():
	case <-sess.Done:
	}
	// The relay may still be inside Deliver; the response writer must not
	// be touched after this handler returns.
	sess.Cancel()
	<-sess.Done
}
