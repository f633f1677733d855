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

package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

type Options struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type Entrypoint struct {
	name     string
	path     string
	opts     Options
	upgrader websocket.Upgrader
	manager  core.SessionManager
	logger   *slog.Logger
	clients  sync.Map
}

type client struct {
	conn    *websocket.Conn
	session *core.Session
}

func New(name, path string, opts Options, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{
		name: name,
		path: path,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "websocket" }

func (e *Entrypoint) Register(mux *http.ServeMux, manager core.SessionManager) {
	e.manager = manager
	mux.HandleFunc("GET "+e.path, e.handleConnection)
	e.logger.Info("websocket entrypoint registered", "name", e.name, "path", e.path)
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	e.clients.Range(func(_, val any) bool {
		c := val.(*client)
		_ = e.manager.DestroySession(c.session.ID)
		c.conn.Close()
		return true
	})
	return nil
}

// sink writes feed frames to one connection. gorilla connections allow a
// single concurrent writer, so writes are serialized here.
type sink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *sink) Deliver(ctx context.Context, evt core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, evt.Frame())
}

func (s *sink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(5 * time.Second)
	if s.writeTimeout > 0 {
		deadline = time.Now().Add(s.writeTimeout)
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (e *Entrypoint) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Error("ws upgrade failed", "error", err)
		return
	}

	clientID := core.GenerateClientID(r)
	out := &sink{conn: conn, writeTimeout: e.opts.WriteTimeout}

	sess, err := e.manager.CreateSession(r.Context(), clientID, out)
	if err != nil {
		e.logger.Error("session creation failed", "client_id", clientID, "error", err)
		conn.Close()
		return
	}

	e.clients.Store(sess.ID, &client{conn: conn, session: sess})

	defer func() {
		conn.Close()
		e.clients.Delete(sess.ID)
		if err := e.manager.DestroySession(sess.ID); err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			e.logger.Warn("session destroy failed", "session_id", sess.ID, "error", err)
		}
		e.logger.Info("ws client disconnected", "client_id", clientID)
	}()

	e.logger.Info("ws client connected", "client_id", clientID, "session_id", sess.ID)

	// A failed delivery ends the session; closing the socket unblocks the
	// read loop below.
	go func() {
		<-sess.Done
		conn.Close()
	}()
	if e.opts.PingInterval > 0 {
		go e.pingLoop(out, sess)
	}
	e.readLoop(conn, sess)
}

func (e *Entrypoint) pingLoop(out *sink, sess *core.Session) {
	ticker := time.NewTicker(e.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Done:
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				e.logger.Debug("ws ping failed", "client_id", sess.ClientID, "error", err)
				sess.Cancel()
				return
			}
		}
	}
}

// readLoop drains client frames until the connection ends. The feed is
// one-way, so inbound text is logged and discarded.
func (e *Entrypoint) readLoop(conn *websocket.Conn, sess *core.Session) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.logger.Warn("ws read error", "client_id", sess.ClientID, "error", err)
			}
			return
		}
		e.logger.Debug("ignoring inbound ws message", "client_id", sess.ClientID, "size", len(payload))
	}
}
