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
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/device-relay/internal/bus"
	"github.com/wso2/api-platform/gateway/device-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

type activeSession struct {
	session *core.Session
	cancel  context.CancelFunc
}

// Manager attaches sinks to the bus. Each session owns one subscription
// and one relay goroutine.
type Manager struct {
	sessions sync.Map
	bus      *bus.Bus
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewManager(b *bus.Bus, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		bus:     b,
		logger:  logger,
		metrics: m,
	}
}

// CreateSession subscribes sink to every event published from now on. The
// session ends when ctx is cancelled, the sink fails, or the bus closes.
func (m *Manager) CreateSession(ctx context.Context, clientID string, sink core.Sink) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessionCtx, sessionCancel := context.WithCancel(ctx)
	sessionID := uuid.New().String()
	done := make(chan struct{})

	sess := &core.Session{
		ID:       sessionID,
		ClientID: clientID,
		Done:     done,
		Cancel:   sessionCancel,
	}

	sub := m.bus.Subscribe()
	m.sessions.Store(sessionID, &activeSession{
		session: sess,
		cancel:  sessionCancel,
	})
	m.metrics.SetActiveSessions(m.ActiveCount())

	go m.relay(sessionCtx, sess, sub, sink, done)

	m.logger.Info("session created",
		"session_id", sessionID,
		"client_id", clientID,
		"subscribers", m.bus.Len(),
	)

	return sess, nil
}

func (m *Manager) relay(ctx context.Context, sess *core.Session, sub *bus.Subscription, sink core.Sink, done chan struct{}) {
	reason := "cancelled"
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("relay panic recovered", "session_id", sess.ID, "error", r)
			reason = "panic"
		}
		sub.Close()
		sess.Cancel()
		m.sessions.Delete(sess.ID)
		m.metrics.SetActiveSessions(m.ActiveCount())
		m.metrics.RecordSessionEnded(reason)
		close(done)
		m.logger.Debug("session relay stopped", "session_id", sess.ID, "reason", reason)
	}()

	for {
		evt, err := sub.Recv(ctx)
		if err != nil {
			var lag *bus.LagError
			switch {
			case errors.As(err, &lag):
				m.metrics.RecordLag(lag.Skipped)
				m.logger.Warn("subscriber lagged, events skipped",
					"session_id", sess.ID,
					"client_id", sess.ClientID,
					"skipped", lag.Skipped,
				)
				continue
			case errors.Is(err, bus.ErrClosed):
				reason = "bus_closed"
			}
			return
		}

		if err := sink.Deliver(ctx, evt); err != nil {
			if ctx.Err() == nil {
				reason = "delivery_failed"
				m.logger.Info("delivery failed, ending session",
					"session_id", sess.ID,
					"client_id", sess.ClientID,
					"error", err,
				)
			}
			return
		}
	}
}

func (m *Manager) DestroySession(sessionID string) error {
	val, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return fmt.Errorf("%w: id=%s", core.ErrSessionNotFound, sessionID)
	}

	as := val.(*activeSession)
	as.cancel()
	m.metrics.SetActiveSessions(m.ActiveCount())

	m.logger.Info("session destroyed",
		"session_id", sessionID,
		"client_id", as.session.ClientID,
	)

	return nil
}

func (m *Manager) DestroyAll() {
	m.sessions.Range(func(key, _ any) bool {
		_ = m.DestroySession(key.(string))
		return true
	})
}

func (m *Manager) ActiveCount() int {
	count := 0
	m.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func (m *Manager) SessionByClientID(clientID string) (*core.Session, bool) {
	var found *core.Session
	m.sessions.Range(func(_, val any) bool {
		as := val.(*activeSession)
		if as.session.ClientID == clientID {
			found = as.session
			return false
		}
		return true
	})
	return found, found != nil
}
