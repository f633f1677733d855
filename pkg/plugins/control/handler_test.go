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

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

type mockLink struct {
	mu         sync.Mutex
	connected  bool
	target     string
	connectErr error
	writeErr   error
	sent       []string
}

func (m *mockLink) Connect(ctx context.Context, address string) (core.LinkInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		m.connected = false
		return core.LinkInfo{}, m.connectErr
	}
	m.connected = true
	m.target = address
	return core.LinkInfo{Target: address, Remote: address, ConnectedAt: time.Unix(0, 0).UTC()}, nil
}

func (m *mockLink) Disconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.connected
	m.connected = false
	return was
}

func (m *mockLink) Status() (core.LinkInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return core.LinkInfo{}, false
	}
	return core.LinkInfo{Target: m.target, Remote: m.target}, true
}

func (m *mockLink) write(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return core.ErrNotConnected
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.sent = append(m.sent, s)
	return nil
}

func (m *mockLink) Send(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.write(string(data))
}

func (m *mockLink) SendText(ctx context.Context, text string) error { return m.write(text + "\r") }
func (m *mockLink) SendRaw(ctx context.Context, p []byte) error     { return m.write(string(p)) }

type fixedCount int

func (c fixedCount) Len() int { return int(c) }

func newTestHandler(link *mockLink) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mux := http.NewServeMux()
	New(link, fixedCount(3), logger).Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestConnect(t *testing.T) {
	link := &mockLink{}
	h := newTestHandler(link)

	rec := do(t, h, http.MethodPost, "/connect", `{"socket_path":"10.0.0.5:9000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "Connected to 10.0.0.5:9000" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestConnectFailure(t *testing.T) {
	link := &mockLink{connectErr: fmt.Errorf("%w: dial tcp: connection refused", core.ErrConnectFailed)}
	h := newTestHandler(link)

	rec := do(t, h, http.MethodPost, "/connect", `{"socket_path":"127.0.0.1:1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Body.String() != "TCP connection error: dial tcp: connection refused" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestMalformedBodies(t *testing.T) {
	h := newTestHandler(&mockLink{connected: true})

	tests := []struct {
		path string
		body string
	}{
		{"/connect", `{`},
		{"/connect", `{}`},
		{"/send-command", `not json`},
		{"/send-command", `{}`},
		{"/send-text-command", `{"text_command":5}`},
		{"/send-text-command", `{}`},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, tt.path, tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", tt.path, tt.body, rec.Code)
		}
	}
}

func TestSendCommand(t *testing.T) {
	link := &mockLink{connected: true}
	h := newTestHandler(link)

	rec := do(t, h, http.MethodPost, "/send-command", `{"json_command": {"cmd": "start", "n": 1}}`)
	if rec.Code != http.StatusOK || rec.Body.String() != "TCP command sent" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if len(link.sent) != 1 || link.sent[0] != `{"cmd":"start","n":1}` {
		t.Fatalf("unexpected writes %q", link.sent)
	}
}

func TestSendTextCommand(t *testing.T) {
	link := &mockLink{connected: true}
	h := newTestHandler(link)

	rec := do(t, h, http.MethodPost, "/send-text-command", `{"text_command":"STATUS"}`)
	if rec.Code != http.StatusOK || rec.Body.String() != "Text command sent: STATUS" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if len(link.sent) != 1 || link.sent[0] != "STATUS\r" {
		t.Fatalf("unexpected writes %q", link.sent)
	}
}

func TestSendWithoutLink(t *testing.T) {
	link := &mockLink{}
	h := newTestHandler(link)

	for _, tt := range []struct{ path, body string }{
		{"/send-command", `{"json_command":{"a":1}}`},
		{"/send-text-command", `{"text_command":"X"}`},
	} {
		rec := do(t, h, http.MethodPost, tt.path, tt.body)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", tt.path, rec.Code)
		}
		if rec.Body.String() != notConnectedMessage {
			t.Fatalf("%s: unexpected body %q", tt.path, rec.Body.String())
		}
	}
}

func TestDisconnectAlwaysSucceeds(t *testing.T) {
	h := newTestHandler(&mockLink{})
	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/disconnect", "")
		if rec.Code != http.StatusOK || rec.Body.String() != "Disconnected" {
			t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
		}
	}
}

func TestStatus(t *testing.T) {
	link := &mockLink{}
	h := newTestHandler(link)

	var resp statusResponse
	rec := do(t, h, http.MethodGet, "/api/status", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Connected || resp.Subscribers != 3 {
		t.Fatalf("unexpected status %+v", resp)
	}

	do(t, h, http.MethodPost, "/connect", `{"socket_path":"dev:1"}`)
	rec = do(t, h, http.MethodGet, "/api/status", "")
	resp = statusResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Connected || resp.Target != "dev:1" {
		t.Fatalf("unexpected status %+v", resp)
	}
}
