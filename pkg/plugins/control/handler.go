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

// Package control serves the HTTP operations that drive the device link.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

const maxBody = 1 << 20

const notConnectedMessage = "Not connected to any TCP socket."

// Link is the device connection as seen by the control handlers.
type Link interface {
	core.DeviceWriter
	Connect(ctx context.Context, address string) (core.LinkInfo, error)
	Disconnect() bool
	Status() (core.LinkInfo, bool)
}

// SubscriberCounter reports how many feed subscriptions are attached.
type SubscriberCounter interface {
	Len() int
}

type Handler struct {
	link        Link
	subscribers SubscriberCounter
	logger      *slog.Logger
}

func New(link Link, subscribers SubscriberCounter, logger *slog.Logger) *Handler {
	return &Handler{link: link, subscribers: subscribers, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /connect", h.handleConnect)
	mux.HandleFunc("POST /disconnect", h.handleDisconnect)
	mux.HandleFunc("POST /send-command", h.handleSendCommand)
	mux.HandleFunc("POST /send-text-command", h.handleSendTextCommand)
	mux.HandleFunc("GET /api/status", h.handleStatus)
}

type connectRequest struct {
	SocketPath string `json:"socket_path"`
}

type commandRequest struct {
	JSONCommand json.RawMessage `json:"json_command"`
}

type textCommandRequest struct {
	TextCommand *string `json:"text_command"`
}

type statusResponse struct {
	Connected   bool       `json:"connected"`
	Target      string     `json:"target,omitempty"`
	Remote      string     `json:"remote,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Subscribers int        `json:"subscribers"`
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SocketPath) == "" {
		http.Error(w, "socket_path is required", http.StatusBadRequest)
		return
	}

	info, err := h.link.Connect(r.Context(), req.SocketPath)
	if err != nil {
		cause := strings.TrimPrefix(err.Error(), core.ErrConnectFailed.Error()+": ")
		writeText(w, http.StatusInternalServerError, "TCP connection error: "+cause)
		return
	}
	writeText(w, http.StatusOK, "Connected to "+info.Target)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.link.Disconnect()
	writeText(w, http.StatusOK, "Disconnected")
}

func (h *Handler) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.JSONCommand) == 0 {
		http.Error(w, "json_command is required", http.StatusBadRequest)
		return
	}

	if err := h.link.Send(r.Context(), req.JSONCommand); err != nil {
		h.writeSendError(w, err)
		return
	}
	writeText(w, http.StatusOK, "TCP command sent")
}

func (h *Handler) handleSendTextCommand(w http.ResponseWriter, r *http.Request) {
	var req textCommandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TextCommand == nil {
		http.Error(w, "text_command is required", http.StatusBadRequest)
		return
	}

	if err := h.link.SendText(r.Context(), *req.TextCommand); err != nil {
		h.writeSendError(w, err)
		return
	}
	writeText(w, http.StatusOK, "Text command sent: "+*req.TextCommand)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Subscribers: h.subscribers.Len()}
	if info, ok := h.link.Status(); ok {
		resp.Connected = true
		resp.Target = info.Target
		resp.Remote = info.Remote
		at := info.ConnectedAt
		resp.ConnectedAt = &at
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeSendError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotConnected) {
		writeText(w, http.StatusInternalServerError, notConnectedMessage)
		return
	}
	h.logger.Error("command send failed", "error", err)
	writeText(w, http.StatusInternalServerError, fmt.Sprintf("Failed to send command: %v", err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
