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

package core

import (
	"context"
	"net/http"
)

// Sink is the external end of a subscriber session.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Deliver(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Entrypoint exposes the event feed to a class of clients over HTTP.
type Entrypoint interface {
	Name() string
	Type() string
	Register(mux *http.ServeMux, manager SessionManager)
	Stop(ctx context.Context) error
}

// Bridge mirrors bus events to a message broker and optionally reads
// device commands from it.
type Bridge interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, evt Event) error
	ConsumeCommands(ctx context.Context, ch chan<- Command) error
}

type SessionManager interface {
	CreateSession(ctx context.Context, clientID string, sink Sink) (*Session, error)
	DestroySession(sessionID string) error
}

// DeviceWriter is the write path of the device link.
type DeviceWriter interface {
	Send(ctx context.Context, payload any) error
	SendText(ctx context.Context, text string) error
	SendRaw(ctx context.Context, payload []byte) error
}

type Session struct {
	ID       string
	ClientID string
	Done     <-chan struct{}
	Cancel   func()
}
