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
	"bytes"
	"encoding/json"
	"time"
)

// LinkClosedSentinel is the feed frame sent when the device connection ends.
const LinkClosedSentinel = "TCP_CONNECTION_CLOSED_OR_STREAM_ENDED"

type EventKind int

const (
	EventKindMessage EventKind = iota
	EventKindLinkClosed
)

func (k EventKind) String() string {
	switch k {
	case EventKindMessage:
		return "message"
	case EventKindLinkClosed:
		return "link_closed"
	default:
		return "unknown"
	}
}

// Event is one entry on the broadcast bus. Payload holds a compact JSON
// value for messages and is empty for lifecycle events.
type Event struct {
	Kind      EventKind `json:"kind"`
	Payload   []byte    `json:"payload"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessageEvent(source string, payload []byte) Event {
	return Event{
		Kind:      EventKindMessage,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

func NewLinkClosedEvent(source string) Event {
	return Event{
		Kind:      EventKindLinkClosed,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

func (e Event) IsLifecycle() bool {
	return e.Kind == EventKindLinkClosed
}

// Frame returns the text sent to feed clients for this event.
func (e Event) Frame() []byte {
	if e.Kind == EventKindLinkClosed {
		return []byte(LinkClosedSentinel)
	}
	return e.Payload
}

type CommandKind int

const (
	CommandKindJSON CommandKind = iota
	CommandKindText
)

func (k CommandKind) String() string {
	if k == CommandKindText {
		return "text"
	}
	return "json"
}

// Command is an outbound write to the device received from a bridge.
type Command struct {
	Kind    CommandKind
	Payload []byte
	Source  string
}

// LinkInfo describes the active device connection.
type LinkInfo struct {
	Target      string    `json:"target"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewCommand classifies a payload received from a broker. Valid JSON is
// compacted and sent as-is; anything else is sent as a text command.
func NewCommand(source string, payload []byte) Command {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return Command{Kind: CommandKindJSON, Payload: buf.Bytes(), Source: source}
		}
	}
	return Command{Kind: CommandKindText, Payload: payload, Source: source}
}
