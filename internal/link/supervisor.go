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

// Package link owns the single TCP connection to the device: connect,
// disconnect, command writes and the read loop that turns the byte stream
// into bus events.
package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/device-relay/internal/bus"
	"github.com/wso2/api-platform/gateway/device-relay/internal/frame"
	"github.com/wso2/api-platform/gateway/device-relay/internal/logging"
	"github.com/wso2/api-platform/gateway/device-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

const DefaultReadChunkSize = 4096

var (
	errDisconnected = errors.New("disconnected")
	errSuperseded   = errors.New("superseded by new connection")
)

type Options struct {
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	ReadChunkSize int
}

// Supervisor holds at most one active link. Every operation on the link
// handle happens under mu; the bus has its own lock.
type Supervisor struct {
	mu     sync.Mutex
	active *handle

	bus     *bus.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
	packets *logging.PacketLogger
	opts    Options
}

type handle struct {
	conn   net.Conn
	cancel context.CancelCauseFunc
	done   chan struct{}
	info   core.LinkInfo
}

func NewSupervisor(b *bus.Bus, logger *slog.Logger, m *metrics.Metrics, opts Options) *Supervisor {
	if opts.ReadChunkSize <= 0 {
		opts.ReadChunkSize = DefaultReadChunkSize
	}
	return &Supervisor{
		bus:     b,
		logger:  logger,
		metrics: m,
		packets: logging.NewPacketLogger(logger),
		opts:    opts,
	}
}

// Connect replaces any active link with a new connection to address. On
// failure the supervisor is left disconnected.
func (s *Supervisor) Connect(ctx context.Context, address string) (core.LinkInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.teardownLocked(errSuperseded) {
		s.logger.Info("Closed previous device link before reconnecting")
	}

	dialer := net.Dialer{Timeout: s.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		s.metrics.RecordConnect(false)
		s.logger.Error("Failed to connect to device", "address", address, "error", err)
		return core.LinkInfo{}, fmt.Errorf("%w: %v", core.ErrConnectFailed, err)
	}

	info := core.LinkInfo{
		Target:      address,
		Remote:      conn.RemoteAddr().String(),
		ConnectedAt: time.Now().UTC(),
	}
	loopCtx, cancel := context.WithCancelCause(context.Background())
	h := &handle{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		info:   info,
	}
	s.active = h
	s.metrics.RecordConnect(true)
	s.metrics.SetLinkActive(true)

	go s.readLoop(loopCtx, h)

	s.logger.Info("Connected to device", "address", address, "remote", info.Remote)
	return info, nil
}

// Disconnect tears down the active link. It reports whether there was one.
func (s *Supervisor) Disconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := s.teardownLocked(errDisconnected)
	if closed {
		s.logger.Info("Disconnected from device")
	}
	return closed
}

// teardownLocked closes the active connection and waits until its read loop
// has published the link-closed event.
func (s *Supervisor) teardownLocked(cause error) bool {
	h := s.active
	if h == nil {
		return false
	}
	s.active = nil
	h.cancel(cause)
	_ = h.conn.Close()
	<-h.done
	s.metrics.SetLinkActive(false)
	return true
}

func (s *Supervisor) Status() (core.LinkInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return core.LinkInfo{}, false
	}
	return s.active.info, true
}

// Send writes payload as compact JSON. Characters such as '<' and '&' are
// written as-is.
func (s *Supervisor) Send(ctx context.Context, payload any) error {
	data, err := encodeCommand(payload)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return s.write(ctx, core.CommandKindJSON.String(), data)
}

func encodeCommand(payload any) ([]byte, error) {
	var buf bytes.Buffer
	if raw, ok := payload.(json.RawMessage); ok {
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SendText writes text terminated by a carriage return.
func (s *Supervisor) SendText(ctx context.Context, text string) error {
	return s.write(ctx, core.CommandKindText.String(), []byte(text+"\r"))
}

// SendRaw writes payload unchanged.
func (s *Supervisor) SendRaw(ctx context.Context, payload []byte) error {
	return s.write(ctx, "raw", payload)
}

func (s *Supervisor) write(ctx context.Context, kind string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.active
	if h == nil {
		s.metrics.RecordCommand(kind, core.ErrNotConnected)
		return core.ErrNotConnected
	}

	deadline := time.Time{}
	if s.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(s.opts.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := h.conn.SetWriteDeadline(deadline); err != nil {
		s.logger.Debug("Failed to set write deadline", "error", err)
	}

	if _, err := h.conn.Write(data); err != nil {
		s.metrics.RecordCommand(kind, err)
		s.logger.Error("Failed to write command to device", "kind", kind, "error", err)
		return fmt.Errorf("%w: %v", core.ErrWriteFailed, err)
	}
	s.metrics.RecordCommand(kind, nil)
	s.packets.Log(logging.DirectionDeviceOut, h.info.Target, data)
	return nil
}

// readLoop runs until the connection fails or is closed. Its exit always
// publishes the link-closed event.
func (s *Supervisor) readLoop(ctx context.Context, h *handle) {
	target := h.info.Target
	reason := "eof"

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in device read loop", "target", target, "panic", r)
			reason = "panic"
		}
		s.bus.Publish(core.NewLinkClosedEvent(target))
		s.metrics.RecordPublished()
		s.metrics.RecordLinkClosed(reason)
		close(h.done)

		s.mu.Lock()
		if s.active == h {
			s.active = nil
			_ = h.conn.Close()
			s.metrics.SetLinkActive(false)
		}
		s.mu.Unlock()
		s.logger.Info("Device link closed", "target", target, "reason", reason)
	}()

	buf := frame.NewBuffer(s.opts.ReadChunkSize)
	chunk := make([]byte, s.opts.ReadChunkSize)
	for {
		n, err := h.conn.Read(chunk)
		if n > 0 {
			s.consume(buf, target, chunk[:n])
		}
		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil:
			if errors.Is(context.Cause(ctx), errSuperseded) {
				reason = "superseded"
			} else {
				reason = "disconnect"
			}
		case errors.Is(err, io.EOF):
			reason = "eof"
		default:
			reason = "read_error"
			s.logger.Warn("Device read failed", "target", target, "error", err)
		}
		break
	}

	if pending := buf.Pending(); len(pending) > 0 {
		s.metrics.RecordTrailing(len(pending))
		s.logger.Warn("Discarding incomplete data at end of stream",
			"target", target,
			"bytes", len(pending),
			"data", strings.ToValidUTF8(string(pending), "�"))
	}
}

func (s *Supervisor) consume(buf *frame.Buffer, target string, p []byte) {
	s.metrics.RecordRead(len(p))
	s.packets.Log(logging.DirectionDeviceIn, target, p)

	res := buf.Feed(p)
	for _, d := range res.Dropped {
		s.metrics.RecordDrop(d.Length)
		s.logger.Debug("Skipped malformed bytes", "target", target, "bytes", d.Length, "reason", d.Reason)
	}
	for _, v := range res.Values {
		s.bus.Publish(core.NewMessageEvent(target, v))
		s.metrics.RecordPublished()
	}
	s.metrics.RecordFrames(len(res.Values))
}
