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

package plugins

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/wso2/api-platform/gateway/device-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

const commandBuffer = 16

type Registry struct {
	entrypoints map[string]core.Entrypoint
	bridges     map[string]core.Bridge
	healthy     map[string]bool
	logger      *slog.Logger
	metrics     *metrics.Metrics
	mu          sync.RWMutex
}

func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		entrypoints: make(map[string]core.Entrypoint),
		bridges:     make(map[string]core.Bridge),
		healthy:     make(map[string]bool),
		logger:      logger,
		metrics:     m,
	}
}

func (r *Registry) RegisterEntrypoint(e core.Entrypoint) {
	r.mu.Lock()
	r.entrypoints[e.Name()] = e
	r.mu.Unlock()
	r.logger.Info("registered entrypoint", "name", e.Name(), "type", e.Type())
}

func (r *Registry) RegisterBridge(b core.Bridge) {
	r.mu.Lock()
	r.bridges[b.Name()] = b
	r.mu.Unlock()
	r.logger.Info("registered bridge", "name", b.Name(), "type", b.Type())
}

func (r *Registry) Entrypoints() map[string]core.Entrypoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Entrypoint, len(r.entrypoints))
	for k, v := range r.entrypoints {
		cp[k] = v
	}
	return cp
}

func (r *Registry) Bridges() map[string]core.Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Bridge, len(r.bridges))
	for k, v := range r.bridges {
		cp[k] = v
	}
	return cp
}

// ConnectBridges connects every bridge. A failure marks the bridge unhealthy
// and leaves the rest of the relay running.
func (r *Registry) ConnectBridges(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	connected := 0
	for name, b := range r.bridges {
		if err := b.Connect(ctx); err != nil {
			r.logger.Error("bridge connect failed", "name", name, "error", err)
			r.healthy[name] = false
		} else {
			r.healthy[name] = true
			connected++
		}
	}
	return connected
}

func (r *Registry) IsBridgeHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[name]
}

func (r *Registry) MountEntrypoints(mux *http.ServeMux, manager core.SessionManager) {
	for _, ep := range r.Entrypoints() {
		ep.Register(mux, manager)
	}
}

// StartBridges attaches a feed session to every healthy bridge and forwards
// commands read from the broker to the device.
func (r *Registry) StartBridges(ctx context.Context, manager core.SessionManager, device core.DeviceWriter) error {
	for name, b := range r.Bridges() {
		if !r.IsBridgeHealthy(name) {
			r.logger.Warn("skipping unhealthy bridge", "name", name)
			continue
		}

		if _, err := manager.CreateSession(ctx, "bridge:"+name, r.bridgeSink(b)); err != nil {
			return err
		}

		commands := make(chan core.Command, commandBuffer)
		go r.consume(ctx, b, commands)
		go r.forward(ctx, name, commands, device)
	}
	return nil
}

// bridgeSink never fails delivery: a broker outage must not detach the
// bridge from the feed, so errors are logged and counted.
func (r *Registry) bridgeSink(b core.Bridge) core.Sink {
	return core.SinkFunc(func(ctx context.Context, evt core.Event) error {
		err := b.Publish(ctx, evt)
		r.metrics.RecordBridgePublish(b.Name(), err)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("bridge publish failed", "name", b.Name(), "error", err)
		}
		return nil
	})
}

func (r *Registry) consume(ctx context.Context, b core.Bridge, commands chan<- core.Command) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("bridge consumer panic recovered", "name", b.Name(), "error", rec)
		}
	}()
	if err := b.ConsumeCommands(ctx, commands); err != nil && ctx.Err() == nil {
		r.logger.Error("bridge command consumer stopped", "name", b.Name(), "error", err)
	}
}

func (r *Registry) forward(ctx context.Context, name string, commands <-chan core.Command, device core.DeviceWriter) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			var err error
			switch cmd.Kind {
			case core.CommandKindJSON:
				err = device.SendRaw(ctx, cmd.Payload)
			default:
				err = device.SendText(ctx, strings.TrimRight(string(cmd.Payload), "\r\n"))
			}
			switch {
			case err == nil:
				r.logger.Debug("bridge command sent", "name", name, "kind", cmd.Kind.String())
			case errors.Is(err, core.ErrNotConnected):
				r.logger.Warn("bridge command dropped, device not connected", "name", name)
			default:
				r.logger.Error("bridge command failed", "name", name, "error", err)
			}
		}
	}
}

func (r *Registry) StopAll(ctx context.Context) {
	for name, ep := range r.Entrypoints() {
		r.logger.Info("stopping entrypoint", "name", name)
		if err := ep.Stop(ctx); err != nil {
			r.logger.Warn("entrypoint stop failed", "name", name, "error", err)
		}
	}
	for name, b := range r.Bridges() {
		r.logger.Info("stopping bridge", "name", name)
		if err := b.Disconnect(ctx); err != nil {
			r.logger.Warn("bridge disconnect failed", "name", name, "error", err)
		}
	}
}
