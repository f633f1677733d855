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

package logging

import (
	"context"
	"log/slog"
)

const (
	DirectionDeviceIn  = "device_in"
	DirectionDeviceOut = "device_out"
)

// PacketLogger records device traffic. Sizes are logged at info; payload
// text only when debug is enabled.
type PacketLogger struct {
	logger *slog.Logger
}

func NewPacketLogger(logger *slog.Logger) *PacketLogger {
	return &PacketLogger{logger: logger}
}

func (p *PacketLogger) Log(direction, target string, payload []byte) {
	if p == nil {
		return
	}
	attrs := []any{
		"direction", direction,
		"target", target,
		"payload_size", len(payload),
	}
	if p.logger.Enabled(context.Background(), slog.LevelDebug) {
		attrs = append(attrs, "payload", string(payload))
		p.logger.Debug("packet", attrs...)
		return
	}
	p.logger.Info("packet", attrs...)
}
