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

package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `
server:
  port: 9090
device:
  address: "192.168.1.20:5000"
  auto_connect: true
  dial_timeout: 2s
bus:
  capacity: 32
palettes:
  store: redis
  redis_addr: "localhost:6379"
logging:
  level: debug
entrypoints:
  - name: ws
    type: websocket
    path: /feed
bridges:
  - name: kafka-main
    type: kafka
    config:
      brokers: "localhost:9092"
      topic_out: device.events
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr() != "0.0.0.0:9090" {
		t.Fatalf("expected 0.0.0.0:9090, got %s", cfg.Server.ListenAddr())
	}
	if cfg.Device.DialTimeout != 2*time.Second {
		t.Fatalf("expected 2s dial timeout, got %s", cfg.Device.DialTimeout)
	}
	if cfg.Device.WriteTimeout != 5*time.Second {
		t.Fatalf("expected default write timeout to survive, got %s", cfg.Device.WriteTimeout)
	}
	if cfg.Bus.Capacity != 32 {
		t.Fatalf("expected capacity 32, got %d", cfg.Bus.Capacity)
	}
	if len(cfg.Entrypoints) != 1 || cfg.Entrypoints[0].Path != "/feed" {
		t.Fatalf("unexpected entrypoints %+v", cfg.Entrypoints)
	}
	if len(cfg.Bridges) != 1 || cfg.Bridges[0].Config["topic_out"] != "device.events" {
		t.Fatalf("unexpected bridges %+v", cfg.Bridges)
	}
}

func TestLoadFileNotFoundUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Bus.Capacity != 100 || len(cfg.Entrypoints) != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "server: [\n"},
		{"port", "server:\n  port: 70000\n"},
		{"auto connect without address", "device:\n  auto_connect: true\n"},
		{"capacity", "bus:\n  capacity: 0\n"},
		{"store", "palettes:\n  store: s3\n"},
		{"redis without addr", "palettes:\n  store: redis\n"},
		{"level", "logging:\n  level: loud\n"},
		{"entrypoint type", "entrypoints:\n  - {name: x, type: grpc, path: /x}\n"},
		{"entrypoint path", "entrypoints:\n  - {name: x, type: sse, path: x}\n"},
		{"duplicate bridge", "bridges:\n  - {name: a, type: kafka}\n  - {name: a, type: mqtt}\n"},
	}
	for _, tt := range tests {
		if _, err := Load(writeConfig(t, tt.content)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestWatcherAppliesLogLevel(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWatcher(path, level, logger)

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	w.check()
	if level.Level() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", level.Level())
	}
}
