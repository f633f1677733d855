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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/wso2/api-platform/gateway/device-relay/internal/logging"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/device-relay/config.yaml"

type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Device      DeviceConfig       `yaml:"device"`
	Bus         BusConfig          `yaml:"bus"`
	Sessions    SessionsConfig     `yaml:"sessions"`
	Palettes    PalettesConfig     `yaml:"palettes"`
	Logging     LoggingConfig      `yaml:"logging"`
	Entrypoints []EntrypointConfig `yaml:"entrypoints"`
	Bridges     []BridgeConfig     `yaml:"bridges"`
}

type ServerConfig struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

type DeviceConfig struct {
	Address       string        `yaml:"address"`
	AutoConnect   bool          `yaml:"auto_connect"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ReadChunkSize int           `yaml:"read_chunk_size"`
}

type BusConfig struct {
	Capacity int `yaml:"capacity"`
}

type SessionsConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

type PalettesConfig struct {
	Store       string `yaml:"store"`
	Dir         string `yaml:"dir"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type EntrypointConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

type BridgeConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Address: "0.0.0.0", Port: 8080},
		Device: DeviceConfig{
			DialTimeout:   5 * time.Second,
			WriteTimeout:  5 * time.Second,
			ReadChunkSize: 4096,
		},
		Bus: BusConfig{Capacity: 100},
		Sessions: SessionsConfig{
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
			PollTimeout:  30 * time.Second,
		},
		Palettes: PalettesConfig{Store: "file", Dir: "./palettes", RedisPrefix: "palette:"},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Entrypoints: []EntrypointConfig{
			{Name: "ws", Type: "websocket", Path: "/ws"},
			{Name: "events", Type: "sse", Path: "/events"},
			{Name: "poll", Type: "long_poll", Path: "/poll"},
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Device.AutoConnect && c.Device.Address == "" {
		return errors.New("invalid config: device.auto_connect requires device.address")
	}
	if c.Device.ReadChunkSize <= 0 {
		return fmt.Errorf("invalid config: device.read_chunk_size must be positive, got %d", c.Device.ReadChunkSize)
	}
	if c.Bus.Capacity <= 0 {
		return fmt.Errorf("invalid config: bus.capacity must be positive, got %d", c.Bus.Capacity)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Palettes.Store {
	case "file":
		if c.Palettes.Dir == "" {
			return errors.New("invalid config: palettes.dir is required for the file store")
		}
	case "redis":
		if c.Palettes.RedisAddr == "" {
			return errors.New("invalid config: palettes.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid config: unknown palettes.store %q", c.Palettes.Store)
	}

	names := make(map[string]bool)
	for _, e := range c.Entrypoints {
		switch e.Type {
		case "websocket", "sse", "long_poll":
		default:
			return fmt.Errorf("invalid config: entrypoint %q has unknown type %q", e.Name, e.Type)
		}
		if e.Path == "" || e.Path[0] != '/' {
			return fmt.Errorf("invalid config: entrypoint %q path must start with /", e.Name)
		}
		if names[e.Name] {
			return fmt.Errorf("invalid config: duplicate entrypoint %q", e.Name)
		}
		names[e.Name] = true
	}

	bridges := make(map[string]bool)
	for _, b := range c.Bridges {
		if b.Name == "" {
			return errors.New("invalid config: bridge name is required")
		}
		if bridges[b.Name] {
			return fmt.Errorf("invalid config: duplicate bridge %q", b.Name)
		}
		bridges[b.Name] = true
	}
	return nil
}
