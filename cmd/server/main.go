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

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/wso2/api-platform/gateway/device-relay/internal/bus"
	"github.com/wso2/api-platform/gateway/device-relay/internal/link"
	"github.com/wso2/api-platform/gateway/device-relay/internal/logging"
	"github.com/wso2/api-platform/gateway/device-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/device-relay/internal/server"
	"github.com/wso2/api-platform/gateway/device-relay/internal/session"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/config"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/palette"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/control"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/jms"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/kafka"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/longpoll"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/mqtt"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/mqtt5"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/palettes"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/rabbitmq"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/solace"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/sse"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/plugins/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config file (overrides CONFIG_PATH)")
	showVersion := pflag.BoolP("version", "v", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(server.Version)
		return
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = config.DefaultPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", path, err)
		os.Exit(1)
	}

	logger, level, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, path, logger, level); err != nil {
		logger.Error("device relay failed", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, path string, logger *slog.Logger, level *slog.LevelVar) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	eventBus := bus.New(cfg.Bus.Capacity)

	sup := link.NewSupervisor(eventBus, logger.With("component", "link"), m, link.Options{
		DialTimeout:   cfg.Device.DialTimeout,
		WriteTimeout:  cfg.Device.WriteTimeout,
		ReadChunkSize: cfg.Device.ReadChunkSize,
	})
	mgr := session.NewManager(eventBus, logger.With("component", "session"), m)

	store, storeCloser, err := openPaletteStore(cfg.Palettes)
	if err != nil {
		return err
	}
	defer storeCloser.Close()

	cache := palette.NewCache(store, logger.With("component", "palette"))
	n, err := cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("load palettes: %w", err)
	}
	logger.Info("palettes loaded", "store", cfg.Palettes.Store, "count", n)

	registry := plugins.NewRegistry(logger, m)
	registerEntrypoints(cfg, registry, logger)
	registerBridges(cfg, registry, logger)

	if healthy := registry.ConnectBridges(ctx); healthy < len(registry.Bridges()) {
		logger.Warn("some bridges failed to connect", "healthy", healthy, "configured", len(registry.Bridges()))
	}

	srv, err := server.New(cfg.Server.ListenAddr(), cfg.Server.StaticDir, logger.With("component", "http"), m)
	if err != nil {
		return err
	}
	registry.MountEntrypoints(srv.Mux(), mgr)
	control.New(sup, eventBus, logger.With("component", "control")).Register(srv.Mux())
	palettes.New(cache, logger.With("component", "palettes")).Register(srv.Mux())

	if err := registry.StartBridges(ctx, mgr, sup); err != nil {
		return fmt.Errorf("start bridges: %w", err)
	}

	if err := srv.Start(); err != nil {
		return err
	}

	if cfg.Device.AutoConnect {
		connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Device.DialTimeout)
		if info, err := sup.Connect(connectCtx, cfg.Device.Address); err != nil {
			logger.Warn("auto connect failed", "address", cfg.Device.Address, "error", err)
		} else {
			logger.Info("auto connected", "target", info.Target, "remote", info.Remote)
		}
		connectCancel()
	}

	watcher := config.NewWatcher(path, level, logger)
	go watcher.Watch(ctx)

	logger.Info("device relay started", "config", path, "address", cfg.Server.ListenAddr(), "version", server.Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down device relay")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
	mgr.DestroyAll()
	registry.StopAll(shutdownCtx)
	sup.Disconnect()
	eventBus.Close()

	logger.Info("device relay stopped")
	return nil
}

func openPaletteStore(cfg config.PalettesConfig) (palette.Store, io.Closer, error) {
	switch cfg.Store {
	case "redis":
		s, err := palette.NewRedisStore(cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis palette store: %w", err)
		}
		return s, s, nil
	default:
		s, err := palette.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open palette dir: %w", err)
		}
		return s, closerFunc(func() error { return nil }), nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func registerEntrypoints(cfg *config.Config, reg *plugins.Registry, logger *slog.Logger) {
	for _, e := range cfg.Entrypoints {
		l := logger.With("entrypoint", e.Name)
		switch e.Type {
		case "websocket":
			reg.RegisterEntrypoint(ws.New(e.Name, e.Path, ws.Options{
				WriteTimeout: cfg.Sessions.WriteTimeout,
				PingInterval: cfg.Sessions.PingInterval,
			}, l))
		case "sse":
			reg.RegisterEntrypoint(sse.New(e.Name, e.Path, l))
		case "long_poll":
			reg.RegisterEntrypoint(longpoll.New(e.Name, e.Path, longpoll.Options{
				PollTimeout: cfg.Sessions.PollTimeout,
				QueueSize:   cfg.Bus.Capacity,
			}, l))
		default:
			logger.Warn("unknown entrypoint type", "name", e.Name, "type", e.Type)
		}
	}
}

func registerBridges(cfg *config.Config, reg *plugins.Registry, logger *slog.Logger) {
	for _, b := range cfg.Bridges {
		bridge, err := newBridge(b, logger.With("bridge", b.Name))
		if err != nil {
			logger.Warn("skipping bridge", "name", b.Name, "type", b.Type, "error", err)
			continue
		}
		reg.RegisterBridge(bridge)
	}
}

func newBridge(b config.BridgeConfig, logger *slog.Logger) (core.Bridge, error) {
	c := b.Config
	switch b.Type {
	case "kafka":
		brokers := strings.Split(c["brokers"], ",")
		return kafka.New(b.Name, brokers, c["topic_in"], c["topic_out"], c["group_id"], logger), nil
	case "rabbitmq":
		return rabbitmq.New(b.Name, c["url"], c["queue_in"], c["queue_out"], logger), nil
	case "mqtt5":
		qos, err := parseQoS(c["qos"])
		if err != nil {
			return nil, err
		}
		return mqtt5.New(b.Name, c["broker_url"], c["topic_in"], c["topic_out"], qos, logger), nil
	case "mqtt":
		qos, err := parseQoS(c["qos"])
		if err != nil {
			return nil, err
		}
		return mqtt.New(b.Name, c["broker"], c["topic_in"], c["topic_out"], qos, logger), nil
	case "jms":
		return jms.New(b.Name, c["url"], c["queue_in"], c["queue_out"], logger), nil
	case "solace":
		return solace.New(b.Name, c["host"], c["vpn"], c["username"], c["password"], c["topic_in"], c["topic_out"], logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownBridge, b.Type)
	}
}

func parseQoS(s string) (byte, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n > 2 {
		return 0, fmt.Errorf("invalid qos %q", s)
	}
	return byte(n), nil
}
