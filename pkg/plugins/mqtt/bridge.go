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

// Package mqtt bridges the feed to an MQTT 3.1.1 broker.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

const disconnectQuiesceMs = 250

type Bridge struct {
	name     string
	broker   string
	topicIn  string
	topicOut string
	qos      byte
	client   pahomqtt.Client
	incoming chan []byte
	logger   *slog.Logger
}

func New(name, broker, topicIn, topicOut string, qos byte, logger *slog.Logger) *Bridge {
	return &Bridge{
		name:     name,
		broker:   broker,
		topicIn:  topicIn,
		topicOut: topicOut,
		qos:      qos,
		incoming: make(chan []byte, 16),
		logger:   logger,
	}
}

func (b *Bridge) Name() string { return b.name }
func (b *Bridge) Type() string { return "mqtt" }

func (b *Bridge) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(b.broker).
		SetClientID("device-relay-" + b.name + "-" + uuid.New().String()[:8]).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.logger.Info("mqtt connected", "name", b.name, "broker", b.broker)
			b.subscribe(c)
		}).
		SetConnectionLostHandler(func(c pahomqtt.Client, err error) {
			b.logger.Warn("mqtt connection lost", "name", b.name, "error", err)
		})

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// subscribe runs on every (re)connect because a clean session drops the
// broker-side subscription.
func (b *Bridge) subscribe(c pahomqtt.Client) {
	if b.topicIn == "" {
		return
	}
	token := c.Subscribe(b.topicIn, b.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		select {
		case b.incoming <- msg.Payload():
		default:
			b.logger.Warn("mqtt command dropped, consumer busy", "name", b.name)
		}
	})
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		b.logger.Error("mqtt subscribe failed", "name", b.name, "topic", b.topicIn, "error", token.Error())
	}
}

func (b *Bridge) Disconnect(ctx context.Context) error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}

func (b *Bridge) Publish(ctx context.Context, evt core.Event) error {
	if b.topicOut == "" || b.client == nil {
		return nil
	}
	token := b.client.Publish(b.topicOut, b.qos, false, evt.Frame())
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) ConsumeCommands(ctx context.Context, ch chan<- core.Command) error {
	if b.topicIn == "" {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-b.incoming:
			select {
			case ch <- core.NewCommand(b.name, payload):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
