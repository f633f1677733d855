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

package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

type Bridge struct {
	name      string
	brokerURL string
	topicIn   string
	topicOut  string
	qos       byte
	cm        *autopaho.ConnectionManager
	logger    *slog.Logger
	router    paho.Router
	incoming  chan []byte
}

func New(name, brokerURL, topicIn, topicOut string, qos byte, logger *slog.Logger) *Bridge {
	return &Bridge{
		name:      name,
		brokerURL: brokerURL,
		topicIn:   topicIn,
		topicOut:  topicOut,
		qos:       qos,
		logger:    logger,
		router:    paho.NewStandardRouter(),
		incoming:  make(chan []byte, 16),
	}
}

func (b *Bridge) Name() string { return b.name }
func (b *Bridge) Type() string { return "mqtt5" }

func (b *Bridge) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(b.brokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	if b.topicIn != "" {
		b.router.RegisterHandler(b.topicIn, func(p *paho.Publish) {
			select {
			case b.incoming <- p.Payload:
			default:
				b.logger.Warn("mqtt5 command dropped, consumer busy", "name", b.name)
			}
		})
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			b.logger.Info("mqtt5 connection up", "name", b.name)
			if b.topicIn == "" {
				return
			}
			// Subscriptions do not survive a clean start, so renew them on
			// every connection.
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: b.topicIn, QoS: b.qos}},
			}); err != nil {
				b.logger.Error("mqtt5 subscribe failed", "name", b.name, "topic", b.topicIn, "error", err)
			}
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt5 connection attempt failed", "name", b.name, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "device-relay-" + b.name + "-" + uuid.New().String()[:8],
			Router:   b.router,
		},
	}

	b.cm, err = autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}

	if err := b.cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt5 await connection: %w", err)
	}

	b.logger.Info("mqtt5 bridge connected", "name", b.name, "broker", b.brokerURL)
	return nil
}

func (b *Bridge) Disconnect(ctx context.Context) error {
	if b.cm != nil {
		return b.cm.Disconnect(ctx)
	}
	return nil
}

func (b *Bridge) Publish(ctx context.Context, evt core.Event) error {
	if b.topicOut == "" || b.cm == nil {
		return nil
	}
	_, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   b.topicOut,
		QoS:     b.qos,
		Payload: evt.Frame(),
		Properties: &paho.PublishProperties{
			User: paho.UserProperties{{Key: "kind", Value: evt.Kind.String()}},
		},
	})
	return err
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
