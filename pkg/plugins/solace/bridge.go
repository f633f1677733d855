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

package solace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/message"
	"solace.dev/go/messaging/pkg/solace/resource"
)

const terminateGrace = 5 * time.Second

type Bridge struct {
	name      string
	host      string
	vpn       string
	username  string
	password  string
	topicIn   string
	topicOut  string
	service   solace.MessagingService
	publisher solace.DirectMessagePublisher
	logger    *slog.Logger
}

func New(name, host, vpn, username, password, topicIn, topicOut string, logger *slog.Logger) *Bridge {
	return &Bridge{
		name:     name,
		host:     host,
		vpn:      vpn,
		username: username,
		password: password,
		topicIn:  topicIn,
		topicOut: topicOut,
		logger:   logger,
	}
}

func (b *Bridge) Name() string { return b.name }
func (b *Bridge) Type() string { return "solace" }

func (b *Bridge) Connect(ctx context.Context) error {
	var err error
	b.service, err = messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(config.ServicePropertyMap{
			config.TransportLayerPropertyHost:                b.host,
			config.ServicePropertyVPNName:                    b.vpn,
			config.AuthenticationPropertySchemeBasicUserName: b.username,
			config.AuthenticationPropertySchemeBasicPassword: b.password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err = b.service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}

	if b.topicOut != "" {
		b.publisher, err = b.service.CreateDirectMessagePublisherBuilder().Build()
		if err != nil {
			return fmt.Errorf("solace publisher build: %w", err)
		}
		if err = b.publisher.Start(); err != nil {
			return fmt.Errorf("solace publisher start: %w", err)
		}
	}

	b.logger.Info("solace bridge connected", "name", b.name, "host", b.host)
	return nil
}

func (b *Bridge) Disconnect(ctx context.Context) error {
	if b.publisher != nil {
		_ = b.publisher.Terminate(terminateGrace)
	}
	if b.service != nil {
		return b.service.Disconnect()
	}
	return nil
}

func (b *Bridge) Publish(ctx context.Context, evt core.Event) error {
	if b.publisher == nil {
		return nil
	}
	msg, err := b.service.MessageBuilder().
		WithApplicationMessageType(evt.Kind.String()).
		BuildWithByteArrayPayload(evt.Frame())
	if err != nil {
		return err
	}
	return b.publisher.Publish(msg, resource.TopicOf(b.topicOut))
}

func (b *Bridge) ConsumeCommands(ctx context.Context, ch chan<- core.Command) error {
	if b.topicIn == "" {
		<-ctx.Done()
		return nil
	}

	receiver, err := b.service.CreateDirectMessageReceiverBuilder().
		WithSubscriptions(resource.TopicSubscriptionOf(b.topicIn)).
		Build()
	if err != nil {
		return fmt.Errorf("solace receiver build: %w", err)
	}
	if err = receiver.Start(); err != nil {
		return fmt.Errorf("solace receiver start: %w", err)
	}
	defer receiver.Terminate(terminateGrace)

	err = receiver.ReceiveAsync(func(inMsg message.InboundMessage) {
		payload, ok := inMsg.GetPayloadAsBytes()
		if !ok {
			if text, ok := inMsg.GetPayloadAsString(); ok {
				payload = []byte(text)
			}
		}
		select {
		case ch <- core.NewCommand(b.name, payload):
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("solace receive: %w", err)
	}

	<-ctx.Done()
	return nil
}
