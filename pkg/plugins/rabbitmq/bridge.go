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

package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

type Bridge struct {
	name     string
	url      string
	queueIn  string
	queueOut string
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	logger   *slog.Logger

	mu        sync.Mutex
	consumeCh *amqp.Channel
}

func New(name, url, queueIn, queueOut string, logger *slog.Logger) *Bridge {
	return &Bridge{
		name:     name,
		url:      url,
		queueIn:  queueIn,
		queueOut: queueOut,
		logger:   logger,
	}
}

func (b *Bridge) Name() string { return b.name }
func (b *Bridge) Type() string { return "rabbitmq" }

func (b *Bridge) Connect(ctx context.Context) error {
	var err error
	b.conn, err = amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	b.pubCh, err = b.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq publish channel: %w", err)
	}

	for _, q := range []string{b.queueIn, b.queueOut} {
		if q != "" {
			if _, err := b.pubCh.QueueDeclare(q, true, false, false, false, nil); err != nil {
				return fmt.Errorf("rabbitmq queue declare %s: %w", q, err)
			}
		}
	}

	b.logger.Info("rabbitmq bridge connected", "name", b.name, "queue_in", b.queueIn, "queue_out", b.queueOut)
	return nil
}

func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.consumeCh != nil {
		b.consumeCh.Close()
		b.consumeCh = nil
	}
	b.mu.Unlock()
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *Bridge) Publish(ctx context.Context, evt core.Event) error {
	if b.queueOut == "" || b.pubCh == nil {
		return nil
	}
	contentType := "application/json"
	if evt.IsLifecycle() {
		contentType = "text/plain"
	}
	return b.pubCh.PublishWithContext(ctx,
		"",
		b.queueOut,
		false,
		false,
		amqp.Publishing{
			ContentType: contentType,
			Type:        evt.Kind.String(),
			AppId:       evt.Source,
			Body:        evt.Frame(),
			Timestamp:   evt.Timestamp,
		},
	)
}

func (b *Bridge) ConsumeCommands(ctx context.Context, ch chan<- core.Command) error {
	if b.queueIn == "" {
		<-ctx.Done()
		return nil
	}

	consumerCh, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq consumer channel: %w", err)
	}

	if err := consumerCh.Qos(1, 0, false); err != nil {
		consumerCh.Close()
		return fmt.Errorf("rabbitmq qos: %w", err)
	}

	deliveries, err := consumerCh.Consume(
		b.queueIn,
		"device-relay-"+b.name,
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		consumerCh.Close()
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	b.mu.Lock()
	b.consumeCh = consumerCh
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.consumeCh == consumerCh {
			b.consumeCh = nil
		}
		b.mu.Unlock()
		consumerCh.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			select {
			case ch <- core.NewCommand(b.name, d.Body):
				if err := d.Ack(false); err != nil {
					b.logger.Warn("rabbitmq ack failed", "name", b.name, "error", err)
				}
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}
